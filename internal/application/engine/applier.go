package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"github.com/mwhitney-dev/caseflow/internal/domain/transition"
)

// applyMutations turns the reducer's mutation set into writes inside the
// current transaction. Order matters: run cancellations land before the run
// created in the same transition so the new run is never its own casualty,
// and portal-task cancellation precedes portal-task creation for the same
// reason. Every bulk change is one set-based statement.
func (e *Engine) applyMutations(ctx context.Context, snap *transition.Snapshot, ms *transition.MutationSet, at time.Time) error {
	if ms.CancelRuns != nil {
		if _, err := e.runs.CancelActiveExcept(ctx, snap.Case.ID, ms.CancelRuns.ExceptRunID, ms.CancelRuns.Reason); err != nil {
			return fmt.Errorf("failed to cancel runs: %w", err)
		}
	}

	if ms.UpdateRun != nil {
		u := ms.UpdateRun
		if err := e.runs.UpdateStatus(ctx, u.RunID, u.Status, u.FailureReason, u.MarkFinished); err != nil {
			return fmt.Errorf("failed to update run %d: %w", u.RunID, err)
		}
	}

	if ms.CreateRun != nil {
		run := &entity.AgentRun{
			CaseID:  snap.Case.ID,
			Status:  ms.CreateRun.Status,
			Trigger: ms.CreateRun.Trigger,
		}
		if err := e.runs.Create(ctx, run); err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}
	}

	if ms.Case != nil {
		fields := caseFields(ms.Case, at)
		if len(fields) > 0 {
			if err := e.cases.UpdateFields(ctx, snap.Case.ID, fields); err != nil {
				return fmt.Errorf("failed to update case: %w", err)
			}
		}
	}

	if ms.UpdateProposal != nil {
		u := ms.UpdateProposal
		status := ""
		if u.Status != nil {
			status = *u.Status
		}
		if err := e.proposals.UpdateDecision(ctx, u.ProposalID, status, u.HumanDecision, u.MarkDecided); err != nil {
			return fmt.Errorf("failed to update proposal %d: %w", u.ProposalID, err)
		}
	}

	if ms.DismissProposals != nil {
		d := ms.DismissProposals
		if _, err := e.proposals.DismissActive(ctx, snap.Case.ID, d.Reason, d.ActionType); err != nil {
			return fmt.Errorf("failed to dismiss proposals: %w", err)
		}
	}

	if ms.CancelPortalTasks {
		if _, err := e.portalTasks.CancelActive(ctx, snap.Case.ID); err != nil {
			return fmt.Errorf("failed to cancel portal tasks: %w", err)
		}
	}

	if ms.UpdatePortalTask != nil && snap.ActivePortalTask != nil {
		u := ms.UpdatePortalTask
		if err := e.portalTasks.UpdateStatus(ctx, snap.ActivePortalTask.ID, u.Status, u.ResultDetail, u.MarkFinished); err != nil {
			return fmt.Errorf("failed to update portal task %d: %w", snap.ActivePortalTask.ID, err)
		}
	}

	if ms.CreatePortalTask != nil {
		// One active task per case: retire any survivors first.
		if _, err := e.portalTasks.CancelActive(ctx, snap.Case.ID); err != nil {
			return fmt.Errorf("failed to cancel prior portal tasks: %w", err)
		}
		task := &entity.PortalTask{
			CaseID:    snap.Case.ID,
			Status:    ms.CreatePortalTask.Status,
			PortalURL: ms.CreatePortalTask.PortalURL,
			Provider:  ms.CreatePortalTask.Provider,
		}
		if err := e.portalTasks.Create(ctx, task); err != nil {
			return fmt.Errorf("failed to create portal task: %w", err)
		}
	}

	if ms.UpsertFollowup != nil {
		u := ms.UpsertFollowup
		if err := e.followups.Upsert(ctx, snap.Case.ID, u.NextDate, u.AutoSend, u.MaxCount); err != nil {
			return fmt.Errorf("failed to upsert followup: %w", err)
		}
	}

	if ms.UpdateFollowup != nil {
		u := ms.UpdateFollowup
		if err := e.followups.Advance(ctx, snap.Case.ID, u.Status, u.NextDate, u.IncrementCount); err != nil {
			return fmt.Errorf("failed to advance followup: %w", err)
		}
	}

	if ms.UpdateFollowups != nil {
		u := ms.UpdateFollowups
		if _, err := e.followups.BulkUpdateStatus(ctx, snap.Case.ID, u.ToStatus, u.FromStatuses); err != nil {
			return fmt.Errorf("failed to bulk-update followups: %w", err)
		}
	}

	return nil
}

// caseFields flattens a sparse case update into repository column values.
func caseFields(u *transition.CaseUpdate, at time.Time) map[string]interface{} {
	fields := make(map[string]interface{})
	if u.Status != nil {
		fields["status"] = *u.Status
	}
	if u.Substatus != nil {
		fields["substatus"] = transition.TruncateSubstatus(*u.Substatus)
	}
	if u.PortalURL != nil {
		fields["portal_url"] = *u.PortalURL
	}
	if u.LastPortalStatus != nil {
		fields["last_portal_status"] = *u.LastPortalStatus
	}
	if u.FeeQuoteCents != nil {
		fields["fee_quote_cents"] = *u.FeeQuoteCents
	}
	if u.FeeQuoteStatus != nil {
		fields["fee_quote_status"] = *u.FeeQuoteStatus
	}
	if u.MarkSent {
		fields["sent_at"] = at
	}
	if u.MarkCompleted {
		fields["completed_at"] = at
	}
	return fields
}
