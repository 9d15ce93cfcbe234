package transition

import (
	"fmt"
	"time"

	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"github.com/mwhitney-dev/caseflow/internal/domain/event"
)

// Reducer computes the mutation set for a transition. It is a pure value: no
// I/O, no clocks, no randomness. Given the same snapshot, event, context and
// timestamp it always produces the same output, which is what makes dry runs
// and real runs safe to compare.
type Reducer struct {
	// FollowupInterval is the gap between scheduled reminders.
	FollowupInterval time.Duration
	// MaxFollowups caps how many reminders a case gets before it needs a human.
	MaxFollowups int
}

// NewReducer builds a reducer with the given follow-up policy. Zero values
// fall back to a weekly cadence with five attempts.
func NewReducer(interval time.Duration, maxFollowups int) Reducer {
	if interval <= 0 {
		interval = 7 * 24 * time.Hour
	}
	if maxFollowups <= 0 {
		maxFollowups = 5
	}
	return Reducer{FollowupInterval: interval, MaxFollowups: maxFollowups}
}

// Reduce maps (snapshot, event, context) to the changes that should happen.
// Events that do not apply to the case's current state produce an empty set;
// the engine records those in the ledger all the same.
func (r Reducer) Reduce(snap *Snapshot, evt event.Type, ctx event.Context, at time.Time) *MutationSet {
	switch evt {
	case event.TypeCaseCreated:
		return r.reduceCaseCreated(snap)
	case event.TypeMessageSent:
		return r.reduceMessageSent(snap, ctx, at)
	case event.TypeMessageReceived:
		return r.reduceMessageReceived(snap, ctx)
	case event.TypeFollowupDue:
		return r.reduceFollowupDue(snap, at)
	case event.TypePortalStarted:
		return r.reducePortalStarted(snap, ctx)
	case event.TypePortalCompleted:
		return r.reducePortalCompleted(snap, ctx, at)
	case event.TypePortalFailed:
		return r.reducePortalTerminal(snap, ctx, entity.PortalTaskStatusFailed, "Portal submission failed")
	case event.TypePortalTimedOut:
		return r.reducePortalTerminal(snap, ctx, entity.PortalTaskStatusCancelled, "Portal submission timed out")
	case event.TypeHumanDecision:
		return r.reduceHumanDecision(snap, ctx)
	case event.TypeStuckRunDetected:
		return r.reduceStuckRun(snap)
	case event.TypeAgentWakeup:
		return r.reduceAgentWakeup(snap)
	default:
		return &MutationSet{}
	}
}

func (r Reducer) reduceCaseCreated(snap *Snapshot) *MutationSet {
	if snap.Case.Status != entity.CaseStatusDraft {
		return &MutationSet{}
	}
	return &MutationSet{
		Case:      &CaseUpdate{Substatus: strPtr("Intake received")},
		CreateRun: &RunCreate{Trigger: entity.RunTriggerIntake, Status: entity.RunStatusCreated},
	}
}

func (r Reducer) reduceMessageSent(snap *Snapshot, ctx event.Context, at time.Time) *MutationSet {
	switch snap.Case.Status {
	case entity.CaseStatusDraft, entity.CaseStatusResponded, entity.CaseStatusUnderReview:
	default:
		return &MutationSet{}
	}

	substatus := ctx.GetString("summary")
	if substatus == "" {
		substatus = "Request sent to agency"
	}

	ms := &MutationSet{
		Case: &CaseUpdate{
			Status:    strPtr(entity.CaseStatusSent),
			Substatus: strPtr(substatus),
			MarkSent:  true,
		},
		UpsertFollowup: &FollowupUpsert{
			NextDate: at.Add(r.FollowupInterval),
			AutoSend: true,
			MaxCount: r.MaxFollowups,
		},
	}
	if snap.ActiveRun != nil {
		ms.UpdateRun = &RunUpdate{
			RunID:        snap.ActiveRun.ID,
			Status:       entity.RunStatusCompleted,
			MarkFinished: true,
		}
	}
	return ms
}

func (r Reducer) reduceMessageReceived(snap *Snapshot, ctx event.Context) *MutationSet {
	intent := ctx.GetString("intent")

	update := &CaseUpdate{Status: strPtr(entity.CaseStatusResponded)}
	switch intent {
	case "fulfillment":
		update.Status = strPtr(entity.CaseStatusCompleted)
		update.MarkCompleted = true
		update.Substatus = strPtr("Records received")
	case "denial":
		update.Substatus = strPtr("Denial received")
	case "fee_quote":
		update.Substatus = strPtr("Fee quote received")
		if cents := ctx.GetInt("fee_cents"); cents > 0 {
			update.FeeQuoteCents = &cents
			update.FeeQuoteStatus = strPtr("quoted")
		}
	case "clarification":
		update.Substatus = strPtr("Clarification requested by agency")
	case "acknowledgment":
		update.Substatus = strPtr("Acknowledgment received")
	default:
		update.Substatus = strPtr("Response received")
	}

	return &MutationSet{
		Case:       update,
		CancelRuns: &RunCancellation{Reason: entity.RunFailureSuperseded},
		DismissProposals: &ProposalDismissal{
			Reason: "superseded by new correspondence",
		},
		UpdateFollowups: &FollowupBulkStatus{
			ToStatus:     entity.FollowupStatusCancelled,
			FromStatuses: []string{entity.FollowupStatusScheduled},
		},
	}
}

func (r Reducer) reduceFollowupDue(snap *Snapshot, at time.Time) *MutationSet {
	if snap.Case.Status != entity.CaseStatusSent && snap.Case.Status != entity.CaseStatusAwaitingResponse {
		return &MutationSet{}
	}
	sched := snap.ActiveFollowup
	if sched == nil || sched.Status != entity.FollowupStatusScheduled {
		return &MutationSet{}
	}

	if sched.Count+1 >= sched.MaxCount {
		return &MutationSet{
			Case: &CaseUpdate{
				Status:    strPtr(entity.CaseStatusUnderReview),
				Substatus: strPtr("Follow-up limit reached"),
			},
			UpdateFollowup: &FollowupUpdate{
				Status:         strPtr(entity.FollowupStatusMaxReached),
				IncrementCount: true,
			},
		}
	}

	next := at.Add(r.FollowupInterval)
	ms := &MutationSet{
		Case: &CaseUpdate{
			Status:    strPtr(entity.CaseStatusAwaitingResponse),
			Substatus: strPtr(fmt.Sprintf("Follow-up %d due", sched.Count+1)),
		},
		UpdateFollowup: &FollowupUpdate{
			NextDate:       &next,
			IncrementCount: true,
		},
	}
	if sched.AutoSend && snap.ActiveRun == nil {
		ms.CreateRun = &RunCreate{Trigger: entity.RunTriggerFollowup, Status: entity.RunStatusCreated}
	}
	return ms
}

func (r Reducer) reducePortalStarted(snap *Snapshot, ctx event.Context) *MutationSet {
	if snap.Case.IsTerminal() {
		return &MutationSet{}
	}
	portalURL := ctx.GetString("portal_url")
	provider := ctx.GetString("provider")

	update := &CaseUpdate{
		Status:           strPtr(entity.CaseStatusPortalInProgress),
		Substatus:        strPtr("Portal submission in progress"),
		LastPortalStatus: strPtr("Submission started"),
	}
	if portalURL != "" {
		update.PortalURL = &portalURL
	}
	return &MutationSet{
		Case: update,
		CreatePortalTask: &PortalTaskCreate{
			Status:    entity.PortalTaskStatusInProgress,
			PortalURL: portalURL,
			Provider:  provider,
		},
	}
}

func (r Reducer) reducePortalCompleted(snap *Snapshot, ctx event.Context, at time.Time) *MutationSet {
	if snap.Case.Status != entity.CaseStatusPortalInProgress {
		return &MutationSet{}
	}
	portalStatus := ctx.GetString("portal_status")
	if portalStatus == "" {
		portalStatus = "Submitted via portal"
	}

	ms := &MutationSet{
		Case: &CaseUpdate{
			Status:           strPtr(entity.CaseStatusSent),
			Substatus:        strPtr("Portal submission confirmed"),
			LastPortalStatus: strPtr(portalStatus),
			MarkSent:         true,
		},
		DismissProposals: &ProposalDismissal{
			Reason:     "portal submission completed",
			ActionType: entity.ActionPortalSubmit,
		},
		UpsertFollowup: &FollowupUpsert{
			NextDate: at.Add(r.FollowupInterval),
			AutoSend: true,
			MaxCount: r.MaxFollowups,
		},
	}
	if snap.ActivePortalTask != nil {
		ms.UpdatePortalTask = &PortalTaskUpdate{
			Status:       entity.PortalTaskStatusCompleted,
			ResultDetail: ctx.GetString("detail"),
			MarkFinished: true,
		}
	}
	return ms
}

// reducePortalTerminal handles both failure and timeout. The portal URL is
// cleared and the last portal status stamped so operators see why the
// submission never landed.
func (r Reducer) reducePortalTerminal(snap *Snapshot, ctx event.Context, taskStatus, fallback string) *MutationSet {
	if snap.Case.IsTerminal() {
		return &MutationSet{}
	}
	reason := ctx.GetString("reason")
	if reason == "" {
		reason = fallback
	}

	ms := &MutationSet{
		Case: &CaseUpdate{
			Status:           strPtr(entity.CaseStatusUnderReview),
			Substatus:        strPtr(reason),
			PortalURL:        strPtr(""),
			LastPortalStatus: strPtr(reason),
		},
		DismissProposals: &ProposalDismissal{
			Reason:     "portal attempt ended",
			ActionType: entity.ActionPortalSubmit,
		},
		CancelRuns: &RunCancellation{Reason: entity.RunFailureSuperseded},
	}
	if snap.ActivePortalTask != nil {
		ms.UpdatePortalTask = &PortalTaskUpdate{
			Status:       taskStatus,
			ResultDetail: reason,
			MarkFinished: true,
		}
	} else {
		ms.CancelPortalTasks = true
	}
	return ms
}

func (r Reducer) reduceHumanDecision(snap *Snapshot, ctx event.Context) *MutationSet {
	proposalID := ctx.GetInt("proposal_id")
	decision := ctx.GetString("decision")

	var target *entity.Proposal
	for _, p := range snap.ActiveProposals {
		if p.ID == proposalID {
			target = p
			break
		}
	}
	if target == nil || target.Status != entity.ProposalStatusPendingApproval {
		return &MutationSet{}
	}

	record := map[string]interface{}{
		"decision": decision,
		"reviewer": ctx.GetString("reviewer"),
	}
	if note := ctx.GetString("note"); note != "" {
		record["note"] = note
	}

	var status string
	switch decision {
	case "approved":
		status = entity.ProposalStatusApproved
	case "dismissed":
		status = entity.ProposalStatusDismissed
	default:
		return &MutationSet{}
	}

	ms := &MutationSet{
		UpdateProposal: &ProposalUpdate{
			ProposalID:    proposalID,
			Status:        &status,
			HumanDecision: record,
			MarkDecided:   true,
		},
	}
	if ctx.GetBool("escalate") {
		ms.Case = &CaseUpdate{
			Status:    strPtr(entity.CaseStatusUnderReview),
			Substatus: strPtr("Escalated for manual handling"),
		}
	}
	return ms
}

func (r Reducer) reduceStuckRun(snap *Snapshot) *MutationSet {
	if snap.ActiveRun == nil {
		return &MutationSet{}
	}
	return &MutationSet{
		Case: &CaseUpdate{
			Status:    strPtr(entity.CaseStatusUnderReview),
			Substatus: strPtr("Automation stalled"),
		},
		UpdateRun: &RunUpdate{
			RunID:         snap.ActiveRun.ID,
			Status:        entity.RunStatusFailed,
			FailureReason: entity.RunFailureStuck,
			MarkFinished:  true,
		},
		DismissProposals: &ProposalDismissal{Reason: "automation stalled"},
	}
}

func (r Reducer) reduceAgentWakeup(snap *Snapshot) *MutationSet {
	if snap.Case.Status != entity.CaseStatusResponded {
		return &MutationSet{}
	}
	ms := &MutationSet{
		Case: &CaseUpdate{
			Status:    strPtr(entity.CaseStatusUnderReview),
			Substatus: strPtr("Automated review in progress"),
		},
		CreateRun: &RunCreate{Trigger: entity.RunTriggerReactive, Status: entity.RunStatusCreated},
	}
	if snap.ActiveRun != nil {
		ms.CancelRuns = &RunCancellation{Reason: entity.RunFailureSuperseded}
	}
	return ms
}
