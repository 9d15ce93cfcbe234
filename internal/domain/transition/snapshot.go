package transition

import (
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
)

// Snapshot is the consistent, as-of-one-transaction view of a case and its
// related active entities. The loader fills it with the same active-status
// filters the invariants define; the reducer never sees anything terminal.
type Snapshot struct {
	Case             *entity.Case
	ActiveRun        *entity.AgentRun
	ActiveProposals  []*entity.Proposal
	ActivePortalTask *entity.PortalTask
	ActiveFollowup   *entity.FollowupSchedule
}

// PendingProposal returns the proposal currently awaiting approval, if any.
func (s *Snapshot) PendingProposal() *entity.Proposal {
	for _, p := range s.ActiveProposals {
		if p.Status == entity.ProposalStatusPendingApproval {
			return p
		}
	}
	return nil
}

// Overlay returns a copy of the snapshot with the mutation set's case-level
// and proposal-level effects applied in memory. Pure; used to compute the
// post-transition projection without a second read.
func (s *Snapshot) Overlay(ms *MutationSet) *Snapshot {
	out := &Snapshot{
		ActiveRun:        s.ActiveRun,
		ActivePortalTask: s.ActivePortalTask,
		ActiveFollowup:   s.ActiveFollowup,
	}

	c := *s.Case
	if ms.Case != nil {
		u := ms.Case
		if u.Status != nil {
			c.Status = *u.Status
		}
		if u.Substatus != nil {
			c.Substatus = TruncateSubstatus(*u.Substatus)
		}
		if u.PortalURL != nil {
			c.PortalURL = *u.PortalURL
		}
		if u.LastPortalStatus != nil {
			c.LastPortalStatus = *u.LastPortalStatus
		}
		if u.FeeQuoteCents != nil {
			c.FeeQuoteCents = *u.FeeQuoteCents
		}
		if u.FeeQuoteStatus != nil {
			c.FeeQuoteStatus = *u.FeeQuoteStatus
		}
	}
	out.Case = &c

	if ms.DismissProposals != nil {
		for _, p := range s.ActiveProposals {
			if ms.DismissProposals.ActionType != "" && p.ActionType != ms.DismissProposals.ActionType {
				out.ActiveProposals = append(out.ActiveProposals, p)
			}
		}
	} else if ms.UpdateProposal != nil && ms.UpdateProposal.Status != nil {
		for _, p := range s.ActiveProposals {
			if p.ID == ms.UpdateProposal.ProposalID {
				q := *p
				q.Status = *ms.UpdateProposal.Status
				if q.Status == entity.ProposalStatusDraft || q.Status == entity.ProposalStatusPendingApproval {
					out.ActiveProposals = append(out.ActiveProposals, &q)
				}
				continue
			}
			out.ActiveProposals = append(out.ActiveProposals, p)
		}
	} else {
		out.ActiveProposals = s.ActiveProposals
	}

	if ms.CancelPortalTasks {
		out.ActivePortalTask = nil
	}
	if ms.UpdatePortalTask != nil && s.ActivePortalTask != nil && ms.UpdatePortalTask.Status != "" {
		t := *s.ActivePortalTask
		t.Status = ms.UpdatePortalTask.Status
		switch t.Status {
		case entity.PortalTaskStatusPending, entity.PortalTaskStatusInProgress:
			out.ActivePortalTask = &t
		default:
			out.ActivePortalTask = nil
		}
	}
	if ms.CreatePortalTask != nil {
		out.ActivePortalTask = &entity.PortalTask{
			CaseID:    c.ID,
			Status:    ms.CreatePortalTask.Status,
			PortalURL: ms.CreatePortalTask.PortalURL,
			Provider:  ms.CreatePortalTask.Provider,
		}
	}

	return out
}
