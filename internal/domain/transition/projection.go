package transition

import "github.com/mwhitney-dev/caseflow/internal/domain/entity"

// Review states surfaced in the projection.
const (
	ReviewStateNone            = "none"
	ReviewStatePendingApproval = "pending_approval"
)

// Projection is the flattened, read-optimized summary of a case used for
// notification payloads and idempotent-replay responses.
type Projection struct {
	CaseID       int64  `json:"case_id"`
	Status       string `json:"status"`
	Substatus    string `json:"substatus,omitempty"`
	ReviewState  string `json:"review_state"`
	PortalStatus string `json:"portal_status,omitempty"`
}

// Project flattens a snapshot into its projection. Pure.
func Project(s *Snapshot) *Projection {
	p := &Projection{
		CaseID:      s.Case.ID,
		Status:      s.Case.Status,
		Substatus:   s.Case.Substatus,
		ReviewState: ReviewStateNone,
	}
	if s.PendingProposal() != nil {
		p.ReviewState = ReviewStatePendingApproval
	}
	if s.ActivePortalTask != nil {
		p.PortalStatus = s.ActivePortalTask.Status
	} else if s.Case.LastPortalStatus != "" {
		p.PortalStatus = s.Case.LastPortalStatus
	}
	return p
}

// ReadyForNextAction reports whether the projected status should trigger a
// reactive dispatch so the change self-propagates without a polling scheduler.
func (p *Projection) ReadyForNextAction() bool {
	return p.Status == entity.CaseStatusResponded
}
