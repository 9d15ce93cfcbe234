package entity

import "time"

// AgentRun is one attempt by the automated decision process to act on a case.
// At most one run per case may be in a non-terminal status at a time; a newer
// run supersedes the losers, which are marked failed with reason "superseded".
type AgentRun struct {
	ID            int64      `json:"id"`
	CaseID        int64      `json:"case_id"`
	Status        string     `json:"status"`
	Trigger       string     `json:"trigger"`
	ProposalID    *int64     `json:"proposal_id,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ActiveRunStatuses are the non-terminal AgentRun statuses. The snapshot
// loader and the bulk cancel mutation both filter on exactly this set.
var ActiveRunStatuses = []string{
	RunStatusCreated,
	RunStatusQueued,
	RunStatusRunning,
	RunStatusPaused,
	RunStatusWaiting,
}

// IsTerminal reports whether the run can no longer change status.
func (r *AgentRun) IsTerminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusSkippedLocked:
		return true
	}
	return false
}
