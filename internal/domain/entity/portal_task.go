package entity

import "time"

// PortalTask tracks one attempt to submit or check an external agency portal
// through the browser-automation collaborator. At most one task per case may
// be active (PENDING or IN_PROGRESS).
type PortalTask struct {
	ID           int64      `json:"id"`
	CaseID       int64      `json:"case_id"`
	Status       string     `json:"status"`
	PortalURL    string     `json:"portal_url,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	ResultDetail string     `json:"result_detail,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ActivePortalTaskStatuses define "active" for the one-active-task invariant.
var ActivePortalTaskStatuses = []string{
	PortalTaskStatusPending,
	PortalTaskStatusInProgress,
}
