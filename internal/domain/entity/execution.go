package entity

import "time"

// Execution records one side-effecting action actually taken for a proposal,
// keyed by a unique execution key. Creation with an existing key is a no-op
// (claim-once semantics).
type Execution struct {
	ID           int64     `json:"id"`
	CaseID       int64     `json:"case_id"`
	ProposalID   int64     `json:"proposal_id"`
	ExecutionKey string    `json:"execution_key"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	ErrorDetail  string    `json:"error_detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
