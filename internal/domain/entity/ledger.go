package entity

import "time"

// LedgerEntry is one immutable record of a transition applied to a case.
// Entries are append-only; a given non-empty idempotency token appears at most
// once per case, and looking it up is the basis of idempotent replay.
type LedgerEntry struct {
	ID               int64     `json:"id"`
	CaseID           int64     `json:"case_id"`
	Event            string    `json:"event"`
	IdempotencyToken string    `json:"idempotency_token,omitempty"`
	Context          string    `json:"context"`
	Mutations        string    `json:"mutations"`
	Projection       string    `json:"projection"`
	CreatedAt        time.Time `json:"created_at"`
}
