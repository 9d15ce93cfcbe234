package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Proposal is a candidate next action for a case awaiting approval or
// auto-execution. The proposal key is a pure function of the situation that
// produced it, so re-deriving it after a crash or retry lands on the same row.
type Proposal struct {
	ID            int64      `json:"id"`
	CaseID        int64      `json:"case_id"`
	ProposalKey   string     `json:"proposal_key"`
	ActionType    string     `json:"action_type"`
	Status        string     `json:"status"`
	DraftSubject  string     `json:"draft_subject,omitempty"`
	DraftBody     string     `json:"draft_body,omitempty"`
	Reasoning     string     `json:"reasoning,omitempty"`
	Confidence    float64    `json:"confidence"`
	RiskFlags     string     `json:"risk_flags,omitempty"`
	HumanDecision string     `json:"human_decision,omitempty"`
	DismissReason string     `json:"dismiss_reason,omitempty"`
	ExecutionKey  string     `json:"execution_key,omitempty"`
	SourceMessage string     `json:"source_message,omitempty"`
	RetryOrdinal  int        `json:"retry_ordinal"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ActiveProposalStatuses are the statuses a proposal can hold while it still
// awaits a decision.
var ActiveProposalStatuses = []string{
	ProposalStatusDraft,
	ProposalStatusPendingApproval,
}

// IsMutable reports whether the idempotency layer may still rewrite the
// proposal's content. PENDING_APPROVAL is the only status open to that path.
func (p *Proposal) IsMutable() bool {
	return p.Status == ProposalStatusPendingApproval
}

// DeriveProposalKey computes the deterministic key for a proposal from the
// situation that produced it. Reproducible across process restarts: no state
// beyond the inputs.
func DeriveProposalKey(caseID int64, messageID, actionType string, retryOrdinal int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%d", caseID, messageID, actionType, retryOrdinal)))
	return "prop_" + hex.EncodeToString(sum[:])[:16]
}
