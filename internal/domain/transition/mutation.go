package transition

import "time"

// MaxSubstatusLen bounds the substatus text stored on a case. A display-layer
// safety bound, not a business rule; callers must not rely on it elsewhere.
const MaxSubstatusLen = 120

// TruncateSubstatus clips substatus text to MaxSubstatusLen runes.
func TruncateSubstatus(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxSubstatusLen {
		return s
	}
	return string(runes[:MaxSubstatusLen])
}

// MutationSet is the reducer's pure output: a sparse, typed description of
// per-entity changes. Nil fields mean "leave that entity alone". The applier
// translates each populated field into set-based writes inside the
// transaction; the full set is also serialized into the ledger entry.
type MutationSet struct {
	Case              *CaseUpdate         `json:"case,omitempty"`
	CreateRun         *RunCreate          `json:"create_run,omitempty"`
	UpdateRun         *RunUpdate          `json:"update_run,omitempty"`
	CancelRuns        *RunCancellation    `json:"cancel_runs,omitempty"`
	UpdateProposal    *ProposalUpdate     `json:"update_proposal,omitempty"`
	DismissProposals  *ProposalDismissal  `json:"dismiss_proposals,omitempty"`
	CreatePortalTask  *PortalTaskCreate   `json:"create_portal_task,omitempty"`
	UpdatePortalTask  *PortalTaskUpdate   `json:"update_portal_task,omitempty"`
	CancelPortalTasks bool                `json:"cancel_portal_tasks,omitempty"`
	UpsertFollowup    *FollowupUpsert     `json:"upsert_followup,omitempty"`
	UpdateFollowup    *FollowupUpdate     `json:"update_followup,omitempty"`
	UpdateFollowups   *FollowupBulkStatus `json:"update_followups,omitempty"`
}

// IsEmpty reports whether the set describes no changes at all.
func (m *MutationSet) IsEmpty() bool {
	return m.Case == nil &&
		m.CreateRun == nil &&
		m.UpdateRun == nil &&
		m.CancelRuns == nil &&
		m.UpdateProposal == nil &&
		m.DismissProposals == nil &&
		m.CreatePortalTask == nil &&
		m.UpdatePortalTask == nil &&
		!m.CancelPortalTasks &&
		m.UpsertFollowup == nil &&
		m.UpdateFollowup == nil &&
		m.UpdateFollowups == nil
}

// CaseUpdate is a sparse field-level update on the case row. Pointer fields
// distinguish "leave as is" (nil) from "set to zero value" (pointer to "").
type CaseUpdate struct {
	Status           *string `json:"status,omitempty"`
	Substatus        *string `json:"substatus,omitempty"`
	PortalURL        *string `json:"portal_url,omitempty"`
	LastPortalStatus *string `json:"last_portal_status,omitempty"`
	FeeQuoteCents    *int64  `json:"fee_quote_cents,omitempty"`
	FeeQuoteStatus   *string `json:"fee_quote_status,omitempty"`
	MarkSent         bool    `json:"mark_sent,omitempty"`
	MarkCompleted    bool    `json:"mark_completed,omitempty"`
}

// RunCreate describes a new agent run.
type RunCreate struct {
	Trigger string `json:"trigger"`
	Status  string `json:"status"`
}

// RunUpdate targets one agent run by id.
type RunUpdate struct {
	RunID         int64  `json:"run_id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	MarkFinished  bool   `json:"mark_finished,omitempty"`
}

// RunCancellation marks every active run as failed/superseded, optionally
// sparing one survivor. Expressed as a single set-based update, never a
// per-row loop.
type RunCancellation struct {
	ExceptRunID *int64 `json:"except_run_id,omitempty"`
	Reason      string `json:"reason"`
}

// ProposalUpdate targets one proposal by id. HumanDecision is merged into the
// stored decision record additively, never replacing fields set earlier.
type ProposalUpdate struct {
	ProposalID    int64                  `json:"proposal_id"`
	Status        *string                `json:"status,omitempty"`
	HumanDecision map[string]interface{} `json:"human_decision,omitempty"`
	MarkDecided   bool                   `json:"mark_decided,omitempty"`
}

// ProposalDismissal dismisses every active proposal for the case, optionally
// filtered to one action type.
type ProposalDismissal struct {
	Reason     string `json:"reason"`
	ActionType string `json:"action_type,omitempty"`
}

// PortalTaskCreate describes a new portal task. The applier cancels other
// active tasks in the same statement batch so the one-active-task invariant
// holds within the transaction.
type PortalTaskCreate struct {
	Status    string `json:"status"`
	PortalURL string `json:"portal_url,omitempty"`
	Provider  string `json:"provider,omitempty"`
}

// PortalTaskUpdate targets the case's active portal task.
type PortalTaskUpdate struct {
	Status       string `json:"status"`
	ResultDetail string `json:"result_detail,omitempty"`
	MarkFinished bool   `json:"mark_finished,omitempty"`
}

// FollowupUpsert creates the case's follow-up schedule or resets the existing
// active one to the given date.
type FollowupUpsert struct {
	NextDate time.Time `json:"next_date"`
	AutoSend bool      `json:"auto_send"`
	MaxCount int       `json:"max_count"`
}

// FollowupUpdate advances or closes the active schedule.
type FollowupUpdate struct {
	Status         *string    `json:"status,omitempty"`
	NextDate       *time.Time `json:"next_date,omitempty"`
	IncrementCount bool       `json:"increment_count,omitempty"`
}

// FollowupBulkStatus moves every schedule for the case to one status,
// optionally restricted to a list of prior statuses.
type FollowupBulkStatus struct {
	ToStatus     string   `json:"to_status"`
	FromStatuses []string `json:"from_statuses,omitempty"`
}

func strPtr(s string) *string { return &s }
