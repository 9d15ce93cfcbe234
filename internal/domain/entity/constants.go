package entity

// Status constants for Case
const (
	CaseStatusDraft            = "draft"
	CaseStatusSent             = "sent"
	CaseStatusAwaitingResponse = "awaiting_response"
	CaseStatusResponded        = "responded"
	CaseStatusUnderReview      = "under_review"
	CaseStatusPortalInProgress = "portal_in_progress"
	CaseStatusCompleted        = "completed"
	CaseStatusClosed           = "closed"
)

// Status constants for AgentRun
const (
	RunStatusCreated       = "created"
	RunStatusQueued        = "queued"
	RunStatusRunning       = "running"
	RunStatusPaused        = "paused"
	RunStatusWaiting       = "waiting"
	RunStatusCompleted     = "completed"
	RunStatusFailed        = "failed"
	RunStatusSkippedLocked = "skipped_locked"
)

// Failure reasons recorded on AgentRun
const (
	RunFailureSuperseded = "superseded"
	RunFailureStuck      = "stuck"
)

// Trigger types for AgentRun
const (
	RunTriggerIntake   = "intake"
	RunTriggerFollowup = "followup"
	RunTriggerReactive = "reactive"
	RunTriggerManual   = "manual"
)

// Status constants for Proposal
const (
	ProposalStatusDraft           = "DRAFT"
	ProposalStatusPendingApproval = "PENDING_APPROVAL"
	ProposalStatusApproved        = "APPROVED"
	ProposalStatusExecuted        = "EXECUTED"
	ProposalStatusDismissed       = "DISMISSED"
	ProposalStatusBlocked         = "BLOCKED"
)

// Action types for Proposal
const (
	ActionSendFollowUp      = "send_follow_up"
	ActionSendClarification = "send_clarification"
	ActionPortalSubmit      = "portal_submit"
	ActionEscalateToHuman   = "escalate_to_human"
	ActionCloseCase         = "close_case"
)

// Status constants for PortalTask
const (
	PortalTaskStatusPending    = "PENDING"
	PortalTaskStatusInProgress = "IN_PROGRESS"
	PortalTaskStatusCompleted  = "COMPLETED"
	PortalTaskStatusFailed     = "FAILED"
	PortalTaskStatusCancelled  = "CANCELLED"
)

// Status constants for FollowupSchedule
const (
	FollowupStatusScheduled  = "scheduled"
	FollowupStatusSent       = "sent"
	FollowupStatusCancelled  = "cancelled"
	FollowupStatusMaxReached = "max_reached"
)

// Status constants for Execution
const (
	ExecutionStatusSent   = "SENT"
	ExecutionStatusFailed = "FAILED"
)

// ActionRequiresDraft reports whether an action type cannot be sent for human
// approval without generated draft content.
func ActionRequiresDraft(action string) bool {
	return action == ActionSendFollowUp || action == ActionSendClarification
}
