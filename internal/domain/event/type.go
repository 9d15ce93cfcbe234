package event

// Type identifies a transition trigger. The enumeration is closed: the
// reducer treats anything outside this set as a no-op.
type Type string

const (
	TypeCaseCreated      Type = "CASE_CREATED"
	TypeMessageSent      Type = "MESSAGE_SENT"
	TypeMessageReceived  Type = "MESSAGE_RECEIVED"
	TypeFollowupDue      Type = "FOLLOWUP_DUE"
	TypePortalStarted    Type = "PORTAL_STARTED"
	TypePortalCompleted  Type = "PORTAL_COMPLETED"
	TypePortalFailed     Type = "PORTAL_FAILED"
	TypePortalTimedOut   Type = "PORTAL_TIMED_OUT"
	TypeHumanDecision    Type = "HUMAN_DECISION"
	TypeStuckRunDetected Type = "STUCK_RUN_DETECTED"
	TypeAgentWakeup      Type = "AGENT_WAKEUP"
)

// String returns the string representation of the event type.
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants.
func (t Type) IsValid() bool {
	switch t {
	case TypeCaseCreated,
		TypeMessageSent,
		TypeMessageReceived,
		TypeFollowupDue,
		TypePortalStarted,
		TypePortalCompleted,
		TypePortalFailed,
		TypePortalTimedOut,
		TypeHumanDecision,
		TypeStuckRunDetected,
		TypeAgentWakeup:
		return true
	default:
		return false
	}
}

// IsPortal reports whether the event belongs to the portal-related subset.
// The side-effect dispatcher publishes an extra portal notification for these.
func (t Type) IsPortal() bool {
	switch t {
	case TypePortalStarted, TypePortalCompleted, TypePortalFailed, TypePortalTimedOut:
		return true
	default:
		return false
	}
}
