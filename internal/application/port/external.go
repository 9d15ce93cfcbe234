package port

import (
	"context"

	"github.com/mwhitney-dev/caseflow/internal/domain/transition"
)

// NextActionDecision is the structured output of the text-generation
// collaborator: what to do next for a case, with drafted content when the
// action calls for it.
type NextActionDecision struct {
	ActionType   string   `json:"action_type"`
	DraftSubject string   `json:"draft_subject,omitempty"`
	DraftBody    string   `json:"draft_body,omitempty"`
	Reasoning    string   `json:"reasoning,omitempty"`
	Confidence   float64  `json:"confidence"`
	RiskFlags    []string `json:"risk_flags,omitempty"`
}

// CaseBrief is the context handed to the decision collaborator. Deliberately
// flat: the collaborator is a black box and gets no handle on storage.
type CaseBrief struct {
	CaseID        int64  `json:"case_id"`
	CaseName      string `json:"case_name"`
	Status        string `json:"status"`
	Substatus     string `json:"substatus,omitempty"`
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageID string `json:"last_message_id,omitempty"`
	FollowupCount int    `json:"followup_count"`
	PortalURL     string `json:"portal_url,omitempty"`
}

// DecisionCollaborator is the external natural-language collaborator that
// proposes the next action for a case.
type DecisionCollaborator interface {
	ProposeNextAction(ctx context.Context, brief CaseBrief) (*NextActionDecision, error)
}

// OperatorNotifier pushes review and escalation notices to the ops channel.
type OperatorNotifier interface {
	NotifyPendingProposal(ctx context.Context, caseID int64, proposalID int64, actionType, summary string) error
	NotifyEscalation(ctx context.Context, caseID int64, reason string) error
}

// LiveUpdatePublisher pushes case projections to connected observers.
// Implementations must be non-blocking; a slow consumer never holds up the
// transition path.
type LiveUpdatePublisher interface {
	PublishProjection(caseID int64, projection *transition.Projection)
	PublishPortalUpdate(caseID int64, projection *transition.Projection)
}

// ExternalSync triggers third-party system synchronization for a case.
type ExternalSync interface {
	SyncCase(ctx context.Context, caseID int64) error
}
