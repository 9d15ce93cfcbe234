package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/dispatcher"
	"github.com/mwhitney-dev/caseflow/internal/application/engine"
	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"github.com/mwhitney-dev/caseflow/internal/domain/event"
)

// Transitioner is the slice of the engine the services drive.
type Transitioner interface {
	Transition(ctx context.Context, evt *event.Event) (*engine.Result, error)
	DryRun(ctx context.Context, evt *event.Event) (*engine.Result, error)
}

// DecisionService runs the proposal pipeline: brief the collaborator, persist
// its decision through the idempotency layer, and put the outcome in front of
// an operator. It also reacts to committed transitions so cases that become
// ready move forward without a polling scheduler.
type DecisionService struct {
	cases        port.CaseRepository
	followups    port.FollowupRepository
	proposals    *ProposalService
	collaborator port.DecisionCollaborator
	notifier     port.OperatorNotifier
	engine       Transitioner
	logger       *zap.Logger
}

// NewDecisionService creates a decision service.
func NewDecisionService(
	cases port.CaseRepository,
	followups port.FollowupRepository,
	proposals *ProposalService,
	collaborator port.DecisionCollaborator,
	notifier port.OperatorNotifier,
	eng Transitioner,
	logger *zap.Logger,
) *DecisionService {
	return &DecisionService{
		cases:        cases,
		followups:    followups,
		proposals:    proposals,
		collaborator: collaborator,
		notifier:     notifier,
		engine:       eng,
		logger:       logger,
	}
}

// HandleCommitted is the dispatcher handler behind reactive dispatch.
//
// A projection that is ready for the next action triggers an AGENT_WAKEUP
// transition; a committed wakeup in turn runs the proposal pipeline. Each
// hop is its own locked transaction, so a reactive chain can always be
// interrupted between links.
func (s *DecisionService) HandleCommitted(ctx context.Context, n *dispatcher.Notification) error {
	if n.Projection != nil && n.Projection.ReadyForNextAction() {
		evt := event.New(event.TypeAgentWakeup, n.CaseID, event.NewContext(map[string]interface{}{
			"cause": n.Event.String(),
		}))
		if _, err := s.engine.Transition(ctx, evt); err != nil {
			if engine.IsLockContention(err) {
				// Another operation moved the case first; its own commit
				// notification re-evaluates readiness.
				return nil
			}
			return fmt.Errorf("reactive wakeup failed: %w", err)
		}
		return nil
	}

	if n.Event == event.TypeAgentWakeup {
		sourceMessage := n.Context.GetString("source_message_id")
		if _, err := s.ProposeNextAction(ctx, n.CaseID, sourceMessage, 0); err != nil {
			return fmt.Errorf("decision pipeline failed: %w", err)
		}
	}
	return nil
}

// ProposeNextAction asks the collaborator what to do for a case and persists
// the answer as a pending proposal.
func (s *DecisionService) ProposeNextAction(ctx context.Context, caseID int64, sourceMessageID string, retryOrdinal int) (*entity.Proposal, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("case %d not found", caseID)
	}
	if c.IsTerminal() {
		s.logger.Debug("Skipping decision for terminal case", zap.Int64("case_id", caseID))
		return nil, nil
	}

	brief := port.CaseBrief{
		CaseID:        c.ID,
		CaseName:      c.Name,
		Status:        c.Status,
		Substatus:     c.Substatus,
		LastMessageID: sourceMessageID,
		PortalURL:     c.PortalURL,
	}
	if sched, err := s.followups.GetActiveByCaseID(ctx, caseID); err == nil && sched != nil {
		brief.FollowupCount = sched.Count
	}

	decision, err := s.collaborator.ProposeNextAction(ctx, brief)
	if err != nil {
		return nil, fmt.Errorf("collaborator failed: %w", err)
	}

	proposal, err := s.proposals.UpsertFromDecision(ctx, caseID, decision, sourceMessageID, retryOrdinal)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Proposal ready for review",
		zap.Int64("case_id", caseID),
		zap.Int64("proposal_id", proposal.ID),
		zap.String("action_type", proposal.ActionType),
		zap.Float64("confidence", proposal.Confidence),
	)

	if s.notifier != nil {
		summary := proposal.Reasoning
		if summary == "" {
			summary = proposal.DraftSubject
		}
		if err := s.notifier.NotifyPendingProposal(ctx, caseID, proposal.ID, proposal.ActionType, summary); err != nil {
			s.logger.Error("Failed to notify operators", zap.Int64("case_id", caseID), zap.Error(err))
		}
	}
	return proposal, nil
}

// Decide applies a human verdict to the case's pending proposal and, on
// approval of an outbound action, executes it under the claim-once rule.
func (s *DecisionService) Decide(ctx context.Context, caseID, proposalID int64, approved bool, note, reviewer string) (*engine.Result, error) {
	p, err := s.proposals.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load proposal: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("proposal %d not found", proposalID)
	}

	decision := "dismissed"
	if approved {
		decision = "approved"
	}
	evt := event.New(event.TypeHumanDecision, caseID, event.NewContext(map[string]interface{}{
		"proposal_id": proposalID,
		"decision":    decision,
		"reviewer":    reviewer,
		"note":        note,
		"escalate":    approved && p.ActionType == entity.ActionEscalateToHuman,
	}))

	result, err := s.engine.Transition(ctx, evt)
	if err != nil {
		return nil, err
	}
	if !approved {
		return result, nil
	}

	key, won, err := s.proposals.ClaimExecution(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !won {
		s.logger.Info("Execution already claimed, skipping",
			zap.Int64("proposal_id", proposalID),
			zap.String("execution_key", key),
		)
		return result, nil
	}

	if err := s.execute(ctx, caseID, proposalID, key); err != nil {
		if ferr := s.proposals.MarkExecutionFailed(ctx, key, err.Error()); ferr != nil {
			s.logger.Error("Failed to record execution failure", zap.Error(ferr))
		}
		return nil, err
	}
	if err := s.proposals.MarkExecuted(ctx, proposalID); err != nil {
		return nil, err
	}
	return result, nil
}

// execute performs the approved action by feeding its outcome back through
// the engine; the execution key doubles as the idempotency token, so a
// duplicated execution replays instead of double-sending.
func (s *DecisionService) execute(ctx context.Context, caseID, proposalID int64, executionKey string) error {
	p, err := s.proposals.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return fmt.Errorf("failed to load proposal: %w", err)
	}
	if p == nil {
		return fmt.Errorf("proposal %d not found", proposalID)
	}

	switch p.ActionType {
	case entity.ActionSendFollowUp, entity.ActionSendClarification:
		evt := event.New(event.TypeMessageSent, caseID, event.NewContext(map[string]interface{}{
			"summary":     p.DraftSubject,
			"proposal_id": proposalID,
		}).WithToken(executionKey))
		_, err := s.engine.Transition(ctx, evt)
		return err
	case entity.ActionPortalSubmit:
		evt := event.New(event.TypePortalStarted, caseID, event.NewContext(map[string]interface{}{
			"proposal_id": proposalID,
		}).WithToken(executionKey))
		_, err := s.engine.Transition(ctx, evt)
		return err
	case entity.ActionCloseCase:
		evt := event.New(event.TypeMessageReceived, caseID, event.NewContext(map[string]interface{}{
			"intent": "fulfillment",
		}).WithToken(executionKey))
		_, err := s.engine.Transition(ctx, evt)
		return err
	case entity.ActionEscalateToHuman:
		if s.notifier != nil {
			return s.notifier.NotifyEscalation(ctx, caseID, p.Reasoning)
		}
		return nil
	default:
		return fmt.Errorf("unknown action type %q", p.ActionType)
	}
}
