package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
)

// ProposalService is the idempotency layer between the decision collaborator
// and the review queue. It guarantees two invariants regardless of retries,
// crashes and duplicate deliveries: a case never has more than one pending
// proposal, and a given proposal key maps to exactly one row forever.
type ProposalService struct {
	proposals  port.ProposalRepository
	executions port.ExecutionRepository
	txManager  port.TransactionManager
	logger     *zap.Logger
}

// NewProposalService creates a proposal service.
func NewProposalService(
	proposals port.ProposalRepository,
	executions port.ExecutionRepository,
	txManager port.TransactionManager,
	logger *zap.Logger,
) *ProposalService {
	return &ProposalService{
		proposals:  proposals,
		executions: executions,
		txManager:  txManager,
		logger:     logger,
	}
}

// UpsertFromDecision persists a collaborator decision as a pending proposal.
//
// The proposal key is derived from (case, source message, action, retry
// ordinal), so a retried decision lands on its original row. An existing row
// is rewritten only while still pending; terminal proposals are returned
// untouched. When a different proposal is already pending for the case, that
// one wins and is returned instead of creating a second.
func (s *ProposalService) UpsertFromDecision(ctx context.Context, caseID int64, decision *port.NextActionDecision, sourceMessageID string, retryOrdinal int) (*entity.Proposal, error) {
	actionType := decision.ActionType
	riskFlags := decision.RiskFlags

	// An outbound-message action without drafted content cannot be reviewed,
	// let alone sent. Downgrade to escalation before anything is persisted.
	if entity.ActionRequiresDraft(actionType) && strings.TrimSpace(decision.DraftBody) == "" {
		s.logger.Warn("Decision carried no draft for an outbound action, escalating instead",
			zap.Int64("case_id", caseID),
			zap.String("action_type", actionType),
		)
		actionType = entity.ActionEscalateToHuman
		riskFlags = append(riskFlags, "missing_draft")
	}

	key := entity.DeriveProposalKey(caseID, sourceMessageID, actionType, retryOrdinal)

	candidate := &entity.Proposal{
		CaseID:        caseID,
		ProposalKey:   key,
		ActionType:    actionType,
		Status:        entity.ProposalStatusPendingApproval,
		DraftSubject:  decision.DraftSubject,
		DraftBody:     decision.DraftBody,
		Reasoning:     decision.Reasoning,
		Confidence:    decision.Confidence,
		RiskFlags:     strings.Join(riskFlags, ","),
		SourceMessage: sourceMessageID,
		RetryOrdinal:  retryOrdinal,
	}

	var result *entity.Proposal
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.proposals.GetByKey(txCtx, key)
		if err != nil {
			return fmt.Errorf("failed to look up proposal key: %w", err)
		}
		if existing != nil {
			if !existing.IsMutable() {
				// Terminal proposals are immutable; the retry gets the
				// original outcome back.
				result = existing
				return nil
			}
			candidate.ID = existing.ID
			if err := s.proposals.UpdateContent(txCtx, existing.ID, candidate); err != nil {
				return fmt.Errorf("failed to update pending proposal: %w", err)
			}
			result, err = s.proposals.GetByID(txCtx, existing.ID)
			return err
		}

		pending, err := s.proposals.GetPendingByCaseID(txCtx, caseID)
		if err != nil {
			return fmt.Errorf("failed to look up pending proposal: %w", err)
		}
		if pending != nil {
			// Single pending proposal per case: the earlier one wins.
			result = pending
			return nil
		}

		if err := s.proposals.Create(txCtx, candidate); err != nil {
			if isUniqueConstraint(err) {
				// Lost a race with a concurrent upsert; return the winner.
				result, err = s.winningProposal(txCtx, caseID, key)
				return err
			}
			return fmt.Errorf("failed to create proposal: %w", err)
		}
		result = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// winningProposal resolves the row that beat a constrained insert: first by
// key, then by the case's pending slot.
func (s *ProposalService) winningProposal(ctx context.Context, caseID int64, key string) (*entity.Proposal, error) {
	byKey, err := s.proposals.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if byKey != nil {
		return byKey, nil
	}
	pending, err := s.proposals.GetPendingByCaseID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, fmt.Errorf("proposal insert conflicted but no winner found for case %d", caseID)
	}
	return pending, nil
}

// ClaimExecution reserves the one-time right to execute an approved proposal.
// The execution key is deterministic, so a crashed executor that retries
// reclaims nothing: the first claim is the only claim. Returns the key and
// whether this caller won it.
func (s *ProposalService) ClaimExecution(ctx context.Context, proposalID int64) (string, bool, error) {
	var key string
	var won bool
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		p, err := s.proposals.GetByID(txCtx, proposalID)
		if err != nil {
			return fmt.Errorf("failed to load proposal: %w", err)
		}
		if p == nil {
			return fmt.Errorf("proposal %d not found", proposalID)
		}
		if p.Status != entity.ProposalStatusApproved {
			return fmt.Errorf("proposal %d is %s, only approved proposals execute", proposalID, p.Status)
		}

		key = "exec_" + p.ProposalKey
		claimed, err := s.proposals.ClaimExecution(txCtx, proposalID, key)
		if err != nil {
			return fmt.Errorf("failed to claim execution: %w", err)
		}
		if !claimed {
			return nil
		}

		inserted, err := s.executions.Claim(txCtx, &entity.Execution{
			CaseID:       p.CaseID,
			ProposalID:   p.ID,
			ExecutionKey: key,
			Kind:         p.ActionType,
			Status:       entity.ExecutionStatusSent,
		})
		if err != nil {
			return fmt.Errorf("failed to record execution: %w", err)
		}
		won = inserted
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return key, won, nil
}

// MarkExecuted moves a claimed proposal to its terminal EXECUTED status.
func (s *ProposalService) MarkExecuted(ctx context.Context, proposalID int64) error {
	return s.proposals.UpdateDecision(ctx, proposalID, entity.ProposalStatusExecuted, nil, false)
}

// MarkExecutionFailed records a failed side effect against the execution row
// without reopening the claim; re-delivery stays impossible.
func (s *ProposalService) MarkExecutionFailed(ctx context.Context, executionKey, detail string) error {
	exec, err := s.executions.GetByKey(ctx, executionKey)
	if err != nil {
		return fmt.Errorf("failed to load execution: %w", err)
	}
	if exec == nil {
		return fmt.Errorf("execution %s not found", executionKey)
	}
	return s.executions.UpdateStatus(ctx, exec.ID, entity.ExecutionStatusFailed, detail)
}

// isUniqueConstraint reports whether err is a SQLite unique-constraint
// violation, the signal that a concurrent writer got there first.
func isUniqueConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}
