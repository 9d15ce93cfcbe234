package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// ProposalRepository implements port.ProposalRepository. The table carries two
// uniqueness constraints the service layer leans on: one on proposal_key and a
// partial one on (case_id) for rows in PENDING_APPROVAL. Constraint
// violations bubble up wrapped so callers can translate them into
// "return the winning row".
type ProposalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProposalRepository creates a new proposal repository
func NewProposalRepository(db *sql.DB, logger *zap.Logger) port.ProposalRepository {
	return &ProposalRepository{db: db, logger: logger}
}

const proposalColumns = `id, case_id, proposal_key, action_type, status,
	draft_subject, draft_body, reasoning, confidence, risk_flags,
	human_decision, dismiss_reason, execution_key, source_message, retry_ordinal,
	decided_at, created_at, updated_at`

// Create inserts a new proposal
func (r *ProposalRepository) Create(ctx context.Context, p *entity.Proposal) error {
	query := `
		INSERT INTO proposals (
			case_id, proposal_key, action_type, status,
			draft_subject, draft_body, reasoning, confidence, risk_flags,
			human_decision, execution_key, source_message, retry_ordinal
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		p.CaseID, p.ProposalKey, p.ActionType, p.Status,
		p.DraftSubject, p.DraftBody, p.Reasoning, p.Confidence, p.RiskFlags,
		p.HumanDecision, nullIfEmpty(p.ExecutionKey), p.SourceMessage, p.RetryOrdinal,
	)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	return nil
}

// GetByID retrieves a proposal by ID, nil when absent
func (r *ProposalRepository) GetByID(ctx context.Context, id int64) (*entity.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = ?`

	p, err := scanProposal(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

// GetByKey retrieves a proposal by its deterministic key, nil when absent
func (r *ProposalRepository) GetByKey(ctx context.Context, key string) (*entity.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE proposal_key = ?`

	p, err := scanProposal(getExecutor(ctx, r.db).QueryRowContext(ctx, query, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal by key: %w", err)
	}
	return p, nil
}

// GetPendingByCaseID retrieves the single PENDING_APPROVAL proposal for a
// case, nil when none
func (r *ProposalRepository) GetPendingByCaseID(ctx context.Context, caseID int64) (*entity.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals
		WHERE case_id = ? AND status = ? LIMIT 1`

	p, err := scanProposal(getExecutor(ctx, r.db).QueryRowContext(ctx, query, caseID, entity.ProposalStatusPendingApproval))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending proposal: %w", err)
	}
	return p, nil
}

// GetActiveByCaseID retrieves DRAFT and PENDING_APPROVAL proposals for a case
func (r *ProposalRepository) GetActiveByCaseID(ctx context.Context, caseID int64) ([]*entity.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals
		WHERE case_id = ? AND status IN (` + placeholders(len(entity.ActiveProposalStatuses)) + `)
		ORDER BY created_at ASC`
	args := append([]interface{}{caseID}, statusArgs(entity.ActiveProposalStatuses)...)

	return r.queryProposals(ctx, query, args...)
}

// ListByCaseID retrieves all proposals for a case, newest first
func (r *ProposalRepository) ListByCaseID(ctx context.Context, caseID int64) ([]*entity.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals
		WHERE case_id = ? ORDER BY created_at DESC`
	return r.queryProposals(ctx, query, caseID)
}

// UpdateContent rewrites the mutable content fields of a proposal. The WHERE
// clause re-checks PENDING_APPROVAL so a concurrent decision cannot be
// overwritten: terminal rows are immutable to this path.
func (r *ProposalRepository) UpdateContent(ctx context.Context, id int64, p *entity.Proposal) error {
	query := `UPDATE proposals
		SET action_type = ?, draft_subject = ?, draft_body = ?, reasoning = ?,
			confidence = ?, risk_flags = ?, retry_ordinal = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		p.ActionType, p.DraftSubject, p.DraftBody, p.Reasoning,
		p.Confidence, p.RiskFlags, p.RetryOrdinal,
		id, entity.ProposalStatusPendingApproval,
	)
	if err != nil {
		r.logger.Error("Failed to update proposal content", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update proposal content: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("proposal %d is not pending approval", id)
	}
	return nil
}

// UpdateDecision sets status and merges the human decision record additively
// into the stored one. Existing keys survive; new keys are added.
func (r *ProposalRepository) UpdateDecision(ctx context.Context, id int64, status string, decision map[string]interface{}, markDecided bool) error {
	exec := getExecutor(ctx, r.db)

	var stored sql.NullString
	err := exec.QueryRowContext(ctx, `SELECT human_decision FROM proposals WHERE id = ?`, id).Scan(&stored)
	if err == sql.ErrNoRows {
		return fmt.Errorf("proposal %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to read proposal decision: %w", err)
	}

	merged := map[string]interface{}{}
	if stored.Valid && stored.String != "" {
		if err := json.Unmarshal([]byte(stored.String), &merged); err != nil {
			r.logger.Warn("Discarding unparseable decision record", zap.Int64("id", id), zap.Error(err))
			merged = map[string]interface{}{}
		}
	}
	for k, v := range decision {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal decision record: %w", err)
	}

	query := `UPDATE proposals SET status = ?, human_decision = ?, updated_at = CURRENT_TIMESTAMP`
	if markDecided {
		query += `, decided_at = CURRENT_TIMESTAMP`
	}
	query += ` WHERE id = ?`

	if _, err := exec.ExecContext(ctx, query, status, string(payload), id); err != nil {
		r.logger.Error("Failed to update proposal decision", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update proposal decision: %w", err)
	}
	return nil
}

// DismissActive moves active proposals to DISMISSED with a reason, optionally
// filtered to one action type. One set-based statement.
func (r *ProposalRepository) DismissActive(ctx context.Context, caseID int64, reason, actionType string) (int64, error) {
	query := `UPDATE proposals
		SET status = ?, dismiss_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE case_id = ? AND status IN (` + placeholders(len(entity.ActiveProposalStatuses)) + `)`
	args := append([]interface{}{entity.ProposalStatusDismissed, reason, caseID}, statusArgs(entity.ActiveProposalStatuses)...)

	if actionType != "" {
		query += ` AND action_type = ?`
		args = append(args, actionType)
	}

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to dismiss proposals", zap.Int64("case_id", caseID), zap.Error(err))
		return 0, fmt.Errorf("failed to dismiss proposals: %w", err)
	}
	return result.RowsAffected()
}

// ClaimExecution atomically sets the execution key if none is set and the
// proposal is not already executed. Compare-and-set, not read-then-write.
func (r *ProposalRepository) ClaimExecution(ctx context.Context, id int64, executionKey string) (bool, error) {
	query := `UPDATE proposals
		SET execution_key = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND execution_key IS NULL AND status != ?`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, executionKey, id, entity.ProposalStatusExecuted)
	if err != nil {
		r.logger.Error("Failed to claim execution", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to claim execution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *ProposalRepository) queryProposals(ctx context.Context, query string, args ...interface{}) ([]*entity.Proposal, error) {
	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*entity.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func scanProposal(row rowScanner) (*entity.Proposal, error) {
	var p entity.Proposal
	var humanDecision, executionKey sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.CaseID, &p.ProposalKey, &p.ActionType, &p.Status,
		&p.DraftSubject, &p.DraftBody, &p.Reasoning, &p.Confidence, &p.RiskFlags,
		&humanDecision, &p.DismissReason, &executionKey, &p.SourceMessage, &p.RetryOrdinal,
		&decidedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.HumanDecision = humanDecision.String
	p.ExecutionKey = executionKey.String
	if decidedAt.Valid {
		p.DecidedAt = &decidedAt.Time
	}
	return &p, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Verify interface compliance
var _ port.ProposalRepository = (*ProposalRepository)(nil)
