package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// AgentRunRepository implements port.AgentRunRepository
type AgentRunRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAgentRunRepository creates a new agent run repository
func NewAgentRunRepository(db *sql.DB, logger *zap.Logger) port.AgentRunRepository {
	return &AgentRunRepository{db: db, logger: logger}
}

const runColumns = `id, case_id, status, trigger_type, proposal_id,
	failure_reason, started_at, finished_at, created_at, updated_at`

// Create creates a new agent run
func (r *AgentRunRepository) Create(ctx context.Context, run *entity.AgentRun) error {
	query := `
		INSERT INTO agent_runs (case_id, status, trigger_type, proposal_id, failure_reason)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		run.CaseID, run.Status, run.Trigger, run.ProposalID, run.FailureReason,
	)
	if err != nil {
		r.logger.Error("Failed to create agent run", zap.Error(err))
		return fmt.Errorf("failed to create agent run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// GetByID retrieves a run by ID, nil when absent
func (r *AgentRunRepository) GetByID(ctx context.Context, id int64) (*entity.AgentRun, error) {
	query := `SELECT ` + runColumns + ` FROM agent_runs WHERE id = ?`

	run, err := scanRun(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent run: %w", err)
	}
	return run, nil
}

// GetActiveByCaseID returns the case's non-terminal run, nil when none.
// Newest wins should the invariant ever be violated by hand-edited data.
func (r *AgentRunRepository) GetActiveByCaseID(ctx context.Context, caseID int64) (*entity.AgentRun, error) {
	query := `SELECT ` + runColumns + ` FROM agent_runs
		WHERE case_id = ? AND status IN (` + placeholders(len(entity.ActiveRunStatuses)) + `)
		ORDER BY created_at DESC LIMIT 1`

	args := append([]interface{}{caseID}, statusArgs(entity.ActiveRunStatuses)...)
	run, err := scanRun(getExecutor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active run", zap.Int64("case_id", caseID), zap.Error(err))
		return nil, fmt.Errorf("failed to get active run: %w", err)
	}
	return run, nil
}

// UpdateStatus updates a run's status and stamps updated_at
func (r *AgentRunRepository) UpdateStatus(ctx context.Context, id int64, status, failureReason string, markFinished bool) error {
	query := `UPDATE agent_runs SET status = ?, failure_reason = ?, updated_at = CURRENT_TIMESTAMP`
	if markFinished {
		query += `, finished_at = CURRENT_TIMESTAMP`
	}
	query += ` WHERE id = ?`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, status, failureReason, id)
	if err != nil {
		r.logger.Error("Failed to update run status", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// CancelActiveExcept marks every active run for the case failed with the given
// reason, sparing keepID when non-nil. One set-based statement so the
// supersession is atomic within the transaction.
func (r *AgentRunRepository) CancelActiveExcept(ctx context.Context, caseID int64, keepID *int64, reason string) (int64, error) {
	query := `UPDATE agent_runs
		SET status = ?, failure_reason = ?, finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE case_id = ? AND status IN (` + placeholders(len(entity.ActiveRunStatuses)) + `)`
	args := append([]interface{}{entity.RunStatusFailed, reason, caseID}, statusArgs(entity.ActiveRunStatuses)...)

	if keepID != nil {
		query += ` AND id != ?`
		args = append(args, *keepID)
	}

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to cancel active runs", zap.Int64("case_id", caseID), zap.Error(err))
		return 0, fmt.Errorf("failed to cancel active runs: %w", err)
	}
	return result.RowsAffected()
}

// ListStale returns active runs that have not progressed since the cutoff
func (r *AgentRunRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*entity.AgentRun, error) {
	query := `SELECT ` + runColumns + ` FROM agent_runs
		WHERE status IN (` + placeholders(len(entity.ActiveRunStatuses)) + `) AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`
	args := append(statusArgs(entity.ActiveRunStatuses), cutoff, limit)

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale runs: %w", err)
	}
	defer rows.Close()

	var runs []*entity.AgentRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*entity.AgentRun, error) {
	var run entity.AgentRun
	var proposalID sql.NullInt64
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.CaseID, &run.Status, &run.Trigger, &proposalID,
		&run.FailureReason, &startedAt, &finishedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if proposalID.Valid {
		run.ProposalID = &proposalID.Int64
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

// Verify interface compliance
var _ port.AgentRunRepository = (*AgentRunRepository)(nil)
