package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// ExecutionRepository implements port.ExecutionRepository
type ExecutionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *sql.DB, logger *zap.Logger) port.ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `id, case_id, proposal_id, execution_key, kind,
	status, error_detail, created_at, updated_at`

// Claim inserts the execution row if its key is unused. Returns false without
// error when the key already exists: claim-once semantics via the unique
// index, not a read-then-write.
func (r *ExecutionRepository) Claim(ctx context.Context, exec *entity.Execution) (bool, error) {
	query := `
		INSERT INTO executions (case_id, proposal_id, execution_key, kind, status, error_detail)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_key) DO NOTHING
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		exec.CaseID, exec.ProposalID, exec.ExecutionKey, exec.Kind, exec.Status, exec.ErrorDetail,
	)
	if err != nil {
		r.logger.Error("Failed to claim execution", zap.String("key", exec.ExecutionKey), zap.Error(err))
		return false, fmt.Errorf("failed to claim execution: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get last insert id: %w", err)
	}
	exec.ID = id
	return true, nil
}

// GetByKey retrieves an execution by its key, nil when absent
func (r *ExecutionRepository) GetByKey(ctx context.Context, executionKey string) (*entity.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE execution_key = ?`

	exec, err := scanExecution(getExecutor(ctx, r.db).QueryRowContext(ctx, query, executionKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return exec, nil
}

// ListByCaseID retrieves all executions for a case, newest first
func (r *ExecutionRepository) ListByCaseID(ctx context.Context, caseID int64) ([]*entity.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE case_id = ? ORDER BY created_at DESC`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*entity.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

// UpdateStatus moves an execution to its terminal status
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, id int64, status, errorDetail string) error {
	query := `UPDATE executions SET status = ?, error_detail = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, status, errorDetail, id)
	if err != nil {
		r.logger.Error("Failed to update execution status", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	return nil
}

func scanExecution(row rowScanner) (*entity.Execution, error) {
	var exec entity.Execution
	err := row.Scan(
		&exec.ID, &exec.CaseID, &exec.ProposalID, &exec.ExecutionKey, &exec.Kind,
		&exec.Status, &exec.ErrorDetail, &exec.CreatedAt, &exec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// Verify interface compliance
var _ port.ExecutionRepository = (*ExecutionRepository)(nil)
