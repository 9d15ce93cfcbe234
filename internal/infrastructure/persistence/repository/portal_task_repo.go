package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// PortalTaskRepository implements port.PortalTaskRepository
type PortalTaskRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPortalTaskRepository creates a new portal task repository
func NewPortalTaskRepository(db *sql.DB, logger *zap.Logger) port.PortalTaskRepository {
	return &PortalTaskRepository{db: db, logger: logger}
}

const portalTaskColumns = `id, case_id, status, portal_url, provider,
	result_detail, started_at, finished_at, created_at, updated_at`

// Create inserts a new portal task
func (r *PortalTaskRepository) Create(ctx context.Context, task *entity.PortalTask) error {
	query := `
		INSERT INTO portal_tasks (case_id, status, portal_url, provider, result_detail, started_at)
		VALUES (?, ?, ?, ?, ?, CASE WHEN ? = ? THEN CURRENT_TIMESTAMP END)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		task.CaseID, task.Status, task.PortalURL, task.Provider, task.ResultDetail,
		task.Status, entity.PortalTaskStatusInProgress,
	)
	if err != nil {
		r.logger.Error("Failed to create portal task", zap.Error(err))
		return fmt.Errorf("failed to create portal task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	return nil
}

// GetActiveByCaseID returns the case's active (PENDING/IN_PROGRESS) task,
// nil when none
func (r *PortalTaskRepository) GetActiveByCaseID(ctx context.Context, caseID int64) (*entity.PortalTask, error) {
	query := `SELECT ` + portalTaskColumns + ` FROM portal_tasks
		WHERE case_id = ? AND status IN (` + placeholders(len(entity.ActivePortalTaskStatuses)) + `)
		ORDER BY created_at DESC LIMIT 1`
	args := append([]interface{}{caseID}, statusArgs(entity.ActivePortalTaskStatuses)...)

	task, err := scanPortalTask(getExecutor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active portal task", zap.Int64("case_id", caseID), zap.Error(err))
		return nil, fmt.Errorf("failed to get active portal task: %w", err)
	}
	return task, nil
}

// UpdateStatus updates a task's status and stamps updated_at
func (r *PortalTaskRepository) UpdateStatus(ctx context.Context, id int64, status, resultDetail string, markFinished bool) error {
	query := `UPDATE portal_tasks SET status = ?, result_detail = ?, updated_at = CURRENT_TIMESTAMP`
	if markFinished {
		query += `, finished_at = CURRENT_TIMESTAMP`
	}
	query += ` WHERE id = ?`

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, status, resultDetail, id)
	if err != nil {
		r.logger.Error("Failed to update portal task", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update portal task: %w", err)
	}
	return nil
}

// CancelActive cancels every active task for the case in one statement
func (r *PortalTaskRepository) CancelActive(ctx context.Context, caseID int64) (int64, error) {
	query := `UPDATE portal_tasks
		SET status = ?, finished_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE case_id = ? AND status IN (` + placeholders(len(entity.ActivePortalTaskStatuses)) + `)`
	args := append([]interface{}{entity.PortalTaskStatusCancelled, caseID}, statusArgs(entity.ActivePortalTaskStatuses)...)

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to cancel portal tasks", zap.Int64("case_id", caseID), zap.Error(err))
		return 0, fmt.Errorf("failed to cancel portal tasks: %w", err)
	}
	return result.RowsAffected()
}

func scanPortalTask(row rowScanner) (*entity.PortalTask, error) {
	var task entity.PortalTask
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&task.ID, &task.CaseID, &task.Status, &task.PortalURL, &task.Provider,
		&task.ResultDetail, &startedAt, &finishedAt, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}
	return &task, nil
}

// Verify interface compliance
var _ port.PortalTaskRepository = (*PortalTaskRepository)(nil)
