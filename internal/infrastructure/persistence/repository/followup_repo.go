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

// FollowupRepository implements port.FollowupRepository
type FollowupRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFollowupRepository creates a new follow-up schedule repository
func NewFollowupRepository(db *sql.DB, logger *zap.Logger) port.FollowupRepository {
	return &FollowupRepository{db: db, logger: logger}
}

const followupColumns = `id, case_id, status, next_date, count, max_count,
	auto_send, created_at, updated_at`

// GetActiveByCaseID returns the case's non-cancelled, non-maxed schedule,
// nil when none
func (r *FollowupRepository) GetActiveByCaseID(ctx context.Context, caseID int64) (*entity.FollowupSchedule, error) {
	query := `SELECT ` + followupColumns + ` FROM followup_schedules
		WHERE case_id = ? AND status IN (` + placeholders(len(entity.ActiveFollowupStatuses)) + `)
		ORDER BY created_at DESC LIMIT 1`
	args := append([]interface{}{caseID}, statusArgs(entity.ActiveFollowupStatuses)...)

	sched, err := scanFollowup(getExecutor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get follow-up schedule", zap.Int64("case_id", caseID), zap.Error(err))
		return nil, fmt.Errorf("failed to get follow-up schedule: %w", err)
	}
	return sched, nil
}

// Upsert creates the case's schedule or resets the existing active one. The
// uniqueness constraint on active schedules makes this conflict-safe.
func (r *FollowupRepository) Upsert(ctx context.Context, caseID int64, nextDate time.Time, autoSend bool, maxCount int) error {
	exec := getExecutor(ctx, r.db)

	query := `UPDATE followup_schedules
		SET status = ?, next_date = ?, auto_send = ?, max_count = ?, updated_at = CURRENT_TIMESTAMP
		WHERE case_id = ? AND status IN (` + placeholders(len(entity.ActiveFollowupStatuses)) + `)`
	args := append(
		[]interface{}{entity.FollowupStatusScheduled, nextDate, autoSend, maxCount, caseID},
		statusArgs(entity.ActiveFollowupStatuses)...,
	)

	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update follow-up schedule: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO followup_schedules (case_id, status, next_date, count, max_count, auto_send)
		VALUES (?, ?, ?, 0, ?, ?)
	`, caseID, entity.FollowupStatusScheduled, nextDate, maxCount, autoSend)
	if err != nil {
		r.logger.Error("Failed to create follow-up schedule", zap.Int64("case_id", caseID), zap.Error(err))
		return fmt.Errorf("failed to create follow-up schedule: %w", err)
	}
	return nil
}

// Advance moves the active schedule forward
func (r *FollowupRepository) Advance(ctx context.Context, caseID int64, status *string, nextDate *time.Time, incrementCount bool) error {
	query := `UPDATE followup_schedules SET updated_at = CURRENT_TIMESTAMP`
	var args []interface{}

	if status != nil {
		query += `, status = ?`
		args = append(args, *status)
	}
	if nextDate != nil {
		query += `, next_date = ?`
		args = append(args, *nextDate)
	}
	if incrementCount {
		query += `, count = count + 1`
	}
	query += ` WHERE case_id = ? AND status IN (` + placeholders(len(entity.ActiveFollowupStatuses)) + `)`
	args = append(append(args, caseID), statusArgs(entity.ActiveFollowupStatuses)...)

	_, err := getExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to advance follow-up schedule", zap.Int64("case_id", caseID), zap.Error(err))
		return fmt.Errorf("failed to advance follow-up schedule: %w", err)
	}
	return nil
}

// BulkUpdateStatus moves all of the case's schedules to one status,
// optionally restricted to prior statuses
func (r *FollowupRepository) BulkUpdateStatus(ctx context.Context, caseID int64, toStatus string, fromStatuses []string) (int64, error) {
	query := `UPDATE followup_schedules SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE case_id = ?`
	args := []interface{}{toStatus, caseID}

	if len(fromStatuses) > 0 {
		query += ` AND status IN (` + placeholders(len(fromStatuses)) + `)`
		args = append(args, statusArgs(fromStatuses)...)
	}

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to bulk-update follow-up schedules", zap.Int64("case_id", caseID), zap.Error(err))
		return 0, fmt.Errorf("failed to bulk-update follow-up schedules: %w", err)
	}
	return result.RowsAffected()
}

// ListDue returns scheduled follow-ups whose next date has passed
func (r *FollowupRepository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]*entity.FollowupSchedule, error) {
	query := `SELECT ` + followupColumns + ` FROM followup_schedules
		WHERE status = ? AND next_date <= ?
		ORDER BY next_date ASC LIMIT ?`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, entity.FollowupStatusScheduled, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due follow-ups: %w", err)
	}
	defer rows.Close()

	var due []*entity.FollowupSchedule
	for rows.Next() {
		sched, err := scanFollowup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan follow-up schedule: %w", err)
		}
		due = append(due, sched)
	}
	return due, rows.Err()
}

func scanFollowup(row rowScanner) (*entity.FollowupSchedule, error) {
	var sched entity.FollowupSchedule
	err := row.Scan(
		&sched.ID, &sched.CaseID, &sched.Status, &sched.NextDate,
		&sched.Count, &sched.MaxCount, &sched.AutoSend,
		&sched.CreatedAt, &sched.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// Verify interface compliance
var _ port.FollowupRepository = (*FollowupRepository)(nil)
