package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// CaseRepository implements port.CaseRepository
type CaseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *sql.DB, logger *zap.Logger) port.CaseRepository {
	return &CaseRepository{db: db, logger: logger}
}

const caseColumns = `id, name, status, substatus, agency_id, agency_email,
	portal_url, portal_provider, last_portal_status,
	fee_quote_cents, fee_quote_status, priority, tags,
	sent_at, completed_at, created_at, updated_at`

// Create creates a new case
func (r *CaseRepository) Create(ctx context.Context, c *entity.Case) error {
	query := `
		INSERT INTO cases (
			name, status, substatus, agency_id, agency_email,
			portal_url, portal_provider, last_portal_status,
			fee_quote_cents, fee_quote_status, priority, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		c.Name, c.Status, c.Substatus, c.AgencyID, c.AgencyEmail,
		c.PortalURL, c.PortalProvider, c.LastPortalStatus,
		c.FeeQuoteCents, c.FeeQuoteStatus, c.Priority, c.Tags,
	)
	if err != nil {
		r.logger.Error("Failed to create case", zap.Error(err))
		return fmt.Errorf("failed to create case: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	c.ID = id
	return nil
}

// GetByID retrieves a case by ID, nil when absent
func (r *CaseRepository) GetByID(ctx context.Context, id int64) (*entity.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = ?`

	c, err := scanCase(getExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get case", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

// allowed targets for UpdateFields; anything else is a programming error
var caseUpdatableFields = map[string]bool{
	"status":             true,
	"substatus":          true,
	"portal_url":         true,
	"portal_provider":    true,
	"last_portal_status": true,
	"fee_quote_cents":    true,
	"fee_quote_status":   true,
	"priority":           true,
	"tags":               true,
	"sent_at":            true,
	"completed_at":       true,
}

// UpdateFields applies a sparse field update and stamps updated_at.
func (r *CaseRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	// Deterministic column order keeps statements stable across calls.
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !caseUpdatableFields[col] {
			return fmt.Errorf("refusing to update unknown case column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	query := "UPDATE cases SET "
	args := make([]interface{}, 0, len(cols)+1)
	for _, col := range cols {
		query += col + " = ?, "
		args = append(args, fields[col])
	}
	query += "updated_at = CURRENT_TIMESTAMP WHERE id = ?"
	args = append(args, id)

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to update case fields", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update case fields: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("case %d not found", id)
	}
	return nil
}

// List retrieves cases with pagination, newest first
func (r *CaseRepository) List(ctx context.Context, limit, offset int) ([]*entity.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list cases", zap.Error(err))
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var cases []*entity.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row rowScanner) (*entity.Case, error) {
	var c entity.Case
	var sentAt, completedAt sql.NullTime

	err := row.Scan(
		&c.ID, &c.Name, &c.Status, &c.Substatus, &c.AgencyID, &c.AgencyEmail,
		&c.PortalURL, &c.PortalProvider, &c.LastPortalStatus,
		&c.FeeQuoteCents, &c.FeeQuoteStatus, &c.Priority, &c.Tags,
		&sentAt, &completedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return &c, nil
}

// Verify interface compliance
var _ port.CaseRepository = (*CaseRepository)(nil)
