package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"go.uber.org/zap"
)

// LedgerRepository implements port.LedgerRepository. The table is insert-only:
// there is deliberately no update method, and the partial unique index on
// (case_id, idempotency_token) is what makes token replay detectable.
type LedgerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLedgerRepository creates a new transition ledger repository
func NewLedgerRepository(db *sql.DB, logger *zap.Logger) port.LedgerRepository {
	return &LedgerRepository{db: db, logger: logger}
}

const ledgerColumns = `id, case_id, event, idempotency_token, context,
	mutations, projection, created_at`

// Append inserts a new ledger entry
func (r *LedgerRepository) Append(ctx context.Context, entry *entity.LedgerEntry) error {
	query := `
		INSERT INTO transition_ledger (case_id, event, idempotency_token, context, mutations, projection)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := getExecutor(ctx, r.db).ExecContext(ctx, query,
		entry.CaseID, entry.Event, nullIfEmpty(entry.IdempotencyToken),
		entry.Context, entry.Mutations, entry.Projection,
	)
	if err != nil {
		r.logger.Error("Failed to append ledger entry",
			zap.Int64("case_id", entry.CaseID),
			zap.String("event", entry.Event),
			zap.Error(err))
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// GetByToken looks up an entry by (caseID, idempotency token), nil when the
// token has never been seen
func (r *LedgerRepository) GetByToken(ctx context.Context, caseID int64, token string) (*entity.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM transition_ledger
		WHERE case_id = ? AND idempotency_token = ?`

	entry, err := scanLedgerEntry(getExecutor(ctx, r.db).QueryRowContext(ctx, query, caseID, token))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry by token: %w", err)
	}
	return entry, nil
}

// ListByCaseID returns entries most-recent-first
func (r *LedgerRepository) ListByCaseID(ctx context.Context, caseID int64, limit int) ([]*entity.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM transition_ledger
		WHERE case_id = ? ORDER BY id DESC LIMIT ?`

	rows, err := getExecutor(ctx, r.db).QueryContext(ctx, query, caseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanLedgerEntry(row rowScanner) (*entity.LedgerEntry, error) {
	var entry entity.LedgerEntry
	var token sql.NullString

	err := row.Scan(
		&entry.ID, &entry.CaseID, &entry.Event, &token,
		&entry.Context, &entry.Mutations, &entry.Projection, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.IdempotencyToken = token.String
	return &entry, nil
}

// Verify interface compliance
var _ port.LedgerRepository = (*LedgerRepository)(nil)
