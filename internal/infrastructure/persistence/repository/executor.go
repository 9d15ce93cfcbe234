package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/mwhitney-dev/caseflow/internal/infrastructure/persistence/sqlite"
)

// executor interface covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// getExecutor returns the context's transaction when one is in flight,
// otherwise the bare connection pool.
func getExecutor(ctx context.Context, db *sql.DB) executor {
	if tx := sqlite.TxFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// placeholders renders "?, ?, ?" for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// statusArgs converts a status list into query arguments.
func statusArgs(statuses []string) []interface{} {
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return args
}
