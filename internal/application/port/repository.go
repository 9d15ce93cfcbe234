package port

import (
	"context"
	"time"

	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
)

// CaseRepository defines persistence operations for Case
type CaseRepository interface {
	Create(ctx context.Context, c *entity.Case) error
	GetByID(ctx context.Context, id int64) (*entity.Case, error)
	// UpdateFields applies a sparse field update and stamps updated_at.
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	List(ctx context.Context, limit, offset int) ([]*entity.Case, error)
}

// AgentRunRepository defines persistence operations for AgentRun
type AgentRunRepository interface {
	Create(ctx context.Context, run *entity.AgentRun) error
	GetByID(ctx context.Context, id int64) (*entity.AgentRun, error)
	// GetActiveByCaseID returns the case's non-terminal run, nil when none.
	GetActiveByCaseID(ctx context.Context, caseID int64) (*entity.AgentRun, error)
	UpdateStatus(ctx context.Context, id int64, status, failureReason string, markFinished bool) error
	// CancelActiveExcept marks every active run for the case failed with the
	// given reason, sparing keepID when non-nil. One set-based statement.
	CancelActiveExcept(ctx context.Context, caseID int64, keepID *int64, reason string) (int64, error)
	// ListStale returns active runs that have not progressed since the cutoff.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*entity.AgentRun, error)
}

// ProposalRepository defines persistence operations for Proposal
type ProposalRepository interface {
	Create(ctx context.Context, p *entity.Proposal) error
	GetByID(ctx context.Context, id int64) (*entity.Proposal, error)
	GetByKey(ctx context.Context, key string) (*entity.Proposal, error)
	GetPendingByCaseID(ctx context.Context, caseID int64) (*entity.Proposal, error)
	GetActiveByCaseID(ctx context.Context, caseID int64) ([]*entity.Proposal, error)
	ListByCaseID(ctx context.Context, caseID int64) ([]*entity.Proposal, error)
	// UpdateContent rewrites the mutable content fields of a pending proposal.
	UpdateContent(ctx context.Context, id int64, p *entity.Proposal) error
	// UpdateDecision sets status and merges the human decision record
	// additively into the stored one.
	UpdateDecision(ctx context.Context, id int64, status string, decision map[string]interface{}, markDecided bool) error
	// DismissActive moves active proposals to DISMISSED with a reason,
	// optionally filtered to one action type. One set-based statement.
	DismissActive(ctx context.Context, caseID int64, reason, actionType string) (int64, error)
	// ClaimExecution atomically sets the execution key if none is set and the
	// proposal is not already executed. Returns false when already claimed.
	ClaimExecution(ctx context.Context, id int64, executionKey string) (bool, error)
}

// PortalTaskRepository defines persistence operations for PortalTask
type PortalTaskRepository interface {
	Create(ctx context.Context, task *entity.PortalTask) error
	GetActiveByCaseID(ctx context.Context, caseID int64) (*entity.PortalTask, error)
	UpdateStatus(ctx context.Context, id int64, status, resultDetail string, markFinished bool) error
	// CancelActive cancels every active task for the case in one statement.
	CancelActive(ctx context.Context, caseID int64) (int64, error)
}

// FollowupRepository defines persistence operations for FollowupSchedule
type FollowupRepository interface {
	GetActiveByCaseID(ctx context.Context, caseID int64) (*entity.FollowupSchedule, error)
	// Upsert creates the case's schedule or resets the existing active one.
	Upsert(ctx context.Context, caseID int64, nextDate time.Time, autoSend bool, maxCount int) error
	// Advance moves the active schedule forward: optional new next date,
	// optional status change, optional count increment.
	Advance(ctx context.Context, caseID int64, status *string, nextDate *time.Time, incrementCount bool) error
	// BulkUpdateStatus moves all of the case's schedules to one status,
	// optionally restricted to prior statuses.
	BulkUpdateStatus(ctx context.Context, caseID int64, toStatus string, fromStatuses []string) (int64, error)
	// ListDue returns scheduled follow-ups whose next date has passed.
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]*entity.FollowupSchedule, error)
}

// LedgerRepository defines persistence operations for LedgerEntry.
// Entries are append-only and never mutated after insert.
type LedgerRepository interface {
	Append(ctx context.Context, entry *entity.LedgerEntry) error
	// GetByToken looks up an entry by (caseID, idempotency token); nil when
	// the token has never been seen.
	GetByToken(ctx context.Context, caseID int64, token string) (*entity.LedgerEntry, error)
	// ListByCaseID returns entries most-recent-first.
	ListByCaseID(ctx context.Context, caseID int64, limit int) ([]*entity.LedgerEntry, error)
}

// ExecutionRepository defines persistence operations for Execution
type ExecutionRepository interface {
	// Claim inserts the execution row if its key is unused. Returns false
	// without error when the key already exists.
	Claim(ctx context.Context, exec *entity.Execution) (bool, error)
	GetByKey(ctx context.Context, executionKey string) (*entity.Execution, error)
	ListByCaseID(ctx context.Context, caseID int64) ([]*entity.Execution, error)
	UpdateStatus(ctx context.Context, id int64, status, errorDetail string) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// CaseLocker provides case-scoped mutual exclusion for the duration of one
// durable operation. TryLock fails fast when the case is already held; the
// returned release function must be safe to call exactly once and may never
// leak a held lock across operations.
type CaseLocker interface {
	TryLock(caseID int64) (release func(), ok bool)
}
