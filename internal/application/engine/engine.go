package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/dispatcher"
	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"github.com/mwhitney-dev/caseflow/internal/domain/event"
	"github.com/mwhitney-dev/caseflow/internal/domain/transition"
)

// Repositories bundles the persistence ports the engine writes through.
type Repositories struct {
	Cases       port.CaseRepository
	Runs        port.AgentRunRepository
	Proposals   port.ProposalRepository
	PortalTasks port.PortalTaskRepository
	Followups   port.FollowupRepository
	Ledger      port.LedgerRepository
}

// Engine executes case transitions: lock, load, reduce, apply, ledger,
// commit, then notify. All durable work happens inside one transaction per
// transition; side effects only ever run after commit.
type Engine struct {
	cases       port.CaseRepository
	runs        port.AgentRunRepository
	proposals   port.ProposalRepository
	portalTasks port.PortalTaskRepository
	followups   port.FollowupRepository
	ledger      port.LedgerRepository
	txManager   port.TransactionManager
	locker      port.CaseLocker
	reducer     transition.Reducer
	dispatcher  dispatcher.Dispatcher
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures the engine
type Option func(*Engine)

// WithDispatcher attaches a post-commit side-effect dispatcher.
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = d }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the engine's time source. Tests use this to make
// transition outputs deterministic.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a transition engine.
func NewEngine(repos Repositories, txManager port.TransactionManager, locker port.CaseLocker, reducer transition.Reducer, opts ...Option) *Engine {
	e := &Engine{
		cases:       repos.Cases,
		runs:        repos.Runs,
		proposals:   repos.Proposals,
		portalTasks: repos.PortalTasks,
		followups:   repos.Followups,
		ledger:      repos.Ledger,
		txManager:   txManager,
		locker:      locker,
		reducer:     reducer,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result is the outcome of one transition.
type Result struct {
	CaseID     int64                   `json:"case_id"`
	Event      event.Type              `json:"event"`
	Replayed   bool                    `json:"replayed"`
	Mutations  *transition.MutationSet `json:"mutations"`
	Projection *transition.Projection  `json:"projection"`
}

// Transition applies one event to a case. The whole operation holds the
// case lock and runs in a single transaction. If the event carries an
// idempotency token the ledger has already recorded for this case, the
// recorded outcome is returned unchanged and nothing is re-applied or
// re-dispatched.
func (e *Engine) Transition(ctx context.Context, evt *event.Event) (*Result, error) {
	if !evt.Type.IsValid() {
		return nil, fmt.Errorf("unknown event type %q", evt.Type)
	}

	release, ok := e.locker.TryLock(evt.CaseID)
	if !ok {
		return nil, &LockContentionError{CaseID: evt.CaseID}
	}
	defer release()

	var result *Result
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		result, err = e.transitionLocked(txCtx, evt)
		return err
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		e.notify(ctx, evt, result.Projection)
	}

	e.logger.Info("Transition applied",
		zap.Int64("case_id", evt.CaseID),
		zap.String("event", evt.Type.String()),
		zap.Bool("replayed", result.Replayed),
		zap.String("status", result.Projection.Status),
	)
	return result, nil
}

// DryRun runs the full transition inside a transaction and then rolls it
// back, returning the mutations and projection that a real run would have
// produced. No ledger entry is written and nothing is dispatched.
func (e *Engine) DryRun(ctx context.Context, evt *event.Event) (*Result, error) {
	if !evt.Type.IsValid() {
		return nil, fmt.Errorf("unknown event type %q", evt.Type)
	}

	release, ok := e.locker.TryLock(evt.CaseID)
	if !ok {
		return nil, &LockContentionError{CaseID: evt.CaseID}
	}
	defer release()

	var result *Result
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		snap, err := e.loadSnapshot(txCtx, evt.CaseID)
		if err != nil {
			return err
		}

		at := e.now()
		ms := e.reducer.Reduce(snap, evt.Type, evt.Context, at)
		if err := e.applyMutations(txCtx, snap, ms, at); err != nil {
			return err
		}

		result = &Result{
			CaseID:     evt.CaseID,
			Event:      evt.Type,
			Mutations:  ms,
			Projection: transition.Project(snap.Overlay(ms)),
		}
		return errDryRunRollback
	})
	if err != nil && !errors.Is(err, errDryRunRollback) {
		return nil, err
	}

	e.logger.Debug("Dry run evaluated",
		zap.Int64("case_id", evt.CaseID),
		zap.String("event", evt.Type.String()),
	)
	return result, nil
}

// transitionLocked is the in-transaction body of Transition.
func (e *Engine) transitionLocked(ctx context.Context, evt *event.Event) (*Result, error) {
	token := evt.Context.IdempotencyToken
	if token != "" {
		entry, err := e.ledger.GetByToken(ctx, evt.CaseID, token)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency token: %w", err)
		}
		if entry != nil {
			return replayResult(evt, entry)
		}
	}

	snap, err := e.loadSnapshot(ctx, evt.CaseID)
	if err != nil {
		return nil, err
	}

	at := e.now()
	ms := e.reducer.Reduce(snap, evt.Type, evt.Context, at)
	if err := e.applyMutations(ctx, snap, ms, at); err != nil {
		return nil, err
	}

	projection := transition.Project(snap.Overlay(ms))

	entry, err := ledgerEntry(evt, token, ms, projection)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return &Result{
		CaseID:     evt.CaseID,
		Event:      evt.Type,
		Mutations:  ms,
		Projection: projection,
	}, nil
}

// notify publishes post-commit notifications. The dispatch context is
// detached from the caller's so request cancellation cannot cut handlers off
// mid-flight.
func (e *Engine) notify(ctx context.Context, evt *event.Event, projection *transition.Projection) {
	if e.dispatcher == nil {
		return
	}

	n := &dispatcher.Notification{
		CaseID:     evt.CaseID,
		Event:      evt.Type,
		Context:    evt.Context,
		Projection: projection,
	}

	dispatchCtx := context.WithoutCancel(ctx)
	e.dispatcher.DispatchAsync(dispatchCtx, dispatcher.TopicTransitionCommitted, n)
	if evt.Type.IsPortal() {
		e.dispatcher.DispatchAsync(dispatchCtx, dispatcher.TopicPortalUpdate, n)
	}
}

// ledgerEntry serializes a transition outcome into its immutable record.
func ledgerEntry(evt *event.Event, token string, ms *transition.MutationSet, projection *transition.Projection) (*entity.LedgerEntry, error) {
	ctxJSON, err := json.Marshal(evt.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event context: %w", err)
	}
	msJSON, err := json.Marshal(ms)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutations: %w", err)
	}
	projJSON, err := json.Marshal(projection)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal projection: %w", err)
	}
	return &entity.LedgerEntry{
		CaseID:           evt.CaseID,
		Event:            evt.Type.String(),
		IdempotencyToken: token,
		Context:          string(ctxJSON),
		Mutations:        string(msJSON),
		Projection:       string(projJSON),
	}, nil
}

// replayResult reconstructs the original outcome from a ledger entry.
func replayResult(evt *event.Event, entry *entity.LedgerEntry) (*Result, error) {
	var ms transition.MutationSet
	if err := json.Unmarshal([]byte(entry.Mutations), &ms); err != nil {
		return nil, fmt.Errorf("failed to decode recorded mutations: %w", err)
	}
	var projection transition.Projection
	if err := json.Unmarshal([]byte(entry.Projection), &projection); err != nil {
		return nil, fmt.Errorf("failed to decode recorded projection: %w", err)
	}
	return &Result{
		CaseID:     evt.CaseID,
		Event:      evt.Type,
		Replayed:   true,
		Mutations:  &ms,
		Projection: &projection,
	}, nil
}
