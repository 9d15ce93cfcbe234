package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mwhitney-dev/caseflow/internal/application/engine"
	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/application/service"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"github.com/mwhitney-dev/caseflow/internal/domain/event"
)

// FollowupSweeper periodically finds cases whose follow-up date has passed
// and feeds FOLLOWUP_DUE events to the engine. Each due schedule is one
// independent transition; a case that is locked gets retried with backoff and
// then left for the next sweep.
type FollowupSweeper struct {
	followups port.FollowupRepository
	engine    service.Transitioner
	logger    *zap.Logger

	sweepInterval time.Duration
	batchSize     int
	concurrency   int

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewFollowupSweeper creates a follow-up sweeper.
func NewFollowupSweeper(followups port.FollowupRepository, eng service.Transitioner, sweepInterval time.Duration, logger *zap.Logger) *FollowupSweeper {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &FollowupSweeper{
		followups:     followups,
		engine:        eng,
		logger:        logger,
		sweepInterval: sweepInterval,
		batchSize:     100,
		concurrency:   4,
	}
}

// Name implements Worker.
func (s *FollowupSweeper) Name() string { return "followup_sweeper" }

// Start implements Worker.
func (s *FollowupSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("followup sweeper already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.isRunning = true
	s.done = make(chan struct{})

	go s.run(runCtx)
	return nil
}

// Stop implements Worker.
func (s *FollowupSweeper) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (s *FollowupSweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("Follow-up sweep failed", zap.Error(err))
			}
		}
	}
}

// sweep processes one batch of due schedules. Transitions run concurrently
// but each case stays serial behind its own lock.
func (s *FollowupSweeper) sweep(ctx context.Context) error {
	due, err := s.followups.ListDue(ctx, time.Now(), s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list due follow-ups: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Info("Sweeping due follow-ups", zap.Int("count", len(due)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, sched := range due {
		sched := sched
		g.Go(func() error {
			if err := s.fire(gctx, sched); err != nil {
				// One stubborn case must not abort the batch.
				s.logger.Error("Follow-up transition failed",
					zap.Int64("case_id", sched.CaseID),
					zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// fire runs one FOLLOWUP_DUE transition, retrying briefly on lock contention.
// The token pins each (schedule, count, due date) occurrence: a retried or
// double-swept reminder replays, while a schedule whose due date was reset
// after an ineligible-state no-op gets a fresh token instead of replaying
// that no-op forever.
func (s *FollowupSweeper) fire(ctx context.Context, sched *entity.FollowupSchedule) error {
	token := fmt.Sprintf("followup_%d_%d_%d", sched.ID, sched.Count, sched.NextDate.UTC().Unix())
	evt := event.New(event.TypeFollowupDue, sched.CaseID,
		event.NewContext(nil).WithToken(token))

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		_, err := s.engine.Transition(ctx, evt)
		if err == nil {
			return nil
		}
		if engine.IsLockContention(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
