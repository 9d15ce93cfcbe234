package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/engine"
	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/application/service"
	"github.com/mwhitney-dev/caseflow/internal/domain/event"
)

// StuckDetector finds agent runs that stopped progressing and reports them
// to the engine as STUCK_RUN_DETECTED. The engine, not the detector, decides
// what a stuck run means for the case.
type StuckDetector struct {
	runs   port.AgentRunRepository
	engine service.Transitioner
	logger *zap.Logger

	checkInterval  time.Duration
	staleThreshold time.Duration
	batchSize      int

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewStuckDetector creates a stuck-run detector.
func NewStuckDetector(runs port.AgentRunRepository, eng service.Transitioner, checkInterval, staleThreshold time.Duration, logger *zap.Logger) *StuckDetector {
	if checkInterval <= 0 {
		checkInterval = 5 * time.Minute
	}
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}
	return &StuckDetector{
		runs:           runs,
		engine:         eng,
		logger:         logger,
		checkInterval:  checkInterval,
		staleThreshold: staleThreshold,
		batchSize:      50,
	}
}

// Name implements Worker.
func (d *StuckDetector) Name() string { return "stuck_detector" }

// Start implements Worker.
func (d *StuckDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isRunning {
		return fmt.Errorf("stuck detector already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.isRunning = true
	d.done = make(chan struct{})

	go d.run(runCtx)
	return nil
}

// Stop implements Worker.
func (d *StuckDetector) Stop() error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = false
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (d *StuckDetector) run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.check(ctx); err != nil {
				d.logger.Error("Stuck-run check failed", zap.Error(err))
			}
		}
	}
}

func (d *StuckDetector) check(ctx context.Context) error {
	cutoff := time.Now().Add(-d.staleThreshold)
	stale, err := d.runs.ListStale(ctx, cutoff, d.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list stale runs: %w", err)
	}

	for _, run := range stale {
		d.logger.Warn("Stale run detected",
			zap.Int64("run_id", run.ID),
			zap.Int64("case_id", run.CaseID),
			zap.String("status", run.Status))

		// The run id pins the token: reporting the same stuck run twice
		// replays the first report.
		evt := event.New(event.TypeStuckRunDetected, run.CaseID,
			event.NewContext(map[string]interface{}{
				"run_id": run.ID,
			}).WithToken(fmt.Sprintf("stuck_%d", run.ID)))

		if _, err := d.engine.Transition(ctx, evt); err != nil {
			if engine.IsLockContention(err) {
				// Someone is actively working the case, so it is not stuck
				// from the operator's point of view. Next pass decides.
				continue
			}
			d.logger.Error("Stuck-run transition failed",
				zap.Int64("case_id", run.CaseID),
				zap.Error(err))
		}
	}
	return nil
}
