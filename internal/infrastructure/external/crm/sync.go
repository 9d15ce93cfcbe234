// Package crm holds the external-system synchronization adapter. The real
// mirror is not built yet; LogSync records each trigger so the wiring is
// observable until a concrete backend lands.
package crm

import (
	"context"

	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
)

// LogSync implements port.ExternalSync by logging the sync trigger and
// doing nothing else.
type LogSync struct {
	logger *zap.Logger
}

var _ port.ExternalSync = (*LogSync)(nil)

// NewLogSync creates a logging external-sync adapter.
func NewLogSync(logger *zap.Logger) *LogSync {
	return &LogSync{logger: logger}
}

// SyncCase records that a sync was requested for the case.
func (s *LogSync) SyncCase(ctx context.Context, caseID int64) error {
	s.logger.Info("External sync triggered", zap.Int64("case_id", caseID))
	return nil
}
