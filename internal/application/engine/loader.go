package engine

import (
	"context"
	"fmt"

	"github.com/mwhitney-dev/caseflow/internal/domain/transition"
)

// loadSnapshot reads the case and its active related entities inside the
// current transaction. Reads are sequential: a *sql.Tx is not safe for
// concurrent use, and the row counts here are tiny.
func (e *Engine) loadSnapshot(ctx context.Context, caseID int64) (*transition.Snapshot, error) {
	c, err := e.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}
	if c == nil {
		return nil, &CaseNotFoundError{CaseID: caseID}
	}

	run, err := e.runs.GetActiveByCaseID(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active run: %w", err)
	}

	proposals, err := e.proposals.GetActiveByCaseID(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active proposals: %w", err)
	}

	task, err := e.portalTasks.GetActiveByCaseID(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active portal task: %w", err)
	}

	followup, err := e.followups.GetActiveByCaseID(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load followup schedule: %w", err)
	}

	return &transition.Snapshot{
		Case:             c,
		ActiveRun:        run,
		ActiveProposals:  proposals,
		ActivePortalTask: task,
		ActiveFollowup:   followup,
	}, nil
}
