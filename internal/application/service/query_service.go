package service

import (
	"context"
	"fmt"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
)

// CaseDetail aggregates everything an operator screen shows for one case.
type CaseDetail struct {
	Case      *entity.Case          `json:"case"`
	Proposals []*entity.Proposal    `json:"proposals"`
	Ledger    []*entity.LedgerEntry `json:"ledger"`
}

// QueryService serves read-only operator views: case detail, transition
// history and execution records. It never writes.
type QueryService struct {
	cases      port.CaseRepository
	proposals  port.ProposalRepository
	ledger     port.LedgerRepository
	executions port.ExecutionRepository
}

// NewQueryService creates a query service.
func NewQueryService(
	cases port.CaseRepository,
	proposals port.ProposalRepository,
	ledger port.LedgerRepository,
	executions port.ExecutionRepository,
) *QueryService {
	return &QueryService{
		cases:      cases,
		proposals:  proposals,
		ledger:     ledger,
		executions: executions,
	}
}

// GetCaseDetail loads a case with its proposals and recent ledger entries.
func (s *QueryService) GetCaseDetail(ctx context.Context, caseID int64, ledgerLimit int) (*CaseDetail, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("case %d not found", caseID)
	}

	proposals, err := s.proposals.ListByCaseID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if ledgerLimit <= 0 || ledgerLimit > 500 {
		ledgerLimit = 100
	}
	entries, err := s.ledger.ListByCaseID(ctx, caseID, ledgerLimit)
	if err != nil {
		return nil, err
	}

	return &CaseDetail{Case: c, Proposals: proposals, Ledger: entries}, nil
}

// GetPendingProposal returns the case's proposal awaiting review, nil when
// there is none.
func (s *QueryService) GetPendingProposal(ctx context.Context, caseID int64) (*entity.Proposal, error) {
	return s.proposals.GetPendingByCaseID(ctx, caseID)
}

// ListExecutions returns every recorded side effect for a case.
func (s *QueryService) ListExecutions(ctx context.Context, caseID int64) ([]*entity.Execution, error) {
	return s.executions.ListByCaseID(ctx, caseID)
}

// ListLedger returns a case's transition history, most recent first.
func (s *QueryService) ListLedger(ctx context.Context, caseID int64, limit int) ([]*entity.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.ledger.ListByCaseID(ctx, caseID, limit)
}
