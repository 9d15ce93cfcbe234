package service

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
)

// Mock repositories

type memProposalRepo struct {
	nextID    int64
	byID      map[int64]*entity.Proposal
	createErr error
	updates   int
}

func newMemProposalRepo() *memProposalRepo {
	return &memProposalRepo{nextID: 1, byID: make(map[int64]*entity.Proposal)}
}

func (m *memProposalRepo) Create(ctx context.Context, p *entity.Proposal) error {
	if m.createErr != nil {
		return m.createErr
	}
	p.ID = m.nextID
	m.nextID++
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *memProposalRepo) GetByID(ctx context.Context, id int64) (*entity.Proposal, error) {
	if p, ok := m.byID[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (m *memProposalRepo) GetByKey(ctx context.Context, key string) (*entity.Proposal, error) {
	for _, p := range m.byID {
		if p.ProposalKey == key {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memProposalRepo) GetPendingByCaseID(ctx context.Context, caseID int64) (*entity.Proposal, error) {
	for _, p := range m.byID {
		if p.CaseID == caseID && p.Status == entity.ProposalStatusPendingApproval {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memProposalRepo) GetActiveByCaseID(ctx context.Context, caseID int64) ([]*entity.Proposal, error) {
	return nil, nil
}

func (m *memProposalRepo) ListByCaseID(ctx context.Context, caseID int64) ([]*entity.Proposal, error) {
	return nil, nil
}

func (m *memProposalRepo) UpdateContent(ctx context.Context, id int64, p *entity.Proposal) error {
	m.updates++
	stored := m.byID[id]
	stored.ActionType = p.ActionType
	stored.DraftSubject = p.DraftSubject
	stored.DraftBody = p.DraftBody
	stored.Reasoning = p.Reasoning
	stored.Confidence = p.Confidence
	stored.RiskFlags = p.RiskFlags
	return nil
}

func (m *memProposalRepo) UpdateDecision(ctx context.Context, id int64, status string, decision map[string]interface{}, markDecided bool) error {
	if status != "" {
		m.byID[id].Status = status
	}
	return nil
}

func (m *memProposalRepo) DismissActive(ctx context.Context, caseID int64, reason, actionType string) (int64, error) {
	return 0, nil
}

func (m *memProposalRepo) ClaimExecution(ctx context.Context, id int64, executionKey string) (bool, error) {
	p := m.byID[id]
	if p.ExecutionKey != "" || p.Status == entity.ProposalStatusExecuted {
		return false, nil
	}
	p.ExecutionKey = executionKey
	return true, nil
}

type memExecutionRepo struct {
	byKey map[string]*entity.Execution
}

func newMemExecutionRepo() *memExecutionRepo {
	return &memExecutionRepo{byKey: make(map[string]*entity.Execution)}
}

func (m *memExecutionRepo) Claim(ctx context.Context, exec *entity.Execution) (bool, error) {
	if _, ok := m.byKey[exec.ExecutionKey]; ok {
		return false, nil
	}
	exec.ID = int64(len(m.byKey) + 1)
	cp := *exec
	m.byKey[exec.ExecutionKey] = &cp
	return true, nil
}

func (m *memExecutionRepo) GetByKey(ctx context.Context, executionKey string) (*entity.Execution, error) {
	if e, ok := m.byKey[executionKey]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (m *memExecutionRepo) ListByCaseID(ctx context.Context, caseID int64) ([]*entity.Execution, error) {
	return nil, nil
}

func (m *memExecutionRepo) UpdateStatus(ctx context.Context, id int64, status, errorDetail string) error {
	for _, e := range m.byKey {
		if e.ID == id {
			e.Status = status
			e.ErrorDetail = errorDetail
		}
	}
	return nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newProposalService(repo *memProposalRepo, execs *memExecutionRepo) *ProposalService {
	return NewProposalService(repo, execs, passthroughTx{}, zap.NewNop())
}

func TestUpsertFromDecision_CreatesPending(t *testing.T) {
	repo := newMemProposalRepo()
	svc := newProposalService(repo, newMemExecutionRepo())

	decision := &port.NextActionDecision{
		ActionType:   entity.ActionSendFollowUp,
		DraftSubject: "Following up on request 42",
		DraftBody:    "Dear records officer...",
		Confidence:   0.9,
	}

	p, err := svc.UpsertFromDecision(context.Background(), 1, decision, "msg-1", 0)
	if err != nil {
		t.Fatalf("UpsertFromDecision failed: %v", err)
	}
	if p.Status != entity.ProposalStatusPendingApproval {
		t.Errorf("expected pending status, got %s", p.Status)
	}
	if p.ProposalKey != entity.DeriveProposalKey(1, "msg-1", entity.ActionSendFollowUp, 0) {
		t.Errorf("unexpected proposal key %s", p.ProposalKey)
	}
}

func TestUpsertFromDecision_EmptyDraftDowngradesToEscalation(t *testing.T) {
	repo := newMemProposalRepo()
	svc := newProposalService(repo, newMemExecutionRepo())

	decision := &port.NextActionDecision{
		ActionType: entity.ActionSendFollowUp,
		DraftBody:  "   ",
		Confidence: 0.8,
	}

	p, err := svc.UpsertFromDecision(context.Background(), 1, decision, "msg-1", 0)
	if err != nil {
		t.Fatalf("UpsertFromDecision failed: %v", err)
	}
	if p.ActionType != entity.ActionEscalateToHuman {
		t.Errorf("expected downgrade to escalation, got %s", p.ActionType)
	}
	if !strings.Contains(p.RiskFlags, "missing_draft") {
		t.Errorf("expected missing_draft risk flag, got %q", p.RiskFlags)
	}
}

func TestUpsertFromDecision_RetryRewritesPendingRow(t *testing.T) {
	repo := newMemProposalRepo()
	svc := newProposalService(repo, newMemExecutionRepo())

	first := &port.NextActionDecision{ActionType: entity.ActionSendFollowUp, DraftBody: "v1", Confidence: 0.7}
	second := &port.NextActionDecision{ActionType: entity.ActionSendFollowUp, DraftBody: "v2", Confidence: 0.85}

	p1, err := svc.UpsertFromDecision(context.Background(), 1, first, "msg-1", 0)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	p2, err := svc.UpsertFromDecision(context.Background(), 1, second, "msg-1", 0)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	if p2.ID != p1.ID {
		t.Errorf("retry created a new row: %d vs %d", p2.ID, p1.ID)
	}
	if p2.DraftBody != "v2" {
		t.Errorf("pending proposal content not rewritten: %q", p2.DraftBody)
	}
	if repo.updates != 1 {
		t.Errorf("expected exactly one content update, got %d", repo.updates)
	}
}

func TestUpsertFromDecision_TerminalProposalIsImmutable(t *testing.T) {
	repo := newMemProposalRepo()
	svc := newProposalService(repo, newMemExecutionRepo())

	decision := &port.NextActionDecision{ActionType: entity.ActionSendFollowUp, DraftBody: "v1", Confidence: 0.7}
	p1, err := svc.UpsertFromDecision(context.Background(), 1, decision, "msg-1", 0)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	repo.byID[p1.ID].Status = entity.ProposalStatusDismissed

	retry := &port.NextActionDecision{ActionType: entity.ActionSendFollowUp, DraftBody: "rewritten", Confidence: 0.95}
	p2, err := svc.UpsertFromDecision(context.Background(), 1, retry, "msg-1", 0)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	if p2.Status != entity.ProposalStatusDismissed {
		t.Errorf("terminal proposal was reopened: %s", p2.Status)
	}
	if p2.DraftBody != "v1" {
		t.Errorf("terminal proposal content was rewritten: %q", p2.DraftBody)
	}
	if repo.updates != 0 {
		t.Errorf("expected no content updates, got %d", repo.updates)
	}
}

func TestUpsertFromDecision_SinglePendingPerCase(t *testing.T) {
	repo := newMemProposalRepo()
	svc := newProposalService(repo, newMemExecutionRepo())

	first := &port.NextActionDecision{ActionType: entity.ActionSendFollowUp, DraftBody: "v1", Confidence: 0.7}
	p1, err := svc.UpsertFromDecision(context.Background(), 1, first, "msg-1", 0)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	// Different source message, so a different key.
	other := &port.NextActionDecision{ActionType: entity.ActionSendClarification, DraftBody: "v2", Confidence: 0.6}
	p2, err := svc.UpsertFromDecision(context.Background(), 1, other, "msg-2", 0)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	if p2.ID != p1.ID {
		t.Errorf("a second pending proposal was created for the same case")
	}
	if len(repo.byID) != 1 {
		t.Errorf("expected one stored proposal, got %d", len(repo.byID))
	}
}

func TestClaimExecution_WinsOnce(t *testing.T) {
	repo := newMemProposalRepo()
	execs := newMemExecutionRepo()
	svc := newProposalService(repo, execs)

	decision := &port.NextActionDecision{ActionType: entity.ActionSendFollowUp, DraftBody: "v1", Confidence: 0.7}
	p, err := svc.UpsertFromDecision(context.Background(), 1, decision, "msg-1", 0)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	repo.byID[p.ID].Status = entity.ProposalStatusApproved

	key, won, err := svc.ClaimExecution(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if !won {
		t.Fatal("first claim should win")
	}
	if key == "" {
		t.Fatal("expected a non-empty execution key")
	}

	_, won2, err := svc.ClaimExecution(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if won2 {
		t.Error("second claim must not win")
	}

	exec, err := execs.GetByKey(context.Background(), key)
	if err != nil || exec == nil {
		t.Fatalf("expected an execution record for key %s", key)
	}
	if exec.ProposalID != p.ID {
		t.Errorf("execution points at wrong proposal: %d", exec.ProposalID)
	}
}

func TestClaimExecution_RejectsUnapproved(t *testing.T) {
	repo := newMemProposalRepo()
	svc := newProposalService(repo, newMemExecutionRepo())

	decision := &port.NextActionDecision{ActionType: entity.ActionSendFollowUp, DraftBody: "v1", Confidence: 0.7}
	p, err := svc.UpsertFromDecision(context.Background(), 1, decision, "msg-1", 0)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if _, _, err := svc.ClaimExecution(context.Background(), p.ID); err == nil {
		t.Error("expected an error claiming a pending proposal")
	}
}

func TestMarkExecutionFailed_RecordsDetail(t *testing.T) {
	repo := newMemProposalRepo()
	execs := newMemExecutionRepo()
	svc := newProposalService(repo, execs)

	decision := &port.NextActionDecision{ActionType: entity.ActionSendFollowUp, DraftBody: "v1", Confidence: 0.7}
	p, _ := svc.UpsertFromDecision(context.Background(), 1, decision, "msg-1", 0)
	repo.byID[p.ID].Status = entity.ProposalStatusApproved
	key, _, _ := svc.ClaimExecution(context.Background(), p.ID)

	if err := svc.MarkExecutionFailed(context.Background(), key, "smtp timeout"); err != nil {
		t.Fatalf("MarkExecutionFailed failed: %v", err)
	}

	exec, _ := execs.GetByKey(context.Background(), key)
	if exec.Status != entity.ExecutionStatusFailed {
		t.Errorf("expected FAILED, got %s", exec.Status)
	}
	if exec.ErrorDetail != "smtp timeout" {
		t.Errorf("expected error detail to be recorded, got %q", exec.ErrorDetail)
	}
}
