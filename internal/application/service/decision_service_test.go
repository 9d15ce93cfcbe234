package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/dispatcher"
	"github.com/mwhitney-dev/caseflow/internal/application/engine"
	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"github.com/mwhitney-dev/caseflow/internal/domain/event"
	"github.com/mwhitney-dev/caseflow/internal/domain/transition"
)

type stubCaseRepo struct {
	c *entity.Case
}

func (s *stubCaseRepo) Create(ctx context.Context, c *entity.Case) error { return nil }

func (s *stubCaseRepo) GetByID(ctx context.Context, id int64) (*entity.Case, error) {
	return s.c, nil
}

func (s *stubCaseRepo) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return nil
}

func (s *stubCaseRepo) List(ctx context.Context, limit, offset int) ([]*entity.Case, error) {
	return nil, nil
}

type stubFollowupRepo struct {
	sched *entity.FollowupSchedule
}

func (s *stubFollowupRepo) GetActiveByCaseID(ctx context.Context, caseID int64) (*entity.FollowupSchedule, error) {
	return s.sched, nil
}

func (s *stubFollowupRepo) Upsert(ctx context.Context, caseID int64, nextDate time.Time, autoSend bool, maxCount int) error {
	return nil
}

func (s *stubFollowupRepo) Advance(ctx context.Context, caseID int64, status *string, nextDate *time.Time, incrementCount bool) error {
	return nil
}

func (s *stubFollowupRepo) BulkUpdateStatus(ctx context.Context, caseID int64, toStatus string, fromStatuses []string) (int64, error) {
	return 0, nil
}

func (s *stubFollowupRepo) ListDue(ctx context.Context, asOf time.Time, limit int) ([]*entity.FollowupSchedule, error) {
	return nil, nil
}

type stubCollaborator struct {
	decision *port.NextActionDecision
	briefs   []port.CaseBrief
}

func (s *stubCollaborator) ProposeNextAction(ctx context.Context, brief port.CaseBrief) (*port.NextActionDecision, error) {
	s.briefs = append(s.briefs, brief)
	return s.decision, nil
}

type stubNotifier struct {
	pending     int
	escalations []string
}

func (s *stubNotifier) NotifyPendingProposal(ctx context.Context, caseID, proposalID int64, actionType, summary string) error {
	s.pending++
	return nil
}

func (s *stubNotifier) NotifyEscalation(ctx context.Context, caseID int64, reason string) error {
	s.escalations = append(s.escalations, reason)
	return nil
}

type stubEngine struct {
	events []*event.Event
	err    error
}

func (s *stubEngine) Transition(ctx context.Context, evt *event.Event) (*engine.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.events = append(s.events, evt)
	return &engine.Result{
		CaseID:     evt.CaseID,
		Event:      evt.Type,
		Mutations:  &transition.MutationSet{},
		Projection: &transition.Projection{CaseID: evt.CaseID, Status: entity.CaseStatusUnderReview},
	}, nil
}

func (s *stubEngine) DryRun(ctx context.Context, evt *event.Event) (*engine.Result, error) {
	return s.Transition(ctx, evt)
}

type decisionFixture struct {
	svc          *DecisionService
	cases        *stubCaseRepo
	proposalRepo *memProposalRepo
	execs        *memExecutionRepo
	collaborator *stubCollaborator
	notifier     *stubNotifier
	engine       *stubEngine
}

func newDecisionFixture() *decisionFixture {
	f := &decisionFixture{
		cases:        &stubCaseRepo{c: &entity.Case{ID: 1, Name: "records request", Status: entity.CaseStatusUnderReview}},
		proposalRepo: newMemProposalRepo(),
		execs:        newMemExecutionRepo(),
		collaborator: &stubCollaborator{decision: &port.NextActionDecision{
			ActionType: entity.ActionSendFollowUp,
			DraftBody:  "Dear officer...",
			Confidence: 0.8,
		}},
		notifier: &stubNotifier{},
		engine:   &stubEngine{},
	}
	proposals := NewProposalService(f.proposalRepo, f.execs, passthroughTx{}, zap.NewNop())
	f.svc = NewDecisionService(f.cases, &stubFollowupRepo{}, proposals, f.collaborator, f.notifier, f.engine, zap.NewNop())
	return f
}

func TestHandleCommitted_ReadyCaseTriggersWakeup(t *testing.T) {
	f := newDecisionFixture()

	n := &dispatcher.Notification{
		CaseID: 1,
		Event:  event.TypeMessageReceived,
		Projection: &transition.Projection{
			CaseID:      1,
			Status:      entity.CaseStatusResponded,
			ReviewState: transition.ReviewStateNone,
		},
	}

	if err := f.svc.HandleCommitted(context.Background(), n); err != nil {
		t.Fatalf("HandleCommitted failed: %v", err)
	}

	if len(f.engine.events) != 1 || f.engine.events[0].Type != event.TypeAgentWakeup {
		t.Fatalf("expected one AGENT_WAKEUP transition, got %v", f.engine.events)
	}
	if len(f.collaborator.briefs) != 0 {
		t.Error("readiness alone must not invoke the collaborator")
	}
}

func TestHandleCommitted_WakeupRunsPipeline(t *testing.T) {
	f := newDecisionFixture()

	n := &dispatcher.Notification{
		CaseID:  1,
		Event:   event.TypeAgentWakeup,
		Context: event.NewContext(map[string]interface{}{"source_message_id": "msg-9"}),
		Projection: &transition.Projection{
			CaseID:      1,
			Status:      entity.CaseStatusUnderReview,
			ReviewState: transition.ReviewStateNone,
		},
	}

	if err := f.svc.HandleCommitted(context.Background(), n); err != nil {
		t.Fatalf("HandleCommitted failed: %v", err)
	}

	if len(f.collaborator.briefs) != 1 {
		t.Fatal("expected the collaborator to be briefed once")
	}
	if f.collaborator.briefs[0].LastMessageID != "msg-9" {
		t.Errorf("brief missing source message, got %q", f.collaborator.briefs[0].LastMessageID)
	}
	if f.notifier.pending != 1 {
		t.Errorf("expected one pending-proposal notification, got %d", f.notifier.pending)
	}
	if len(f.proposalRepo.byID) != 1 {
		t.Errorf("expected one persisted proposal, got %d", len(f.proposalRepo.byID))
	}
}

func TestProposeNextAction_SkipsTerminalCase(t *testing.T) {
	f := newDecisionFixture()
	f.cases.c.Status = entity.CaseStatusCompleted

	p, err := f.svc.ProposeNextAction(context.Background(), 1, "", 0)
	if err != nil {
		t.Fatalf("ProposeNextAction failed: %v", err)
	}
	if p != nil {
		t.Error("terminal cases must not get proposals")
	}
	if len(f.collaborator.briefs) != 0 {
		t.Error("collaborator should not be called for terminal cases")
	}
}

func TestDecide_ApprovalExecutesOnce(t *testing.T) {
	f := newDecisionFixture()

	p, err := f.svc.ProposeNextAction(context.Background(), 1, "msg-1", 0)
	if err != nil {
		t.Fatalf("ProposeNextAction failed: %v", err)
	}
	// The engine transition would flip the status; mirror it in the store.
	f.proposalRepo.byID[p.ID].Status = entity.ProposalStatusApproved

	if _, err := f.svc.Decide(context.Background(), 1, p.ID, true, "looks right", "reviewer-1"); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	var sawDecision, sawSend bool
	for _, evt := range f.engine.events {
		switch evt.Type {
		case event.TypeHumanDecision:
			sawDecision = true
			if evt.Context.GetString("decision") != "approved" {
				t.Errorf("wrong decision payload: %v", evt.Context.Payload)
			}
		case event.TypeMessageSent:
			sawSend = true
			if evt.Context.IdempotencyToken == "" {
				t.Error("execution transition must carry the execution key as its token")
			}
		}
	}
	if !sawDecision || !sawSend {
		t.Errorf("expected decision and send transitions, got %v", f.engine.events)
	}
	if stored := f.proposalRepo.byID[p.ID]; stored.Status != entity.ProposalStatusExecuted {
		t.Errorf("proposal should be EXECUTED, got %s", stored.Status)
	}

	// A duplicate approval replays nothing.
	before := len(f.engine.events)
	f.proposalRepo.byID[p.ID].Status = entity.ProposalStatusApproved
	if _, err := f.svc.Decide(context.Background(), 1, p.ID, true, "", "reviewer-1"); err != nil {
		t.Fatalf("duplicate Decide failed: %v", err)
	}
	sendCount := 0
	for _, evt := range f.engine.events[before:] {
		if evt.Type == event.TypeMessageSent {
			sendCount++
		}
	}
	if sendCount != 0 {
		t.Error("a second approval must not execute the action again")
	}
}

func TestDecide_DismissalNeverExecutes(t *testing.T) {
	f := newDecisionFixture()

	p, err := f.svc.ProposeNextAction(context.Background(), 1, "msg-1", 0)
	if err != nil {
		t.Fatalf("ProposeNextAction failed: %v", err)
	}

	if _, err := f.svc.Decide(context.Background(), 1, p.ID, false, "not needed", "reviewer-1"); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	for _, evt := range f.engine.events {
		if evt.Type == event.TypeMessageSent {
			t.Fatal("dismissed proposals must not execute")
		}
	}
	if f.proposalRepo.byID[p.ID].ExecutionKey != "" {
		t.Error("dismissal must not claim an execution key")
	}
}
