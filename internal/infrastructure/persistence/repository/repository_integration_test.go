package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mwhitney-dev/caseflow/internal/application/port"
	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"github.com/mwhitney-dev/caseflow/internal/infrastructure/persistence/sqlite"
	"github.com/mwhitney-dev/caseflow/pkg/database"
)

// newTestDB opens an in-memory database with the real schema applied.
// A single connection keeps every query on the same memory store.
func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator := database.NewMigrator(db, logger)
	require.NoError(t, migrator.RunMigrations("../../../../migrations"))

	return db
}

func createCase(t *testing.T, cases port.CaseRepository) *entity.Case {
	t.Helper()
	c := &entity.Case{
		Name:        "Trademark renewal - ACME",
		Status:      entity.CaseStatusDraft,
		AgencyID:    7,
		AgencyEmail: "agent@example.gov",
	}
	require.NoError(t, cases.Create(context.Background(), c))
	require.NotZero(t, c.ID)
	return c
}

func TestCaseRepositoryRoundTrip(t *testing.T) {
	db := newTestDB(t)
	cases := NewCaseRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	created := createCase(t, cases)

	got, err := cases.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Trademark renewal - ACME", got.Name)
	assert.Equal(t, entity.CaseStatusDraft, got.Status)
	assert.Equal(t, int64(7), got.AgencyID)
	assert.Nil(t, got.SentAt)

	err = cases.UpdateFields(ctx, created.ID, map[string]interface{}{
		"status":    entity.CaseStatusSent,
		"substatus": "Initial filing sent",
		"sent_at":   time.Now().UTC(),
	})
	require.NoError(t, err)

	got, err = cases.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.CaseStatusSent, got.Status)
	assert.Equal(t, "Initial filing sent", got.Substatus)
	require.NotNil(t, got.SentAt)

	missing, err := cases.GetByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLedgerTokenUniquePerCase(t *testing.T) {
	db := newTestDB(t)
	cases := NewCaseRepository(db.DB, zap.NewNop())
	ledger := NewLedgerRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	c := createCase(t, cases)

	entry := &entity.LedgerEntry{
		CaseID:           c.ID,
		Event:            "MESSAGE_RECEIVED",
		IdempotencyToken: "msg_abc",
		Context:          `{"message_id":"abc"}`,
		Mutations:        `{}`,
		Projection:       `{}`,
	}
	require.NoError(t, ledger.Append(ctx, entry))

	found, err := ledger.GetByToken(ctx, c.ID, "msg_abc")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "MESSAGE_RECEIVED", found.Event)

	// Same token again on the same case must be rejected by the store
	dup := &entity.LedgerEntry{
		CaseID:           c.ID,
		Event:            "MESSAGE_RECEIVED",
		IdempotencyToken: "msg_abc",
		Context:          `{}`,
		Mutations:        `{}`,
		Projection:       `{}`,
	}
	assert.Error(t, ledger.Append(ctx, dup))

	// Untokened entries never collide
	for i := 0; i < 2; i++ {
		require.NoError(t, ledger.Append(ctx, &entity.LedgerEntry{
			CaseID: c.ID, Event: "AGENT_WAKEUP",
			Context: `{}`, Mutations: `{}`, Projection: `{}`,
		}))
	}

	entries, err := ledger.ListByCaseID(ctx, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Most recent first
	assert.Equal(t, "AGENT_WAKEUP", entries[0].Event)
	assert.Equal(t, "MESSAGE_RECEIVED", entries[2].Event)

	unseen, err := ledger.GetByToken(ctx, c.ID, "msg_never")
	require.NoError(t, err)
	assert.Nil(t, unseen)
}

func TestProposalSinglePendingPerCase(t *testing.T) {
	db := newTestDB(t)
	cases := NewCaseRepository(db.DB, zap.NewNop())
	proposals := NewProposalRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	c := createCase(t, cases)

	first := &entity.Proposal{
		CaseID:      c.ID,
		ProposalKey: entity.DeriveProposalKey(c.ID, "msg_1", "send_follow_up", 0),
		ActionType:  "send_follow_up",
		Status:      entity.ProposalStatusPendingApproval,
		DraftBody:   "Following up on our renewal request.",
		Confidence:  0.8,
	}
	require.NoError(t, proposals.Create(ctx, first))

	second := &entity.Proposal{
		CaseID:      c.ID,
		ProposalKey: entity.DeriveProposalKey(c.ID, "msg_2", "send_follow_up", 0),
		ActionType:  "send_follow_up",
		Status:      entity.ProposalStatusPendingApproval,
		DraftBody:   "Competing draft.",
	}
	assert.Error(t, proposals.Create(ctx, second), "second pending proposal for the case must hit the partial unique index")

	pending, err := proposals.GetPendingByCaseID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, first.ID, pending.ID)

	byKey, err := proposals.GetByKey(ctx, first.ProposalKey)
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, first.ID, byKey.ID)
}

func TestProposalClaimExecutionOnce(t *testing.T) {
	db := newTestDB(t)
	cases := NewCaseRepository(db.DB, zap.NewNop())
	proposals := NewProposalRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	c := createCase(t, cases)

	p := &entity.Proposal{
		CaseID:      c.ID,
		ProposalKey: entity.DeriveProposalKey(c.ID, "msg_1", "send_follow_up", 0),
		ActionType:  "send_follow_up",
		Status:      entity.ProposalStatusPendingApproval,
		DraftBody:   "draft",
	}
	require.NoError(t, proposals.Create(ctx, p))
	require.NoError(t, proposals.UpdateDecision(ctx, p.ID,
		entity.ProposalStatusApproved, map[string]interface{}{"decision": "approved", "reviewer": "ops"}, true))

	won, err := proposals.ClaimExecution(ctx, p.ID, "exec_key_1")
	require.NoError(t, err)
	assert.True(t, won)

	again, err := proposals.ClaimExecution(ctx, p.ID, "exec_key_other")
	require.NoError(t, err)
	assert.False(t, again, "execution key is set exactly once")

	got, err := proposals.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "exec_key_1", got.ExecutionKey)
	assert.Equal(t, entity.ProposalStatusApproved, got.Status)
	assert.Contains(t, got.HumanDecision, `"reviewer":"ops"`)
	assert.NotNil(t, got.DecidedAt)
}

func TestExecutionClaimOnce(t *testing.T) {
	db := newTestDB(t)
	cases := NewCaseRepository(db.DB, zap.NewNop())
	proposals := NewProposalRepository(db.DB, zap.NewNop())
	executions := NewExecutionRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	c := createCase(t, cases)
	p := &entity.Proposal{
		CaseID:      c.ID,
		ProposalKey: entity.DeriveProposalKey(c.ID, "msg_1", "send_follow_up", 0),
		ActionType:  "send_follow_up",
		Status:      entity.ProposalStatusApproved,
	}
	require.NoError(t, proposals.Create(ctx, p))

	exec := &entity.Execution{
		CaseID:       c.ID,
		ProposalID:   p.ID,
		ExecutionKey: "exec_once",
		Kind:         "send_follow_up",
		Status:       entity.ExecutionStatusSent,
	}
	won, err := executions.Claim(ctx, exec)
	require.NoError(t, err)
	assert.True(t, won)

	dup := &entity.Execution{
		CaseID: c.ID, ProposalID: p.ID,
		ExecutionKey: "exec_once", Kind: "send_follow_up",
		Status: entity.ExecutionStatusSent,
	}
	won, err = executions.Claim(ctx, dup)
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, executions.UpdateStatus(ctx, exec.ID, entity.ExecutionStatusFailed, "smtp timeout"))

	got, err := executions.GetByKey(ctx, "exec_once")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.ExecutionStatusFailed, got.Status)
	assert.Equal(t, "smtp timeout", got.ErrorDetail)

	list, err := executions.ListByCaseID(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFollowupScheduleLifecycle(t *testing.T) {
	db := newTestDB(t)
	cases := NewCaseRepository(db.DB, zap.NewNop())
	followups := NewFollowupRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	c := createCase(t, cases)
	next := time.Now().Add(-time.Hour).UTC()

	require.NoError(t, followups.Upsert(ctx, c.ID, next, true, 5))

	active, err := followups.GetActiveByCaseID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, entity.FollowupStatusScheduled, active.Status)
	assert.True(t, active.AutoSend)

	due, err := followups.ListDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, c.ID, due[0].CaseID)

	later := time.Now().Add(24 * time.Hour).UTC()
	require.NoError(t, followups.Advance(ctx, c.ID, nil, &later, true))

	active, err = followups.GetActiveByCaseID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 1, active.Count)

	due, err = followups.ListDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "advanced schedule is no longer due")

	n, err := followups.BulkUpdateStatus(ctx, c.ID, entity.FollowupStatusCancelled, entity.ActiveFollowupStatuses)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err = followups.GetActiveByCaseID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestAgentRunCancelAndStale(t *testing.T) {
	db := newTestDB(t)
	cases := NewCaseRepository(db.DB, zap.NewNop())
	runs := NewAgentRunRepository(db.DB, zap.NewNop())
	ctx := context.Background()

	c := createCase(t, cases)

	run := &entity.AgentRun{CaseID: c.ID, Status: entity.RunStatusRunning, Trigger: "intake"}
	require.NoError(t, runs.Create(ctx, run))

	active, err := runs.GetActiveByCaseID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, run.ID, active.ID)

	stale, err := runs.ListStale(ctx, time.Now().Add(time.Hour).UTC(), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	n, err := runs.CancelActiveExcept(ctx, c.ID, nil, "superseded")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err = runs.GetActiveByCaseID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	got, err := runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusFailed, got.Status)
	assert.Equal(t, "superseded", got.FailureReason)
}

func TestTransactionRollbackLeavesNoRows(t *testing.T) {
	db := newTestDB(t)
	logger := zap.NewNop()
	cases := NewCaseRepository(db.DB, logger)
	txManager := sqlite.NewDB(db.DB, logger)
	ctx := context.Background()

	boom := errors.New("boom")
	var insertedID int64
	err := txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		c := &entity.Case{Name: "doomed", Status: entity.CaseStatusDraft}
		if err := cases.Create(txCtx, c); err != nil {
			return err
		}
		insertedID = c.ID
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NotZero(t, insertedID)

	got, err := cases.GetByID(ctx, insertedID)
	require.NoError(t, err)
	assert.Nil(t, got, "rolled-back insert must not be visible")
}
