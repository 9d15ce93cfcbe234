package transition

import (
	"strings"
	"testing"
	"time"

	"github.com/mwhitney-dev/caseflow/internal/domain/entity"
	"github.com/mwhitney-dev/caseflow/internal/domain/event"
)

var testAt = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newSnapshot(status string) *Snapshot {
	return &Snapshot{
		Case: &entity.Case{ID: 42, Status: status},
	}
}

func TestReduce_CaseCreated(t *testing.T) {
	r := NewReducer(0, 0)

	ms := r.Reduce(newSnapshot(entity.CaseStatusDraft), event.TypeCaseCreated, event.Context{}, testAt)
	if ms.CreateRun == nil || ms.CreateRun.Trigger != entity.RunTriggerIntake {
		t.Fatalf("expected intake run creation, got %+v", ms.CreateRun)
	}
	if ms.Case == nil || ms.Case.Substatus == nil {
		t.Fatal("expected substatus update")
	}

	// Already past draft: nothing to do.
	ms = r.Reduce(newSnapshot(entity.CaseStatusSent), event.TypeCaseCreated, event.Context{}, testAt)
	if !ms.IsEmpty() {
		t.Errorf("expected empty mutation set for non-draft case, got %+v", ms)
	}
}

func TestReduce_MessageSent(t *testing.T) {
	r := NewReducer(7*24*time.Hour, 5)
	snap := newSnapshot(entity.CaseStatusDraft)
	snap.ActiveRun = &entity.AgentRun{ID: 9, CaseID: 42, Status: entity.RunStatusRunning}

	ms := r.Reduce(snap, event.TypeMessageSent, event.Context{}, testAt)
	if ms.Case == nil || *ms.Case.Status != entity.CaseStatusSent || !ms.Case.MarkSent {
		t.Fatalf("expected case marked sent, got %+v", ms.Case)
	}
	if ms.UpsertFollowup == nil {
		t.Fatal("expected follow-up schedule upsert")
	}
	if want := testAt.Add(7 * 24 * time.Hour); !ms.UpsertFollowup.NextDate.Equal(want) {
		t.Errorf("next date = %v, want %v", ms.UpsertFollowup.NextDate, want)
	}
	if ms.UpdateRun == nil || ms.UpdateRun.RunID != 9 || ms.UpdateRun.Status != entity.RunStatusCompleted {
		t.Errorf("expected active run completion, got %+v", ms.UpdateRun)
	}
}

func TestReduce_MessageReceived(t *testing.T) {
	r := NewReducer(0, 0)

	tests := []struct {
		intent        string
		wantStatus    string
		wantSubstatus string
	}{
		{"denial", entity.CaseStatusResponded, "Denial received"},
		{"fulfillment", entity.CaseStatusCompleted, "Records received"},
		{"fee_quote", entity.CaseStatusResponded, "Fee quote received"},
		{"clarification", entity.CaseStatusResponded, "Clarification requested by agency"},
		{"", entity.CaseStatusResponded, "Response received"},
	}

	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			ctx := event.NewContext(map[string]interface{}{"intent": tt.intent})
			ms := r.Reduce(newSnapshot(entity.CaseStatusSent), event.TypeMessageReceived, ctx, testAt)

			if *ms.Case.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", *ms.Case.Status, tt.wantStatus)
			}
			if *ms.Case.Substatus != tt.wantSubstatus {
				t.Errorf("substatus = %s, want %s", *ms.Case.Substatus, tt.wantSubstatus)
			}
			if ms.CancelRuns == nil || ms.CancelRuns.Reason != entity.RunFailureSuperseded {
				t.Errorf("expected run supersession, got %+v", ms.CancelRuns)
			}
			if ms.DismissProposals == nil || ms.DismissProposals.ActionType != "" {
				t.Errorf("expected dismissal of all active proposals, got %+v", ms.DismissProposals)
			}
			if ms.UpdateFollowups == nil || ms.UpdateFollowups.ToStatus != entity.FollowupStatusCancelled {
				t.Errorf("expected follow-up cancellation, got %+v", ms.UpdateFollowups)
			}
		})
	}
}

func TestReduce_MessageReceived_FeeQuoteAmount(t *testing.T) {
	r := NewReducer(0, 0)
	ctx := event.NewContext(map[string]interface{}{"intent": "fee_quote", "fee_cents": 2500})

	ms := r.Reduce(newSnapshot(entity.CaseStatusSent), event.TypeMessageReceived, ctx, testAt)
	if ms.Case.FeeQuoteCents == nil || *ms.Case.FeeQuoteCents != 2500 {
		t.Errorf("expected fee quote of 2500 cents, got %+v", ms.Case.FeeQuoteCents)
	}
}

func TestReduce_FollowupDue(t *testing.T) {
	r := NewReducer(7*24*time.Hour, 5)

	snap := newSnapshot(entity.CaseStatusSent)
	snap.ActiveFollowup = &entity.FollowupSchedule{
		ID: 3, CaseID: 42,
		Status: entity.FollowupStatusScheduled,
		Count:  1, MaxCount: 5, AutoSend: true,
	}

	ms := r.Reduce(snap, event.TypeFollowupDue, event.Context{}, testAt)
	if *ms.Case.Status != entity.CaseStatusAwaitingResponse {
		t.Errorf("status = %s, want awaiting_response", *ms.Case.Status)
	}
	if ms.UpdateFollowup == nil || !ms.UpdateFollowup.IncrementCount {
		t.Fatalf("expected follow-up advance, got %+v", ms.UpdateFollowup)
	}
	if ms.CreateRun == nil || ms.CreateRun.Trigger != entity.RunTriggerFollowup {
		t.Errorf("expected follow-up run, got %+v", ms.CreateRun)
	}

	// With an active run already in flight no new run is created.
	snap.ActiveRun = &entity.AgentRun{ID: 1, Status: entity.RunStatusRunning}
	ms = r.Reduce(snap, event.TypeFollowupDue, event.Context{}, testAt)
	if ms.CreateRun != nil {
		t.Errorf("expected no run creation with one already active")
	}
}

func TestReduce_FollowupDue_MaxReached(t *testing.T) {
	r := NewReducer(0, 0)

	snap := newSnapshot(entity.CaseStatusAwaitingResponse)
	snap.ActiveFollowup = &entity.FollowupSchedule{
		Status: entity.FollowupStatusScheduled,
		Count:  4, MaxCount: 5, AutoSend: true,
	}

	ms := r.Reduce(snap, event.TypeFollowupDue, event.Context{}, testAt)
	if *ms.Case.Status != entity.CaseStatusUnderReview {
		t.Errorf("status = %s, want under_review", *ms.Case.Status)
	}
	if ms.UpdateFollowup == nil || ms.UpdateFollowup.Status == nil || *ms.UpdateFollowup.Status != entity.FollowupStatusMaxReached {
		t.Errorf("expected schedule moved to max_reached, got %+v", ms.UpdateFollowup)
	}
	if ms.CreateRun != nil {
		t.Errorf("expected no run once the limit is hit")
	}
}

func TestReduce_FollowupDue_NoSchedule(t *testing.T) {
	r := NewReducer(0, 0)
	ms := r.Reduce(newSnapshot(entity.CaseStatusSent), event.TypeFollowupDue, event.Context{}, testAt)
	if !ms.IsEmpty() {
		t.Errorf("expected empty set without an active schedule, got %+v", ms)
	}
}

func TestReduce_PortalLifecycle(t *testing.T) {
	r := NewReducer(0, 0)

	ctx := event.NewContext(map[string]interface{}{
		"portal_url": "https://portal.example.gov/request/42",
		"provider":   "govqa",
	})
	ms := r.Reduce(newSnapshot(entity.CaseStatusResponded), event.TypePortalStarted, ctx, testAt)
	if *ms.Case.Status != entity.CaseStatusPortalInProgress {
		t.Fatalf("status = %s, want portal_in_progress", *ms.Case.Status)
	}
	if ms.CreatePortalTask == nil || ms.CreatePortalTask.Status != entity.PortalTaskStatusInProgress {
		t.Fatalf("expected in-progress portal task, got %+v", ms.CreatePortalTask)
	}

	snap := newSnapshot(entity.CaseStatusPortalInProgress)
	snap.ActivePortalTask = &entity.PortalTask{ID: 5, Status: entity.PortalTaskStatusInProgress}
	ms = r.Reduce(snap, event.TypePortalCompleted, event.Context{}, testAt)
	if *ms.Case.Status != entity.CaseStatusSent || !ms.Case.MarkSent {
		t.Errorf("expected case back to sent, got %+v", ms.Case)
	}
	if ms.UpdatePortalTask == nil || ms.UpdatePortalTask.Status != entity.PortalTaskStatusCompleted {
		t.Errorf("expected task completion, got %+v", ms.UpdatePortalTask)
	}
	if ms.DismissProposals == nil || ms.DismissProposals.ActionType != entity.ActionPortalSubmit {
		t.Errorf("expected portal-only proposal dismissal, got %+v", ms.DismissProposals)
	}
	if ms.UpsertFollowup == nil {
		t.Errorf("expected follow-up schedule after portal submission")
	}
}

func TestReduce_PortalFailed_ClearsPortalURL(t *testing.T) {
	r := NewReducer(0, 0)

	snap := newSnapshot(entity.CaseStatusPortalInProgress)
	snap.Case.PortalURL = "https://portal.example.gov/request/42"
	snap.ActivePortalTask = &entity.PortalTask{ID: 5, Status: entity.PortalTaskStatusInProgress}

	ctx := event.NewContext(map[string]interface{}{"reason": "Cancelled - account locked"})
	ms := r.Reduce(snap, event.TypePortalFailed, ctx, testAt)

	if *ms.Case.Status != entity.CaseStatusUnderReview {
		t.Errorf("status = %s, want under_review", *ms.Case.Status)
	}
	if ms.Case.PortalURL == nil || *ms.Case.PortalURL != "" {
		t.Errorf("expected portal URL cleared, got %+v", ms.Case.PortalURL)
	}
	if ms.Case.LastPortalStatus == nil || *ms.Case.LastPortalStatus != "Cancelled - account locked" {
		t.Errorf("expected last portal status stamped, got %+v", ms.Case.LastPortalStatus)
	}
	if ms.UpdatePortalTask == nil || ms.UpdatePortalTask.Status != entity.PortalTaskStatusFailed {
		t.Errorf("expected task failed, got %+v", ms.UpdatePortalTask)
	}
}

func TestReduce_PortalTimedOut_CancelsTask(t *testing.T) {
	r := NewReducer(0, 0)

	snap := newSnapshot(entity.CaseStatusPortalInProgress)
	snap.ActivePortalTask = &entity.PortalTask{ID: 5, Status: entity.PortalTaskStatusPending}

	ms := r.Reduce(snap, event.TypePortalTimedOut, event.Context{}, testAt)
	if ms.UpdatePortalTask == nil || ms.UpdatePortalTask.Status != entity.PortalTaskStatusCancelled {
		t.Errorf("expected task cancelled, got %+v", ms.UpdatePortalTask)
	}
}

func TestReduce_HumanDecision(t *testing.T) {
	r := NewReducer(0, 0)

	snap := newSnapshot(entity.CaseStatusUnderReview)
	snap.ActiveProposals = []*entity.Proposal{
		{ID: 7, CaseID: 42, Status: entity.ProposalStatusPendingApproval, ActionType: entity.ActionSendFollowUp},
	}

	ctx := event.NewContext(map[string]interface{}{
		"proposal_id": int64(7),
		"decision":    "approved",
		"reviewer":    "ops@example.com",
		"note":        "looks good",
	})
	ms := r.Reduce(snap, event.TypeHumanDecision, ctx, testAt)
	if ms.UpdateProposal == nil || *ms.UpdateProposal.Status != entity.ProposalStatusApproved {
		t.Fatalf("expected approval, got %+v", ms.UpdateProposal)
	}
	if ms.UpdateProposal.HumanDecision["reviewer"] != "ops@example.com" {
		t.Errorf("expected reviewer in decision record")
	}
	if !ms.UpdateProposal.MarkDecided {
		t.Errorf("expected decided timestamp")
	}

	// Decision on an unknown or non-pending proposal is a no-op.
	ctx = event.NewContext(map[string]interface{}{"proposal_id": int64(99), "decision": "approved"})
	if ms := r.Reduce(snap, event.TypeHumanDecision, ctx, testAt); !ms.IsEmpty() {
		t.Errorf("expected empty set for unknown proposal, got %+v", ms)
	}
}

func TestReduce_HumanDecision_Escalate(t *testing.T) {
	r := NewReducer(0, 0)

	snap := newSnapshot(entity.CaseStatusResponded)
	snap.ActiveProposals = []*entity.Proposal{
		{ID: 7, Status: entity.ProposalStatusPendingApproval},
	}
	ctx := event.NewContext(map[string]interface{}{
		"proposal_id": int64(7),
		"decision":    "dismissed",
		"escalate":    true,
	})

	ms := r.Reduce(snap, event.TypeHumanDecision, ctx, testAt)
	if ms.Case == nil || *ms.Case.Status != entity.CaseStatusUnderReview {
		t.Errorf("expected escalation to under_review, got %+v", ms.Case)
	}
}

func TestReduce_StuckRun(t *testing.T) {
	r := NewReducer(0, 0)

	snap := newSnapshot(entity.CaseStatusUnderReview)
	snap.ActiveRun = &entity.AgentRun{ID: 4, Status: entity.RunStatusRunning}

	ms := r.Reduce(snap, event.TypeStuckRunDetected, event.Context{}, testAt)
	if ms.UpdateRun == nil || ms.UpdateRun.FailureReason != entity.RunFailureStuck {
		t.Fatalf("expected stuck failure, got %+v", ms.UpdateRun)
	}
	if *ms.Case.Substatus != "Automation stalled" {
		t.Errorf("substatus = %s", *ms.Case.Substatus)
	}

	if ms := r.Reduce(newSnapshot(entity.CaseStatusUnderReview), event.TypeStuckRunDetected, event.Context{}, testAt); !ms.IsEmpty() {
		t.Errorf("expected empty set without an active run")
	}
}

func TestReduce_AgentWakeup(t *testing.T) {
	r := NewReducer(0, 0)

	ms := r.Reduce(newSnapshot(entity.CaseStatusResponded), event.TypeAgentWakeup, event.Context{}, testAt)
	if *ms.Case.Status != entity.CaseStatusUnderReview {
		t.Errorf("status = %s, want under_review", *ms.Case.Status)
	}
	if ms.CreateRun == nil || ms.CreateRun.Trigger != entity.RunTriggerReactive {
		t.Errorf("expected reactive run, got %+v", ms.CreateRun)
	}

	if ms := r.Reduce(newSnapshot(entity.CaseStatusSent), event.TypeAgentWakeup, event.Context{}, testAt); !ms.IsEmpty() {
		t.Errorf("wakeup outside responded should be a no-op")
	}
}

func TestReduce_Deterministic(t *testing.T) {
	r := NewReducer(24*time.Hour, 3)
	snap := newSnapshot(entity.CaseStatusSent)
	ctx := event.NewContext(map[string]interface{}{"intent": "denial"})

	a := r.Reduce(snap, event.TypeMessageReceived, ctx, testAt)
	b := r.Reduce(snap, event.TypeMessageReceived, ctx, testAt)

	if *a.Case.Status != *b.Case.Status || *a.Case.Substatus != *b.Case.Substatus {
		t.Errorf("reducer output differs across identical invocations")
	}
}

func TestTruncateSubstatus(t *testing.T) {
	long := strings.Repeat("a", 500)
	if got := TruncateSubstatus(long); len([]rune(got)) != MaxSubstatusLen {
		t.Errorf("truncated length = %d, want %d", len([]rune(got)), MaxSubstatusLen)
	}
	if got := TruncateSubstatus("short"); got != "short" {
		t.Errorf("short substatus should be untouched, got %q", got)
	}
}

func TestProject(t *testing.T) {
	snap := newSnapshot(entity.CaseStatusSent)
	snap.Case.Substatus = "Request sent to agency"
	snap.ActiveProposals = []*entity.Proposal{
		{ID: 1, Status: entity.ProposalStatusPendingApproval},
	}
	snap.ActivePortalTask = &entity.PortalTask{Status: entity.PortalTaskStatusInProgress}

	p := Project(snap)
	if p.CaseID != 42 || p.Status != entity.CaseStatusSent {
		t.Errorf("unexpected projection %+v", p)
	}
	if p.ReviewState != ReviewStatePendingApproval {
		t.Errorf("review state = %s, want pending_approval", p.ReviewState)
	}
	if p.PortalStatus != entity.PortalTaskStatusInProgress {
		t.Errorf("portal status = %s", p.PortalStatus)
	}
}

func TestSnapshot_Overlay(t *testing.T) {
	r := NewReducer(0, 0)
	snap := newSnapshot(entity.CaseStatusSent)
	snap.ActiveProposals = []*entity.Proposal{
		{ID: 1, Status: entity.ProposalStatusPendingApproval, ActionType: entity.ActionSendFollowUp},
	}
	snap.ActiveFollowup = &entity.FollowupSchedule{Status: entity.FollowupStatusScheduled}

	ctx := event.NewContext(map[string]interface{}{"intent": "denial"})
	ms := r.Reduce(snap, event.TypeMessageReceived, ctx, testAt)

	after := snap.Overlay(ms)
	if after.Case.Status != entity.CaseStatusResponded {
		t.Errorf("overlay status = %s, want responded", after.Case.Status)
	}
	if len(after.ActiveProposals) != 0 {
		t.Errorf("overlay should drop dismissed proposals, got %d", len(after.ActiveProposals))
	}
	// Original snapshot is untouched.
	if snap.Case.Status != entity.CaseStatusSent {
		t.Errorf("overlay mutated its input")
	}

	proj := Project(after)
	if !proj.ReadyForNextAction() {
		t.Errorf("responded projection should be ready for next action")
	}
}
