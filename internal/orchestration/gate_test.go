package orchestration

import (
	"context"
	"testing"

	"claimpilot/internal/llm"
	"claimpilot/internal/store"
)

func TestGateEvaluate_Clean(t *testing.T) {
	t.Parallel()

	business := newTestBusiness(t)
	runID := seedRun(t, business, store.RunStatusProcessing)

	gate := NewGate(business, nil)
	got, err := gate.Evaluate(context.Background(), NewState(runID, "sess", "hi", 10))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if got.Blocked {
		t.Error("clean run reported blocked")
	}
	if got.Gate == nil || got.Gate.Blocked {
		t.Errorf("gate snapshot = %+v", got.Gate)
	}
}

func TestGateEvaluate_BlockedByTask(t *testing.T) {
	t.Parallel()

	business := newTestBusiness(t)
	ctx := context.Background()
	runID := seedRun(t, business, store.RunStatusProcessing)

	err := business.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.InsertReviewTask(store.ReviewTask{
			RunID: runID, Title: "Confirm Ada's rate",
			Severity: store.SeverityBlocking, Status: store.StatusOpen,
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed error: %v", err)
	}

	gate := NewGate(business, nil)
	got, err := gate.Evaluate(ctx, NewState(runID, "sess", "hi", 10))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !got.Blocked {
		t.Error("open blocking task should block the run")
	}
	if len(got.Gate.Tasks) != 1 {
		t.Errorf("tasks = %d, want 1", len(got.Gate.Tasks))
	}
}

func TestGateEvaluate_WarningDoesNotBlock(t *testing.T) {
	t.Parallel()

	business := newTestBusiness(t)
	ctx := context.Background()
	runID := seedRun(t, business, store.RunStatusProcessing)

	err := business.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.InsertContradiction(store.Contradiction{
			RunID: runID, Severity: store.SeverityWarning, Status: store.StatusOpen, Title: "minor mismatch",
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed error: %v", err)
	}

	gate := NewGate(business, nil)
	got, err := gate.Evaluate(ctx, NewState(runID, "sess", "hi", 10))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if got.Blocked {
		t.Error("warning severity should not block")
	}
}

func TestGateEvaluate_RecomputesAfterResolve(t *testing.T) {
	t.Parallel()

	business := newTestBusiness(t)
	ctx := context.Background()
	runID := seedRun(t, business, store.RunStatusProcessing)

	var lockID int64
	err := business.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		lockID, err = tx.InsertLock(store.DecisionLock{RunID: runID, IssueKey: "rate:ada", Reason: "pinned", Active: true})
		return err
	})
	if err != nil {
		t.Fatalf("seed error: %v", err)
	}

	gate := NewGate(business, nil)
	got, err := gate.Evaluate(ctx, NewState(runID, "sess", "hi", 10))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !got.Blocked {
		t.Fatal("active lock should block")
	}

	err = business.WithTx(ctx, func(tx *store.Tx) error {
		return tx.SupersedeLock(runID, lockID, "resolved")
	})
	if err != nil {
		t.Fatalf("supersede error: %v", err)
	}

	got, err = gate.Evaluate(ctx, got)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if got.Blocked {
		t.Error("gate did not recompute from the store")
	}
}

func TestHumanGate_BuildsReviewPayload(t *testing.T) {
	t.Parallel()

	s := NewState(1, "sess", "hi", 10)
	s.Gate = &GateSnapshot{
		Tasks: []store.ReviewTask{{ID: 4, Title: "Confirm Ada's rate"}},
		Contradictions: []store.Contradiction{{
			ID: 7, Kind: store.ContradictionKindMissingEvidence,
			Title: "No payslip for March", Explanation: "March payslip absent from uploads",
		}},
		Locks:   []store.DecisionLock{{ID: 9, Reason: "Rate pinned by employer letter"}},
		Blocked: true,
	}
	s.Blocked = true

	got := HumanGate(s)

	review := got.NeedsReview
	if review == nil {
		t.Fatal("review payload not set")
	}
	if review.Status != StatusNeedsReview {
		t.Errorf("status = %q", review.Status)
	}
	if len(review.RequiredActions) != 3 {
		t.Fatalf("actions = %+v, want 3", review.RequiredActions)
	}
	if review.RequiredActions[0].Action != ActionResolveTask || review.RequiredActions[0].ID != 4 {
		t.Errorf("first action = %+v", review.RequiredActions[0])
	}
	if review.RequiredActions[1].Action != ActionResolveContradiction {
		t.Errorf("second action = %+v", review.RequiredActions[1])
	}
	if review.RequiredActions[2].Action != ActionSupersedeLock {
		t.Errorf("third action = %+v", review.RequiredActions[2])
	}
	if len(review.MissingEvidence) != 1 || review.MissingEvidence[0] != "March payslip absent from uploads" {
		t.Errorf("missing evidence = %v", review.MissingEvidence)
	}
	if got.StopReason != StopBlocked || !got.ExitRequested {
		t.Errorf("reason = %q exit = %v", got.StopReason, got.ExitRequested)
	}
}

func TestHumanGate_AskUserCarriesQuestion(t *testing.T) {
	t.Parallel()

	s := NewState(1, "sess", "hi", 10)
	s.StopReason = StopAskUser
	s.Messages = []llm.Message{
		{Role: llm.RoleAssistant, Content: "Which rate should apply to Ada, 29.00 or 31.50?"},
	}
	s.Gate = &GateSnapshot{}

	got := HumanGate(s)
	if got.NeedsReview.UserPrompt != "Which rate should apply to Ada, 29.00 or 31.50?" {
		t.Errorf("user prompt = %q", got.NeedsReview.UserPrompt)
	}
	if got.StopReason != StopAskUser {
		t.Errorf("ask_user stop reason must be preserved, got %q", got.StopReason)
	}
}
