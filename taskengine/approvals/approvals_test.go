package approvals

import (
	"testing"
	"time"
)

func TestCreatePromptDefaults(t *testing.T) {
	wf := NewWorkflow(nil, nil)

	prompt := wf.CreatePrompt(3, "Approve flight purchase",
		WithRationale("Financial commitment"),
		WithPlanTask("plan_1", "task_1"),
	)

	if prompt.ID == "" {
		t.Fatal("expected a prompt id")
	}
	if prompt.Status != PromptStatusPending {
		t.Errorf("expected pending status, got %s", prompt.Status)
	}
	if prompt.ExpiresAt == nil {
		t.Fatal("level 3 prompts should carry an expiry")
	}
	// Level 3 default TTL is 1 hour.
	ttl := time.Until(*prompt.ExpiresAt)
	if ttl > time.Hour || ttl < 50*time.Minute {
		t.Errorf("unexpected TTL %v", ttl)
	}
}

func TestHigherLevelsExpireSooner(t *testing.T) {
	wf := NewWorkflow(nil, nil)

	low := wf.CreatePrompt(1, "low")
	high := wf.CreatePrompt(3, "high")

	if !high.ExpiresAt.Before(*low.ExpiresAt) {
		t.Error("level 3 prompt should expire before level 1 prompt")
	}
}

func TestResolvePrompt(t *testing.T) {
	wf := NewWorkflow(nil, nil)
	prompt := wf.CreatePrompt(2, "Approve login")

	resolved := wf.Resolve(prompt.ID, &Decision{Approved: true, Answer: "yes"})
	if resolved == nil {
		t.Fatal("expected prompt to resolve")
	}
	if resolved.Status != PromptStatusResolved {
		t.Errorf("expected resolved status, got %s", resolved.Status)
	}
	if resolved.Decision == nil || !resolved.Decision.Approved {
		t.Error("expected approved decision")
	}
	if resolved.Decision.ReceivedAt.IsZero() {
		t.Error("expected decision timestamp")
	}

	// Resolving twice fails.
	if wf.Resolve(prompt.ID, &Decision{Approved: false}) != nil {
		t.Error("expected second resolve to fail")
	}
}

func TestResolveUnknownPrompt(t *testing.T) {
	wf := NewWorkflow(nil, nil)

	if wf.Resolve("prompt_missing", &Decision{Approved: true}) != nil {
		t.Error("expected nil for unknown prompt")
	}
}

func TestCancelPrompt(t *testing.T) {
	wf := NewWorkflow(nil, nil)
	prompt := wf.CreatePrompt(1, "stale")

	cancelled := wf.Cancel(prompt.ID, "plan abandoned")
	if cancelled == nil || cancelled.Status != PromptStatusCancelled {
		t.Fatal("expected prompt to cancel")
	}
	if cancelled.Meta["cancel_reason"] != "plan abandoned" {
		t.Error("expected cancel reason in meta")
	}
}

func TestPendingForPlan(t *testing.T) {
	wf := NewWorkflow(nil, nil)

	a := wf.CreatePrompt(1, "a", WithPlanTask("plan_1", "task_a"))
	wf.CreatePrompt(2, "b", WithPlanTask("plan_1", "task_b"))
	wf.CreatePrompt(1, "c", WithPlanTask("plan_2", "task_c"))

	wf.Resolve(a.ID, &Decision{Approved: true})

	pending := wf.GetPendingForPlan("plan_1")
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending prompt, got %d", len(pending))
	}
	if pending[0].TaskID != "task_b" {
		t.Errorf("unexpected pending prompt %s", pending[0].TaskID)
	}
}

func TestExpirePending(t *testing.T) {
	wf := NewWorkflow(nil, nil)

	expired := wf.CreatePrompt(3, "old")
	past := time.Now().UTC().Add(-time.Minute)
	expired.ExpiresAt = &past

	wf.CreatePrompt(3, "fresh")

	if count := wf.ExpirePending(); count != 1 {
		t.Errorf("expected 1 expired, got %d", count)
	}
	if wf.GetPrompt(expired.ID).Status != PromptStatusExpired {
		t.Error("expected expired status")
	}
	if wf.GetPendingCount() != 1 {
		t.Errorf("expected 1 pending, got %d", wf.GetPendingCount())
	}
}

func TestCleanupResolved(t *testing.T) {
	wf := NewWorkflow(nil, nil)

	old := wf.CreatePrompt(1, "old", WithPlanTask("plan_1", "task_1"))
	wf.Resolve(old.ID, &Decision{Approved: true})
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)

	wf.CreatePrompt(1, "pending", WithPlanTask("plan_1", "task_2"))

	if count := wf.CleanupResolved(24 * time.Hour); count != 1 {
		t.Errorf("expected 1 cleaned, got %d", count)
	}
	if wf.GetPrompt(old.ID) != nil {
		t.Error("expected cleaned prompt to be removed")
	}
	if len(wf.GetPendingForPlan("plan_1")) != 1 {
		t.Error("pending prompt should survive cleanup")
	}
}

func TestGetStats(t *testing.T) {
	wf := NewWorkflow(nil, nil)

	a := wf.CreatePrompt(1, "a")
	wf.CreatePrompt(2, "b")
	c := wf.CreatePrompt(3, "c")

	wf.Resolve(a.ID, &Decision{Approved: true})
	wf.Cancel(c.ID, "test")

	stats := wf.GetStats()
	if stats["total"] != 3 || stats["pending"] != 1 || stats["resolved"] != 1 || stats["cancelled"] != 1 {
		t.Errorf("unexpected stats: %v", stats)
	}
}
