package retrypolicy

import (
	"sync"
	"testing"
	"time"
)

func TestUpsertAndGet(t *testing.T) {
	store := NewStore()

	store.Upsert(NewRateLimitRule("web:example.com"))

	rule, ok := store.Get("web:example.com", ReasonRateLimited)
	if !ok {
		t.Fatal("expected rule to be found")
	}
	if rule.MaxRetries != 3 {
		t.Errorf("expected 3 max retries, got %d", rule.MaxRetries)
	}

	if _, ok := store.Get("web:other.com", ReasonRateLimited); ok {
		t.Error("unexpected rule for unknown scope")
	}
}

func TestUpsertLastWriterWins(t *testing.T) {
	store := NewStore()

	first := NewRateLimitRule("web:example.com")
	first.MaxRetries = 3
	second := NewRateLimitRule("web:example.com")
	second.MaxRetries = 7

	store.Upsert(first)
	store.Upsert(second)

	rule, ok := store.Get("web:example.com", ReasonRateLimited)
	if !ok {
		t.Fatal("expected rule to be found")
	}
	if rule.MaxRetries != 7 {
		t.Errorf("expected last write to win, got max retries %d", rule.MaxRetries)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 rule, got %d", store.Len())
	}
}

func TestExpiredRulesAreFiltered(t *testing.T) {
	store := NewStore()

	rule := NewRateLimitRule("web:example.com")
	rule.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	store.Upsert(rule)

	if _, ok := store.Get("web:example.com", ReasonRateLimited); ok {
		t.Error("expected expired rule to be filtered")
	}
}

func TestCleanupExpired(t *testing.T) {
	store := NewStore()

	live := NewRateLimitRule("web:live.com")
	dead := NewRateLimitRule("web:dead.com")
	dead.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	store.Upsert(live)
	store.Upsert(dead)

	if removed := store.CleanupExpired(); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 rule remaining, got %d", store.Len())
	}
}

func TestDelayStaysWithinBounds(t *testing.T) {
	rule := NewRateLimitRule("web:example.com")

	for attempt := 0; attempt < 5; attempt++ {
		d := rule.Delay(attempt)
		if d < 0 {
			t.Fatalf("negative delay %v on attempt %d", d, attempt)
		}
		if d > rule.MaxDelay {
			t.Fatalf("delay %v exceeds max %v on attempt %d", d, rule.MaxDelay, attempt)
		}
	}
}

func TestChallengeResponseRuleOutlivesRateLimitRule(t *testing.T) {
	rl := NewRateLimitRule("web:example.com")
	cr := NewChallengeResponseRule("web:example.com")

	if !cr.ExpiresAt.After(rl.ExpiresAt) {
		t.Error("challenge-response rule should live longer than rate-limit rule")
	}
	if cr.MinDelay <= rl.MinDelay {
		t.Error("challenge-response rule should delay longer than rate-limit rule")
	}
}

func TestAvoidanceList(t *testing.T) {
	store := NewStore()

	store.Avoid("web:fortress.com")

	if !store.IsAvoided("web:fortress.com") {
		t.Error("expected target to be avoided")
	}
	if store.IsAvoided("web:open.com") {
		t.Error("unexpected avoidance for unknown target")
	}
	if got := store.AvoidanceList(); len(got) != 1 || got[0] != "web:fortress.com" {
		t.Errorf("unexpected avoidance list: %v", got)
	}
}

func TestFailureTracking(t *testing.T) {
	store := NewStore()

	if store.FailureCount("web:example.com") != 0 {
		t.Error("expected zero failures initially")
	}

	store.RecordFailure("web:example.com")
	store.RecordFailure("web:example.com")

	if count := store.FailureCount("web:example.com"); count != 2 {
		t.Errorf("expected 2 failures, got %d", count)
	}
}

func TestConcurrentUpserts(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Upsert(NewRateLimitRule("web:example.com"))
			store.Get("web:example.com", ReasonRateLimited)
			store.RecordFailure("web:example.com")
		}()
	}
	wg.Wait()

	if store.Len() != 1 {
		t.Errorf("expected 1 rule after concurrent upserts, got %d", store.Len())
	}
}
