// Package retrypolicy provides the mutable retry/backoff ruleset shared by
// the correction loop and the action runner.
//
// Rules are keyed by {scope, pattern}. Each rule carries a randomized-delay
// range, a max-retry/backoff/jitter spec, and a time-to-live after which it
// expires automatically. The store is an explicit handle passed by reference
// into collaborators; there is no ambient module-level state.
//
// Concurrency: safe for concurrent read/upsert. Last-writer-wins per key.
package retrypolicy

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// =============================================================================
// RULES
// =============================================================================

// Rule reasons recorded on upsert.
const (
	ReasonRateLimited       = "rate_limited"
	ReasonChallengeResponse = "challenge_response"
)

// Rule is one retry/backoff rule for a {scope, pattern} key.
type Rule struct {
	// Scope identifies the target, e.g. "web:example.com" or "system:cron".
	Scope string `json:"scope"`
	// Pattern names the failure class the rule applies to.
	Pattern string `json:"pattern"`

	// Randomized delay range applied before each retry.
	MinDelay time.Duration `json:"min_delay"`
	MaxDelay time.Duration `json:"max_delay"`

	MaxRetries    int     `json:"max_retries"`
	BackoffFactor float64 `json:"backoff_factor"`
	JitterFactor  float64 `json:"jitter_factor"` // [0, 1] fraction of delay

	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is the absolute expiry time. Zero means no expiry.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsExpired checks whether the rule has passed its expiry time.
func (r *Rule) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// ExpiresIn returns the remaining lifetime, or 0 when expired or unbounded.
func (r *Rule) ExpiresIn(now time.Time) time.Duration {
	if r.ExpiresAt.IsZero() || now.After(r.ExpiresAt) {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}

// Delay picks a randomized delay for a retry attempt (0-based), applying
// exponential backoff from the rule's minimum delay, jitter, and the
// rule's maximum delay as a cap.
func (r *Rule) Delay(attempt int) time.Duration {
	base := float64(r.MinDelay)
	if r.BackoffFactor > 1 && attempt > 0 {
		base *= math.Pow(r.BackoffFactor, float64(attempt))
	}

	// Spread within [base, max]
	max := float64(r.MaxDelay)
	if max > base {
		base += rand.Float64() * (max - base)
	}

	if r.JitterFactor > 0 {
		jitter := base * r.JitterFactor * (rand.Float64()*2 - 1)
		base += jitter
	}

	if max > 0 && base > max {
		base = max
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// NewRateLimitRule builds the short-lived rule applied after a rate-limit
// failure: a bounded randomized delay with a short TTL.
func NewRateLimitRule(scope string) *Rule {
	now := time.Now().UTC()
	return &Rule{
		Scope:         scope,
		Pattern:       ReasonRateLimited,
		MinDelay:      30 * time.Second,
		MaxDelay:      2 * time.Minute,
		MaxRetries:    3,
		BackoffFactor: 2.0,
		JitterFactor:  0.2,
		Reason:        ReasonRateLimited,
		CreatedAt:     now,
		ExpiresAt:     now.Add(15 * time.Minute),
	}
}

// NewChallengeResponseRule builds the long-lived rule applied after a
// challenge-response failure: much longer delays and a long TTL, since the
// target is actively detecting automation.
func NewChallengeResponseRule(scope string) *Rule {
	now := time.Now().UTC()
	return &Rule{
		Scope:         scope,
		Pattern:       ReasonChallengeResponse,
		MinDelay:      30 * time.Minute,
		MaxDelay:      2 * time.Hour,
		MaxRetries:    1,
		BackoffFactor: 1.0,
		JitterFactor:  0.5,
		Reason:        ReasonChallengeResponse,
		CreatedAt:     now,
		ExpiresAt:     now.Add(24 * time.Hour),
	}
}

// =============================================================================
// STORE
// =============================================================================

// ruleKey identifies a rule in the store.
type ruleKey struct {
	scope   string
	pattern string
}

// Store holds the active retry rules plus the stealth/avoidance list of
// targets that recently raised challenge-response failures.
//
// Usage:
//
//	store := NewStore(logger)
//	store.Upsert(NewRateLimitRule("web:example.com"))
//
//	if rule, ok := store.Get("web:example.com", ReasonRateLimited); ok {
//	    time.Sleep(rule.Delay(attempt))
//	}
type Store struct {
	rules   map[ruleKey]*Rule
	avoided map[string]time.Time
	// failures tracks recent failures per scope for cooldown checks.
	failures map[string]*SlidingWindow
	mu       sync.RWMutex
}

// NewStore creates an empty rule store.
func NewStore() *Store {
	return &Store{
		rules:    make(map[ruleKey]*Rule),
		avoided:  make(map[string]time.Time),
		failures: make(map[string]*SlidingWindow),
	}
}

// Upsert installs or replaces the rule for its {scope, pattern} key.
// Last writer wins.
func (s *Store) Upsert(rule *Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[ruleKey{rule.Scope, rule.Pattern}] = rule
}

// Get returns the active rule for a key, filtering expired rules.
func (s *Store) Get(scope, pattern string) (*Rule, bool) {
	s.mu.RLock()
	rule, exists := s.rules[ruleKey{scope, pattern}]
	s.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if rule.IsExpired(time.Now().UTC()) {
		s.mu.Lock()
		// Re-check under write lock; an upsert may have replaced it.
		if current, ok := s.rules[ruleKey{scope, pattern}]; ok && current.IsExpired(time.Now().UTC()) {
			delete(s.rules, ruleKey{scope, pattern})
		}
		s.mu.Unlock()
		return nil, false
	}
	return rule, true
}

// RulesForScope returns all active rules for a scope.
func (s *Store) RulesForScope(scope string) []*Rule {
	now := time.Now().UTC()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for key, rule := range s.rules {
		if key.scope == scope && !rule.IsExpired(now) {
			out = append(out, rule)
		}
	}
	return out
}

// CleanupExpired removes expired rules and returns the number removed.
func (s *Store) CleanupExpired() int {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, rule := range s.rules {
		if rule.IsExpired(now) {
			delete(s.rules, key)
			count++
		}
	}
	return count
}

// Len returns the number of stored rules, expired included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// =============================================================================
// AVOIDANCE LIST
// =============================================================================

// Avoid records a target on the stealth/avoidance list.
func (s *Store) Avoid(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.avoided[target] = time.Now().UTC()
}

// IsAvoided checks whether a target is on the avoidance list.
func (s *Store) IsAvoided(target string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.avoided[target]
	return exists
}

// AvoidanceList returns a snapshot of avoided targets.
func (s *Store) AvoidanceList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.avoided))
	for target := range s.avoided {
		out = append(out, target)
	}
	return out
}

// =============================================================================
// FAILURE TRACKING
// =============================================================================

// failureWindowSeconds bounds the per-scope failure counter.
const failureWindowSeconds = 300

// RecordFailure records a failure for a scope and returns the count of
// failures within the sliding window.
func (s *Store) RecordFailure(scope string) int {
	s.mu.Lock()
	window, exists := s.failures[scope]
	if !exists {
		window = NewSlidingWindow(failureWindowSeconds)
		s.failures[scope] = window
	}
	s.mu.Unlock()

	return window.Record(nowSeconds())
}

// FailureCount returns the recent failure count for a scope.
func (s *Store) FailureCount(scope string) int {
	s.mu.RLock()
	window, exists := s.failures[scope]
	s.mu.RUnlock()

	if !exists {
		return 0
	}
	return window.GetCount(nowSeconds())
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
