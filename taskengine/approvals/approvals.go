// Package approvals provides the human approval workflow collaborator.
//
// Features:
//   - Create and resolve approval prompts
//   - Pending prompt queue per plan
//   - Prompt lifecycle management
//   - Config-driven TTL per authorization level
//
// Prompts are queued for a human decision; the executor and the policy
// pipeline both create prompts but never block waiting for an answer.
package approvals

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jason-automation/jason-core/commbus"
)

// =============================================================================
// Prompt Status
// =============================================================================

// PromptStatus represents the status of an approval prompt.
type PromptStatus string

const (
	// PromptStatusPending indicates the prompt is awaiting a decision.
	PromptStatusPending PromptStatus = "pending"
	// PromptStatusResolved indicates a decision has been recorded.
	PromptStatusResolved PromptStatus = "resolved"
	// PromptStatusExpired indicates the prompt has expired.
	PromptStatusExpired PromptStatus = "expired"
	// PromptStatusCancelled indicates the prompt was cancelled.
	PromptStatusCancelled PromptStatus = "cancelled"
)

// =============================================================================
// Level Config
// =============================================================================

// LevelConfig configures behavior for one authorization level.
type LevelConfig struct {
	// DefaultTTL is the default time-to-live for prompts at this level.
	// Zero means no expiry.
	DefaultTTL time.Duration `json:"default_ttl"`
	// AutoExpire determines if pending prompts should auto-expire.
	AutoExpire bool `json:"auto_expire"`
}

// DefaultLevelConfigs provides default configurations per authorization level.
// Higher levels get shorter TTLs: a tier-3 decision going stale is worse
// than a tier-1 one.
var DefaultLevelConfigs = map[int]*LevelConfig{
	1: {DefaultTTL: 24 * time.Hour, AutoExpire: true},
	2: {DefaultTTL: 4 * time.Hour, AutoExpire: true},
	3: {DefaultTTL: 1 * time.Hour, AutoExpire: true},
}

// =============================================================================
// Prompt
// =============================================================================

// Decision is the recorded answer to a prompt.
type Decision struct {
	Approved   bool           `json:"approved"`
	Answer     string         `json:"answer,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Prompt is one queued approval request.
type Prompt struct {
	ID        string         `json:"id"`
	Level     int            `json:"level"` // authorization tier 1-3
	Title     string         `json:"title"`
	Rationale string         `json:"rationale,omitempty"`
	Options   []string       `json:"options,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`

	// Correlation
	PlanID string `json:"plan_id,omitempty"`
	TaskID string `json:"task_id,omitempty"`

	Status     PromptStatus `json:"status"`
	Decision   *Decision    `json:"decision,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`
}

// NewPromptID generates a fresh opaque prompt id.
func NewPromptID() string {
	return "prompt_" + uuid.New().String()[:16]
}

// IsExpired checks if the prompt has expired.
func (p *Prompt) IsExpired() bool {
	if p.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*p.ExpiresAt)
}

// IsPending checks if the prompt is pending.
func (p *Prompt) IsPending() bool {
	return p.Status == PromptStatusPending
}

// =============================================================================
// Workflow
// =============================================================================

// Workflow manages approval prompt lifecycle.
// Thread-safe implementation for creating, querying, and resolving prompts.
//
// Usage:
//
//	wf := NewWorkflow(logger, nil)
//
//	prompt := wf.CreatePrompt(3, "Approve flight purchase",
//	    WithRationale("Financial commitment of 540 GBP"),
//	    WithPlanTask(planID, taskID),
//	)
//
//	resolved := wf.Resolve(prompt.ID, &Decision{Approved: true})
type Workflow struct {
	logger  commbus.Logger
	configs map[int]*LevelConfig

	// In-memory store keyed by prompt ID
	store map[string]*Prompt
	// Index by plan ID for fast lookup
	byPlan map[string][]*Prompt

	mu sync.RWMutex
}

// NewWorkflow creates a new approval workflow.
func NewWorkflow(logger commbus.Logger, configs map[int]*LevelConfig) *Workflow {
	mergedConfigs := make(map[int]*LevelConfig)
	// Copy defaults
	for k, v := range DefaultLevelConfigs {
		mergedConfigs[k] = v
	}
	// Override with custom configs
	for k, v := range configs {
		mergedConfigs[k] = v
	}

	return &Workflow{
		logger:  logger,
		configs: mergedConfigs,
		store:   make(map[string]*Prompt),
		byPlan:  make(map[string][]*Prompt),
	}
}

// GetConfig returns the configuration for an authorization level.
func (w *Workflow) GetConfig(level int) *LevelConfig {
	if cfg, ok := w.configs[level]; ok {
		return cfg
	}
	// Return a sensible default
	return &LevelConfig{DefaultTTL: 1 * time.Hour, AutoExpire: true}
}

// =============================================================================
// Create Prompts
// =============================================================================

// PromptOption is a functional option for configuring prompts.
type PromptOption func(*Prompt)

// WithRationale sets the human-readable rationale.
func WithRationale(r string) PromptOption {
	return func(p *Prompt) { p.Rationale = r }
}

// WithOptions sets the answer options offered to the user.
func WithOptions(options ...string) PromptOption {
	return func(p *Prompt) { p.Options = options }
}

// WithMeta sets additional data for the prompt.
func WithMeta(m map[string]any) PromptOption {
	return func(p *Prompt) { p.Meta = m }
}

// WithPlanTask correlates the prompt with a plan and task.
func WithPlanTask(planID, taskID string) PromptOption {
	return func(p *Prompt) {
		p.PlanID = planID
		p.TaskID = taskID
	}
}

// WithTTL overrides the level's default TTL.
func WithTTL(ttl time.Duration) PromptOption {
	return func(p *Prompt) {
		if ttl > 0 {
			expiresAt := time.Now().UTC().Add(ttl)
			p.ExpiresAt = &expiresAt
		}
	}
}

// CreatePrompt creates a new pending prompt at an authorization level.
func (w *Workflow) CreatePrompt(level int, title string, opts ...PromptOption) *Prompt {
	config := w.GetConfig(level)
	now := time.Now().UTC()

	prompt := &Prompt{
		ID:        NewPromptID(),
		Level:     level,
		Title:     title,
		Status:    PromptStatusPending,
		CreatedAt: now,
	}
	if config.DefaultTTL > 0 {
		expiresAt := now.Add(config.DefaultTTL)
		prompt.ExpiresAt = &expiresAt
	}

	// Apply options
	for _, opt := range opts {
		opt(prompt)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.store[prompt.ID] = prompt
	if prompt.PlanID != "" {
		w.byPlan[prompt.PlanID] = append(w.byPlan[prompt.PlanID], prompt)
	}

	if w.logger != nil {
		w.logger.Info("prompt_created",
			"prompt_id", prompt.ID,
			"level", level,
			"title", title,
			"plan_id", prompt.PlanID,
			"task_id", prompt.TaskID,
		)
	}

	return prompt
}

// =============================================================================
// Query Prompts
// =============================================================================

// GetPrompt gets a prompt by ID.
func (w *Workflow) GetPrompt(promptID string) *Prompt {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.store[promptID]
}

// GetPendingForPlan gets all pending prompts for a plan.
func (w *Workflow) GetPendingForPlan(planID string) []*Prompt {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var result []*Prompt
	for _, prompt := range w.byPlan[planID] {
		if prompt.IsPending() && !prompt.IsExpired() {
			result = append(result, prompt)
		}
	}
	return result
}

// =============================================================================
// Resolve Prompts
// =============================================================================

// Resolve resolves a prompt with a decision.
// Returns the resolved prompt, or nil if not found or not pending.
func (w *Workflow) Resolve(promptID string, decision *Decision) *Prompt {
	w.mu.Lock()
	defer w.mu.Unlock()

	prompt, exists := w.store[promptID]
	if !exists {
		if w.logger != nil {
			w.logger.Warn("prompt_not_found", "prompt_id", promptID)
		}
		return nil
	}

	if prompt.Status != PromptStatusPending {
		if w.logger != nil {
			w.logger.Warn("prompt_not_pending",
				"prompt_id", promptID,
				"status", string(prompt.Status),
			)
		}
		return nil
	}

	now := time.Now().UTC()
	if decision != nil {
		decision.ReceivedAt = now
		prompt.Decision = decision
	}
	prompt.Status = PromptStatusResolved
	prompt.ResolvedAt = &now

	if w.logger != nil {
		w.logger.Info("prompt_resolved",
			"prompt_id", promptID,
			"level", prompt.Level,
			"approved", decision != nil && decision.Approved,
		)
	}

	return prompt
}

// Cancel cancels a pending prompt.
func (w *Workflow) Cancel(promptID string, reason string) *Prompt {
	w.mu.Lock()
	defer w.mu.Unlock()

	prompt, exists := w.store[promptID]
	if !exists || prompt.Status != PromptStatusPending {
		return nil
	}

	prompt.Status = PromptStatusCancelled
	if prompt.Meta == nil {
		prompt.Meta = make(map[string]any)
	}
	prompt.Meta["cancel_reason"] = reason

	if w.logger != nil {
		w.logger.Info("prompt_cancelled", "prompt_id", promptID, "reason", reason)
	}

	return prompt
}

// ExpirePending expires all pending prompts that have passed their expiry time.
// Returns the number of prompts expired.
func (w *Workflow) ExpirePending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	count := 0
	for _, prompt := range w.store {
		if prompt.IsPending() && prompt.IsExpired() {
			prompt.Status = PromptStatusExpired
			count++
		}
	}

	if w.logger != nil && count > 0 {
		w.logger.Info("prompts_expired", "count", count)
	}

	return count
}

// =============================================================================
// Cleanup
// =============================================================================

// CleanupResolved removes resolved/expired/cancelled prompts older than the
// given duration. Returns the number of prompts cleaned up.
func (w *Workflow) CleanupResolved(olderThan time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	count := 0

	toDelete := make([]string, 0)
	for id, prompt := range w.store {
		if prompt.Status != PromptStatusPending && prompt.CreatedAt.Before(cutoff) {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		prompt := w.store[id]
		w.removeFromIndex(prompt.PlanID, id)
		delete(w.store, id)
		count++
	}

	if w.logger != nil && count > 0 {
		w.logger.Info("prompts_cleaned_up", "count", count)
	}

	return count
}

// removeFromIndex removes a prompt from the plan index.
func (w *Workflow) removeFromIndex(planID, promptID string) {
	prompts := w.byPlan[planID]
	for i, prompt := range prompts {
		if prompt.ID == promptID {
			w.byPlan[planID] = append(prompts[:i], prompts[i+1:]...)
			break
		}
	}
}

// =============================================================================
// Statistics
// =============================================================================

// GetStats returns statistics about prompts.
func (w *Workflow) GetStats() map[string]int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := map[string]int{
		"total":     len(w.store),
		"pending":   0,
		"resolved":  0,
		"expired":   0,
		"cancelled": 0,
	}

	for _, prompt := range w.store {
		switch prompt.Status {
		case PromptStatusPending:
			stats["pending"]++
		case PromptStatusResolved:
			stats["resolved"]++
		case PromptStatusExpired:
			stats["expired"]++
		case PromptStatusCancelled:
			stats["cancelled"]++
		}
	}

	return stats
}

// GetPendingCount returns the number of pending prompts.
func (w *Workflow) GetPendingCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	count := 0
	for _, prompt := range w.store {
		if prompt.IsPending() {
			count++
		}
	}
	return count
}
