// Package commbus provides CommBus Message Definitions.
//
// This module defines all message types for the JASON communication bus.
// Messages are organized by domain.
//
// Categories:
//   - EVENT: Fire-and-forget, fan-out to subscribers
//   - QUERY: Request-response, single handler
//   - COMMAND: Fire-and-forget, single handler
package commbus

// =============================================================================
// MESSAGE CATEGORIES
// =============================================================================

// MessageCategory represents message routing categories.
type MessageCategory string

const (
	// MessageCategoryEvent represents fire-and-forget, fan-out to all subscribers.
	MessageCategoryEvent MessageCategory = "event"
	// MessageCategoryQuery represents request-response, single handler.
	MessageCategoryQuery MessageCategory = "query"
	// MessageCategoryCommand represents fire-and-forget, single handler.
	MessageCategoryCommand MessageCategory = "command"
)

// =============================================================================
// PLAN LIFECYCLE EVENTS
// =============================================================================

// PlanCompiled is emitted when a goal has been decomposed into a plan.
// Subscribers: dashboards, audit, trace logging.
type PlanCompiled struct {
	PlanID    string `json:"plan_id"`
	Goal      string `json:"goal"`
	Domain    string `json:"domain,omitempty"`
	TaskCount int    `json:"task_count"`
	// Source is "template", "llm", or "fallback".
	Source string `json:"source"`
}

// Category implements the Message interface.
func (m *PlanCompiled) Category() string { return string(MessageCategoryEvent) }

// RunCompleted is emitted when a plan run reaches a terminal state
// (completed, paused, or failed).
type RunCompleted struct {
	PlanID       string  `json:"plan_id"`
	Outcome      string  `json:"outcome"` // "completed", "paused", "failed"
	DurationMS   int     `json:"duration_ms"`
	TasksOK      int     `json:"tasks_ok"`
	TasksFailed  int     `json:"tasks_failed"`
	PausedTaskID string  `json:"paused_task_id,omitempty"`
	Error        *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *RunCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// TASK LIFECYCLE EVENTS
// =============================================================================

// TaskStarted is emitted when the executor begins a task.
type TaskStarted struct {
	PlanID     string `json:"plan_id"`
	TaskID     string `json:"task_id"`
	TaskName   string `json:"task_name"`
	ActionKind string `json:"action_kind,omitempty"`
	Fallback   bool   `json:"fallback"` // true when running inside a fallback branch
}

// Category implements the Message interface.
func (m *TaskStarted) Category() string { return string(MessageCategoryEvent) }

// TaskCompleted is emitted when a task records a result.
type TaskCompleted struct {
	PlanID     string  `json:"plan_id"`
	TaskID     string  `json:"task_id"`
	TaskName   string  `json:"task_name"`
	Status     string  `json:"status"` // "success", "error", "skipped", "pending_interaction"
	DurationMS int     `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
}

// Category implements the Message interface.
func (m *TaskCompleted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// SUSPENSION / INTERACTION EVENTS
// =============================================================================

// InteractionRequested is emitted when a run suspends pending a user
// decision. Delivered urgently so approval queues update before the
// suspended run report is returned to the caller.
type InteractionRequested struct {
	PlanID   string         `json:"plan_id"`
	TaskID   string         `json:"task_id"`
	PromptID string         `json:"prompt_id"`
	Level    int            `json:"level"` // authorization tier 1-3
	Title    string         `json:"title"`
	Reason   string         `json:"reason,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// Category implements the Message interface.
func (m *InteractionRequested) Category() string { return string(MessageCategoryEvent) }

// Priority implements the Prioritized interface.
func (m *InteractionRequested) Priority() DeliveryPriority { return PriorityUrgent }

// GateDecisionMade is emitted once per policy pipeline evaluation.
// Delivered urgently so pending-approval queues are updated promptly.
type GateDecisionMade struct {
	ActionName    string  `json:"action_name"`
	Decision      string  `json:"decision"` // "allow", "prompt", "block"
	RequiredLevel int     `json:"required_level"`
	FinalScore    float64 `json:"final_score"`
	PromptID      string  `json:"prompt_id,omitempty"`
}

// Category implements the Message interface.
func (m *GateDecisionMade) Category() string { return string(MessageCategoryEvent) }

// Priority implements the Prioritized interface.
func (m *GateDecisionMade) Priority() DeliveryPriority { return PriorityUrgent }

// =============================================================================
// LEARNING / CORRECTION EVENTS
// =============================================================================

// ReviewRecorded is emitted after the correction loop reviews an executed
// task. Subscribers: dashboards, long-term learning stores.
type ReviewRecorded struct {
	ReviewID    string             `json:"review_id"`
	PlanID      string             `json:"plan_id"`
	TaskID      string             `json:"task_id"`
	Success     bool               `json:"success"`
	Reflection  string             `json:"reflection"`
	Adjustments map[string]float64 `json:"adjustments,omitempty"`
}

// Category implements the Message interface.
func (m *ReviewRecorded) Category() string { return string(MessageCategoryEvent) }

// RetryRuleUpserted is emitted when the correction loop mutates the retry
// policy store for a scope.
type RetryRuleUpserted struct {
	Scope      string `json:"scope"`
	Pattern    string `json:"pattern"`
	Reason     string `json:"reason"` // "rate_limited", "challenge_response"
	TTLSeconds int    `json:"ttl_seconds"`
}

// Category implements the Message interface.
func (m *RetryRuleUpserted) Category() string { return string(MessageCategoryEvent) }

// =============================================================================
// RETRY POLICY QUERIES
// =============================================================================

// GetRetryRule queries the active retry rule for a scope and pattern.
type GetRetryRule struct {
	Scope   string `json:"scope"`
	Pattern string `json:"pattern"`
}

// Category implements the Message interface.
func (m *GetRetryRule) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetRetryRule) IsQuery() {}

// RetryRuleResponse is the response for GetRetryRule.
type RetryRuleResponse struct {
	Found         bool    `json:"found"`
	MinDelayMS    int     `json:"min_delay_ms,omitempty"`
	MaxDelayMS    int     `json:"max_delay_ms,omitempty"`
	MaxRetries    int     `json:"max_retries,omitempty"`
	BackoffFactor float64 `json:"backoff_factor,omitempty"`
	ExpiresInSec  float64 `json:"expires_in_sec,omitempty"`
}

// GetAvoidanceList queries the stealth/avoidance list of targets that
// recently raised challenge-response failures.
type GetAvoidanceList struct{}

// Category implements the Message interface.
func (m *GetAvoidanceList) Category() string { return string(MessageCategoryQuery) }

// IsQuery implements the Query interface.
func (m *GetAvoidanceList) IsQuery() {}

// AvoidanceListResponse is the response for GetAvoidanceList.
type AvoidanceListResponse struct {
	Targets []string `json:"targets"`
}

// =============================================================================
// APPROVAL COMMANDS
// =============================================================================

// ExpirePrompts is a command to sweep expired approval prompts.
type ExpirePrompts struct{}

// Category implements the Message interface.
func (m *ExpirePrompts) Category() string { return string(MessageCategoryCommand) }

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// TypedMessage is an optional interface for messages that can provide their
// own type name. Useful for dynamically-typed messages bridged from outside.
type TypedMessage interface {
	Message
	MessageType() string
}

// GetMessageType returns the type name of a message for routing.
func GetMessageType(msg Message) string {
	// First check if the message can provide its own type
	if typed, ok := msg.(TypedMessage); ok {
		return typed.MessageType()
	}

	// Otherwise use the static type switch
	switch msg.(type) {
	case *PlanCompiled:
		return "PlanCompiled"
	case *RunCompleted:
		return "RunCompleted"
	case *TaskStarted:
		return "TaskStarted"
	case *TaskCompleted:
		return "TaskCompleted"
	case *InteractionRequested:
		return "InteractionRequested"
	case *GateDecisionMade:
		return "GateDecisionMade"
	case *ReviewRecorded:
		return "ReviewRecorded"
	case *RetryRuleUpserted:
		return "RetryRuleUpserted"
	case *GetRetryRule:
		return "GetRetryRule"
	case *GetAvoidanceList:
		return "GetAvoidanceList"
	case *ExpirePrompts:
		return "ExpirePrompts"
	default:
		return "Unknown"
	}
}
