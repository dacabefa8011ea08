// Package testutil provides shared test doubles for the taskengine packages.
//
// All mocks here are designed for testing the engine components in isolation
// without requiring a live language model, a real action runner, or any
// external persistence.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/jason-automation/jason-core/commbus"
	"github.com/jason-automation/jason-core/taskengine/plan"
	"github.com/jason-automation/jason-core/taskengine/runner"
)

// =============================================================================
// MOCK COLLABORATOR
// =============================================================================

// MockCollaborator implements decomposer.Collaborator for testing.
// Configure responses by user-prompt prefix or use DefaultResponse.
type MockCollaborator struct {
	// Responses maps user-prompt prefixes to responses.
	// First matching prefix wins.
	Responses map[string]string

	// DefaultResponse is returned when no prefix matches.
	DefaultResponse string

	// Delay simulates model latency.
	Delay time.Duration

	// Error causes Generate to return this error.
	Error error

	// CallCount tracks the number of Generate calls.
	CallCount int

	// Calls records all calls for assertion.
	Calls []CollaboratorCall

	mu sync.Mutex
}

// CollaboratorCall records a single Generate call for assertion.
type CollaboratorCall struct {
	SystemPrompt string
	UserPrompt   string
}

// NewMockCollaborator creates a MockCollaborator with sensible defaults.
func NewMockCollaborator() *MockCollaborator {
	return &MockCollaborator{
		Responses:       make(map[string]string),
		DefaultResponse: `[{"name": "Investigate", "action": {"type": "system", "name": "investigate", "riskLevel": 0.1}}]`,
	}
}

// Generate implements the decomposer.Collaborator interface.
func (m *MockCollaborator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.Calls = append(m.Calls, CollaboratorCall{SystemPrompt: systemPrompt, UserPrompt: userPrompt})
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.Error != nil {
		return "", m.Error
	}

	for prefix, response := range m.Responses {
		if len(userPrompt) >= len(prefix) && userPrompt[:len(prefix)] == prefix {
			return response, nil
		}
	}

	return m.DefaultResponse, nil
}

// WithResponse adds a prefix-based response.
func (m *MockCollaborator) WithResponse(prefix, response string) *MockCollaborator {
	m.Responses[prefix] = response
	return m
}

// WithError configures the mock to return an error.
func (m *MockCollaborator) WithError(err error) *MockCollaborator {
	m.Error = err
	return m
}

// GetCallCount returns the number of calls (thread-safe).
func (m *MockCollaborator) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Reset clears call history.
func (m *MockCollaborator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCount = 0
	m.Calls = nil
}

// =============================================================================
// SCRIPTED RUNNER
// =============================================================================

// ScriptedRunner implements runner.ActionRunner for testing.
// It records every execution and returns scripted results or errors per
// action name.
type ScriptedRunner struct {
	// Results maps action names to their result payloads.
	Results map[string]map[string]any

	// Errors maps action names to errors they should return.
	Errors map[string]error

	// Delay simulates execution latency.
	Delay time.Duration

	// CallCount tracks the number of Execute calls.
	CallCount int

	// Calls records all executed action names in order.
	Calls []string

	mu sync.Mutex
}

// NewScriptedRunner creates a ScriptedRunner that succeeds for every action.
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{
		Results: make(map[string]map[string]any),
		Errors:  make(map[string]error),
	}
}

// Execute implements the runner.ActionRunner interface.
func (r *ScriptedRunner) Execute(ctx context.Context, action *plan.Action, opts runner.RunOptions) (map[string]any, error) {
	r.mu.Lock()
	r.CallCount++
	r.Calls = append(r.Calls, action.Name)
	r.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err, exists := r.Errors[action.Name]; exists {
		return nil, err
	}
	if result, exists := r.Results[action.Name]; exists {
		return result, nil
	}

	return map[string]any{"status": "success", "action": action.Name}, nil
}

// WithResult scripts a result payload for an action name.
func (r *ScriptedRunner) WithResult(actionName string, result map[string]any) *ScriptedRunner {
	r.Results[actionName] = result
	return r
}

// WithError scripts a failure for an action name.
func (r *ScriptedRunner) WithError(actionName string, err error) *ScriptedRunner {
	r.Errors[actionName] = err
	return r
}

// ExecutedActions returns the executed action names in order (thread-safe).
func (r *ScriptedRunner) ExecutedActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make([]string, len(r.Calls))
	copy(copied, r.Calls)
	return copied
}

// Reset clears call history.
func (r *ScriptedRunner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCount = 0
	r.Calls = nil
}

// =============================================================================
// FAILING SINK
// =============================================================================

// FailingSink implements audit.Sink and fails every append.
// Used to verify best-effort persistence never propagates failures.
type FailingSink struct {
	// Err is the error returned by Append.
	Err error

	// CallCount tracks the number of Append calls.
	CallCount int

	mu sync.Mutex
}

// NewFailingSink creates a FailingSink returning err on every append.
func NewFailingSink(err error) *FailingSink {
	return &FailingSink{Err: err}
}

// Append implements the audit.Sink interface.
func (s *FailingSink) Append(event string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCount++
	return s.Err
}

// GetCallCount returns the number of calls (thread-safe).
func (s *FailingSink) GetCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCount
}

// =============================================================================
// EVENT RECORDER
// =============================================================================

// EventRecorder captures bus events for assertion.
type EventRecorder struct {
	events []commbus.Message
	mu     sync.Mutex
}

// NewEventRecorder creates an EventRecorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// SubscribeTo registers the recorder for the given event types on a bus.
// Returns an unsubscribe function covering every registration.
func (r *EventRecorder) SubscribeTo(bus *commbus.InMemoryCommBus, eventTypes ...string) func() {
	unsubs := make([]func(), 0, len(eventTypes))
	for _, eventType := range eventTypes {
		unsubs = append(unsubs, bus.Subscribe(eventType, func(ctx context.Context, msg commbus.Message) (any, error) {
			r.mu.Lock()
			r.events = append(r.events, msg)
			r.mu.Unlock()
			return nil, nil
		}))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Events returns a copy of the captured events (thread-safe).
func (r *EventRecorder) Events() []commbus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make([]commbus.Message, len(r.events))
	copy(copied, r.events)
	return copied
}

// EventsOfType returns the captured events matching a type name.
func (r *EventRecorder) EventsOfType(eventType string) []commbus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []commbus.Message
	for _, msg := range r.events {
		if commbus.GetMessageType(msg) == eventType {
			matched = append(matched, msg)
		}
	}
	return matched
}

// Clear removes all captured events.
func (r *EventRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// =============================================================================
// MOCK LOGGER
// =============================================================================

// MockLogger implements commbus.Logger for testing.
type MockLogger struct {
	// Logs captures all log entries.
	Logs []LogEntry

	mu sync.Mutex
}

// LogEntry represents a captured log entry.
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// NewMockLogger creates a MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{Logs: make([]LogEntry, 0)}
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) {
	m.log("debug", msg, keysAndValues...)
}

func (m *MockLogger) Info(msg string, keysAndValues ...any) {
	m.log("info", msg, keysAndValues...)
}

func (m *MockLogger) Warn(msg string, keysAndValues ...any) {
	m.log("warn", msg, keysAndValues...)
}

func (m *MockLogger) Error(msg string, keysAndValues ...any) {
	m.log("error", msg, keysAndValues...)
}

func (m *MockLogger) Bind(fields ...any) commbus.Logger {
	return m
}

func (m *MockLogger) log(level, msg string, keysAndValues ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := make(map[string]any)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}

	m.Logs = append(m.Logs, LogEntry{Level: level, Message: msg, Fields: fields})
}

// HasLog checks if a log message exists at the given level.
func (m *MockLogger) HasLog(level, message string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.Logs {
		if entry.Level == level && entry.Message == message {
			return true
		}
	}
	return false
}

// Clear removes all captured logs.
func (m *MockLogger) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = nil
}

// =============================================================================
// PLAN HELPERS
// =============================================================================

// NewLeafTask creates a single leaf task with a low-risk web action.
func NewLeafTask(name, actionName, target string) *plan.Task {
	return &plan.Task{
		ID:   plan.NewTaskID(),
		Name: name,
		Action: &plan.Action{
			Kind:      plan.ActionKindWeb,
			Name:      actionName,
			Target:    target,
			RiskLevel: 0.2,
		},
	}
}

// NewHighRiskTask creates a leaf task with a high-risk action and one
// notify-style fallback child.
func NewHighRiskTask(name, actionName, target string) *plan.Task {
	return &plan.Task{
		ID:   plan.NewTaskID(),
		Name: name,
		Action: &plan.Action{
			Kind:      plan.ActionKindWeb,
			Name:      actionName,
			Target:    target,
			RiskLevel: 0.8,
			Tags:      []string{"risky"},
		},
		Children: []*plan.Task{
			{
				ID:   plan.NewTaskID(),
				Name: "Draft for manual review",
				Action: &plan.Action{
					Kind:      plan.ActionKindNotify,
					Name:      "draft_for_review",
					RiskLevel: 0.0,
				},
			},
		},
	}
}
