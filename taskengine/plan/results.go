package plan

import (
	"strings"
	"time"
)

// =============================================================================
// RUN OUTCOME
// =============================================================================

// RunOutcome represents the terminal state of one plan-run invocation -
// exactly one per run.
//
// Outcomes:
//
//	COMPLETED: every recorded result is ok, take the result
//	PAUSED: a suspension occurred, prompt the user and resume later
//	FAILED: the first blocking error terminated the run
type RunOutcome string

const (
	RunOutcomeCompleted RunOutcome = "completed"
	RunOutcomePaused    RunOutcome = "paused"
	RunOutcomeFailed    RunOutcome = "failed"
)

// IsTerminalSuccess reports whether the run finished without pending work.
func (o RunOutcome) IsTerminalSuccess() bool {
	return o == RunOutcomeCompleted
}

// RunOutcomeFromString parses an outcome string.
func RunOutcomeFromString(value string) (RunOutcome, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "completed":
		return RunOutcomeCompleted, true
	case "paused":
		return RunOutcomePaused, true
	case "failed":
		return RunOutcomeFailed, true
	default:
		return "", false
	}
}

// =============================================================================
// EXECUTION RESULTS
// =============================================================================

// Result status markers recorded in ExecutionResult.Result under "status".
const (
	// StatusSkipped marks a task skipped because it was already completed
	// in a prior invocation of the same plan.
	StatusSkipped = "skipped"
	// StatusPendingInteraction marks a task suspended for a user decision.
	StatusPendingInteraction = "pending_interaction"
	// StatusNoOp marks a task with no action that trivially succeeded.
	StatusNoOp = "no_op"
)

// ExecutionResult is the recorded outcome of one task.
type ExecutionResult struct {
	TaskID string         `json:"task_id"`
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result,omitempty"`
	Error  *string        `json:"error,omitempty"`
}

// NewSuccessResult creates an ok result with an opaque payload.
func NewSuccessResult(taskID string, payload map[string]any) *ExecutionResult {
	return &ExecutionResult{TaskID: taskID, OK: true, Result: payload}
}

// NewFailureResult creates a failed result carrying the error text.
func NewFailureResult(taskID string, errMsg string) *ExecutionResult {
	return &ExecutionResult{TaskID: taskID, OK: false, Error: &errMsg}
}

// NewSkippedResult creates the sentinel result for an already-completed task.
func NewSkippedResult(taskID string) *ExecutionResult {
	return NewSuccessResult(taskID, map[string]any{"status": StatusSkipped})
}

// NewPendingInteractionResult creates the sentinel result recorded when a
// run suspends on this task. The prompt id lets callers correlate the
// pending approval with the suspended task.
func NewPendingInteractionResult(taskID, promptID string) *ExecutionResult {
	return NewSuccessResult(taskID, map[string]any{
		"status":    StatusPendingInteraction,
		"prompt_id": promptID,
	})
}

// Status returns the status marker recorded in the result payload, if any.
func (r *ExecutionResult) Status() string {
	if r.Result == nil {
		return ""
	}
	if s, ok := r.Result["status"].(string); ok {
		return s
	}
	return ""
}

// IsPendingInteraction reports whether this result suspended the run.
func (r *ExecutionResult) IsPendingInteraction() bool {
	return r.Status() == StatusPendingInteraction
}

// ErrorText returns the error string or "" when the result succeeded.
func (r *ExecutionResult) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// =============================================================================
// RUN REPORT
// =============================================================================

// RunReport aggregates per-task results for one plan-run invocation.
type RunReport struct {
	PlanID       string             `json:"plan_id"`
	Outcome      RunOutcome         `json:"outcome"`
	Results      []*ExecutionResult `json:"results"`
	PausedTaskID string             `json:"paused_task_id,omitempty"`
	PromptID     string             `json:"prompt_id,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	DurationMS   int                `json:"duration_ms"`
}

// ResultFor finds the recorded result for a task id.
func (r *RunReport) ResultFor(taskID string) *ExecutionResult {
	for _, res := range r.Results {
		if res.TaskID == taskID {
			return res
		}
	}
	return nil
}

// CompletedTaskIDs returns the ids of every task recorded ok, excluding the
// task the run suspended on. Feeding these back into the next invocation's
// skip set resumes the plan without re-executing finished work.
func (r *RunReport) CompletedTaskIDs() []string {
	ids := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.OK && !res.IsPendingInteraction() {
			ids = append(ids, res.TaskID)
		}
	}
	return ids
}

// FirstError returns the first recorded failure message, or "".
func (r *RunReport) FirstError() string {
	for _, res := range r.Results {
		if !res.OK {
			return res.ErrorText()
		}
	}
	return ""
}
