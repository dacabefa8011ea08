// Package plan provides the task-tree data model for the goal-to-execution
// pipeline.
//
// A Plan is an immutable, ordered tree of Tasks compiled from a natural
// language goal. Leaf Tasks carry an Action describing the side effect to
// perform; Children are a fallback branch attempted only after the parent's
// action fails.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ACTION KINDS
// =============================================================================

// ActionKind is the closed set of executable action variants.
// The executor switches exhaustively over this type; adding a kind is a
// compile-time-checked change.
type ActionKind string

const (
	// ActionKindWeb is a browser/web automation action.
	ActionKindWeb ActionKind = "web"
	// ActionKindApp is a desktop/mobile application action.
	ActionKindApp ActionKind = "app"
	// ActionKindUI is a direct UI manipulation action.
	ActionKindUI ActionKind = "ui"
	// ActionKindSystem is an OS/process-level action.
	ActionKindSystem ActionKind = "system"
	// ActionKindInteract requires a direct user decision before anything runs.
	ActionKindInteract ActionKind = "interact"
	// ActionKindNotify surfaces information to the user, no external effect.
	ActionKindNotify ActionKind = "notify"
)

// ActionKindFromString parses an action kind string.
func ActionKindFromString(value string) (ActionKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "web":
		return ActionKindWeb, nil
	case "app":
		return ActionKindApp, nil
	case "ui":
		return ActionKindUI, nil
	case "system":
		return ActionKindSystem, nil
	case "interact":
		return ActionKindInteract, nil
	case "notify":
		return ActionKindNotify, nil
	default:
		return "", fmt.Errorf("invalid action kind '%s'. Must be one of: web, app, ui, system, interact, notify", value)
	}
}

// RequiresInteraction reports whether this kind must suspend the run and
// wait for a human decision instead of executing.
func (k ActionKind) RequiresInteraction() bool {
	return k == ActionKindInteract
}

// =============================================================================
// ACTION
// =============================================================================

// Action is the executable leaf specification of a Task.
type Action struct {
	Kind      ActionKind     `json:"kind"`
	Name      string         `json:"name"`
	Payload   map[string]any `json:"payload,omitempty"`
	RiskLevel float64        `json:"risk_level"` // [0, 1]
	Tags      []string       `json:"tags,omitempty"`
	// Target is the URL/host or process the action operates on, when known.
	Target string `json:"target,omitempty"`
}

// HighRiskThreshold marks actions that must carry a fallback branch.
const HighRiskThreshold = 0.7

// IsHighRisk reports whether the action commits the user financially or
// causes irreversible external effects.
func (a *Action) IsHighRisk() bool {
	return a.RiskLevel >= HighRiskThreshold
}

// HasTag checks for a semantic tag on the action.
func (a *Action) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// =============================================================================
// TASK
// =============================================================================

// Task is a node in a plan tree.
//
// Invariant: a Task with no Action and no Children is a no-op that trivially
// succeeds (used for narrative/analysis steps with no side effect).
type Task struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Action      *Action  `json:"action,omitempty"`
	// Children are the fallback branch, executed in order only when this
	// task's action fails and the task is not optional.
	Children []*Task  `json:"children,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	// Optional means failure of this task does not fail the plan.
	Optional bool `json:"optional,omitempty"`
}

// NewTaskID generates a fresh opaque task id.
func NewTaskID() string {
	return "task_" + uuid.New().String()[:16]
}

// IsNoOp reports whether the task has neither an action nor children.
func (t *Task) IsNoOp() bool {
	return t.Action == nil && len(t.Children) == 0
}

// HasTag checks for a semantic tag on the task.
func (t *Task) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}

// Walk visits the task and its children depth-first.
// Visiting stops when fn returns false.
func (t *Task) Walk(fn func(*Task) bool) bool {
	if !fn(t) {
		return false
	}
	for _, child := range t.Children {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// =============================================================================
// PLAN
// =============================================================================

// Metadata carries aggregate statistics computed at compile time.
type Metadata struct {
	TaskCount         int     `json:"task_count"`
	EstimatedDuration int     `json:"estimated_duration_seconds"`
	AggregateRisk     float64 `json:"aggregate_risk"`
	Domain            string  `json:"domain,omitempty"`
}

// Plan is an ordered sequence of root tasks compiled from a goal.
// A Plan is immutable once compiled; re-planning produces a new Plan.
type Plan struct {
	ID        string    `json:"id"`
	Goal      string    `json:"goal"`
	Tasks     []*Task   `json:"tasks"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// NewPlanID generates a fresh opaque plan id.
func NewPlanID() string {
	return "plan_" + uuid.New().String()[:16]
}

// NewPlan creates a plan for a goal and computes its metadata.
func NewPlan(goal string, tasks []*Task, domain string) *Plan {
	p := &Plan{
		ID:        NewPlanID(),
		Goal:      goal,
		Tasks:     tasks,
		CreatedAt: time.Now().UTC(),
	}
	p.Metadata = &Metadata{
		TaskCount:         p.TaskCount(),
		EstimatedDuration: p.TaskCount() * DefaultTaskDurationSeconds,
		AggregateRisk:     p.AggregateRisk(),
		Domain:            domain,
	}
	return p
}

// DefaultTaskDurationSeconds is the flat per-task duration estimate used
// for plan metadata and planned-vs-actual comparison.
const DefaultTaskDurationSeconds = 30

// TaskCount counts every task in the tree, fallback branches included.
func (p *Plan) TaskCount() int {
	count := 0
	for _, t := range p.Tasks {
		t.Walk(func(*Task) bool {
			count++
			return true
		})
	}
	return count
}

// AggregateRisk returns the maximum action risk level across the tree.
func (p *Plan) AggregateRisk() float64 {
	risk := 0.0
	for _, t := range p.Tasks {
		t.Walk(func(task *Task) bool {
			if task.Action != nil && task.Action.RiskLevel > risk {
				risk = task.Action.RiskLevel
			}
			return true
		})
	}
	return risk
}

// FindTask locates a task by id anywhere in the tree.
func (p *Plan) FindTask(id string) *Task {
	var found *Task
	for _, t := range p.Tasks {
		t.Walk(func(task *Task) bool {
			if task.ID == id {
				found = task
				return false
			}
			return true
		})
		if found != nil {
			break
		}
	}
	return found
}
