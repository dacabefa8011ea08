// Package decomposer compiles a natural-language goal into an executable
// plan tree.
//
// Compilation is layered: the goal is normalized (typo correction via a
// language-model collaborator with a fixed-dictionary edit-distance
// fallback), then matched against ordered domain templates, and only when
// no template fires does the general-purpose decomposition collaborator
// run. A decomposition failure never leaves a goal with zero tasks; a
// minimal two-task fallback plan is always synthesized.
//
// Template-matched plans are deterministic: identical goal text and context
// produce structurally identical plans modulo fresh ids and timestamps.
package decomposer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jason-automation/jason-core/commbus"
	"github.com/jason-automation/jason-core/taskengine/config"
	"github.com/jason-automation/jason-core/taskengine/observability"
	"github.com/jason-automation/jason-core/taskengine/plan"
	"github.com/jason-automation/jason-core/taskengine/typeutil"
)

// =============================================================================
// COLLABORATOR
// =============================================================================

// Collaborator is the language-model collaborator used for goal
// normalization and fallback decomposition. Best-effort: every call may
// fail and compilation degrades gracefully.
type Collaborator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Plan sources recorded on the PlanCompiled event.
const (
	SourceTemplate = "template"
	SourceLLM      = "llm"
	SourceFallback = "fallback"
)

// =============================================================================
// DECOMPOSER
// =============================================================================

// Decomposer turns goals into plans.
type Decomposer struct {
	cfg          *config.DecomposerConfig
	collaborator Collaborator
	bus          commbus.CommBus
	logger       commbus.Logger
	// now is injectable for deterministic date tests.
	now func() time.Time
}

// New creates a decomposer. collaborator, bus, and logger may be nil.
func New(cfg *config.DecomposerConfig, collaborator Collaborator, bus commbus.CommBus, logger commbus.Logger) *Decomposer {
	if cfg == nil {
		cfg = config.DefaultDecomposerConfig()
	}
	return &Decomposer{
		cfg:          cfg,
		collaborator: collaborator,
		bus:          bus,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the decomposer's clock. Used by tests that pin dates.
func (d *Decomposer) WithClock(now func() time.Time) *Decomposer {
	d.now = now
	return d
}

// Compile converts a goal string plus context into a plan.
func (d *Decomposer) Compile(ctx context.Context, goal string, goalContext map[string]any) *plan.Plan {
	normalized := d.normalize(ctx, goal)

	tasks, domain, source := d.decompose(ctx, goal, normalized, goalContext)
	compiled := plan.NewPlan(goal, tasks, domain)
	observability.RecordPlanCompiled(domain, source)

	if d.logger != nil {
		d.logger.Info("plan_compiled",
			"plan_id", compiled.ID,
			"domain", domain,
			"source", source,
			"task_count", compiled.TaskCount(),
		)
	}
	if d.bus != nil {
		_ = d.bus.Publish(ctx, &commbus.PlanCompiled{
			PlanID:    compiled.ID,
			Goal:      goal,
			Domain:    domain,
			TaskCount: compiled.TaskCount(),
			Source:    source,
		})
	}

	return compiled
}

// decompose tries templates, then the collaborator, then the terminal
// fallback. Never returns zero tasks.
func (d *Decomposer) decompose(ctx context.Context, rawGoal, normalized string, goalContext map[string]any) ([]*plan.Task, string, string) {
	for _, tmpl := range domainTemplates {
		if tmpl.matches(normalized) {
			return tmpl.Build(rawGoal, goalContext, d.now()), tmpl.Domain, SourceTemplate
		}
	}

	if d.cfg.UseCollaboratorFallback && d.collaborator != nil {
		tasks, err := d.collaboratorDecompose(ctx, rawGoal)
		if err == nil {
			return tasks, "general", SourceLLM
		}
		if d.logger != nil {
			d.logger.Warn("collaborator decomposition failed, using fallback plan",
				"goal", rawGoal, "error", err)
		}
	}

	return fallbackTasks(rawGoal), "general", SourceFallback
}

// normalize corrects typos in the goal, preferring the collaborator and
// falling back to dictionary nearest-match correction.
func (d *Decomposer) normalize(ctx context.Context, goal string) string {
	if d.cfg.UseCollaboratorNormalization && d.collaborator != nil {
		corrected, err := d.collaborator.Generate(ctx,
			"Correct typos in the user's goal. Reply with only the corrected text.",
			goal,
		)
		if err == nil {
			corrected = strings.TrimSpace(corrected)
			if corrected != "" {
				return strings.ToLower(corrected)
			}
		}
	}
	return normalizeGoal(goal)
}

// =============================================================================
// COLLABORATOR FALLBACK
// =============================================================================

const decompositionSystemPrompt = `Decompose the user's goal into a JSON array of tasks.
Each task: {"name": string, "description": string, "action": {"type": "web"|"app"|"ui"|"system"|"interact"|"notify", "name": string, "payload": object, "riskLevel": number 0..1}}.
Tasks without side effects may omit "action". Reply with only the JSON array.`

// collaboratorDecompose calls the collaborator and strictly validates the
// returned JSON task array.
func (d *Decomposer) collaboratorDecompose(ctx context.Context, goal string) ([]*plan.Task, error) {
	raw, err := d.collaborator.Generate(ctx, decompositionSystemPrompt, goal)
	if err != nil {
		return nil, fmt.Errorf("collaborator: %w", err)
	}

	tasks, err := parseTaskArray(raw)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("collaborator returned zero tasks")
	}
	return tasks, nil
}

// parseTaskArray decodes and validates a JSON task array.
func parseTaskArray(raw string) ([]*plan.Task, error) {
	raw = strings.TrimSpace(raw)
	// Tolerate fenced output.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var decoded []any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("malformed task array: %w", err)
	}

	tasks := make([]*plan.Task, 0, len(decoded))
	for i, item := range decoded {
		obj, ok := typeutil.SafeMapStringAny(item)
		if !ok {
			return nil, fmt.Errorf("task %d is not an object", i)
		}

		name, ok := typeutil.SafeString(obj["name"])
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("task %d has no name", i)
		}

		task := &plan.Task{
			ID:          plan.NewTaskID(),
			Name:        name,
			Description: typeutil.SafeStringDefault(obj["description"], ""),
			Optional:    typeutil.SafeBoolDefault(obj["optional"], false),
		}
		if tags, ok := typeutil.SafeStringSlice(obj["tags"]); ok {
			task.Tags = tags
		}

		if rawAction, present := obj["action"]; present && rawAction != nil {
			action, err := parseAction(rawAction)
			if err != nil {
				return nil, fmt.Errorf("task %d (%s): %w", i, name, err)
			}
			task.Action = action
		}

		// High-risk leaves must carry a safe degraded path.
		if task.Action != nil && task.Action.IsHighRisk() && len(task.Children) == 0 {
			task.Children = []*plan.Task{
				{
					ID:   plan.NewTaskID(),
					Name: "Draft for manual review",
					Action: &plan.Action{
						Kind:      plan.ActionKindNotify,
						Name:      "draft_for_review",
						Payload:   map[string]any{"task": name},
						RiskLevel: 0.0,
					},
				},
			}
		}

		tasks = append(tasks, task)
	}
	return tasks, nil
}

// parseAction validates one action object.
func parseAction(raw any) (*plan.Action, error) {
	obj, ok := typeutil.SafeMapStringAny(raw)
	if !ok {
		return nil, fmt.Errorf("action is not an object")
	}

	kindText, ok := typeutil.SafeString(obj["type"])
	if !ok {
		return nil, fmt.Errorf("action has no type")
	}
	kind, err := plan.ActionKindFromString(kindText)
	if err != nil {
		return nil, err
	}

	name, ok := typeutil.SafeString(obj["name"])
	if !ok || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("action has no name")
	}

	risk := typeutil.SafeFloat64Default(obj["riskLevel"], 0)
	if risk < 0 || risk > 1 {
		return nil, fmt.Errorf("action risk level %f out of range", risk)
	}

	action := &plan.Action{
		Kind:      kind,
		Name:      name,
		RiskLevel: risk,
		Target:    typeutil.SafeStringDefault(obj["target"], ""),
	}
	if payload, ok := typeutil.SafeMapStringAny(obj["payload"]); ok {
		action.Payload = payload
	}
	if tags, ok := typeutil.SafeStringSlice(obj["tags"]); ok {
		action.Tags = tags
	}
	return action, nil
}

// =============================================================================
// TERMINAL FALLBACK
// =============================================================================

// fallbackTasks synthesizes the minimal two-task plan used when every
// decomposition path failed: investigate, then tell the user.
func fallbackTasks(goal string) []*plan.Task {
	return []*plan.Task{
		{
			ID:          plan.NewTaskID(),
			Name:        "Investigate goal",
			Description: "Gather information about what the goal requires",
			Action: &plan.Action{
				Kind:      plan.ActionKindSystem,
				Name:      "investigate",
				Payload:   map[string]any{"goal": goal},
				RiskLevel: 0.1,
			},
		},
		{
			ID:          plan.NewTaskID(),
			Name:        "Notify user of findings",
			Description: "Report what was found and ask how to proceed",
			Action: &plan.Action{
				Kind:      plan.ActionKindNotify,
				Name:      "report_findings",
				Payload:   map[string]any{"goal": goal},
				RiskLevel: 0.0,
			},
		},
	}
}
