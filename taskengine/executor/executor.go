// Package executor runs compiled plans against a sandboxed action runner.
//
// Execution is a state machine over the plan's task tree, visited in order:
// root tasks sequentially, children only as a fallback branch after the
// parent's action fails. A run has exactly two suspension points: tasks whose
// action kind requires direct user interaction, and challenge-response
// failures reported by the runner. Suspension halts the entire run; the
// report carries the paused task id and prompt id so a caller can resume by
// feeding the completed-task set back into the next invocation.
//
// There is no parallelism across sibling tasks. Later tasks may depend on
// state mutated by earlier ones, so ordering is part of the contract.
package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jason-automation/jason-core/commbus"
	"github.com/jason-automation/jason-core/taskengine/approvals"
	"github.com/jason-automation/jason-core/taskengine/config"
	"github.com/jason-automation/jason-core/taskengine/correction"
	"github.com/jason-automation/jason-core/taskengine/observability"
	"github.com/jason-automation/jason-core/taskengine/plan"
	"github.com/jason-automation/jason-core/taskengine/runner"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options carry per-run settings.
type Options struct {
	// Simulate requests a dry run: the runner performs no side effects and
	// the executor continues through failures so the whole plan is analyzed.
	Simulate bool
	// Capabilities restrict what the runner may do. Nil grants the full set.
	Capabilities *runner.SandboxCapabilities
	// AlreadyCompleted is the idempotent skip set: task ids recorded ok in a
	// prior invocation of the same plan. Skipped tasks never reach the runner.
	AlreadyCompleted []string
}

func (o Options) runOptions() runner.RunOptions {
	caps := runner.DefaultSandboxCapabilities()
	if o.Capabilities != nil {
		caps = *o.Capabilities
	}
	return runner.RunOptions{Simulate: o.Simulate, Capabilities: caps}
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs plans. Safe for concurrent use across different plans; runs
// share no state beyond the injected collaborators.
type Executor struct {
	cfg      *config.ExecutorConfig
	runner   runner.ActionRunner
	workflow *approvals.Workflow
	loop     *correction.Loop
	bus      commbus.CommBus
	logger   commbus.Logger
	tracer   trace.Tracer
}

// New creates an executor. workflow, loop, bus, and logger may be nil; a nil
// runner defaults to the simulated runner.
func New(cfg *config.ExecutorConfig, run runner.ActionRunner, workflow *approvals.Workflow, loop *correction.Loop, bus commbus.CommBus, logger commbus.Logger) *Executor {
	if cfg == nil {
		cfg = config.DefaultExecutorConfig()
	}
	if run == nil {
		run = runner.NewSimulatedRunner()
	}
	if workflow == nil {
		workflow = approvals.NewWorkflow(logger, nil)
	}
	return &Executor{
		cfg:      cfg,
		runner:   run,
		workflow: workflow,
		loop:     loop,
		bus:      bus,
		logger:   logger,
		tracer:   otel.Tracer("jason-core/executor"),
	}
}

// Workflow exposes the approval workflow so callers can resolve the prompts
// this executor creates.
func (e *Executor) Workflow() *approvals.Workflow {
	return e.workflow
}

// =============================================================================
// RUN STATE MACHINE
// =============================================================================

// stepResult is the control-flow signal of one task visit.
type stepResult int

const (
	// stepOK covers success, skip, optional failure, and recovered failure
	// (a failure whose fallback branch was attempted).
	stepOK stepResult = iota
	// stepFailed is an unrecoverable failure: non-optional, no fallback left.
	stepFailed
	// stepSuspended halts the run pending a user decision.
	stepSuspended
	// stepBudget halts the run because the task budget is exhausted.
	stepBudget
)

type runState struct {
	plan     *plan.Plan
	opts     runner.RunOptions
	simulate bool
	skip     map[string]bool
	report   *plan.RunReport
	tasksRun int
}

func (s *runState) record(res *plan.ExecutionResult) {
	s.report.Results = append(s.report.Results, res)
}

// Run executes a plan and returns the per-task report.
// The returned report always reflects every task visited before the run
// halted; it is never nil.
func (e *Executor) Run(ctx context.Context, p *plan.Plan, opts Options) *plan.RunReport {
	started := time.Now().UTC()
	ctx, span := e.tracer.Start(ctx, "executor.run",
		trace.WithAttributes(
			attribute.String("plan.id", p.ID),
			attribute.Bool("simulate", opts.Simulate),
			attribute.Int("plan.task_count", p.TaskCount()),
		))
	defer span.End()

	st := &runState{
		plan:     p,
		opts:     opts.runOptions(),
		simulate: opts.Simulate,
		skip:     make(map[string]bool, len(opts.AlreadyCompleted)),
		report:   &plan.RunReport{PlanID: p.ID, StartedAt: started},
	}
	for _, id := range opts.AlreadyCompleted {
		st.skip[id] = true
	}

	for _, task := range p.Tasks {
		step := e.visit(ctx, st, task, 0, false)
		if step == stepSuspended || step == stepBudget {
			break
		}
		// Dry runs continue through failures to analyze the whole plan.
		if step == stepFailed && !st.simulate {
			break
		}
	}

	st.report.Outcome = e.outcome(st)
	st.report.DurationMS = int(time.Since(started).Milliseconds())

	span.SetAttributes(attribute.String("run.outcome", string(st.report.Outcome)))
	observability.RecordPlanRun(string(st.report.Outcome), st.report.DurationMS)
	if e.logger != nil {
		e.logger.Info("run_finished",
			"plan_id", p.ID,
			"outcome", string(st.report.Outcome),
			"tasks", len(st.report.Results),
			"duration_ms", st.report.DurationMS,
		)
	}
	e.publishRunCompleted(ctx, st.report)

	return st.report
}

// outcome derives the terminal state: paused wins, then completed, then failed.
func (e *Executor) outcome(st *runState) plan.RunOutcome {
	if st.report.PausedTaskID != "" {
		return plan.RunOutcomePaused
	}
	for _, res := range st.report.Results {
		if !res.OK {
			return plan.RunOutcomeFailed
		}
	}
	return plan.RunOutcomeCompleted
}

// visit applies the state machine to one task.
func (e *Executor) visit(ctx context.Context, st *runState, task *plan.Task, depth int, fallback bool) stepResult {
	if e.cfg.MaxTasksPerRun > 0 && st.tasksRun >= e.cfg.MaxTasksPerRun {
		st.record(plan.NewFailureResult(task.ID, "task budget for this run exhausted"))
		return stepBudget
	}
	st.tasksRun++

	// Skip: already completed in a prior invocation of the same plan.
	if st.skip[task.ID] {
		st.record(plan.NewSkippedResult(task.ID))
		e.publishTaskCompleted(ctx, st, task, plan.StatusSkipped, 0, nil)
		observability.RecordTaskExecution(actionKind(task), plan.StatusSkipped, 0)
		return stepOK
	}

	// No-op / grouping: no action means nothing to execute directly.
	if task.Action == nil {
		return e.visitGroup(ctx, st, task, depth, fallback)
	}

	// Interactive: never execute, queue a decision and suspend.
	if task.Action.Kind.RequiresInteraction() {
		return e.suspendInteractive(ctx, st, task)
	}

	return e.visitExecutable(ctx, st, task, depth, fallback)
}

// visitGroup handles tasks without an action: pure narrative no-ops and
// grouping nodes whose children are visited in order.
func (e *Executor) visitGroup(ctx context.Context, st *runState, task *plan.Task, depth int, fallback bool) stepResult {
	for _, child := range task.Children {
		step := e.visit(ctx, st, child, depth, fallback)
		if step == stepSuspended || step == stepBudget {
			return step
		}
		if step == stepFailed && !st.simulate {
			st.record(plan.NewFailureResult(task.ID, "child task failed"))
			return stepFailed
		}
	}
	st.record(plan.NewSuccessResult(task.ID, map[string]any{"status": plan.StatusNoOp}))
	e.publishTaskCompleted(ctx, st, task, "success", 0, nil)
	observability.RecordTaskExecution(actionKind(task), "success", 0)
	return stepOK
}

// visitExecutable invokes the runner and routes the outcome through
// fallback or suspension.
func (e *Executor) visitExecutable(ctx context.Context, st *runState, task *plan.Task, depth int, fallback bool) stepResult {
	e.publishTaskStarted(ctx, st, task, fallback)

	startedAt := time.Now()
	payload, err := e.runner.Execute(ctx, task.Action, st.opts)
	durationMS := int(time.Since(startedAt).Milliseconds())

	if err == nil {
		if payload == nil {
			payload = make(map[string]any)
		}
		payload["duration_ms"] = durationMS
		result := plan.NewSuccessResult(task.ID, payload)
		st.record(result)
		e.review(ctx, st, task, result, true)
		e.publishTaskCompleted(ctx, st, task, "success", durationMS, nil)
		observability.RecordTaskExecution(actionKind(task), "success", durationMS)
		return stepOK
	}

	failure := plan.NewFailureResult(task.ID, err.Error())

	// Every failure is reviewed synchronously before the run continues, so
	// retry rules and avoidance entries exist by the time fallback or the
	// next root task looks at shared state.
	e.review(ctx, st, task, failure, false)

	// Challenge response always suspends. A human must clear the
	// verification step; fallback children cannot.
	if runner.IsChallengeResponse(err) {
		return e.suspendChallengeResponse(ctx, st, task, err)
	}

	// Optional tasks absorb their own failures.
	if task.Optional {
		st.record(plan.NewSuccessResult(task.ID, map[string]any{
			"optional_failure": true,
			"error":            err.Error(),
			"duration_ms":      durationMS,
		}))
		e.publishTaskCompleted(ctx, st, task, "success", durationMS, nil)
		observability.RecordTaskExecution(actionKind(task), "success", durationMS)
		return stepOK
	}

	st.record(failure)
	e.publishTaskCompleted(ctx, st, task, "error", durationMS, err)
	observability.RecordTaskExecution(actionKind(task), "error", durationMS)

	// Fallback: attempt the degraded path, in order, with the same machine.
	if len(task.Children) > 0 && depth < e.cfg.MaxFallbackDepth {
		if e.logger != nil {
			e.logger.Warn("task_failed_entering_fallback",
				"plan_id", st.plan.ID,
				"task_id", task.ID,
				"children", len(task.Children),
				"error", err.Error(),
			)
		}
		for _, child := range task.Children {
			step := e.visit(ctx, st, child, depth+1, true)
			if step == stepSuspended || step == stepBudget {
				return step
			}
			if step == stepFailed && !st.simulate {
				return stepFailed
			}
		}
		// The failure is recorded but recovered: the run moves on.
		return stepOK
	}

	return stepFailed
}

// =============================================================================
// SUSPENSION
// =============================================================================

// suspendInteractive queues a decision for a task that requires direct user
// interaction and halts the run.
func (e *Executor) suspendInteractive(ctx context.Context, st *runState, task *plan.Task) stepResult {
	level := 2
	if task.Action.IsHighRisk() {
		level = 3
	}

	prompt := e.workflow.CreatePrompt(level, task.Name,
		approvals.WithRationale(task.Description),
		approvals.WithPlanTask(st.plan.ID, task.ID),
		approvals.WithMeta(map[string]any{"action": task.Action.Name}),
	)

	return e.suspend(ctx, st, task, prompt, "awaiting user decision")
}

// suspendChallengeResponse converts a challenge-response failure into a
// tier-3 manual step and halts the run. The failure never reaches the
// fallback branch.
func (e *Executor) suspendChallengeResponse(ctx context.Context, st *runState, task *plan.Task, cause error) stepResult {
	prompt := e.workflow.CreatePrompt(3, "Manual verification required: "+task.Name,
		approvals.WithRationale("The target raised a verification challenge that must be completed by hand."),
		approvals.WithPlanTask(st.plan.ID, task.ID),
		approvals.WithMeta(map[string]any{
			"action": task.Action.Name,
			"target": task.Action.Target,
			"cause":  cause.Error(),
		}),
	)

	return e.suspend(ctx, st, task, prompt, cause.Error())
}

// suspend records the pending-interaction sentinel, broadcasts the request,
// and marks the run paused. No further tasks start after this returns.
func (e *Executor) suspend(ctx context.Context, st *runState, task *plan.Task, prompt *approvals.Prompt, reason string) stepResult {
	st.record(plan.NewPendingInteractionResult(task.ID, prompt.ID))
	st.report.PausedTaskID = task.ID
	st.report.PromptID = prompt.ID

	if e.logger != nil {
		e.logger.Info("run_suspended",
			"plan_id", st.plan.ID,
			"task_id", task.ID,
			"prompt_id", prompt.ID,
			"level", prompt.Level,
		)
	}

	if e.bus != nil {
		_ = e.bus.Publish(ctx, &commbus.InteractionRequested{
			PlanID:   st.plan.ID,
			TaskID:   task.ID,
			PromptID: prompt.ID,
			Level:    prompt.Level,
			Title:    prompt.Title,
			Reason:   reason,
			Meta:     prompt.Meta,
		})
	}

	e.publishTaskCompleted(ctx, st, task, plan.StatusPendingInteraction, 0, nil)
	observability.RecordTaskExecution(actionKind(task), plan.StatusPendingInteraction, 0)
	return stepSuspended
}

// =============================================================================
// COLLABORATOR HOOKS
// =============================================================================

// review hands the planned task and actual result to the correction loop.
func (e *Executor) review(ctx context.Context, st *runState, task *plan.Task, actual *plan.ExecutionResult, success bool) {
	if e.loop == nil {
		return
	}
	e.loop.Review(ctx, st.plan.ID, task.ID, task, actual, success)
}

func (e *Executor) publishTaskStarted(ctx context.Context, st *runState, task *plan.Task, fallback bool) {
	if e.bus == nil {
		return
	}
	_ = e.bus.Publish(ctx, &commbus.TaskStarted{
		PlanID:     st.plan.ID,
		TaskID:     task.ID,
		TaskName:   task.Name,
		ActionKind: actionKind(task),
		Fallback:   fallback,
	})
}

func (e *Executor) publishTaskCompleted(ctx context.Context, st *runState, task *plan.Task, status string, durationMS int, cause error) {
	if e.bus == nil {
		return
	}
	event := &commbus.TaskCompleted{
		PlanID:     st.plan.ID,
		TaskID:     task.ID,
		TaskName:   task.Name,
		Status:     status,
		DurationMS: durationMS,
	}
	if cause != nil {
		text := cause.Error()
		event.Error = &text
	}
	_ = e.bus.Publish(ctx, event)
}

func (e *Executor) publishRunCompleted(ctx context.Context, report *plan.RunReport) {
	if e.bus == nil {
		return
	}
	ok, failed := 0, 0
	for _, res := range report.Results {
		if res.OK {
			ok++
		} else {
			failed++
		}
	}
	event := &commbus.RunCompleted{
		PlanID:       report.PlanID,
		Outcome:      string(report.Outcome),
		DurationMS:   report.DurationMS,
		TasksOK:      ok,
		TasksFailed:  failed,
		PausedTaskID: report.PausedTaskID,
	}
	if first := report.FirstError(); first != "" {
		event.Error = &first
	}
	_ = e.bus.Publish(ctx, event)
}

func actionKind(task *plan.Task) string {
	if task.Action == nil {
		return "none"
	}
	return string(task.Action.Kind)
}
