package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-automation/jason-core/commbus"
	"github.com/jason-automation/jason-core/taskengine/approvals"
	"github.com/jason-automation/jason-core/taskengine/config"
	"github.com/jason-automation/jason-core/taskengine/correction"
	"github.com/jason-automation/jason-core/taskengine/plan"
	"github.com/jason-automation/jason-core/taskengine/retrypolicy"
	"github.com/jason-automation/jason-core/taskengine/runner"
)

// recordingRunner records every action it executes and can script failures.
type recordingRunner struct {
	executed []string
	fail     map[string]error
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{fail: make(map[string]error)}
}

func (r *recordingRunner) failWith(actionName string, err error) *recordingRunner {
	r.fail[actionName] = err
	return r
}

func (r *recordingRunner) Execute(ctx context.Context, action *plan.Action, opts runner.RunOptions) (map[string]any, error) {
	r.executed = append(r.executed, action.Name)
	if err := r.fail[action.Name]; err != nil {
		return nil, err
	}
	return map[string]any{"done": action.Name}, nil
}

func webTask(name, actionName string) *plan.Task {
	return &plan.Task{
		ID:   plan.NewTaskID(),
		Name: name,
		Action: &plan.Action{
			Kind:      plan.ActionKindWeb,
			Name:      actionName,
			Target:    "example.com",
			RiskLevel: 0.2,
		},
	}
}

func interactTask(name string) *plan.Task {
	return &plan.Task{
		ID:   plan.NewTaskID(),
		Name: name,
		Action: &plan.Action{
			Kind:      plan.ActionKindInteract,
			Name:      "confirm",
			RiskLevel: 0.3,
		},
	}
}

func testPlan(tasks ...*plan.Task) *plan.Plan {
	return plan.NewPlan("test goal", tasks, "test")
}

func newExecutor(run runner.ActionRunner) *Executor {
	return New(config.DefaultExecutorConfig(), run, nil, nil, nil, nil)
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestAllTasksSucceed(t *testing.T) {
	run := newRecordingRunner()
	e := newExecutor(run)

	p := testPlan(webTask("Search", "search"), webTask("Draft", "draft"))
	report := e.Run(context.Background(), p, Options{})

	assert.Equal(t, plan.RunOutcomeCompleted, report.Outcome)
	assert.Equal(t, []string{"search", "draft"}, run.executed)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.True(t, res.OK)
		assert.Contains(t, res.Result, "duration_ms")
	}
}

func TestNoOpTaskSucceedsWithoutRunner(t *testing.T) {
	run := newRecordingRunner()
	e := newExecutor(run)

	noop := &plan.Task{ID: plan.NewTaskID(), Name: "Analyze requirements"}
	p := testPlan(noop, webTask("Search", "search"))
	report := e.Run(context.Background(), p, Options{})

	assert.Equal(t, plan.RunOutcomeCompleted, report.Outcome)
	assert.Equal(t, []string{"search"}, run.executed, "no-op must never reach the runner")
	assert.Equal(t, plan.StatusNoOp, report.ResultFor(noop.ID).Status())
}

// =============================================================================
// IDEMPOTENT SKIP SET
// =============================================================================

func TestResumeSkipsCompletedTasks(t *testing.T) {
	run := newRecordingRunner()
	e := newExecutor(run)
	p := testPlan(webTask("Search", "search"), webTask("Draft", "draft"))

	first := e.Run(context.Background(), p, Options{})
	require.Equal(t, plan.RunOutcomeCompleted, first.Outcome)

	run.executed = nil
	second := e.Run(context.Background(), p, Options{
		AlreadyCompleted: first.CompletedTaskIDs(),
	})

	assert.Equal(t, plan.RunOutcomeCompleted, second.Outcome)
	assert.Empty(t, run.executed, "skipped tasks must not re-invoke the runner")
	for _, res := range second.Results {
		assert.True(t, res.OK)
		assert.Equal(t, plan.StatusSkipped, res.Status())
	}
}

// =============================================================================
// INTERACTIVE SUSPENSION
// =============================================================================

func TestInteractiveTaskSuspendsRun(t *testing.T) {
	run := newRecordingRunner()
	e := newExecutor(run)

	interactive := interactTask("Confirm bookings")
	executable := webTask("Send summary", "send_summary")
	p := testPlan(interactive, executable)

	report := e.Run(context.Background(), p, Options{})

	assert.Equal(t, plan.RunOutcomePaused, report.Outcome)
	assert.Equal(t, interactive.ID, report.PausedTaskID)
	assert.NotEmpty(t, report.PromptID)
	assert.Empty(t, run.executed, "the executable task must never be attempted")

	// The suspended task is recorded ok with the sentinel marker.
	res := report.ResultFor(interactive.ID)
	require.NotNil(t, res)
	assert.True(t, res.OK)
	assert.True(t, res.IsPendingInteraction())

	// A pending prompt is queued for the plan.
	pending := e.Workflow().GetPendingForPlan(p.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, report.PromptID, pending[0].ID)
}

func TestSuspensionRoundTrip(t *testing.T) {
	run := newRecordingRunner()
	e := newExecutor(run)

	interactive := interactTask("Confirm bookings")
	executable := webTask("Send summary", "send_summary")
	p := testPlan(interactive, executable)

	first := e.Run(context.Background(), p, Options{})
	require.Equal(t, plan.RunOutcomePaused, first.Outcome)

	// User approves; resume with the interactive task marked completed.
	e.Workflow().Resolve(first.PromptID, &approvals.Decision{Approved: true})
	resumed := e.Run(context.Background(), p, Options{
		AlreadyCompleted: []string{interactive.ID},
	})

	assert.Equal(t, plan.RunOutcomeCompleted, resumed.Outcome)
	assert.Equal(t, []string{"send_summary"}, run.executed,
		"resumption must execute exactly the executable task")
}

func TestInteractionRequestedBroadcastBeforeReturn(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	var seen []*commbus.InteractionRequested
	bus.Subscribe("InteractionRequested", func(ctx context.Context, msg commbus.Message) (any, error) {
		seen = append(seen, msg.(*commbus.InteractionRequested))
		return nil, nil
	})

	e := New(nil, newRecordingRunner(), nil, nil, bus, nil)
	p := testPlan(interactTask("Confirm"))

	report := e.Run(context.Background(), p, Options{})

	// Urgent delivery: the subscriber has already run by the time Run returns.
	require.Len(t, seen, 1)
	assert.Equal(t, report.PromptID, seen[0].PromptID)
	assert.Equal(t, report.PausedTaskID, seen[0].TaskID)
}

// =============================================================================
// CHALLENGE RESPONSE
// =============================================================================

func TestChallengeResponseSuspendsWithoutFallback(t *testing.T) {
	run := newRecordingRunner().failWith("book_flight", runner.ErrChallengeResponse)
	store := retrypolicy.NewStore()
	loop := correction.NewLoop(store, nil, nil, nil, nil)
	e := New(nil, run, nil, loop, nil, nil)

	booking := webTask("Book flight", "book_flight")
	booking.Action.Target = "skyscanner.net"
	booking.Action.RiskLevel = 0.8
	booking.Children = []*plan.Task{webTask("Probe alternatives", "probe_alternatives")}
	p := testPlan(booking, webTask("Notify", "notify"))

	report := e.Run(context.Background(), p, Options{})

	assert.Equal(t, plan.RunOutcomePaused, report.Outcome)
	assert.Equal(t, booking.ID, report.PausedTaskID)
	assert.Equal(t, []string{"book_flight"}, run.executed,
		"children must not run for a challenge-response failure")

	// The recorded result is the pending-interaction sentinel, not a failure.
	res := report.ResultFor(booking.ID)
	require.NotNil(t, res)
	assert.True(t, res.OK)
	assert.True(t, res.IsPendingInteraction())

	// The manual step is queued at tier 3.
	prompt := e.Workflow().GetPrompt(report.PromptID)
	require.NotNil(t, prompt)
	assert.Equal(t, 3, prompt.Level)

	// The correction loop ran and mutated shared policy state.
	assert.True(t, store.IsAvoided("web:skyscanner.net"))
	_, found := store.Get("web:skyscanner.net", retrypolicy.ReasonChallengeResponse)
	assert.True(t, found)
}

// =============================================================================
// FALLBACK AND FAILURE
// =============================================================================

func TestFallbackChildrenRunInOrder(t *testing.T) {
	run := newRecordingRunner().failWith("book_flight", errors.New("card declined"))
	e := newExecutor(run)

	booking := webTask("Book flight", "book_flight")
	booking.Children = []*plan.Task{
		webTask("Probe alternatives", "probe_alternatives"),
		webTask("Draft for review", "draft_for_review"),
	}
	p := testPlan(booking, webTask("Notify", "notify"))

	report := e.Run(context.Background(), p, Options{})

	assert.Equal(t, []string{"book_flight", "probe_alternatives", "draft_for_review", "notify"}, run.executed)
	// The parent failure is recorded, so the run is failed even though the
	// fallback branch recovered and the remaining roots executed.
	assert.Equal(t, plan.RunOutcomeFailed, report.Outcome)
	assert.False(t, report.ResultFor(booking.ID).OK)
	assert.Equal(t, "card declined", report.FirstError())
}

func TestChildrenOfSuccessfulTaskNeverRun(t *testing.T) {
	run := newRecordingRunner()
	e := newExecutor(run)

	booking := webTask("Book flight", "book_flight")
	booking.Children = []*plan.Task{webTask("Probe alternatives", "probe_alternatives")}
	p := testPlan(booking)

	report := e.Run(context.Background(), p, Options{})

	assert.Equal(t, plan.RunOutcomeCompleted, report.Outcome)
	assert.Equal(t, []string{"book_flight"}, run.executed)
}

func TestUnrecoverableFailureStopsRun(t *testing.T) {
	run := newRecordingRunner().failWith("search", errors.New("network down"))
	e := newExecutor(run)

	p := testPlan(webTask("Search", "search"), webTask("Draft", "draft"))
	report := e.Run(context.Background(), p, Options{})

	assert.Equal(t, plan.RunOutcomeFailed, report.Outcome)
	assert.Equal(t, []string{"search"}, run.executed,
		"later roots must not start after an unrecoverable failure")
	assert.Len(t, report.Results, 1)
}

func TestOptionalFailureIsAbsorbed(t *testing.T) {
	run := newRecordingRunner().failWith("enrich", errors.New("service unavailable"))
	e := newExecutor(run)

	optional := webTask("Enrich results", "enrich")
	optional.Optional = true
	p := testPlan(optional, webTask("Draft", "draft"))

	report := e.Run(context.Background(), p, Options{})

	assert.Equal(t, plan.RunOutcomeCompleted, report.Outcome)
	assert.Equal(t, []string{"enrich", "draft"}, run.executed)

	res := report.ResultFor(optional.ID)
	require.NotNil(t, res)
	assert.True(t, res.OK)
	assert.Equal(t, true, res.Result["optional_failure"])
}

// =============================================================================
// SIMULATE MODE
// =============================================================================

func TestSimulateModeContinuesThroughFailures(t *testing.T) {
	run := newRecordingRunner().
		failWith("search", errors.New("network down")).
		failWith("draft", errors.New("disk full"))
	e := newExecutor(run)

	p := testPlan(webTask("Search", "search"), webTask("Draft", "draft"), webTask("Notify", "notify"))
	report := e.Run(context.Background(), p, Options{Simulate: true})

	assert.Equal(t, plan.RunOutcomeFailed, report.Outcome)
	assert.Equal(t, []string{"search", "draft", "notify"}, run.executed,
		"dry runs analyze the whole plan")
	assert.Len(t, report.Results, 3)
}

// =============================================================================
// LIMITS AND CAPABILITIES
// =============================================================================

func TestTaskBudgetStopsRun(t *testing.T) {
	cfg := &config.ExecutorConfig{MaxTasksPerRun: 1, MaxFallbackDepth: 3}
	run := newRecordingRunner()
	e := New(cfg, run, nil, nil, nil, nil)

	p := testPlan(webTask("Search", "search"), webTask("Draft", "draft"))
	report := e.Run(context.Background(), p, Options{})

	assert.Equal(t, plan.RunOutcomeFailed, report.Outcome)
	assert.Equal(t, []string{"search"}, run.executed)
}

func TestSandboxDeniesActionKind(t *testing.T) {
	caps := runner.SandboxCapabilities{AllowWeb: false}
	e := New(nil, runner.NewSimulatedRunner(), nil, nil, nil, nil)

	p := testPlan(webTask("Search", "search"))
	report := e.Run(context.Background(), p, Options{Capabilities: &caps})

	assert.Equal(t, plan.RunOutcomeFailed, report.Outcome)
	assert.Contains(t, report.FirstError(), "sandbox denies")
}

// =============================================================================
// EVENTS
// =============================================================================

func TestRunEmitsLifecycleEvents(t *testing.T) {
	bus := commbus.NewInMemoryCommBus(time.Second, nil)
	var completed []*commbus.RunCompleted
	done := make(chan struct{}, 1)
	bus.Subscribe("RunCompleted", func(ctx context.Context, msg commbus.Message) (any, error) {
		completed = append(completed, msg.(*commbus.RunCompleted))
		done <- struct{}{}
		return nil, nil
	})

	e := New(nil, newRecordingRunner(), nil, nil, bus, nil)
	p := testPlan(webTask("Search", "search"))
	e.Run(context.Background(), p, Options{})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCompleted never delivered")
	}
	require.Len(t, completed, 1)
	assert.Equal(t, p.ID, completed[0].PlanID)
	assert.Equal(t, "completed", completed[0].Outcome)
	assert.Equal(t, 1, completed[0].TasksOK)
}
