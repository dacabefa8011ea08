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
	"github.com/jason-automation/jason-core/taskengine/audit"
	"github.com/jason-automation/jason-core/taskengine/config"
	"github.com/jason-automation/jason-core/taskengine/correction"
	"github.com/jason-automation/jason-core/taskengine/decomposer"
	"github.com/jason-automation/jason-core/taskengine/plan"
	"github.com/jason-automation/jason-core/taskengine/policy"
	"github.com/jason-automation/jason-core/taskengine/retrypolicy"
	"github.com/jason-automation/jason-core/taskengine/runner"
	"github.com/jason-automation/jason-core/taskengine/testutil"
)

// engineFixture wires the full pipeline with test doubles.
type engineFixture struct {
	bus      *commbus.InMemoryCommBus
	auditLog *audit.MemoryAuditLog
	workflow *approvals.Workflow
	store    *retrypolicy.Store
	runner   *testutil.ScriptedRunner
	goals    *decomposer.Decomposer
	gates    *policy.Pipeline
	engine   *Executor
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	cfg := config.DefaultEngineConfig()
	cfg.Decomposer.UseCollaboratorNormalization = false
	cfg.Decomposer.UseCollaboratorFallback = false

	logger := testutil.NewMockLogger()
	bus := commbus.NewInMemoryCommBus(time.Second, logger)
	auditLog := audit.NewMemoryAuditLog()
	workflow := approvals.NewWorkflow(logger, nil)
	store := retrypolicy.NewStore()
	scripted := testutil.NewScriptedRunner()

	loop := correction.NewLoop(store, auditLog, bus, nil, logger)

	return &engineFixture{
		bus:      bus,
		auditLog: auditLog,
		workflow: workflow,
		store:    store,
		runner:   scripted,
		goals:    decomposer.New(cfg.Decomposer, nil, bus, logger),
		gates:    policy.NewPipeline(cfg.Policy, auditLog, bus, workflow, logger),
		engine:   New(cfg.Executor, scripted, workflow, loop, bus, logger),
	}
}

func TestGoalToExecutionPipeline(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	recorder := testutil.NewEventRecorder()
	recorder.SubscribeTo(f.bus, "PlanCompiled", "InteractionRequested", "RunCompleted")

	// Compile: the travel template fires deterministically.
	compiled := f.goals.Compile(ctx, "plan a 10 day holiday to Japan from LHR in December", nil)
	require.Equal(t, "travel", compiled.Metadata.Domain)
	require.Len(t, recorder.EventsOfType("PlanCompiled"), 1)

	// Gate: nothing in the travel plan touches a deny-listed target.
	for _, root := range compiled.Tasks {
		root.Walk(func(task *plan.Task) bool {
			if task.Action != nil {
				verdict := f.gates.Evaluate(ctx, task.Action)
				assert.NotEqual(t, policy.DecisionBlock, verdict.OverallDecision,
					"action %s should not be blocked", task.Action.Name)
			}
			return true
		})
	}

	// Execute: the booking fails once, the fallback branch covers it, and
	// the plan suspends on the confirmation task.
	f.runner.WithError("book_flight", errors.New("card declined"))
	report := f.engine.Run(ctx, compiled, Options{})

	require.Equal(t, plan.RunOutcomePaused, report.Outcome)
	assert.NotEmpty(t, report.PromptID)
	executed := f.runner.ExecutedActions()
	assert.Contains(t, executed, "book_flight")
	assert.Contains(t, executed, "search_alternative_flights",
		"fallback branch should run after the booking failure")
	require.Len(t, recorder.EventsOfType("InteractionRequested"), 1)

	// The booking failure produced an execution review in the audit log.
	assert.NotEmpty(t, f.auditLog.EntriesFor("execution_review"))

	// Resume: user approves, the booking succeeds this time, the
	// confirmation is marked done.
	resolved := f.workflow.Resolve(report.PromptID, &approvals.Decision{Approved: true})
	require.NotNil(t, resolved)
	delete(f.runner.Errors, "book_flight")

	completed := append(report.CompletedTaskIDs(), report.PausedTaskID)
	resumed := f.engine.Run(ctx, compiled, Options{AlreadyCompleted: completed})

	assert.Equal(t, plan.RunOutcomeCompleted, resumed.Outcome)
}

func TestRateLimitedFailureFeedsRetryPolicy(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	task := testutil.NewHighRiskTask("Book flight", "book_flight", "skyscanner.net")
	p := plan.NewPlan("book the flight", []*plan.Task{task}, "travel")

	f.runner.WithError("book_flight", runner.ErrRateLimited)
	report := f.engine.Run(ctx, p, Options{})

	// The failure is recorded but the fallback child recovers the run.
	assert.Equal(t, plan.RunOutcomeFailed, report.Outcome)
	assert.Contains(t, f.runner.ExecutedActions(), "draft_for_review")

	rule, found := f.store.Get("web:skyscanner.net", retrypolicy.ReasonRateLimited)
	require.True(t, found, "correction loop should install a rate-limit rule")
	assert.Greater(t, rule.MaxRetries, 0)
}

func TestChallengeResponseEndToEnd(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	task := testutil.NewHighRiskTask("Book flight", "book_flight", "skyscanner.net")
	p := plan.NewPlan("book the flight", []*plan.Task{task}, "travel")

	f.runner.WithError("book_flight", runner.ErrChallengeResponse)
	report := f.engine.Run(ctx, p, Options{})

	assert.Equal(t, plan.RunOutcomePaused, report.Outcome)
	assert.Equal(t, task.ID, report.PausedTaskID)
	assert.NotContains(t, f.runner.ExecutedActions(), "draft_for_review",
		"challenge-response must suspend instead of falling back")
	assert.True(t, f.store.IsAvoided("web:skyscanner.net"))
}
