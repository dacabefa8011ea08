// JASON Engine Demo
//
// Compiles a natural-language goal into a plan, gates every action through
// the policy pipeline, and dry-runs the plan with the simulated action
// runner. Useful for inspecting what the engine would do with a goal before
// wiring a real runner.
//
// Usage:
//
//	go run ./cmd -goal "plan a 10 day holiday to Japan from LHR in December"
//	go run ./cmd -goal "..." -config engine.yaml -log-level debug
//	go run ./cmd -goal "..." -metrics-addr :9090 -nats nats://localhost:4222
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jason-automation/jason-core/commbus"
	"github.com/jason-automation/jason-core/logging"
	"github.com/jason-automation/jason-core/taskengine/approvals"
	"github.com/jason-automation/jason-core/taskengine/audit"
	"github.com/jason-automation/jason-core/taskengine/config"
	"github.com/jason-automation/jason-core/taskengine/correction"
	"github.com/jason-automation/jason-core/taskengine/decomposer"
	"github.com/jason-automation/jason-core/taskengine/executor"
	"github.com/jason-automation/jason-core/taskengine/observability"
	"github.com/jason-automation/jason-core/taskengine/plan"
	"github.com/jason-automation/jason-core/taskengine/policy"
	"github.com/jason-automation/jason-core/taskengine/retrypolicy"
	"github.com/jason-automation/jason-core/taskengine/runner"
)

func main() {
	goal := flag.String("goal", "plan a 10 day holiday to Japan from LHR in December", "natural-language goal to compile and dry-run")
	configPath := flag.String("config", "", "path to an engine config YAML (defaults apply when empty)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	simulate := flag.Bool("simulate", true, "dry-run the plan instead of executing side effects")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on (disabled when empty)")
	natsURL := flag.String("nats", "", "NATS server URL for cross-process event broadcast (disabled when empty)")
	otlpEndpoint := flag.String("otlp", "", "OTLP collector endpoint for tracing (disabled when empty)")
	flag.Parse()

	logger := logging.New(os.Stderr, *logLevel)

	cfg := config.DefaultEngineConfig()
	if *configPath != "" {
		loaded, err := config.LoadEngineConfig(*configPath)
		if err != nil {
			logger.Error("config_load_failed", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *otlpEndpoint != "" {
		shutdown, err := observability.InitTracer("jason-core", *otlpEndpoint)
		if err != nil {
			logger.Error("tracer_init_failed", "endpoint", *otlpEndpoint, "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("metrics_listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics_server_stopped", "error", err)
			}
		}()
	}

	ctx := context.Background()

	// Core wiring: one bus, one audit log, shared policy state.
	bus := commbus.NewInMemoryCommBus(5*time.Second, logger)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logging.Component(logger, "bus")))
	// Urgent events are excluded so a flaky subscriber can never trip the
	// breaker on pending-approval traffic.
	bus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(5, 30*time.Second,
		[]string{"InteractionRequested", "GateDecisionMade"}, logging.Component(logger, "bus")))

	auditLog := audit.NewMemoryAuditLog()
	workflow := approvals.NewWorkflow(logging.Component(logger, "approvals"), nil)
	store := retrypolicy.NewStore()
	registerPolicyQueries(bus, store)
	registerApprovalCommands(bus, workflow)

	if *natsURL != "" {
		bridge, err := bridgeToNATS(ctx, *natsURL, bus, logger)
		if err != nil {
			logger.Error("nats_bridge_failed", "url", *natsURL, "error", err)
			os.Exit(1)
		}
		defer func() { _ = bridge.Close() }()
	}

	loop := correction.NewLoop(store, auditLog, bus, nil, logging.Component(logger, "correction"))
	gates := policy.NewPipeline(cfg.Policy, auditLog, bus, workflow, logging.Component(logger, "policy"))
	goals := decomposer.New(cfg.Decomposer, nil, bus, logging.Component(logger, "decomposer"))
	engine := executor.New(cfg.Executor, runner.NewSimulatedRunner(), workflow, loop, bus, logging.Component(logger, "executor"))

	// 1. Compile the goal.
	compiled := goals.Compile(ctx, *goal, nil)
	fmt.Printf("Plan %s (%s): %d tasks for %q\n\n",
		compiled.ID, compiled.Metadata.Domain, compiled.TaskCount(), compiled.Goal)

	// 2. Gate every action before anything runs.
	blocked := gateActions(ctx, gates, compiled)
	if blocked > 0 {
		fmt.Printf("%d action(s) blocked by policy; aborting run\n", blocked)
		os.Exit(2)
	}

	// 3. Dry-run the plan.
	report := engine.Run(ctx, compiled, executor.Options{Simulate: *simulate})

	fmt.Printf("\nOutcome: %s (%d ms)\n", report.Outcome, report.DurationMS)
	for _, res := range report.Results {
		name := res.TaskID
		if task := compiled.FindTask(res.TaskID); task != nil {
			name = task.Name
		}
		marker := "ok"
		switch {
		case !res.OK:
			marker = "FAILED: " + res.ErrorText()
		case res.IsPendingInteraction():
			marker = "awaiting user decision"
		}
		fmt.Printf("  - %-40s %s\n", name, marker)
	}

	if report.PromptID != "" {
		prompt := workflow.GetPrompt(report.PromptID)
		fmt.Printf("\nPending approval [%s] level %d: %s\n", prompt.ID, prompt.Level, prompt.Title)
	}
	fmt.Printf("\nAudit entries written: %d\n", auditLog.Len())
}

// gateActions evaluates every action in the plan tree and prints the verdict.
// Returns the number of blocked actions.
func gateActions(ctx context.Context, gates *policy.Pipeline, compiled *plan.Plan) int {
	blocked := 0
	for _, root := range compiled.Tasks {
		root.Walk(func(task *plan.Task) bool {
			if task.Action == nil {
				return true
			}
			verdict := gates.Evaluate(ctx, task.Action)
			fmt.Printf("  gate %-28s -> %s (level %d, score %.2f)\n",
				task.Action.Name, verdict.OverallDecision, verdict.RequiredLevel, verdict.FinalScore)
			if verdict.OverallDecision == policy.DecisionBlock {
				blocked++
			}
			return true
		})
	}
	return blocked
}

// registerPolicyQueries exposes the retry-policy store over the bus so other
// components (and, via the NATS bridge, other processes) can consult it.
func registerPolicyQueries(bus commbus.CommBus, store *retrypolicy.Store) {
	_ = bus.RegisterHandler("GetRetryRule", func(ctx context.Context, msg commbus.Message) (any, error) {
		query := msg.(*commbus.GetRetryRule)
		rule, ok := store.Get(query.Scope, query.Pattern)
		if !ok {
			return &commbus.RetryRuleResponse{Found: false}, nil
		}
		return &commbus.RetryRuleResponse{
			Found:         true,
			MinDelayMS:    int(rule.MinDelay.Milliseconds()),
			MaxDelayMS:    int(rule.MaxDelay.Milliseconds()),
			MaxRetries:    rule.MaxRetries,
			BackoffFactor: rule.BackoffFactor,
			ExpiresInSec:  rule.ExpiresIn(time.Now().UTC()).Seconds(),
		}, nil
	})
	_ = bus.RegisterHandler("GetAvoidanceList", func(ctx context.Context, msg commbus.Message) (any, error) {
		return &commbus.AvoidanceListResponse{Targets: store.AvoidanceList()}, nil
	})
}

// registerApprovalCommands wires the prompt maintenance commands so expiry
// sweeps can be triggered over the bus.
func registerApprovalCommands(bus commbus.CommBus, workflow *approvals.Workflow) {
	_ = bus.RegisterHandler("ExpirePrompts", func(ctx context.Context, msg commbus.Message) (any, error) {
		return workflow.ExpirePending(), nil
	})
}

// bridgeToNATS republishes suspension and gate-decision events to NATS so
// dashboards and other agents outside this process see them.
func bridgeToNATS(ctx context.Context, url string, bus *commbus.InMemoryCommBus, logger commbus.Logger) (*commbus.NATSBridge, error) {
	nc, err := nats.Connect(url, nats.Name("jason-core"))
	if err != nil {
		return nil, err
	}

	bridge := commbus.NewNATSBridge(nc, bus, commbus.DefaultSubjectPrefix, 5*time.Second, logger)
	for _, eventType := range []string{"InteractionRequested", "GateDecisionMade", "RunCompleted"} {
		bus.Subscribe(eventType, func(ctx context.Context, msg commbus.Message) (any, error) {
			return nil, bridge.PublishRemote(ctx, msg)
		})
	}
	return bridge, nil
}
