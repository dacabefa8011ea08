// Package observability provides Prometheus metrics instrumentation for the taskengine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PLAN RUN METRICS
// =============================================================================

var (
	planRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jason_plan_runs_total",
			Help: "Total number of plan run invocations",
		},
		[]string{"outcome"}, // outcome: completed, paused, failed
	)

	planRunDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jason_plan_run_duration_seconds",
			Help:    "Plan run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"outcome"},
	)
)

// =============================================================================
// TASK METRICS
// =============================================================================

var (
	taskExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jason_task_executions_total",
			Help: "Total number of task executions",
		},
		[]string{"kind", "status"}, // status: success, error, skipped, pending_interaction
	)

	taskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jason_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)
)

// =============================================================================
// POLICY METRICS
// =============================================================================

var (
	gateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jason_gate_decisions_total",
			Help: "Total number of policy pipeline evaluations",
		},
		[]string{"decision"}, // decision: allow, prompt, block
	)
)

// =============================================================================
// DECOMPOSER METRICS
// =============================================================================

var (
	plansCompiledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jason_plans_compiled_total",
			Help: "Total number of goal decompositions",
		},
		[]string{"domain", "source"}, // source: template, llm, fallback
	)
)

// =============================================================================
// CORRECTION METRICS
// =============================================================================

var (
	reviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jason_execution_reviews_total",
			Help: "Total number of self-correction reviews",
		},
		[]string{"success"}, // success: true, false
	)

	retryRulesInstalledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jason_retry_rules_installed_total",
			Help: "Total number of retry rules installed by the correction loop",
		},
		[]string{"reason"}, // reason: rate_limited, challenge_response
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordPlanRun records plan run metrics.
// This should be called after a run reaches a terminal state.
func RecordPlanRun(outcome string, durationMS int) {
	planRunsTotal.WithLabelValues(outcome).Inc()
	planRunDurationSeconds.WithLabelValues(outcome).Observe(float64(durationMS) / 1000.0)
}

// RecordTaskExecution records task execution metrics.
func RecordTaskExecution(kind string, status string, durationMS int) {
	taskExecutionsTotal.WithLabelValues(kind, status).Inc()
	taskDurationSeconds.WithLabelValues(kind).Observe(float64(durationMS) / 1000.0)
}

// RecordGateDecision records one policy pipeline evaluation.
func RecordGateDecision(decision string) {
	gateDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordPlanCompiled records one goal decomposition.
func RecordPlanCompiled(domain string, source string) {
	plansCompiledTotal.WithLabelValues(domain, source).Inc()
}

// RecordReview records one self-correction review.
func RecordReview(success bool) {
	if success {
		reviewsTotal.WithLabelValues("true").Inc()
	} else {
		reviewsTotal.WithLabelValues("false").Inc()
	}
}

// RecordRetryRuleInstalled records one retry-policy mutation.
func RecordRetryRuleInstalled(reason string) {
	retryRulesInstalledTotal.WithLabelValues(reason).Inc()
}
