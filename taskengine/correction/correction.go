// Package correction provides the self-correction loop that reconciles
// planned tasks against actual outcomes.
//
// Each executed leaf produces one immutable ExecutionReview: a reflection
// comparing planned vs actual duration, cost, and alignment, plus signed
// learning-weight adjustments. Failures classed as rate-limiting or
// challenge-response additionally mutate the shared retry policy store.
//
// Every side effect (audit write, policy mutation, broadcast) is
// best-effort: failures and panics are swallowed and the review is still
// returned to the caller.
package correction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jason-automation/jason-core/commbus"
	"github.com/jason-automation/jason-core/taskengine/audit"
	"github.com/jason-automation/jason-core/taskengine/observability"
	"github.com/jason-automation/jason-core/taskengine/plan"
	"github.com/jason-automation/jason-core/taskengine/recovery"
	"github.com/jason-automation/jason-core/taskengine/retrypolicy"
	"github.com/jason-automation/jason-core/taskengine/runner"
	"github.com/jason-automation/jason-core/taskengine/typeutil"
)

// =============================================================================
// REVIEW RECORD
// =============================================================================

// PlannedSnapshot captures the task as planned, frozen into the review.
type PlannedSnapshot struct {
	TaskName   string   `json:"task_name"`
	ActionKind string   `json:"action_kind,omitempty"`
	ActionName string   `json:"action_name,omitempty"`
	RiskLevel  float64  `json:"risk_level"`
	Tags       []string `json:"tags,omitempty"`
	// DurationSeconds is the planned duration estimate.
	DurationSeconds int `json:"duration_seconds"`
}

// ActualSnapshot captures the observed outcome plus the alignment score.
type ActualSnapshot struct {
	OK             bool           `json:"ok"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	DurationMS     int            `json:"duration_ms"`
	AlignmentScore float64        `json:"alignment_score"`
}

// ExecutionReview is the write-once record of one planned-vs-actual
// comparison. It is always constructed and returned even when every side
// effect fails.
type ExecutionReview struct {
	ID          string             `json:"id"`
	PlanID      string             `json:"plan_id"`
	TaskID      string             `json:"task_id"`
	Planned     PlannedSnapshot    `json:"planned"`
	Actual      ActualSnapshot     `json:"actual"`
	Success     bool               `json:"success"`
	Reflection  string             `json:"reflection"`
	Adjustments map[string]float64 `json:"adjustments,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// NewReviewID generates a fresh opaque review id.
func NewReviewID() string {
	return "rev_" + uuid.New().String()[:16]
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// AlignmentScorer quantifies how well an executed action matched intended
// values. External collaborator; a neutral score of 1.0 is assumed when
// absent.
type AlignmentScorer interface {
	Score(planned *plan.Task, actual *plan.ExecutionResult) float64
}

// Learning weight names.
const (
	WeightCaution    = "caution"
	WeightConfidence = "confidence"
)

// Reflection thresholds.
const (
	// durationOverrunFactor flags runs taking over 1.5x the planned time.
	durationOverrunFactor = 1.5
	// alignmentConcernThreshold flags outcomes scoring under 0.8.
	alignmentConcernThreshold = 0.8
)

// =============================================================================
// LOOP
// =============================================================================

// Loop is the self-correction loop.
type Loop struct {
	policies *retrypolicy.Store
	sink     audit.Sink
	bus      commbus.CommBus
	scorer   AlignmentScorer
	logger   commbus.Logger
}

// NewLoop creates a correction loop. policies, sink, bus, scorer, and
// logger may each be nil; the corresponding side effect is then skipped.
func NewLoop(policies *retrypolicy.Store, sink audit.Sink, bus commbus.CommBus, scorer AlignmentScorer, logger commbus.Logger) *Loop {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Loop{
		policies: policies,
		sink:     sink,
		bus:      bus,
		scorer:   scorer,
		logger:   logger,
	}
}

// Review reconciles one planned task against its actual result.
func (l *Loop) Review(ctx context.Context, planID, taskID string, planned *plan.Task, actual *plan.ExecutionResult, success bool) *ExecutionReview {
	review := &ExecutionReview{
		ID:        NewReviewID(),
		PlanID:    planID,
		TaskID:    taskID,
		Planned:   snapshotPlanned(planned),
		Actual:    l.snapshotActual(planned, actual),
		Success:   success,
		Timestamp: time.Now().UTC(),
	}
	review.Reflection = buildReflection(review)
	review.Adjustments = computeAdjustments(planned, success)

	// Side effects, each independently best-effort.
	l.mutateRetryPolicy(ctx, planned, actual, success)
	l.persist(review)
	l.broadcast(ctx, review)
	observability.RecordReview(success)

	return review
}

// snapshotPlanned freezes the planned task.
func snapshotPlanned(planned *plan.Task) PlannedSnapshot {
	snap := PlannedSnapshot{
		DurationSeconds: plan.DefaultTaskDurationSeconds,
	}
	if planned == nil {
		return snap
	}
	snap.TaskName = planned.Name
	snap.Tags = planned.Tags
	if planned.Action != nil {
		snap.ActionKind = string(planned.Action.Kind)
		snap.ActionName = planned.Action.Name
		snap.RiskLevel = planned.Action.RiskLevel
	}
	return snap
}

// snapshotActual freezes the observed result and computes alignment.
func (l *Loop) snapshotActual(planned *plan.Task, actual *plan.ExecutionResult) ActualSnapshot {
	snap := ActualSnapshot{AlignmentScore: 1.0}
	if actual == nil {
		return snap
	}
	snap.OK = actual.OK
	snap.Result = actual.Result
	snap.Error = actual.ErrorText()
	if actual.Result != nil {
		snap.DurationMS = typeutil.SafeIntDefault(actual.Result["duration_ms"], 0)
	}
	if l.scorer != nil {
		score, err := recovery.SafeExecuteWithResult(l.logger, "alignment_score", func() (float64, error) {
			return l.scorer.Score(planned, actual), nil
		})
		if err == nil {
			snap.AlignmentScore = score
		}
	}
	return snap
}

// buildReflection derives the short natural-language comparison.
func buildReflection(review *ExecutionReview) string {
	var notes []string

	if review.Success {
		notes = append(notes, fmt.Sprintf("Task %q completed as planned.", review.Planned.TaskName))
	} else {
		notes = append(notes, fmt.Sprintf("Task %q failed: %s.", review.Planned.TaskName, review.Actual.Error))
	}

	plannedMS := review.Planned.DurationSeconds * 1000
	if review.Actual.DurationMS > 0 && float64(review.Actual.DurationMS) > durationOverrunFactor*float64(plannedMS) {
		notes = append(notes, fmt.Sprintf("Took %.1fx longer than planned.",
			float64(review.Actual.DurationMS)/float64(plannedMS)))
	}

	if cost := typeutil.SafeFloat64Default(resultField(review, "cost"), 0); cost > 0 {
		notes = append(notes, fmt.Sprintf("Incurred a cost of %.2f.", cost))
	}

	if review.Actual.AlignmentScore < alignmentConcernThreshold {
		notes = append(notes, fmt.Sprintf("Outcome diverged from intent (alignment %.2f).",
			review.Actual.AlignmentScore))
	}

	return strings.Join(notes, " ")
}

func resultField(review *ExecutionReview, key string) any {
	if review.Actual.Result == nil {
		return nil
	}
	return review.Actual.Result[key]
}

// computeAdjustments derives the signed learning-weight deltas.
// Risky tasks move the caution weight: succeeding lowers it, failing
// raises it by twice as much.
func computeAdjustments(planned *plan.Task, success bool) map[string]float64 {
	adjustments := make(map[string]float64)

	risky := planned != nil && (planned.HasTag("risky") ||
		(planned.Action != nil && (planned.Action.HasTag("risky") || planned.Action.IsHighRisk())))

	if success {
		adjustments[WeightConfidence] = 0.02
		if risky {
			adjustments[WeightCaution] = -0.05
		}
	} else {
		adjustments[WeightConfidence] = -0.05
		if risky {
			adjustments[WeightCaution] = 0.10
		}
	}

	return adjustments
}

// =============================================================================
// SIDE EFFECTS
// =============================================================================

// ScopeFor derives the retry-policy scope key for an action.
func ScopeFor(action *plan.Action) string {
	if action == nil {
		return ""
	}
	target := action.Target
	if target == "" {
		target = action.Name
	}
	return string(action.Kind) + ":" + target
}

// mutateRetryPolicy installs retry rules for recognized failure classes.
// Best-effort; the store may be absent.
func (l *Loop) mutateRetryPolicy(ctx context.Context, planned *plan.Task, actual *plan.ExecutionResult, success bool) {
	if success || l.policies == nil || planned == nil || planned.Action == nil || actual == nil {
		return
	}

	failure := errors.New(actual.ErrorText())
	scope := ScopeFor(planned.Action)

	switch {
	case runner.IsChallengeResponse(failure):
		_ = recovery.SafeExecute(l.logger, "policy_mutation", func() error {
			rule := retrypolicy.NewChallengeResponseRule(scope)
			l.policies.Upsert(rule)
			l.policies.Avoid(scope)
			l.policies.RecordFailure(scope)
			l.publishRuleUpserted(ctx, rule)
			observability.RecordRetryRuleInstalled(retrypolicy.ReasonChallengeResponse)
			return nil
		})
	case runner.IsRateLimited(failure):
		_ = recovery.SafeExecute(l.logger, "policy_mutation", func() error {
			rule := retrypolicy.NewRateLimitRule(scope)
			l.policies.Upsert(rule)
			l.policies.RecordFailure(scope)
			l.publishRuleUpserted(ctx, rule)
			observability.RecordRetryRuleInstalled(retrypolicy.ReasonRateLimited)
			return nil
		})
	}
}

func (l *Loop) publishRuleUpserted(ctx context.Context, rule *retrypolicy.Rule) {
	if l.bus == nil {
		return
	}
	_ = l.bus.Publish(ctx, &commbus.RetryRuleUpserted{
		Scope:      rule.Scope,
		Pattern:    rule.Pattern,
		Reason:     rule.Reason,
		TTLSeconds: int(time.Until(rule.ExpiresAt).Seconds()),
	})
}

// persist appends the review to the audit sink. Best-effort.
func (l *Loop) persist(review *ExecutionReview) {
	err := recovery.SafeExecute(l.logger, "review_persist", func() error {
		return l.sink.Append("execution_review", map[string]any{
			"review_id":  review.ID,
			"plan_id":    review.PlanID,
			"task_id":    review.TaskID,
			"success":    review.Success,
			"reflection": review.Reflection,
			"timestamp":  review.Timestamp,
		})
	})
	if err != nil && l.logger != nil {
		l.logger.Warn("review persist failed", "review_id", review.ID, "error", err)
	}
}

// broadcast publishes the review record. Best-effort.
func (l *Loop) broadcast(ctx context.Context, review *ExecutionReview) {
	if l.bus == nil {
		return
	}
	_ = recovery.SafeExecute(l.logger, "review_broadcast", func() error {
		return l.bus.Publish(ctx, &commbus.ReviewRecorded{
			ReviewID:    review.ID,
			PlanID:      review.PlanID,
			TaskID:      review.TaskID,
			Success:     review.Success,
			Reflection:  review.Reflection,
			Adjustments: review.Adjustments,
		})
	})
}
