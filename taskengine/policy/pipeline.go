package policy

import (
	"context"
	"time"

	"github.com/jason-automation/jason-core/commbus"
	"github.com/jason-automation/jason-core/taskengine/approvals"
	"github.com/jason-automation/jason-core/taskengine/audit"
	"github.com/jason-automation/jason-core/taskengine/config"
	"github.com/jason-automation/jason-core/taskengine/observability"
	"github.com/jason-automation/jason-core/taskengine/plan"
	"github.com/jason-automation/jason-core/taskengine/recovery"
)

// =============================================================================
// DECISIONS
// =============================================================================

// Decision is the overall outcome of a pipeline evaluation.
type Decision string

const (
	// DecisionAllow permits the action without approval.
	DecisionAllow Decision = "allow"
	// DecisionPrompt queues the action for human approval.
	DecisionPrompt Decision = "prompt"
	// DecisionBlock is a hard veto; no approval level can clear it.
	DecisionBlock Decision = "block"
)

// AuditRecord is the immutable decision snapshot written per evaluation.
type AuditRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	ActionName string    `json:"action_name"`
	Decision   Decision  `json:"decision"`
}

// PipelineResult aggregates all gate results for one action.
//
// Invariant: OverallDecision is block iff any gate blocked; otherwise prompt
// iff any gate requires approval; otherwise allow.
type PipelineResult struct {
	OverallDecision Decision     `json:"overall_decision"`
	RequiredLevel   int          `json:"required_level"` // 1-3
	FinalScore      float64      `json:"final_score"`    // [0, 1] risk accumulation
	Gates           []GateResult `json:"gates"`
	// PromptID is set when the decision queued an approval prompt.
	PromptID string      `json:"prompt_id,omitempty"`
	Audit    AuditRecord `json:"audit"`
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline evaluates candidate actions through the three gates.
//
// Evaluation is stateless and side-effect-free aside from one best-effort
// audit write and one urgent broadcast per invocation; both are swallowed
// on failure and never block the decision path.
type Pipeline struct {
	cfg      *config.PolicyConfig
	sink     audit.Sink
	bus      commbus.CommBus
	workflow *approvals.Workflow
	logger   commbus.Logger
}

// NewPipeline creates a policy pipeline.
// sink, bus, workflow, and logger may each be nil; the corresponding side
// effect is then skipped.
func NewPipeline(cfg *config.PolicyConfig, sink audit.Sink, bus commbus.CommBus, workflow *approvals.Workflow, logger commbus.Logger) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultPolicyConfig()
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Pipeline{
		cfg:      cfg,
		sink:     sink,
		bus:      bus,
		workflow: workflow,
		logger:   logger,
	}
}

// Evaluate runs the three gates over an action and aggregates the decision.
func (p *Pipeline) Evaluate(ctx context.Context, action *plan.Action) *PipelineResult {
	gates := []GateResult{
		evaluateScopeGate(action, p.cfg),
		evaluateCostGate(action, p.cfg),
		evaluateIntegrityGate(action),
	}

	result := &PipelineResult{
		OverallDecision: aggregateDecision(gates),
		RequiredLevel:   aggregateLevel(gates),
		FinalScore:      aggregateScore(action, gates),
		Gates:           gates,
		Audit: AuditRecord{
			Timestamp:  time.Now().UTC(),
			ActionName: action.Name,
			Decision:   aggregateDecision(gates),
		},
	}

	if result.OverallDecision == DecisionPrompt && p.workflow != nil {
		prompt := p.workflow.CreatePrompt(result.RequiredLevel,
			"Approve action: "+action.Name,
			approvals.WithRationale(promptRationale(gates)),
			approvals.WithMeta(map[string]any{
				"action_name": action.Name,
				"final_score": result.FinalScore,
			}),
		)
		result.PromptID = prompt.ID
	}

	p.writeAudit(result)
	p.broadcast(ctx, result)
	observability.RecordGateDecision(string(result.OverallDecision))

	return result
}

// aggregateDecision combines gate results: block beats prompt beats allow.
func aggregateDecision(gates []GateResult) Decision {
	prompt := false
	for _, g := range gates {
		if g.Blocked {
			return DecisionBlock
		}
		if g.RequiresApproval {
			prompt = true
		}
	}
	if prompt {
		return DecisionPrompt
	}
	return DecisionAllow
}

// aggregateLevel is the highest tier demanded by a non-passing gate, or 1.
func aggregateLevel(gates []GateResult) int {
	level := 1
	for _, g := range gates {
		if (g.Blocked || g.RequiresApproval) && g.Level > level {
			level = g.Level
		}
	}
	return level
}

// aggregateScore accumulates risk from the action's own risk level plus a
// fixed increment per approval-requiring gate, clamped to [0, 1]. A block
// saturates the score.
func aggregateScore(action *plan.Action, gates []GateResult) float64 {
	score := action.RiskLevel
	for _, g := range gates {
		if g.Blocked {
			return 1.0
		}
		if g.RequiresApproval {
			score += 0.25
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

// promptRationale joins the reasons of the gates that demanded approval.
func promptRationale(gates []GateResult) string {
	rationale := ""
	for _, g := range gates {
		if g.RequiresApproval {
			if rationale != "" {
				rationale += "; "
			}
			rationale += g.Reason
		}
	}
	return rationale
}

// writeAudit performs the single best-effort audit write. Failures and
// panics are swallowed.
func (p *Pipeline) writeAudit(result *PipelineResult) {
	err := recovery.SafeExecute(p.logger, "policy_audit_write", func() error {
		return p.sink.Append("policy_decision", map[string]any{
			"action_name":    result.Audit.ActionName,
			"decision":       string(result.OverallDecision),
			"required_level": result.RequiredLevel,
			"final_score":    result.FinalScore,
			"timestamp":      result.Audit.Timestamp,
		})
	})
	if err != nil && p.logger != nil {
		p.logger.Warn("audit write failed", "action", result.Audit.ActionName, "error", err)
	}
}

// broadcast publishes the decision urgently so pending-approval queues are
// updated promptly. Fire-and-forget.
func (p *Pipeline) broadcast(ctx context.Context, result *PipelineResult) {
	if p.bus == nil {
		return
	}
	_ = recovery.SafeExecute(p.logger, "policy_broadcast", func() error {
		return p.bus.Publish(ctx, &commbus.GateDecisionMade{
			ActionName:    result.Audit.ActionName,
			Decision:      string(result.OverallDecision),
			RequiredLevel: result.RequiredLevel,
			FinalScore:    result.FinalScore,
			PromptID:      result.PromptID,
		})
	})
}
