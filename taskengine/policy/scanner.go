package policy

import (
	"strings"

	"github.com/jason-automation/jason-core/taskengine/config"
	"github.com/jason-automation/jason-core/taskengine/plan"
)

// =============================================================================
// LEGACY SCALAR SCANNER
// =============================================================================

// Scanner is the narrower scalar-risk classifier that predates the gate
// pipeline. It sums weighted keyword buckets over free text and compares
// the clamped score against a single threshold. It coexists with, and is
// independent from, the three-gate pipeline.
type Scanner struct {
	cfg *config.PolicyConfig
}

// NewScanner creates a scanner from policy configuration.
func NewScanner(cfg *config.PolicyConfig) *Scanner {
	if cfg == nil {
		cfg = config.DefaultPolicyConfig()
	}
	return &Scanner{cfg: cfg}
}

// ScanText sums the weights of every keyword bucket that matches the text,
// clamped to [0, 1]. A bucket contributes its weight at most once.
func (s *Scanner) ScanText(text string) float64 {
	lower := strings.ToLower(text)

	score := 0.0
	for _, bucket := range s.cfg.KeywordBuckets {
		for _, keyword := range bucket.Keywords {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				score += bucket.Weight
				break
			}
		}
	}

	if score > 1.0 {
		return 1.0
	}
	return score
}

// EnforceAction classifies an action's name and payload text against the
// configured risk threshold: scores at or above the threshold block, scores
// at or above half the threshold prompt, everything else is allowed.
func (s *Scanner) EnforceAction(action *plan.Action) Decision {
	score := s.ScanText(action.Name + " " + flattenPayload(action.Payload))

	switch {
	case score >= s.cfg.RiskThreshold:
		return DecisionBlock
	case score >= s.cfg.RiskThreshold/2:
		return DecisionPrompt
	default:
		return DecisionAllow
	}
}
