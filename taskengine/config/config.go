// Package config provides infrastructure-free configuration structs.
//
// Configs are plain data with Default* constructors and Validate methods.
// Nothing here touches the environment or the filesystem except the explicit
// YAML loader in file.go; callers construct configs and pass them in.
package config

import (
	"fmt"
)

// =============================================================================
// POLICY CONFIG
// =============================================================================

// KeywordBucket is one weighted keyword class for the scalar risk scanner.
type KeywordBucket struct {
	Weight   float64  `json:"weight" yaml:"weight"`
	Keywords []string `json:"keywords" yaml:"keywords"`
}

// PolicyConfig configures the policy gate pipeline and the legacy scanner.
type PolicyConfig struct {
	// Scope gate target lists. Matching is by substring on the action's
	// target host/process name.
	BlockedDomains    []string `json:"blocked_domains" yaml:"blocked_domains"`
	RestrictedDomains []string `json:"restricted_domains" yaml:"restricted_domains"`
	AllowedDomains    []string `json:"allowed_domains" yaml:"allowed_domains"`

	// Cost gate financial-transaction vocabulary.
	FinancialKeywords []string `json:"financial_keywords" yaml:"financial_keywords"`

	// Legacy scalar scanner: weighted keyword buckets summed and clamped
	// to [0,1], compared against RiskThreshold.
	RiskThreshold  float64                  `json:"risk_threshold" yaml:"risk_threshold"`
	KeywordBuckets map[string]KeywordBucket `json:"keyword_buckets" yaml:"keyword_buckets"`
}

// DefaultPolicyConfig returns the built-in policy configuration.
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		BlockedDomains: []string{
			"darkweb", ".onion", "malware", "phishing",
		},
		RestrictedDomains: []string{
			"bank", "paypal.com", "binance.com", "coinbase.com",
			"gov.uk", "irs.gov", "hmrc.gov",
		},
		AllowedDomains: []string{
			"google.com", "wikipedia.org", "github.com",
			"skyscanner.net", "booking.com", "kayak.com",
			"openstreetmap.org", "weather.com",
		},
		FinancialKeywords: []string{
			"buy", "purchase", "pay", "payment", "transfer", "checkout",
			"subscribe", "donate", "order", "invoice", "wire", "deposit",
			"withdraw", "book",
		},
		RiskThreshold: 0.5,
		KeywordBuckets: map[string]KeywordBucket{
			"hate": {
				Weight:   0.9,
				Keywords: []string{"hate", "slur", "racist"},
			},
			"harassment": {
				Weight:   0.7,
				Keywords: []string{"harass", "stalk", "threaten", "dox"},
			},
			"manipulation": {
				Weight:   0.5,
				Keywords: []string{"manipulate", "deceive", "impersonate", "scam"},
			},
			"sensitive": {
				Weight:   0.4,
				Keywords: []string{"password", "medical record", "private key", "ssn"},
			},
		},
	}
}

// Validate checks the policy configuration.
func (c *PolicyConfig) Validate() error {
	if c.RiskThreshold < 0 || c.RiskThreshold > 1 {
		return fmt.Errorf("risk_threshold must be in [0, 1], got %f", c.RiskThreshold)
	}
	for name, bucket := range c.KeywordBuckets {
		if bucket.Weight < 0 || bucket.Weight > 1 {
			return fmt.Errorf("keyword bucket %q weight must be in [0, 1], got %f", name, bucket.Weight)
		}
		if len(bucket.Keywords) == 0 {
			return fmt.Errorf("keyword bucket %q has no keywords", name)
		}
	}
	return nil
}

// =============================================================================
// EXECUTOR CONFIG
// =============================================================================

// ExecutorConfig configures plan execution limits.
type ExecutorConfig struct {
	// MaxTasksPerRun bounds how many tasks one invocation may execute,
	// fallback branches included. Zero means unbounded.
	MaxTasksPerRun int `json:"max_tasks_per_run" yaml:"max_tasks_per_run"`
	// MaxFallbackDepth bounds nesting of fallback branches.
	MaxFallbackDepth int `json:"max_fallback_depth" yaml:"max_fallback_depth"`
}

// DefaultExecutorConfig returns sensible execution limits.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxTasksPerRun:   100,
		MaxFallbackDepth: 3,
	}
}

// Validate checks the executor configuration.
func (c *ExecutorConfig) Validate() error {
	if c.MaxTasksPerRun < 0 {
		return fmt.Errorf("max_tasks_per_run must be >= 0, got %d", c.MaxTasksPerRun)
	}
	if c.MaxFallbackDepth < 1 {
		return fmt.Errorf("max_fallback_depth must be >= 1, got %d", c.MaxFallbackDepth)
	}
	return nil
}

// =============================================================================
// DECOMPOSER CONFIG
// =============================================================================

// DecomposerConfig configures goal decomposition.
type DecomposerConfig struct {
	// UseCollaboratorNormalization tries the language-model collaborator
	// for typo/intent correction before the edit-distance fallback.
	UseCollaboratorNormalization bool `json:"use_collaborator_normalization" yaml:"use_collaborator_normalization"`
	// UseCollaboratorFallback enables the general-purpose decomposition
	// collaborator when no domain template matches.
	UseCollaboratorFallback bool `json:"use_collaborator_fallback" yaml:"use_collaborator_fallback"`
}

// DefaultDecomposerConfig returns the default decomposer configuration.
func DefaultDecomposerConfig() *DecomposerConfig {
	return &DecomposerConfig{
		UseCollaboratorNormalization: true,
		UseCollaboratorFallback:      true,
	}
}

// Validate checks the decomposer configuration.
func (c *DecomposerConfig) Validate() error {
	return nil
}

// =============================================================================
// ENGINE CONFIG
// =============================================================================

// EngineConfig aggregates all core configuration.
type EngineConfig struct {
	Policy     *PolicyConfig     `json:"policy" yaml:"policy"`
	Executor   *ExecutorConfig   `json:"executor" yaml:"executor"`
	Decomposer *DecomposerConfig `json:"decomposer" yaml:"decomposer"`
}

// DefaultEngineConfig returns the full default configuration.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Policy:     DefaultPolicyConfig(),
		Executor:   DefaultExecutorConfig(),
		Decomposer: DefaultDecomposerConfig(),
	}
}

// Validate checks all sections.
func (c *EngineConfig) Validate() error {
	if c.Policy == nil || c.Executor == nil || c.Decomposer == nil {
		return fmt.Errorf("config sections must not be nil")
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if err := c.Executor.Validate(); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if err := c.Decomposer.Validate(); err != nil {
		return fmt.Errorf("decomposer: %w", err)
	}
	return nil
}
