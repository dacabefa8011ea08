package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileOverrides mirrors the YAML file shape. Only fields present in the
// file override the defaults; list fields replace, not merge.
type fileOverrides struct {
	Policy *struct {
		BlockedDomains    []string                 `yaml:"blocked_domains"`
		RestrictedDomains []string                 `yaml:"restricted_domains"`
		AllowedDomains    []string                 `yaml:"allowed_domains"`
		FinancialKeywords []string                 `yaml:"financial_keywords"`
		RiskThreshold     *float64                 `yaml:"risk_threshold"`
		KeywordBuckets    map[string]KeywordBucket `yaml:"keyword_buckets"`
	} `yaml:"policy"`
	Executor *struct {
		MaxTasksPerRun   *int `yaml:"max_tasks_per_run"`
		MaxFallbackDepth *int `yaml:"max_fallback_depth"`
	} `yaml:"executor"`
	Decomposer *struct {
		UseCollaboratorNormalization *bool `yaml:"use_collaborator_normalization"`
		UseCollaboratorFallback      *bool `yaml:"use_collaborator_fallback"`
	} `yaml:"decomposer"`
}

// LoadEngineConfig reads a YAML overrides file and merges it over the
// defaults. The result is validated before returning.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var overrides fileOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := DefaultEngineConfig()
	applyOverrides(cfg, &overrides)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyOverrides(cfg *EngineConfig, o *fileOverrides) {
	if o.Policy != nil {
		if o.Policy.BlockedDomains != nil {
			cfg.Policy.BlockedDomains = o.Policy.BlockedDomains
		}
		if o.Policy.RestrictedDomains != nil {
			cfg.Policy.RestrictedDomains = o.Policy.RestrictedDomains
		}
		if o.Policy.AllowedDomains != nil {
			cfg.Policy.AllowedDomains = o.Policy.AllowedDomains
		}
		if o.Policy.FinancialKeywords != nil {
			cfg.Policy.FinancialKeywords = o.Policy.FinancialKeywords
		}
		if o.Policy.RiskThreshold != nil {
			cfg.Policy.RiskThreshold = *o.Policy.RiskThreshold
		}
		if o.Policy.KeywordBuckets != nil {
			cfg.Policy.KeywordBuckets = o.Policy.KeywordBuckets
		}
	}
	if o.Executor != nil {
		if o.Executor.MaxTasksPerRun != nil {
			cfg.Executor.MaxTasksPerRun = *o.Executor.MaxTasksPerRun
		}
		if o.Executor.MaxFallbackDepth != nil {
			cfg.Executor.MaxFallbackDepth = *o.Executor.MaxFallbackDepth
		}
	}
	if o.Decomposer != nil {
		if o.Decomposer.UseCollaboratorNormalization != nil {
			cfg.Decomposer.UseCollaboratorNormalization = *o.Decomposer.UseCollaboratorNormalization
		}
		if o.Decomposer.UseCollaboratorFallback != nil {
			cfg.Decomposer.UseCollaboratorFallback = *o.Decomposer.UseCollaboratorFallback
		}
	}
}
