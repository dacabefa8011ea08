package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	if err := DefaultEngineConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestPolicyValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PolicyConfig)
		wantErr bool
	}{
		{"valid defaults", func(c *PolicyConfig) {}, false},
		{"threshold too high", func(c *PolicyConfig) { c.RiskThreshold = 1.5 }, true},
		{"threshold negative", func(c *PolicyConfig) { c.RiskThreshold = -0.1 }, true},
		{"bucket weight out of range", func(c *PolicyConfig) {
			c.KeywordBuckets["hate"] = KeywordBucket{Weight: 2.0, Keywords: []string{"x"}}
		}, true},
		{"empty bucket", func(c *PolicyConfig) {
			c.KeywordBuckets["hate"] = KeywordBucket{Weight: 0.5}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPolicyConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestExecutorValidation(t *testing.T) {
	cfg := DefaultExecutorConfig()
	cfg.MaxFallbackDepth = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero fallback depth")
	}
}

func TestLoadEngineConfigMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jason.yaml")

	content := `
policy:
  blocked_domains: ["evil.example"]
  risk_threshold: 0.8
executor:
  max_tasks_per_run: 10
decomposer:
  use_collaborator_fallback: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if len(cfg.Policy.BlockedDomains) != 1 || cfg.Policy.BlockedDomains[0] != "evil.example" {
		t.Errorf("blocked_domains not overridden: %v", cfg.Policy.BlockedDomains)
	}
	if cfg.Policy.RiskThreshold != 0.8 {
		t.Errorf("risk_threshold not overridden: %f", cfg.Policy.RiskThreshold)
	}
	if cfg.Executor.MaxTasksPerRun != 10 {
		t.Errorf("max_tasks_per_run not overridden: %d", cfg.Executor.MaxTasksPerRun)
	}
	if cfg.Decomposer.UseCollaboratorFallback {
		t.Error("use_collaborator_fallback not overridden")
	}

	// Untouched sections keep their defaults.
	if len(cfg.Policy.FinancialKeywords) == 0 {
		t.Error("defaults should survive partial override")
	}
	if cfg.Executor.MaxFallbackDepth != 3 {
		t.Errorf("max_fallback_depth default lost: %d", cfg.Executor.MaxFallbackDepth)
	}
}

func TestLoadEngineConfigRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(path, []byte("policy:\n  risk_threshold: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadEngineConfig(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadEngineConfigMissingFile(t *testing.T) {
	if _, err := LoadEngineConfig("/nonexistent/jason.yaml"); err == nil {
		t.Error("expected read error")
	}
}
