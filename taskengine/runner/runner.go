// Package runner defines the sandboxed action runner contract.
//
// The runner is an external collaborator that performs the actual side
// effect of a leaf action (web automation, process control, UI input). The
// core never performs side effects itself; it hands actions to a runner and
// interprets the outcome, including the distinguished challenge-response
// failure that always suspends a run instead of falling back.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jason-automation/jason-core/taskengine/plan"
)

// =============================================================================
// FAILURE CLASSES
// =============================================================================

// ErrChallengeResponse signals that the target raised a human-verification
// step (CAPTCHA-class challenge). The executor suspends the run rather than
// attempting fallback children. Runners must wrap this sentinel so callers
// can detect it with errors.Is.
var ErrChallengeResponse = errors.New("challenge-response verification required")

// ErrRateLimited signals the target is throttling automated requests.
// The correction loop reacts by installing a short-lived retry rule.
var ErrRateLimited = errors.New("rate limited by target")

// IsChallengeResponse checks whether an error is a challenge-response failure.
// Falls back to a textual check for errors that crossed a serialization
// boundary and lost their identity.
func IsChallengeResponse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChallengeResponse) {
		return true
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "captcha") || strings.Contains(text, "challenge-response")
}

// IsRateLimited checks whether an error is a rate-limit failure.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// =============================================================================
// CONTRACT
// =============================================================================

// SandboxCapabilities are the capability flags granted to a run.
// The runner must refuse any action outside the granted set.
type SandboxCapabilities struct {
	AllowWeb     bool `json:"allow_web"`
	AllowApps    bool `json:"allow_apps"`
	AllowUI      bool `json:"allow_ui"`
	AllowSystem  bool `json:"allow_system"`
	AllowNetwork bool `json:"allow_network"`
}

// DefaultSandboxCapabilities grants the full capability set.
func DefaultSandboxCapabilities() SandboxCapabilities {
	return SandboxCapabilities{
		AllowWeb:     true,
		AllowApps:    true,
		AllowUI:      true,
		AllowSystem:  true,
		AllowNetwork: true,
	}
}

// Permits checks whether the capability set covers an action kind.
func (c SandboxCapabilities) Permits(kind plan.ActionKind) bool {
	switch kind {
	case plan.ActionKindWeb:
		return c.AllowWeb
	case plan.ActionKindApp:
		return c.AllowApps
	case plan.ActionKindUI:
		return c.AllowUI
	case plan.ActionKindSystem:
		return c.AllowSystem
	case plan.ActionKindInteract, plan.ActionKindNotify:
		return true
	default:
		return false
	}
}

// RunOptions carry per-invocation runner settings.
type RunOptions struct {
	// Simulate requests a dry run: the runner reports what it would do
	// without performing the side effect.
	Simulate     bool
	Capabilities SandboxCapabilities
}

// ActionRunner performs a leaf action and reports the outcome.
// The runner may enforce per-action timeouts internally; timeouts surface
// as ordinary failures into the executor's fallback path.
type ActionRunner interface {
	Execute(ctx context.Context, action *plan.Action, opts RunOptions) (map[string]any, error)
}

// =============================================================================
// SIMULATED RUNNER
// =============================================================================

// SimulatedRunner is an ActionRunner that performs no side effects.
// Used by the demo binary and tests. Failures can be scripted per action
// name; targets on an avoidance list can be scripted as challenge-response
// failures.
type SimulatedRunner struct {
	// FailActions maps action names to the error to return.
	FailActions map[string]error
}

// NewSimulatedRunner creates a simulated runner that succeeds for every action.
func NewSimulatedRunner() *SimulatedRunner {
	return &SimulatedRunner{FailActions: make(map[string]error)}
}

// FailWith scripts a failure for an action name.
func (r *SimulatedRunner) FailWith(actionName string, err error) *SimulatedRunner {
	r.FailActions[actionName] = err
	return r
}

// Execute implements the ActionRunner interface.
func (r *SimulatedRunner) Execute(ctx context.Context, action *plan.Action, opts RunOptions) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !opts.Capabilities.Permits(action.Kind) {
		return nil, fmt.Errorf("sandbox denies %s actions", action.Kind)
	}

	if err, scripted := r.FailActions[action.Name]; scripted {
		return nil, err
	}

	return map[string]any{
		"simulated": true,
		"action":    action.Name,
		"kind":      string(action.Kind),
	}, nil
}

var _ ActionRunner = (*SimulatedRunner)(nil)
