// Package policy provides the three-gate policy pipeline that decides
// whether a candidate action may run, needs human approval, or is vetoed.
//
// Gates are pure functions over caller-supplied data; the only side effects
// of an evaluation are one best-effort audit write and one urgent broadcast
// of the decision. Evaluations are safe to run concurrently from multiple
// plan runs.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jason-automation/jason-core/taskengine/config"
	"github.com/jason-automation/jason-core/taskengine/plan"
)

// =============================================================================
// GATE RESULT
// =============================================================================

// Gate names.
const (
	GateScope     = "scope"
	GateCost      = "cost"
	GateIntegrity = "integrity"
)

// GateResult is the outcome of one independent gate check.
type GateResult struct {
	Gate   string `json:"gate"`
	Passed bool   `json:"passed"`
	// Level is the minimum authorization tier (1-3) required when the gate
	// did not pass cleanly.
	Level            int    `json:"level"`
	Reason           string `json:"reason"`
	RequiresApproval bool   `json:"requires_approval"`
	// Blocked is a hard veto; no approval level can clear it.
	Blocked bool `json:"blocked"`
}

// =============================================================================
// SCOPE GATE
// =============================================================================

// scopeClass is the classification of an action's target.
type scopeClass string

const (
	scopeBlocked    scopeClass = "blocked"
	scopeRestricted scopeClass = "restricted"
	scopeAllowed    scopeClass = "allowed"
	scopeUnknown    scopeClass = "unknown"
)

// classifyTarget matches the target against the deny/restrict/allow lists.
// Matching is by case-insensitive substring; deny wins over restrict wins
// over allow.
func classifyTarget(target string, cfg *config.PolicyConfig) scopeClass {
	t := strings.ToLower(target)
	for _, d := range cfg.BlockedDomains {
		if strings.Contains(t, strings.ToLower(d)) {
			return scopeBlocked
		}
	}
	for _, d := range cfg.RestrictedDomains {
		if strings.Contains(t, strings.ToLower(d)) {
			return scopeRestricted
		}
	}
	for _, d := range cfg.AllowedDomains {
		if strings.Contains(t, strings.ToLower(d)) {
			return scopeAllowed
		}
	}
	return scopeUnknown
}

// actionTarget extracts the target host/process from the action.
func actionTarget(action *plan.Action) string {
	if action.Target != "" {
		return action.Target
	}
	if action.Payload != nil {
		for _, key := range []string{"url", "target", "host", "site", "app", "process"} {
			if v, ok := action.Payload[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

// evaluateScopeGate classifies the action's target (authorization tier 1).
//
// Unknown targets fail closed to an approval prompt at level 1 rather than
// passing silently.
func evaluateScopeGate(action *plan.Action, cfg *config.PolicyConfig) GateResult {
	target := actionTarget(action)

	switch classifyTarget(target, cfg) {
	case scopeBlocked:
		return GateResult{
			Gate:    GateScope,
			Passed:  false,
			Level:   3,
			Reason:  fmt.Sprintf("target %q is on the deny list", target),
			Blocked: true,
		}
	case scopeRestricted:
		return GateResult{
			Gate:             GateScope,
			Passed:           false,
			Level:            2,
			Reason:           fmt.Sprintf("target %q is restricted", target),
			RequiresApproval: true,
		}
	case scopeAllowed:
		return GateResult{
			Gate:   GateScope,
			Passed: true,
			Level:  1,
			Reason: fmt.Sprintf("target %q is allowed", target),
		}
	default:
		return GateResult{
			Gate:             GateScope,
			Passed:           false,
			Level:            1,
			Reason:           fmt.Sprintf("target %q is not classified, approval required", target),
			RequiresApproval: true,
		}
	}
}

// =============================================================================
// COST GATE
// =============================================================================

// evaluateCostGate scans the action name and payload for financial-transaction
// vocabulary (authorization tier 2). A match requires level 3 approval.
func evaluateCostGate(action *plan.Action, cfg *config.PolicyConfig) GateResult {
	text := strings.ToLower(action.Name + " " + flattenPayload(action.Payload))

	for _, keyword := range cfg.FinancialKeywords {
		if containsWord(text, strings.ToLower(keyword)) {
			return GateResult{
				Gate:             GateCost,
				Passed:           false,
				Level:            3,
				Reason:           fmt.Sprintf("financial vocabulary %q detected", keyword),
				RequiresApproval: true,
			}
		}
	}

	return GateResult{
		Gate:   GateCost,
		Passed: true,
		Level:  2,
		Reason: "no financial vocabulary detected",
	}
}

// containsWord matches keyword on word boundaries so "buy" does not fire
// on "buyer" or "pay" on "payload". Underscores are boundaries, so "pay"
// fires on snake_case names like "pay_invoice".
func containsWord(text, keyword string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], keyword)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(keyword)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// =============================================================================
// INTEGRITY GATE
// =============================================================================

var (
	ssnPattern        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	ibanPattern       = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)
	privateKeyPattern = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)
)

// sensitiveKeyMarkers are payload key substrings that indicate credentials.
var sensitiveKeyMarkers = []string{
	"password", "passwd", "secret", "api_key", "apikey",
	"private_key", "account_number", "routing_number",
}

// TrustedSourceTag marks a payload as sourced from a secure origin, which
// exempts it from the integrity prompt.
const TrustedSourceTag = "trusted-source"

// hasSensitiveShape scans a payload for sensitive-data shapes.
func hasSensitiveShape(payload map[string]any) (string, bool) {
	for key, value := range payload {
		lowerKey := strings.ToLower(key)
		for _, marker := range sensitiveKeyMarkers {
			if strings.Contains(lowerKey, marker) {
				return fmt.Sprintf("sensitive key %q", key), true
			}
		}

		text, ok := value.(string)
		if !ok {
			if nested, ok := value.(map[string]any); ok {
				if reason, found := hasSensitiveShape(nested); found {
					return reason, true
				}
			}
			continue
		}

		if privateKeyPattern.MatchString(text) {
			return "private key material in payload", true
		}
		if ssnPattern.MatchString(text) {
			return "SSN-shaped value in payload", true
		}
		if ibanPattern.MatchString(text) {
			return "bank account identifier in payload", true
		}
	}
	return "", false
}

// evaluateIntegrityGate scans the payload for sensitive-data shapes
// (authorization tier 3). Sensitive data from an untrusted origin requires
// level 3 approval.
func evaluateIntegrityGate(action *plan.Action) GateResult {
	reason, found := hasSensitiveShape(action.Payload)
	if found && !isTrustedSource(action) {
		return GateResult{
			Gate:             GateIntegrity,
			Passed:           false,
			Level:            3,
			Reason:           reason + " without trusted-source tag",
			RequiresApproval: true,
		}
	}

	return GateResult{
		Gate:   GateIntegrity,
		Passed: true,
		Level:  3,
		Reason: "no untrusted sensitive data detected",
	}
}

// isTrustedSource checks the trusted-origin exemption.
func isTrustedSource(action *plan.Action) bool {
	if action.HasTag(TrustedSourceTag) {
		return true
	}
	if action.Payload != nil {
		if v, ok := action.Payload["source"].(string); ok {
			v = strings.ToLower(v)
			return v == "trusted" || v == "secure"
		}
	}
	return false
}

// =============================================================================
// HELPERS
// =============================================================================

// flattenPayload renders payload keys and string values as scan text.
func flattenPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	var sb strings.Builder
	for key, value := range payload {
		sb.WriteString(key)
		sb.WriteByte(' ')
		switch v := value.(type) {
		case string:
			sb.WriteString(v)
			sb.WriteByte(' ')
		case map[string]any:
			sb.WriteString(flattenPayload(v))
		}
	}
	return sb.String()
}
