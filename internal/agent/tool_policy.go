package agent

import (
	"context"
	"strings"
)

// ToolPolicy gates which tools a run may call. Deny always overrides allow;
// an empty Allow list means every tool not explicitly denied is permitted
// (spec §4.8, invariant P10).
type ToolPolicy struct {
	Allow []string
	Deny  []string
}

// Matches reports whether toolName is permitted under the policy.
func (p ToolPolicy) Matches(toolName string) bool {
	normalized := strings.ToLower(strings.TrimSpace(toolName))
	if normalized == "" {
		return false
	}
	if matchesAnyPattern(normalized, normalizeToolPatterns(p.Deny)) {
		return false
	}
	allow := normalizeToolPatterns(p.Allow)
	if len(allow) == 0 {
		return true
	}
	return matchesAnyPattern(normalized, allow)
}

// Intersect combines two policies so the result permits a tool only when
// both layers permit it. Used to fold a sandbox-derived deny-only policy
// into a caller-supplied allow/deny policy.
func (p ToolPolicy) Intersect(other ToolPolicy) ToolPolicy {
	return ToolPolicy{
		Allow: append(append([]string(nil), p.Allow...), other.Allow...),
		Deny:  append(append([]string(nil), p.Deny...), other.Deny...),
	}
}

// Filter returns the subset of tools the policy permits.
func (p ToolPolicy) Filter(tools []Tool) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if p.Matches(t.Name()) {
			out = append(out, t)
		}
	}
	return out
}

// ResolveWithPolicy returns the registry's tools filtered by policy.
func (r *ToolRegistry) ResolveWithPolicy(policy ToolPolicy) []Tool {
	return policy.Filter(r.AsTools())
}

// toolPolicyKey is used to carry the resolved per-run ToolPolicy on ctx so
// the turn loop can filter the tool list it hands to the provider without
// the Loop needing to know about the Controller (spec §4.8 tool
// resolution).
type toolPolicyKey struct{}

// WithToolPolicy stores a resolved ToolPolicy in the context.
func WithToolPolicy(ctx context.Context, policy ToolPolicy) context.Context {
	return context.WithValue(ctx, toolPolicyKey{}, policy)
}

// ToolPolicyFromContext retrieves the ToolPolicy stored on ctx, if any.
func ToolPolicyFromContext(ctx context.Context) (ToolPolicy, bool) {
	policy, ok := ctx.Value(toolPolicyKey{}).(ToolPolicy)
	return policy, ok
}

func normalizeToolPatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		v := strings.ToLower(strings.TrimSpace(p))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func matchesAnyPattern(name string, patterns []string) bool {
	for _, p := range patterns {
		if matchToolPattern(p, name) || (strings.Contains(p, "*") && wildcardToolMatch(p, name)) {
			return true
		}
	}
	return false
}

// wildcardToolMatch supports a single leading and/or trailing "*" in
// addition to matchToolPattern's trailing-only wildcard, covering
// patterns such as "mcp__*__read" that name a family of tools.
func wildcardToolMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") {
		middle := strings.Trim(pattern, "*")
		return middle == "" || strings.Contains(value, middle)
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(value, strings.TrimPrefix(pattern, "*"))
	}
	return matchToolPattern(pattern, value)
}
