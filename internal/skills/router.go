package skills

import (
	"fmt"
	"strings"
	"sync"
)

// Router dispatches slash-command input to skills (spec §4.9). It supports
// two styles: "/skill <name> <args>" performs a fuzzy lookup by name, while
// "/<alias> <args>" requires an exact match against a sanitized per-skill
// alias. A match rewrites the user message before it is persisted, steering
// the model toward the matched skill.
type Router struct {
	manager *Manager

	mu      sync.RWMutex
	aliases map[string]string // sanitized alias -> skill name
}

// NewRouter builds a Router over manager's skills. Call RefreshAliases after
// every Manager.Discover/RefreshEligible so alias assignment reflects the
// current eligible set.
func NewRouter(manager *Manager) *Router {
	r := &Router{
		manager: manager,
		aliases: make(map[string]string),
	}
	r.RefreshAliases()
	return r
}

// RefreshAliases recomputes the alias table from the manager's current
// eligible, user-invocable skills. Names are assigned in ListEligible's
// sorted order, so alias assignment is deterministic across a process.
func (r *Router) RefreshAliases() {
	eligible := r.manager.ListEligible()
	names := make([]string, 0, len(eligible))
	for _, s := range eligible {
		if s.IsUserInvocable() {
			names = append(names, s.Name)
		}
	}

	aliases := make(map[string]string, len(names))
	counts := make(map[string]int)
	for _, name := range names {
		base := sanitizeCommandName(name)
		counts[base]++
		alias := base
		if n := counts[base]; n > 1 {
			alias = fmt.Sprintf("%s_%d", base, n)
		}
		aliases[alias] = name
	}

	r.mu.Lock()
	r.aliases = aliases
	r.mu.Unlock()
}

// RouteResult is the outcome of a successful dispatch.
type RouteResult struct {
	Skill            *SkillEntry
	Args             string
	RewrittenMessage string
}

// Route inspects text for a "/skill <name> <args>" or "/<alias> <args>"
// invocation and, on a match, returns the rewritten message to persist in
// place of the user's raw input. Unmatched or non-command text returns
// (nil, false) and the caller should persist text unchanged.
func (r *Router) Route(text string) (*RouteResult, bool) {
	parsed, ok := parseSlashInvocation(text)
	if !ok {
		return nil, false
	}

	if parsed.Name == "skill" {
		name, args := SplitCommandArgs(parsed.Args)
		skill := r.findFuzzy(name)
		if skill == nil {
			return nil, false
		}
		return buildRouteResult(skill, args), true
	}

	r.mu.RLock()
	skillName, ok := r.aliases[parsed.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	skill, ok := r.manager.GetEligible(skillName)
	if !ok || !skill.IsUserInvocable() {
		return nil, false
	}
	return buildRouteResult(skill, parsed.Args), true
}

// findFuzzy resolves query against eligible, user-invocable skill names:
// exact match first, then a unique name prefix, then a unique substring.
func (r *Router) findFuzzy(query string) *SkillEntry {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	if skill, ok := r.manager.GetEligible(query); ok && skill.IsUserInvocable() {
		return skill
	}

	var prefixMatch, substrMatch *SkillEntry
	for _, s := range r.manager.ListEligible() {
		if !s.IsUserInvocable() {
			continue
		}
		lower := strings.ToLower(s.Name)
		if prefixMatch == nil && strings.HasPrefix(lower, query) {
			prefixMatch = s
		}
		if substrMatch == nil && strings.Contains(lower, query) {
			substrMatch = s
		}
	}
	if prefixMatch != nil {
		return prefixMatch
	}
	return substrMatch
}

func buildRouteResult(skill *SkillEntry, args string) *RouteResult {
	return &RouteResult{
		Skill: skill,
		Args:  args,
		RewrittenMessage: fmt.Sprintf(
			"Use the %q skill for this request.\n\nUser input:\n%s",
			skill.Name, args,
		),
	}
}

// sanitizeCommandName turns a skill name into a slash-command alias:
// lowercase, non-alphanumerics collapse to a single underscore, leading and
// trailing underscores are stripped, and the result is truncated to 32
// characters. An empty result falls back to "skill".
func sanitizeCommandName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	s := b.String()
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if len(s) > 32 {
		s = strings.Trim(s[:32], "_")
	}
	if s == "" {
		s = "skill"
	}
	return s
}
