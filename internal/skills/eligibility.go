package skills

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// EligibilityContext holds the environment facts a skill's SKILL.md
// requirements are checked against: OS, PATH binaries, env vars, and
// resolved config values. Binary/env lookups are cached since
// Manager.RefreshEligible re-evaluates every skill on every discovery pass.
type EligibilityContext struct {
	OS string

	mu           sync.Mutex
	pathBins     map[string]bool
	envVars      map[string]bool
	ConfigValues map[string]any
	Overrides    map[string]*SkillConfig
}

// NewEligibilityContext builds an EligibilityContext from the running
// process's environment and the resolved per-skill config overrides.
func NewEligibilityContext(overrides map[string]*SkillConfig, configValues map[string]any) *EligibilityContext {
	return &EligibilityContext{
		OS:           runtime.GOOS,
		pathBins:     make(map[string]bool),
		envVars:      make(map[string]bool),
		ConfigValues: configValues,
		Overrides:    overrides,
	}
}

// HasBinary reports whether name resolves on PATH, caching the result.
func (c *EligibilityContext) HasBinary(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if result, ok := c.pathBins[name]; ok {
		return result
	}
	_, err := exec.LookPath(name)
	result := err == nil
	c.pathBins[name] = result
	return result
}

// HasEnv reports whether an environment variable is set, caching the result.
func (c *EligibilityContext) HasEnv(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if result, ok := c.envVars[name]; ok {
		return result
	}
	_, exists := os.LookupEnv(name)
	c.envVars[name] = exists
	return exists
}

// HasEnvOrConfig reports whether envVar is set in the process environment,
// or a config override for skillKey supplies it (API key shorthand or an
// explicit env entry).
func (c *EligibilityContext) HasEnvOrConfig(skillKey, envVar string) bool {
	if c.HasEnv(envVar) {
		return true
	}
	if cfg, ok := c.Overrides[skillKey]; ok {
		if cfg.APIKey != "" {
			return true
		}
		if _, ok := cfg.Env[envVar]; ok {
			return true
		}
	}
	return false
}

// ConfigTruthy walks a dotted config path (e.g. "tools.browser.enabled")
// and reports whether the resolved value is truthy.
func (c *EligibilityContext) ConfigTruthy(path string) bool {
	if c.ConfigValues == nil {
		return false
	}
	var current any = c.ConfigValues
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		current = m[part]
	}
	return isTruthy(current)
}

func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case int, int8, int16, int32, int64:
		return val != 0
	case uint, uint8, uint16, uint32, uint64:
		return val != 0
	case float32, float64:
		return val != 0
	default:
		return true
	}
}

// EligibilityResult is the outcome of evaluating a skill's gating rules.
type EligibilityResult struct {
	Eligible bool
	Reason   string
}

// CheckEligibility evaluates s's SKILL.md requirements (OS, required/any-of
// binaries, required env vars, required config paths) against ctx, in order
// from cheapest to most specific so the first failing requirement explains
// why the skill is unavailable.
func (s *SkillEntry) CheckEligibility(ctx *EligibilityContext) EligibilityResult {
	if !s.IsEnabled(ctx.Overrides) {
		return EligibilityResult{false, "disabled in config"}
	}

	meta := s.Metadata
	if meta == nil {
		return EligibilityResult{true, ""}
	}
	if meta.Always {
		return EligibilityResult{true, "always enabled"}
	}

	if len(meta.OS) > 0 && !containsString(meta.OS, ctx.OS) {
		return EligibilityResult{false, fmt.Sprintf("requires OS %v, have %s", meta.OS, ctx.OS)}
	}

	if req := meta.Requires; req != nil {
		for _, bin := range req.Bins {
			if !ctx.HasBinary(bin) {
				return EligibilityResult{false, fmt.Sprintf("missing required binary: %s", bin)}
			}
		}
		if len(req.AnyBins) > 0 && !anyHasBinary(ctx, req.AnyBins) {
			return EligibilityResult{false, fmt.Sprintf("requires one of: %v", req.AnyBins)}
		}
		for _, env := range req.Env {
			if !ctx.HasEnvOrConfig(s.ConfigKey(), env) {
				return EligibilityResult{false, fmt.Sprintf("missing environment variable: %s", env)}
			}
		}
		for _, path := range req.Config {
			if !ctx.ConfigTruthy(path) {
				return EligibilityResult{false, fmt.Sprintf("config not truthy: %s", path)}
			}
		}
	}

	return EligibilityResult{true, ""}
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func anyHasBinary(ctx *EligibilityContext, bins []string) bool {
	for _, bin := range bins {
		if ctx.HasBinary(bin) {
			return true
		}
	}
	return false
}

// FilterEligible returns the subset of skills eligible under ctx.
func FilterEligible(skills []*SkillEntry, ctx *EligibilityContext) []*SkillEntry {
	var eligible []*SkillEntry
	for _, skill := range skills {
		if result := skill.CheckEligibility(ctx); result.Eligible {
			eligible = append(eligible, skill)
		}
	}
	return eligible
}

// GetIneligibleReasons maps each ineligible skill's name to why it was
// excluded.
func GetIneligibleReasons(skills []*SkillEntry, ctx *EligibilityContext) map[string]string {
	reasons := make(map[string]string)
	for _, skill := range skills {
		if result := skill.CheckEligibility(ctx); !result.Eligible {
			reasons[skill.Name] = result.Reason
		}
	}
	return reasons
}
