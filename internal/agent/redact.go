package agent

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// DefaultMaxToolResultSize caps a single tool_result block's content before
// it is persisted, so one runaway tool output cannot blow the context
// budget on its own (the pruner in internal/agent/context handles the
// steady-state case; this is the hard ceiling at the source).
const DefaultMaxToolResultSize = 64 * 1024

// builtinSecretPatterns matches common credential shapes so they never
// reach the transcript, independent of any caller-supplied patterns.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsk-[a-zA-Z0-9]{20,}\b`),                      // API keys (OpenAI/Anthropic-style)
	regexp.MustCompile(`(?i)\bBearer\s+[a-zA-Z0-9._\-]{10,}\b`),            // Bearer tokens
	regexp.MustCompile(`(?i)\bAKIA[0-9A-Z]{16}\b`),                        // AWS access key ids
	regexp.MustCompile(`(?i)\b(password|secret|token|api[_-]?key)\s*[:=]\s*['"]?[^\s'"]{6,}['"]?`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
}

// redactionText replaces a matched secret span.
const redactionText = "[REDACTED]"

// ToolResultGuard redacts and truncates tool_result content before it is
// persisted to the session log — a distinct concern from
// internal/sessions.GuardStore, which only enforces the tool_use/tool_result
// pairing invariant. Zero value is inert (active() is false).
type ToolResultGuard struct {
	// Enabled turns the guard on. A zero-value guard never modifies content.
	Enabled bool

	// MaxChars truncates content beyond this size, appending TruncateSuffix.
	// 0 uses DefaultMaxToolResultSize.
	MaxChars int

	// Denylist names tools (glob patterns, "*" suffix supported) whose
	// entire result is replaced with RedactionText regardless of content.
	Denylist []string

	// SanitizeSecrets applies builtinSecretPatterns plus any
	// RedactPatterns to the content.
	SanitizeSecrets bool

	// RedactPatterns are additional regular expressions to redact, beyond
	// the builtin set.
	RedactPatterns []string

	// RedactionText overrides the default "[REDACTED]" replacement.
	RedactionText string

	// TruncateSuffix overrides the default truncation marker.
	TruncateSuffix string
}

func (g ToolResultGuard) active() bool {
	return g.Enabled
}

func (g ToolResultGuard) maxChars() int {
	if g.MaxChars > 0 {
		return g.MaxChars
	}
	return DefaultMaxToolResultSize
}

func (g ToolResultGuard) redactionText() string {
	if g.RedactionText != "" {
		return g.RedactionText
	}
	return redactionText
}

func (g ToolResultGuard) truncateSuffix() string {
	if g.TruncateSuffix != "" {
		return g.TruncateSuffix
	}
	return "\n...[truncated]"
}

// Apply redacts and/or truncates a single tool_result content block,
// returning a new block (the input is never mutated).
func (g ToolResultGuard) Apply(toolName string, result models.ContentBlock) models.ContentBlock {
	if !g.active() || result.Type != models.BlockToolResult {
		return result
	}

	if matchesToolPatterns(g.Denylist, toolName) {
		result.Content = g.redactionText()
		return result
	}

	content := result.Content
	if g.SanitizeSecrets {
		content = SanitizeSecrets(content, g.redactionText())
	}
	for _, pattern := range g.RedactPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		content = re.ReplaceAllString(content, g.redactionText())
	}

	max := g.maxChars()
	if max > 0 && len(content) > max {
		content = content[:max] + g.truncateSuffix()
	}

	result.Content = content
	return result
}

// ApplyAll redacts every tool_result block in results, looking up each
// block's tool name from its own Name field (set by
// models.ToolResultBlock).
func (g ToolResultGuard) ApplyAll(results []models.ContentBlock) []models.ContentBlock {
	if !g.active() || len(results) == 0 {
		return results
	}
	out := make([]models.ContentBlock, len(results))
	for i, r := range results {
		out[i] = g.Apply(r.Name, r)
	}
	return out
}

// DetectSecrets returns every builtin secret pattern match found in content,
// useful for tool authors who want to warn before returning sensitive data.
func DetectSecrets(content string) []string {
	var found []string
	for _, re := range builtinSecretPatterns {
		found = append(found, re.FindAllString(content, -1)...)
	}
	return found
}

// SanitizeSecrets replaces every builtin secret pattern match in content
// with replacement.
func SanitizeSecrets(content, replacement string) string {
	for _, re := range builtinSecretPatterns {
		content = re.ReplaceAllString(content, replacement)
	}
	return content
}

// SanitizeToolResult is a standalone convenience combining secret
// sanitization and size truncation, for callers that don't need the full
// ToolResultGuard configuration surface.
func SanitizeToolResult(content string, maxChars int) string {
	content = SanitizeSecrets(content, redactionText)
	if maxChars > 0 && len(content) > maxChars {
		content = content[:maxChars] + "\n...[truncated]"
	}
	return strings.TrimSpace(content)
}
