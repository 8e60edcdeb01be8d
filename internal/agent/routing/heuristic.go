package routing

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus/internal/agent"
)

// shortRequestChars is the length below which a request is tagged "quick"
// regardless of whether it matches quickPattern.
const shortRequestChars = 80

var markdownFence = regexp.MustCompile("```")

// tagRule maps a regex to the tag it contributes when content matches.
type tagRule struct {
	tag     string
	pattern *regexp.Regexp
}

var tagRules = []tagRule{
	{"code", regexp.MustCompile(`(?i)\b(func|class|def|package|import|SELECT|INSERT|UPDATE|DELETE)\b`)},
	{"reasoning", regexp.MustCompile(`(?i)\b(analyze|reason|think through|derive|prove|why|tradeoff)\b`)},
	{"quick", regexp.MustCompile(`(?i)\b(what is|define|quick|brief|summary)\b`)},
}

// HeuristicClassifier tags requests using simple content heuristics: a
// request either looks like it's about code, asks for reasoning, or is
// short/simple enough to answer quickly.
type HeuristicClassifier struct{}

// Classify returns the tags matched by the last user message in req.
func (c *HeuristicClassifier) Classify(req *agent.CompletionRequest) []string {
	content := strings.ToLower(strings.TrimSpace(lastUserContent(req)))
	if content == "" {
		return nil
	}

	var tags []string
	codeMatched := markdownFence.MatchString(content)
	if codeMatched {
		tags = append(tags, "code")
	}
	for _, rule := range tagRules {
		if rule.tag == "code" && codeMatched {
			continue
		}
		if rule.pattern.MatchString(content) {
			tags = append(tags, rule.tag)
		}
	}
	if len(content) < shortRequestChars && !containsString(tags, "quick") {
		tags = append(tags, "quick")
	}

	return tags
}

func containsString(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
