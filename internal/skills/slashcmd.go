package skills

import "strings"

// slashInvocation is a parsed "/<name> <args>" prefix at the start of a
// message. Router only ever looks at the first line: spec §4.9 command
// dispatch never scans for commands embedded mid-message.
type slashInvocation struct {
	Name string
	Args string
}

// parseSlashInvocation extracts a leading "/<name> <args>" invocation from
// text, or reports ok=false if text doesn't start with a slash command.
// The name is lowercased; args retains whatever whitespace follows it.
func parseSlashInvocation(text string) (slashInvocation, bool) {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(line, "/") {
		return slashInvocation{}, false
	}

	rest := line[1:]
	name, args := SplitCommandArgs(rest)
	if name == "" {
		return slashInvocation{}, false
	}

	remainder := text[len(line):]
	if remainder != "" {
		if args != "" {
			args += remainder
		} else {
			args = strings.TrimPrefix(remainder, "\n")
		}
	}

	return slashInvocation{Name: strings.ToLower(name), Args: args}, true
}

// SplitCommandArgs splits "name rest-of-line" on the first run of
// whitespace, trimming surrounding space from both halves.
func SplitCommandArgs(s string) (name, args string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}
