package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SkillFilename is the expected filename for skill definitions.
	SkillFilename = "SKILL.md"

	// FrontmatterDelimiter marks the beginning and end of YAML frontmatter.
	FrontmatterDelimiter = "---"
)

// ParseSkillFile parses a SKILL.md file and returns a SkillEntry.
func ParseSkillFile(path string) (*SkillEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return ParseSkill(data, filepath.Dir(path))
}

// ParseSkill parses SKILL.md content and returns a SkillEntry.
func ParseSkill(data []byte, skillPath string) (*SkillEntry, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var entry SkillEntry
	if err := yaml.Unmarshal(frontmatter, &entry); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	// Validate required fields
	if entry.Name == "" {
		return nil, fmt.Errorf("skill name is required")
	}
	if entry.Description == "" {
		return nil, fmt.Errorf("skill description is required")
	}

	entry.Content = strings.TrimSpace(string(body))
	entry.Path = skillPath

	return &entry, nil
}

// splitFrontmatter separates a SKILL.md file's leading "---"-delimited YAML
// block from its markdown body.
func splitFrontmatter(data []byte) (frontmatter, body []byte, err error) {
	text := string(data)
	if text == "" {
		return nil, nil, fmt.Errorf("empty file")
	}

	afterOpen, ok := cutLeadingDelimiter(text)
	if !ok {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	closeIdx := findDelimiterLine(afterOpen)
	if closeIdx < 0 {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	return []byte(afterOpen[:closeIdx]), []byte(afterOpen[closeIdx+len(closingMarker(afterOpen, closeIdx)):]), nil
}

// cutLeadingDelimiter reports whether text's first line is exactly
// FrontmatterDelimiter, returning the text after that line.
func cutLeadingDelimiter(text string) (rest string, ok bool) {
	line, rest, found := strings.Cut(text, "\n")
	if !found {
		line, rest = text, ""
	}
	if strings.TrimSpace(line) != FrontmatterDelimiter {
		return "", false
	}
	return rest, true
}

// findDelimiterLine returns the byte offset of the next line in text that
// is exactly FrontmatterDelimiter, or -1 if there is none.
func findDelimiterLine(text string) int {
	offset := 0
	for {
		line, rest, found := strings.Cut(text[offset:], "\n")
		if strings.TrimSpace(line) == FrontmatterDelimiter {
			return offset
		}
		if !found {
			return -1
		}
		offset += len(line) + 1
		_ = rest
	}
}

// closingMarker returns the delimiter-line substring (including its
// trailing newline, if present) starting at idx in text, so the caller can
// skip past it to reach the body.
func closingMarker(text string, idx int) string {
	line, _, found := strings.Cut(text[idx:], "\n")
	if found {
		return line + "\n"
	}
	return line
}

// ValidateSkill checks if a skill entry is valid.
func ValidateSkill(entry *SkillEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("name is required")
	}

	// Validate name format: lowercase, hyphens, no spaces
	for _, r := range entry.Name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("name must be lowercase alphanumeric with hyphens: got %q", entry.Name)
		}
	}

	if entry.Description == "" {
		return fmt.Errorf("description is required")
	}

	return nil
}

// ExpandBaseDir replaces {baseDir} placeholders in skill content.
func ExpandBaseDir(content string, baseDir string) string {
	return strings.ReplaceAll(content, "{baseDir}", baseDir)
}
