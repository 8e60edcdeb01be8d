package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTestSkill(t *testing.T, dir, name, frontMatterExtra string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatalf("mkdir skill dir: %v", err)
	}
	metadata := ""
	if frontMatterExtra != "" {
		metadata = "metadata:\n" + frontMatterExtra
	}
	content := "---\nname: " + name + "\ndescription: a test skill\n" + metadata + "---\n# " + name + "\n"
	if err := os.WriteFile(filepath.Join(skillDir, SkillFilename), []byte(content), 0o644); err != nil {
		t.Fatalf("write skill file: %v", err)
	}
}

func newTestRouter(t *testing.T, skills map[string]string) *Router {
	t.Helper()
	workspace := t.TempDir()
	skillsDir := filepath.Join(workspace, "skills")
	if err := os.MkdirAll(skillsDir, 0o755); err != nil {
		t.Fatalf("mkdir skills dir: %v", err)
	}
	for name, extra := range skills {
		writeTestSkill(t, skillsDir, name, extra)
	}

	manager, err := NewManager(&SkillsConfig{}, workspace, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if err := manager.Discover(context.Background()); err != nil {
		t.Fatalf("Discover error: %v", err)
	}
	return NewRouter(manager)
}

func TestRouterStrictAliasDispatch(t *testing.T) {
	router := newTestRouter(t, map[string]string{
		"pdf-export": "",
	})

	result, ok := router.Route("/pdf_export make me a report")
	if !ok {
		t.Fatal("expected strict alias match")
	}
	if result.Skill.Name != "pdf-export" {
		t.Errorf("expected pdf-export, got %s", result.Skill.Name)
	}
	if result.Args != "make me a report" {
		t.Errorf("unexpected args: %q", result.Args)
	}
	want := "Use the \"pdf-export\" skill for this request.\n\nUser input:\nmake me a report"
	if result.RewrittenMessage != want {
		t.Errorf("unexpected rewritten message: %q", result.RewrittenMessage)
	}
}

func TestRouterSkillFuzzyDispatch(t *testing.T) {
	router := newTestRouter(t, map[string]string{
		"pdf-export": "",
		"csv-import": "",
	})

	result, ok := router.Route("/skill pdf write a summary")
	if !ok {
		t.Fatal("expected fuzzy match via /skill")
	}
	if result.Skill.Name != "pdf-export" {
		t.Errorf("expected pdf-export, got %s", result.Skill.Name)
	}
	if result.Args != "write a summary" {
		t.Errorf("unexpected args: %q", result.Args)
	}
}

func TestRouterRejectsNonUserInvocableSkill(t *testing.T) {
	router := newTestRouter(t, map[string]string{
		"hidden-tool": "  user-invocable: false\n",
	})

	if _, ok := router.Route("/hidden_tool do it"); ok {
		t.Fatal("expected no dispatch for a non-user-invocable skill")
	}
	if _, ok := router.Route("/skill hidden do it"); ok {
		t.Fatal("expected no fuzzy dispatch for a non-user-invocable skill")
	}
}

func TestRouterNoMatchReturnsFalse(t *testing.T) {
	router := newTestRouter(t, map[string]string{
		"pdf-export": "",
	})

	if _, ok := router.Route("just a normal message"); ok {
		t.Fatal("expected no match for plain text")
	}
	if _, ok := router.Route("/unknown-command args"); ok {
		t.Fatal("expected no match for an unregistered alias")
	}
}

func TestSanitizeCommandNameDedupes(t *testing.T) {
	names := []string{"My Tool!", "my.tool", "my__tool"}
	seen := make(map[string]int)
	for _, n := range names {
		base := sanitizeCommandName(n)
		seen[base]++
	}
	if seen["my_tool"] != 3 {
		t.Errorf("expected all three names to sanitize to my_tool, got %v", seen)
	}
}

func TestSanitizeCommandNameFallbackAndTruncation(t *testing.T) {
	if got := sanitizeCommandName("!!!"); got != "skill" {
		t.Errorf("expected fallback skill, got %q", got)
	}
	long := "this-is-a-very-long-skill-name-that-exceeds-the-limit"
	got := sanitizeCommandName(long)
	if len(got) > 32 {
		t.Errorf("expected truncation to 32 chars, got %d: %q", len(got), got)
	}
}

func TestRouterRefreshAliasesDedupesAcrossSkills(t *testing.T) {
	router := newTestRouter(t, map[string]string{
		"my-tool":   "",
		"my--tool":  "",
		"my---tool": "",
	})

	aliasedTo := make(map[string]bool)
	for _, name := range []string{"my_tool", "my_tool_2", "my_tool_3"} {
		if _, ok := router.aliases[name]; ok {
			aliasedTo[name] = true
		}
	}
	if len(aliasedTo) != 3 {
		t.Errorf("expected 3 distinct deduped aliases, got %v", router.aliases)
	}
}
