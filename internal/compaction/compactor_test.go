package compaction

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestShouldCompact_TriggersPastReserve(t *testing.T) {
	msg := models.NewTextMessage(models.RoleUser, strings.Repeat("x", 400000))
	if !ShouldCompact([]*models.Message{msg}, 1000) {
		t.Fatal("expected ShouldCompact to trigger when estimated tokens exceed window - reserve")
	}
	if ShouldCompact([]*models.Message{models.NewTextMessage(models.RoleUser, "hi")}, 1000000) {
		t.Fatal("expected ShouldCompact to be false for small history against a huge window")
	}
}

func TestCompact_ProducesStructuredSummary(t *testing.T) {
	dropped := []*models.Message{
		models.NewTextMessage(models.RoleUser, "please add a cache layer"),
		models.NewTextMessage(models.RoleAssistant, "done, added internal/cache"),
	}

	var capturedSystem, capturedPrompt string
	summarize := func(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
		capturedSystem = system
		capturedPrompt = userPrompt
		return "## Goals\nAdd caching.\n", nil
	}

	result, err := Compact(context.Background(), dropped, 100000, "", summarize)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if !strings.Contains(capturedSystem, "summarization assistant") {
		t.Errorf("system prompt = %q, want summarization assistant phrasing", capturedSystem)
	}
	if !strings.Contains(capturedPrompt, "## Goals") {
		t.Errorf("user prompt = %q, want structured section headings", capturedPrompt)
	}
	if !strings.Contains(result.Summary, "Add caching") {
		t.Errorf("Summary = %q, want generated content", result.Summary)
	}
	if result.SummaryMessage.Role != models.RoleUser {
		t.Errorf("SummaryMessage.Role = %v, want RoleUser", result.SummaryMessage.Role)
	}
}

func TestCompact_UsesUpdatePromptWhenPreviousSummaryExists(t *testing.T) {
	dropped := []*models.Message{models.NewTextMessage(models.RoleUser, "more work")}

	var capturedPrompt string
	summarize := func(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
		capturedPrompt = userPrompt
		return "updated summary", nil
	}

	_, err := Compact(context.Background(), dropped, 100000, "PRIOR SUMMARY TEXT", summarize)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if !strings.Contains(capturedPrompt, "PRIOR SUMMARY TEXT") {
		t.Errorf("expected update prompt to include previous summary, got %q", capturedPrompt)
	}
}

func TestCompact_EmptyDroppedReturnsFallback(t *testing.T) {
	result, err := Compact(context.Background(), nil, 100000, "", nil)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if result.Summary != DefaultSummaryFallback {
		t.Errorf("Summary = %q, want %q", result.Summary, DefaultSummaryFallback)
	}
}

func TestCompact_SummarizerFailureFallsBackToSizeLimitedMessage(t *testing.T) {
	dropped := []*models.Message{
		models.NewTextMessage(models.RoleUser, "a"),
		models.NewTextMessage(models.RoleAssistant, "b"),
	}
	summarize := func(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
		return "", errBoom{}
	}

	result, err := Compact(context.Background(), dropped, 100000, "", summarize)
	if err != nil {
		t.Fatalf("Compact() error = %v", err)
	}
	if !strings.Contains(result.Summary, "Summary unavailable due to size limits") {
		t.Errorf("Summary = %q, want size-limited fallback phrasing", result.Summary)
	}
}

func TestFileOpsAppendix_SeparatesModifiedFromReadOnly(t *testing.T) {
	readArgs, _ := json.Marshal(map[string]string{"path": "a.go"})
	writeArgs, _ := json.Marshal(map[string]string{"path": "b.go"})
	editArgs, _ := json.Marshal(map[string]string{"path": "a.go"}) // read then edited -> modified wins

	messages := []*models.Message{
		{
			Role: models.RoleAssistant,
			Content: []models.ContentBlock{
				models.ToolUseBlock("1", "read", readArgs),
				models.ToolUseBlock("2", "write", writeArgs),
				models.ToolUseBlock("3", "edit", editArgs),
			},
		},
	}

	appendix := fileOpsAppendix(messages)
	if !strings.Contains(appendix, "<modified-files>\na.go\nb.go\n</modified-files>") {
		t.Errorf("appendix modified-files section wrong: %q", appendix)
	}
	if !strings.Contains(appendix, "<read-files>\n</read-files>") {
		t.Errorf("appendix read-files section should be empty since a.go was later edited: %q", appendix)
	}
}

func TestFileOpsAppendix_EmptyWhenNoFileTools(t *testing.T) {
	messages := []*models.Message{models.NewTextMessage(models.RoleAssistant, "just talking")}
	if got := fileOpsAppendix(messages); got != "" {
		t.Errorf("fileOpsAppendix() = %q, want empty", got)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestChunkByMaxTokens_SplitsOnBudgetAndIsolatesOversized(t *testing.T) {
	small := &turnMessage{content: strings.Repeat("a", 8)} // ~2 tokens
	big := &turnMessage{content: strings.Repeat("b", 400)} // far over any small budget

	chunks := chunkByMaxTokens([]*turnMessage{small, small, big, small}, 4)
	if len(chunks) != 3 {
		t.Fatalf("chunkByMaxTokens() = %d chunks, want 3 (two small-pair/singleton chunks + isolated oversized)", len(chunks))
	}
	if len(chunks[1]) != 1 || chunks[1][0] != big {
		t.Errorf("expected the oversized message to occupy its own chunk, got %+v", chunks[1])
	}
}

func TestSplitByTokenShare_BalancesAcrossParts(t *testing.T) {
	messages := make([]*turnMessage, 6)
	for i := range messages {
		messages[i] = &turnMessage{content: strings.Repeat("x", 40)}
	}
	parts := splitByTokenShare(messages, 3)
	if len(parts) != 3 {
		t.Fatalf("splitByTokenShare() = %d parts, want 3", len(parts))
	}
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if total != len(messages) {
		t.Errorf("splitByTokenShare() dropped messages: got %d total, want %d", total, len(messages))
	}
}

func TestComputeAdaptiveChunkRatio_ShrinksForLargeMessages(t *testing.T) {
	small := []*models.Message{models.NewTextMessage(models.RoleUser, "hi")}
	large := []*models.Message{models.NewTextMessage(models.RoleUser, strings.Repeat("x", 50000))}

	smallRatio := ComputeAdaptiveChunkRatio(small, 100000)
	largeRatio := ComputeAdaptiveChunkRatio(large, 100000)
	if largeRatio >= smallRatio {
		t.Errorf("expected large-message ratio (%v) to shrink below small-message ratio (%v)", largeRatio, smallRatio)
	}
	if largeRatio < minChunkRatio {
		t.Errorf("ratio %v fell below the floor %v", largeRatio, minChunkRatio)
	}
}
