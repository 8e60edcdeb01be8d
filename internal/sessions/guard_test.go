package sessions

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestGuardStore_SynthesizesMissingResultOnFlush(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	guard := NewGuardStore(inner)
	key := "agent:a1:main"

	assistant := &models.Message{
		Role:    models.RoleAssistant,
		Content: []models.ContentBlock{models.ToolUseBlock("t1", "list", nil)},
	}
	if _, err := guard.Append(ctx, key, assistant); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if err := guard.FlushPending(ctx, key); err != nil {
		t.Fatalf("FlushPending() error = %v", err)
	}

	loaded, err := guard.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load() returned %d messages, want 2", len(loaded))
	}
	results := loaded[1].ToolResults()
	if len(results) != 1 || results[0].ToolUseID != "t1" || !results[0].IsError {
		t.Fatalf("synthesized result = %+v, want one error result for t1", results)
	}
}

func TestGuardStore_RealResultClearsPending(t *testing.T) {
	ctx := context.Background()
	guard := NewGuardStore(NewMemoryStore())
	key := "agent:a1:main"

	assistant := &models.Message{
		Role:    models.RoleAssistant,
		Content: []models.ContentBlock{models.ToolUseBlock("t1", "list", nil)},
	}
	guard.Append(ctx, key, assistant)

	result := &models.Message{
		Role:    models.RoleUser,
		Content: []models.ContentBlock{models.ToolResultBlock("t1", "list", "a\nb", false)},
	}
	guard.Append(ctx, key, result)

	// Nothing pending now, so the next append should not be preceded by a
	// synthetic message.
	guard.Append(ctx, key, models.NewTextMessage(models.RoleAssistant, "done"))

	loaded, _ := guard.Load(ctx, key)
	if len(loaded) != 3 {
		t.Fatalf("Load() returned %d messages, want 3 (no synthetic insertion)", len(loaded))
	}
}

func TestGuardStore_InsertsSyntheticBeforeNonResultAppend(t *testing.T) {
	ctx := context.Background()
	guard := NewGuardStore(NewMemoryStore())
	key := "agent:a1:main"

	assistant := &models.Message{
		Role: models.RoleAssistant,
		Content: []models.ContentBlock{
			models.ToolUseBlock("t1", "list", nil),
			models.ToolUseBlock("t2", "grep", nil),
		},
	}
	guard.Append(ctx, key, assistant)

	// Only t1 gets a real result; t2 is abandoned, then a plain user
	// message arrives (simulating a new turn starting without flush).
	guard.Append(ctx, key, &models.Message{
		Role:    models.RoleUser,
		Content: []models.ContentBlock{models.ToolResultBlock("t1", "list", "ok", false)},
	})
	guard.Append(ctx, key, models.NewTextMessage(models.RoleUser, "next turn"))

	loaded, _ := guard.Load(ctx, key)
	if len(loaded) != 4 {
		t.Fatalf("Load() returned %d messages, want 4 (assistant, t1 result, synthetic t2, next turn)", len(loaded))
	}
	synthetic := loaded[2].ToolResults()
	if len(synthetic) != 1 || synthetic[0].ToolUseID != "t2" || !synthetic[0].IsError {
		t.Fatalf("synthetic message = %+v, want one error result for t2", synthetic)
	}
}
