package sessions

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestMemoryStore_AppendAssignsMonotonicEntryIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "agent:a1:main"

	id1, err := store.Append(ctx, key, models.NewTextMessage(models.RoleUser, "hi"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	id2, err := store.Append(ctx, key, models.NewTextMessage(models.RoleAssistant, "hello"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if id1 != 1 || id2 != 2 {
		t.Fatalf("entry ids = %d, %d, want 1, 2", id1, id2)
	}

	loaded, err := store.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load() returned %d messages, want 2", len(loaded))
	}
}

func TestMemoryStore_NeverTrimsHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "agent:a1:main"

	const n = 2000
	for i := 0; i < n; i++ {
		if _, err := store.Append(ctx, key, models.NewTextMessage(models.RoleUser, "x")); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	loaded, err := store.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != n {
		t.Fatalf("Load() returned %d messages, want %d — the log must never trim", len(loaded), n)
	}
}

func TestMemoryStore_LoadMaterializesCompactionSummary(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "agent:a1:main"

	store.Append(ctx, key, models.NewTextMessage(models.RoleUser, "first"))
	keptID, _ := store.Append(ctx, key, models.NewTextMessage(models.RoleUser, "second"))
	store.Append(ctx, key, models.NewTextMessage(models.RoleUser, "third"))

	if err := store.AppendCompaction(ctx, key, "SUMMARY", keptID, 500); err != nil {
		t.Fatalf("AppendCompaction() error = %v", err)
	}

	loaded, err := store.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("Load() returned %d messages, want 3 (summary + 2 kept)", len(loaded))
	}
	if loaded[0].Text() != "SUMMARY" {
		t.Errorf("first message = %q, want materialized summary", loaded[0].Text())
	}
	if loaded[1].Text() != "second" || loaded[2].Text() != "third" {
		t.Errorf("kept messages = %q, %q, want second, third", loaded[1].Text(), loaded[2].Text())
	}
}

func TestMemoryStore_ClearRemovesMessagesAndCompaction(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "agent:a1:main"

	store.Append(ctx, key, models.NewTextMessage(models.RoleUser, "hi"))
	if err := store.Clear(ctx, key); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	loaded, err := store.Load(ctx, key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("Load() after Clear() returned %d messages, want 0", len(loaded))
	}
}

func TestMemoryStore_ResolveMessageEntryID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "agent:a1:main"

	msg := models.NewTextMessage(models.RoleUser, "hi")
	msg.ID = "fixed-id"
	wantID, _ := store.Append(ctx, key, msg)

	gotID, ok := store.ResolveMessageEntryID(ctx, key, msg)
	if !ok || gotID != wantID {
		t.Errorf("ResolveMessageEntryID() = (%d, %v), want (%d, true)", gotID, ok, wantID)
	}
}

func TestMemoryStore_ListReturnsKnownKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Append(ctx, "agent:a1:main", models.NewTextMessage(models.RoleUser, "hi"))
	store.Append(ctx, "agent:a1:subagent:x", models.NewTextMessage(models.RoleUser, "hi"))

	keys, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("List() returned %d keys, want 2", len(keys))
	}
}
