package sessions

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/nexus/pkg/models"
)

// SyntheticErrorContent is the fixed placeholder content the Guard installs
// for any tool_use block left without a matching tool_result (spec §4.2).
const SyntheticErrorContent = "Tool execution did not complete: no result was recorded before the run ended."

// GuardStore decorates a Store, maintaining the tool_use/tool_result
// pairing invariant (spec P1) by synthesizing placeholder results for any
// tool_use left pending across an append. One GuardStore may be shared by
// many sessions; each session key gets its own pending map, so installing
// the guard is idempotent per underlying Store instance.
type GuardStore struct {
	inner Store

	mu      sync.Mutex
	pending map[string]map[string]string // key -> toolUseID -> toolName
}

// NewGuardStore wraps inner with the pairing-invariant guard.
func NewGuardStore(inner Store) *GuardStore {
	return &GuardStore{inner: inner, pending: make(map[string]map[string]string)}
}

// Append maintains the pending map around a normal append:
//   - a tool_result carrier clears matching pending ids, then forwards
//   - a non-tool_result-carrier append, when pending is non-empty, is
//     preceded by a synthesized tool_result message for every still-pending id
//   - an assistant message with new tool_use blocks adds them to pending
//     after the append completes
func (g *GuardStore) Append(ctx context.Context, key string, msg *models.Message) (int64, error) {
	g.mu.Lock()
	p := g.pendingFor(key)

	if msg.IsToolResultCarrier() {
		for _, tr := range msg.ToolResults() {
			delete(p, tr.ToolUseID)
		}
		g.mu.Unlock()
		return g.inner.Append(ctx, key, msg)
	}

	if len(p) > 0 {
		synthetic := synthesizeToolResults(p)
		g.mu.Unlock()
		if _, err := g.inner.Append(ctx, key, synthetic); err != nil {
			return 0, fmt.Errorf("sessions: guard synthesize pending results: %w", err)
		}
		g.mu.Lock()
		for id := range p {
			delete(p, id)
		}
	}
	g.mu.Unlock()

	entryID, err := g.inner.Append(ctx, key, msg)
	if err != nil {
		return 0, err
	}

	if msg.Role == models.RoleAssistant {
		if uses := msg.ToolUses(); len(uses) > 0 {
			g.mu.Lock()
			p := g.pendingFor(key)
			for _, tu := range uses {
				p[tu.ID] = tu.Name
			}
			g.mu.Unlock()
		}
	}

	return entryID, nil
}

// FlushPending must be called on run termination (success, error, or
// cancellation): it appends one user message listing synthetic results for
// any ids still pending, satisfying P1 even when the run never reaches a
// natural checkpoint (spec §4.2, S6).
func (g *GuardStore) FlushPending(ctx context.Context, key string) error {
	g.mu.Lock()
	p := g.pendingFor(key)
	if len(p) == 0 {
		g.mu.Unlock()
		return nil
	}
	synthetic := synthesizeToolResults(p)
	for id := range p {
		delete(p, id)
	}
	g.mu.Unlock()

	_, err := g.inner.Append(ctx, key, synthetic)
	return err
}

func (g *GuardStore) pendingFor(key string) map[string]string {
	p, ok := g.pending[key]
	if !ok {
		p = make(map[string]string)
		g.pending[key] = p
	}
	return p
}

func synthesizeToolResults(pending map[string]string) *models.Message {
	blocks := make([]models.ContentBlock, 0, len(pending))
	for id, name := range pending {
		blocks = append(blocks, models.ToolResultBlock(id, name, SyntheticErrorContent, true))
	}
	return &models.Message{Role: models.RoleUser, Content: blocks}
}

func (g *GuardStore) Load(ctx context.Context, key string) ([]*models.Message, error) {
	return g.inner.Load(ctx, key)
}

func (g *GuardStore) AppendCompaction(ctx context.Context, key string, summary string, firstKeptEntryID int64, tokensBefore int) error {
	return g.inner.AppendCompaction(ctx, key, summary, firstKeptEntryID, tokensBefore)
}

func (g *GuardStore) List(ctx context.Context) ([]string, error) {
	return g.inner.List(ctx)
}

func (g *GuardStore) Clear(ctx context.Context, key string) error {
	g.mu.Lock()
	delete(g.pending, key)
	g.mu.Unlock()
	return g.inner.Clear(ctx, key)
}

func (g *GuardStore) ResolveMessageEntryID(ctx context.Context, key string, msg *models.Message) (int64, bool) {
	return g.inner.ResolveMessageEntryID(ctx, key, msg)
}

var _ Store = (*GuardStore)(nil)
