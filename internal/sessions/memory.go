package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// MemoryStore is an in-memory Store (spec C1), for tests and local runs.
// Unlike the teacher's original MemoryStore, it never trims history: the
// Session Log is append-only by invariant (spec §4.1 — "it only appends").
type MemoryStore struct {
	mu          sync.RWMutex
	messages    map[string][]*models.Message
	entrySeq    map[string]int64
	compactions map[string]*models.CompactionRecord
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:    make(map[string][]*models.Message),
		entrySeq:    make(map[string]int64),
		compactions: make(map[string]*models.CompactionRecord),
	}
}

func (m *MemoryStore) Append(ctx context.Context, key string, msg *models.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := models.CloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	m.entrySeq[key]++
	clone.EntryID = m.entrySeq[key]
	clone.SessionID = key
	m.messages[key] = append(m.messages[key], clone)
	return clone.EntryID, nil
}

func (m *MemoryStore) Load(ctx context.Context, key string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[key]
	out := make([]*models.Message, 0, len(stored)+1)
	if rec, ok := m.compactions[key]; ok {
		out = append(out, models.NewTextMessage(models.RoleUser, rec.Summary))
		for _, msg := range stored {
			if msg.EntryID >= rec.FirstKeptEntryID {
				out = append(out, models.CloneMessage(msg))
			}
		}
		return out, nil
	}
	for _, msg := range stored {
		out = append(out, models.CloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) AppendCompaction(ctx context.Context, key string, summary string, firstKeptEntryID int64, tokensBefore int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.compactions[key] = &models.CompactionRecord{
		SessionKey:       key,
		Summary:          summary,
		FirstKeptEntryID: firstKeptEntryID,
		TokensBefore:     tokensBefore,
		CreatedAt:        time.Now(),
	}
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.messages))
	for key := range m.messages {
		out = append(out, key)
	}
	return out, nil
}

func (m *MemoryStore) Clear(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.messages, key)
	delete(m.entrySeq, key)
	delete(m.compactions, key)
	return nil
}

func (m *MemoryStore) ResolveMessageEntryID(ctx context.Context, key string, msg *models.Message) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, stored := range m.messages[key] {
		if stored.ID == msg.ID {
			return stored.EntryID, true
		}
	}
	return 0, false
}
