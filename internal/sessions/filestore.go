package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// record is one line of a session's NDJSON file.
type record struct {
	Kind       string                   `json:"kind"` // "message" | "compaction"
	Message    *models.Message          `json:"message,omitempty"`
	Compaction *models.CompactionRecord `json:"compaction,omitempty"`
}

// FileStore is a newline-delimited-JSON Store (spec §6 "Session storage
// layout"): one file per session, one record per line, append-only. The
// compaction boundary is written as a record in the same file rather than a
// sidecar, simplifying the crash-recovery story to "read lines, tolerate a
// partial last line".
type FileStore struct {
	dir string

	mu       sync.Mutex
	entrySeq map[string]int64
}

// NewFileStore constructs a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessions: create session dir: %w", err)
	}
	return &FileStore{dir: dir, entrySeq: make(map[string]int64)}, nil
}

func (f *FileStore) pathFor(key string) string {
	safe := strings.NewReplacer(":", "_", "/", "_").Replace(key)
	return filepath.Join(f.dir, safe+".ndjson")
}

func (f *FileStore) Append(ctx context.Context, key string, msg *models.Message) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := models.CloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	f.entrySeq[key]++
	clone.EntryID = f.entrySeq[key]
	clone.SessionID = key

	if err := f.appendRecord(key, record{Kind: "message", Message: clone}); err != nil {
		return 0, err
	}
	return clone.EntryID, nil
}

func (f *FileStore) AppendCompaction(ctx context.Context, key string, summary string, firstKeptEntryID int64, tokensBefore int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendRecord(key, record{Kind: "compaction", Compaction: &models.CompactionRecord{
		SessionKey:       key,
		Summary:          summary,
		FirstKeptEntryID: firstKeptEntryID,
		TokensBefore:     tokensBefore,
	}})
}

// appendRecord opens the file in append mode, writes one JSON line, and
// fsyncs before returning — durable-before-return, per spec §4.1.
func (f *FileStore) appendRecord(key string, r record) error {
	fh, err := os.OpenFile(f.pathFor(key), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("sessions: open session file: %w", err)
	}
	defer fh.Close()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("sessions: marshal record: %w", err)
	}
	if _, err := fh.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("sessions: write record: %w", err)
	}
	return fh.Sync()
}

func (f *FileStore) Load(ctx context.Context, key string) ([]*models.Message, error) {
	fh, err := os.Open(f.pathFor(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: open session file: %w", err)
	}
	defer fh.Close()

	var all []*models.Message
	var lastCompaction *models.CompactionRecord

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		// Tolerate a partial last-line write (crash mid-append): a
		// truncated JSON line fails to unmarshal and is simply dropped.
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		switch r.Kind {
		case "message":
			if r.Message != nil {
				all = append(all, r.Message)
			}
		case "compaction":
			lastCompaction = r.Compaction
		}
	}

	if lastCompaction == nil {
		return all, nil
	}
	out := make([]*models.Message, 0, len(all)+1)
	out = append(out, models.NewTextMessage(models.RoleUser, lastCompaction.Summary))
	for _, msg := range all {
		if msg.EntryID >= lastCompaction.FirstKeptEntryID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (f *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("sessions: list session dir: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ndjson") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".ndjson")
		keys = append(keys, strings.NewReplacer("_", ":").Replace(name))
	}
	return keys, nil
}

func (f *FileStore) Clear(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entrySeq, key)
	err := os.Remove(f.pathFor(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileStore) ResolveMessageEntryID(ctx context.Context, key string, msg *models.Message) (int64, bool) {
	all, err := f.Load(ctx, key)
	if err != nil {
		return 0, false
	}
	for _, m := range all {
		if m.ID == msg.ID {
			return m.EntryID, true
		}
	}
	return 0, false
}

var _ Store = (*FileStore)(nil)
