// Package sessions implements the Session Log (spec C1) — an append-only
// per-session message transcript with entry IDs and compaction markers —
// and the Tool-Result Guard (C2) that decorates it.
package sessions

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Store is the Session Log's interface (spec §4.1). Implementations must
// make Append durable-before-return for the caller's crash model, and must
// never rewrite or compact history themselves — that is the Compactor's
// (C7) job, recorded here only as a boundary marker via AppendCompaction.
type Store interface {
	// Append atomically appends msg to key's transcript and returns the
	// assigned monotonic entry id.
	Append(ctx context.Context, key string, msg *models.Message) (entryID int64, err error)

	// Load reads the whole transcript for key, including the materialized
	// compaction summary message (if a compaction record exists) prepended
	// to the kept history.
	Load(ctx context.Context, key string) ([]*models.Message, error)

	// AppendCompaction records a compaction boundary: summary text, the
	// first entry id preserved after compaction, and the pre-compaction
	// token estimate.
	AppendCompaction(ctx context.Context, key string, summary string, firstKeptEntryID int64, tokensBefore int) error

	// List returns every known session key.
	List(ctx context.Context) ([]string, error)

	// Clear removes a session's entire transcript and compaction record.
	Clear(ctx context.Context, key string) error

	// ResolveMessageEntryID returns the entry id assigned to msg, if it is
	// part of key's transcript.
	ResolveMessageEntryID(ctx context.Context, key string, msg *models.Message) (entryID int64, ok bool)
}

// sessionKeyPattern matches agent:<agentId>:<tail> where <tail> is "main",
// a caller-supplied id, or "subagent:<uuid>".
var sessionKeyPattern = regexp.MustCompile(`^agent:[^:]+:(main|subagent:[0-9a-fA-F-]{36}|[^:]+)$`)

// NormalizeSessionKey validates and, if given a bare sessionID instead of a
// full key, builds the "agent:<agentId>:<tail>" form (spec §3, §4.8). If
// both sessionKey and sessionID are empty, it defaults to
// "agent:<agentId>:main".
func NormalizeSessionKey(agentID, sessionKey, sessionID string) (string, error) {
	if sessionKey != "" {
		if !sessionKeyPattern.MatchString(sessionKey) {
			return "", fmt.Errorf("sessions: ill-formed session key %q", sessionKey)
		}
		return sessionKey, nil
	}
	if sessionID != "" {
		return fmt.Sprintf("agent:%s:%s", agentID, sessionID), nil
	}
	return fmt.Sprintf("agent:%s:main", agentID), nil
}

// NewSubagentKey builds a child session key for a subagent spawned from a
// parent with the given agent id.
func NewSubagentKey(agentID string) string {
	return fmt.Sprintf("agent:%s:subagent:%s", agentID, uuid.NewString())
}

// IsSubagentKey reports whether key names a subagent session.
func IsSubagentKey(key string) bool {
	parts := strings.SplitN(key, ":", 3)
	return len(parts) == 3 && strings.HasPrefix(parts[2], "subagent:")
}

// IsMainKey reports whether key names the default "main" session for its
// agent.
func IsMainKey(key string) bool {
	parts := strings.SplitN(key, ":", 3)
	return len(parts) == 3 && parts[2] == "main"
}
