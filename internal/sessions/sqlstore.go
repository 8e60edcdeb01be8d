package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/pkg/models"
)

// SQLStore is a database/sql-backed Store, for deployments that already run
// Postgres (github.com/lib/pq) or SQLite (modernc.org/sqlite,
// github.com/mattn/go-sqlite3) for other state. Schema:
//
//	CREATE TABLE session_messages (
//	    session_key TEXT NOT NULL,
//	    entry_id    BIGINT NOT NULL,
//	    message_id  TEXT NOT NULL,
//	    role        TEXT NOT NULL,
//	    content     TEXT NOT NULL, -- JSON-encoded []models.ContentBlock
//	    metadata    TEXT,          -- JSON-encoded map[string]any
//	    created_at  TIMESTAMP NOT NULL,
//	    PRIMARY KEY (session_key, entry_id)
//	);
//	CREATE TABLE session_compactions (
//	    session_key         TEXT PRIMARY KEY,
//	    summary             TEXT NOT NULL,
//	    first_kept_entry_id BIGINT NOT NULL,
//	    tokens_before       INTEGER NOT NULL,
//	    created_at          TIMESTAMP NOT NULL
//	);
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-open *sql.DB. The caller owns migrations and
// the connection's lifecycle (mirrors DBLocker's constructor contract).
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sessions: db is required")
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Append(ctx context.Context, key string, msg *models.Message) (int64, error) {
	clone := models.CloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}

	content, err := json.Marshal(clone.Content)
	if err != nil {
		return 0, fmt.Errorf("sessions: marshal content: %w", err)
	}
	metadata, err := json.Marshal(clone.Metadata)
	if err != nil {
		return 0, fmt.Errorf("sessions: marshal metadata: %w", err)
	}

	var entryID int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO session_messages (session_key, entry_id, message_id, role, content, metadata, created_at)
		VALUES ($1, COALESCE((SELECT MAX(entry_id) FROM session_messages WHERE session_key = $1), 0) + 1, $2, $3, $4, $5, $6)
		RETURNING entry_id
	`, key, clone.ID, string(clone.Role), string(content), string(metadata), clone.CreatedAt).Scan(&entryID)
	if err != nil {
		return 0, fmt.Errorf("sessions: insert message: %w", err)
	}
	return entryID, nil
}

func (s *SQLStore) AppendCompaction(ctx context.Context, key string, summary string, firstKeptEntryID int64, tokensBefore int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_compactions (session_key, summary, first_kept_entry_id, tokens_before, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_key) DO UPDATE
		SET summary = EXCLUDED.summary,
		    first_kept_entry_id = EXCLUDED.first_kept_entry_id,
		    tokens_before = EXCLUDED.tokens_before,
		    created_at = EXCLUDED.created_at
	`, key, summary, firstKeptEntryID, tokensBefore, time.Now())
	if err != nil {
		return fmt.Errorf("sessions: upsert compaction: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, key string) ([]*models.Message, error) {
	var (
		summary          sql.NullString
		firstKeptEntryID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT summary, first_kept_entry_id FROM session_compactions WHERE session_key = $1
	`, key).Scan(&summary, &firstKeptEntryID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("sessions: load compaction: %w", err)
	}

	query := `SELECT entry_id, message_id, role, content, metadata, created_at FROM session_messages WHERE session_key = $1`
	args := []any{key}
	if summary.Valid {
		query += ` AND entry_id >= $2`
		args = append(args, firstKeptEntryID.Int64)
	}
	query += ` ORDER BY entry_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: query messages: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	if summary.Valid {
		out = append(out, models.NewTextMessage(models.RoleUser, summary.String))
	}
	for rows.Next() {
		var (
			entryID       int64
			messageID     string
			role          string
			content, meta sql.NullString
			createdAt     time.Time
		)
		if err := rows.Scan(&entryID, &messageID, &role, &content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("sessions: scan message: %w", err)
		}
		msg := &models.Message{
			ID:        messageID,
			SessionID: key,
			EntryID:   entryID,
			Role:      models.Role(role),
			CreatedAt: createdAt,
		}
		if content.Valid {
			if err := json.Unmarshal([]byte(content.String), &msg.Content); err != nil {
				return nil, fmt.Errorf("sessions: unmarshal content: %w", err)
			}
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("sessions: unmarshal metadata: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_key FROM session_messages`)
	if err != nil {
		return nil, fmt.Errorf("sessions: list session keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sessions: scan session key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (s *SQLStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_messages WHERE session_key = $1`, key); err != nil {
		return fmt.Errorf("sessions: delete messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_compactions WHERE session_key = $1`, key); err != nil {
		return fmt.Errorf("sessions: delete compaction: %w", err)
	}
	return nil
}

func (s *SQLStore) ResolveMessageEntryID(ctx context.Context, key string, msg *models.Message) (int64, bool) {
	var entryID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT entry_id FROM session_messages WHERE session_key = $1 AND message_id = $2
	`, key, msg.ID).Scan(&entryID)
	if err != nil {
		return 0, false
	}
	return entryID, true
}

var _ Store = (*SQLStore)(nil)
