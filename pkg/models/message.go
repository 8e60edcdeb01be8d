package models

import (
	"encoding/json"
	"time"
)

// ChannelType represents a messaging platform a session's transcript may
// have originated from. The core agent loop is channel-agnostic; this is
// carried for the collaborator front-ends in internal/channels.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelAPI      ChannelType = "api"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelSignal   ChannelType = "signal"
	ChannelIMessage ChannelType = "imessage"
	ChannelMatrix   ChannelType = "matrix"
	ChannelTeams    ChannelType = "teams"
	ChannelEmail    ChannelType = "email"
)

// Direction indicates if a message is inbound or outbound on a channel.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role is a message's author type at the transcript level. There is
// deliberately no distinct "tool" role: a tool_result always rides inside a
// user-role message, per the role-alternation invariant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags a ContentBlock variant. The set is closed and small;
// callers are expected to switch on it rather than type-assert an open
// interface hierarchy.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged-union element of a Message's content. Exactly
// the fields relevant to Type are populated; the zero value of the others
// is ignored by consumers.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock constructs a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock constructs a tool_use content block.
func ToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock constructs a tool_result content block. name is the
// originating tool's name, carried for the context pruner's tool-match
// predicate (internal/agent/context.PruneContextMessages).
func ToolResultBlock(toolUseID, name, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Name: name, Content: content, IsError: isError}
}

// Message is one entry in a session's append-only transcript. Content is
// always a sequence of content blocks; a plain-text message is the
// single-element case (one BlockText).
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	EntryID   int64          `json:"entry_id"`
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Text concatenates every text block's content, in order. Most messages
// carry exactly one; assistant messages may interleave text and tool_use
// blocks, in which case this is the joined narration.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	out := ""
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns every tool_use block in the message, in order.
func (m *Message) ToolUses() []ContentBlock {
	if m == nil {
		return nil
	}
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolResults returns every tool_result block in the message, in order.
func (m *Message) ToolResults() []ContentBlock {
	if m == nil {
		return nil
	}
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}

// IsToolResultCarrier reports whether every block in the message is a
// tool_result — the shape the Guard (internal/sessions) and the pruner's
// role-alternation logic treat specially.
func (m *Message) IsToolResultCarrier() bool {
	if m == nil || len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.Type != BlockToolResult {
			return false
		}
	}
	return true
}

// NewTextMessage builds a single-block text message for the given role.
func NewTextMessage(role Role, text string) *Message {
	return &Message{Role: role, Content: []ContentBlock{TextBlock(text)}}
}

// CloneMessage returns a deep copy safe to mutate independently of m,
// matching the copy-on-write discipline the pruner (C6) and guard (C2)
// require of a shared, concurrently-read transcript.
func CloneMessage(m *Message) *Message {
	if m == nil {
		return nil
	}
	clone := *m
	if len(m.Content) > 0 {
		clone.Content = append([]ContentBlock(nil), m.Content...)
	}
	if len(m.Metadata) > 0 {
		clone.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// CompactionRecord marks a point at which a run of messages was replaced by
// a summary. It is stored alongside the transcript, never inline in it; the
// summary message is materialized on load by prepending it to the pruned
// history (see internal/sessions and internal/compaction).
type CompactionRecord struct {
	SessionKey       string    `json:"session_key"`
	Summary          string    `json:"summary"`
	FirstKeptEntryID int64     `json:"first_kept_entry_id"`
	TokensBefore     int       `json:"tokens_before"`
	CreatedAt        time.Time `json:"created_at"`
}

// Attachment represents a file or media attachment on an inbound channel
// message, before it is folded into a Message's content blocks.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Session represents a conversation transcript, identified by a normalized
// key of the shape agent:<agentId>:<tail>.
type Session struct {
	Key       string         `json:"key"`
	AgentID   string         `json:"agent_id"`
	Channel   ChannelType    `json:"channel,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// User represents an authenticated user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent represents a configured AI agent.
type Agent struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Name         string         `json:"name"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Tools        []string       `json:"tools,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// APIKey represents an API key for programmatic access.
type APIKey struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Prefix     string    `json:"prefix"` // First 8 chars for identification
	Scopes     []string  `json:"scopes,omitempty"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
