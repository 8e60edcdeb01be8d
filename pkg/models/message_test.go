package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestChannelType_Constants(t *testing.T) {
	tests := []struct {
		constant ChannelType
		expected string
	}{
		{ChannelTelegram, "telegram"},
		{ChannelDiscord, "discord"},
		{ChannelSlack, "slack"},
		{ChannelAPI, "api"},
		{ChannelWhatsApp, "whatsapp"},
		{ChannelSignal, "signal"},
		{ChannelIMessage, "imessage"},
		{ChannelMatrix, "matrix"},
		{ChannelTeams, "teams"},
		{ChannelEmail, "email"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestDirection_Constants(t *testing.T) {
	if string(DirectionInbound) != "inbound" {
		t.Errorf("DirectionInbound = %q, want %q", DirectionInbound, "inbound")
	}
	if string(DirectionOutbound) != "outbound" {
		t.Errorf("DirectionOutbound = %q, want %q", DirectionOutbound, "outbound")
	}
}

func TestRole_Constants(t *testing.T) {
	if string(RoleUser) != "user" {
		t.Errorf("RoleUser = %q, want %q", RoleUser, "user")
	}
	if string(RoleAssistant) != "assistant" {
		t.Errorf("RoleAssistant = %q, want %q", RoleAssistant, "assistant")
	}
}

func TestMessage_TextConcatenatesTextBlocksOnly(t *testing.T) {
	msg := &Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			TextBlock("hello "),
			ToolUseBlock("t1", "list", json.RawMessage(`{}`)),
			TextBlock("world"),
		},
	}
	if got := msg.Text(); got != "hello world" {
		t.Errorf("Text() = %q, want %q", got, "hello world")
	}
}

func TestMessage_ToolUsesAndToolResults(t *testing.T) {
	msg := &Message{
		Role: RoleUser,
		Content: []ContentBlock{
			ToolResultBlock("t1", "list", "a\nb", false),
			ToolResultBlock("t2", "grep", "", true),
		},
	}
	if len(msg.ToolUses()) != 0 {
		t.Errorf("ToolUses() = %d entries, want 0", len(msg.ToolUses()))
	}
	results := msg.ToolResults()
	if len(results) != 2 {
		t.Fatalf("ToolResults() = %d entries, want 2", len(results))
	}
	if !results[1].IsError {
		t.Error("second tool_result should be an error")
	}
	if !msg.IsToolResultCarrier() {
		t.Error("IsToolResultCarrier() = false, want true")
	}
}

func TestMessage_IsToolResultCarrierFalseWhenMixed(t *testing.T) {
	msg := &Message{
		Role: RoleUser,
		Content: []ContentBlock{
			TextBlock("hi"),
			ToolResultBlock("t1", "list", "a", false),
		},
	}
	if msg.IsToolResultCarrier() {
		t.Error("IsToolResultCarrier() = true, want false for mixed content")
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := &Message{
		ID:        "msg-123",
		SessionID: "session-456",
		EntryID:   7,
		Role:      RoleAssistant,
		Content: []ContentBlock{
			TextBlock("Hello!"),
			ToolUseBlock("tc-1", "search", json.RawMessage(`{"q":"test"}`)),
		},
		Metadata:  map[string]any{"source": "test"},
		CreatedAt: now,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
	}
	if len(decoded.Content) != 2 {
		t.Fatalf("Content length = %d, want 2", len(decoded.Content))
	}
	if decoded.Content[1].Type != BlockToolUse || decoded.Content[1].Name != "search" {
		t.Errorf("Content[1] = %+v, want tool_use search", decoded.Content[1])
	}
}

func TestCloneMessage_DeepCopiesContentAndMetadata(t *testing.T) {
	original := &Message{
		Role:     RoleUser,
		Content:  []ContentBlock{TextBlock("hi")},
		Metadata: map[string]any{"k": "v"},
	}
	clone := CloneMessage(original)
	clone.Content[0].Text = "mutated"
	clone.Metadata["k"] = "mutated"

	if original.Content[0].Text != "hi" {
		t.Errorf("original content mutated: %q", original.Content[0].Text)
	}
	if original.Metadata["k"] != "v" {
		t.Errorf("original metadata mutated: %v", original.Metadata["k"])
	}
}

func TestNewTextMessage(t *testing.T) {
	msg := NewTextMessage(RoleUser, "hi there")
	if msg.Role != RoleUser {
		t.Errorf("Role = %v, want %v", msg.Role, RoleUser)
	}
	if msg.Text() != "hi there" {
		t.Errorf("Text() = %q, want %q", msg.Text(), "hi there")
	}
}

func TestAttachment_Struct(t *testing.T) {
	att := Attachment{
		ID:       "att-123",
		Type:     "image",
		URL:      "http://example.com/image.png",
		Filename: "image.png",
		MimeType: "image/png",
		Size:     1024,
	}

	if att.ID != "att-123" {
		t.Errorf("ID = %q, want %q", att.ID, "att-123")
	}
	if att.Size != 1024 {
		t.Errorf("Size = %d, want 1024", att.Size)
	}
}

func TestSession_Struct(t *testing.T) {
	now := time.Now()
	session := Session{
		Key:       "agent:a1:main",
		AgentID:   "agent-456",
		Channel:   ChannelDiscord,
		ChannelID: "discord-channel",
		Title:     "Test Session",
		Metadata:  map[string]any{"test": true},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if session.Key != "agent:a1:main" {
		t.Errorf("Key = %q, want %q", session.Key, "agent:a1:main")
	}
	if session.Channel != ChannelDiscord {
		t.Errorf("Channel = %v, want %v", session.Channel, ChannelDiscord)
	}
}

func TestUser_Struct(t *testing.T) {
	now := time.Now()
	user := User{
		ID:        "user-123",
		Email:     "test@example.com",
		Name:      "Test User",
		AvatarURL: "http://example.com/avatar.png",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if user.ID != "user-123" {
		t.Errorf("ID = %q, want %q", user.ID, "user-123")
	}
	if user.Email != "test@example.com" {
		t.Errorf("Email = %q, want %q", user.Email, "test@example.com")
	}
}

func TestAgent_Struct(t *testing.T) {
	now := time.Now()
	agent := Agent{
		ID:           "agent-123",
		UserID:       "user-456",
		Name:         "Test Agent",
		SystemPrompt: "You are a helpful assistant.",
		Model:        "gpt-4",
		Provider:     "openai",
		Tools:        []string{"web_search", "calculator"},
		Config:       map[string]any{"temperature": 0.7},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if agent.ID != "agent-123" {
		t.Errorf("ID = %q, want %q", agent.ID, "agent-123")
	}
	if len(agent.Tools) != 2 {
		t.Errorf("Tools length = %d, want 2", len(agent.Tools))
	}
}

func TestAPIKey_Struct(t *testing.T) {
	now := time.Now()
	apiKey := APIKey{
		ID:         "key-123",
		UserID:     "user-456",
		Name:       "Test API Key",
		Prefix:     "nxs_1234",
		Scopes:     []string{"read", "write"},
		LastUsedAt: now,
		ExpiresAt:  now.Add(24 * time.Hour),
		CreatedAt:  now,
	}

	if apiKey.ID != "key-123" {
		t.Errorf("ID = %q, want %q", apiKey.ID, "key-123")
	}
	if len(apiKey.Scopes) != 2 {
		t.Errorf("Scopes length = %d, want 2", len(apiKey.Scopes))
	}
}
