package providers

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/pkg/models"
)

func TestBedrockProvider_Name(t *testing.T) {
	p := &BedrockProvider{defaultModel: "anthropic.claude-3-sonnet-20240229-v1:0"}
	if p.Name() != "bedrock" {
		t.Errorf("Name() = %q, want bedrock", p.Name())
	}
	if !p.SupportsTools() {
		t.Error("expected SupportsTools() to be true")
	}
	if len(p.Models()) == 0 {
		t.Error("expected at least one model")
	}
}

func TestBedrockProvider_ConvertMessages(t *testing.T) {
	p := &BedrockProvider{}

	msgs := []agent.CompletionMessage{
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "hello"},
		{
			Role: "assistant",
			Blocks: []models.ContentBlock{
				models.TextBlock("checking"),
				models.ToolUseBlock("call-1", "search", json.RawMessage(`{"q":"go"}`)),
			},
		},
		{
			Role: "user",
			Blocks: []models.ContentBlock{
				models.ToolResultBlock("call-1", "search", "found it", false),
			},
		},
	}

	result, err := p.convertMessages(msgs)
	if err != nil {
		t.Fatalf("convertMessages failed: %v", err)
	}
	// system message is dropped, leaving 3
	if len(result) != 3 {
		t.Fatalf("got %d messages, want 3", len(result))
	}
}

func TestBedrockProvider_WrapError(t *testing.T) {
	p := &BedrockProvider{}

	if p.wrapError(nil, "m") != nil {
		t.Error("wrapError(nil) should return nil")
	}

	wrapped := p.wrapError(errFake("input is too long for the model"), "m")
	pe, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatal("expected a *ProviderError")
	}
	if pe.Reason != FailoverContextOverflow {
		t.Errorf("Reason = %q, want context_overflow", pe.Reason)
	}
}

func TestBedrockProvider_IsRetryableError(t *testing.T) {
	p := &BedrockProvider{}

	if !p.isRetryableError(errFake("ThrottlingException: rate exceeded")) {
		t.Error("expected ThrottlingException to be retryable")
	}
	if p.isRetryableError(nil) {
		t.Error("nil should not be retryable")
	}
}
