package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends
// (spec §6: "consumed, not defined here" — the core only requires this
// shape). Implementations handle the specifics of communicating with a
// given wire API while presenting a unified streaming interface to the
// turn loop.
//
// Thread Safety: implementations must be safe for concurrent use. Multiple
// goroutines may call Complete() simultaneously for different runs.
type LLMProvider interface {
	// Complete sends a request and returns a channel of streaming chunks.
	// The channel is closed after a chunk with Done=true or Error != nil.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name (e.g. "anthropic", "openai", "bedrock").
	Name() string

	// Models returns the models this provider exposes.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionMessage represents one message of conversation history handed
// to a provider. Content is the flattened text (used by the router's
// classification heuristics); Blocks carries the full tagged-union content
// so a provider can reconstruct tool_use/tool_result structure on the wire.
type CompletionMessage struct {
	Role    string                `json:"role"`
	Content string                `json:"content,omitempty"`
	Blocks  []models.ContentBlock `json:"blocks,omitempty"`
}

// ToCompletionMessages flattens session messages into the provider-facing
// shape, grounded on internal/compaction/compactor.go's toEngineMessages.
func ToCompletionMessages(messages []*models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		out = append(out, CompletionMessage{
			Role:    string(m.Role),
			Content: m.Text(),
			Blocks:  m.Content,
		})
	}
	return out
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	Model                string              `json:"model"`
	System               string              `json:"system,omitempty"`
	Messages             []CompletionMessage `json:"messages"`
	Tools                []Tool              `json:"tools,omitempty"`
	MaxTokens            int                 `json:"max_tokens,omitempty"`
	Temperature          float64             `json:"temperature,omitempty"`
	EnableThinking       bool                `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int                 `json:"thinking_budget_tokens,omitempty"`
}

// ToolCallRequest is a complete tool invocation the model asked for
// (spec §6's streamFn "toolcall_end{toolCall{id,name,arguments}}").
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
// It models the spec's three relevant wire events: a non-empty Text is a
// text_delta, ToolCall != nil is a toolcall_end, and Done signals the
// implicit text_end (the loop accumulates deltas itself).
type CompletionChunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCall     *ToolCallRequest `json:"tool_call,omitempty"`
	Done         bool             `json:"done,omitempty"`
	Error        error            `json:"-"`
	Thinking     string           `json:"thinking,omitempty"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Tool defines the interface for executable agent tools.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution. Errors are
// communicated via IsError=true rather than a returned error, so the LLM
// always sees a tool_result string it can reason about (spec §7
// disposition 4: "Tool execution errors become tool_result content
// strings, never thrown into the loop").
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
