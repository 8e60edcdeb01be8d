package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ToolExecConfig configures tool execution behavior including per-tool
// timeout and retry settings. The turn loop (C5) executes tool calls
// serially (spec §4.5); this type has no concurrency knob because the
// core never runs two tool calls from the same turn at once.
type ToolExecConfig struct {
	// PerToolTimeout is the timeout for an individual tool execution.
	// Default: 30 seconds.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call (default 1).
	MaxAttempts int

	// RetryBackoff waits between retries.
	RetryBackoff time.Duration
}

// DefaultToolExecConfig returns sensible defaults: one attempt, 30 second
// per-tool timeout, no retry backoff.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
	}
}

// ToolExecutor runs tool_use content blocks against a ToolRegistry with
// per-call timeout and retry handling.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
}

// NewToolExecutor creates a new tool executor with the given registry and
// configuration. Zero fields in config are replaced with defaults.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &ToolExecutor{registry: registry, config: config}
}

// ToolExecResult is the outcome of one tool_use execution: the originating
// call block and the tool_result block it produced.
type ToolExecResult struct {
	Call      models.ContentBlock
	Result    models.ContentBlock
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// ExecuteSequentially runs tool_use blocks one at a time, in order — the
// only execution mode the turn loop uses (spec §4.5, §5: "tool calls
// execute in the order the LLM emitted them"). Results are returned in
// the same order as the input calls.
func (e *ToolExecutor) ExecuteSequentially(ctx context.Context, calls []models.ContentBlock) []ToolExecResult {
	results := make([]ToolExecResult, len(calls))

	for i, call := range calls {
		startTime := time.Now()
		maxAttempts := e.config.MaxAttempts
		var result models.ContentBlock
		var timedOut bool

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
			toolCtx = observability.AddToolCallID(toolCtx, call.ID)
			result, timedOut = e.executeWithTimeout(toolCtx, call)
			cancel()

			if !result.IsError {
				break
			}
			if attempt < maxAttempts {
				if e.config.RetryBackoff > 0 {
					select {
					case <-time.After(e.config.RetryBackoff):
					case <-ctx.Done():
						result = models.ToolResultBlock(call.ID, call.Name, "tool execution canceled", true)
					}
				}
				if ctx.Err() != nil {
					break
				}
			}
		}

		results[i] = ToolExecResult{
			Call:      call,
			Result:    result,
			StartTime: startTime,
			EndTime:   time.Now(),
			TimedOut:  timedOut,
		}
	}

	return results
}

func (e *ToolExecutor) executeWithTimeout(ctx context.Context, call models.ContentBlock) (models.ContentBlock, bool) {
	type execResult struct {
		result *ToolResult
		err    error
	}
	resultChan := make(chan execResult, 1)

	go func() {
		result, err := e.registry.Execute(ctx, call.Name, call.Input)
		select {
		case resultChan <- execResult{result: result, err: err}:
		default:
			runID := observability.GetRunID(ctx)
			sessionID := observability.GetSessionID(ctx)
			slog.Warn(
				"tool execution completed after timeout, result discarded",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"run_id", runID,
				"session_id", sessionID,
			)
		}
	}()

	select {
	case <-ctx.Done():
		var content string
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		if timedOut {
			content = fmt.Sprintf("tool execution timed out after %v", e.config.PerToolTimeout)
		} else {
			content = "tool execution canceled"
		}
		return models.ToolResultBlock(call.ID, call.Name, content, true), timedOut
	case res := <-resultChan:
		if res.err != nil {
			return models.ToolResultBlock(call.ID, call.Name, res.err.Error(), true), false
		}
		return models.ToolResultBlock(call.ID, call.Name, res.result.Content, res.result.IsError), false
	}
}
