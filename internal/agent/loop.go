package agent

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/agent/events"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/compaction"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Turn loop defaults (spec §4.5).
const (
	DefaultMaxTurns           = 20
	DefaultContextWindow      = compaction.DefaultContextWindow
	retryMaxAttempts          = 3
	retryBaseDelay            = 300 * time.Millisecond
	retryCapDelay             = 30 * time.Second
	retryJitterFraction       = 0.1
)

// LoopConfig wires the Turn Loop's collaborators: the provider it talks to,
// the session log it appends to, the tools it may invoke, and the pruning
// and summarization policies it applies between LLM calls.
type LoopConfig struct {
	Provider    LLMProvider
	Store       sessions.Store
	Registry    *ToolRegistry
	ToolExec    ToolExecConfig
	Pruning     agentctx.ContextPruningSettings
	Summarize   compaction.SummarizeFunc
}

// Loop drives one session's turn-by-turn conversation with an LLM provider,
// implementing the outer follow-up loop and inner tool/steering loop of
// spec §4.5. A Loop is stateless across runs; all mutable state lives in
// the per-run loopState built by Run.
type Loop struct {
	provider  LLMProvider
	store     sessions.Store
	registry  *ToolRegistry
	toolExec  *ToolExecutor
	pruning   agentctx.ContextPruningSettings
	summarize compaction.SummarizeFunc
}

// NewLoop constructs a Loop from its collaborators. Zero-value ToolExec in
// cfg falls back to DefaultToolExecConfig.
func NewLoop(cfg LoopConfig) *Loop {
	return &Loop{
		provider:  cfg.Provider,
		store:     cfg.Store,
		registry:  cfg.Registry,
		toolExec:  NewToolExecutor(cfg.Registry, cfg.ToolExec),
		pruning:   cfg.Pruning,
		summarize: cfg.Summarize,
	}
}

// RunParams carries one invocation's inputs. History is the session's
// transcript as already loaded from the store (with any prior compaction
// summary materialized separately in CompactionSummary, not inline).
type RunParams struct {
	RunID               string
	SessionKey          string
	History             []*models.Message
	Pending             []*models.Message
	CompactionSummary   string
	Model               string
	System              string
	MaxTurns            int
	ContextWindowTokens int
	MaxTokens           int
	Temperature         float64
	EnableThinking      bool
	ThinkingBudgetTokens int
}

// Run returns synchronously with an open event stream, then emits the run's
// events from a detached goroutine (spec §4.5: "returns synchronously, then
// begins emitting events from a detached task"). The returned Emitter lets a
// caller (the Run Controller, for subagent_summary/subagent_error) push
// further events onto the same stream with consistent Seq/Timestamp/RunID
// stamping once the run itself has produced its own events.
func (l *Loop) Run(ctx context.Context, params RunParams) (*events.Stream[events.Event, events.Result], *events.Emitter) {
	emitter := events.NewEmitter(params.RunID)

	go func() {
		emitter.AgentStart()
		result, err := l.run(ctx, emitter, params)
		if err != nil {
			emitter.AgentError(err)
			return
		}
		emitter.AgentEnd(result)
	}()

	return emitter.Stream(), emitter
}

// run implements the full outer/inner loop. Returning a non-nil error ends
// the stream with agent_error; otherwise agent_end carries the result.
func (l *Loop) run(ctx context.Context, emitter *events.Emitter, params RunParams) (events.Result, error) {
	queue := SteeringQueueFromContext(ctx)
	if queue == nil {
		queue = NewSteeringQueue()
	}

	maxTurns := params.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	contextWindowTokens := params.ContextWindowTokens
	if contextWindowTokens <= 0 {
		contextWindowTokens = DefaultContextWindow
	}

	currentMessages := append([]*models.Message(nil), params.History...)
	compactionSummary := params.CompactionSummary
	overflowCompactionAttempted := compactionSummary != ""

	turns := 0
	totalToolCalls := 0
	finalText := ""
	cancelled := false

	pendingMessages := append([]*models.Message(nil), params.Pending...)
	pendingMessages = append(pendingMessages, steeringMessagesToModel(queue.GetSteeringMessages())...)

outer:
	for {
		hasMoreToolCalls := false
		for hasMoreToolCalls || len(pendingMessages) > 0 {
			if turns >= maxTurns || ctx.Err() != nil {
				cancelled = ctx.Err() != nil
				break outer
			}
			turns++
			emitter.TurnStart(turns)

			if len(pendingMessages) > 0 {
				for _, m := range pendingMessages {
					if _, err := l.store.Append(ctx, params.SessionKey, m); err != nil {
						return events.Result{}, err
					}
					currentMessages = append(currentMessages, m)
				}
				pendingMessages = nil
			}

			var assistantContent []models.ContentBlock
			var toolCalls []ToolCallRequest
			var turnText string

			for {
				pruneResult := agentctx.PruneContextMessages(currentMessages, l.pruning, contextWindowTokens)
				messagesForModel := pruneResult.Kept
				if compactionSummary != "" {
					summaryMsg := models.NewTextMessage(models.RoleUser, compactionSummary)
					messagesForModel = append([]*models.Message{summaryMsg}, messagesForModel...)
				}

				req, err := l.buildRequest(ctx, params, messagesForModel)
				if err != nil {
					return events.Result{}, err
				}

				ac, tc, tt, callErr := l.callWithRetry(ctx, emitter, req)
				if callErr != nil {
					if !overflowCompactionAttempted && providers.ClassifyError(callErr).IsContextOverflow() {
						overflowCompactionAttempted = true
						emitter.ContextOverflowCompact(callErr)

						compResult, kept, compErr := l.prepareCompaction(ctx, currentMessages, contextWindowTokens, compactionSummary)
						if compErr != nil {
							return events.Result{}, compErr
						}
						if compResult.DroppedCount > 0 {
							var firstKeptID int64
							if first := firstOrNil(kept); first != nil {
								firstKeptID, _ = l.store.ResolveMessageEntryID(ctx, params.SessionKey, first)
							}
							if err := l.store.AppendCompaction(ctx, params.SessionKey, compResult.Summary, firstKeptID, compaction.EstimateModelMessagesTokens(currentMessages)); err != nil {
								return events.Result{}, err
							}
							currentMessages = kept
						}
						compactionSummary = compResult.Summary
						emitter.Compaction(len(compResult.Summary), compResult.DroppedCount)
						turns--
						continue
					}
					if errors.Is(callErr, context.Canceled) {
						return events.Result{RunID: params.RunID, Turns: turns, ToolCalls: totalToolCalls, CancelledP: true}, nil
					}
					return events.Result{}, callErr
				}

				assistantContent, toolCalls, turnText = ac, tc, tt
				break
			}

			assistantMsg := &models.Message{Role: models.RoleAssistant, Content: assistantContent}
			if _, err := l.store.Append(ctx, params.SessionKey, assistantMsg); err != nil {
				return events.Result{}, err
			}
			currentMessages = append(currentMessages, assistantMsg)
			emitter.MessageEnd(assistantMsg, turnText)

			if len(toolCalls) == 0 {
				finalText = turnText
				emitter.TurnEnd(turns)
				pendingMessages = steeringMessagesToModel(queue.GetSteeringMessages())
				hasMoreToolCalls = false
				continue
			}

			hasMoreToolCalls = true
			totalToolCalls += len(toolCalls)

			resultBlocks := make([]models.ContentBlock, 0, len(toolCalls))
			interrupted := false
			for _, tc := range toolCalls {
				callBlock := models.ToolUseBlock(tc.ID, tc.Name, tc.Arguments)

				if interrupted {
					emitter.ToolSkipped(tc.ID, tc.Name)
					resultBlocks = append(resultBlocks, SkippedToolResult(tc.ID, tc.Name, ""))
					continue
				}

				if policy, ok := ToolPolicyFromContext(ctx); ok && !policy.Matches(tc.Name) {
					emitter.ToolExecutionStart(tc.ID, tc.Name, string(tc.Arguments))
					denied := models.ToolResultBlock(tc.ID, tc.Name, "tool not permitted by policy: "+tc.Name, true)
					emitter.ToolExecutionEnd(tc.ID, tc.Name, denied.Content, true)
					resultBlocks = append(resultBlocks, denied)
					continue
				}

				emitter.ToolExecutionStart(tc.ID, tc.Name, string(tc.Arguments))
				execResults := l.toolExec.ExecuteSequentially(ctx, []models.ContentBlock{callBlock})
				res := execResults[0]
				emitter.ToolExecutionEnd(tc.ID, tc.Name, res.Result.Content, res.Result.IsError)
				resultBlocks = append(resultBlocks, res.Result)

				if steer := queue.GetSteeringMessages(); len(steer) > 0 {
					interrupted = true
					emitter.Steering(len(steer))
					pendingMessages = append(pendingMessages, steeringMessagesToModel(steer)...)
				}
			}

			toolResultMsg := &models.Message{Role: models.RoleUser, Content: resultBlocks}
			if _, err := l.store.Append(ctx, params.SessionKey, toolResultMsg); err != nil {
				return events.Result{}, err
			}
			currentMessages = append(currentMessages, toolResultMsg)
			emitter.TurnEnd(turns)
		}

		followUps := queue.GetFollowUpMessages()
		if len(followUps) == 0 {
			break outer
		}
		pendingMessages = followUpMessagesToModel(followUps)
	}

	return events.Result{
		RunID:      params.RunID,
		Text:       finalText,
		Turns:      turns,
		ToolCalls:  totalToolCalls,
		CancelledP: cancelled,
	}, nil
}

// buildRequest assembles a CompletionRequest for one LLM call, applying any
// context transform registered on ctx (spec's steering.go collaborator).
func (l *Loop) buildRequest(ctx context.Context, params RunParams, messagesForModel []*models.Message) (*CompletionRequest, error) {
	completionMessages := ToCompletionMessages(messagesForModel)
	if transform := ContextTransformFromContext(ctx); transform != nil {
		transformed, err := transform(ctx, completionMessages)
		if err != nil {
			return nil, err
		}
		completionMessages = transformed
	}

	req := &CompletionRequest{
		Model:       params.Model,
		System:      params.System,
		Messages:    completionMessages,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
	}
	if l.registry != nil {
		if policy, ok := ToolPolicyFromContext(ctx); ok {
			req.Tools = l.registry.ResolveWithPolicy(policy)
		} else {
			req.Tools = l.registry.AsTools()
		}
	}
	if level := ThinkingLevelFromContext(ctx); level != ThinkingOff {
		req.EnableThinking = true
		req.ThinkingBudgetTokens = GetThinkingBudget(level)
	} else if params.EnableThinking {
		req.EnableThinking = true
		req.ThinkingBudgetTokens = params.ThinkingBudgetTokens
	}
	return req, nil
}

// callOnce makes a single streaming call to the provider, accumulating
// text_delta into one text block and toolcall_end chunks into tool_use
// blocks (spec §4.5 "per-event handling during streaming";
// toolcall_start is ignored, as there is nothing to accumulate from it).
func (l *Loop) callOnce(ctx context.Context, emitter *events.Emitter, req *CompletionRequest) ([]models.ContentBlock, []ToolCallRequest, string, error) {
	chunks, err := l.provider.Complete(ctx, req)
	if err != nil {
		return nil, nil, "", err
	}

	var text strings.Builder
	var toolCalls []ToolCallRequest
	messageStarted := false

	for {
		select {
		case <-ctx.Done():
			return nil, nil, "", ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				goto done
			}
			if chunk.Error != nil {
				return nil, nil, "", chunk.Error
			}
			if chunk.Text != "" {
				if !messageStarted {
					emitter.MessageStart()
					messageStarted = true
				}
				emitter.MessageDelta(chunk.Text)
				text.WriteString(chunk.Text)
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
			if chunk.Done {
				goto done
			}
		}
	}

done:
	blocks := make([]models.ContentBlock, 0, 1+len(toolCalls))
	if text.Len() > 0 {
		blocks = append(blocks, models.TextBlock(text.String()))
	}
	for _, tc := range toolCalls {
		blocks = append(blocks, models.ToolUseBlock(tc.ID, tc.Name, tc.Arguments))
	}
	return blocks, toolCalls, text.String(), nil
}

// callWithRetry wraps callOnce in the exponential-backoff retry spec §4.5
// requires: 3 attempts, 300ms base, 30s cap, ±10% jitter, retrying only
// rate-limit-classified failures, never after cancellation.
func (l *Loop) callWithRetry(ctx context.Context, emitter *events.Emitter, req *CompletionRequest) ([]models.ContentBlock, []ToolCallRequest, string, error) {
	delay := retryBaseDelay

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		blocks, toolCalls, text, err := l.callOnce(ctx, emitter, req)
		if err == nil {
			return blocks, toolCalls, text, nil
		}
		if ctx.Err() != nil {
			return nil, nil, "", err
		}

		reason := providers.ClassifyError(err)
		if pe, ok := providers.GetProviderError(err); ok {
			reason = pe.Reason
		}
		if reason != providers.FailoverRateLimit || attempt == retryMaxAttempts {
			return nil, nil, "", err
		}

		wait := jitteredDelay(delay, retryJitterFraction)
		emitter.Retry(attempt, wait, err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, nil, "", ctx.Err()
		}

		delay *= 2
		if delay > retryCapDelay {
			delay = retryCapDelay
		}
	}
	return nil, nil, "", errors.New("agent: retry exhausted without a terminal error")
}

func jitteredDelay(base time.Duration, fraction float64) time.Duration {
	factor := 1 + (rand.Float64()*2-1)*fraction // #nosec G404 -- jitter does not require cryptographic randomness
	return time.Duration(float64(base) * factor)
}

// prepareCompaction runs the pruner to pick a drop set, then summarizes it,
// implementing spec §4.7's entry point as the loop's context-overflow
// recovery path (spec §4.5, §9 Open Question 1).
func (l *Loop) prepareCompaction(ctx context.Context, currentMessages []*models.Message, contextWindowTokens int, previousSummary string) (compaction.CompactionResult, []*models.Message, error) {
	pruneResult := agentctx.PruneContextMessages(currentMessages, l.pruning, contextWindowTokens)
	result, err := compaction.Compact(ctx, pruneResult.Dropped, contextWindowTokens, previousSummary, l.summarize)
	if err != nil {
		return compaction.CompactionResult{}, nil, err
	}
	return result, pruneResult.Kept, nil
}

func firstOrNil(messages []*models.Message) *models.Message {
	if len(messages) == 0 {
		return nil
	}
	return messages[0]
}

func steeringMessagesToModel(msgs []*SteeringMessage) []*models.Message {
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		role := models.RoleUser
		if m.Role == string(models.RoleAssistant) {
			role = models.RoleAssistant
		}
		out = append(out, models.NewTextMessage(role, m.Content))
	}
	return out
}

func followUpMessagesToModel(msgs []*FollowUpMessage) []*models.Message {
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		role := models.RoleUser
		if m.Role == string(models.RoleAssistant) {
			role = models.RoleAssistant
		}
		out = append(out, models.NewTextMessage(role, m.Content))
	}
	return out
}
