// Package compaction implements the runtime's §4.7 history compactor: once
// a session's estimated token usage crosses the context window's reserve
// line, the dropped tail of messages is folded into one structured summary
// message instead of being discarded outright.
package compaction

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

const (
	// ReserveTokens is the portion of the context window reserved for the
	// model's response; compaction triggers once history would eat into it.
	ReserveTokens = 20000

	// baseChunkRatio is the default share of the context window given to one
	// summarization chunk.
	baseChunkRatio = 0.4

	// minChunkRatio floors the adaptive ratio so chunks never shrink to
	// nothing against a window full of oversized messages.
	minChunkRatio = 0.15

	// safetyMargin pads the adaptive chunk ratio calculation for token
	// estimation error.
	safetyMargin = 1.2

	// oversizedThreshold is the fraction of the context window above which a
	// single message is excluded from summarization and noted instead.
	oversizedThreshold = 0.5

	// charsPerToken is the chars-per-token heuristic used throughout, ceiling
	// divided so partial tokens round up.
	charsPerToken = 4

	// defaultParts is how many roughly-equal partitions SummarizeInStages
	// splits long histories into before merging.
	defaultParts = 2

	// minMessagesForSplit is the minimum message count before staged
	// (multi-partition) summarization kicks in.
	minMessagesForSplit = 4

	// DefaultSummaryFallback is returned when there is nothing to summarize.
	DefaultSummaryFallback = "No prior history."

	// DefaultContextWindow is the fallback context window size in tokens,
	// used when a model's own window isn't known.
	DefaultContextWindow = 100000
)

// SummarizeFunc is the caller-supplied summarization call: a single LLM
// round-trip with a system prompt, a user prompt, and a token budget.
type SummarizeFunc func(ctx context.Context, system, userPrompt string, maxTokens int) (string, error)

const summarizerSystemPrompt = "You are a context summarization assistant. Summarize the conversation below into a compact, information-dense briefing that lets another assistant continue the work without the original transcript."

const summarySectionsPrompt = `Produce a summary with exactly these sections, using the conversation below as source material:

## Goals
## Constraints & Preferences
## Progress
### Completed
### In Progress
### Blocked
## Key Decisions
## Next Steps
## Key Information

Conversation:
%s`

const summaryUpdatePrompt = `A previous summary of this conversation already exists. Update it to incorporate the new messages below, preserving everything still relevant and extending it — do not discard prior context that remains true.

Previous summary:
%s

New messages:
%s`

const mergeInstructionPrompt = `Merge the following partial summaries of one conversation into a single coherent summary using the same section headings (Goals / Constraints & Preferences / Progress / Key Decisions / Next Steps / Key Information). Resolve overlaps; keep it compact.

%s`

// ShouldCompact reports whether history has grown enough to require
// compaction: estimated tokens exceed contextWindowTokens - ReserveTokens
// (spec §4.7 trigger).
func ShouldCompact(messages []*models.Message, contextWindowTokens int) bool {
	return EstimateModelMessagesTokens(messages) > contextWindowTokens-ReserveTokens
}

// EstimateModelMessagesTokens estimates tokens for content-block messages
// using the same chars-per-token heuristic as the summarization engine.
func EstimateModelMessagesTokens(messages []*models.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateModelMessageTokens(m)
	}
	return total
}

func estimateModelMessageTokens(m *models.Message) int {
	if m == nil {
		return 0
	}
	chars := 0
	for _, b := range m.Content {
		chars += len(b.Text) + len(b.Name) + len(b.Input) + len(b.Content)
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

// turnMessage is the compactor's own flattened view of a models.Message:
// tool calls and tool results collapsed to strings so the summarization
// engine below never has to know about content blocks.
type turnMessage struct {
	role        string
	content     string
	toolCalls   string
	toolResults string
}

func estimateTurnTokens(msg *turnMessage) int {
	if msg == nil {
		return 0
	}
	chars := len(msg.content) + len(msg.toolCalls) + len(msg.toolResults)
	return (chars + charsPerToken - 1) / charsPerToken
}

func estimateTurnsTokens(messages []*turnMessage) int {
	total := 0
	for _, msg := range messages {
		total += estimateTurnTokens(msg)
	}
	return total
}

func toTurnMessages(messages []*models.Message) []*turnMessage {
	out := make([]*turnMessage, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		var toolCalls, toolResults strings.Builder
		for _, b := range m.Content {
			switch b.Type {
			case models.BlockToolUse:
				toolCalls.WriteString(b.Name)
				toolCalls.Write(b.Input)
			case models.BlockToolResult:
				toolResults.WriteString(b.Content)
			}
		}
		out = append(out, &turnMessage{
			role:        string(m.Role),
			content:     m.Text(),
			toolCalls:   toolCalls.String(),
			toolResults: toolResults.String(),
		})
	}
	return out
}

// splitByTokenShare partitions messages into roughly equal-token groups, used
// by the staged summarization path to process very long histories as
// independent chunks before merging their summaries.
func splitByTokenShare(messages []*turnMessage, parts int) [][]*turnMessage {
	if len(messages) == 0 {
		return nil
	}
	if parts <= 0 {
		parts = defaultParts
	}
	if parts == 1 || len(messages) < parts {
		return [][]*turnMessage{messages}
	}

	totalTokens := estimateTurnsTokens(messages)
	targetPerPart := totalTokens / parts

	result := make([][]*turnMessage, 0, parts)
	currentPart := make([]*turnMessage, 0)
	currentTokens := 0

	for i, msg := range messages {
		currentPart = append(currentPart, msg)
		currentTokens += estimateTurnTokens(msg)

		remainingParts := parts - len(result) - 1
		isLastMessage := i == len(messages)-1
		if !isLastMessage && remainingParts > 0 && currentTokens >= targetPerPart {
			result = append(result, currentPart)
			currentPart = make([]*turnMessage, 0)
			currentTokens = 0
		}
	}
	if len(currentPart) > 0 {
		result = append(result, currentPart)
	}
	return result
}

// chunkByMaxTokens splits messages into chunks that each stay under
// maxTokens, putting any single oversized message in a chunk of its own.
func chunkByMaxTokens(messages []*turnMessage, maxTokens int) [][]*turnMessage {
	if len(messages) == 0 {
		return nil
	}
	if maxTokens <= 0 {
		return [][]*turnMessage{messages}
	}

	result := make([][]*turnMessage, 0)
	currentChunk := make([]*turnMessage, 0)
	currentTokens := 0

	for _, msg := range messages {
		msgTokens := estimateTurnTokens(msg)

		if msgTokens > maxTokens {
			if len(currentChunk) > 0 {
				result = append(result, currentChunk)
				currentChunk = make([]*turnMessage, 0)
				currentTokens = 0
			}
			result = append(result, []*turnMessage{msg})
			continue
		}

		if currentTokens+msgTokens > maxTokens && len(currentChunk) > 0 {
			result = append(result, currentChunk)
			currentChunk = make([]*turnMessage, 0)
			currentTokens = 0
		}

		currentChunk = append(currentChunk, msg)
		currentTokens += msgTokens
	}
	if len(currentChunk) > 0 {
		result = append(result, currentChunk)
	}
	return result
}

// ComputeAdaptiveChunkRatio lowers the chunk-size ratio as average message
// size grows, so a history full of large tool results still splits into
// chunks the model can actually summarize in one call.
func ComputeAdaptiveChunkRatio(messages []*models.Message, contextWindow int) float64 {
	turns := toTurnMessages(messages)
	if len(turns) == 0 || contextWindow <= 0 {
		return baseChunkRatio
	}

	totalTokens := estimateTurnsTokens(turns)
	avgTokensPerMsg := float64(totalTokens) / float64(len(turns))
	windowRatio := avgTokensPerMsg / float64(contextWindow)

	ratio := baseChunkRatio * (1 - windowRatio*safetyMargin)
	if ratio < minChunkRatio {
		ratio = minChunkRatio
	}
	if ratio > baseChunkRatio {
		ratio = baseChunkRatio
	}
	return ratio
}

func isOversizedForSummary(msg *turnMessage, contextWindow int) bool {
	if msg == nil || contextWindow <= 0 {
		return false
	}
	threshold := float64(contextWindow) * oversizedThreshold
	return float64(estimateTurnTokens(msg)) > threshold
}

// summarizationConfig carries the per-call knobs the staged summarizer needs:
// chunk size, the window it's budgeting against, and whatever previous
// summary/custom instructions this call should build on.
type summarizationConfig struct {
	maxChunkTokens     int
	contextWindow      int
	customInstructions string
	previousSummary    string
	parts              int
	minMessagesForSplit int
}

func defaultSummarizationConfig() *summarizationConfig {
	return &summarizationConfig{
		maxChunkTokens:      20000,
		parts:               defaultParts,
		minMessagesForSplit: minMessagesForSplit,
	}
}

// summarizer is the one-call primitive the staged engine below drives;
// funcSummarizer is the only implementation, adapting a SummarizeFunc.
type summarizer interface {
	generateSummary(ctx context.Context, messages []*turnMessage, config *summarizationConfig) (string, error)
}

// funcSummarizer adapts a SummarizeFunc to the summarizer interface,
// rendering each call's messages with formatTurnsForSummary and filling the
// structured-sections prompt (or the update/merge prompt, depending on what
// this call is for).
type funcSummarizer struct {
	fn              SummarizeFunc
	previousSummary string
}

func (f *funcSummarizer) generateSummary(ctx context.Context, messages []*turnMessage, config *summarizationConfig) (string, error) {
	transcript := formatTurnsForSummary(messages)
	var userPrompt string
	switch {
	case f.previousSummary != "":
		userPrompt = fmt.Sprintf(summaryUpdatePrompt, f.previousSummary, transcript)
	case config.customInstructions != "":
		userPrompt = fmt.Sprintf(mergeInstructionPrompt, transcript)
	default:
		userPrompt = fmt.Sprintf(summarySectionsPrompt, transcript)
	}
	maxTokens := config.maxChunkTokens
	if maxTokens <= 0 {
		maxTokens = int(float64(config.contextWindow) * baseChunkRatio)
	}
	return f.fn(ctx, summarizerSystemPrompt, userPrompt, maxTokens)
}

// summarizeChunks summarizes messages chunk by chunk, then merges the
// per-chunk summaries into one.
func summarizeChunks(ctx context.Context, messages []*turnMessage, s summarizer, config *summarizationConfig) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}

	maxChunkTokens := config.maxChunkTokens
	if maxChunkTokens <= 0 {
		maxChunkTokens = int(float64(config.contextWindow) * baseChunkRatio)
	}

	chunks := chunkByMaxTokens(messages, maxChunkTokens)
	if len(chunks) == 0 {
		return DefaultSummaryFallback, nil
	}
	if len(chunks) == 1 {
		return s.generateSummary(ctx, chunks[0], config)
	}

	chunkSummaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		summary, err := s.generateSummary(ctx, chunk, config)
		if err != nil {
			return "", fmt.Errorf("summarizing chunk %d: %w", i, err)
		}
		chunkSummaries = append(chunkSummaries, summary)
	}
	return mergeSummaries(ctx, chunkSummaries, s, config)
}

func mergeSummaries(ctx context.Context, summaries []string, s summarizer, config *summarizationConfig) (string, error) {
	if len(summaries) == 0 {
		return DefaultSummaryFallback, nil
	}
	if len(summaries) == 1 {
		return summaries[0], nil
	}

	mergeMessages := make([]*turnMessage, len(summaries))
	for i, summary := range summaries {
		mergeMessages[i] = &turnMessage{
			role:    "system",
			content: fmt.Sprintf("Chunk %d summary:\n%s", i+1, summary),
		}
	}

	mergeConfig := *config
	mergeConfig.customInstructions = "Merge these chunk summaries into a single coherent summary. Preserve key details and maintain chronological flow."
	if config.customInstructions != "" {
		mergeConfig.customInstructions = config.customInstructions + "\n\n" + mergeConfig.customInstructions
	}
	return s.generateSummary(ctx, mergeMessages, &mergeConfig)
}

// summarizeWithFallback summarizes the non-oversized messages and appends a
// note for anything excluded for being too large to summarize in one call.
func summarizeWithFallback(ctx context.Context, messages []*turnMessage, s summarizer, config *summarizationConfig) (string, error) {
	var normal []*turnMessage
	var oversizedNotes []string

	for _, msg := range messages {
		if isOversizedForSummary(msg, config.contextWindow) {
			oversizedNotes = append(oversizedNotes, fmt.Sprintf("[Oversized %s message with %d tokens - content omitted]", msg.role, estimateTurnTokens(msg)))
		} else {
			normal = append(normal, msg)
		}
	}

	summary := DefaultSummaryFallback
	if len(normal) > 0 {
		var err error
		summary, err = summarizeChunks(ctx, normal, s, config)
		if err != nil {
			return "", fmt.Errorf("summarizing normal messages: %w", err)
		}
	}
	if len(oversizedNotes) > 0 {
		summary = summary + "\n\n" + strings.Join(oversizedNotes, "\n")
	}
	return summary, nil
}

// summarizeInStages splits long histories into independent partitions,
// summarizes each, then merges — this is what keeps a single summarization
// call from exceeding the model's own context window on huge transcripts.
func summarizeInStages(ctx context.Context, messages []*turnMessage, s summarizer, config *summarizationConfig) (string, error) {
	if len(messages) == 0 {
		return DefaultSummaryFallback, nil
	}

	parts := config.parts
	if parts <= 0 {
		parts = defaultParts
	}
	minMessages := config.minMessagesForSplit
	if minMessages <= 0 {
		minMessages = minMessagesForSplit
	}
	if len(messages) < minMessages {
		return summarizeWithFallback(ctx, messages, s, config)
	}

	partitions := splitByTokenShare(messages, parts)
	if len(partitions) <= 1 {
		return summarizeWithFallback(ctx, messages, s, config)
	}

	partSummaries := make([]string, 0, len(partitions))
	for i, partition := range partitions {
		summary, err := summarizeWithFallback(ctx, partition, s, config)
		if err != nil {
			return "", fmt.Errorf("summarizing part %d: %w", i, err)
		}
		partSummaries = append(partSummaries, summary)
	}
	if config.previousSummary != "" && config.previousSummary != DefaultSummaryFallback {
		partSummaries = append([]string{config.previousSummary}, partSummaries...)
	}
	return mergeSummaries(ctx, partSummaries, s, config)
}

func formatTurnsForSummary(messages []*turnMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("[%s]: %s", msg.role, msg.content))
		if msg.toolCalls != "" {
			sb.WriteString(fmt.Sprintf("\n  [Tool calls: %s]", truncateString(msg.toolCalls, 200)))
		}
		if msg.toolResults != "" {
			sb.WriteString(fmt.Sprintf("\n  [Tool results: %s]", truncateString(msg.toolResults, 200)))
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// CompactionResult is the outcome of Compact: the summary text (with the
// file-ops appendix already attached) and the synthetic summary message
// ready to install as the run's compactionSummary.
type CompactionResult struct {
	Summary        string
	SummaryMessage *models.Message
	DroppedCount   int
}

// Compact implements the full C7 contract over content-block messages:
// adaptive chunking, chunked summarization with a previous-summary update
// path, the oversized-message fallback, and the file-ops appendix.
// dropped is the message set chosen for summarization (by the context
// pruner or the caller); previousSummary is empty for a first compaction.
func Compact(ctx context.Context, dropped []*models.Message, contextWindowTokens int, previousSummary string, summarize SummarizeFunc) (CompactionResult, error) {
	if len(dropped) == 0 {
		return CompactionResult{Summary: DefaultSummaryFallback, SummaryMessage: models.NewTextMessage(models.RoleUser, DefaultSummaryFallback)}, nil
	}

	turns := toTurnMessages(dropped)
	config := defaultSummarizationConfig()
	config.contextWindow = contextWindowTokens
	config.previousSummary = previousSummary
	chunkRatio := ComputeAdaptiveChunkRatio(dropped, contextWindowTokens)
	config.maxChunkTokens = int(float64(contextWindowTokens) * chunkRatio)

	fs := &funcSummarizer{fn: summarize, previousSummary: previousSummary}

	summary, err := summarizeInStages(ctx, turns, fs, config)
	if err != nil {
		summary, err = summarizeWithFallbackOrSizeNote(ctx, turns, fs, config)
		if err != nil {
			return CompactionResult{}, fmt.Errorf("compaction: %w", err)
		}
	}

	summary += fileOpsAppendix(dropped)

	return CompactionResult{
		Summary:        summary,
		SummaryMessage: models.NewTextMessage(models.RoleUser, summary),
		DroppedCount:   len(dropped),
	}, nil
}

// summarizeWithFallbackOrSizeNote retries once through the oversized-message
// fallback path; if that also fails, returns the spec's fixed size-limited
// fallback string instead of propagating the error.
func summarizeWithFallbackOrSizeNote(ctx context.Context, messages []*turnMessage, s summarizer, config *summarizationConfig) (string, error) {
	filtered, err := summarizeWithFallback(ctx, messages, s, config)
	if err == nil {
		return filtered, nil
	}
	return fmt.Sprintf("Context contained %d messages. Summary unavailable due to size limits.", len(messages)), nil
}

type toolArgs struct {
	Path string `json:"path"`
}

// fileOpsAppendix walks dropped assistant tool_use blocks named read,
// write, or edit and extracts their path argument, producing two
// deduplicated, sorted sets: files modified (write/edit) and files merely
// read. Appended to the summary as wrapped tag blocks so the model can
// keep reasoning about paths that fell out of history (spec §4.7).
func fileOpsAppendix(messages []*models.Message) string {
	modified := make(map[string]bool)
	read := make(map[string]bool)

	for _, m := range messages {
		if m == nil || m.Role != models.RoleAssistant {
			continue
		}
		for _, b := range m.Content {
			if b.Type != models.BlockToolUse {
				continue
			}
			var args toolArgs
			if err := json.Unmarshal(b.Input, &args); err != nil || args.Path == "" {
				continue
			}
			switch b.Name {
			case "write", "edit":
				modified[args.Path] = true
			case "read":
				read[args.Path] = true
			}
		}
	}
	// A path both read and modified belongs only to the modified set.
	for p := range modified {
		delete(read, p)
	}

	if len(modified) == 0 && len(read) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\n<modified-files>\n")
	for _, p := range sortedKeys(modified) {
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	sb.WriteString("</modified-files>\n<read-files>\n")
	for _, p := range sortedKeys(read) {
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	sb.WriteString("</read-files>")
	return sb.String()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
