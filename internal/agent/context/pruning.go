// Package context implements the context window manager: the three-layer
// progressive pruner (C6) that keeps a message list inside a char budget,
// operating purely (it never mutates the session log).
package context

import (
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// CharsPerTokenEstimate is the fixed conversion factor between tokens and
// chars used throughout pruning and compaction, so both layers agree on the
// same budget without a real tokenizer.
const CharsPerTokenEstimate = 4

// ContextPruningMode controls when pruning runs.
type ContextPruningMode string

const (
	// ContextPruningOff disables pruning.
	ContextPruningOff ContextPruningMode = "off"
	// ContextPruningCacheTTL prunes when cached tool results are stale.
	ContextPruningCacheTTL ContextPruningMode = "cache-ttl"
)

// ContextPruningToolMatch controls which tool results are prunable. Deny
// overrides allow; an empty allow list means every non-denied tool is
// prunable.
type ContextPruningToolMatch struct {
	Allow []string
	Deny  []string
}

// ContextPruningSoftTrim configures Layer 1 soft trimming.
type ContextPruningSoftTrim struct {
	MaxChars  int
	HeadChars int
	TailChars int
}

// ContextPruningHardClear configures Layer 2 hard clearing.
type ContextPruningHardClear struct {
	Enabled     bool
	Placeholder string
}

// ContextPruningSettings controls the three-layer pruner.
type ContextPruningSettings struct {
	Mode                 ContextPruningMode
	TTL                  time.Duration
	KeepLastAssistants   int
	SoftTrimRatio        float64
	HardClearRatio       float64
	MaxHistoryShare      float64
	MinPrunableToolChars int
	Tools                ContextPruningToolMatch
	SoftTrim             ContextPruningSoftTrim
	HardClear            ContextPruningHardClear
}

// DefaultContextPruningSettings returns the spec's default thresholds.
func DefaultContextPruningSettings() ContextPruningSettings {
	return ContextPruningSettings{
		Mode:                 ContextPruningCacheTTL,
		TTL:                  5 * time.Minute,
		KeepLastAssistants:   3,
		SoftTrimRatio:        0.3,
		HardClearRatio:       0.5,
		MaxHistoryShare:      0.5,
		MinPrunableToolChars: 50000,
		Tools:                ContextPruningToolMatch{},
		SoftTrim: ContextPruningSoftTrim{
			MaxChars:  4000,
			HeadChars: 1500,
			TailChars: 1500,
		},
		HardClear: ContextPruningHardClear{
			Enabled:     true,
			Placeholder: "[Old tool result content cleared]",
		},
	}
}

// PruneResult is the outcome of PruneContextMessages: the kept list, the
// dropped list in original input order, and counters describing which
// layers fired.
type PruneResult struct {
	Kept            []*models.Message
	Dropped         []*models.Message
	BudgetChars     int
	TotalChars      int
	SoftTrimmed     int
	HardCleared     int
	MessagesDropped int
}

// PruneContextMessages trims, clears, and (if still over budget) drops
// messages from history so the transcript fits contextWindowTokens. Pure:
// the input slice and its messages are never mutated.
func PruneContextMessages(messages []*models.Message, settings ContextPruningSettings, contextWindowTokens int) PruneResult {
	charWindow := contextWindowTokens * CharsPerTokenEstimate
	maxHistoryShare := settings.MaxHistoryShare
	if maxHistoryShare <= 0 {
		maxHistoryShare = 0.5
	}
	budgetChars := int(float64(charWindow) * maxHistoryShare)

	if len(messages) == 0 || charWindow <= 0 {
		return PruneResult{Kept: messages, BudgetChars: budgetChars}
	}

	soft := softTrimLayer(messages, settings, charWindow)
	cleared, hardCleared := hardClearLayer(soft.messages, settings, charWindow)

	kept, dropped, messagesDropped := messageDropLayer(cleared, settings, budgetChars)

	return PruneResult{
		Kept:            kept,
		Dropped:         dropped,
		BudgetChars:     budgetChars,
		TotalChars:      estimateContextChars(kept),
		SoftTrimmed:     soft.softTrimmed,
		HardCleared:     hardCleared,
		MessagesDropped: messagesDropped,
	}
}

type layerState struct {
	messages    []*models.Message
	softTrimmed int
}

// softTrimLayer implements Layer 1: shrink oversized prunable tool_result
// blocks to head+tail once the transcript exceeds softTrimRatio of window.
func softTrimLayer(messages []*models.Message, settings ContextPruningSettings, charWindow int) layerState {
	cutoffIndex, ok := findAssistantCutoffIndex(messages, settings.KeepLastAssistants)
	if !ok {
		return layerState{messages: messages}
	}
	firstUser := findFirstUserIndex(messages)
	pruneStart := len(messages)
	if firstUser >= 0 {
		pruneStart = firstUser
	}
	if pruneStart >= cutoffIndex {
		return layerState{messages: messages}
	}

	totalChars := estimateContextChars(messages)
	if float64(totalChars)/float64(charWindow) < settings.SoftTrimRatio {
		return layerState{messages: messages}
	}

	toolNames := buildToolUseNameMap(messages)
	isPrunable := makeToolPrunablePredicate(settings.Tools)

	out := cloneMessages(messages)
	trimmed := 0
	for i := pruneStart; i < cutoffIndex; i++ {
		msg := out[i]
		if msg == nil || len(msg.ToolResults()) == 0 {
			continue
		}
		changedAny := false
		blocks := append([]models.ContentBlock(nil), msg.Content...)
		for bi := range blocks {
			if blocks[bi].Type != models.BlockToolResult {
				continue
			}
			toolName := toolNames[blocks[bi].ToolUseID]
			if !isPrunable(toolName) {
				continue
			}
			newContent, changed := softTrimToolResult(blocks[bi].Content, settings)
			if !changed {
				continue
			}
			blocks[bi].Content = newContent
			changedAny = true
			trimmed++
		}
		if changedAny {
			clone := *msg
			clone.Content = blocks
			out[i] = &clone
		}
	}
	return layerState{messages: out, softTrimmed: trimmed}
}

// hardClearLayer implements Layer 2: replace prunable tool_result content
// with a fixed placeholder, stopping once the ratio drops below threshold.
func hardClearLayer(messages []*models.Message, settings ContextPruningSettings, charWindow int) ([]*models.Message, int) {
	totalChars := estimateContextChars(messages)
	if !settings.HardClear.Enabled || float64(totalChars)/float64(charWindow) < settings.HardClearRatio {
		return messages, 0
	}

	toolNames := buildToolUseNameMap(messages)
	isPrunable := makeToolPrunablePredicate(settings.Tools)

	type ref struct {
		msgIndex, blockIndex int
	}
	var refs []ref
	prunableChars := 0
	for i, msg := range messages {
		if msg == nil {
			continue
		}
		for bi, b := range msg.Content {
			if b.Type != models.BlockToolResult {
				continue
			}
			if !isPrunable(toolNames[b.ToolUseID]) {
				continue
			}
			refs = append(refs, ref{msgIndex: i, blockIndex: bi})
			prunableChars += len(b.Content)
		}
	}
	if prunableChars < settings.MinPrunableToolChars {
		return messages, 0
	}

	out := cloneMessages(messages)
	cleared := 0
	ratio := float64(totalChars) / float64(charWindow)
	for _, r := range refs {
		if ratio < settings.HardClearRatio {
			break
		}
		msg := out[r.msgIndex]
		blocks := append([]models.ContentBlock(nil), msg.Content...)
		before := len(blocks[r.blockIndex].Content)
		blocks[r.blockIndex].Content = settings.HardClear.Placeholder
		after := len(blocks[r.blockIndex].Content)
		clone := *msg
		clone.Content = blocks
		out[r.msgIndex] = &clone
		cleared++
		totalChars += after - before
		ratio = float64(totalChars) / float64(charWindow)
	}
	return out, cleared
}

// messageDropLayer implements Layer 3: if still over budgetChars, protect
// the last keepLastAssistants assistant messages and everything after them,
// then fill backward from that protected suffix until the budget is
// exhausted. If the protected suffix alone exceeds budget, fall back to a
// strictly backward fill from the end.
func messageDropLayer(messages []*models.Message, settings ContextPruningSettings, budgetChars int) (kept, dropped []*models.Message, messagesDropped int) {
	total := estimateContextChars(messages)
	if total <= budgetChars {
		return messages, nil, 0
	}

	protectFrom, ok := findAssistantCutoffIndex(messages, settings.KeepLastAssistants)
	if !ok {
		protectFrom = 0
	}

	protectedChars := 0
	for i := protectFrom; i < len(messages); i++ {
		protectedChars += estimateMessageChars(messages[i])
	}

	keptSet := make(map[int]bool, len(messages))
	if protectedChars > budgetChars {
		// Fall back to a strictly backward fill from the end.
		used := 0
		for i := len(messages) - 1; i >= 0; i-- {
			c := estimateMessageChars(messages[i])
			if used+c > budgetChars && used > 0 {
				break
			}
			keptSet[i] = true
			used += c
		}
	} else {
		for i := protectFrom; i < len(messages); i++ {
			keptSet[i] = true
		}
		used := protectedChars
		for i := protectFrom - 1; i >= 0; i-- {
			c := estimateMessageChars(messages[i])
			if used+c > budgetChars {
				break
			}
			keptSet[i] = true
			used += c
		}
	}

	for i, msg := range messages {
		if keptSet[i] {
			kept = append(kept, msg)
		} else {
			dropped = append(dropped, msg)
			messagesDropped++
		}
	}
	return kept, dropped, messagesDropped
}

func findAssistantCutoffIndex(messages []*models.Message, keepLastAssistants int) (int, bool) {
	if keepLastAssistants <= 0 {
		return len(messages), true
	}
	remaining := keepLastAssistants
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == models.RoleAssistant {
			remaining--
			if remaining == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func findFirstUserIndex(messages []*models.Message) int {
	for i, msg := range messages {
		if msg != nil && msg.Role == models.RoleUser {
			return i
		}
	}
	return -1
}

func softTrimToolResult(content string, settings ContextPruningSettings) (string, bool) {
	rawLen := len(content)
	if rawLen <= settings.SoftTrim.MaxChars {
		return content, false
	}
	headChars := maxInt(settings.SoftTrim.HeadChars, 0)
	tailChars := maxInt(settings.SoftTrim.TailChars, 0)
	if headChars+tailChars >= rawLen {
		return content, false
	}
	head := content[:headChars]
	tail := content[len(content)-tailChars:]

	trimmed := head + "\n...\n" + tail
	note := "\n\n[Tool result trimmed: kept first " + strconv.Itoa(headChars) + " chars and last " + strconv.Itoa(tailChars) + " chars of " + strconv.Itoa(rawLen) + " chars.]"
	return trimmed + note, true
}

func makeToolPrunablePredicate(match ContextPruningToolMatch) func(string) bool {
	deny := normalizePatterns(match.Deny)
	allow := normalizePatterns(match.Allow)
	return func(toolName string) bool {
		normalized := strings.ToLower(strings.TrimSpace(toolName))
		if normalized == "" {
			return false
		}
		if matchesAny(normalized, deny) {
			return false
		}
		if len(allow) == 0 {
			return true
		}
		return matchesAny(normalized, allow)
	}
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		value := strings.ToLower(strings.TrimSpace(p))
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	return out
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if wildcardMatch(p, name) {
			return true
		}
	}
	return false
}

func wildcardMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	if len(parts) == 0 {
		return false
	}
	if parts[0] != "" {
		if !strings.HasPrefix(value, parts[0]) {
			return false
		}
		idx = len(parts[0])
	}
	for i := 1; i < len(parts)-1; i++ {
		part := parts[i]
		if part == "" {
			continue
		}
		pos := strings.Index(value[idx:], part)
		if pos < 0 {
			return false
		}
		idx += pos + len(part)
	}
	last := parts[len(parts)-1]
	if last != "" && !strings.HasSuffix(value, last) {
		return false
	}
	return true
}

func buildToolUseNameMap(messages []*models.Message) map[string]string {
	names := make(map[string]string)
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		for _, b := range msg.Content {
			if b.Type == models.BlockToolUse && b.ID != "" && b.Name != "" {
				names[b.ID] = b.Name
			}
		}
	}
	return names
}

func estimateContextChars(messages []*models.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateMessageChars(msg)
	}
	return total
}

func estimateMessageChars(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	chars := 0
	for _, b := range msg.Content {
		chars += len(b.Text) + len(b.Name) + len(b.Input) + len(b.Content)
	}
	return chars
}

func cloneMessages(messages []*models.Message) []*models.Message {
	out := make([]*models.Message, len(messages))
	copy(out, messages)
	return out
}

func maxInt(value, min int) int {
	if value < min {
		return min
	}
	return value
}
