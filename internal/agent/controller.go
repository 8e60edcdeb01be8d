package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/agent/events"
	"github.com/haasonsaas/nexus/internal/compaction"
	"github.com/haasonsaas/nexus/internal/lanes"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/skills"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Context window guard thresholds (spec §4.8).
const (
	DefaultWarnContextTokens = 8000
	DefaultMinContextTokens  = 1000
)

// SandboxSettings gates the deny-only tool policy layer derived from a
// run's sandbox configuration (spec §4.8: "no exec if exec is disabled; no
// write/edit if writes are disabled").
type SandboxSettings struct {
	Enabled    bool
	AllowExec  bool
	AllowWrite bool
}

// denyPatterns returns the tool-name glob patterns this sandbox forbids.
func (s SandboxSettings) denyPatterns() []string {
	if !s.Enabled {
		return nil
	}
	var deny []string
	if !s.AllowExec {
		deny = append(deny, "exec", "exec*")
	}
	if !s.AllowWrite {
		deny = append(deny, "write", "write*", "edit", "edit*")
	}
	return deny
}

// ProjectContextFile is one Bootstrap file folded into the system prompt's
// Project Context block, already head+tail truncated if oversized.
type ProjectContextFile struct {
	Name    string
	Content string
}

// ControllerConfig wires one Run Controller instance (spec §4.8).
type ControllerConfig struct {
	AgentID  string
	Provider LLMProvider
	Store    sessions.Store // wrapped in a GuardStore automatically if not already one
	Registry *ToolRegistry
	Lanes    *lanes.Registry
	Skills   *skills.Manager

	SystemPromptBase string
	WorkspaceRoot    string
	BootstrapFiles   []string // filenames read, in order, for the Project Context block

	ToolPolicy ToolPolicy
	Sandbox    SandboxSettings

	Model                string
	MaxTurns             int
	MaxTokens            int
	Temperature          float64
	ContextWindowTokens  int
	MaxConcurrentRuns    int
	WarnContextTokens    int
	MinContextTokens     int
	EnableThinking       bool
	ThinkingBudgetTokens int

	Pruning   agentctx.ContextPruningSettings
	Summarize compaction.SummarizeFunc
	ToolExec  ToolExecConfig
}

// Controller drives top-level invocations of one agent: session key
// normalization, cancellation, steering, system prompt assembly, tool
// policy resolution, subagent spawning, and the context-window guard
// (spec §4.8). It owns a Loop and reuses it for every run.
type Controller struct {
	agentID  string
	store    *sessions.GuardStore
	registry *ToolRegistry
	loop     *Loop
	lanes    *lanes.Registry
	skills   *skills.Manager

	systemPromptBase string
	workspaceRoot    string
	bootstrapFiles   []string

	basePolicy ToolPolicy
	sandbox    SandboxSettings

	maxTurns             int
	contextWindowTokens  int
	maxConcurrentRuns    int
	warnContextTokens    int
	minContextTokens     int
	maxTokens            int
	temperature          float64
	model                string
	enableThinking       bool
	thinkingBudgetTokens int

	mu             sync.Mutex
	steeringQueues map[string]*SteeringQueue
	runCancels     map[string]context.CancelFunc
	runStreams     map[string]*events.Stream[events.Event, events.Result]
	runEmitters    map[string]*events.Emitter
	listeners      map[int]func(events.Event)
	nextListenerID int
}

// NewController constructs a Controller from cfg, registering the
// spawn_subagent tool on the given registry.
func NewController(cfg ControllerConfig) *Controller {
	guard, ok := cfg.Store.(*sessions.GuardStore)
	if !ok {
		guard = sessions.NewGuardStore(cfg.Store)
	}

	warnTokens := cfg.WarnContextTokens
	if warnTokens <= 0 {
		warnTokens = DefaultWarnContextTokens
	}
	minTokens := cfg.MinContextTokens
	if minTokens <= 0 {
		minTokens = DefaultMinContextTokens
	}
	maxConcurrent := cfg.MaxConcurrentRuns
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	c := &Controller{
		agentID:              cfg.AgentID,
		store:                guard,
		registry:             cfg.Registry,
		lanes:                cfg.Lanes,
		skills:               cfg.Skills,
		systemPromptBase:     cfg.SystemPromptBase,
		workspaceRoot:        cfg.WorkspaceRoot,
		bootstrapFiles:       cfg.BootstrapFiles,
		basePolicy:           cfg.ToolPolicy,
		sandbox:              cfg.Sandbox,
		maxTurns:             cfg.MaxTurns,
		contextWindowTokens:  cfg.ContextWindowTokens,
		maxConcurrentRuns:    maxConcurrent,
		warnContextTokens:    warnTokens,
		minContextTokens:     minTokens,
		maxTokens:            cfg.MaxTokens,
		temperature:          cfg.Temperature,
		model:                cfg.Model,
		enableThinking:       cfg.EnableThinking,
		thinkingBudgetTokens: cfg.ThinkingBudgetTokens,
		steeringQueues:       make(map[string]*SteeringQueue),
		runCancels:           make(map[string]context.CancelFunc),
		runStreams:           make(map[string]*events.Stream[events.Event, events.Result]),
		runEmitters:          make(map[string]*events.Emitter),
		listeners:            make(map[int]func(events.Event)),
	}

	c.loop = NewLoop(LoopConfig{
		Provider:  cfg.Provider,
		Store:     guard,
		Registry:  cfg.Registry,
		ToolExec:  cfg.ToolExec,
		Pruning:   cfg.Pruning,
		Summarize: cfg.Summarize,
	})

	if cfg.Registry != nil {
		cfg.Registry.Register(newSpawnSubagentTool(c))
	}

	return c
}

// NormalizeKey resolves a caller-supplied sessionKey or sessionID to the
// canonical "agent:<agentId>:<tail>" form.
func (c *Controller) NormalizeKey(sessionKey, sessionID string) (string, error) {
	return sessions.NormalizeSessionKey(c.agentID, sessionKey, sessionID)
}

// CheckContextWindow validates a configured token budget against the
// guard's warn/refuse thresholds (spec §4.8).
func (c *Controller) CheckContextWindow(tokens int) (warn bool, err error) {
	if tokens <= 0 {
		tokens = c.contextWindowTokens
	}
	if tokens < c.minContextTokens {
		return false, fmt.Errorf("agent: context window %d tokens is below the minimum of %d", tokens, c.minContextTokens)
	}
	return tokens < c.warnContextTokens, nil
}

// Reset clears key's entire transcript and compaction record (spec §6
// "agent.reset(key)"). The session key format is unchanged by a reset —
// the next Run against key starts a fresh transcript under the same key.
func (c *Controller) Reset(ctx context.Context, key string) error {
	return c.store.Clear(ctx, key)
}

// GetHistory returns key's full message transcript, including the
// materialized compaction summary if one exists (spec §6
// "agent.getHistory(key) -> []Message").
func (c *Controller) GetHistory(ctx context.Context, key string) ([]*models.Message, error) {
	return c.store.Load(ctx, key)
}

// ListSessions returns every session key known to the store (spec §6
// "agent.listSessions() -> []key").
func (c *Controller) ListSessions(ctx context.Context) ([]string, error) {
	return c.store.List(ctx)
}

func (c *Controller) steeringQueueFor(key string) *SteeringQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.steeringQueues[key]
	if !ok {
		q = NewSteeringQueue()
		c.steeringQueues[key] = q
	}
	return q
}

// Steer enqueues a steering message onto key's queue (spec §4.8). The loop
// drains it only at its well-defined checkpoints.
func (c *Controller) Steer(key, text string) {
	c.steeringQueueFor(key).SteerText(text)
}

// FollowUp enqueues a follow-up message processed once the current run
// would otherwise stop.
func (c *Controller) FollowUp(key, text string) {
	c.steeringQueueFor(key).FollowUpText(text)
}

// Subscribe registers listener to receive every event from every run this
// Controller drives, in push order (spec §6 "agent.subscribe(listener) ->
// unsubscribe"). The returned function removes the listener; calling it
// more than once is a no-op.
func (c *Controller) Subscribe(listener func(events.Event)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = listener
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Controller) broadcast(ev events.Event) {
	c.mu.Lock()
	listeners := make([]func(events.Event), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

// Abort cancels one run by id, or every in-flight run when runID is empty
// (spec §4.8's abort(runId?)).
func (c *Controller) Abort(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if runID == "" {
		for _, cancel := range c.runCancels {
			cancel()
		}
		return
	}
	if cancel, ok := c.runCancels[runID]; ok {
		cancel()
	}
}

// RunResult is the outcome of one top-level invocation (spec §6
// "agent.run(...) -> {runId, text, turns, toolCalls}").
type RunResult struct {
	RunID     string
	Text      string
	Turns     int
	ToolCalls int
	Cancelled bool
}

// SessionKind distinguishes which Bootstrap file subset a run's system
// prompt draws from (SPEC_FULL.md §6 Open Question 3): a main session
// loads the full workspace context, a subagent loads a reduced, task-
// focused subset, and a caller-supplied session key is treated like main.
type SessionKind int

const (
	SessionKindMain SessionKind = iota
	SessionKindSubagent
)

func sessionKindFor(key string) SessionKind {
	if sessions.IsSubagentKey(key) {
		return SessionKindSubagent
	}
	return SessionKindMain
}

// Run drives one top-level invocation: normalizes the session key, loads
// history, assembles the system prompt and tool policy fresh, runs the
// turn loop to completion, and flushes the tool-result guard (spec §4.8,
// §4.2 S6).
func (c *Controller) Run(ctx context.Context, sessionKeyOrID, userMessage string) (*RunResult, error) {
	key, err := c.NormalizeKey(sessionKeyOrID, "")
	if err != nil {
		return nil, err
	}
	return c.run(ctx, key, userMessage)
}

func (c *Controller) run(ctx context.Context, key, userMessage string) (*RunResult, error) {
	if _, err := c.CheckContextWindow(c.contextWindowTokens); err != nil {
		return nil, err
	}

	history, err := c.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("agent: load history for %s: %w", key, err)
	}

	systemPrompt := c.buildSystemPrompt(sessionKindFor(key))
	policy := c.resolveToolPolicy()

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	runCtx = observability.AddRunID(runCtx, runID)
	runCtx = observability.AddSessionID(runCtx, key)
	runCtx = WithToolPolicy(runCtx, policy)
	queue := c.steeringQueueFor(key)
	runCtx = WithSteeringQueue(runCtx, queue)

	c.mu.Lock()
	c.runCancels[runID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.runCancels, runID)
		delete(c.runStreams, runID)
		delete(c.runEmitters, runID)
		c.mu.Unlock()
		cancel()
	}()

	pending := []*models.Message{models.NewTextMessage(models.RoleUser, userMessage)}

	task := func(taskCtx context.Context) (*RunResult, error) {
		stream, emitter := c.loop.Run(taskCtx, RunParams{
			RunID:                runID,
			SessionKey:           key,
			History:              history,
			Pending:              pending,
			Model:                c.model,
			System:               systemPrompt,
			MaxTurns:             c.maxTurns,
			ContextWindowTokens:  c.contextWindowTokens,
			MaxTokens:            c.maxTokens,
			Temperature:          c.temperature,
			EnableThinking:       c.enableThinking,
			ThinkingBudgetTokens: c.thinkingBudgetTokens,
		})

		c.mu.Lock()
		c.runStreams[runID] = stream
		c.runEmitters[runID] = emitter
		c.mu.Unlock()

		for {
			ev, ok := stream.Next()
			if !ok {
				break
			}
			c.broadcast(ev)
		}
		result := stream.Result()

		if flushErr := c.store.FlushPending(ctx, key); flushErr != nil {
			return nil, flushErr
		}
		if result.Err != nil {
			return nil, result.Err
		}
		return &RunResult{
			RunID:     result.RunID,
			Text:      result.Text,
			Turns:     result.Turns,
			ToolCalls: result.ToolCalls,
			Cancelled: result.CancelledP,
		}, nil
	}

	return c.enqueue(runCtx, key, task)
}

// enqueue serializes task through the per-session lane, which itself
// enqueues onto the global lane, bounding total concurrency across every
// session (spec §4.3, P2, P3).
func (c *Controller) enqueue(ctx context.Context, key string, task lanes.Task[*RunResult]) (*RunResult, error) {
	if c.lanes == nil {
		return task(ctx)
	}
	sessionLane := c.lanes.Lane(lanes.SessionLaneName(key), 1)
	globalLane := c.lanes.Lane(lanes.GlobalLaneName, c.maxConcurrentRuns)

	return lanes.Enqueue(ctx, sessionLane, func(sessionCtx context.Context) (*RunResult, error) {
		return lanes.Enqueue(sessionCtx, globalLane, task, lanes.EnqueueOptions{})
	}, lanes.EnqueueOptions{})
}

// resolveToolPolicy intersects the caller-configured policy with the
// sandbox-derived deny-only layer (spec §4.8: "a tool passes only if it
// passes every policy layer").
func (c *Controller) resolveToolPolicy() ToolPolicy {
	sandboxPolicy := ToolPolicy{Deny: c.sandbox.denyPatterns()}
	return c.basePolicy.Intersect(sandboxPolicy)
}

// buildSystemPrompt assembles, in order: base prompt, Project Context
// block, Skills block, Memory guidance, Sandbox note (spec §4.8).
func (c *Controller) buildSystemPrompt(kind SessionKind) string {
	var sections []string
	if c.systemPromptBase != "" {
		sections = append(sections, c.systemPromptBase)
	}

	if block := c.projectContextBlock(kind); block != "" {
		sections = append(sections, block)
	}

	if block := c.skillsBlock(); block != "" {
		sections = append(sections, block)
	}

	if kind == SessionKindMain {
		sections = append(sections, "## Memory\nUse the workspace's MEMORY.md to record durable facts and preferences; read it before relying on recalled context.")
	}

	if c.sandbox.Enabled {
		sections = append(sections, c.sandboxNote())
	}

	return strings.Join(sections, "\n\n")
}

func (c *Controller) sandboxNote() string {
	var restrictions []string
	if !c.sandbox.AllowExec {
		restrictions = append(restrictions, "command execution")
	}
	if !c.sandbox.AllowWrite {
		restrictions = append(restrictions, "file writes and edits")
	}
	if len(restrictions) == 0 {
		return "## Sandbox\nThis run is sandboxed. No additional tool restrictions apply beyond the configured policy."
	}
	return fmt.Sprintf("## Sandbox\nThis run is sandboxed. Disabled: %s.", strings.Join(restrictions, ", "))
}

// bootstrapFileSubset returns the filenames loaded into the Project
// Context block for the given session kind. Subagent sessions get a
// reduced, task-focused subset: they skip USER.md and HEARTBEAT.md, which
// are main-session personalization concerns the subagent's task prompt
// already supersedes (SPEC_FULL.md §6 Open Question 3).
func (c *Controller) bootstrapFileSubset(kind SessionKind) []string {
	if len(c.bootstrapFiles) > 0 {
		if kind == SessionKindMain {
			return c.bootstrapFiles
		}
		subset := make([]string, 0, len(c.bootstrapFiles))
		for _, name := range c.bootstrapFiles {
			if name == "USER.md" || name == "HEARTBEAT.md" {
				continue
			}
			subset = append(subset, name)
		}
		return subset
	}
	if kind == SessionKindMain {
		return []string{"AGENTS.md", "SOUL.md", "USER.md", "IDENTITY.md", "TOOLS.md", "HEARTBEAT.md"}
	}
	return []string{"AGENTS.md", "SOUL.md", "IDENTITY.md", "TOOLS.md"}
}

const (
	projectContextHeadChars = 1500
	projectContextTailChars = 1500
)

func (c *Controller) projectContextBlock(kind SessionKind) string {
	if c.workspaceRoot == "" {
		return ""
	}
	var parts []string
	for _, name := range c.bootstrapFileSubset(kind) {
		content, err := readWorkspaceFile(c.workspaceRoot, name)
		if err != nil || content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("### %s\n%s", name, truncateHeadTail(content, projectContextHeadChars, projectContextTailChars)))
	}
	if len(parts) == 0 {
		return ""
	}
	return "## Project Context\n\n" + strings.Join(parts, "\n\n")
}

// skillsBlock lists model-invocable eligible skills as an XML block (spec
// §4.8, §4.9). Skills with Metadata.DisableModelInvocation are omitted —
// they remain reachable only through explicit /skill dispatch.
func (c *Controller) skillsBlock() string {
	if c.skills == nil {
		return ""
	}
	eligible := c.skills.ListEligible()
	var entries []string
	for _, s := range eligible {
		if !s.IsModelInvocable() {
			continue
		}
		entries = append(entries, fmt.Sprintf("<skill><name>%s</name><description>%s</description><location>%s</location></skill>",
			s.Name, s.Description, s.Path))
	}
	if len(entries) == 0 {
		return ""
	}
	return "## Skills\n" + strings.Join(entries, "\n")
}

// spawnSubagentParams is the JSON shape the spawn_subagent tool accepts.
type spawnSubagentParams struct {
	Task    string `json:"task"`
	Label   string `json:"label"`
	Cleanup bool   `json:"cleanup"`
}

type spawnSubagentTool struct {
	controller *Controller
}

func newSpawnSubagentTool(c *Controller) *spawnSubagentTool {
	return &spawnSubagentTool{controller: c}
}

func (t *spawnSubagentTool) Name() string { return "spawn_subagent" }

func (t *spawnSubagentTool) Description() string {
	return "Runs a focused, independent sub-agent against its own session to carry out a delegated task, then reports a summary back."
}

func (t *spawnSubagentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"task": {"type": "string", "description": "The task for the sub-agent to perform"},
			"label": {"type": "string", "description": "A short label identifying this sub-agent's purpose"},
			"cleanup": {"type": "boolean", "description": "Clear the sub-agent's session once it finishes"}
		},
		"required": ["task"]
	}`)
}

func (t *spawnSubagentTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	var p spawnSubagentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &ToolResult{Content: "invalid spawn_subagent parameters: " + err.Error(), IsError: true}, nil
	}
	if p.Task == "" {
		return &ToolResult{Content: "spawn_subagent requires a non-empty task", IsError: true}, nil
	}

	parentKey := observability.GetSessionID(ctx)
	if sessions.IsSubagentKey(parentKey) {
		return &ToolResult{Content: "sub-agents must not spawn further sub-agents", IsError: true}, nil
	}

	label := p.Label
	if label == "" {
		label = "subagent"
	}

	result, err := t.controller.spawnSubagent(ctx, parentKey, p.Task, label, p.Cleanup)
	if err != nil {
		return &ToolResult{Content: "sub-agent run failed: " + err.Error(), IsError: true}, nil
	}
	return &ToolResult{Content: result.Text}, nil
}

// spawnSubagent implements the spec §4.8 spawnSubagent operation: an
// independent run against a synthesized child session, followed by a
// subagent_summary event on the parent's stream and a truncated summary
// message appended to the parent transcript.
func (c *Controller) spawnSubagent(ctx context.Context, parentKey, task, label string, cleanup bool) (*RunResult, error) {
	childKey := sessions.NewSubagentKey(c.agentID)

	// Independent of the parent run's cancellation (spec §4.8): aborting the
	// parent must not silently kill an in-progress sub-agent summary.
	result, runErr := c.run(context.WithoutCancel(ctx), childKey, task)

	runID := observability.GetRunID(ctx)
	c.mu.Lock()
	emitter := c.runEmitters[runID]
	c.mu.Unlock()

	if runErr != nil {
		if emitter != nil {
			emitter.SubagentError(label, runErr)
		}
		return nil, runErr
	}

	summary := result.Text
	if emitter != nil {
		emitter.SubagentSummary(label, summary)
	}

	truncated := summary
	if len(truncated) > 600 {
		truncated = truncated[:600]
	}
	summaryMsg := models.NewTextMessage(models.RoleUser, "[Sub-agent summary] "+truncated)
	if _, err := c.store.Append(ctx, parentKey, summaryMsg); err != nil {
		return nil, err
	}

	if cleanup {
		if err := c.store.Clear(ctx, childKey); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func readWorkspaceFile(root, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func truncateHeadTail(content string, headChars, tailChars int) string {
	if len(content) <= headChars+tailChars {
		return content
	}
	head := content[:headChars]
	tail := content[len(content)-tailChars:]
	return head + "\n...\n" + tail + fmt.Sprintf("\n[truncated: kept first %d and last %d of %d chars]", headChars, tailChars, len(content))
}
