package events

import (
	"sync/atomic"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Kind tags an Event variant. The taxonomy is exhaustive for the core
// (spec §4.4) — closed set, switch on Kind at consumption points.
type Kind string

const (
	KindAgentStart             Kind = "agent_start"
	KindAgentEnd               Kind = "agent_end"
	KindAgentError             Kind = "agent_error"
	KindTurnStart              Kind = "turn_start"
	KindTurnEnd                Kind = "turn_end"
	KindMessageStart           Kind = "message_start"
	KindMessageDelta           Kind = "message_delta"
	KindMessageEnd             Kind = "message_end"
	KindToolExecutionStart     Kind = "tool_execution_start"
	KindToolExecutionEnd       Kind = "tool_execution_end"
	KindToolSkipped            Kind = "tool_skipped"
	KindSteering               Kind = "steering"
	KindCompaction             Kind = "compaction"
	KindContextOverflowCompact Kind = "context_overflow_compact"
	KindRetry                  Kind = "retry"
	KindSubagentSummary        Kind = "subagent_summary"
	KindSubagentError          Kind = "subagent_error"
)

// IsTerminal reports whether this event kind ends the stream (spec §4.4:
// "agent_end and agent_error" are the recognized terminal markers).
func (k Kind) IsTerminal() bool {
	return k == KindAgentEnd || k == KindAgentError
}

// Event is the single concrete type pushed on a turn-loop Stream. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind      Kind      `json:"kind"`
	Seq       uint64    `json:"seq"`
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`

	// turn_start / turn_end
	Turn int `json:"turn,omitempty"`

	// agent_error / subagent_error
	Error string `json:"error,omitempty"`

	// message_delta
	Delta string `json:"delta,omitempty"`

	// message_end
	Message *models.Message `json:"message,omitempty"`
	Text    string          `json:"text,omitempty"`

	// tool_execution_start / tool_execution_end / tool_skipped
	ToolUseID string `json:"tool_use_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	ToolArgs  string `json:"tool_args,omitempty"`
	ToolOut   string `json:"tool_result,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// steering
	PendingCount int `json:"pending_count,omitempty"`

	// compaction
	SummaryChars    int `json:"summary_chars,omitempty"`
	DroppedMessages int `json:"dropped_messages,omitempty"`

	// retry
	Attempt int           `json:"attempt,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`

	// subagent_summary
	SubagentLabel   string `json:"subagent_label,omitempty"`
	SubagentSummary string `json:"subagent_summary,omitempty"`
}

// Result is the value an agent Stream[Event, Result] ends with.
type Result struct {
	RunID      string
	Text       string
	Turns      int
	ToolCalls  int
	Skipped    bool
	CancelledP bool
	Err        error
}

// Emitter wraps a Stream[Event, Result] with a monotonic sequence counter
// and one method per event kind, mirroring internal/agent/event_emitter.go's
// architecture (atomic sequence, per-kind emit methods, single sink) but
// retargeted at the spec's exact taxonomy.
type Emitter struct {
	stream *Stream[Event, Result]
	runID  string
	seq    uint64
}

// NewEmitter constructs an Emitter over a fresh stream for the given run.
func NewEmitter(runID string) *Emitter {
	return &Emitter{stream: NewStream[Event, Result](), runID: runID}
}

// Stream returns the underlying stream for the consumer side.
func (e *Emitter) Stream() *Stream[Event, Result] { return e.stream }

func (e *Emitter) next() (uint64, time.Time) {
	return atomic.AddUint64(&e.seq, 1), time.Now()
}

func (e *Emitter) emit(ev Event) {
	ev.Seq, ev.Timestamp = e.next()
	ev.RunID = e.runID
	e.stream.Push(ev)
}

func (e *Emitter) AgentStart()    { e.emit(Event{Kind: KindAgentStart}) }
func (e *Emitter) TurnStart(turn int) { e.emit(Event{Kind: KindTurnStart, Turn: turn}) }
func (e *Emitter) TurnEnd(turn int)   { e.emit(Event{Kind: KindTurnEnd, Turn: turn}) }
func (e *Emitter) MessageStart()      { e.emit(Event{Kind: KindMessageStart}) }
func (e *Emitter) MessageDelta(delta string) {
	e.emit(Event{Kind: KindMessageDelta, Delta: delta})
}
func (e *Emitter) MessageEnd(msg *models.Message, text string) {
	e.emit(Event{Kind: KindMessageEnd, Message: msg, Text: text})
}
func (e *Emitter) ToolExecutionStart(id, name, args string) {
	e.emit(Event{Kind: KindToolExecutionStart, ToolUseID: id, ToolName: name, ToolArgs: args})
}
func (e *Emitter) ToolExecutionEnd(id, name, result string, isError bool) {
	e.emit(Event{Kind: KindToolExecutionEnd, ToolUseID: id, ToolName: name, ToolOut: result, IsError: isError})
}
func (e *Emitter) ToolSkipped(id, name string) {
	e.emit(Event{Kind: KindToolSkipped, ToolUseID: id, ToolName: name})
}
func (e *Emitter) Steering(pendingCount int) {
	e.emit(Event{Kind: KindSteering, PendingCount: pendingCount})
}
func (e *Emitter) Compaction(summaryChars, droppedMessages int) {
	e.emit(Event{Kind: KindCompaction, SummaryChars: summaryChars, DroppedMessages: droppedMessages})
}
func (e *Emitter) ContextOverflowCompact(err error) {
	e.emit(Event{Kind: KindContextOverflowCompact, Error: errString(err)})
}
func (e *Emitter) Retry(attempt int, delay time.Duration, err error) {
	e.emit(Event{Kind: KindRetry, Attempt: attempt, Delay: delay, Error: errString(err)})
}
func (e *Emitter) SubagentSummary(label, summary string) {
	e.emit(Event{Kind: KindSubagentSummary, SubagentLabel: label, SubagentSummary: summary})
}
func (e *Emitter) SubagentError(label string, err error) {
	e.emit(Event{Kind: KindSubagentError, SubagentLabel: label, Error: errString(err)})
}

// AgentEnd emits agent_end and ends the stream with result.
func (e *Emitter) AgentEnd(result Result) {
	e.emit(Event{Kind: KindAgentEnd})
	e.stream.End(result)
}

// AgentError emits agent_error and ends the stream with an empty result
// except for the error, per spec §7 disposition 3.
func (e *Emitter) AgentError(err error) {
	e.emit(Event{Kind: KindAgentError, Error: errString(err)})
	e.stream.End(Result{RunID: e.runID, Err: err})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
