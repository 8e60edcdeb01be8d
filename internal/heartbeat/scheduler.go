package heartbeat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Reason identifies why a heartbeat turn fired.
type Reason string

const (
	// ReasonSchedule is a normal, policy-driven tick.
	ReasonSchedule Reason = "schedule"
	// ReasonExec is triggered by a completed background exec. Exec-triggered
	// heartbeats skip HEARTBEAT.md's normal front-matter/comment stripping,
	// so an author's exec-only note still reaches the model.
	ReasonExec Reason = "exec"
)

// FireFunc runs one heartbeat turn against text, HEARTBEAT.md's (possibly
// stripped) content for this reason.
type FireFunc func(ctx context.Context, reason Reason, text string) error

const (
	// DefaultCoalesceMs is the debounce window collapsing a burst of
	// heartbeat requests (several exec completions in a row, or an exec
	// landing right on top of a scheduled tick) into a single fire.
	DefaultCoalesceMs = 250 * time.Millisecond

	// retryAfterSkip is how soon a skipped or failed fire is retried,
	// rather than waiting for the next full policy interval.
	retryAfterSkip = time.Second

	// DefaultInterval is the base spacing between scheduled heartbeats.
	DefaultInterval = 30 * time.Minute

	// DefaultDuplicateWindow suppresses re-firing identical HEARTBEAT.md
	// content within this span.
	DefaultDuplicateWindow = 24 * time.Hour
)

// ActiveHours is a daily local-time window, expressed as offsets from
// midnight, during which scheduled heartbeats are allowed to fire. Start may
// be after End to express a window that wraps past midnight (e.g. 22:00 to
// 06:00).
type ActiveHours struct {
	Enabled bool
	Start   time.Duration
	End     time.Duration
}

// Contains reports whether t's time-of-day falls inside the window.
func (a ActiveHours) Contains(t time.Time) bool {
	if !a.Enabled {
		return true
	}
	tod := timeOfDay(t)
	if a.Start <= a.End {
		return tod >= a.Start && tod < a.End
	}
	return tod >= a.Start || tod < a.End
}

// NextOpen returns the earliest instant at or after from when the window is
// open: from itself if already inside the window (or disabled), otherwise
// the next midnight-plus-Start boundary, wrapping to the following day if
// that boundary has already passed today.
func (a ActiveHours) NextOpen(from time.Time) time.Time {
	if !a.Enabled || a.Contains(from) {
		return from
	}
	midnight := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	candidate := midnight.Add(a.Start)
	if !candidate.After(from) {
		candidate = candidate.Add(24 * time.Hour)
	}
	return candidate
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

// Coalescer debounces repeated heartbeat requests into a single in-flight
// fire (spec §4.10's coalescing layer). A request while a fire is already
// running is absorbed and replayed once that fire completes; a skipped or
// failed fire is retried shortly after rather than waiting for the next
// request.
type Coalescer struct {
	mu            sync.Mutex
	coalesceMs    time.Duration
	timer         *time.Timer
	pending       bool
	pendingReason Reason
	inFlight      bool
	fire          func(reason Reason) (skipped bool, err error)
}

// NewCoalescer builds a Coalescer with the given debounce window (falling
// back to DefaultCoalesceMs) calling fire on each collapsed request.
func NewCoalescer(coalesceMs time.Duration, fire func(reason Reason) (skipped bool, err error)) *Coalescer {
	if coalesceMs <= 0 {
		coalesceMs = DefaultCoalesceMs
	}
	return &Coalescer{coalesceMs: coalesceMs, fire: fire}
}

// Request marks reason pending and (re)arms the debounce timer.
func (c *Coalescer) Request(reason Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = true
	c.pendingReason = reason
	c.rearmLocked(c.coalesceMs)
}

// Stop cancels any pending timer. A fire already in flight still completes.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}

func (c *Coalescer) rearmLocked(after time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(after, c.runIfIdle)
}

func (c *Coalescer) runIfIdle() {
	c.mu.Lock()
	if c.inFlight || !c.pending {
		c.mu.Unlock()
		return
	}
	reason := c.pendingReason
	c.pending = false
	c.inFlight = true
	c.mu.Unlock()

	skipped, err := c.fire(reason)

	c.mu.Lock()
	c.inFlight = false
	switch {
	case skipped || err != nil:
		c.pending = true
		c.pendingReason = reason
		c.rearmLocked(retryAfterSkip)
	case c.pending:
		c.rearmLocked(c.coalesceMs)
	}
	c.mu.Unlock()
}

// PolicyConfig configures the self-rescheduling policy layer.
type PolicyConfig struct {
	// Interval is the base spacing between scheduled heartbeats.
	Interval time.Duration

	// ActiveHours restricts scheduled heartbeats to a daily window.
	ActiveHours ActiveHours

	// HeartbeatFile is the path to HEARTBEAT.md. A missing file yields no
	// scheduled heartbeats (the fire is skipped, not treated as an error).
	HeartbeatFile string

	// DuplicateWindow suppresses re-firing identical HEARTBEAT.md content
	// within this span.
	DuplicateWindow time.Duration

	// CronExpr, if set, overrides Interval with a standard five-field cron
	// expression ("*/30 * * * *") as the schedule source feeding nextDue.
	// Invalid expressions fall back to Interval.
	CronExpr string

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Scheduler is the full C10 heartbeat scheduler: a self-rescheduling policy
// timer (active-hours aware) feeding a Coalescer that actually fires the
// turn, with HEARTBEAT.md loading and duplicate-content suppression (spec
// §4.10).
type Scheduler struct {
	cfg       PolicyConfig
	coalescer *Coalescer
	fire      FireFunc
	cronSched cron.Schedule

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	lastFiredHash string
	lastFiredAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler builds a Scheduler. fire is invoked once per collapsed
// heartbeat request with HEARTBEAT.md's (possibly stripped) content.
func NewScheduler(cfg PolicyConfig, fire FireFunc) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = DefaultDuplicateWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Scheduler{cfg: cfg, fire: fire}
	if cfg.CronExpr != "" {
		if sched, err := cron.ParseStandard(cfg.CronExpr); err == nil {
			s.cronSched = sched
		}
	}
	s.coalescer = NewCoalescer(DefaultCoalesceMs, s.runOnce)
	return s
}

// Start arms the first policy tick. Calling Start while already running is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil && s.ctx.Err() == nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.stopped = false
	s.scheduleNextLocked()
}

// Stop halts further scheduling. A fire already in flight still completes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.coalescer.Stop()
}

// NotifyExec requests an immediate, coalesced heartbeat for an
// exec-completion reason without disturbing the policy's own schedule.
func (s *Scheduler) NotifyExec() {
	s.coalescer.Request(ReasonExec)
}

func (s *Scheduler) scheduleNextLocked() {
	if s.stopped {
		return
	}
	now := s.cfg.Now()
	var next time.Time
	if s.cronSched != nil {
		next = s.cronSched.Next(now)
	} else {
		next = now.Add(s.cfg.Interval)
	}
	next = s.cfg.ActiveHours.NextOpen(next)
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.onPolicyTick)
}

func (s *Scheduler) onPolicyTick() {
	s.coalescer.Request(ReasonSchedule)

	s.mu.Lock()
	s.scheduleNextLocked()
	s.mu.Unlock()
}

// runOnce is the Coalescer's fire callback: it loads HEARTBEAT.md, applies
// duplicate suppression, and invokes FireFunc.
func (s *Scheduler) runOnce(reason Reason) (skipped bool, err error) {
	text, err := readHeartbeatFile(s.cfg.HeartbeatFile, reason)
	if err != nil {
		return false, err
	}
	if text == "" {
		return true, nil
	}

	hash := contentHash(text)
	now := s.cfg.Now()

	s.mu.Lock()
	duplicate := reason == ReasonSchedule && hash == s.lastFiredHash && now.Sub(s.lastFiredAt) < s.cfg.DuplicateWindow
	ctx := s.ctx
	s.mu.Unlock()
	if duplicate {
		return true, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.fire(ctx, reason, text); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.lastFiredHash = hash
	s.lastFiredAt = now
	s.mu.Unlock()
	return false, nil
}

var htmlCommentPattern = regexp.MustCompile(`(?s)<!--.*?-->`)

// readHeartbeatFile loads HEARTBEAT.md and strips YAML front matter and HTML
// comments, both authoring notes rather than instructions for the model. An
// exec-triggered heartbeat is exempt from stripping, so an author's
// exec-only directive (often left inside an HTML comment) still reaches the
// model verbatim for that one case. A missing file returns ("", nil) so the
// caller treats it as a skip, not an error.
func readHeartbeatFile(path string, reason Reason) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	content := string(data)
	if reason == ReasonExec {
		return strings.TrimSpace(content), nil
	}

	content = stripFrontmatter(content)
	content = htmlCommentPattern.ReplaceAllString(content, "")
	return strings.TrimSpace(content), nil
}

func stripFrontmatter(content string) string {
	trimmed := strings.TrimLeft(content, "\n")
	if !strings.HasPrefix(trimmed, "---") {
		return content
	}
	lines := strings.Split(trimmed, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[i+1:], "\n")
		}
	}
	return content
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
