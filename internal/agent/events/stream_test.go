package events

import (
	"sync"
	"testing"
	"time"
)

func TestStream_NextReturnsEventsInPushOrder(t *testing.T) {
	s := NewStream[int, string]()
	s.Push(1)
	s.Push(2)
	s.Push(3)
	s.End("done")

	var got []int
	for {
		e, ok := s.Next()
		if !ok {
			break
		}
		got = append(got, e)
	}
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("Next() sequence = %v, want [1 2 3]", got)
	}
}

func TestStream_ResultBlocksUntilEnd(t *testing.T) {
	s := NewStream[int, string]()
	var wg sync.WaitGroup
	wg.Add(1)
	var result string
	go func() {
		defer wg.Done()
		result = s.Result()
	}()

	time.Sleep(10 * time.Millisecond)
	s.Push(1)
	s.End("finished")
	wg.Wait()

	if result != "finished" {
		t.Fatalf("Result() = %q, want %q", result, "finished")
	}
}

func TestStream_NextBlocksUntilPushOrEnd(t *testing.T) {
	s := NewStream[int, string]()
	done := make(chan struct{})
	var event int
	var ok bool
	go func() {
		event, ok = s.Next()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Next() returned before any Push or End")
	case <-time.After(20 * time.Millisecond):
	}

	s.Push(42)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next() did not unblock after Push")
	}
	if !ok || event != 42 {
		t.Fatalf("Next() = (%d, %v), want (42, true)", event, ok)
	}
}

func TestStream_NextReturnsFalseAfterDrainedAndEnded(t *testing.T) {
	s := NewStream[int, string]()
	s.Push(1)
	s.End("x")

	if _, ok := s.Next(); !ok {
		t.Fatal("Next() = false on first call, want the buffered event")
	}
	if _, ok := s.Next(); ok {
		t.Fatal("Next() = true after drain, want false")
	}
}

func TestStream_PushAfterEndIsIgnored(t *testing.T) {
	s := NewStream[int, string]()
	s.End("x")
	s.Push(1)

	if _, ok := s.Next(); ok {
		t.Fatal("Next() returned an event pushed after End(), want none")
	}
}

func TestStream_EndIsIdempotent(t *testing.T) {
	s := NewStream[int, string]()
	s.End("first")
	s.End("second")

	if got := s.Result(); got != "first" {
		t.Fatalf("Result() = %q, want %q (first End wins)", got, "first")
	}
}

func TestStream_DoneChannelClosesOnEnd(t *testing.T) {
	s := NewStream[int, string]()
	select {
	case <-s.Done():
		t.Fatal("Done() closed before End()")
	default:
	}
	s.End("x")
	select {
	case <-s.Done():
	default:
		t.Fatal("Done() not closed after End()")
	}
}

func TestEmitter_SeqIsMonotonicAndRunIDStamped(t *testing.T) {
	e := NewEmitter("run-1")
	e.AgentStart()
	e.TurnStart(1)
	e.AgentEnd(Result{RunID: "run-1", Text: "ok"})

	s := e.Stream()
	var seqs []uint64
	for {
		ev, ok := s.Next()
		if !ok {
			break
		}
		if ev.RunID != "run-1" {
			t.Errorf("event %v has RunID %q, want run-1", ev.Kind, ev.RunID)
		}
		seqs = append(seqs, ev.Seq)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("seq not monotonic: %v", seqs)
		}
	}
	if result := s.Result(); result.Text != "ok" {
		t.Fatalf("Result().Text = %q, want ok", result.Text)
	}
}

func TestEmitter_AgentEndEmitsTerminalKindAndEndsStream(t *testing.T) {
	e := NewEmitter("run-2")
	e.AgentEnd(Result{RunID: "run-2"})

	s := e.Stream()
	var lastKind Kind
	for {
		ev, ok := s.Next()
		if !ok {
			break
		}
		lastKind = ev.Kind
	}
	if !lastKind.IsTerminal() {
		t.Fatalf("last event kind = %v, want a terminal kind", lastKind)
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("stream not ended after AgentEnd")
	}
}

func TestEmitter_AgentErrorEndsStreamWithErr(t *testing.T) {
	e := NewEmitter("run-3")
	boom := errBoom{}
	e.AgentError(boom)

	s := e.Stream()
	for {
		if _, ok := s.Next(); !ok {
			break
		}
	}
	result := s.Result()
	if result.Err == nil || result.Err.Error() != "boom" {
		t.Fatalf("Result().Err = %v, want boom", result.Err)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
