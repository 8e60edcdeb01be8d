package lanes

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLane_SerializesSessionLane(t *testing.T) {
	l := NewLane(SessionLaneName("s1"), 1)
	var running int32
	var overlapped bool
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Enqueue(context.Background(), l, func(ctx context.Context) (int, error) {
				if atomic.AddInt32(&running, 1) > 1 {
					overlapped = true
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return 0, nil
			}, EnqueueOptions{})
		}()
	}
	wg.Wait()

	if overlapped {
		t.Error("session lane allowed overlapping execution")
	}
}

func TestLane_CapsGlobalConcurrency(t *testing.T) {
	l := NewLane(GlobalLaneName, 2)
	var current int32
	var maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Enqueue(context.Background(), l, func(ctx context.Context) (int, error) {
				n := atomic.AddInt32(&current, 1)
				for {
					old := atomic.LoadInt32(&maxSeen)
					if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return 0, nil
			}, EnqueueOptions{})
		}()
	}
	wg.Wait()

	if maxSeen > 2 {
		t.Errorf("max concurrent = %d, want <= 2", maxSeen)
	}
	if maxSeen < 2 {
		t.Errorf("max concurrent = %d, want == 2 (cap should be reached with 8 tasks)", maxSeen)
	}
}

func TestLane_WarnAfterFiresOnSlowQueue(t *testing.T) {
	l := NewLane("warn-test", 1)
	block := make(chan struct{})

	go func() {
		_, _ = Enqueue(context.Background(), l, func(ctx context.Context) (int, error) {
			<-block
			return 0, nil
		}, EnqueueOptions{})
	}()

	// give the first task time to claim the active slot
	time.Sleep(2 * time.Millisecond)

	warned := make(chan time.Duration, 1)
	go func() {
		_, _ = Enqueue(context.Background(), l, func(ctx context.Context) (int, error) {
			return 0, nil
		}, EnqueueOptions{
			WarnAfter: 5 * time.Millisecond,
			OnWait:    func(d time.Duration) { warned <- d },
		})
	}()

	select {
	case <-warned:
	case <-time.After(200 * time.Millisecond):
		t.Error("OnWait was never called")
	}
	close(block)
}

func TestRegistry_LaneReuseAndDelete(t *testing.T) {
	r := NewRegistry()
	l1 := r.Lane("a", 1)
	l2 := r.Lane("a", 4)
	if l1 != l2 {
		t.Error("Lane() should return the same instance for the same name")
	}
	if !r.DeleteLane("a") {
		t.Error("DeleteLane should succeed on an idle lane")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
