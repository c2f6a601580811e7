package taskloop_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	taskloop "github.com/joeycumines/go-taskloop"
)

// TestWaker_ExternalGoroutineRoundTrip parks a task with no descriptor wait
// and wakes it from another goroutine, forcing the wake through the loop's
// wake descriptor while it is blocked in a readiness wait.
func TestWaker_ExternalGoroutineRoundTrip(t *testing.T) {
	x, err := taskloop.New[string]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	polls := 0
	wakerCh := make(chan taskloop.Waker, 1)
	root := func(ref *taskloop.Ref[string]) taskloop.Future {
		return taskloop.FutureFunc(func(ctx *taskloop.Context) taskloop.Outcome {
			polls++
			if polls == 1 {
				wakerCh <- *ctx.Waker()
				return taskloop.Pending
			}
			return taskloop.Ready
		})
	}

	go func() {
		w := <-wakerCh
		time.Sleep(100 * time.Millisecond)
		w.Wake()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := x.Run(ctx, "root", root); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if polls != 2 {
		t.Fatalf("expected 2 polls, got %d", polls)
	}
	s := x.Stats()
	if s.Wakes != 1 {
		t.Fatalf("expected 1 wake, got %d", s.Wakes)
	}
	if s.Waits < 1 {
		t.Fatalf("loop should have blocked before the wake, stats %+v", s)
	}
}

// TestWaker_CoalescedDoubleWake delivers two wakes before the task parks;
// they must collapse into a single re-poll.
func TestWaker_CoalescedDoubleWake(t *testing.T) {
	x, err := taskloop.New[string]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	polls := 0
	root := func(ref *taskloop.Ref[string]) taskloop.Future {
		return taskloop.FutureFunc(func(ctx *taskloop.Context) taskloop.Outcome {
			polls++
			if polls == 1 {
				ctx.Waker().Wake()
				ctx.Waker().Wake()
				return taskloop.Pending
			}
			return taskloop.Ready
		})
	}
	if err := x.Run(context.Background(), "root", root); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if polls != 2 {
		t.Fatalf("two wakes before parking must coalesce into one re-poll, got %d polls", polls)
	}
	s := x.Stats()
	if s.Wakes != 2 {
		t.Fatalf("expected 2 wakes, got %d", s.Wakes)
	}
	if s.Waits != 0 {
		t.Fatalf("expected no waits, got %d", s.Waits)
	}
}

// TestWaker_ParkedTaskResumedOnlyByReadiness parks a task on a quiet
// descriptor and wakes it from another goroutine. The wake must not re-poll
// the task; only readiness on its token may.
func TestWaker_ParkedTaskResumedOnlyByReadiness(t *testing.T) {
	a, b := connPair(t)

	x, err := taskloop.New[string]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var polls atomic.Int32
	wakerCh := make(chan taskloop.Waker, 1)
	root := func(ref *taskloop.Ref[string]) taskloop.Future {
		return taskloop.FutureFunc(func(ctx *taskloop.Context) taskloop.Outcome {
			if polls.Add(1) == 1 {
				if err := ref.Register(a, 7, taskloop.Readable); err != nil {
					t.Errorf("register: %v", err)
					return taskloop.Ready
				}
				wakerCh <- *ctx.Waker()
				return taskloop.Pending
			}
			buf := make([]byte, 8)
			if _, err := a.Read(buf); err != nil {
				t.Errorf("read: %v", err)
			}
			if err := ref.Deregister(a); err != nil {
				t.Errorf("deregister: %v", err)
			}
			return taskloop.Ready
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- x.Run(ctx, "root", root) }()

	w := <-wakerCh
	w.Wake()
	time.Sleep(100 * time.Millisecond)
	if got := polls.Load(); got != 1 {
		t.Fatalf("wake alone must not resume a parked task, got %d polls", got)
	}

	if _, err := b.Write([]byte("go")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := <-runDone; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := polls.Load(); got != 2 {
		t.Fatalf("expected readiness to trigger the second poll, got %d", got)
	}
	s := x.Stats()
	if s.Wakes != 1 {
		t.Fatalf("expected 1 wake, got %d", s.Wakes)
	}
	if s.IOEvents < 1 {
		t.Fatalf("expected a readiness event, stats %+v", s)
	}
}

// TestWaker_AfterCompletionNoOp verifies a waker outliving its task is inert.
func TestWaker_AfterCompletionNoOp(t *testing.T) {
	x, err := taskloop.New[string]()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var w taskloop.Waker
	root := func(ref *taskloop.Ref[string]) taskloop.Future {
		return taskloop.FutureFunc(func(ctx *taskloop.Context) taskloop.Outcome {
			w = *ctx.Waker()
			return taskloop.Ready
		})
	}
	if err := x.Run(context.Background(), "root", root); err != nil {
		t.Fatalf("Run: %v", err)
	}

	w.Wake()
	w.Wake()
	if s := x.Stats(); s.Wakes != 0 {
		t.Fatalf("post-completion wakes must not count, got %d", s.Wakes)
	}
}

func TestWaker_ZeroValue(t *testing.T) {
	var w taskloop.Waker
	w.Wake()

	var p *taskloop.Waker
	p.Wake()
}
