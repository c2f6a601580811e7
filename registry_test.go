package taskloop

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// pipeFixture returns the read and write ends of a pipe, closed on cleanup.
func pipeFixture(t *testing.T) (int, int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func registryFixture(t *testing.T) *registry {
	t.Helper()
	reg, err := newRegistry(8)
	if err != nil {
		t.Fatalf("newRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.close() })
	return reg
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := registryFixture(t)
	r, _ := pipeFixture(t)

	if err := reg.register(r, 1, Readable); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.register(r, 2, Readable); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistry_ReregisterMissing(t *testing.T) {
	reg := registryFixture(t)
	r, _ := pipeFixture(t)

	if err := reg.reregister(r, 1, Readable); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if err := reg.deregister(r); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRegistry_WaitReadable(t *testing.T) {
	reg := registryFixture(t)
	r, w := pipeFixture(t)

	if err := reg.register(r, 42, Readable); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := unix.Write(w, []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	events := make([]Event, 8)
	n, err := reg.wait(events, 1000)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	if events[0].Token != 42 {
		t.Fatalf("expected token 42, got %d", events[0].Token)
	}
	if events[0].Ready&Readable == 0 {
		t.Fatalf("expected readable, got %s", events[0].Ready)
	}
}

func TestRegistry_WaitTimeout(t *testing.T) {
	reg := registryFixture(t)
	r, _ := pipeFixture(t)

	if err := reg.register(r, 1, Readable); err != nil {
		t.Fatalf("register: %v", err)
	}

	events := make([]Event, 8)
	n, err := reg.wait(events, 0)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no events, got %d", n)
	}
}

// TestRegistry_PokeUnblocksWait verifies a poke interrupts a blocked wait
// without surfacing an event, and that the wake channel re-arms after
// draining.
func TestRegistry_PokeUnblocksWait(t *testing.T) {
	reg := registryFixture(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		reg.poke()
	}()

	events := make([]Event, 8)
	n, err := reg.wait(events, 1000)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("pokes must not surface as events, got %d", n)
	}
	if reg.wakePending.Load() != 0 {
		t.Fatal("expected the poke guard re-armed after draining")
	}

	n, err = reg.wait(events, 0)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected a drained wake channel, got %d events", n)
	}

	reg.poke()
	reg.poke()
	n, err = reg.wait(events, 1000)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("pokes must not surface as events, got %d", n)
	}
}

// socketpairFixture returns a connected stream socket pair, closed on
// cleanup. Unlike pipes, both ends support read and write interest.
func socketpairFixture(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// TestRegistry_Reregister verifies a replaced registration reports events
// under the new token and interest, and stops reporting the old ones.
func TestRegistry_Reregister(t *testing.T) {
	reg := registryFixture(t)
	a, b := socketpairFixture(t)

	if err := reg.register(a, 1, Readable); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := unix.Write(b, []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	events := make([]Event, 8)
	n, err := reg.wait(events, 1000)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 || events[0].Token != 1 || events[0].Ready&Readable == 0 {
		t.Fatalf("expected readable under token 1, got %d events (first %+v)", n, events[0])
	}

	// Swap to write interest; the still-unread byte must no longer report,
	// while the empty send buffer reports writable immediately.
	if err := reg.reregister(a, 7, Writable); err != nil {
		t.Fatalf("reregister: %v", err)
	}
	n, err = reg.wait(events, 1000)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 || events[0].Token != 7 || events[0].Ready&Writable == 0 {
		t.Fatalf("expected writable under token 7, got %d events (first %+v)", n, events[0])
	}
}

func TestRegistry_DeregisterSilences(t *testing.T) {
	reg := registryFixture(t)
	r, w := pipeFixture(t)

	if err := reg.register(r, 1, Readable); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := unix.Write(w, []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := reg.deregister(r); err != nil {
		t.Fatalf("deregister: %v", err)
	}

	events := make([]Event, 8)
	n, err := reg.wait(events, 0)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no events after deregister, got %d", n)
	}
}

// TestRegistry_HangupFoldsIntoReadiness verifies peer shutdown fires as
// readiness rather than a separate error channel.
func TestRegistry_HangupFoldsIntoReadiness(t *testing.T) {
	reg := registryFixture(t)
	r, w := pipeFixture(t)

	if err := reg.register(r, 3, Readable); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := unix.Close(w); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := make([]Event, 8)
	n, err := reg.wait(events, 1000)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
	if events[0].Ready&Readable == 0 {
		t.Fatalf("hangup should surface as readable, got %s", events[0].Ready)
	}
}

func TestRegistry_Closed(t *testing.T) {
	reg := registryFixture(t)
	r, _ := pipeFixture(t)

	if err := reg.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := reg.close(); err != nil {
		t.Fatalf("close should be idempotent: %v", err)
	}
	if err := reg.register(r, 1, Readable); !errors.Is(err, ErrPollerClosed) {
		t.Fatalf("expected ErrPollerClosed, got %v", err)
	}
	if _, err := reg.wait(make([]Event, 1), 0); !errors.Is(err, ErrPollerClosed) {
		t.Fatalf("expected ErrPollerClosed, got %v", err)
	}
}

func TestInterest_String(t *testing.T) {
	for _, tc := range [...]struct {
		in   Interest
		want string
	}{
		{Readable, "readable"},
		{Writable, "writable"},
		{Readable | Writable, "readable|writable"},
		{0, "none"},
	} {
		if got := tc.in.String(); got != tc.want {
			t.Errorf("Interest(%d).String() = %q, want %q", tc.in, got, tc.want)
		}
	}
}
