package taskloop

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Token identifies a readiness registration. Values are chosen by the
// caller; the run loop resumes whichever task recorded a wait on the token
// a readiness event reports.
type Token uint64

// wakeToken is reserved for the registry's internal wake channel.
const wakeToken = ^Token(0)

// Interest is a bitmask of readiness conditions a registration subscribes
// to.
type Interest uint8

const (
	// Readable subscribes to read readiness.
	Readable Interest = 1 << iota
	// Writable subscribes to write readiness.
	Writable
)

// String returns the string representation of the interest set.
func (x Interest) String() string {
	switch x & (Readable | Writable) {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	default:
		return "none"
	}
}

// Event is one readiness notification: the token of the registration and
// the conditions that are ready. Error and hangup conditions reported by
// the OS fold into the readiness bits, so a parked task always wakes and
// observes the failure from its own syscall.
type Event struct {
	Token Token
	Ready Interest
}

// pollEvent is a raw platform-level notification, in descriptor space. The
// registry translates these into token space.
type pollEvent struct {
	fd    int
	ready Interest
}

// registration is the registry's record for one descriptor.
type registration struct {
	token    Token
	interest Interest
}

// registry owns the platform polling handle, the table of current
// registrations, and the wake channel that lets other goroutines interrupt
// a blocked wait. Registration operations and poke may be used from any
// goroutine; wait is only ever called by the run loop.
type registry struct {
	poller *poller
	table  map[int]registration
	evBuf  []pollEvent

	wakeRead    int
	wakeWrite   int
	wakeBuf     [8]byte
	wakePending atomic.Uint32

	mu     sync.Mutex
	closed bool
}

// newRegistry creates a registry whose wait reports at most batch events
// per call. The wake channel is registered under the reserved token before
// the registry is handed out.
func newRegistry(batch int) (*registry, error) {
	p, err := newPoller(batch)
	if err != nil {
		return nil, err
	}
	x := &registry{
		poller: p,
		table:  make(map[int]registration),
		evBuf:  make([]pollEvent, batch),
	}
	x.wakeRead, x.wakeWrite, err = openWakeFDs()
	if err != nil {
		_ = p.close()
		return nil, err
	}
	if err := x.register(x.wakeRead, wakeToken, Readable); err != nil {
		_ = x.close()
		return nil, err
	}
	return x, nil
}

// register adds a descriptor under tok. A descriptor may only be registered
// once; use reregister to change its token or interest.
func (x *registry) register(fd int, tok Token, in Interest) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrPollerClosed
	}
	if _, ok := x.table[fd]; ok {
		return ErrAlreadyRegistered
	}
	if err := x.poller.add(fd, in); err != nil {
		return err
	}
	x.table[fd] = registration{token: tok, interest: in}
	return nil
}

// reregister replaces the token and interest of an existing registration.
func (x *registry) reregister(fd int, tok Token, in Interest) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrPollerClosed
	}
	old, ok := x.table[fd]
	if !ok {
		return ErrNotRegistered
	}
	if err := x.poller.mod(fd, old.interest, in); err != nil {
		return err
	}
	x.table[fd] = registration{token: tok, interest: in}
	return nil
}

// deregister removes a descriptor from the registry.
func (x *registry) deregister(fd int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrPollerClosed
	}
	old, ok := x.table[fd]
	if !ok {
		return ErrNotRegistered
	}
	if err := x.poller.del(fd, old.interest); err != nil {
		return err
	}
	delete(x.table, fd)
	return nil
}

// wait blocks until at least one registered descriptor is ready, filling
// events with (token, readiness) pairs. A negative timeoutMs blocks
// indefinitely. Events for descriptors deregistered concurrently are
// dropped, and wake pokes are consumed internally: a wait interrupted only
// by a poke reports zero events, as does one interrupted by a signal
// (EINTR).
func (x *registry) wait(events []Event, timeoutMs int) (int, error) {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return 0, ErrPollerClosed
	}
	x.mu.Unlock()

	n, err := x.poller.wait(x.evBuf, timeoutMs)
	if err != nil {
		return 0, err
	}

	woken := false
	x.mu.Lock()
	out := 0
	for i := 0; i < n; i++ {
		r, ok := x.table[x.evBuf[i].fd]
		if !ok {
			continue
		}
		if r.token == wakeToken {
			woken = true
			continue
		}
		if out < len(events) {
			events[out] = Event{Token: r.token, Ready: x.evBuf[i].ready}
			out++
		}
	}
	x.mu.Unlock()
	if woken {
		x.drainWake()
	}
	return out, nil
}

// poke interrupts a blocked wait, coalescing writes between drains. Safe
// from any goroutine; the write is skipped while an undrained poke is
// already in the channel.
func (x *registry) poke() {
	if x.wakePending.CompareAndSwap(0, 1) {
		var buf [8]byte
		binary.NativeEndian.PutUint64(buf[:], 1)
		_, _ = unix.Write(x.wakeWrite, buf[:])
	}
}

// drainWake empties the wake channel, then re-arms poke.
func (x *registry) drainWake() {
	for {
		if _, err := unix.Read(x.wakeRead, x.wakeBuf[:]); err != nil {
			break
		}
	}
	x.wakePending.Store(0)
}

// close releases the polling handle and the wake channel. Idempotent.
func (x *registry) close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	clear(x.table)
	err := x.poller.close()
	if cerr := unix.Close(x.wakeRead); cerr != nil && err == nil {
		err = cerr
	}
	if x.wakeWrite != x.wakeRead {
		if cerr := unix.Close(x.wakeWrite); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
