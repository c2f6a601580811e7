package taskloop

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Executor lifecycle states, guarded by Executor.mu.
const (
	stateIdle int32 = iota
	stateRunning
	stateClosed
)

// Executor drives suspendable tasks to completion on a single run loop
// goroutine, parking tasks that wait on descriptor readiness and resuming
// them when the OS reports the descriptor ready.
//
// ID identifies tasks. IDs must not be reused while a previous task with the
// same ID is live: a collision silently overwrites the previous task's
// context entry, after which that task can no longer be woken or park
// reliably.
//
// Spawn and Stats may be called from any goroutine. Registration operations
// are task-scoped via [Ref] and only meaningful from inside a poll.
type Executor[ID comparable] struct {
	cfg      *executorOptions
	reg      *registry
	inj      *injector[*task[ID]]
	stats    stats
	sleeping atomic.Bool

	mu       sync.Mutex
	state    int32
	contexts map[ID]*taskContext
	orders   []ID // pending wake orders, drained by the run loop
}

// Factory produces the root future of a task. It receives the [Ref] bound
// to the task's ID, which the future may capture to register descriptor
// interest and to spawn sibling tasks.
type Factory[ID comparable] func(ref *Ref[ID]) Future

// New creates an executor. The platform poller and its wake channel are
// created eagerly, so an executor that is never run must be released with
// [Executor.Close].
func New[ID comparable](opts ...Option) (*Executor[ID], error) {
	cfg, err := resolveExecutorOptions(opts)
	if err != nil {
		return nil, err
	}

	reg, err := newRegistry(cfg.pollBatch)
	if err != nil {
		return nil, err
	}

	return &Executor[ID]{
		cfg:      cfg,
		reg:      reg,
		inj:      newInjector[*task[ID]](),
		contexts: make(map[ID]*taskContext),
	}, nil
}

// Run creates an executor, drives the task built by factory (and everything
// it spawns) to completion, and closes the executor.
func Run[ID comparable](ctx context.Context, id ID, factory Factory[ID], opts ...Option) error {
	x, err := New[ID](opts...)
	if err != nil {
		return err
	}
	return x.Run(ctx, id, factory)
}

// Spawn queues a new task for execution. The factory is invoked immediately
// on the caller's goroutine with a [Ref] bound to id; the resulting future
// is then polled exclusively by the run loop, never inline. If the loop is
// blocked in a readiness wait it is woken.
//
// Spawn may be called before Run (the task is queued until the loop starts),
// from inside another task's poll, or from any other goroutine. After the
// executor closes it returns [ErrExecutorClosed].
func (x *Executor[ID]) Spawn(id ID, factory Factory[ID]) error {
	if factory == nil {
		panic(`taskloop: nil factory`)
	}

	tc := &taskContext{}
	ref := &Ref[ID]{x: x, id: id, tc: tc}
	fut := factory(ref)
	if fut == nil {
		panic(`taskloop: factory returned nil future`)
	}

	t := &task[ID]{id: id, fut: fut, tc: tc}
	t.ctx.waker = Waker{wake: func() { x.wake(id, tc) }}

	x.mu.Lock()
	if x.state == stateClosed {
		x.mu.Unlock()
		return ErrExecutorClosed
	}
	x.contexts[id] = tc
	x.inj.push(t)
	x.mu.Unlock()

	x.stats.spawned.Add(1)
	x.pokeWake()
	x.cfg.logger.Debug().Any("id", id).Log("task spawned")
	return nil
}

// Run drives the executor until every task completes, blocking the calling
// goroutine. The root task is spawned from id and factory before the loop
// starts. Run may be called at most once; when it returns the executor is
// closed and its descriptors are released. Cancelling ctx interrupts a
// blocked readiness wait and returns ctx.Err(); remaining tasks are dropped.
// A panic escaping a task's poll propagates to the caller, after the same
// teardown.
func (x *Executor[ID]) Run(ctx context.Context, id ID, factory Factory[ID]) (err error) {
	x.mu.Lock()
	switch x.state {
	case stateRunning:
		x.mu.Unlock()
		return ErrRunning
	case stateClosed:
		x.mu.Unlock()
		return ErrExecutorClosed
	}
	x.state = stateRunning
	x.mu.Unlock()

	// Deferred: a panic unwinding out of a poll must still close the
	// executor and release its descriptors.
	defer func() {
		if terr := x.teardown(); err == nil {
			err = terr
		}
	}()

	if err := x.Spawn(id, factory); err != nil {
		return err
	}
	return x.run(ctx)
}

// Close releases the resources of an executor that was never run. It is
// idempotent, and returns [ErrRunning] while the run loop is active. Run
// performs the equivalent teardown itself, so Close after Run returns nil.
func (x *Executor[ID]) Close() error {
	x.mu.Lock()
	switch x.state {
	case stateRunning:
		x.mu.Unlock()
		return ErrRunning
	case stateClosed:
		x.mu.Unlock()
		return nil
	}
	x.state = stateClosed
	x.mu.Unlock()
	return x.teardown()
}

// Stats returns a snapshot of the executor's counters.
func (x *Executor[ID]) Stats() Stats {
	return x.stats.snapshot()
}

// run is the main loop. Each iteration drains the injection queue (polling
// every stolen task once, including tasks those polls queue), applies
// pending wake orders, then either terminates, continues, or blocks on
// readiness.
func (x *Executor[ID]) run(ctx context.Context) error {
	if x.cfg.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	// Wake a blocked readiness wait when the context is cancelled. The
	// watcher is joined before teardown; a poke must never race the wake
	// channel's close.
	ctxDone := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			x.reg.poke()
		case <-ctxDone:
		}
	}()
	defer func() {
		close(ctxDone)
		<-watcherDone
	}()

	parked := make(map[Token]*task[ID])
	suspended := make(map[ID]*task[ID])
	events := make([]Event, x.cfg.pollBatch)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		for {
			t, ok := x.inj.steal()
			if !ok {
				break
			}
			x.dispatch(t, parked, suspended)
		}

		if x.resumeWoken(suspended) {
			continue
		}

		// Sleep decision. After the sleeping store, producers poke the wake
		// descriptor, so a task queued after the emptiness check below
		// cannot be lost. The check-then-decide sequence is serialized with
		// Spawn and wake via mu; the state flip under the same critical
		// section is what makes clean termination and Spawn mutually
		// exclusive.
		x.sleeping.Store(true)
		x.mu.Lock()
		idle := len(x.orders) == 0 && x.inj.len() == 0
		if idle && len(parked) == 0 && len(suspended) == 0 {
			x.state = stateClosed
			x.mu.Unlock()
			x.sleeping.Store(false)
			return nil
		}
		x.mu.Unlock()
		if !idle {
			x.sleeping.Store(false)
			continue
		}

		x.stats.waits.Add(1)
		n, err := x.reg.wait(events, -1)
		x.sleeping.Store(false)
		if err != nil {
			x.cfg.logger.Err().Err(err).Log("readiness wait failed")
			return err
		}
		x.cfg.logger.Trace().Int("events", n).Log("readiness batch")

		for i := 0; i < n; i++ {
			ev := events[i]
			x.stats.ioEvents.Add(1)
			t, ok := parked[ev.Token]
			if !ok {
				continue
			}
			delete(parked, ev.Token)
			x.cfg.logger.Trace().Any("id", t.id).Uint64("token", uint64(ev.Token)).Str("ready", ev.Ready.String()).Log("task resumed by readiness")
			x.dispatch(t, parked, suspended)
		}
	}
}

// dispatch polls t once and routes it by the outcome and its recorded wait:
// completed tasks have their context entries erased, descriptor waits park
// on their token, woken tasks requeue immediately, and everything else
// moves to the suspended set awaiting an external wake.
func (x *Executor[ID]) dispatch(t *task[ID], parked map[Token]*task[ID], suspended map[ID]*task[ID]) {
	x.stats.polls.Add(1)
	outcome := t.fut.Poll(&t.ctx)

	if outcome == Ready {
		x.mu.Lock()
		if x.contexts[t.id] == t.tc {
			delete(x.contexts, t.id)
		}
		x.mu.Unlock()
		x.stats.completed.Add(1)
		x.cfg.logger.Debug().Any("id", t.id).Log("task completed")
		return
	}

	x.mu.Lock()
	wait := t.tc.wait
	if wait.kind == waitNone && t.tc.woken {
		t.tc.woken = false
		x.inj.push(t)
		x.mu.Unlock()
		return
	}
	x.mu.Unlock()

	switch wait.kind {
	case waitIO:
		// The wait reason persists in the task context until changed, so a
		// task that remains blocked after a readiness resume parks again
		// without re-registering.
		parked[wait.token] = t
		x.cfg.logger.Trace().Any("id", t.id).Uint64("token", uint64(wait.token)).Log("task parked")
	default:
		suspended[t.id] = t
		x.cfg.logger.Debug().Any("id", t.id).Log("task suspended awaiting wake")
	}
}

// resumeWoken drains queued wake orders, re-injecting any suspended task
// they name. Orders for tasks that are queued, parked on readiness, or
// already completed are dropped; for those, the woken flag (or the erased
// context entry) already captures everything the wake means.
func (x *Executor[ID]) resumeWoken(suspended map[ID]*task[ID]) bool {
	x.mu.Lock()
	orders := x.orders
	x.orders = nil
	x.mu.Unlock()

	if len(orders) == 0 {
		return false
	}

	resumed := false
	for _, id := range orders {
		t, ok := suspended[id]
		if !ok {
			continue
		}
		delete(suspended, id)
		x.mu.Lock()
		t.tc.woken = false
		x.inj.push(t)
		x.mu.Unlock()
		resumed = true
		x.cfg.logger.Debug().Any("id", id).Log("task woken")
	}
	return resumed
}

// wake implements [Waker] for the task spawned with id and tc. It no-ops
// unless the task's context entry is still the one the waker was bound to.
func (x *Executor[ID]) wake(id ID, tc *taskContext) {
	x.mu.Lock()
	if x.state == stateClosed || x.contexts[id] != tc {
		x.mu.Unlock()
		return
	}
	tc.woken = true
	x.orders = append(x.orders, id)
	x.mu.Unlock()

	x.stats.wakes.Add(1)
	x.pokeWake()
}

// pokeWake wakes a blocked run loop. Callers must have already published
// their work under mu.
func (x *Executor[ID]) pokeWake() {
	if x.sleeping.Load() {
		x.reg.poke()
	}
}

// teardown releases executor resources after the loop exits (or for Close),
// dropping any tasks still queued and erasing their context entries.
func (x *Executor[ID]) teardown() error {
	x.mu.Lock()
	x.state = stateClosed
	clear(x.contexts)
	x.orders = nil
	x.mu.Unlock()

	for {
		if _, ok := x.inj.steal(); !ok {
			break
		}
	}

	return x.reg.close()
}

// Ref is a task-scoped handle to the executor, passed to [Factory]. It
// spawns sibling tasks and records the readiness interest of its own task.
// The handle carries no foreign task identity: only the task it was created
// for can be parked through it.
//
// Ref implements [Registrar].
type Ref[ID comparable] struct {
	x  *Executor[ID]
	id ID
	tc *taskContext
}

// ID returns the identity of the task this handle was created for.
func (x *Ref[ID]) ID() ID {
	return x.id
}

// Spawn queues a sibling task. Equivalent to [Executor.Spawn].
func (x *Ref[ID]) Spawn(id ID, factory Factory[ID]) error {
	return x.x.Spawn(id, factory)
}

// live reports whether this handle's task entry is still current. Callers
// must hold x.x.mu.
func (x *Ref[ID]) live() bool {
	return x.x.state != stateClosed && x.x.contexts[x.id] == x.tc
}

// Register adds src to the readiness registry under tok and records that
// this task waits on it. A poll that then returns Pending parks the task
// until the descriptor is ready. The recorded wait persists across polls
// until replaced by another registration operation.
//
// One task per token: a second task parking on the same token displaces the
// first, which is then unreachable. Registering an already-registered
// descriptor returns [ErrAlreadyRegistered]; tok must not be the reserved
// wake token.
func (x *Ref[ID]) Register(src Source, tok Token, in Interest) error {
	if tok == wakeToken {
		return ErrReservedToken
	}
	fd := src.Fd()
	x.x.mu.Lock()
	if !x.live() {
		x.x.mu.Unlock()
		return ErrExecutorClosed
	}
	if err := x.x.reg.register(fd, tok, in); err != nil {
		x.x.mu.Unlock()
		return err
	}
	x.tc.wait = waitReason{kind: waitIO, token: tok}
	x.x.mu.Unlock()
	x.x.cfg.logger.Trace().Any("id", x.id).Int("fd", fd).Uint64("token", uint64(tok)).Str("interest", in.String()).Log("registered")
	return nil
}

// Reregister replaces the token and interest of src's existing registration
// and records the new wait for this task.
func (x *Ref[ID]) Reregister(src Source, tok Token, in Interest) error {
	if tok == wakeToken {
		return ErrReservedToken
	}
	fd := src.Fd()
	x.x.mu.Lock()
	if !x.live() {
		x.x.mu.Unlock()
		return ErrExecutorClosed
	}
	if err := x.x.reg.reregister(fd, tok, in); err != nil {
		x.x.mu.Unlock()
		return err
	}
	x.tc.wait = waitReason{kind: waitIO, token: tok}
	x.x.mu.Unlock()
	x.x.cfg.logger.Trace().Any("id", x.id).Int("fd", fd).Uint64("token", uint64(tok)).Str("interest", in.String()).Log("reregistered")
	return nil
}

// Deregister removes src from the readiness registry and clears this task's
// recorded wait.
func (x *Ref[ID]) Deregister(src Source) error {
	fd := src.Fd()
	x.x.mu.Lock()
	if !x.live() {
		x.x.mu.Unlock()
		return ErrExecutorClosed
	}
	if err := x.x.reg.deregister(fd); err != nil {
		x.x.mu.Unlock()
		return err
	}
	x.tc.wait = waitReason{}
	x.x.mu.Unlock()
	x.x.cfg.logger.Trace().Any("id", x.id).Int("fd", fd).Log("deregistered")
	return nil
}
