package taskloop

// Outcome is the result of a single [Future.Poll] step.
type Outcome uint8

const (
	// Pending indicates the computation could not complete, and arranged (or
	// already arranged) to be resumed, either by readiness of a registered
	// descriptor or by a [Waker].
	Pending Outcome = iota

	// Ready indicates the computation completed. A future that returned
	// Ready is never polled again.
	Ready
)

// String returns the string representation of the outcome.
func (x Outcome) String() string {
	switch x {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Future models a suspendable computation, advanced one step at a time by
// the executor's run loop. Poll performs as much work as it can without
// blocking, then either completes (Ready) or returns Pending after recording
// how it expects to be resumed.
//
// Poll is only ever called from the executor's run loop goroutine. A future
// that returns Pending without registering descriptor interest and without
// arranging an external [Waker.Wake] will sit suspended until the run
// context is cancelled.
type Future interface {
	Poll(ctx *Context) Outcome
}

// FutureFunc adapts a function to the [Future] interface.
type FutureFunc func(ctx *Context) Outcome

// Poll calls x.
func (x FutureFunc) Poll(ctx *Context) Outcome { return x(ctx) }

// Context is passed to every [Future.Poll] call, carrying the per-task
// resumption state. It is owned by the executor; futures must not retain it
// beyond the poll call. Retain the [Waker] instead.
type Context struct {
	waker Waker
}

// Waker returns the waker bound to the task being polled. The waker value
// may be copied and retained beyond the poll call.
func (x *Context) Waker() *Waker {
	return &x.waker
}

// Waker marks a pending task runnable again. It is safe to copy, and safe to
// call from any goroutine, including after the task completed (it no-ops
// then). The zero Waker is a valid no-op.
type Waker struct {
	wake func()
}

// Wake requests that the waker's task be polled again. If the task was
// suspended it is re-enqueued and a blocked run loop is woken; if it is
// queued, running, or parked on descriptor readiness, the wake is recorded
// and honored the next time the task goes pending without a descriptor wait.
func (x *Waker) Wake() {
	if x != nil && x.wake != nil {
		x.wake()
	}
}
