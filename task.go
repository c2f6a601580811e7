package taskloop

// waitKind enumerates the ways a pending task can expect resumption.
// Deliberately open for future kinds; only descriptor readiness exists today.
type waitKind uint8

const (
	waitNone waitKind = iota
	waitIO
)

// waitReason records how a pending task expects to be resumed. The zero
// value means no declared reason.
type waitReason struct {
	token Token
	kind  waitKind
}

// taskContext is a task's entry in the executor's context table. It is
// created at spawn and erased when the task completes or the executor tears
// down.
//
// Both fields are guarded by the executor mutex. wait is written by the
// [Ref] registration operations while the task is being polled and read by
// the loop after each Pending poll; woken may be set from any goroutine via
// [Waker.Wake].
type taskContext struct {
	wait  waitReason
	woken bool
}

// task pairs a spawned future with its identity, its context-table entry,
// and the poll context handed to every Poll call. A task is consumed exactly
// once per injection: stolen by the loop, polled, then re-queued, parked,
// suspended, or dropped.
type task[ID comparable] struct {
	fut Future
	tc  *taskContext
	ctx Context
	id  ID
}
