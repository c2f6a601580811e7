// Package taskloop provides a minimal cooperative task executor with
// integrated readiness-based I/O multiplexing: a single-goroutine run loop
// polls suspendable tasks, parking those that wait on sockets until the
// operating system reports the socket ready.
//
// # Execution Model
//
// A task is a [Future] polled repeatedly by the run loop until it reports
// [Ready]. A poll that reports [Pending] must arrange its own resumption,
// either by a readiness registration made through the task's [Ref], or by
// handing the poll [Context]'s [Waker] to another goroutine. Tasks never
// run concurrently with each other: everything executes on the loop
// goroutine, so task state needs no synchronization of its own.
//
// Each loop iteration first drains the injection queue (newly spawned and
// woken tasks, polled once each, including tasks queued mid-drain), then
// applies pending wake orders. Only when no other work exists does the loop
// block on descriptor readiness. [Executor.Run] returns once every task has
// completed.
//
// # I/O Integration
//
// Readiness notification is platform-native, epoll on Linux and kqueue on
// macOS, always level-triggered. Descriptors register under a caller-chosen
// [Token] via [Ref.Register]; a registered task that polls [Pending] parks
// until an event for its token arrives. [Listener] and [Conn] provide
// non-blocking TCP sockets, and [WithRegistry] couples any [Source] to a
// task's registrar so that reads and accepts self-register on first use and
// translate EAGAIN into [Pending].
//
// # Thread Safety
//
//   - [Executor.Spawn] and [Executor.Stats] are safe from any goroutine
//   - [Waker.Wake] is safe from any goroutine, including after completion
//   - [Ref] registration methods are task-scoped, intended for use from
//     inside that task's polls
//
// # Usage
//
//	err := taskloop.Run(context.Background(), "root",
//	    func(ref *taskloop.Ref[string]) taskloop.Future {
//	        n := 0
//	        return taskloop.FutureFunc(func(ctx *taskloop.Context) taskloop.Outcome {
//	            if n++; n < 3 {
//	                w := *ctx.Waker()
//	                go w.Wake()
//	                return taskloop.Pending
//	            }
//	            return taskloop.Ready
//	        })
//	    })
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Errors
//
// Failures surface as typed sentinels matched with [errors.Is]:
// [ErrExecutorClosed], [ErrRunning], [ErrAlreadyRegistered],
// [ErrNotRegistered], [ErrPollerClosed], [ErrFDOutOfRange], and
// [ErrReservedToken]. Readiness errors on a descriptor are not reported
// out-of-band: error and hangup conditions fold into readiness, waking the
// parked task so the failure surfaces from its own syscall.
package taskloop
