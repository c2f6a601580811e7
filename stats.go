package taskloop

import "sync/atomic"

// Stats is a snapshot of executor counters, taken via [Executor.Stats].
// Counters only ever increase while the executor lives.
type Stats struct {
	// Spawned counts tasks accepted by Spawn.
	Spawned uint64
	// Completed counts polls that returned Ready.
	Completed uint64
	// Polls counts Future.Poll calls.
	Polls uint64
	// Waits counts blocking readiness waits. A workload that never touches
	// a descriptor and never suspends completes with Waits == 0.
	Waits uint64
	// Wakes counts Waker.Wake calls that marked a live task.
	Wakes uint64
	// IOEvents counts readiness events delivered for user tokens, excluding
	// the internal wake descriptor.
	IOEvents uint64
}

// stats is the live atomic counter block backing [Stats].
type stats struct {
	spawned   atomic.Uint64
	completed atomic.Uint64
	polls     atomic.Uint64
	waits     atomic.Uint64
	wakes     atomic.Uint64
	ioEvents  atomic.Uint64
}

func (x *stats) snapshot() Stats {
	return Stats{
		Spawned:   x.spawned.Load(),
		Completed: x.completed.Load(),
		Polls:     x.polls.Load(),
		Waits:     x.waits.Load(),
		Wakes:     x.wakes.Load(),
		IOEvents:  x.ioEvents.Load(),
	}
}
