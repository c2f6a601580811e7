package taskloop

import "sync"

// injectorChunkSize is the number of slots per node in the injector's
// linked list. 128 slots of pointer-sized values plus overhead keeps a
// chunk around 1KB.
const injectorChunkSize = 128

// injector is the task injection queue: a chunked linked-list FIFO guarded
// by an internal mutex. Any goroutine may push; the run loop is the single
// consumer, stealing one value at a time.
//
// Fixed-size chunks amortize allocations, and exhausted chunks are recycled
// through a pool to avoid GC churn under sustained spawning.
type injector[T any] struct {
	head   *injectorChunk[T]
	tail   *injectorChunk[T]
	pool   sync.Pool
	mu     sync.Mutex
	length int
}

// injectorChunk is a fixed-size node in the injector's linked list. The
// readPos/pos cursors give O(1) push and steal without shifting.
type injectorChunk[T any] struct {
	slots   [injectorChunkSize]T
	next    *injectorChunk[T]
	readPos int // first unread slot
	pos     int // first unused slot
}

func newInjector[T any]() *injector[T] {
	x := &injector[T]{}
	x.pool.New = func() any { return new(injectorChunk[T]) }
	return x
}

func (x *injector[T]) newChunk() *injectorChunk[T] {
	c := x.pool.Get().(*injectorChunk[T])
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk clears an exhausted chunk before pooling it, so no stale
// references are retained.
func (x *injector[T]) returnChunk(c *injectorChunk[T]) {
	var zero T
	for i := 0; i < c.pos; i++ {
		c.slots[i] = zero
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	x.pool.Put(c)
}

// push appends v to the queue. Safe to call from any goroutine.
func (x *injector[T]) push(v T) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.tail == nil {
		x.tail = x.newChunk()
		x.head = x.tail
	}

	if x.tail.pos == len(x.tail.slots) {
		next := x.newChunk()
		x.tail.next = next
		x.tail = next
	}

	x.tail.slots[x.tail.pos] = v
	x.tail.pos++
	x.length++
}

// steal removes and returns the oldest queued value, reporting false if the
// queue was observed empty.
func (x *injector[T]) steal() (T, bool) {
	var zero T

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.head == nil {
		return zero, false
	}

	// Advance past an exhausted head chunk, or reset cursors for reuse if it
	// is the only chunk.
	if x.head.readPos >= x.head.pos {
		if x.head == x.tail {
			x.head.pos = 0
			x.head.readPos = 0
			return zero, false
		}
		old := x.head
		x.head = x.head.next
		x.returnChunk(old)
	}

	if x.head.readPos >= x.head.pos {
		return zero, false
	}

	v := x.head.slots[x.head.readPos]
	x.head.slots[x.head.readPos] = zero
	x.head.readPos++
	x.length--

	if x.head.readPos >= x.head.pos {
		if x.head == x.tail {
			x.head.pos = 0
			x.head.readPos = 0
		} else {
			old := x.head
			x.head = x.head.next
			x.returnChunk(old)
		}
	}

	return v, true
}

// len returns the queue length.
func (x *injector[T]) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.length
}
