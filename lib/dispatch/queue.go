package dispatch

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Lock-free MPSC work queue
// --------------------------------------------------------------------------

// node is a single queued unit of work.
type node struct {
	fn   func()
	next atomic.Pointer[node]
}

// workQueue is a lock-free multi-producer single-consumer queue of
// functions. Any goroutine may Push concurrently; only the owning goroutine
// pops. It is unbounded: notification signals must never be dropped because
// a queue filled up.
type workQueue struct {
	head atomic.Pointer[node] // consumer side (sentinel)
	tail atomic.Pointer[node] // producer side

	closed atomic.Bool

	// wakes a consumer parked in wait()
	mu   sync.Mutex
	cond *sync.Cond
}

func newWorkQueue() *workQueue {
	sentinel := &node{}
	q := &workQueue{}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// push appends fn. Returns false when the queue is closed.
//
// Thread-safety: safe to call concurrently from any goroutine.
func (q *workQueue) push(fn func()) bool {
	if fn == nil || q.closed.Load() {
		return false
	}

	newNode := &node{fn: fn}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		if next := tailNode.next.Load(); next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// Appended; a lagging tail pointer is fixed by the next
				// producer that observes it.
				q.tail.CompareAndSwap(tailNode, newNode)
				// The signal must be ordered against a consumer that just
				// observed the queue empty under q.mu and is about to park.
				// Signalling without the lock can land in that window and
				// be lost, leaving the consumer parked on a non-empty queue.
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// Help a stalled producer move the tail forward.
			q.tail.CompareAndSwap(tailNode, next)
		}

		// Exponential backoff under contention, then yield.
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// pop removes and returns the oldest queued function.
//
// Thread-safety: single consumer only.
func (q *workQueue) pop() (func(), bool) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil, false
	}
	q.head.Store(next)
	fn := next.fn
	next.fn = nil // help the gc
	return fn, true
}

// close prevents further pushes and wakes a parked consumer. Items already
// queued can still be popped.
func (q *workQueue) close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// len counts queued items. O(n), debugging/metrics only.
func (q *workQueue) len() int {
	count := 0
	for n := q.head.Load().next.Load(); n != nil; n = n.next.Load() {
		count++
	}
	return count
}
