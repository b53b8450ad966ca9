package dispatch

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/emberdb/ember/lib/engine"
	"github.com/emberdb/ember/lib/registry"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("dispatch")

var (
	workPosted  = metrics.GetOrCreateCounter("ember_dispatch_work_posted_total")
	workDrained = metrics.GetOrCreateCounter("ember_dispatch_work_drained_total")
	workDropped = metrics.GetOrCreateCounter("ember_dispatch_work_dropped_total")
)

// --------------------------------------------------------------------------
// Dispatcher Type
// --------------------------------------------------------------------------

// Dispatcher delivers notification work on exactly one owning goroutine.
// Any goroutine may Post work; only the owner executes it, either inside
// Run (event-loop style) or through explicit Drain calls (refresh style).
type Dispatcher struct {
	owner uint64
	queue *workQueue
}

// New creates a dispatcher owned by the goroutine with the given id.
func New(owner uint64) *Dispatcher {
	return &Dispatcher{
		owner: owner,
		queue: newWorkQueue(),
	}
}

// Owner returns the id of the owning goroutine.
func (d *Dispatcher) Owner() uint64 {
	return d.owner
}

// Post enqueues work for the owning goroutine. Returns false when the
// dispatcher is closed (the work is dropped silently; a closed owner has
// nothing left to notify).
//
// Thread-safety: safe to call from any goroutine.
func (d *Dispatcher) Post(fn func()) bool {
	if d.queue.push(fn) {
		workPosted.Inc()
		return true
	}
	workDropped.Inc()
	return false
}

// checkOwner fails unless called on the owning goroutine.
func (d *Dispatcher) checkOwner() error {
	if gid := registry.GID(); gid != d.owner {
		return engine.NewErrorf(engine.RetCIllegalState, "dispatcher for goroutine %d drained from goroutine %d", d.owner, gid)
	}
	return nil
}

// Drain executes all currently queued work and returns how many units ran.
// Work posted by the executing units themselves is drained too; Drain
// returns once the queue is observed empty.
//
// Thread-safety: owner goroutine only.
func (d *Dispatcher) Drain() (int, error) {
	if err := d.checkOwner(); err != nil {
		return 0, err
	}

	n := 0
	for {
		fn, ok := d.queue.pop()
		if !ok {
			return n, nil
		}
		fn()
		workDrained.Inc()
		n++
	}
}

// Run drains the queue in a loop until the context is cancelled or the
// dispatcher is closed. This is the event-loop mode: owners that live on a
// looper goroutine observe notifications without explicit refreshes.
//
// Thread-safety: owner goroutine only.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.checkOwner(); err != nil {
		return err
	}

	// A context watcher nudges the parked consumer awake on cancellation.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Lock ordering as in push: a broadcast issued between the
			// consumer's empty check and its Wait would be lost.
			d.queue.mu.Lock()
			d.queue.cond.Broadcast()
			d.queue.mu.Unlock()
		case <-stop:
		}
	}()

	for {
		if _, err := d.Drain(); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.waitCancellable(ctx) {
			return ctx.Err()
		}
	}
}

// waitCancellable parks until work arrives, the queue closes or the context
// is cancelled. Returns false when the loop should stop.
func (d *Dispatcher) waitCancellable(ctx context.Context) bool {
	d.queue.mu.Lock()
	for d.queue.head.Load().next.Load() == nil {
		if d.queue.closed.Load() || ctx.Err() != nil {
			d.queue.mu.Unlock()
			return !d.queue.closed.Load() && ctx.Err() == nil
		}
		d.queue.cond.Wait()
	}
	d.queue.mu.Unlock()
	return true
}

// Pending returns the number of queued work units. O(n), intended for
// tests and debugging.
func (d *Dispatcher) Pending() int {
	return d.queue.len()
}

// Close stops the dispatcher. Posted-but-undrained work is dropped; the
// owner is expected to have invalidated its views already.
func (d *Dispatcher) Close() {
	if dropped := d.queue.len(); dropped > 0 {
		Logger.Debugf("dispatcher for goroutine %d closed with %d undelivered signals", d.owner, dropped)
	}
	d.queue.close()
}

// WaitIdle blocks until the queue is empty or the timeout elapses. Testing
// helper for cross-goroutine assertions.
func (d *Dispatcher) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.queue.len() == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
