package executor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/emberdb/ember/lib/engine"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("executor")

// --------------------------------------------------------------------------
// Constants & Metrics
// --------------------------------------------------------------------------

const (
	// defaultQueueSize bounds the backlog of not-yet-started tasks.
	defaultQueueSize = 100
)

// defaultWorkers keeps context switches proportionate to the core count.
func defaultWorkers() int {
	return runtime.NumCPU()*2 + 1
}

var (
	tasksSubmitted = metrics.GetOrCreateCounter("ember_executor_tasks_submitted_total")
	tasksCompleted = metrics.GetOrCreateCounter("ember_executor_tasks_completed_total")
	tasksPanicked  = metrics.GetOrCreateCounter("ember_executor_tasks_panicked_total")
	tasksRejected  = metrics.GetOrCreateCounter("ember_executor_tasks_rejected_total")
)

// --------------------------------------------------------------------------
// Executor Type
// --------------------------------------------------------------------------

// Task is one unit of background work.
type Task func()

// Options configures an Executor during initialization
type Options struct {
	Workers   int // Number of worker goroutines (0 = 2*NumCPU+1)
	QueueSize int // Capacity of the pending-task queue (0 = 100)
}

// DefaultOptions returns the default executor options
func DefaultOptions() *Options {
	return &Options{
		Workers:   defaultWorkers(),
		QueueSize: defaultQueueSize,
	}
}

// Executor is a bounded worker pool for background query and transaction
// work. It can be paused: a paused executor stops *starting* tasks but lets
// in-flight tasks run to completion, and keeps accepting submissions until
// the queue is full.
type Executor struct {
	tasks  chan Task
	stopCh chan struct{}
	wg     sync.WaitGroup

	// pause state machine: Running/Paused guarded by a mutex + condition
	pauseMu sync.Mutex
	paused  bool
	resumed *sync.Cond

	pendingTx atomic.Int64 // outstanding transaction-submitting tasks
	closed    atomic.Bool
}

// New creates an executor with the specified options (optional) and starts
// its workers.
func New(opts *Options) *Executor {
	if opts == nil {
		opts = DefaultOptions()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers()
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	e := &Executor{
		tasks:  make(chan Task, queueSize),
		stopCh: make(chan struct{}),
	}
	e.resumed = sync.NewCond(&e.pauseMu)

	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

// NewSingleWorker creates an executor with exactly one worker. This is
// primarily useful for tests that need deterministic start order.
func NewSingleWorker() *Executor {
	return New(&Options{Workers: 1, QueueSize: defaultQueueSize})
}

// --------------------------------------------------------------------------
// Submission
// --------------------------------------------------------------------------

// Submit enqueues a task for background execution. Fails with a
// CapacityExceeded error when the queue is full and a ClosedHandle error
// when the executor is closed.
//
// Thread-safety: safe to call from any goroutine.
func (e *Executor) Submit(task Task) error {
	if e.closed.Load() {
		tasksRejected.Inc()
		return engine.NewError(engine.RetCClosedHandle, "executor is closed")
	}

	select {
	case e.tasks <- task:
		tasksSubmitted.Inc()
		return nil
	default:
		tasksRejected.Inc()
		return engine.NewError(engine.RetCCapacityExceeded, "executor queue is full")
	}
}

// SubmitTx enqueues a task that will open a write transaction. These are
// tracked separately so callers can ask HasPendingWork before operations
// that must not race with background writes.
func (e *Executor) SubmitTx(task Task) error {
	e.pendingTx.Add(1)
	err := e.Submit(func() {
		defer e.pendingTx.Add(-1)
		task()
	})
	if err != nil {
		e.pendingTx.Add(-1)
	}
	return err
}

// HasPendingWork reports whether any transaction-submitting task is queued
// or running.
func (e *Executor) HasPendingWork() bool {
	return e.pendingTx.Load() > 0
}

// QueueLen returns the number of tasks waiting to start.
func (e *Executor) QueueLen() int {
	return len(e.tasks)
}

// --------------------------------------------------------------------------
// Pause / Resume
// --------------------------------------------------------------------------

// Pause stops the executor from starting new tasks. In-flight tasks run to
// completion; queued tasks and new submissions are retained.
func (e *Executor) Pause() {
	e.pauseMu.Lock()
	e.paused = true
	e.pauseMu.Unlock()
}

// Resume lets the executor start tasks again, in submission order.
func (e *Executor) Resume() {
	e.pauseMu.Lock()
	e.paused = false
	e.pauseMu.Unlock()
	e.resumed.Broadcast()
}

// awaitResume blocks the calling worker while the executor is paused.
func (e *Executor) awaitResume() {
	e.pauseMu.Lock()
	for e.paused && !e.closed.Load() {
		e.resumed.Wait()
	}
	e.pauseMu.Unlock()
}

// --------------------------------------------------------------------------
// Worker Loop & Shutdown
// --------------------------------------------------------------------------

func (e *Executor) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case task := <-e.tasks:
			// The pause gate sits between dequeue and start, so pausing
			// blocks new starts without dropping queued work.
			e.awaitResume()
			if e.closed.Load() {
				return
			}
			e.run(task)
		}
	}
}

// run executes one task with panic isolation: a failing task fails alone,
// the pool remains usable.
func (e *Executor) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			tasksPanicked.Inc()
			Logger.Errorf("background task panicked: %v", r)
			return
		}
		tasksCompleted.Inc()
	}()
	task()
}

// Close stops the workers. In-flight tasks run to completion; queued tasks
// are dropped. Close blocks until all workers have exited.
func (e *Executor) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	close(e.stopCh)
	// Wake workers blocked on the pause gate so they can observe the close.
	e.resumed.Broadcast()
	e.wg.Wait()
}
