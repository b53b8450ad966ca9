package store

import (
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/emberdb/ember/lib/engine"
)

var (
	asyncSubmitted   = metrics.GetOrCreateCounter("ember_store_async_queries_submitted_total")
	asyncResubmitted = metrics.GetOrCreateCounter("ember_store_async_queries_resubmitted_total")
	asyncCompleted   = metrics.GetOrCreateCounter("ember_store_async_queries_completed_total")
	asyncFailed      = metrics.GetOrCreateCounter("ember_store_async_queries_failed_total")
	asyncCancelled   = metrics.GetOrCreateCounter("ember_store_async_queries_cancelled_total")
)

// --------------------------------------------------------------------------
// Pending Query
// --------------------------------------------------------------------------

// pendingQuery states. Queued and Running transition on the background
// worker via CAS; the terminal states are set on the owning goroutine (or,
// for Cancelled, by the owner racing the worker, which is why state is
// atomic at all).
const (
	stateQueued int32 = iota
	stateRunning
	stateCompleted
	stateCancelled
	stateFailed
)

// asyncTarget is the view an async result binds to.
type asyncTarget interface {
	// targetValid reports whether the target can still receive a result.
	targetValid() bool

	// bindResult hands the target its result on the owning goroutine. A
	// non-nil error marks the target failed with a permanently empty result.
	bindResult(rows engine.RowSet, err error)
}

// pendingQuery is one in-flight background query. Owned by the controller;
// removed once delivered or cancelled. origin is only written on the owning
// goroutine (at submit and at resubmit inside deliver), the background run
// reads it once before starting.
type pendingQuery struct {
	id     uint64
	table  string
	pred   engine.Predicate
	origin engine.Version
	state  atomic.Int32
	target asyncTarget
}

// --------------------------------------------------------------------------
// Controller
// --------------------------------------------------------------------------

// asyncController coordinates background query execution for one store:
// submitting work to the executor, capturing the version a run executed
// against, and deciding at delivery time whether the result may bind or
// must be transparently re-run against a newer version.
//
// All fields are confined to the store's goroutine. The background run
// touches only the query definition and the engine, and hands everything
// back through the dispatcher.
type asyncController struct {
	store   *Store
	pending map[uint64]*pendingQuery
	nextID  uint64
}

func newAsyncController(s *Store) *asyncController {
	return &asyncController{
		store:   s,
		pending: map[uint64]*pendingQuery{},
	}
}

// submit captures the handle's current version as the origin and schedules
// the query on the background pool. Fails with a CapacityExceeded error
// when the pool queue is full.
func (a *asyncController) submit(target asyncTarget, table string, pred engine.Predicate) (*pendingQuery, error) {
	a.nextID++
	pq := &pendingQuery{
		id:     a.nextID,
		table:  table,
		pred:   pred,
		origin: a.store.readTx.Version(),
		target: target,
	}
	a.pending[pq.id] = pq

	if err := a.store.exec.Submit(func() { a.run(pq) }); err != nil {
		delete(a.pending, pq.id)
		return nil, err
	}
	asyncSubmitted.Inc()
	return pq, nil
}

// run executes one background attempt. It runs on a pool worker against a
// private read transaction pinned at the origin version, never against the
// owner's handle, and posts the outcome to the owner's dispatcher.
func (a *asyncController) run(pq *pendingQuery) {
	if !pq.state.CompareAndSwap(stateQueued, stateRunning) {
		// Cancelled before it started.
		return
	}

	rows, err := a.execute(pq.table, pq.pred, pq.origin)
	posted := a.store.disp.Post(func() { a.deliver(pq, rows, err) })
	if !posted {
		// Owner closed while the run was in flight; discard silently.
		pq.state.Store(stateCancelled)
	}
}

func (a *asyncController) execute(table string, pred engine.Predicate, at engine.Version) (engine.RowSet, error) {
	tx, err := a.store.eng.OpenReadTx(at)
	if err != nil {
		return nil, err
	}
	defer tx.Close()
	return a.store.eng.ExecuteQuery(tx, table, pred)
}

// deliver runs on the owning goroutine when the dispatcher drains. It
// decides the fate of a finished run: bind, discard-and-resubmit, or fail.
func (a *asyncController) deliver(pq *pendingQuery, rows engine.RowSet, runErr error) {
	if pq.state.Load() != stateRunning {
		delete(a.pending, pq.id)
		return
	}
	if a.store.closed || !pq.target.targetValid() {
		pq.state.Store(stateCancelled)
		delete(a.pending, pq.id)
		asyncCancelled.Inc()
		return
	}

	if runErr != nil {
		pq.state.Store(stateFailed)
		delete(a.pending, pq.id)
		asyncFailed.Inc()
		Logger.Warningf("async query on %q failed, binding empty result: %v", pq.table, runErr)
		pq.target.bindResult(nil, runErr)
		return
	}

	// The run executed at pq.origin. If local commits advanced the handle
	// in the meantime, the result is stale: discard it and re-run against
	// the newer version. The caller only ever observes the final,
	// delivery-consistent result. Each retry strictly progresses, so the
	// chain terminates as soon as commits stop racing in.
	current := a.store.readTx.Version()
	if current.After(pq.origin) {
		pq.origin = current
		pq.state.Store(stateQueued)
		if err := a.store.exec.Submit(func() { a.run(pq) }); err != nil {
			pq.state.Store(stateFailed)
			delete(a.pending, pq.id)
			asyncFailed.Inc()
			pq.target.bindResult(nil, err)
			return
		}
		asyncResubmitted.Inc()
		return
	}

	pq.state.Store(stateCompleted)
	delete(a.pending, pq.id)
	asyncCompleted.Inc()
	pq.target.bindResult(rows, nil)
}

// cancel silently discards a pending query. Its eventual result, if the
// background run still finishes, is dropped without any callback firing.
func (a *asyncController) cancel(pq *pendingQuery) {
	if _, ok := a.pending[pq.id]; !ok {
		return
	}
	pq.state.Store(stateCancelled)
	delete(a.pending, pq.id)
	asyncCancelled.Inc()
}

// cancelAll discards every pending query; called when the store closes.
func (a *asyncController) cancelAll() {
	for id, pq := range a.pending {
		pq.state.Store(stateCancelled)
		delete(a.pending, id)
		asyncCancelled.Inc()
	}
}
