package store

import (
	"github.com/emberdb/ember/lib/engine"
)

// --------------------------------------------------------------------------
// Collection View
// --------------------------------------------------------------------------

// CollectionChangeFunc is invoked on the owning goroutine whenever the
// observable content of a watched collection changed.
type CollectionChangeFunc func(c *Collection, cs ChangeSet)

// Collection is a live, versioned row-set view bound to its store's pinned
// transaction. It is confined to the store's goroutine, advanced in place on
// refresh and invalidated when the store closes.
type Collection struct {
	store *Store
	id    uint64
	table string
	pred  engine.Predicate

	rows    engine.RowSet
	valid   bool
	loaded  bool
	failed  bool
	loadErr error

	pending   *pendingQuery
	listeners listenerSet[CollectionChangeFunc]
}

func newCollection(s *Store, table string, pred engine.Predicate) *Collection {
	return &Collection{
		store: s,
		table: table,
		pred:  pred,
		valid: true,
	}
}

func (c *Collection) checkAccess() error {
	if err := c.store.checkOwner(); err != nil {
		return err
	}
	if !c.valid {
		return engine.NewError(engine.RetCClosedHandle, "collection is no longer valid")
	}
	return nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// IsValid reports whether the collection is still usable. Unlike every
// other accessor it never fails: after the store closes it returns false,
// and on a foreign goroutine it returns false rather than racing.
func (c *Collection) IsValid() bool {
	if c.store.checkOwner() != nil {
		return false
	}
	return c.valid
}

// IsLoaded reports whether an async result has been bound yet. Synchronous
// queries are loaded from the start.
func (c *Collection) IsLoaded() bool {
	if c.store.checkOwner() != nil {
		return false
	}
	return c.loaded
}

// Err returns the evaluation error of a failed async query, if any. A
// failed collection stays valid and loaded with a permanently empty result.
func (c *Collection) Err() error {
	if err := c.checkAccess(); err != nil {
		return err
	}
	return c.loadErr
}

// Size returns the number of rows at the bound version.
func (c *Collection) Size() (int, error) {
	if err := c.checkAccess(); err != nil {
		return 0, err
	}
	return len(c.rows), nil
}

// Keys returns the ordered row keys at the bound version.
func (c *Collection) Keys() ([]string, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	return c.rows.Keys(), nil
}

// Row returns the i-th row at the bound version.
func (c *Collection) Row(i int) (engine.Row, error) {
	if err := c.checkAccess(); err != nil {
		return engine.Row{}, err
	}
	if i < 0 || i >= len(c.rows) {
		return engine.Row{}, engine.NewErrorf(engine.RetCIllegalState, "row index %d out of range (size %d)", i, len(c.rows))
	}
	return c.rows[i], nil
}

// Rows returns the row set at the bound version. Callers must treat the
// returned slice as read-only.
func (c *Collection) Rows() (engine.RowSet, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	return c.rows, nil
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

// Watch registers a change callback, delivered on the owning goroutine once
// per observed version transition that changed this collection. Duplicate
// registration of the same function is a no-op.
func (c *Collection) Watch(fn CollectionChangeFunc) error {
	if err := c.checkAccess(); err != nil {
		return err
	}
	c.listeners.add(fn)
	return nil
}

// Unwatch removes a previously registered callback.
func (c *Collection) Unwatch(fn CollectionChangeFunc) error {
	if err := c.checkAccess(); err != nil {
		return err
	}
	c.listeners.remove(fn)
	return nil
}

// fire delivers cs to a snapshot of the listener list, so callbacks may add
// or remove listeners without corrupting the in-progress delivery.
func (c *Collection) fire(cs ChangeSet) {
	for _, fn := range c.listeners.snapshot() {
		notificationsFired.Inc()
		fn(c, cs)
	}
}

// --------------------------------------------------------------------------
// View Interface
// --------------------------------------------------------------------------

func (c *Collection) refresh() {
	if !c.loaded || c.failed {
		return
	}
	rows, err := c.store.eng.ExecuteQuery(c.store.readTx, c.table, c.pred)
	if err != nil {
		// The table vanished underneath the view. Every row is gone.
		if len(c.rows) == 0 {
			return
		}
		cs := ChangeSet{Deletions: c.rows.Keys()}
		c.rows = nil
		c.fire(cs)
		return
	}
	cs := diffRows(c.rows, rows)
	if cs.IsEmpty() {
		return
	}
	c.rows = rows
	c.fire(cs)
}

func (c *Collection) invalidate() {
	if !c.valid {
		return
	}
	c.valid = false
	if c.pending != nil {
		c.store.async.cancel(c.pending)
		c.pending = nil
	}
	c.listeners.clear()
	c.store.detachView(c.id)
}

// --------------------------------------------------------------------------
// Async Target Interface
// --------------------------------------------------------------------------

func (c *Collection) targetValid() bool {
	return c.valid && !c.store.closed
}

// bindResult hands a completed async run to the collection. A failed run
// binds a permanently empty result; listeners observe the load either way.
func (c *Collection) bindResult(rows engine.RowSet, err error) {
	c.pending = nil
	c.loaded = true
	if err != nil {
		c.failed = true
		c.loadErr = err
		c.rows = nil
		c.fire(ChangeSet{})
		return
	}
	c.rows = rows
	c.fire(ChangeSet{Insertions: rows.Keys()})
}
