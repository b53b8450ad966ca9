package store

import (
	"github.com/emberdb/ember/lib/engine"
)

// --------------------------------------------------------------------------
// Object View
// --------------------------------------------------------------------------

// ObjectChangeFunc is invoked on the owning goroutine whenever a watched
// object changed. When the backing row was deleted, cs.Deleted is true,
// the callback is the final one and the object is invalid afterwards.
type ObjectChangeFunc func(o *Object, cs ChangeSet)

// Object is a live single-row view bound to its store's pinned transaction.
type Object struct {
	store *Store
	id    uint64
	table string
	key   string

	row     engine.Row
	exists  bool
	valid   bool
	loaded  bool
	failed  bool
	loadErr error

	pending   *pendingQuery
	listeners listenerSet[ObjectChangeFunc]
}

func newObject(s *Store, table, key string) *Object {
	return &Object{
		store: s,
		table: table,
		key:   key,
		valid: true,
	}
}

func (o *Object) checkAccess() error {
	if err := o.store.checkOwner(); err != nil {
		return err
	}
	if !o.valid {
		return engine.NewError(engine.RetCClosedHandle, "object is no longer valid")
	}
	return nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Table returns the table the object belongs to.
func (o *Object) Table() string { return o.table }

// Key returns the row key the object is bound to.
func (o *Object) Key() string { return o.key }

// IsValid reports whether the object is still usable. False once the
// backing row was deleted or the store closed; never fails.
func (o *Object) IsValid() bool {
	if o.store.checkOwner() != nil {
		return false
	}
	return o.valid
}

// IsLoaded reports whether an async result has been bound yet.
func (o *Object) IsLoaded() bool {
	if o.store.checkOwner() != nil {
		return false
	}
	return o.loaded
}

// Exists reports whether the row is present at the bound version. An
// async find of a missing key loads as an existing=false object.
func (o *Object) Exists() (bool, error) {
	if err := o.checkAccess(); err != nil {
		return false, err
	}
	return o.exists, nil
}

// Err returns the evaluation error of a failed async find, if any.
func (o *Object) Err() error {
	if err := o.checkAccess(); err != nil {
		return err
	}
	return o.loadErr
}

// Field returns the named field's value at the bound version. The boolean
// reports whether the field is present.
func (o *Object) Field(name string) ([]byte, bool, error) {
	if err := o.checkAccess(); err != nil {
		return nil, false, err
	}
	if !o.exists {
		return nil, false, nil
	}
	v, ok := o.row.Field(name)
	return v, ok, nil
}

// Fields returns all fields at the bound version. Callers must treat the
// returned map as read-only.
func (o *Object) Fields() (map[string][]byte, error) {
	if err := o.checkAccess(); err != nil {
		return nil, err
	}
	if !o.exists {
		return nil, nil
	}
	return o.row.Fields, nil
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

// Watch registers a change callback. Duplicate registration of the same
// function is a no-op.
func (o *Object) Watch(fn ObjectChangeFunc) error {
	if err := o.checkAccess(); err != nil {
		return err
	}
	o.listeners.add(fn)
	return nil
}

// Unwatch removes a previously registered callback.
func (o *Object) Unwatch(fn ObjectChangeFunc) error {
	if err := o.checkAccess(); err != nil {
		return err
	}
	o.listeners.remove(fn)
	return nil
}

func (o *Object) fire(cs ChangeSet) {
	for _, fn := range o.listeners.snapshot() {
		notificationsFired.Inc()
		fn(o, cs)
	}
}

// --------------------------------------------------------------------------
// View Interface
// --------------------------------------------------------------------------

func (o *Object) refresh() {
	if !o.loaded || o.failed {
		return
	}
	row, ok := o.store.readTx.Get(o.table, o.key)
	switch {
	case !ok && o.exists:
		// Deletion: one final callback, then the object is dead.
		o.exists = false
		o.fire(ChangeSet{Deleted: true, Deletions: []string{o.key}})
		o.invalidate()
	case ok && !o.exists:
		o.row = row
		o.exists = true
		o.fire(ChangeSet{Insertions: []string{o.key}})
	case ok && row.Version != o.row.Version:
		o.row = row
		o.fire(ChangeSet{Modifications: []string{o.key}})
	}
}

func (o *Object) invalidate() {
	if !o.valid {
		return
	}
	o.valid = false
	if o.pending != nil {
		o.store.async.cancel(o.pending)
		o.pending = nil
	}
	o.listeners.clear()
	o.store.detachView(o.id)
}

// --------------------------------------------------------------------------
// Async Target Interface
// --------------------------------------------------------------------------

func (o *Object) targetValid() bool {
	return o.valid && !o.store.closed
}

func (o *Object) bindResult(rows engine.RowSet, err error) {
	o.pending = nil
	o.loaded = true
	if err != nil {
		o.failed = true
		o.loadErr = err
		o.fire(ChangeSet{})
		return
	}
	if len(rows) > 0 {
		o.row = rows[0]
		o.exists = true
		o.fire(ChangeSet{Insertions: []string{o.key}})
		return
	}
	o.exists = false
	o.fire(ChangeSet{})
}
