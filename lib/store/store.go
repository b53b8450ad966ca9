package store

import (
	"context"
	"os"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/emberdb/ember/lib/dispatch"
	"github.com/emberdb/ember/lib/engine"
	"github.com/emberdb/ember/lib/executor"
	"github.com/emberdb/ember/lib/registry"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

var (
	storeOpens         = metrics.GetOrCreateCounter("ember_store_opens_total")
	storeCommits       = metrics.GetOrCreateCounter("ember_store_commits_total")
	storeRefreshes     = metrics.GetOrCreateCounter("ember_store_refreshes_total")
	notificationsFired = metrics.GetOrCreateCounter("ember_store_notifications_fired_total")
)

// --------------------------------------------------------------------------
// View Interface
// --------------------------------------------------------------------------

// view is one live collection or object bound to this store's pinned
// transaction. All methods run on the owning goroutine.
type view interface {
	// refresh recomputes the view against the store's current pinned version
	// and fires listeners when the observable content changed.
	refresh()

	// invalidate marks the view dead, cancels its pending async work and
	// drops its listeners. Fired once, on store close or row deletion.
	invalidate()
}

// --------------------------------------------------------------------------
// Store Type
// --------------------------------------------------------------------------

// Store is a goroutine-confined handle on one database. It owns exactly one
// pinned read transaction; every collection and object created through it is
// a live view into that transaction's version. A goroutine gets one Store
// per path: reopening on the same goroutine returns the same handle.
//
// Thread-safety: a Store must only be used on the goroutine that opened it.
// Every operation checks this and fails with an IllegalState error on
// violation. SignalVersion is the one exception, it is called by foreign
// committers and only enqueues work.
type Store struct {
	path string
	gid  uint64

	sh      *sharedDB
	eng     engine.Engine
	tracker engine.Tracker
	readTx  engine.ReadTx
	disp    *dispatch.Dispatcher
	exec    *executor.Executor

	refs    int // same-goroutine reopen count
	writeTx engine.WriteTx

	views      map[uint64]view
	nextViewID uint64

	async  *asyncController
	closed bool
}

// Open opens the database at path on the calling goroutine. The first open
// on a path loads the snapshot file (failing with FileAccess or
// IncompatibleFormat errors) or creates a fresh database; subsequent opens
// on other goroutines share the engine underneath. Reopening on a goroutine
// that already holds a handle for the path returns that same handle.
func Open(path string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	gid := registry.GID()

	if existing, ok := registry.Default.Lookup(gid, path); ok {
		st := existing.(*Store)
		st.refs++
		return st, nil
	}

	sh, err := acquireShared(path, opts)
	if err != nil {
		return nil, err
	}

	readTx, err := sh.eng.OpenReadTx(0)
	if err != nil {
		releaseShared(path)
		return nil, err
	}

	exec := opts.Executor
	if exec == nil {
		exec = sharedExecutor()
	}

	st := &Store{
		path:    path,
		gid:     gid,
		sh:      sh,
		eng:     sh.eng,
		tracker: engine.NewTracker(sh.eng),
		readTx:  readTx,
		disp:    dispatch.New(gid),
		exec:    exec,
		refs:    1,
		views:   map[uint64]view{},
	}
	st.async = newAsyncController(st)

	if err := registry.Default.Register(st); err != nil {
		readTx.Close()
		releaseShared(path)
		return nil, err
	}

	storeOpens.Inc()
	Logger.Debugf("opened store %q on goroutine %d at version %d", path, gid, readTx.Version())
	return st, nil
}

// Close releases the handle. The last Close on this goroutine cancels the
// store's pending async queries, invalidates every live view, unregisters
// the owner and releases the pinned transaction; the last Close across all
// goroutines also closes the shared engine.
func (s *Store) Close() error {
	if err := s.checkOwner(); err != nil {
		return err
	}
	if s.closed {
		return nil
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}

	s.async.cancelAll()
	for _, id := range s.viewIDs() {
		if v, ok := s.views[id]; ok {
			v.invalidate()
		}
	}
	if s.writeTx != nil {
		s.writeTx.Rollback()
		s.writeTx = nil
	}
	s.readTx.Close()
	s.disp.Close()
	registry.Default.Unregister(s.gid, s.path)
	s.closed = true

	Logger.Debugf("closed store %q on goroutine %d", s.path, s.gid)
	return releaseShared(s.path)
}

// --------------------------------------------------------------------------
// Owner Interface (registry fan-out)
// --------------------------------------------------------------------------

// OwnerID returns the id of the goroutine this store is confined to.
func (s *Store) OwnerID() uint64 { return s.gid }

// Path returns the database path this store is bound to.
func (s *Store) Path() string { return s.path }

// SignalVersion enqueues a version-advanced notification. Called by foreign
// committers through the registry; the work itself runs when the owning
// goroutine drains its dispatcher.
func (s *Store) SignalVersion(v engine.Version) {
	s.disp.Post(func() {
		if s.closed || s.writeTx != nil {
			return
		}
		if err := s.advance(); err != nil {
			Logger.Errorf("store %q: advance after commit signal: %v", s.path, err)
		}
	})
}

// --------------------------------------------------------------------------
// Ownership & State Checks
// --------------------------------------------------------------------------

func (s *Store) checkOwner() error {
	if gid := registry.GID(); gid != s.gid {
		return engine.NewErrorf(engine.RetCIllegalState, "store for %q accessed from incorrect goroutine (owner %d, caller %d)", s.path, s.gid, gid)
	}
	return nil
}

func (s *Store) checkOpen() error {
	if err := s.checkOwner(); err != nil {
		return err
	}
	if s.closed {
		return engine.NewErrorf(engine.RetCClosedHandle, "store for %q is closed", s.path)
	}
	return nil
}

// --------------------------------------------------------------------------
// Versions & Refresh
// --------------------------------------------------------------------------

// Version returns the version the store's pinned transaction currently sits
// at. This is the version every live view reflects.
func (s *Store) Version() (engine.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.readTx.Version(), nil
}

// CurrentVersion returns the latest version committed to the engine,
// independent of this store's pinned snapshot.
func (s *Store) CurrentVersion() (engine.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.tracker.Current(), nil
}

// Refresh drains pending notifications and advances the pinned transaction
// to the latest committed version, recomputing live views and firing
// listeners for everything that changed. No-op when already current.
// Returns whether the version advanced. Fails with an IllegalState error
// while a write transaction is open.
func (s *Store) Refresh() (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if s.writeTx != nil {
		return false, engine.NewError(engine.RetCIllegalState, "cannot refresh while a write transaction is open")
	}

	before := s.readTx.Version()
	if _, err := s.disp.Drain(); err != nil {
		return false, err
	}
	if err := s.advance(); err != nil {
		return false, err
	}
	return s.readTx.Version().After(before), nil
}

// Run drains notifications in a loop until the context is cancelled. This
// is the event-loop mode for owners that dedicate their goroutine to
// observing the store; non-loop owners call Refresh instead.
func (s *Store) Run(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.disp.Run(ctx)
}

// advance moves the pinned transaction forward and recomputes every live
// view. Listener delivery collapses all versions between the old and new
// pin into one change set per subject; no transition observed by this owner
// is skipped.
func (s *Store) advance() error {
	old := s.readTx.Version()
	now, err := s.readTx.Advance()
	if err != nil {
		return err
	}
	if !now.After(old) {
		return nil
	}
	storeRefreshes.Inc()
	for _, id := range s.viewIDs() {
		if v, ok := s.views[id]; ok {
			v.refresh()
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Write Transactions
// --------------------------------------------------------------------------

// BeginWrite opens a write transaction on this handle. Only one write
// transaction may be open across all goroutines; BeginWrite blocks until
// the writer slot is free. Nesting is an IllegalState error.
func (s *Store) BeginWrite() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.writeTx != nil {
		return engine.NewError(engine.RetCIllegalState, "a write transaction is already open on this handle")
	}
	tx, err := s.eng.BeginWrite()
	if err != nil {
		return err
	}
	s.writeTx = tx
	return nil
}

// Commit applies the open write transaction. The engine fires its commit
// hook synchronously, which signals every other open handle on the same
// path; this handle observes its own commit immediately, advancing in place
// and firing its listeners before Commit returns.
func (s *Store) Commit() (engine.Version, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if s.writeTx == nil {
		return 0, engine.NewError(engine.RetCIllegalState, "no write transaction is open on this handle")
	}
	v, err := s.writeTx.Commit()
	s.writeTx = nil
	if err != nil {
		return 0, err
	}
	storeCommits.Inc()
	if err := s.advance(); err != nil {
		return v, err
	}
	return v, nil
}

// Cancel discards the open write transaction.
func (s *Store) Cancel() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.writeTx == nil {
		return engine.NewError(engine.RetCIllegalState, "no write transaction is open on this handle")
	}
	err := s.writeTx.Rollback()
	s.writeTx = nil
	return err
}

// Write runs fn inside a write transaction, committing on success and
// cancelling when fn returns an error.
func (s *Store) Write(fn func(tx *Store) error) error {
	if err := s.BeginWrite(); err != nil {
		return err
	}
	if err := fn(s); err != nil {
		s.Cancel()
		return err
	}
	_, err := s.Commit()
	return err
}

// Set inserts or replaces a row inside the open write transaction.
func (s *Store) Set(table, key string, fields map[string][]byte) error {
	if err := s.checkWrite(); err != nil {
		return err
	}
	s.writeTx.Set(table, key, fields)
	return nil
}

// DeleteRow removes a row inside the open write transaction.
func (s *Store) DeleteRow(table, key string) error {
	if err := s.checkWrite(); err != nil {
		return err
	}
	s.writeTx.Delete(table, key)
	return nil
}

// DropTable removes an entire table inside the open write transaction.
func (s *Store) DropTable(table string) error {
	if err := s.checkWrite(); err != nil {
		return err
	}
	s.writeTx.DropTable(table)
	return nil
}

func (s *Store) checkWrite() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.writeTx == nil {
		return engine.NewError(engine.RetCIllegalState, "no write transaction is open on this handle")
	}
	return nil
}

// --------------------------------------------------------------------------
// Queries & Views
// --------------------------------------------------------------------------

// Query evaluates the predicate synchronously against the pinned version and
// returns a live, loaded collection.
func (s *Store) Query(table string, pred engine.Predicate) (*Collection, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.eng.ExecuteQuery(s.readTx, table, pred)
	if err != nil {
		return nil, err
	}
	c := newCollection(s, table, pred)
	c.rows = rows
	c.loaded = true
	c.id = s.attachView(c)
	return c, nil
}

// QueryAsync submits the query to the background pool and returns an
// unloaded live collection immediately. The result is bound on this
// goroutine once it is consistent with the handle's version at delivery
// time; stale results are discarded and the query transparently resubmitted.
func (s *Store) QueryAsync(table string, pred engine.Predicate) (*Collection, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	c := newCollection(s, table, pred)
	c.id = s.attachView(c)
	pq, err := s.async.submit(c, table, pred)
	if err != nil {
		c.invalidate()
		return nil, err
	}
	c.pending = pq
	return c, nil
}

// Find returns a live object view of the row with the given key, or nil
// when no such row exists at the pinned version.
func (s *Store) Find(table, key string) (*Object, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row, ok := s.readTx.Get(table, key)
	if !ok {
		return nil, nil
	}
	o := newObject(s, table, key)
	o.row = row
	o.exists = true
	o.loaded = true
	o.id = s.attachView(o)
	return o, nil
}

// FindAsync resolves the object with the given key on the background pool
// and returns an unloaded live object immediately. A missing row loads as
// an existing=false object rather than failing.
func (s *Store) FindAsync(table, key string) (*Object, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	o := newObject(s, table, key)
	o.id = s.attachView(o)
	pq, err := s.async.submit(o, table, engine.Where(engine.FieldKey, engine.OpEq, []byte(key)))
	if err != nil {
		o.invalidate()
		return nil, err
	}
	o.pending = pq
	return o, nil
}

// PendingAsyncQueries returns the number of async queries not yet delivered.
func (s *Store) PendingAsyncQueries() (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return len(s.async.pending), nil
}

func (s *Store) attachView(v view) uint64 {
	s.nextViewID++
	s.views[s.nextViewID] = v
	return s.nextViewID
}

func (s *Store) detachView(id uint64) {
	delete(s.views, id)
}

// viewIDs snapshots the live view ids so views can detach themselves while
// the store iterates (an object invalidates itself on deletion).
func (s *Store) viewIDs() []uint64 {
	ids := make([]uint64, 0, len(s.views))
	for id := range s.views {
		ids = append(ids, id)
	}
	return ids
}

// --------------------------------------------------------------------------
// Persistence & Compaction
// --------------------------------------------------------------------------

// WriteSnapshot persists the latest committed version to the given path.
func (s *Store) WriteSnapshot(path string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return engine.NewErrorf(engine.RetCFileAccess, "cannot create snapshot file %q: %v", path, err)
	}
	if err := s.eng.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return engine.NewErrorf(engine.RetCFileAccess, "cannot finalize snapshot file %q: %v", path, err)
	}
	return nil
}

// Compact pauses background task starts, waits for outstanding background
// transactions to finish and rewrites the snapshot file at the store's
// path. Queued background work is retained and resumes afterwards.
func (s *Store) Compact() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.writeTx != nil {
		return engine.NewError(engine.RetCIllegalState, "cannot compact while a write transaction is open")
	}

	s.exec.Pause()
	defer s.exec.Resume()
	for s.exec.HasPendingWork() {
		time.Sleep(time.Millisecond)
	}

	Logger.Infof("compacting store %q at version %d", s.path, s.tracker.Current())
	return s.WriteSnapshot(s.path)
}
