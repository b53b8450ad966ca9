package cedar

import (
	"bufio"
	"encoding/binary"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/emberdb/ember/lib/engine"
	"github.com/emberdb/ember/lib/engine/engines/cedar/internal"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("cedar")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

// Constants for engine behavior and snapshot file structure
const (
	magicNum          = "CEDARDB\x00" // File format identifier
	cedarVersion      = 1             // Snapshot format version
	defaultPruneEvery = 16            // Commits between version-chain prune passes
)

// --------------------------------------------------------------------------
// Core cedar engine structure
// --------------------------------------------------------------------------

// cedarImpl implements an in-memory MVCC engine. Every record carries a
// reverse-chronological version chain; readers pin a version and walk
// immutable chain nodes without locking, the single writer appends new heads
// under the writer mutex.
type cedarImpl struct {
	tables  *xsync.MapOf[string, *internal.Table]
	version atomic.Uint64 // Last committed version
	writer  sync.Mutex    // Process-wide writer slot
	closed  atomic.Bool

	// commit hooks
	hooksMu    sync.RWMutex
	hooks      map[uint64]engine.CommitHook
	nextHookID uint64

	// pinned reader versions (for chain pruning)
	pinsMu     sync.Mutex
	pins       map[uint64]int
	pruneFloor uint64 // chains may be truncated below this version; guarded by pinsMu

	// pruning cadence
	pruneEvery uint64
	commits    atomic.Uint64
}

// DBOptions configures the cedar engine behavior during initialization
type DBOptions struct {
	PruneEvery int // Commits between prune passes (0 = use default)
}

// DefaultOptions returns the default cedar options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		PruneEvery: defaultPruneEvery,
	}
}

// NewCedarDB creates a new cedar engine instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called
// once during initialization.
func NewCedarDB(opts *DBOptions) engine.Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	pruneEvery := opts.PruneEvery
	if pruneEvery <= 0 {
		pruneEvery = defaultPruneEvery
	}

	return &cedarImpl{
		tables:     xsync.NewMapOf[string, *internal.Table](),
		hooks:      make(map[uint64]engine.CommitHook),
		pins:       make(map[uint64]int),
		pruneEvery: uint64(pruneEvery),
	}
}

// --------------------------------------------------------------------------
// Pinned Version Accounting
// --------------------------------------------------------------------------

func (db *cedarImpl) pin(v engine.Version) {
	db.pinsMu.Lock()
	db.pins[uint64(v)]++
	db.pinsMu.Unlock()
}

func (db *cedarImpl) unpin(v engine.Version) {
	db.pinsMu.Lock()
	if n := db.pins[uint64(v)]; n <= 1 {
		delete(db.pins, uint64(v))
	} else {
		db.pins[uint64(v)] = n - 1
	}
	db.pinsMu.Unlock()
}

// minPinned returns the oldest version any reader is still pinned at, or the
// current version when no reader is pinned. It also records the value as the
// prune floor, under the same lock, so OpenReadTx can reject versions whose
// chain nodes the following prune pass may truncate.
func (db *cedarImpl) minPinned() uint64 {
	db.pinsMu.Lock()
	defer db.pinsMu.Unlock()

	min := db.version.Load()
	for v := range db.pins {
		if v < min {
			min = v
		}
	}
	db.pruneFloor = min
	return min
}

// --------------------------------------------------------------------------
// Interface Methods (docu see engine/interface.go)
// --------------------------------------------------------------------------

func (db *cedarImpl) CurrentVersion() engine.Version {
	return engine.Version(db.version.Load())
}

func (db *cedarImpl) OpenReadTx(at engine.Version) (engine.ReadTx, error) {
	if db.closed.Load() {
		return nil, engine.NewError(engine.RetCClosedHandle, "engine is closed")
	}

	// The version read and the pin happen under pinsMu as one step. Read
	// first and pin second, and a prune pass sneaking in between could
	// compute its floor without this reader and truncate the chain nodes
	// the pinned version still needs.
	db.pinsMu.Lock()
	defer db.pinsMu.Unlock()

	current := engine.Version(db.version.Load())
	if at == 0 {
		at = current
	}
	if at > current {
		return nil, engine.NewErrorf(engine.RetCIllegalState, "cannot pin future version %d (current %d)", at, current)
	}
	if uint64(at) < db.pruneFloor {
		return nil, engine.NewErrorf(engine.RetCIllegalState, "cannot pin version %d: chains pruned up to version %d", at, db.pruneFloor)
	}

	db.pins[uint64(at)]++
	return &readTx{db: db, version: at}, nil
}

func (db *cedarImpl) BeginWrite() (engine.WriteTx, error) {
	if db.closed.Load() {
		return nil, engine.NewError(engine.RetCClosedHandle, "engine is closed")
	}

	// Writers serialize here; readers are never blocked by this mutex.
	db.writer.Lock()

	if db.closed.Load() {
		db.writer.Unlock()
		return nil, engine.NewError(engine.RetCClosedHandle, "engine is closed")
	}
	return &writeTx{db: db}, nil
}

func (db *cedarImpl) ExecuteQuery(tx engine.ReadTx, table string, pred engine.Predicate) (engine.RowSet, error) {
	rtx, ok := tx.(*readTx)
	if !ok || rtx.db != db {
		return nil, engine.NewError(engine.RetCIllegalState, "transaction does not belong to this engine")
	}
	if rtx.closed {
		return nil, engine.NewError(engine.RetCClosedHandle, "read transaction is closed")
	}

	at := uint64(rtx.version)
	tbl, found := db.tables.Load(table)
	if !found || tbl.DroppedAt(at) {
		return nil, engine.NewErrorf(engine.RetCQueryFailed, "table %q does not exist at version %d", table, at)
	}

	var rows engine.RowSet
	tbl.Rows.Range(func(key string, chain *internal.Chain) bool {
		node := chain.VisibleAt(at)
		if node == nil {
			return true
		}
		row := materialize(key, node)
		if pred.Match(row) {
			rows = append(rows, row)
		}
		return true
	})

	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows, nil
}

func (db *cedarImpl) RegisterCommitHook(hook engine.CommitHook) func() {
	db.hooksMu.Lock()
	db.nextHookID++
	id := db.nextHookID
	db.hooks[id] = hook
	db.hooksMu.Unlock()

	return func() {
		db.hooksMu.Lock()
		delete(db.hooks, id)
		db.hooksMu.Unlock()
	}
}

func (db *cedarImpl) SupportsFeature(feature engine.Feature) bool {
	supported := engine.FeatureReadTx | engine.FeatureWriteTx | engine.FeatureQuery |
		engine.FeatureCommitHooks | engine.FeatureSave | engine.FeatureLoad
	return feature&supported == feature
}

func (db *cedarImpl) Info() engine.EngineInfo {
	tables := 0
	db.tables.Range(func(string, *internal.Table) bool {
		tables++
		return true
	})

	return engine.EngineInfo{
		Impl:   engine.ImplCedar,
		Tables: tables,
		SupportedFeatures: []engine.Feature{
			engine.FeatureReadTx, engine.FeatureWriteTx, engine.FeatureQuery,
			engine.FeatureCommitHooks, engine.FeatureSave, engine.FeatureLoad,
		},
		Metadata: map[string]uint64{
			"version": db.version.Load(),
			"commits": db.commits.Load(),
		},
	}
}

func (db *cedarImpl) Close() error {
	db.closed.Store(true)
	return nil
}

// materialize deep-copies a chain node into a caller-owned row.
func materialize(key string, node *internal.Node) engine.Row {
	fields := make(map[string][]byte, len(node.Fields))
	for name, val := range node.Fields {
		cp := make([]byte, len(val))
		copy(cp, val)
		fields[name] = cp
	}
	return engine.Row{Key: key, Version: engine.Version(node.Version), Fields: fields}
}

// --------------------------------------------------------------------------
// Read Transaction
// --------------------------------------------------------------------------

// readTx is pinned at one version. Not safe for concurrent use; every owner
// opens its own.
type readTx struct {
	db      *cedarImpl
	version engine.Version
	closed  bool
}

func (t *readTx) Version() engine.Version {
	return t.version
}

func (t *readTx) Advance() (engine.Version, error) {
	if t.closed {
		return 0, engine.NewError(engine.RetCClosedHandle, "read transaction is closed")
	}

	current := t.db.CurrentVersion()
	if current == t.version {
		return current, nil
	}

	t.db.pin(current)
	t.db.unpin(t.version)
	t.version = current
	return current, nil
}

func (t *readTx) Get(table, key string) (engine.Row, bool) {
	if t.closed {
		return engine.Row{}, false
	}

	at := uint64(t.version)
	tbl, found := t.db.tables.Load(table)
	if !found || tbl.DroppedAt(at) {
		return engine.Row{}, false
	}
	chain, found := tbl.Rows.Load(key)
	if !found {
		return engine.Row{}, false
	}
	node := chain.VisibleAt(at)
	if node == nil {
		return engine.Row{}, false
	}
	return materialize(key, node), true
}

func (t *readTx) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.db.unpin(t.version)
	return nil
}

// --------------------------------------------------------------------------
// Write Transaction
// --------------------------------------------------------------------------

type opKind uint8

const (
	opSet opKind = iota
	opDelete
	opDrop
)

type mutation struct {
	kind   opKind
	table  string
	key    string
	fields map[string][]byte
}

// writeTx buffers mutations; they become visible atomically at Commit. The
// transaction holds the writer mutex from BeginWrite until Commit/Rollback.
type writeTx struct {
	db   *cedarImpl
	ops  []mutation
	done bool
}

func (t *writeTx) Set(table, key string, fields map[string][]byte) {
	cp := make(map[string][]byte, len(fields))
	for name, val := range fields {
		v := make([]byte, len(val))
		copy(v, val)
		cp[name] = v
	}
	t.ops = append(t.ops, mutation{kind: opSet, table: table, key: key, fields: cp})
}

func (t *writeTx) Delete(table, key string) {
	t.ops = append(t.ops, mutation{kind: opDelete, table: table, key: key})
}

func (t *writeTx) DropTable(table string) {
	t.ops = append(t.ops, mutation{kind: opDrop, table: table})
}

func (t *writeTx) Commit() (engine.Version, error) {
	if t.done {
		return 0, engine.NewError(engine.RetCIllegalState, "write transaction already finished")
	}
	t.done = true

	v := t.db.version.Load() + 1

	for _, op := range t.ops {
		switch op.kind {
		case opSet:
			tbl := t.db.getOrCreateTable(op.table)
			tbl.GetOrCreate(op.key).Append(&internal.Node{Version: v, Fields: op.fields})
		case opDelete:
			tbl := t.db.getOrCreateTable(op.table)
			tbl.GetOrCreate(op.key).Append(&internal.Node{Version: v, Deleted: true})
		case opDrop:
			if tbl, found := t.db.tables.Load(op.table); found {
				tbl.MarkDropped(v)
			}
		}
	}

	// Publishing the version makes the commit visible to new pins.
	t.db.version.Store(v)

	if t.db.commits.Add(1)%t.db.pruneEvery == 0 {
		t.db.prune()
	}

	t.db.writer.Unlock()

	// Fire hooks after releasing the writer slot, still synchronously on the
	// committing goroutine.
	t.db.hooksMu.RLock()
	hooks := make([]engine.CommitHook, 0, len(t.db.hooks))
	for _, h := range t.db.hooks {
		hooks = append(hooks, h)
	}
	t.db.hooksMu.RUnlock()

	version := engine.Version(v)
	for _, h := range hooks {
		h(version)
	}

	return version, nil
}

func (t *writeTx) Rollback() error {
	if t.done {
		return engine.NewError(engine.RetCIllegalState, "write transaction already finished")
	}
	t.done = true
	t.ops = nil
	t.db.writer.Unlock()
	return nil
}

func (db *cedarImpl) getOrCreateTable(name string) *internal.Table {
	tbl, _ := db.tables.LoadOrCompute(name, internal.NewTable)
	return tbl
}

// prune truncates version chains below the oldest pinned reader version and
// removes chains reduced to an unreachable tombstone.
//
// Thread-safety: called by the single writer while holding the writer mutex.
func (db *cedarImpl) prune() {
	minPinned := db.minPinned()
	removed := 0

	db.tables.Range(func(_ string, tbl *internal.Table) bool {
		tbl.Rows.Range(func(key string, chain *internal.Chain) bool {
			if chain.Prune(minPinned) {
				tbl.Rows.Delete(key)
				removed++
			}
			return true
		})
		return true
	})

	if removed > 0 {
		Logger.Debugf("prune pass removed %d dead chains (min pinned version %d)", removed, minPinned)
	}
}

// --------------------------------------------------------------------------
// Persistence (snapshot format: magic, format version, commit version,
// tables with their newest visible rows)
// --------------------------------------------------------------------------

// Save persists the newest committed state to the writer.
//
// Thread-safety: safe to run concurrently with readers; concurrent commits
// may or may not be included depending on timing.
func (db *cedarImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer
	at := db.version.Load()

	type savedTable struct {
		name string
		rows engine.RowSet
	}
	var saved []savedTable

	db.tables.Range(func(name string, tbl *internal.Table) bool {
		if tbl.DroppedAt(at) {
			return true
		}
		var rows engine.RowSet
		tbl.Rows.Range(func(key string, chain *internal.Chain) bool {
			if node := chain.VisibleAt(at); node != nil {
				rows = append(rows, materialize(key, node))
			}
			return true
		})
		sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
		saved = append(saved, savedTable{name: name, rows: rows})
		return true
	})
	sort.Slice(saved, func(i, j int) bool { return saved[i].name < saved[j].name })

	// File header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(cedarVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, at); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(saved))); err != nil {
		return err
	}

	for _, tbl := range saved {
		if err := writeString(bw, tbl.name); err != nil {
			return err
		}
		if err := binary.Write(bw, binary.LittleEndian, uint64(len(tbl.rows))); err != nil {
			return err
		}
		for _, row := range tbl.rows {
			if err := writeString(bw, row.Key); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, uint64(row.Version)); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, uint16(len(row.Fields))); err != nil {
				return err
			}
			names := make([]string, 0, len(row.Fields))
			for name := range row.Fields {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if err := writeString(bw, name); err != nil {
					return err
				}
				val := row.Fields[name]
				if err := binary.Write(bw, binary.LittleEndian, uint32(len(val))); err != nil {
					return err
				}
				if _, err := bw.Write(val); err != nil {
					return err
				}
			}
		}
	}

	return bw.Flush()
}

// Load restores the engine state from the reader.
//
// Thread-safety: not thread-safe; must only be called before the engine is
// shared.
func (db *cedarImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return engine.NewErrorf(engine.RetCFileAccess, "reading snapshot header: %v", err)
	}
	if string(magicBytes) != magicNum {
		return engine.NewError(engine.RetCIncompatibleFormat, "invalid snapshot file: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return engine.NewErrorf(engine.RetCFileAccess, "reading snapshot version: %v", err)
	}
	if int(version) != cedarVersion {
		return engine.NewErrorf(engine.RetCIncompatibleFormat, "unsupported snapshot version: %d (expected %d)", version, cedarVersion)
	}

	var commitVersion uint64
	if err := binary.Read(br, binary.LittleEndian, &commitVersion); err != nil {
		return engine.NewErrorf(engine.RetCFileAccess, "reading commit version: %v", err)
	}
	var tableCount uint32
	if err := binary.Read(br, binary.LittleEndian, &tableCount); err != nil {
		return engine.NewErrorf(engine.RetCFileAccess, "reading table count: %v", err)
	}

	tables := xsync.NewMapOf[string, *internal.Table]()
	loadedRows := 0

	for i := uint32(0); i < tableCount; i++ {
		name, err := readString(br)
		if err != nil {
			return engine.NewErrorf(engine.RetCFileAccess, "reading table name: %v", err)
		}
		var rowCount uint64
		if err := binary.Read(br, binary.LittleEndian, &rowCount); err != nil {
			return engine.NewErrorf(engine.RetCFileAccess, "reading row count: %v", err)
		}

		tbl := internal.NewTable()
		tables.Store(name, tbl)

		for j := uint64(0); j < rowCount; j++ {
			key, err := readString(br)
			if err != nil {
				return engine.NewErrorf(engine.RetCFileAccess, "reading row key: %v", err)
			}
			var rowVersion uint64
			if err := binary.Read(br, binary.LittleEndian, &rowVersion); err != nil {
				return engine.NewErrorf(engine.RetCFileAccess, "reading row version: %v", err)
			}
			if rowVersion > commitVersion {
				return engine.NewErrorf(engine.RetCIncompatibleFormat, "row version %d exceeds snapshot commit version %d", rowVersion, commitVersion)
			}
			var fieldCount uint16
			if err := binary.Read(br, binary.LittleEndian, &fieldCount); err != nil {
				return engine.NewErrorf(engine.RetCFileAccess, "reading field count: %v", err)
			}

			fields := make(map[string][]byte, fieldCount)
			for k := uint16(0); k < fieldCount; k++ {
				fieldName, err := readString(br)
				if err != nil {
					return engine.NewErrorf(engine.RetCFileAccess, "reading field name: %v", err)
				}
				var valLen uint32
				if err := binary.Read(br, binary.LittleEndian, &valLen); err != nil {
					return engine.NewErrorf(engine.RetCFileAccess, "reading field length: %v", err)
				}
				val := make([]byte, valLen)
				if _, err := io.ReadFull(br, val); err != nil {
					return engine.NewErrorf(engine.RetCFileAccess, "reading field value: %v", err)
				}
				fields[fieldName] = val
			}

			tbl.GetOrCreate(key).Append(&internal.Node{Version: rowVersion, Fields: fields})
			loadedRows++
		}
	}

	db.tables = tables
	db.version.Store(commitVersion)

	Logger.Infof("loaded snapshot: %d tables, %d rows, commit version %d", tableCount, loadedRows, commitVersion)
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
