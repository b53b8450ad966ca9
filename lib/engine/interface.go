package engine

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplCedar Implementation = "cedar"
)

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeatureReadTx      Feature = 1 << iota // Support for pinned read transactions
	FeatureWriteTx                         // Support for write transactions
	FeatureQuery                           // Support for predicate queries
	FeatureCommitHooks                     // Support for synchronous commit hooks
	FeatureSave                            // Support for Save operations
	FeatureLoad                            // Support for Load operations
)

func (f Feature) String() string {
	switch f {
	case FeatureReadTx:
		return "ReadTx"
	case FeatureWriteTx:
		return "WriteTx"
	case FeatureQuery:
		return "Query"
	case FeatureCommitHooks:
		return "CommitHooks"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	default:
		return "Unknown"
	}
}

// EngineInfo holds metadata about an engine instance.
// It is not guaranteed that all fields are filled in or that the information is up-to-date!
type EngineInfo struct {
	Impl              Implementation `json:"impl"`
	Tables            int            `json:"tables"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// CommitHook is a callback invoked by the engine synchronously on the
// committing goroutine whenever a write transaction commits. Hooks must be
// fast and must not open transactions on the engine that fired them.
type CommitHook func(v Version)

// --------------------------------------------------------------------------
// Row Types
// --------------------------------------------------------------------------

// Row is a point-in-time copy of one stored record. The Version field carries
// the commit that last touched the record, which is how views detect
// modifications between two snapshots.
type Row struct {
	Key     string
	Version Version
	Fields  map[string][]byte
}

// Field returns the value of a named field. The boolean return value
// indicates whether the field is present.
func (r Row) Field(name string) ([]byte, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// RowSet is an ordered set of rows (ascending by key) as materialized by a
// query against one specific version.
type RowSet []Row

// Keys returns the ordered keys of the row set.
func (rs RowSet) Keys() []string {
	keys := make([]string, len(rs))
	for i, r := range rs {
		keys[i] = r.Key
	}
	return keys
}

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// Engine defines the interface consumed from the storage engine. It provides
// pinned read transactions, serialized write transactions, predicate query
// execution and synchronous commit hooks. Implementations can vary in their
// feature support, which can be queried with SupportsFeature.
type Engine interface {

	// --------------------------------------------------------------------------
	// Version Operations
	// --------------------------------------------------------------------------

	// CurrentVersion returns the latest committed version. It must be safe to
	// call concurrently from any goroutine without blocking writers.
	CurrentVersion() Version

	// --------------------------------------------------------------------------
	// Transaction Operations
	// --------------------------------------------------------------------------

	// OpenReadTx pins a read transaction at the given version, or at the
	// latest committed version when at is zero. The returned transaction is
	// not safe for concurrent use; every user opens its own.
	OpenReadTx(at Version) (ReadTx, error)

	// BeginWrite opens a write transaction. Only one write transaction across
	// all goroutines may be open at a time; BeginWrite blocks until the
	// writer slot is free. Readers never block writers.
	BeginWrite() (WriteTx, error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// ExecuteQuery evaluates the predicate against the named table as of the
	// transaction's pinned version and returns the matching rows ordered by
	// key. Querying a table that does not exist fails with RetCQueryFailed.
	ExecuteQuery(tx ReadTx, table string, pred Predicate) (RowSet, error)

	// --------------------------------------------------------------------------
	// Commit Hooks
	// --------------------------------------------------------------------------

	// RegisterCommitHook registers a hook fired synchronously on every
	// commit. The returned function unregisters the hook.
	RegisterCommitHook(hook CommitHook) (unregister func())

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists a consistent snapshot of the latest committed version to
	// the provided io.Writer.
	Save(w io.Writer) error

	// Load restores the engine state from data provided by an io.Reader.
	// It must only be called before the engine is shared.
	Load(r io.Reader) error

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the engine implementation supports the
	// specified feature. Multiple features can be checked at once using the
	// bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// Info returns information about the engine.
	Info() (info EngineInfo)

	// Close releases the engine. All transactions opened on it become unusable.
	Close() error
}

// --------------------------------------------------------------------------
// Transaction Interfaces
// --------------------------------------------------------------------------

// ReadTx is a read transaction pinned at a specific committed version. It is
// the source of all live data access for the handle that owns it.
//
// A ReadTx is confined to its owner; it must never be shared between
// goroutines.
type ReadTx interface {
	// Version returns the version this transaction is pinned at.
	Version() Version

	// Advance re-pins the transaction at the latest committed version and
	// returns it. No-op when already current.
	Advance() (Version, error)

	// Get returns the row with the given key as of the pinned version. The
	// boolean return value indicates whether the row exists at that version.
	Get(table, key string) (Row, bool)

	// Close releases the pinned version. Further use fails.
	Close() error
}

// WriteTx is a write transaction. Mutations are buffered and become visible
// atomically at Commit, which assigns the new version and fires commit hooks
// synchronously before returning.
type WriteTx interface {
	// Set inserts or replaces the row with the given key.
	Set(table, key string, fields map[string][]byte)

	// Delete removes the row with the given key.
	Delete(table, key string)

	// DropTable removes an entire table and all of its rows.
	DropTable(table string)

	// Commit atomically applies the buffered mutations, returns the newly
	// assigned version and fires registered commit hooks before returning.
	Commit() (Version, error)

	// Rollback discards the buffered mutations.
	Rollback() error
}
