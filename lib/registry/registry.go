package registry

import (
	"github.com/emberdb/ember/lib/engine"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Owner Interface
// --------------------------------------------------------------------------

// Owner is one registered (goroutine, database path) handle. The store layer
// implements it; the registry only needs identity and a way to signal a new
// committed version.
type Owner interface {
	// OwnerID returns the id of the goroutine the owner is confined to.
	OwnerID() uint64

	// Path returns the database path the owner is bound to.
	Path() string

	// SignalVersion notifies the owner that the database advanced to v. It
	// is called from foreign goroutines (the committer) and must only
	// enqueue work, never execute it.
	SignalVersion(v engine.Version)
}

// --------------------------------------------------------------------------
// Registry Type
// --------------------------------------------------------------------------

type ownerKey struct {
	gid  uint64
	path string
}

// Registry is the process-wide map from (goroutine, path) to the one open
// handle of that goroutine. Registration is explicit: handles register on
// open and deregister on close, there is no implicit thread-local state.
type Registry struct {
	owners *xsync.MapOf[ownerKey, Owner]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		owners: xsync.NewMapOf[ownerKey, Owner](),
	}
}

// Default is the process-wide registry used by the store layer.
var Default = New()

// Register adds an owner. Fails with an IllegalState error when the
// (goroutine, path) slot is already taken; callers are expected to reuse the
// existing handle instead.
func (r *Registry) Register(o Owner) error {
	key := ownerKey{gid: o.OwnerID(), path: o.Path()}
	if _, loaded := r.owners.LoadOrStore(key, o); loaded {
		return engine.NewErrorf(engine.RetCIllegalState, "goroutine %d already has an open handle for %q", key.gid, key.path)
	}
	return nil
}

// Lookup returns the owner registered for (gid, path), if any.
func (r *Registry) Lookup(gid uint64, path string) (Owner, bool) {
	return r.owners.Load(ownerKey{gid: gid, path: path})
}

// Unregister removes the owner registered for (gid, path).
func (r *Registry) Unregister(gid uint64, path string) {
	r.owners.Delete(ownerKey{gid: gid, path: path})
}

// ForEachOther calls fn for every owner of the given path except the one on
// goroutine exceptGID. This is the commit fan-out: the committing goroutine
// signals every other open handle on the same database.
//
// Thread-safety: safe to call concurrently; fn must not block.
func (r *Registry) ForEachOther(path string, exceptGID uint64, fn func(Owner)) {
	r.owners.Range(func(key ownerKey, o Owner) bool {
		if key.path == path && key.gid != exceptGID {
			fn(o)
		}
		return true
	})
}

// Count returns the number of registered owners for a path.
func (r *Registry) Count(path string) int {
	n := 0
	r.owners.Range(func(key ownerKey, _ Owner) bool {
		if key.path == path {
			n++
		}
		return true
	})
	return n
}
