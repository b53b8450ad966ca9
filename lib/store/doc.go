// Package store provides the goroutine-confined database handle and the
// notification and async-query machinery on top of the storage engine.
//
// A Store is an owning reference to one pinned read transaction: every
// Collection and Object created through it is a live view into that
// transaction's version, advanced in place on Refresh and never copied.
// Writes happen in explicit transactions on the same handle; a commit is
// observed synchronously by the committer and fanned out as a signal to
// every other open handle on the same path, which picks it up on its next
// Refresh (or continuously, inside Run).
//
// Key Features:
//   - One handle per (goroutine, path): reopening on the same goroutine
//     returns the same handle, other goroutines get their own; the engine
//     underneath is shared and internally synchronized
//   - Goroutine confinement enforced at runtime: using a handle or any of
//     its views from a foreign goroutine fails with an IllegalState error,
//     never silently succeeds
//   - Async queries: QueryAsync and FindAsync run on a background pool
//     against a private read transaction pinned at the submission version;
//     a result only binds when it is consistent with the handle's version
//     at delivery time, stale results are discarded and transparently
//     re-run. A failed run binds a permanently empty, loaded result instead
//     of panicking into the owner's loop.
//   - Change notifications: Watch on a collection or object delivers a
//     ChangeSet on the owning goroutine exactly once per observed version
//     transition that changed the subject; a busy owner collapses several
//     commits into one diff against the latest version
//   - Snapshot persistence: Open loads an existing snapshot file,
//     WriteSnapshot and Compact persist one (Compact pauses background
//     task starts while rewriting)
//
// Implementation Details:
//
//	Commit fan-out is a single engine commit hook per shared engine. It
//	runs on the committing goroutine and posts a signal to every other
//	registered owner's dispatcher; the committer itself advances inline
//	before Commit returns, so it never receives its own signal. Listener
//	delivery always happens on the owning goroutine, either during an
//	explicit Refresh or inside Run.
//
// Thread Safety:
//
//	Store, Collection and Object are confined to their creating goroutine.
//	SignalVersion (called by committers through the registry) is the only
//	method safe to call from foreign goroutines.
package store
