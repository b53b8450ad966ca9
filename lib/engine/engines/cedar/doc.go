// Package cedar implements an in-memory MVCC storage engine based on the
// engine.Engine interface. Every record carries a reverse-chronological
// version chain; readers pin a committed version and walk immutable chain
// nodes without taking locks, while a single writer appends new chain heads
// under the process-wide writer mutex.
//
// Key Features:
//   - Lock-free reads at any pinned version (readers never block writers)
//   - Single-writer commits with atomically published versions
//   - Synchronous commit hooks fired on the committing goroutine
//   - Version-chain pruning driven by the oldest pinned reader
//   - Binary snapshot persistence with format identification
//
// Implementation Details:
//
//   - Version Chains: Each record is a linked list of immutable nodes,
//     newest first. A reader pinned at version V sees the newest node with
//     version <= V; a tombstone node at or below V means the record is
//     deleted. Because nodes are never mutated after linking, readers can
//     walk chains concurrently with the writer appending new heads.
//
//   - Commit Protocol: A write transaction buffers mutations and holds the
//     writer mutex from BeginWrite until Commit or Rollback. Commit appends
//     chain nodes tagged with the next version, publishes the version with a
//     single atomic store, releases the writer slot and only then fires the
//     registered commit hooks, still synchronously on the committing
//     goroutine.
//
//   - Pruning: The engine tracks every pinned reader version with a
//     reference count. Every PruneEvery commits, chains are truncated below
//     the oldest pinned version and chains reduced to an unreachable
//     tombstone are removed. Dropped tables keep their chains so readers
//     pinned before the drop still see consistent data.
//
//   - Snapshot Format: Save writes a magic number ("CEDARDB\x00"), a format
//     version, the commit version and the newest visible row of every live
//     table. Load rejects unknown magic numbers and format versions with
//     IncompatibleFormat errors and reports I/O failures as FileAccess
//     errors.
//
// Thread Safety:
//
//	CurrentVersion, OpenReadTx, BeginWrite, ExecuteQuery and
//	RegisterCommitHook are safe for concurrent use. An individual ReadTx or
//	WriteTx is confined to the goroutine that opened it. Load must only be
//	called before the engine is shared.
package cedar
