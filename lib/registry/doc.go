// Package registry implements the process-wide map from goroutine identity
// to open database handles. It is the mechanism that enforces goroutine
// confinement without taking locks on the hot read path: handles register
// explicitly on open, deregister on close, and every confined operation
// compares the calling goroutine's id against the registered owner.
//
// Key Components:
//
//   - GID: Returns the calling goroutine's id, parsed from the stack trace
//     header. Goroutine ids are never reused within a process.
//
//   - Registry: A concurrent (goroutine, path) → Owner map. Registration is
//     explicit rather than implicit thread-local state, so tests and
//     embedders can always see and control which handles exist.
//
//   - ForEachOther: The commit fan-out primitive. A committing goroutine
//     iterates every other owner of the same database and signals the new
//     version; owners only enqueue the signal for their own event loop.
//
// Thread Safety:
//
//	All registry operations are safe for concurrent use. The registry never
//	calls into owners beyond the SignalVersion enqueue.
package registry
