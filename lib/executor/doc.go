// Package executor implements the bounded, pausable worker pool that runs
// background queries and write transactions off the owning goroutine.
//
// Key Features:
//   - Bounded pool (default 2×cores+1 workers) over a fixed-capacity queue
//     (default 100); submission beyond capacity fails with a
//     CapacityExceeded error instead of blocking the caller
//   - Pause/Resume: pausing blocks new task *starts* while in-flight tasks
//     run to completion and queued work is retained, which lets the store
//     suspend background activity during snapshot compaction
//   - Separate tracking of transaction-submitting tasks (HasPendingWork)
//   - Panic isolation: a failing task fails alone, the pool stays usable
//
// Implementation Details:
//
//	The pause gate is a mutex+condition guarding the moment between a worker
//	dequeuing a task and starting it. This keeps the queue ordering intact:
//	after Resume, exactly the queued tasks start, in submission order, as
//	worker slots become available.
//
// Thread Safety:
//
//	All methods are safe for concurrent use from any goroutine.
package executor
