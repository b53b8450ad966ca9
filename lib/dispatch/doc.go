// Package dispatch routes notification work to the goroutine that owns a
// store handle. Listeners must fire on their owner's goroutine, but commits
// and async query completions happen elsewhere; the dispatcher bridges that
// gap.
//
// Key Features:
//   - Unbounded lock-free MPSC queue: any goroutine posts, only the owner
//     executes, and a signal is never dropped because a buffer filled up
//   - Two consumption modes: explicit Drain (refresh-style owners that poll
//     at points of their choosing) and Run (event-loop owners that park on
//     the queue until work or context cancellation arrives)
//   - Ownership enforcement: Drain and Run fail with an IllegalState error
//     when called from any goroutine other than the owner
//
// Implementation Details:
//
//	The queue is a Michael-Scott style linked list with a sentinel head.
//	Producers CAS onto the tail with exponential backoff under contention
//	and help a stalled producer advance the tail pointer. The single
//	consumer pops without atomics beyond the head load, and parks on a
//	condition variable when empty.
//
// Thread Safety:
//
//	Post, Pending and Close are safe from any goroutine. Drain and Run are
//	restricted to the owning goroutine and enforce that at runtime.
package dispatch
