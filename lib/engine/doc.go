// Package engine defines the storage-engine abstraction the rest of ember is
// built on, along with the shared version and error types. It serves as the
// boundary between the notification/async-query core and the underlying
// transactional store, so the core never depends on a concrete engine.
//
// The package focuses on:
//   - A unified interface (Engine) for pinned read transactions, serialized
//     write transactions, predicate queries and synchronous commit hooks
//   - A shared Version type with a Tracker for process-wide version queries
//   - A structured error system used across all ember packages
//
// Key Components:
//
//   - Engine Interface: The core abstraction every storage backend
//     implements. Read transactions are pinned at a specific committed
//     version and advanced in place; write transactions serialize on a
//     single process-wide writer slot; commit hooks fire synchronously on
//     the committing goroutine and are the fan-out point for change
//     notifications.
//
//   - Version and Tracker: Versions are opaque, totally-ordered identifiers
//     assigned at commit. The Tracker answers "what is the latest committed
//     version" without touching any goroutine's pinned snapshot.
//
//   - Error System: A structured error reporting mechanism using typed error
//     codes (RetCode) and descriptive messages. Synchronous API misuse
//     (IllegalState, ClosedHandle) fails loudly at the call site, while
//     open-time failures carry FileAccess or IncompatibleFormat codes.
//
//   - Predicates: Simple conjunctive conditions over row fields, evaluated
//     bytewise. Predicates are immutable, which lets the async query
//     controller hand them to background executions and resubmit them
//     unchanged after a version race.
//
// Implementations:
//
//	The in-memory MVCC engine lives in the
//	"github.com/emberdb/ember/lib/engine/engines/cedar" package. The
//	conformance suite in "github.com/emberdb/ember/lib/engine/testing"
//	verifies any implementation against the interface contract.
package engine
