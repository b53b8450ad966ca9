// Package testing provides a reusable conformance suite and benchmarks for
// engine.Engine implementations. Any backend can verify itself against the
// interface contract by calling RunEngineTests with a factory that produces
// fresh instances.
//
// The suite covers version monotonicity, pinned-read isolation, in-place
// advance, delete tombstones, predicate queries, table drops, synchronous
// commit hooks, writer serialization under contention and snapshot
// save/load roundtrips.
package testing
