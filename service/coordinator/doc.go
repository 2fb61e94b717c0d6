// Package coordinator implements the parallel execution engine: pull-based
// distribution of test work units across a fixed pool of worker backends,
// aggregation of per-backend completion into a single run-level completion,
// and asynchronous pool teardown once a run drains.
//
// The coordinator has no thread of its own.  Its methods execute on whichever
// caller or backend-notification goroutine invokes them, so all shared state
// (the work-queue cursor and the completion tally) is mutex guarded.
package coordinator
