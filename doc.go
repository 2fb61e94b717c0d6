// Package parallax coordinates parallel execution of test work units across
// a fixed-size pool of isolated worker backends.
//
// A work unit is either a whole test source or a source-keyed group of
// individual test cases.  Dispatch is pull based: every idle backend takes
// exactly one unit from a shared queue, reports completion, and either
// receives the next unit or becomes terminal.  Once every backend is
// terminal the aggregated run result is delivered exactly once and the pool
// is torn down in the background.
//
// End-users typically interact with the engine via the high-level Service
// façade exposed by the root package:
//
//	srv, _ := parallax.New(parallax.WithParallelLevel(4))
//	token, _ := srv.StartRun(ctx, &model.RunCriteria{
//		Sources: []string{"a.dll", "b.dll", "c.dll"},
//	}, receiver)
//
// For more details see the individual sub-packages.
package parallax
