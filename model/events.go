package model

import "time"

// TestOutcome classifies a finished test.
type TestOutcome string

const (
	OutcomePassed  TestOutcome = "passed"
	OutcomeFailed  TestOutcome = "failed"
	OutcomeSkipped TestOutcome = "skipped"
	OutcomeNone    TestOutcome = "none"
)

// RunStats aggregates execution counters for one backend or for the whole
// run.
type RunStats struct {
	ExecutedTests int64                 `json:"executedTests"`
	Outcomes      map[TestOutcome]int64 `json:"outcomes,omitempty"`
}

// RunChangedArgs is the payload of an incremental stats-change event.
type RunChangedArgs struct {
	Stats       *RunStats  `json:"stats,omitempty"`
	NewResults  int64      `json:"newResults,omitempty"`
	ActiveTests []TestCase `json:"activeTests,omitempty"`
}

// RunCompletionArgs is the payload a backend reports when it finishes the
// unit it was working on, and the shape of the aggregated run-level result.
type RunCompletionArgs struct {
	Stats       *RunStats     `json:"stats,omitempty"`
	IsCanceled  bool          `json:"isCanceled,omitempty"`
	IsAborted   bool          `json:"isAborted,omitempty"`
	Error       string        `json:"error,omitempty"`
	ElapsedTime time.Duration `json:"elapsedTime,omitempty"`
}

// Attachment references an artifact produced during a run (log file, dump,
// coverage report).
type Attachment struct {
	URI         string `json:"uri"`
	DisplayName string `json:"displayName,omitempty"`
}

// RunEventsReceiver is the caller-supplied sink for run events.  The
// coordinator wraps one relay around it per backend so raw per-backend
// completion is aggregated before HandleRunCompletion fires exactly once for
// the whole run.
type RunEventsReceiver interface {
	// HandleRunStatsChange receives incremental result batches.
	HandleRunStatsChange(args *RunChangedArgs)

	// HandleRunCompletion receives the final result of a run together with
	// the last unflushed result chunk, run attachments and the set of
	// executor URIs that took part.
	HandleRunCompletion(args *RunCompletionArgs, lastChunk *RunChangedArgs, attachments []Attachment, executorURIs []string)

	// HandleLogMessage receives diagnostic messages raised by a backend.
	HandleLogMessage(level LogLevel, message string)

	// HandleRawMessage receives undecoded host messages for pass-through
	// consumers.
	HandleRawMessage(rawMessage string)
}

// LogLevel classifies diagnostic messages forwarded to the receiver.
type LogLevel string

const (
	LogInformational LogLevel = "informational"
	LogWarning       LogLevel = "warning"
	LogError         LogLevel = "error"
)
