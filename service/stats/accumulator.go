// Package stats aggregates per-backend run results into a single run-level
// outcome.  The accumulator keeps counters, attachments and executor URIs for
// one run at a time; it is safe for concurrent use by every backend relay.
package stats

import (
	"sync"
	"time"

	"github.com/testhost/parallax/model"
)

// Accumulator merges the completion payloads reported by individual backends.
// Counters only ever grow within a run; Reset prepares the accumulator for
// the next one.
type Accumulator struct {
	mu           sync.Mutex
	executed     int64
	outcomes     map[model.TestOutcome]int64
	aborted      bool
	canceled     bool
	errors       []string
	elapsed      time.Duration
	attachments  []model.Attachment
	executorURIs []string
	seenURIs     map[string]bool
}

// New creates an empty accumulator.
func New() *Accumulator {
	return &Accumulator{
		outcomes: make(map[model.TestOutcome]int64),
		seenURIs: make(map[string]bool),
	}
}

// Merge folds one backend's completion payload into the run-level result.
func (a *Accumulator) Merge(args *model.RunCompletionArgs, attachments []model.Attachment, executorURIs []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if args != nil {
		if args.Stats != nil {
			a.executed += args.Stats.ExecutedTests
			for outcome, count := range args.Stats.Outcomes {
				a.outcomes[outcome] += count
			}
		}
		a.aborted = a.aborted || args.IsAborted
		a.canceled = a.canceled || args.IsCanceled
		if args.Error != "" {
			a.errors = append(a.errors, args.Error)
		}
		// Backends run concurrently, so run duration is the slowest backend,
		// not the sum.
		if args.ElapsedTime > a.elapsed {
			a.elapsed = args.ElapsedTime
		}
	}

	a.attachments = append(a.attachments, attachments...)
	for _, uri := range executorURIs {
		if uri == "" || a.seenURIs[uri] {
			continue
		}
		a.seenURIs[uri] = true
		a.executorURIs = append(a.executorURIs, uri)
	}
}

// Aggregate returns the merged run-level completion payload together with the
// collected attachments and the de-duplicated executor URI set.
func (a *Accumulator) Aggregate() (*model.RunCompletionArgs, []model.Attachment, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	outcomes := make(map[model.TestOutcome]int64, len(a.outcomes))
	for outcome, count := range a.outcomes {
		outcomes[outcome] = count
	}
	args := &model.RunCompletionArgs{
		Stats:       &model.RunStats{ExecutedTests: a.executed, Outcomes: outcomes},
		IsAborted:   a.aborted,
		IsCanceled:  a.canceled,
		ElapsedTime: a.elapsed,
	}
	if len(a.errors) > 0 {
		args.Error = a.errors[0]
	}

	attachments := make([]model.Attachment, len(a.attachments))
	copy(attachments, a.attachments)
	executorURIs := make([]string, len(a.executorURIs))
	copy(executorURIs, a.executorURIs)
	return args, attachments, executorURIs
}

// Reset discards all merged state so the accumulator can serve a new run.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.executed = 0
	a.outcomes = make(map[model.TestOutcome]int64)
	a.aborted = false
	a.canceled = false
	a.errors = nil
	a.elapsed = 0
	a.attachments = nil
	a.executorURIs = nil
	a.seenURIs = make(map[string]bool)
}
