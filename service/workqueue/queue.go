// Package workqueue provides the thread-safe, forward-only work-unit queue
// shared by all backends during a run.  The queue is single pass: once a unit
// has been pulled it is never yielded again.
package workqueue

import (
	"sync"

	"github.com/testhost/parallax/model"
)

// Queue owns a cursor over the run's work units.  Pull is linearizable - a
// unit is handed to exactly one caller exactly once regardless of how pulls
// interleave across backends.
type Queue struct {
	mu    sync.Mutex
	units []model.WorkUnit
	next  int
}

// FromSources builds a queue yielding one unit per test source, in
// caller-given order.
func FromSources(sources []string) *Queue {
	units := make([]model.WorkUnit, 0, len(sources))
	for _, source := range sources {
		units = append(units, model.WorkUnit{Source: source})
	}
	return &Queue{units: units}
}

// FromGroups builds a queue yielding one unit per test-case group, keeping
// the supplied group order.
func FromGroups(groups []model.TestGroup) *Queue {
	units := make([]model.WorkUnit, 0, len(groups))
	for i := range groups {
		units = append(units, model.WorkUnit{Group: &groups[i]})
	}
	return &Queue{units: units}
}

// Pull advances the shared cursor and returns the next unit.  The second
// return value is false once the queue is exhausted.  A zero unit is never
// yielded; encountering one reads as exhaustion.
func (q *Queue) Pull() (model.WorkUnit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.units) {
		return model.WorkUnit{}, false
	}
	unit := q.units[q.next]
	if unit.IsZero() {
		q.next = len(q.units)
		return model.WorkUnit{}, false
	}
	q.next++
	return unit, true
}

// Len returns the total number of units the queue started with.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

// Remaining returns the number of units not yet pulled.
func (q *Queue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units) - q.next
}
