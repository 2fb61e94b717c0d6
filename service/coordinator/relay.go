package coordinator

import (
	"github.com/testhost/parallax/model"
	"github.com/testhost/parallax/service/pool"
	"github.com/testhost/parallax/service/stats"
)

// relay wraps the caller-supplied run-events receiver for one backend and
// one run.  A backend's raw completion is routed into the coordinator first;
// the aggregated run-level completion reaches the caller exactly once, from
// whichever relay reports the last terminal backend.  Stats-change, log and
// raw messages pass straight through.
type relay struct {
	backend     pool.Backend
	coordinator *Service
	receiver    model.RunEventsReceiver
	accumulator *stats.Accumulator
}

func newRelay(backend pool.Backend, coordinator *Service, receiver model.RunEventsReceiver, accumulator *stats.Accumulator) *relay {
	return &relay{
		backend:     backend,
		coordinator: coordinator,
		receiver:    receiver,
		accumulator: accumulator,
	}
}

func (r *relay) HandleRunStatsChange(args *model.RunChangedArgs) {
	r.receiver.HandleRunStatsChange(args)
}

func (r *relay) HandleLogMessage(level model.LogLevel, message string) {
	r.receiver.HandleLogMessage(level, message)
}

func (r *relay) HandleRawMessage(rawMessage string) {
	r.receiver.HandleRawMessage(rawMessage)
}

func (r *relay) HandleRunCompletion(args *model.RunCompletionArgs, lastChunk *model.RunChangedArgs, attachments []model.Attachment, executorURIs []string) {
	if lastChunk != nil {
		r.receiver.HandleRunStatsChange(lastChunk)
	}
	r.accumulator.Merge(args, attachments, executorURIs)
	r.coordinator.HandlePartialRunComplete(r.backend, args, lastChunk, attachments, executorURIs)
}

var _ model.RunEventsReceiver = (*relay)(nil)
