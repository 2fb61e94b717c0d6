package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/testhost/parallax/internal/clock"
	"github.com/testhost/parallax/internal/idgen"
	"github.com/testhost/parallax/model"
	"github.com/testhost/parallax/service/pool"
	"github.com/testhost/parallax/service/stats"
	"github.com/testhost/parallax/service/workqueue"
	"github.com/testhost/parallax/tracing"
)

// RunToken is an opaque acknowledgement that a run has been accepted.  It
// does not indicate completion.
type RunToken string

// teardownHandle joins an in-flight asynchronous pool shrink.  At most one
// teardown is in flight at a time; the next run awaits it before touching
// the pool.
type teardownHandle struct {
	done chan struct{}
	err  error
}

// Service coordinates one test run at a time across the backend pool.
type Service struct {
	pool *pool.Pool[pool.Backend]

	mu          sync.Mutex
	active      bool
	runCtx      context.Context
	criteria    *model.RunCriteria
	queue       *workqueue.Queue
	receiver    model.RunEventsReceiver
	accumulator *stats.Accumulator
	slots       map[pool.Backend]*relay
	tally       int
	startedAt   time.Time
	teardown    *teardownHandle
}

// New creates a coordinator on top of the supplied backend pool.
func New(backendPool *pool.Pool[pool.Backend]) (*Service, error) {
	if backendPool == nil {
		return nil, fmt.Errorf("backend pool is required")
	}
	return &Service{pool: backendPool}, nil
}

// Initialize broadcasts host initialization to every backend in parallel.
// It is an optional warm-up; backends initialize lazily on first dispatch
// otherwise.
func (s *Service) Initialize(ctx context.Context, launcher model.HostLauncher) {
	s.pool.Broadcast(ctx, func(ctx context.Context, backend pool.Backend) error {
		return backend.Initialize(ctx, launcher)
	}, true)
}

// StartRun accepts a run and begins dispatching its work units.  When the
// previous run's teardown is still in flight the call blocks until that
// teardown finishes, so the pool is never resized while dispatch might touch
// it.  The returned token only acknowledges acceptance; completion is
// reported through the receiver.
func (s *Service) StartRun(ctx context.Context, criteria *model.RunCriteria, receiver model.RunEventsReceiver) (token RunToken, err error) {
	ctx, span := tracing.StartSpan(ctx, "coordinator.StartRun", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()

	if err = criteria.Validate(); err != nil {
		return "", err
	}
	if receiver == nil {
		return "", fmt.Errorf("run events receiver is required")
	}

	s.awaitPreviousTeardown(ctx)
	if err = s.pool.Resize(ctx, s.pool.Size()); err != nil {
		return "", fmt.Errorf("failed to populate backend pool: %w", err)
	}
	backends := s.pool.Instances()

	// Dispatch outlives the StartRun call, so detach caller cancellation.
	runCtx := context.WithoutCancel(ctx)
	token = RunToken(idgen.New())
	span.WithAttributes(map[string]string{"run.token": string(token)})

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return "", fmt.Errorf("a run is already in progress")
	}
	s.active = true
	s.runCtx = runCtx
	s.criteria = criteria
	s.receiver = receiver
	s.accumulator = stats.New()
	s.tally = 0
	s.startedAt = clock.Now()
	if criteria.HasTestCases() {
		s.queue = workqueue.FromGroups(model.GroupBySource(criteria.TestCases))
	} else {
		s.queue = workqueue.FromSources(criteria.Sources)
	}
	// Slots are rebuilt every run; relays from a prior run are never reused.
	s.slots = make(map[pool.Backend]*relay, len(backends))
	for _, backend := range backends {
		s.slots[backend] = newRelay(backend, s, receiver, s.accumulator)
	}
	s.mu.Unlock()

	// Kick off one unit per backend without blocking the caller.  A backend
	// that finds the queue already exhausted is terminal immediately, which
	// also settles the degenerate zero-unit run.
	for _, backend := range backends {
		go func(backend pool.Backend) {
			if !s.tryDispatchNext(runCtx, backend) {
				s.markTerminal(runCtx, backend)
			}
		}(backend)
	}
	return token, nil
}

// tryDispatchNext pulls exactly one unit from the shared queue and hands it
// to backend.  It returns true iff a unit was dispatched.
func (s *Service) tryDispatchNext(ctx context.Context, backend pool.Backend) bool {
	s.mu.Lock()
	queue := s.queue
	criteria := s.criteria
	backendRelay := s.slots[backend]
	s.mu.Unlock()
	if queue == nil || backendRelay == nil {
		return false
	}
	unit, ok := queue.Pull()
	if !ok {
		return false
	}
	if err := backend.StartRun(ctx, criteria.ForUnit(unit), backendRelay); err != nil {
		log.Printf("coordinator: backend failed to start unit: %v", err)
		// The unit is spent; surface the failure through the normal
		// completion path so the tally still converges.
		go backendRelay.HandleRunCompletion(&model.RunCompletionArgs{
			IsAborted: true,
			Error:     err.Error(),
		}, nil, nil, nil)
	}
	return true
}

// HandlePartialRunComplete is invoked through a backend's relay whenever that
// backend finishes the unit it was working on.  The backend either receives
// its next unit or becomes terminal; the return value reports whether this
// call declared overall run completion.
func (s *Service) HandlePartialRunComplete(backend pool.Backend, args *model.RunCompletionArgs, lastChunk *model.RunChangedArgs, attachments []model.Attachment, executorURIs []string) bool {
	ctx := s.runContext()
	if args != nil && (args.IsAborted || args.IsCanceled) {
		// An aborted backend is terminal but never aborts its siblings; they
		// keep draining their own units.
		return s.markTerminal(ctx, backend)
	}
	if s.tryDispatchNext(ctx, backend) {
		return false
	}
	return s.markTerminal(ctx, backend)
}

// markTerminal records that backend has no more work to receive this run.
// The tally increment and the completion decision form one critical section,
// so overall completion is declared exactly once, by whichever caller
// observes the tally reach the pool size.
func (s *Service) markTerminal(ctx context.Context, backend pool.Backend) bool {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.tally++
	declared := s.tally == s.pool.Size()
	var receiver model.RunEventsReceiver
	var accumulator *stats.Accumulator
	var handle *teardownHandle
	var startedAt time.Time
	if declared {
		s.active = false
		s.queue = nil
		s.criteria = nil
		s.slots = nil
		receiver = s.receiver
		accumulator = s.accumulator
		startedAt = s.startedAt
		handle = &teardownHandle{done: make(chan struct{})}
		s.teardown = handle
	}
	s.mu.Unlock()
	if !declared {
		return false
	}

	// Teardown never runs on the completion callback path; the caller gets
	// control back while the pool shrinks in the background.
	go s.runTeardown(ctx, handle)

	aggregated, attachments, executorURIs := accumulator.Aggregate()
	if aggregated.ElapsedTime == 0 {
		// Backends that report no timing still yield a wall-clock duration.
		aggregated.ElapsedTime = clock.Now().Sub(startedAt)
	}
	receiver.HandleRunCompletion(aggregated, nil, attachments, executorURIs)
	return true
}

func (s *Service) runTeardown(ctx context.Context, handle *teardownHandle) {
	defer close(handle.done)
	ctx, span := tracing.StartSpan(ctx, "coordinator.teardown", "INTERNAL")
	handle.err = s.pool.Resize(ctx, 0)
	tracing.EndSpan(span, handle.err)
}

func (s *Service) awaitPreviousTeardown(ctx context.Context) {
	s.mu.Lock()
	handle := s.teardown
	s.mu.Unlock()
	if handle == nil {
		return
	}
	select {
	case <-handle.done:
		if handle.err != nil {
			// Best-effort cleanup; the new run proceeds regardless.
			log.Printf("coordinator: previous teardown failed: %v", handle.err)
		}
	case <-ctx.Done():
		log.Printf("coordinator: gave up waiting for previous teardown: %v", ctx.Err())
	}
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}

// Abort broadcasts an abort directive to every backend in parallel.  It does
// not touch the tally or the queue; each affected backend reports back
// through the normal completion path, which drives the run to completion.
func (s *Service) Abort(ctx context.Context) {
	s.pool.Broadcast(ctx, func(ctx context.Context, backend pool.Backend) error {
		return backend.Abort(ctx)
	}, true)
}

// Cancel broadcasts a cooperative cancel directive to every backend in
// parallel, with the same best-effort semantics as Abort.
func (s *Service) Cancel(ctx context.Context) {
	s.pool.Broadcast(ctx, func(ctx context.Context, backend pool.Backend) error {
		return backend.Cancel(ctx)
	}, true)
}

// Shutdown waits for any in-flight teardown and then disposes every backend
// instance.
func (s *Service) Shutdown(ctx context.Context) error {
	s.awaitPreviousTeardown(ctx)
	return s.pool.Resize(ctx, 0)
}
