package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testhost/parallax/model"
	"github.com/testhost/parallax/service/pool"
)

// fakeBackend simulates a worker backend: every dispatched unit completes
// asynchronously after a short delay.
type fakeBackend struct {
	mu         sync.Mutex
	dispatched []*model.RunCriteria
	delay      time.Duration
	abortFirst bool
	disposed   atomic.Bool
}

func (b *fakeBackend) Initialize(ctx context.Context, launcher model.HostLauncher) error {
	return nil
}

func (b *fakeBackend) StartRun(ctx context.Context, criteria *model.RunCriteria, receiver model.RunEventsReceiver) error {
	b.mu.Lock()
	b.dispatched = append(b.dispatched, criteria)
	count := len(b.dispatched)
	b.mu.Unlock()

	go func() {
		if b.delay > 0 {
			time.Sleep(b.delay)
		}
		args := &model.RunCompletionArgs{
			Stats: &model.RunStats{
				ExecutedTests: 1,
				Outcomes:      map[model.TestOutcome]int64{model.OutcomePassed: 1},
			},
		}
		if b.abortFirst && count == 1 {
			args.IsAborted = true
		}
		receiver.HandleRunCompletion(args, nil, nil, nil)
	}()
	return nil
}

func (b *fakeBackend) Abort(ctx context.Context) error  { return nil }
func (b *fakeBackend) Cancel(ctx context.Context) error { return nil }

func (b *fakeBackend) Dispose(ctx context.Context) error {
	b.disposed.Store(true)
	return nil
}

func (b *fakeBackend) units() []*model.RunCriteria {
	b.mu.Lock()
	defer b.mu.Unlock()
	ret := make([]*model.RunCriteria, len(b.dispatched))
	copy(ret, b.dispatched)
	return ret
}

// captureReceiver records every event the coordinator forwards upward.
type captureReceiver struct {
	mu          sync.Mutex
	completions int
	completion  *model.RunCompletionArgs
	statsEvents []*model.RunChangedArgs
	done        chan struct{}
}

func newCaptureReceiver() *captureReceiver {
	return &captureReceiver{done: make(chan struct{})}
}

func (r *captureReceiver) HandleRunStatsChange(args *model.RunChangedArgs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsEvents = append(r.statsEvents, args)
}

func (r *captureReceiver) HandleRunCompletion(args *model.RunCompletionArgs, lastChunk *model.RunChangedArgs, attachments []model.Attachment, executorURIs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions++
	r.completion = args
	if r.completions == 1 {
		close(r.done)
	}
}

func (r *captureReceiver) HandleLogMessage(level model.LogLevel, message string) {}
func (r *captureReceiver) HandleRawMessage(rawMessage string)                    {}

func (r *captureReceiver) completionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completions
}

func (r *captureReceiver) await(t *testing.T) *model.RunCompletionArgs {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not complete in time")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completion
}

func newTestCoordinator(t *testing.T, size int, options ...pool.Option[pool.Backend]) (*Service, *[]*fakeBackend) {
	t.Helper()
	created := &[]*fakeBackend{}
	var mu sync.Mutex
	backendPool, err := pool.New[pool.Backend](size, func(ctx context.Context) (pool.Backend, error) {
		backend := &fakeBackend{delay: time.Millisecond}
		mu.Lock()
		*created = append(*created, backend)
		mu.Unlock()
		return backend, nil
	}, options...)
	require.NoError(t, err)
	service, err := New(backendPool)
	require.NoError(t, err)
	return service, created
}

func dispatchedSources(backends []*fakeBackend) map[string]int {
	seen := map[string]int{}
	for _, backend := range backends {
		for _, criteria := range backend.units() {
			for _, source := range criteria.Sources {
				seen[source]++
			}
		}
	}
	return seen
}

// Two backends, three sources: each backend takes one source, whichever
// finishes first takes the third, the other finds the queue empty and becomes
// terminal.  Completion fires once, after both are terminal, with exactly
// three dispatches in total.
func TestStartRunDrainsAllSources(t *testing.T) {
	service, created := newTestCoordinator(t, 2)
	receiver := newCaptureReceiver()

	token, err := service.StartRun(context.Background(), &model.RunCriteria{
		Sources: []string{"a.dll", "b.dll", "c.dll"},
	}, receiver)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	completion := receiver.await(t)
	assert.EqualValues(t, 3, completion.Stats.ExecutedTests)
	assert.False(t, completion.IsAborted)

	seen := dispatchedSources(*created)
	assert.Len(t, seen, 3)
	for source, count := range seen {
		assert.Equalf(t, 1, count, "source %v dispatched %v times", source, count)
	}
	total := 0
	for _, backend := range *created {
		total += len(backend.units())
	}
	assert.Equal(t, 3, total)

	// Exactly one overall completion, no matter what settles afterwards.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, receiver.completionCount())
}

func TestStartRunWithNoWork(t *testing.T) {
	service, created := newTestCoordinator(t, 3)
	receiver := newCaptureReceiver()

	_, err := service.StartRun(context.Background(), &model.RunCriteria{}, receiver)
	require.NoError(t, err)

	completion := receiver.await(t)
	assert.EqualValues(t, 0, completion.Stats.ExecutedTests)
	for _, backend := range *created {
		assert.Empty(t, backend.units())
	}
}

func TestStartRunGroupsTestCases(t *testing.T) {
	service, created := newTestCoordinator(t, 2)
	receiver := newCaptureReceiver()

	_, err := service.StartRun(context.Background(), &model.RunCriteria{
		TestCases: []model.TestCase{
			{FullyQualifiedName: "Suite.A1", Source: "a.dll"},
			{FullyQualifiedName: "Suite.B1", Source: "b.dll"},
			{FullyQualifiedName: "Suite.A2", Source: "a.dll"},
		},
	}, receiver)
	require.NoError(t, err)
	receiver.await(t)

	// Two groups (a.dll, b.dll), each dispatched exactly once as test cases.
	var groups [][]model.TestCase
	for _, backend := range *created {
		for _, criteria := range backend.units() {
			assert.Empty(t, criteria.Sources)
			groups = append(groups, criteria.TestCases)
		}
	}
	require.Len(t, groups, 2)
	caseCount := 0
	for _, group := range groups {
		caseCount += len(group)
		for _, testCase := range group {
			assert.Equal(t, group[0].Source, testCase.Source)
		}
	}
	assert.Equal(t, 3, caseCount)
}

// An aborted backend is terminal for itself only; the sibling keeps draining
// the remaining units and the aggregated completion records the abort.
func TestAbortedBackendDoesNotStopSiblings(t *testing.T) {
	created := &[]*fakeBackend{}
	var mu sync.Mutex
	backendPool, err := pool.New[pool.Backend](2, func(ctx context.Context) (pool.Backend, error) {
		mu.Lock()
		defer mu.Unlock()
		backend := &fakeBackend{delay: time.Millisecond, abortFirst: len(*created) == 0}
		*created = append(*created, backend)
		return backend, nil
	})
	require.NoError(t, err)
	service, err := New(backendPool)
	require.NoError(t, err)

	receiver := newCaptureReceiver()
	_, err = service.StartRun(context.Background(), &model.RunCriteria{
		Sources: []string{"a.dll", "b.dll", "c.dll", "d.dll"},
	}, receiver)
	require.NoError(t, err)

	completion := receiver.await(t)
	assert.True(t, completion.IsAborted)

	// The aborted backend consumed exactly one unit; its sibling drained the
	// remaining three.
	assert.Len(t, (*created)[0].units(), 1)
	assert.Len(t, (*created)[1].units(), 3)

	seen := dispatchedSources(*created)
	assert.Len(t, seen, 4)
	assert.Equal(t, 1, receiver.completionCount())
}

// Overall completion must be declared exactly once even when every backend
// reports terminal at the same instant.
func TestCompletionDeclaredOnceUnderRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		service, _ := newTestCoordinator(t, 8)
		receiver := newCaptureReceiver()

		sources := []string{
			"a.dll", "b.dll", "c.dll", "d.dll",
			"e.dll", "f.dll", "g.dll", "h.dll",
		}
		_, err := service.StartRun(context.Background(), &model.RunCriteria{Sources: sources}, receiver)
		require.NoError(t, err)

		completion := receiver.await(t)
		assert.EqualValues(t, len(sources), completion.Stats.ExecutedTests)
		time.Sleep(10 * time.Millisecond)
		assert.Equal(t, 1, receiver.completionCount())
	}
}

// Completion schedules an asynchronous pool shrink; a subsequent StartRun
// must wait for that teardown before its first dispatch touches the pool.
func TestStartRunAwaitsPreviousTeardown(t *testing.T) {
	release := make(chan struct{})
	var teardownStarted atomic.Bool
	service, created := newTestCoordinator(t, 2, pool.WithDisposer[pool.Backend](func(ctx context.Context, backend pool.Backend) {
		teardownStarted.Store(true)
		<-release
		_ = backend.Dispose(ctx)
	}))

	first := newCaptureReceiver()
	_, err := service.StartRun(context.Background(), &model.RunCriteria{Sources: []string{"a.dll"}}, first)
	require.NoError(t, err)
	first.await(t)

	assert.Eventually(t, func() bool { return teardownStarted.Load() }, time.Second, time.Millisecond)

	second := newCaptureReceiver()
	started := make(chan struct{})
	go func() {
		defer close(started)
		_, err := service.StartRun(context.Background(), &model.RunCriteria{Sources: []string{"b.dll"}}, second)
		assert.NoError(t, err)
	}()

	// While teardown is blocked, the second run must not have dispatched.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, second.completionCount())
	assert.Len(t, *created, 2)

	close(release)
	<-started
	second.await(t)

	// The pool was rebuilt for the second run.
	assert.Len(t, *created, 4)
	for _, backend := range (*created)[:2] {
		assert.True(t, backend.disposed.Load())
	}
}

func TestStartRunRejectsOverlappingRun(t *testing.T) {
	// Slow backends keep the first run active while the second one arrives.
	backendPool, err := pool.New[pool.Backend](2, func(ctx context.Context) (pool.Backend, error) {
		return &fakeBackend{delay: 100 * time.Millisecond}, nil
	})
	require.NoError(t, err)
	service, err := New(backendPool)
	require.NoError(t, err)

	receiver := newCaptureReceiver()
	_, err = service.StartRun(context.Background(), &model.RunCriteria{
		Sources: []string{"a.dll", "b.dll"},
	}, receiver)
	require.NoError(t, err)

	_, err = service.StartRun(context.Background(), &model.RunCriteria{Sources: []string{"x.dll"}}, newCaptureReceiver())
	assert.Error(t, err)

	receiver.await(t)
}

func TestStartRunValidation(t *testing.T) {
	service, _ := newTestCoordinator(t, 2)

	_, err := service.StartRun(context.Background(), nil, newCaptureReceiver())
	assert.Error(t, err)

	_, err = service.StartRun(context.Background(), &model.RunCriteria{
		Sources:   []string{"a.dll"},
		TestCases: []model.TestCase{{Source: "b.dll"}},
	}, newCaptureReceiver())
	assert.Error(t, err)

	_, err = service.StartRun(context.Background(), &model.RunCriteria{Sources: []string{"a.dll"}}, nil)
	assert.Error(t, err)
}

func TestShutdown(t *testing.T) {
	service, created := newTestCoordinator(t, 2)
	receiver := newCaptureReceiver()
	_, err := service.StartRun(context.Background(), &model.RunCriteria{Sources: []string{"a.dll", "b.dll"}}, receiver)
	require.NoError(t, err)
	receiver.await(t)

	assert.NoError(t, service.Shutdown(context.Background()))
	for _, backend := range *created {
		assert.True(t, backend.disposed.Load())
	}
}
