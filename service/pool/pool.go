// Package pool provides the generic backend pool underneath the parallel
// execution coordinator.  The pool owns the backend instances; how a backend
// executes work is defined by the Backend contract and stays opaque here.
package pool

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/testhost/parallax/model"
)

// Backend is the capability surface of one concurrent execution slot.  The
// pool and coordinator never assume more than this contract.
type Backend interface {
	// Initialize prepares the backend, typically by launching its test host.
	Initialize(ctx context.Context, launcher model.HostLauncher) error

	// StartRun instructs the backend to begin executing the supplied
	// single-unit criteria, reporting events to receiver.  The backend must
	// eventually report completion through the receiver even when execution
	// fails.
	StartRun(ctx context.Context, criteria *model.RunCriteria, receiver model.RunEventsReceiver) error

	// Abort stops the current run on this backend, best effort.
	Abort(ctx context.Context) error

	// Cancel requests a cooperative stop of the current run, best effort.
	Cancel(ctx context.Context) error

	// Dispose releases the backend and its test host.
	Dispose(ctx context.Context) error
}

// Factory creates a backend instance for one pool slot.
type Factory[T Backend] func(ctx context.Context) (T, error)

// Disposer releases a single backend instance.  It overrides the default
// hook, which calls Dispose and discards its error.
type Disposer[T Backend] func(ctx context.Context, instance T)

// Action is applied to one backend during a broadcast.
type Action[T Backend] func(ctx context.Context, instance T) error

// Pool keeps a fixed-size set of backend instances.  The instance slice is
// immutable during a run; it changes only through Resize, which callers must
// never invoke concurrently with dispatch.
type Pool[T Backend] struct {
	mu        sync.RWMutex
	instances []T
	size      int
	factory   Factory[T]
	disposer  Disposer[T]
}

// Option customizes a pool.
type Option[T Backend] func(*Pool[T])

// WithDisposer overrides the per-instance disposal hook.
func WithDisposer[T Backend](disposer Disposer[T]) Option[T] {
	return func(p *Pool[T]) {
		p.disposer = disposer
	}
}

// New creates a pool of size backend slots.  Instances are not created until
// the first Resize(ctx, size) call.
func New[T Backend](size int, factory Factory[T], options ...Option[T]) (*Pool[T], error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %v", size)
	}
	if factory == nil {
		return nil, fmt.Errorf("backend factory is required")
	}
	ret := &Pool[T]{size: size, factory: factory}
	for _, option := range options {
		option(ret)
	}
	return ret, nil
}

// Size returns the configured parallel level.
func (p *Pool[T]) Size() int {
	return p.size
}

// Instances returns a snapshot of the current backend instances.
func (p *Pool[T]) Instances() []T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ret := make([]T, len(p.instances))
	copy(ret, p.instances)
	return ret
}

// Broadcast applies action to every backend instance.  A failing or
// panicking backend never prevents the action from reaching the remaining
// instances.  When parallel is true every invocation runs as an independent
// fire-and-forget goroutine; callers that broadcast in parallel do not need
// the per-backend results.
func (p *Pool[T]) Broadcast(ctx context.Context, action Action[T], parallel bool) {
	for _, instance := range p.Instances() {
		if parallel {
			go p.apply(ctx, action, instance)
			continue
		}
		p.apply(ctx, action, instance)
	}
}

func (p *Pool[T]) apply(ctx context.Context, action Action[T], instance T) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pool: broadcast action panicked on backend: %v", r)
		}
	}()
	if err := action(ctx, instance); err != nil {
		log.Printf("pool: broadcast action failed on backend: %v", err)
	}
}

// Resize grows or shrinks the pool.  A target of zero disposes every
// instance through the disposal hook; disposal failures are discarded since
// they are not actionable.  A positive target (re)creates instances through
// the factory up to min(target, configured size).
func (p *Pool[T]) Resize(ctx context.Context, target int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if target <= 0 {
		for _, instance := range p.instances {
			p.dispose(ctx, instance)
		}
		p.instances = nil
		return nil
	}
	if target > p.size {
		target = p.size
	}
	for len(p.instances) < target {
		instance, err := p.factory(ctx)
		if err != nil {
			return fmt.Errorf("failed to create backend %v: %w", len(p.instances), err)
		}
		p.instances = append(p.instances, instance)
	}
	return nil
}

func (p *Pool[T]) dispose(ctx context.Context, instance T) {
	defer func() {
		// Disposal failures are not actionable and must never propagate.
		_ = recover()
	}()
	if p.disposer != nil {
		p.disposer(ctx, instance)
		return
	}
	_ = instance.Dispose(ctx)
}
