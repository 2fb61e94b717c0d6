package parallax

import (
	"context"
	"fmt"

	"github.com/viant/afs"

	"github.com/testhost/parallax/model"
	"github.com/testhost/parallax/service/backend"
	"github.com/testhost/parallax/service/coordinator"
	"github.com/testhost/parallax/service/pool"
	"github.com/testhost/parallax/service/profile"
)

// Service is the high-level façade wiring the backend pool, the execution
// coordinator and the profile loader together.
type Service struct {
	config      *Config
	fs          afs.Service
	launcher    model.HostLauncher
	factory     pool.Factory[pool.Backend]
	poolOptions []pool.Option[pool.Backend]
	pool        *pool.Pool[pool.Backend]
	coordinator *coordinator.Service
	profiles    *profile.Service
}

// New creates a service with the supplied options.
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig()}
	for _, option := range options {
		option(s)
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	if s.fs == nil {
		s.fs = afs.New()
	}
	if s.profiles == nil {
		s.profiles = profile.New(s.fs, profile.WithBaseURL(s.config.Profile.BaseURL))
	}
	if s.factory == nil {
		// The default backend is the channel-backed host proxy; it launches
		// its host through the service-level launcher unless the run
		// criteria carries its own.
		s.factory = func(ctx context.Context) (pool.Backend, error) {
			return backend.New(s.launcher), nil
		}
	}
	var err error
	if s.pool, err = pool.New(s.config.Pool.ParallelLevel, s.factory, s.poolOptions...); err != nil {
		return err
	}
	if s.coordinator, err = coordinator.New(s.pool); err != nil {
		return err
	}
	return nil
}

// StartRun accepts a run described by criteria and dispatches it across the
// backend pool.  Completion is reported through receiver.
func (s *Service) StartRun(ctx context.Context, criteria *model.RunCriteria, receiver model.RunEventsReceiver) (coordinator.RunToken, error) {
	return s.coordinator.StartRun(ctx, criteria, receiver)
}

// StartRunFromProfile loads the run profile stored at location and starts it.
func (s *Service) StartRunFromProfile(ctx context.Context, location string, receiver model.RunEventsReceiver) (coordinator.RunToken, error) {
	criteria, err := s.profiles.Load(ctx, location)
	if err != nil {
		return "", fmt.Errorf("failed to start run from profile: %w", err)
	}
	return s.coordinator.StartRun(ctx, criteria, receiver)
}

// Abort broadcasts an abort directive to every backend.
func (s *Service) Abort(ctx context.Context) {
	s.coordinator.Abort(ctx)
}

// Cancel broadcasts a cooperative cancel directive to every backend.
func (s *Service) Cancel(ctx context.Context) {
	s.coordinator.Cancel(ctx)
}

// Coordinator exposes the underlying execution coordinator.
func (s *Service) Coordinator() *coordinator.Service {
	return s.coordinator
}

// Profiles exposes the run-profile loader.
func (s *Service) Profiles() *profile.Service {
	return s.profiles
}

// Shutdown waits for any in-flight teardown and disposes the pool.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.coordinator.Shutdown(ctx)
}
