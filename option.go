package parallax

import (
	"github.com/viant/afs"

	"github.com/testhost/parallax/model"
	"github.com/testhost/parallax/service/pool"
	"github.com/testhost/parallax/service/profile"
)

// Option customizes the service façade.
type Option func(s *Service)

// WithConfig sets the engine configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithParallelLevel sets the number of concurrent backend slots.
func WithParallelLevel(level int) Option {
	return func(s *Service) {
		s.config.Pool.ParallelLevel = level
	}
}

// WithHostLauncher sets the default test-host launcher used by backends
// whose run criteria does not carry one.
func WithHostLauncher(launcher model.HostLauncher) Option {
	return func(s *Service) {
		s.launcher = launcher
	}
}

// WithBackendFactory overrides how backend instances are created.
func WithBackendFactory(factory pool.Factory[pool.Backend]) Option {
	return func(s *Service) {
		s.factory = factory
	}
}

// WithPoolOptions forwards options to the backend pool.
func WithPoolOptions(options ...pool.Option[pool.Backend]) Option {
	return func(s *Service) {
		s.poolOptions = append(s.poolOptions, options...)
	}
}

// WithFileSystem sets the abstract file system used for profile loading.
func WithFileSystem(fs afs.Service) Option {
	return func(s *Service) {
		s.fs = fs
	}
}

// WithProfileService sets a pre-configured profile loader.
func WithProfileService(profiles *profile.Service) Option {
	return func(s *Service) {
		s.profiles = profiles
	}
}
