// Package profile loads run-criteria profile documents from local or remote
// storage.  A profile is a YAML rendition of model.RunCriteria; loaded
// profiles are cached until explicitly refreshed.
package profile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/testhost/parallax/model"
)

// Service resolves, decodes and caches run profiles.
type Service struct {
	fs      afs.Service
	baseURL string

	mu    sync.RWMutex
	cache map[string]*model.RunCriteria
}

// Option customizes the profile service.
type Option func(*Service)

// WithBaseURL resolves relative profile locations against baseURL.
func WithBaseURL(baseURL string) Option {
	return func(s *Service) {
		s.baseURL = baseURL
	}
}

// New creates a profile service backed by the supplied abstract file system.
func New(fs afs.Service, options ...Option) *Service {
	ret := &Service{
		fs:    fs,
		cache: make(map[string]*model.RunCriteria),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Load returns the run criteria stored at location.  A location without an
// extension defaults to ".yaml"; a relative location is resolved against the
// configured base URL.  Subsequent loads of the same location are served
// from cache until Refresh discards it.
func (s *Service) Load(ctx context.Context, location string) (*model.RunCriteria, error) {
	URL := s.normalize(location)

	s.mu.RLock()
	cached, ok := s.cache[URL]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load run profile from %s: %w", URL, err)
	}
	criteria, err := s.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run profile from %s: %w", URL, err)
	}

	s.mu.Lock()
	s.cache[URL] = criteria
	s.mu.Unlock()
	return criteria, nil
}

// Decode parses YAML profile bytes into run criteria.  Values may reference
// environment variables with the ${env.KEY} notation.
func (s *Service) Decode(data []byte) (*model.RunCriteria, error) {
	expanded := expandEnvExpr(string(data))
	criteria := &model.RunCriteria{}
	if err := yaml.Unmarshal([]byte(expanded), criteria); err != nil {
		return nil, err
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	return criteria, nil
}

// Refresh discards the cached copy of the profile at location so the next
// Load reloads it from storage.
func (s *Service) Refresh(location string) {
	URL := s.normalize(location)
	s.mu.Lock()
	delete(s.cache, URL)
	s.mu.Unlock()
}

// Upsert stores criteria in the cache under location without touching
// storage.
func (s *Service) Upsert(location string, criteria *model.RunCriteria) {
	URL := s.normalize(location)
	s.mu.Lock()
	s.cache[URL] = criteria
	s.mu.Unlock()
}

func (s *Service) normalize(location string) string {
	if filepath.Ext(location) == "" {
		location += ".yaml"
	}
	if s.baseURL == "" || strings.Contains(location, "://") || strings.HasPrefix(location, "/") {
		return location
	}
	return url.Join(s.baseURL, location)
}
