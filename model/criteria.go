package model

import (
	"context"
	"fmt"
	"io"
)

// HostLauncher starts an isolated test-host process and exposes its duplex
// message stream.  The coordinator treats the launcher as an opaque
// collaborator; it is passed through to every backend during initialization.
type HostLauncher interface {
	// Launch starts a test host and returns its duplex message stream.
	Launch(ctx context.Context) (io.ReadWriteCloser, error)
}

// TestCase identifies a single test discovered in a source.
type TestCase struct {
	ID                 string `json:"id,omitempty" yaml:"id,omitempty"`
	FullyQualifiedName string `json:"fullyQualifiedName" yaml:"fullyQualifiedName"`
	DisplayName        string `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Source             string `json:"source" yaml:"source"`
}

// RunCriteria is the immutable per-run configuration.  Exactly one of Sources
// or TestCases is populated; the other remains empty.  A criteria is built
// once at run start and never mutated by backends - per-backend variants are
// derived with ForUnit.
type RunCriteria struct {
	// Sources lists test containers to execute, in caller-given order.
	Sources []string `json:"sources,omitempty" yaml:"sources,omitempty"`

	// TestCases lists individual cases to execute; when present the
	// coordinator buckets them by originating source before dispatch.
	TestCases []TestCase `json:"testCases,omitempty" yaml:"testCases,omitempty"`

	// FrequencyOfRunStatsChangeEvent controls how many new results a backend
	// batches before raising a stats-change event.
	FrequencyOfRunStatsChangeEvent int64 `json:"frequencyOfRunStatsChangeEvent,omitempty" yaml:"frequencyOfRunStatsChangeEvent,omitempty"`

	// KeepAlive keeps the test host alive between runs.
	KeepAlive bool `json:"keepAlive,omitempty" yaml:"keepAlive,omitempty"`

	// RunSettings carries the serialized run configuration document handed
	// verbatim to every backend.
	RunSettings string `json:"runSettings,omitempty" yaml:"runSettings,omitempty"`

	// RunStatsChangeTimeout bounds how long a backend may stay silent before
	// flushing pending results.
	RunStatsChangeTimeout Duration `json:"runStatsChangeTimeout,omitempty" yaml:"runStatsChangeTimeout,omitempty"`

	// HostLauncher, when set, overrides how backends start their test host.
	HostLauncher HostLauncher `json:"-" yaml:"-"`
}

// Validate returns an error describing an unusable criteria or nil.
func (c *RunCriteria) Validate() error {
	if c == nil {
		return fmt.Errorf("run criteria cannot be nil")
	}
	if len(c.Sources) > 0 && len(c.TestCases) > 0 {
		return fmt.Errorf("run criteria cannot carry both sources and test cases")
	}
	return nil
}

// HasTestCases reports whether the criteria designates individual test cases
// rather than whole sources.
func (c *RunCriteria) HasTestCases() bool {
	return len(c.TestCases) > 0
}

// ForUnit derives a copy of the criteria narrowed to a single work unit; all
// run-level settings carry over unchanged.
func (c *RunCriteria) ForUnit(unit WorkUnit) *RunCriteria {
	narrowed := &RunCriteria{
		FrequencyOfRunStatsChangeEvent: c.FrequencyOfRunStatsChangeEvent,
		KeepAlive:                      c.KeepAlive,
		RunSettings:                    c.RunSettings,
		RunStatsChangeTimeout:          c.RunStatsChangeTimeout,
		HostLauncher:                   c.HostLauncher,
	}
	if unit.Group != nil {
		narrowed.TestCases = unit.Group.Cases
	} else if unit.Source != "" {
		narrowed.Sources = []string{unit.Source}
	}
	return narrowed
}
