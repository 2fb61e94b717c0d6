package parallax

import "fmt"

// Config is a serialisable representation of the engine configuration.  It
// can be populated from JSON or YAML; the zero-value is useful - all nested
// fields inherit their package defaults.
type Config struct {
	Pool    PoolConfig    `json:"pool" yaml:"pool"`
	Profile ProfileConfig `json:"profile" yaml:"profile"`
}

// PoolConfig sizes the backend pool.
type PoolConfig struct {
	// ParallelLevel is the number of concurrent backend slots, each fronting
	// one isolated test host.
	ParallelLevel int `json:"parallelLevel" yaml:"parallelLevel"`
}

// ProfileConfig locates run-profile documents.
type ProfileConfig struct {
	// BaseURL resolves relative profile locations.
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
}

// DefaultConfig returns a Config populated with the package defaults.
// Callers may modify the returned struct before passing it to New.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			ParallelLevel: 4,
		},
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Pool.ParallelLevel <= 0 {
		return fmt.Errorf("pool.parallelLevel must be > 0")
	}
	return nil
}
