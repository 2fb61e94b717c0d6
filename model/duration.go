package model

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that (de)serializes as a human readable string
// such as "90s" or "5m" in both YAML and JSON; bare numbers are taken as
// nanoseconds.
type Duration time.Duration

// Duration returns the native representation.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) parse(value any) error {
	switch actual := value.(type) {
	case string:
		parsed, err := time.ParseDuration(actual)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", actual, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(actual)
	case int64:
		*d = Duration(actual)
	case float64:
		*d = Duration(actual)
	default:
		return fmt.Errorf("invalid duration type %T", value)
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var value any
	if err := node.Decode(&value); err != nil {
		return err
	}
	return d.parse(value)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	return d.parse(value)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}
