package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guarzo/eveDMV-sub012/errors"
)

// Config tunes execution limits.
type Config struct {
	// PluginTimeout bounds each plugin run. Concurrent runs are abandoned
	// when it elapses. Serial runs (Parallel false, or a single plugin) only
	// see their context expire, so a plugin that ignores its context blocks
	// the request until the caller's own context ends.
	PluginTimeout time.Duration `json:"plugin_timeout" yaml:"plugin_timeout"`

	// BatchTimeout bounds the join of a concurrent batch.
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`

	// BatchWorkers caps how many entities of one batch run at once.
	BatchWorkers int `json:"batch_workers" yaml:"batch_workers"`

	// BatchQueue is the depth of the batch work queue.
	BatchQueue int `json:"batch_queue" yaml:"batch_queue"`
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		PluginTimeout: 30 * time.Second,
		BatchTimeout:  60 * time.Second,
		BatchWorkers:  16,
		BatchQueue:    256,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.PluginTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "pipeline", "Validate",
			fmt.Sprintf("plugin_timeout must be positive, got %v", c.PluginTimeout))
	}
	if c.BatchTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "pipeline", "Validate",
			fmt.Sprintf("batch_timeout must be positive, got %v", c.BatchTimeout))
	}
	if c.BatchWorkers < 1 || c.BatchWorkers > 1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "pipeline", "Validate",
			fmt.Sprintf("batch_workers must be between 1 and 1024, got %d", c.BatchWorkers))
	}
	if c.BatchQueue < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "pipeline", "Validate",
			fmt.Sprintf("batch_queue cannot be negative, got %d", c.BatchQueue))
	}
	return nil
}

// UnmarshalJSON accepts duration strings ("30s") as well as nanoseconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	aux := &struct {
		PluginTimeout json.RawMessage `json:"plugin_timeout,omitempty"`
		BatchTimeout  json.RawMessage `json:"batch_timeout,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	for _, f := range []struct {
		raw  json.RawMessage
		name string
		dst  *time.Duration
	}{
		{aux.PluginTimeout, "plugin_timeout", &c.PluginTimeout},
		{aux.BatchTimeout, "batch_timeout", &c.BatchTimeout},
	} {
		if len(f.raw) == 0 {
			continue
		}
		d, err := parseDuration(f.raw, f.name)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

func parseDuration(data json.RawMessage, field string) (time.Duration, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", field, err)
		}
		return d, nil
	}
	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '30s') or integer nanoseconds", field)
	}
	return time.Duration(nsec), nil
}
