package natsrpc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/guarzo/eveDMV-sub012/errors"
)

// Config holds configuration for the request/reply service.
type Config struct {
	// Prefix is the first subject token, e.g. "intel" gives intel.analyze.character.
	Prefix string `json:"prefix" yaml:"prefix"`

	// QueueGroup lets several instances share the subjects.
	QueueGroup string `json:"queue_group" yaml:"queue_group"`

	// MaxRequestSize limits request payloads in bytes.
	MaxRequestSize int `json:"max_request_size" yaml:"max_request_size"`

	// MaxBatchSize limits the entity ids of one batch request.
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size"`

	// RequestTimeout bounds the handling of one message.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// RateLimit caps handled requests per second per instance; 0 disables it.
	// Requests wait for a token until their timeout.
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`

	// RateBurst is how many requests may arrive at once above the rate.
	RateBurst int `json:"rate_burst" yaml:"rate_burst"`
}

// DefaultConfig returns default service configuration
func DefaultConfig() Config {
	return Config{
		Prefix:         "intel",
		QueueGroup:     "inteld",
		MaxRequestSize: 1024 * 1024,
		MaxBatchSize:   1000,
		RequestTimeout: 90 * time.Second,
		RateBurst:      50,
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.Prefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "prefix cannot be empty")
	}
	if strings.ContainsAny(c.Prefix, "*> \t") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("prefix %q cannot contain wildcards or whitespace", c.Prefix))
	}
	if c.QueueGroup == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "queue_group cannot be empty")
	}
	if c.MaxRequestSize <= 0 || c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size must be between 1 byte and 100MB")
	}
	if c.MaxBatchSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_batch_size must be positive")
	}
	if c.RequestTimeout < 100*time.Millisecond || c.RequestTimeout > 10*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"request_timeout must be between 100ms and 10m")
	}
	if c.RateLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "rate_limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"rate_burst must be at least 1 when rate_limit is set")
	}
	return nil
}

// UnmarshalJSON accepts request_timeout as a duration string or nanoseconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		RequestTimeout json.RawMessage `json:"request_timeout,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if len(aux.RequestTimeout) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(aux.RequestTimeout, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid request_timeout: %w", err)
		}
		c.RequestTimeout = d
		return nil
	}
	var nsec int64
	if err := json.Unmarshal(aux.RequestTimeout, &nsec); err != nil {
		return fmt.Errorf("request_timeout must be a duration string or integer nanoseconds")
	}
	c.RequestTimeout = time.Duration(nsec)
	return nil
}

// AnalyzeSubject is the subject serving single reports for domain.
func (c Config) AnalyzeSubject(domain string) string {
	return fmt.Sprintf("%s.analyze.%s", c.Prefix, domain)
}

// BatchSubject is the subject serving per-entity batches for domain.
func (c Config) BatchSubject(domain string) string {
	return fmt.Sprintf("%s.batch.%s", c.Prefix, domain)
}
