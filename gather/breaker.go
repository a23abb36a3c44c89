package gather

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/metric"
	"github.com/guarzo/eveDMV-sub012/pkg/retry"
	"github.com/guarzo/eveDMV-sub012/types"
)

// BreakerConfig holds the circuit and retry settings for a Breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that trip the circuit.
	MaxFailures uint32 `json:"max_failures" yaml:"max_failures"`
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32 `json:"half_open_requests" yaml:"half_open_requests"`
	// Retry controls backoff between attempts on transient failures.
	Retry retry.Config `json:"-" yaml:"-"`
}

// DefaultBreakerConfig returns 5 failures, 30s open, 1 probe, quick retries.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:      5,
		OpenTimeout:      30 * time.Second,
		HalfOpenRequests: 1,
		Retry:            retry.Quick(),
	}
}

// Breaker protects a Gatherer with a circuit breaker and retries transient
// failures. An open circuit fails fast with errors.ErrCircuitOpen.
type Breaker struct {
	name    string
	inner   Gatherer
	cb      *gobreaker.CircuitBreaker
	retry   retry.Config
	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewBreaker wraps inner. metrics and logger may be nil.
func NewBreaker(name string, inner Gatherer, cfg BreakerConfig, metrics *metric.Metrics, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultBreakerConfig()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaults.MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaults.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = defaults.HalfOpenRequests
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = defaults.Retry
	}

	b := &Breaker{
		name:    name,
		inner:   inner,
		retry:   cfg.Retry,
		metrics: metrics,
		logger:  logger.With("component", "gatherer-breaker", "gatherer", name),
	}
	b.retry.Retryable = errors.IsTransient

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    0,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// caller mistakes and cancellations say nothing about the source's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.IsInvalid(err) || stderrors.Is(err, context.Canceled)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.logger.Warn("Gatherer circuit changed state", "from", from.String(), "to", to.String())
			b.recordState(to)
		},
	})
	b.recordState(gobreaker.StateClosed)
	return b
}

// State returns the current circuit state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// FetchStats implements Gatherer.
func (b *Breaker) FetchStats(ctx context.Context, ids []int64, lookbackDays int) (map[int64]types.EntityStats, error) {
	return retry.DoWithResult(ctx, b.retry, func() (map[int64]types.EntityStats, error) {
		if err := ctx.Err(); err != nil {
			return nil, retry.NonRetryable(err)
		}
		res, err := b.cb.Execute(func() (interface{}, error) {
			return b.inner.FetchStats(ctx, ids, lookbackDays)
		})
		if err != nil {
			if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, retry.NonRetryable(errors.WrapTransient(errors.ErrCircuitOpen, "Breaker", "FetchStats", b.name))
			}
			return nil, err
		}
		stats, _ := res.(map[int64]types.EntityStats)
		return stats, nil
	})
}

func (b *Breaker) recordState(state gobreaker.State) {
	if b.metrics == nil {
		return
	}
	b.metrics.RecordCircuitState(b.name, int(state))
}
