package metric

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels a pipeline or plugin run.
type Outcome string

// Outcomes recorded by the pipeline.
const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCacheHit Outcome = "cache_hit"
)

// Sink receives fire-and-forget pipeline events. Implementations must not block.
type Sink interface {
	RecordPipeline(domain string, duration time.Duration, outcome Outcome)
	RecordPlugin(domain, plugin string, duration time.Duration, outcome Outcome)
}

// NoopSink discards every event.
type NoopSink struct{}

// RecordPipeline implements Sink.
func (NoopSink) RecordPipeline(string, time.Duration, Outcome) {}

// RecordPlugin implements Sink.
func (NoopSink) RecordPlugin(string, string, time.Duration, Outcome) {}

// SafeSink wraps a Sink so a panicking implementation can never fail the caller.
type SafeSink struct {
	sink   Sink
	logger *slog.Logger
}

// NewSafeSink wraps sink. A nil sink becomes a NoopSink.
func NewSafeSink(sink Sink, logger *slog.Logger) *SafeSink {
	if sink == nil {
		sink = NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeSink{sink: sink, logger: logger}
}

// RecordPipeline implements Sink.
func (s *SafeSink) RecordPipeline(domain string, duration time.Duration, outcome Outcome) {
	defer s.recover("pipeline")
	s.sink.RecordPipeline(domain, duration, outcome)
}

// RecordPlugin implements Sink.
func (s *SafeSink) RecordPlugin(domain, plugin string, duration time.Duration, outcome Outcome) {
	defer s.recover("plugin")
	s.sink.RecordPlugin(domain, plugin, duration, outcome)
}

func (s *SafeSink) recover(event string) {
	if r := recover(); r != nil {
		s.logger.Warn("Metrics sink panicked", "event", event, "panic", r)
	}
}

// PipelineMetrics is the Prometheus-backed Sink.
type PipelineMetrics struct {
	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	pluginRuns       *prometheus.CounterVec
	pluginDuration   *prometheus.HistogramVec
}

// NewPipelineMetrics creates the pipeline metrics and registers them under the
// "pipeline" service name.
func NewPipelineMetrics(registrar MetricsRegistrar) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total number of pipeline executions by outcome",
			},
			[]string{"domain", "outcome"},
		),
		pipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "pipeline",
				Name:      "duration_seconds",
				Help:      "Pipeline execution duration in seconds",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
			},
			[]string{"domain", "outcome"},
		),
		pluginRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "plugin",
				Name:      "runs_total",
				Help:      "Total number of plugin executions by outcome",
			},
			[]string{"domain", "plugin", "outcome"},
		),
		pluginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "plugin",
				Name:      "duration_seconds",
				Help:      "Plugin execution duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
			},
			[]string{"domain", "plugin"},
		),
	}

	if registrar == nil {
		return m, nil
	}
	if err := registrar.RegisterCounterVec("pipeline", "runs_total", m.pipelineRuns); err != nil {
		return nil, err
	}
	if err := registrar.RegisterHistogramVec("pipeline", "duration_seconds", m.pipelineDuration); err != nil {
		return nil, err
	}
	if err := registrar.RegisterCounterVec("pipeline", "plugin_runs_total", m.pluginRuns); err != nil {
		return nil, err
	}
	if err := registrar.RegisterHistogramVec("pipeline", "plugin_duration_seconds", m.pluginDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordPipeline implements Sink.
func (m *PipelineMetrics) RecordPipeline(domain string, duration time.Duration, outcome Outcome) {
	m.pipelineRuns.WithLabelValues(domain, string(outcome)).Inc()
	m.pipelineDuration.WithLabelValues(domain, string(outcome)).Observe(duration.Seconds())
}

// RecordPlugin implements Sink.
func (m *PipelineMetrics) RecordPlugin(domain, plugin string, duration time.Duration, outcome Outcome) {
	m.pluginRuns.WithLabelValues(domain, plugin, string(outcome)).Inc()
	m.pluginDuration.WithLabelValues(domain, plugin).Observe(duration.Seconds())
}
