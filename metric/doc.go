// Package metric provides Prometheus-based metrics for the intelligence service.
//
// MetricsRegistry wraps a Prometheus registry, registers the service-level
// Metrics (transport, gatherer circuit and NATS health) and lets components
// register their own collectors through the MetricsRegistrar interface.
// Registrations are keyed by "service.metric", so a component that registers
// the same metric twice gets an error instead of a Prometheus panic.
//
// The pipeline reports through the Sink interface. PipelineMetrics is the
// Prometheus implementation; NoopSink discards events; SafeSink wraps any Sink
// so a misbehaving implementation can never fail a request:
//
//	registry := metric.NewMetricsRegistry()
//	pm, err := metric.NewPipelineMetrics(registry)
//	if err != nil {
//		return err
//	}
//	sink := metric.NewSafeSink(pm, logger)
//	sink.RecordPlugin("character", "combat-stats", 3*time.Millisecond, metric.OutcomeSuccess)
//
// Server exposes /metrics (promhttp) and /health:
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go func() {
//		if err := server.Start(); err != nil && err != http.ErrServerClosed {
//			logger.Error("metrics server failed", "error", err)
//		}
//	}()
//	defer server.Stop(context.Background())
package metric
