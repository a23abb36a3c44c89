package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/sony/gobreaker"

	"github.com/guarzo/eveDMV-sub012/analyzer"
	"github.com/guarzo/eveDMV-sub012/config"
	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/gateway/natsrpc"
	"github.com/guarzo/eveDMV-sub012/gather"
	"github.com/guarzo/eveDMV-sub012/health"
	"github.com/guarzo/eveDMV-sub012/metric"
	"github.com/guarzo/eveDMV-sub012/natsclient"
	"github.com/guarzo/eveDMV-sub012/pipeline"
	"github.com/guarzo/eveDMV-sub012/pkg/cache"
	"github.com/guarzo/eveDMV-sub012/pkg/tlsutil"
	"github.com/guarzo/eveDMV-sub012/plugin"
	"github.com/guarzo/eveDMV-sub012/types"
)

// app owns every long-lived component of the service.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metric.MetricsRegistry
	registry *plugin.Registry
	pipeline *pipeline.Pipeline
	health   *health.Monitor

	nats          *natsclient.Client
	gateway       *natsrpc.Server
	metricsServer *metric.Server
	serverErr     chan error

	closers []func() error
}

// newApp builds the service from cfg. Nothing is started and no network
// connection is opened except the NATS client when the kv gatherer needs it.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   metric.NewMetricsRegistry(),
		registry:  plugin.NewRegistry(),
		health:    health.NewMonitor(cfg.Service.Name, 2*time.Second),
		serverErr: make(chan error, 1),
	}

	if err := a.setupPlugins(); err != nil {
		return nil, err
	}

	reports, err := cache.NewFromConfig(ctx, cfg.Cache.Reports,
		cache.WithMetrics[*types.Report](a.metrics, "report"))
	if err != nil {
		return nil, fmt.Errorf("report cache: %w", err)
	}
	a.closers = append(a.closers, reports.Close)

	fragments, err := cache.NewFromConfig(ctx, cfg.Cache.Fragments,
		cache.WithMetrics[any](a.metrics, "fragment"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("fragment cache: %w", err)
	}
	a.closers = append(a.closers, fragments.Close)

	sink, err := metric.NewPipelineMetrics(a.metrics)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("pipeline metrics: %w", err)
	}

	a.pipeline, err = pipeline.New(cfg.Pipeline, pipeline.Dependencies{
		Registry:        a.registry,
		Reports:         reports,
		Fragments:       fragments,
		Sink:            sink,
		MetricsRegistry: a.metrics,
		Logger:          logger,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	if cfg.NeedsNATS() {
		if err := a.connectNATS(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	if err := a.setupGatherers(ctx); err != nil {
		a.close()
		return nil, err
	}

	if cfg.Gateway.Enabled {
		a.gateway, err = natsrpc.NewServer(cfg.Gateway.NATSRPC, a.pipeline, logger, a.metrics.CoreMetrics())
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create gateway: %w", err)
		}
	}

	a.registerChecks()
	if cfg.Metrics.Enabled {
		a.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.metrics)
		a.metricsServer.SetHealthHandler(a.health.Handler())
	}
	return a, nil
}

func (a *app) registerChecks() {
	a.health.Register("pipeline", func(context.Context) health.Status {
		if a.pipeline.Running() {
			return health.NewHealthy("pipeline", "batch pool running")
		}
		return health.NewUnhealthy("pipeline", "batch pool stopped")
	})

	if a.nats != nil {
		client := a.nats
		a.health.Register("nats", func(context.Context) health.Status {
			switch status := client.Status(); status {
			case natsclient.StatusConnected:
				return health.NewHealthy("nats", "connected")
			case natsclient.StatusReconnecting, natsclient.StatusConnecting:
				return health.NewDegraded("nats", status.String())
			default:
				return health.NewUnhealthy("nats", status.String())
			}
		})
	}

	if a.gateway != nil {
		gw := a.gateway
		a.health.Register("gateway", func(context.Context) health.Status {
			if !gw.Running() {
				return health.NewUnhealthy("gateway", "not subscribed")
			}
			total, failed := gw.Handled()
			return health.NewHealthy("gateway", fmt.Sprintf("%d requests, %d failed", total, failed))
		})
	}
}

// breakerCheck maps circuit state to health: an open circuit fails every
// request for its domain.
func breakerCheck(b *gather.Breaker) health.Check {
	return func(context.Context) health.Status {
		switch state := b.State(); state {
		case gobreaker.StateClosed:
			return health.NewHealthy("", "circuit closed")
		case gobreaker.StateHalfOpen:
			return health.NewDegraded("", "circuit half-open")
		default:
			return health.NewUnhealthy("", "circuit "+state.String())
		}
	}
}

func (a *app) setupPlugins() error {
	if err := analyzer.Register(a.registry, a.cfg.Analyzer); err != nil {
		return fmt.Errorf("register analyzers: %w", err)
	}
	results, err := a.registry.ValidateAll()
	for name, perr := range results {
		if perr != nil {
			a.logger.Error("Plugin failed validation", "plugin", name, "error", perr)
		}
	}
	if err != nil {
		return fmt.Errorf("validate plugins: %w", err)
	}
	for _, domain := range a.registry.Domains() {
		a.logger.Debug("Plugins registered", "domain", domain, "plugins", a.registry.List(domain))
	}
	return nil
}

func (a *app) connectNATS(ctx context.Context) error {
	n := a.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(n.Name),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.metrics.CoreMetrics()),
	}
	if n.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(n.ReconnectWait))
	}
	if n.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(n.Timeout))
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(n.TLS)
	if err != nil {
		return fmt.Errorf("nats tls: %w", err)
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLS(tlsConfig))
	}

	client, err := natsclient.NewClient(n.URL, opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	a.nats = client
	a.closers = append(a.closers, func() error {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return client.Close(closeCtx)
	})
	return nil
}

// setupGatherers registers one circuit-protected gatherer per domain.
func (a *app) setupGatherers(ctx context.Context) error {
	core := a.metrics.CoreMetrics()
	breaker := a.cfg.Gatherer.Breaker

	switch a.cfg.Gatherer.Source {
	case config.SourceStatic:
		static := gather.NewStatic()
		for _, domain := range types.Domains() {
			if err := a.pipeline.RegisterGatherer(domain, static); err != nil {
				return err
			}
		}
		a.logger.Warn("Using the in-memory static gatherer; reports will carry empty stats")

	case config.SourceSQLite:
		db, err := gather.OpenSQL(a.cfg.SQLite.Path, gather.WithSQLLogger(a.logger))
		if err != nil {
			return fmt.Errorf("open sqlite gatherer: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		for _, domain := range types.Domains() {
			g := gather.NewBreaker("sqlite/"+string(domain), db, breaker, core, a.logger)
			if err := a.pipeline.RegisterGatherer(domain, g); err != nil {
				return err
			}
			a.health.Register("gatherer/"+string(domain), breakerCheck(g))
		}

	case config.SourceKV:
		if a.nats == nil {
			return errors.WrapFatal(natsclient.ErrNotConnected, "inteld", "setupGatherers", "kv gatherer needs NATS")
		}
		bucket, err := a.nats.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      a.cfg.Gatherer.KVBucket,
			Description: "Pre-aggregated entity stats",
			History:     1,
		})
		if err != nil {
			return fmt.Errorf("open kv bucket %s: %w", a.cfg.Gatherer.KVBucket, err)
		}
		store := a.nats.NewKVStore(bucket)
		for _, domain := range types.Domains() {
			kv, err := gather.NewKV(store, domain)
			if err != nil {
				return err
			}
			g := gather.NewBreaker("kv/"+string(domain), kv, breaker, core, a.logger)
			if err := a.pipeline.RegisterGatherer(domain, g); err != nil {
				return err
			}
			a.health.Register("gatherer/"+string(domain), breakerCheck(g))
		}

	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "inteld", "setupGatherers",
			"unknown gatherer source "+a.cfg.Gatherer.Source)
	}

	a.logger.Info("Gatherers registered", "source", a.cfg.Gatherer.Source)
	return nil
}

// start launches the worker pool, the gateway and the metrics endpoint.
func (a *app) start(ctx context.Context) error {
	if err := a.pipeline.Start(ctx); err != nil {
		return err
	}
	if a.gateway != nil {
		if err := a.gateway.Start(ctx, a.nats); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
		a.logger.Info("Gateway listening",
			"analyze", a.cfg.Gateway.NATSRPC.AnalyzeSubject("*"),
			"batch", a.cfg.Gateway.NATSRPC.BatchSubject("*"))
	}
	if a.metricsServer != nil {
		go func() {
			err := a.metricsServer.Start()
			if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				a.serverErr <- err
			}
		}()
		a.logger.Info("Metrics endpoint started", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
	}
	return nil
}

// errs reports fatal failures of background servers.
func (a *app) errs() <-chan error {
	return a.serverErr
}

// stop shuts components down in reverse start order and returns the first error.
func (a *app) stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	if a.pipeline != nil {
		remaining := timeout
		if deadline, ok := ctx.Deadline(); ok {
			remaining = time.Until(deadline)
		}
		if err := a.pipeline.Stop(remaining); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}
