package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/guarzo/eveDMV-sub012/errors"
	"github.com/guarzo/eveDMV-sub012/gather"
	"github.com/guarzo/eveDMV-sub012/metric"
	"github.com/guarzo/eveDMV-sub012/pkg/cache"
	"github.com/guarzo/eveDMV-sub012/pkg/worker"
	"github.com/guarzo/eveDMV-sub012/plugin"
	"github.com/guarzo/eveDMV-sub012/types"
)

// Dependencies are the collaborators a Pipeline needs. Only Registry is
// required; a nil cache disables caching and a nil sink drops metrics.
type Dependencies struct {
	Registry        *plugin.Registry
	Reports         cache.Cache[*types.Report]
	Fragments       cache.Cache[any]
	Sink            metric.Sink
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Pipeline runs analyzers over gathered base data and assembles reports.
type Pipeline struct {
	cfg       Config
	registry  *plugin.Registry
	reports   cache.Cache[*types.Report]
	fragments cache.Cache[any]
	sink      metric.Sink
	logger    *slog.Logger
	now       func() time.Time

	gatherersMu sync.RWMutex
	gatherers   map[types.Domain]gather.Gatherer

	pool   *worker.Pool[batchTask]
	flight singleflight.Group
}

// New creates a pipeline. Call Start to enable the bounded batch pool.
func New(cfg Config, deps Dependencies) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "pipeline", "New", "plugin registry required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pipeline")

	reports := deps.Reports
	if reports == nil {
		reports = cache.NewNoop[*types.Report]()
	}
	fragments := deps.Fragments
	if fragments == nil {
		fragments = cache.NewNoop[any]()
	}

	p := &Pipeline{
		cfg:       cfg,
		registry:  deps.Registry,
		reports:   reports,
		fragments: fragments,
		sink:      metric.NewSafeSink(deps.Sink, logger),
		logger:    logger,
		now:       time.Now,
		gatherers: make(map[types.Domain]gather.Gatherer),
	}

	var opts []worker.Option[batchTask]
	if deps.MetricsRegistry != nil {
		opts = append(opts, worker.WithMetricsRegistry[batchTask](deps.MetricsRegistry, "batch"))
	}
	p.pool = worker.NewPool(cfg.BatchWorkers, cfg.BatchQueue, runBatchTask, opts...)
	return p, nil
}

// RegisterGatherer sets the base data source for domain, replacing any previous one.
func (p *Pipeline) RegisterGatherer(domain types.Domain, g gather.Gatherer) error {
	if !domain.Valid() {
		return errors.New(errors.ErrInvalidDomain, errors.ErrorInvalid, "pipeline", "RegisterGatherer", string(domain))
	}
	if g == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "pipeline", "RegisterGatherer", "gatherer required")
	}
	p.gatherersMu.Lock()
	defer p.gatherersMu.Unlock()
	p.gatherers[domain] = g
	return nil
}

func (p *Pipeline) gatherer(domain types.Domain) (gather.Gatherer, bool) {
	p.gatherersMu.RLock()
	defer p.gatherersMu.RUnlock()
	g, ok := p.gatherers[domain]
	return g, ok
}

// Start launches the batch worker pool. Without it batches fan out on
// unbounded goroutines.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "pipeline", "Start", "start batch pool")
	}
	p.logger.Info("Pipeline started", "batch_workers", p.cfg.BatchWorkers)
	return nil
}

// Running reports whether the batch pool is accepting work.
func (p *Pipeline) Running() bool {
	return p.pool.Running()
}

// Stop drains the batch pool.
func (p *Pipeline) Stop(timeout time.Duration) error {
	if err := p.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "pipeline", "Stop", "stop batch pool")
	}
	p.logger.Info("Pipeline stopped")
	return nil
}

// Execute produces a report for a single entity. Serial plugin runs are
// bounded only by their own context, so a plugin that ignores it holds Execute
// until ctx ends.
func (p *Pipeline) Execute(ctx context.Context, domain types.Domain, entityID int64, opts Options) (*types.Report, error) {
	return p.Analyze(ctx, Request{Domain: domain, EntityIDs: []int64{entityID}, Options: opts})
}

// Analyze produces one report covering every entity of req.
//
// Invalid input fails before any gathering, caching or metrics. After that the
// only request-level failures are the gatherer failing and ctx ending before
// the report is ready; plugin failures are listed in the report.
func (p *Pipeline) Analyze(ctx context.Context, req Request) (*types.Report, error) {
	start := p.now()

	plan, err := p.plan(req.Domain, req.EntityIDs, req.Options)
	if err != nil {
		return nil, err
	}

	key := ReportKey(plan.domain, plan.ids, plan.scope, plan.plugins)
	if plan.bypass {
		report, err := p.compute(ctx, plan, key, start)
		if err != nil {
			p.sink.RecordPipeline(string(plan.domain), p.now().Sub(start), metric.OutcomeError)
			return nil, err
		}
		p.sink.RecordPipeline(string(plan.domain), p.now().Sub(start), metric.OutcomeSuccess)
		return report, nil
	}

	if cached, ok := p.reports.Get(key); ok && cached != nil {
		p.sink.RecordPipeline(string(plan.domain), p.now().Sub(start), metric.OutcomeCacheHit)
		p.logger.Debug("Report served from cache", "key", key)
		return cached, nil
	}

	// Concurrent misses for the same key share one computation, detached from
	// any single caller so that one caller leaving cannot fail the others.
	// Callers that joined it count as cache hits.
	led := false
	ch := p.flight.DoChan(key, func() (any, error) {
		led = true
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.computeTimeout(plan))
		defer cancel()
		return p.compute(shared, plan, key, start)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			p.sink.RecordPipeline(string(plan.domain), p.now().Sub(start), metric.OutcomeError)
			return nil, res.Err
		}
		outcome := metric.OutcomeCacheHit
		if led {
			outcome = metric.OutcomeSuccess
		}
		p.sink.RecordPipeline(string(plan.domain), p.now().Sub(start), outcome)
		return res.Val.(*types.Report), nil
	case <-ctx.Done():
		err := p.callerGone(ctx, "Analyze", key)
		outcome := metric.OutcomeError
		if errors.CodeOf(err) == errors.CodeTimeout {
			outcome = metric.OutcomeTimeout
		}
		p.sink.RecordPipeline(string(plan.domain), p.now().Sub(start), outcome)
		p.logger.Debug("Caller left before report was ready", "key", key, "error", err)
		return nil, err
	}
}

// computeTimeout bounds a shared computation: one plugin timeout for the
// gather plus one per plugin run in sequence.
func (p *Pipeline) computeTimeout(pl plan) time.Duration {
	runs := 1
	if !pl.parallel {
		runs = len(pl.plugins)
	}
	return time.Duration(runs+1) * p.cfg.PluginTimeout
}

func (p *Pipeline) callerGone(ctx context.Context, op, key string) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.New(errors.ErrTimeout, errors.ErrorTransient, "pipeline", op,
			fmt.Sprintf("deadline passed before %s was ready", key))
	}
	return errors.Wrap(ctx.Err(), "pipeline", op, key+" cancelled")
}

// compute gathers, runs the plugins and commits the report for a cache miss.
// The caller records the pipeline outcome.
func (p *Pipeline) compute(ctx context.Context, plan plan, key string, start time.Time) (*types.Report, error) {
	data, err := p.gather(ctx, plan.domain, plan.ids, plan.scope)
	if err != nil {
		return nil, err
	}
	report, outcomes := p.build(ctx, plan, data, key, start)
	p.commit(ctx, plan, key, report, outcomes)
	return report, nil
}

// Invalidate drops every cached report and fragment that covers entityID.
func (p *Pipeline) Invalidate(domain types.Domain, entityID int64) (int, error) {
	if !domain.Valid() {
		return 0, errors.New(errors.ErrInvalidDomain, errors.ErrorInvalid, "pipeline", "Invalidate", string(domain))
	}
	if entityID <= 0 {
		return 0, errors.New(errors.ErrInvalidEntityID, errors.ErrorInvalid, "pipeline", "Invalidate",
			fmt.Sprintf("%d", entityID))
	}

	removed := 0
	for _, pattern := range entityPatterns(domain, entityID) {
		n, err := p.reports.InvalidatePattern(pattern)
		if err != nil {
			p.logger.Warn("Report invalidation failed", "pattern", pattern, "error", err)
		}
		removed += n
		n, err = p.fragments.InvalidatePattern(pattern)
		if err != nil {
			p.logger.Warn("Fragment invalidation failed", "pattern", pattern, "error", err)
		}
		removed += n
	}
	p.logger.Debug("Invalidated entity", "domain", domain, "entity_id", entityID, "removed", removed)
	return removed, nil
}

// plan is a validated request.
type plan struct {
	domain   types.Domain
	ids      []int64 // deduplicated, request order
	scope    types.Scope
	plugins  []string // deduplicated, resolution order
	parallel bool
	bypass   bool
}

func (p *Pipeline) plan(domain types.Domain, ids []int64, opts Options) (plan, error) {
	if !domain.Valid() {
		return plan{}, errors.New(errors.ErrInvalidDomain, errors.ErrorInvalid, "pipeline", "validate",
			fmt.Sprintf("%q", domain))
	}
	if len(ids) == 0 {
		return plan{}, errors.New(errors.ErrInvalidEntityID, errors.ErrorInvalid, "pipeline", "validate",
			"no entity ids")
	}
	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return plan{}, errors.New(errors.ErrInvalidEntityID, errors.ErrorInvalid, "pipeline", "validate",
				fmt.Sprintf("%d is not a positive id", id))
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}

	scope := opts.Scope
	if scope == "" {
		scope = types.DefaultScope
	}
	if !scope.Valid() {
		return plan{}, errors.New(errors.ErrInvalidScope, errors.ErrorInvalid, "pipeline", "validate",
			fmt.Sprintf("%q", scope))
	}

	names := opts.Plugins
	if len(names) == 0 {
		names = p.registry.Defaults(domain, scope)
	}
	resolved := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" && !slices.Contains(resolved, n) {
			resolved = append(resolved, n)
		}
	}
	if len(resolved) == 0 {
		return plan{}, errors.New(errors.ErrNoPluginsAvailable, errors.ErrorInvalid, "pipeline", "validate",
			fmt.Sprintf("%s/%s", domain, scope))
	}

	return plan{
		domain:   domain,
		ids:      unique,
		scope:    scope,
		plugins:  resolved,
		parallel: opts.parallel(),
		bypass:   opts.BypassCache,
	}, nil
}

func (p *Pipeline) gather(ctx context.Context, domain types.Domain, ids []int64, scope types.Scope) (*types.BaseData, error) {
	g, ok := p.gatherer(domain)
	if !ok {
		return nil, errors.New(errors.ErrDataGathering, errors.ErrorFatal, "pipeline", "gather",
			fmt.Sprintf("no gatherer registered for %s", domain))
	}

	stats, err := g.FetchStats(ctx, ids, scope.LookbackDays())
	if err != nil {
		p.logger.Error("Data gathering failed", "domain", domain, "entities", len(ids), "error", err)
		return nil, errors.New(errors.ErrDataGathering, errors.Classify(err), "pipeline", "gather", err.Error())
	}

	return &types.BaseData{
		Domain:       domain,
		Entities:     gather.Complete(ids, stats),
		LookbackDays: scope.LookbackDays(),
		GatheredAt:   p.now(),
	}, nil
}

// build executes the plugins and assembles the report. Nothing is stored or
// recorded until commit.
func (p *Pipeline) build(ctx context.Context, pl plan, data *types.BaseData, key string, start time.Time) (*types.Report, []outcome) {
	outcomes := p.executePlugins(ctx, pl, data)

	report := &types.Report{
		Domain:    pl.domain,
		EntityIDs: slices.Clone(pl.ids),
		Scope:     pl.scope,
		Analysis:  make(map[string]any, len(outcomes)),
		Metadata: types.ReportMetadata{
			RequestID:         uuid.NewString(),
			PluginsSuccessful: []string{},
			PluginsFailed:     []string{},
			LookbackDays:      data.LookbackDays,
			CacheKey:          key,
		},
	}
	if len(pl.ids) == 1 {
		report.EntityID = pl.ids[0]
	}

	for _, o := range outcomes {
		if o.err != nil {
			report.Metadata.PluginsFailed = append(report.Metadata.PluginsFailed, o.name)
			if report.Metadata.Failures == nil {
				report.Metadata.Failures = make(map[string]string)
			}
			report.Metadata.Failures[o.name] = string(errors.CodeOf(o.err))
			continue
		}
		report.Analysis[o.name] = o.value
		report.Metadata.PluginsSuccessful = append(report.Metadata.PluginsSuccessful, o.name)
	}

	report.Metadata.GeneratedAt = p.now()
	report.Metadata.Duration = report.Metadata.GeneratedAt.Sub(start)
	return report, outcomes
}

// commit stores the report and records plugin metrics. A report built under
// an ended context is not stored: its failures say nothing about the entity.
func (p *Pipeline) commit(ctx context.Context, pl plan, key string, report *types.Report, outcomes []outcome) {
	if storable(ctx, outcomes) {
		if _, err := p.reports.SetWithTTL(key, report, pl.scope.CacheTTL()); err != nil {
			p.logger.Warn("Report cache store failed", "key", key, "error", err)
		}
	} else {
		p.logger.Debug("Report not cached, context ended", "key", key, "error", ctx.Err())
	}

	for _, o := range outcomes {
		p.sink.RecordPlugin(string(pl.domain), o.name, o.duration, o.outcome())
	}

	p.logger.Debug("Report generated",
		"domain", pl.domain,
		"entities", len(pl.ids),
		"succeeded", len(report.Metadata.PluginsSuccessful),
		"failed", len(report.Metadata.PluginsFailed),
		"duration", report.Metadata.Duration)
}

func storable(ctx context.Context, outcomes []outcome) bool {
	if ctx.Err() != nil {
		return false
	}
	for _, o := range outcomes {
		if o.err != nil && stderrors.Is(o.err, context.Canceled) {
			return false
		}
	}
	return true
}
