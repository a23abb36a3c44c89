// Package pipeline turns analysis requests into reports.
//
// A request names a domain, one or more entity ids and optional knobs (scope,
// plugin list, parallelism, cache bypass). The pipeline validates it, serves a
// cached report when one exists, otherwise gathers base data once through the
// domain's gather.Gatherer and runs every resolved plugin against a read-only
// snapshot of it. Plugin failures never fail the request; they are listed in
// the report metadata with their error code.
//
// Basic usage:
//
//	registry := plugin.NewRegistry()
//	if err := analyzer.Register(registry, analyzer.Config{}); err != nil {
//		return err
//	}
//
//	p, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Dependencies{
//		Registry: registry,
//		Reports:  reports,
//		Sink:     sink,
//	})
//	if err != nil {
//		return err
//	}
//	_ = p.RegisterGatherer(types.DomainCharacter, gatherer)
//
//	report, err := p.Execute(ctx, types.DomainCharacter, 90000001, pipeline.Options{})
//
// Batches produce one report per entity and share a single gather call:
//
//	results, err := p.ExecuteBatch(ctx, types.DomainCharacter, ids, pipeline.Options{})
//
// Concurrent batch fan-out runs on a bounded worker pool once Start is called.
//
// Cache keys are deterministic: the same domain, entity set, scope and plugin
// set always map to the same key regardless of ordering or duplicates. Invalidate
// drops every report and fragment listing an entity; keys of requests with more
// than 20 entities carry a hash and are left to expire.
package pipeline
