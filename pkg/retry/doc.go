// Package retry provides exponential backoff with jitter for calls that cross a
// process boundary, such as BaseData gatherers backed by SQLite or NATS KV.
//
// Errors can opt out of retries either by being wrapped with NonRetryable or by
// failing the Config.Retryable predicate:
//
//	cfg := retry.Quick()
//	cfg.Retryable = errors.IsTransient
//	stats, err := retry.DoWithResult(ctx, cfg, func() (map[int64]types.EntityStats, error) {
//	    return inner.FetchStats(ctx, ids, days)
//	})
package retry
