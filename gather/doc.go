// Package gather supplies the base data analyzers work on.
//
// A Gatherer turns a set of entity ids and a lookback window into one
// EntityStats per id. Implementations batch the whole id set into as few
// source round trips as possible and never fail because an id is unknown;
// such ids come back as empty stats.
//
// Available sources:
//   - StaticGatherer keeps stats in memory
//   - SQLGatherer aggregates daily fact tables stored in SQLite
//   - KVGatherer reads pre-aggregated stats from a JetStream KV bucket
//
// Breaker wraps any of them with a circuit breaker and retry backoff.
package gather
