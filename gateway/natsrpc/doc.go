// Package natsrpc serves the analysis pipeline over NATS request/reply.
//
// Each domain gets two subjects under the configured prefix:
//
//	intel.analyze.character   {"entity_id": 90000001, "scope": "full"}
//	intel.batch.character     {"entity_ids": [1, 2, 3]}
//
// Replies are JSON. Analyze answers {"report": ...} or {"error": {"code", "message"}};
// batch answers {"results": {"<id>": {"report"|"error"}}} or a top-level error when
// the request itself is invalid. Subscriptions join a queue group so several
// instances share the load.
package natsrpc
