// Package natsclient manages the service's NATS connection.
//
// Client wraps a single nats.Conn with reconnect handling, a small failure
// circuit that stops hammering an unreachable server, queue subscriptions
// with per-message deadlines, request/reply and JetStream key-value access.
// Connection state, RTT and reconnects are reported through metric.Metrics
// when WithMetrics is supplied.
//
// Basic usage:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("inteld"),
//		natsclient.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close(context.Background())
//
// KVStore adds timeouts and JSON helpers on top of a jetstream.KeyValue
// bucket:
//
//	bucket, _ := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "entity_stats"})
//	kv := client.NewKVStore(bucket)
//	_, err = kv.PutJSON(ctx, "character.42", stats)
package natsclient
