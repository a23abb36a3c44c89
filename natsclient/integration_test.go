//go:build integration

package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:2.11.7-alpine",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js"},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return container, fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestIntegration_ConnectRequestReply(t *testing.T) {
	ctx := context.Background()
	container, url := startNATSContainer(ctx, t)
	defer container.Terminate(ctx)

	client, err := NewClient(url, WithName("natsclient-it"))
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	assert.True(t, client.IsHealthy())
	rtt, err := client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))

	err = client.QueueSubscribe(ctx, "intel.echo", "echo", func(_ context.Context, msg *nats.Msg) {
		_ = msg.Respond(append([]byte("echo:"), msg.Data...))
	})
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	reply, err := client.Request(reqCtx, "intel.echo", []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(reply))
}

func TestIntegration_KVStore(t *testing.T) {
	ctx := context.Background()
	container, url := startNATSContainer(ctx, t)
	defer container.Terminate(ctx)

	client, err := NewClient(url)
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "entity_stats"})
	require.NoError(t, err)

	again, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "entity_stats"})
	require.NoError(t, err)
	assert.Equal(t, bucket.Bucket(), again.Bucket())

	kv := client.NewKVStore(bucket)

	type payload struct {
		Kills int `json:"kills"`
	}
	_, err = kv.PutJSON(ctx, "character.42", payload{Kills: 10})
	require.NoError(t, err)

	var got payload
	require.NoError(t, kv.GetJSON(ctx, "character.42", &got))
	assert.Equal(t, 10, got.Kills)

	_, err = kv.Create(ctx, "character.42", []byte("{}"))
	assert.ErrorIs(t, err, ErrKVKeyExists)

	require.NoError(t, kv.Delete(ctx, "character.42"))
	_, err = kv.Get(ctx, "character.42")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)
}
