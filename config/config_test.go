package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/guarzo/eveDMV-sub012/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.getenv = func(key string) string { return env[key] }
	return l
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, SourceStatic, cfg.Gatherer.Source)
	assert.False(t, cfg.NeedsNATS())
}

func TestLoadWithoutLayers(t *testing.T) {
	cfg, err := newTestLoader(nil).Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
	assert.Equal(t, Default().Gatherer.Breaker.Retry, cfg.Gatherer.Breaker.Retry)
}

func TestLoadYAMLLayer(t *testing.T) {
	path := writeFile(t, "intel.yaml", `
service:
  name: intel-east
pipeline:
  plugin_timeout: 10s
  batch_workers: 4
cache:
  reports:
    default_ttl: 2m
gatherer:
  source: sqlite
  breaker:
    open_timeout: 1m
    max_failures: 3
sqlite:
  path: /var/lib/intel/stats.db
nats:
  reconnect_wait: 5s
`)
	l := newTestLoader(nil)
	l.EnableValidation(true)
	cfg, err := l.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "intel-east", cfg.Service.Name)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.PluginTimeout)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.BatchTimeout, "unset fields keep defaults")
	assert.Equal(t, 4, cfg.Pipeline.BatchWorkers)
	assert.Equal(t, 2*time.Minute, cfg.Cache.Reports.DefaultTTL)
	assert.True(t, cfg.Cache.Reports.Enabled)
	assert.Equal(t, SourceSQLite, cfg.Gatherer.Source)
	assert.Equal(t, time.Minute, cfg.Gatherer.Breaker.OpenTimeout)
	assert.Equal(t, uint32(3), cfg.Gatherer.Breaker.MaxFailures)
	assert.Equal(t, "/var/lib/intel/stats.db", cfg.SQLite.Path)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
}

func TestLayersOverrideInOrder(t *testing.T) {
	base := writeFile(t, "base.json", `{"metrics":{"port":9100},"gateway":{"natsrpc":{"prefix":"eve","request_timeout":"20s"}}}`)
	override := writeFile(t, "prod.yml", "metrics:\n  path: /prom\ngateway:\n  enabled: true\n")

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	l.EnableValidation(true)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Metrics.Port)
	assert.Equal(t, "/prom", cfg.Metrics.Path)
	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, "eve", cfg.Gateway.NATSRPC.Prefix)
	assert.Equal(t, 20*time.Second, cfg.Gateway.NATSRPC.RequestTimeout)
	assert.Equal(t, "inteld", cfg.Gateway.NATSRPC.QueueGroup)
	assert.True(t, cfg.NeedsNATS())
}

func TestEnvOverrides(t *testing.T) {
	l := newTestLoader(map[string]string{
		"INTEL_NATS_URL":                "nats://nats.internal:4222",
		"INTEL_GATHERER_SOURCE":         "kv",
		"INTEL_METRICS_PORT":            "9200",
		"INTEL_GATEWAY_ENABLED":         "true",
		"INTEL_PIPELINE_PLUGIN_TIMEOUT": "15s",
		"INTEL_PIPELINE_BATCH_TIMEOUT":  "1d",
	})
	l.EnableValidation(true)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
	assert.Equal(t, SourceKV, cfg.Gatherer.Source)
	assert.Equal(t, 9200, cfg.Metrics.Port)
	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Pipeline.PluginTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.BatchTimeout)
}

func TestEnvOverrideErrors(t *testing.T) {
	for key, val := range map[string]string{
		"INTEL_METRICS_PORT":            "ninety",
		"INTEL_GATEWAY_ENABLED":         "perhaps",
		"INTEL_PIPELINE_PLUGIN_TIMEOUT": "soon",
		"INTEL_NATS_TOKEN":              "abc\x00def",
		"INTEL_NATS_URL":                "http://nats.internal:4222",
		"INTEL_NATS_PASSWORD":           "line\nbreak",
		"INTEL_GATEWAY_PREFIX":          "intel.>",
		"INTEL_GATHERER_KV_BUCKET":      "entity stats",
		"INTEL_GATHERER_SOURCE":         "postgres",
	} {
		t.Run(key, func(t *testing.T) {
			_, err := newTestLoader(map[string]string{key: val}).Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	l := newTestLoader(nil)

	_, err := l.LoadFile(writeFile(t, "intel.toml", "x = 1"))
	assert.Error(t, err)

	_, err = l.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = l.LoadFile(writeFile(t, "broken.yaml", "pipeline: [unclosed"))
	assert.Error(t, err)

	deep := strings.Repeat("[", 150) + strings.Repeat("]", 150)
	_, err = l.LoadFile(writeFile(t, "deep.json", `{"x":`+deep+`}`))
	assert.Error(t, err)

	deepYAML := strings.Repeat("[", 20) + strings.Repeat("]", 20)
	_, err = l.LoadFile(writeFile(t, "deep.yaml", "x: "+deepYAML+"\n"))
	assert.ErrorContains(t, err, "nesting too deep")

	_, err = l.LoadFile("configs/../../etc/intel.json")
	assert.ErrorContains(t, err, "path traversal")
}

func TestEnvAcceptsServerLists(t *testing.T) {
	l := newTestLoader(map[string]string{
		"INTEL_NATS_URL":       "nats://a:4222, tls://b:4222",
		"INTEL_GATEWAY_PREFIX": "intel.west",
	})
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "nats://a:4222, tls://b:4222", cfg.NATS.URL)
	assert.Equal(t, "intel.west", cfg.Gateway.NATSRPC.Prefix)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no service name", func(c *Config) { c.Service.Name = "" }},
		{"bad pipeline", func(c *Config) { c.Pipeline.BatchWorkers = 0 }},
		{"bad metrics port", func(c *Config) { c.Metrics.Port = 70000 }},
		{"bad metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"unknown source", func(c *Config) { c.Gatherer.Source = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Gatherer.Source = SourceSQLite; c.SQLite.Path = "" }},
		{"kv without bucket", func(c *Config) { c.Gatherer.Source = SourceKV; c.Gatherer.KVBucket = "" }},
		{"gateway without nats", func(c *Config) { c.Gateway.Enabled = true; c.NATS.URL = "" }},
		{"bad gateway", func(c *Config) { c.Gateway.Enabled = true; c.Gateway.NATSRPC.QueueGroup = "" }},
		{"half-configured nats mtls", func(c *Config) {
			c.Gateway.Enabled = true
			c.NATS.TLS.Enabled = true
			c.NATS.TLS.CertFile = "client.pem"
		}},
		{"negative top ships", func(c *Config) { c.Analyzer.TopShips = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 0
	assert.NoError(t, cfg.Validate(), "metrics settings are ignored when disabled")
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cr3t"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cr3t")
	assert.Contains(t, out, "***")
	assert.Equal(t, "hunter2", cfg.NATS.Password, "original is untouched")
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.NATS.TLS.CAFiles = []string{"/etc/intel/ca.pem"}
	cfg.Gateway.Enabled = true
	cfg.Gateway.NATSRPC.RateLimit = 25
	cfg.Gatherer.Breaker.Retry.MaxAttempts = 7

	clone := cfg.Clone()
	ignoreFuncs := cmpopts.IgnoreFields(retry.Config{}, "Retryable")
	if diff := cmp.Diff(cfg, clone, ignoreFuncs); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	clone.NATS.TLS.CAFiles[0] = "/tmp/other.pem"
	assert.Equal(t, "/etc/intel/ca.pem", cfg.NATS.TLS.CAFiles[0], "slices are not shared")
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)
	got := sc.Get()
	got.Service.Name = "mutated"
	assert.Equal(t, "inteld", sc.Get().Service.Name)

	assert.Error(t, sc.Update(nil))
	bad := Default()
	bad.Gatherer.Source = ""
	assert.Error(t, sc.Update(bad))

	good := Default()
	good.Service.Name = "intel-west"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, "intel-west", sc.Get().Service.Name)
}
