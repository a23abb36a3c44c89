package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/eveDMV-sub012/config"
	"github.com/guarzo/eveDMV-sub012/pipeline"
	"github.com/guarzo/eveDMV-sub012/types"
)

func noEnv(string) string { return "" }

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, err := parseFlags(nil, noEnv)
	require.NoError(t, err)

	assert.Empty(t, cfg.ConfigPaths)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.NoError(t, validateFlags(cfg))
}

func TestParseFlagsLayersAndEnv(t *testing.T) {
	env := map[string]string{
		"INTEL_CONFIG":           "from-env.yaml",
		"INTEL_LOG_LEVEL":        "debug",
		"INTEL_SHUTDOWN_TIMEOUT": "5s",
	}
	getenv := func(k string) string { return env[k] }

	cfg, err := parseFlags(nil, getenv)
	require.NoError(t, err)
	assert.Equal(t, []string{"from-env.yaml"}, cfg.ConfigPaths)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)

	// explicit flags replace the env path and accumulate in order
	cfg, err = parseFlags([]string{"-config", "base.yaml", "-c", "prod.yaml", "-log-format", "text"}, getenv)
	require.NoError(t, err)
	assert.Equal(t, []string{"base.yaml", "prod.yaml"}, cfg.ConfigPaths)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestValidateFlags(t *testing.T) {
	existing := writeConfig(t, "base.yaml", "service:\n  name: x\n")

	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr string
	}{
		{"valid", func(c *CLIConfig) { c.ConfigPaths = []string{existing} }, ""},
		{"missing file", func(c *CLIConfig) { c.ConfigPaths = []string{"/nonexistent/intel.yaml"} }, "config file not found"},
		{"bad level", func(c *CLIConfig) { c.LogLevel = "trace" }, "invalid log level"},
		{"bad format", func(c *CLIConfig) { c.LogFormat = "xml" }, "invalid log format"},
		{"bad port", func(c *CLIConfig) { c.MetricsPort = 70000 }, "invalid metrics port"},
		{"bad timeout", func(c *CLIConfig) { c.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"version skips checks", func(c *CLIConfig) { c.ShowVersion = true; c.LogLevel = "trace" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &CLIConfig{LogLevel: "info", LogFormat: "json", ShutdownTimeout: time.Second}
			tt.mutate(cfg)
			err := validateFlags(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, appName, entry["service"])
	assert.Equal(t, "value", entry["key"])
}

func TestLoadConfigAppliesFlagOverride(t *testing.T) {
	path := writeConfig(t, "base.yaml", `
metrics:
  port: 9200
pipeline:
  plugin_timeout: 5s
`)

	cfg, err := loadConfig(&CLIConfig{ConfigPaths: []string{path}})
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Metrics.Port)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.PluginTimeout)

	cfg, err = loadConfig(&CLIConfig{ConfigPaths: []string{path}, MetricsPort: 9300})
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Metrics.Port)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "bad.yaml", "gatherer:\n  source: postgres\n")
	_, err := loadConfig(&CLIConfig{ConfigPaths: []string{path}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gatherer.source")
}

func offlineConfig() *config.Config {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	cfg.Pipeline.BatchWorkers = 2
	return cfg
}

func TestAppServesStaticSource(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, offlineConfig(), newLogger(&bytes.Buffer{}, "error", "json"))
	require.NoError(t, err)
	require.NoError(t, a.start(ctx))
	defer func() { assert.NoError(t, a.stop(5*time.Second)) }()

	assert.Nil(t, a.gateway)
	assert.Nil(t, a.nats)
	assert.True(t, a.health.Check(ctx).IsHealthy())
	assert.ElementsMatch(t, types.Domains(), a.registry.Domains())

	report, err := a.pipeline.Execute(ctx, types.DomainCharacter, 90000001, pipeline.Options{Scope: types.ScopeFull})
	require.NoError(t, err)
	assert.Empty(t, report.Metadata.Failures)
	assert.NotEmpty(t, report.Analysis)

	results, err := a.pipeline.ExecuteBatch(ctx, types.DomainFleet, []int64{1, 2, 3}, pipeline.Options{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for id, r := range results {
		assert.True(t, r.OK(), "entity %d", id)
	}
}

func TestAppOpensSQLiteSource(t *testing.T) {
	cfg := offlineConfig()
	cfg.Gatherer.Source = config.SourceSQLite
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "intel.db")

	ctx := context.Background()
	a, err := newApp(ctx, cfg, newLogger(&bytes.Buffer{}, "error", "json"))
	require.NoError(t, err)
	require.NoError(t, a.start(ctx))
	defer func() { assert.NoError(t, a.stop(5*time.Second)) }()

	report, err := a.pipeline.Execute(ctx, types.DomainCorporation, 98000001, pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, types.DomainCorporation, report.Domain)
	assert.FileExists(t, cfg.SQLite.Path)

	status := a.health.Check(ctx)
	assert.True(t, status.IsHealthy())
	assert.Len(t, status.SubStatuses, len(types.Domains())+1)
}

func TestAppKVSourceNeedsNATS(t *testing.T) {
	cfg := offlineConfig()
	cfg.Gatherer.Source = config.SourceKV
	cfg.NATS.URL = "nats://127.0.0.1:1"
	cfg.NATS.Timeout = 200 * time.Millisecond
	cfg.NATS.MaxReconnects = 0

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := newApp(ctx, cfg, newLogger(&bytes.Buffer{}, "error", "json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to NATS")
}
