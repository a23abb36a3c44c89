package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INTEL"

// durationKeys are converted from duration strings to nanoseconds before
// decoding, wherever they appear.
var durationKeys = map[string]bool{
	"reconnect_wait": true,
	"timeout":        true,
	"open_timeout":   true,
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: EnvPrefix,
		getenv:    os.Getenv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load starts from Default, merges every layer, then applies environment
// overrides.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged config: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode merged config: %w", err)
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file into a generic map.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	if err := checkDepth(raw, 1); err != nil {
		return nil, err
	}

	parseDurations(raw)
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations rewrites duration strings under durationKeys as nanoseconds,
// accepting a "d" suffix for days.
func parseDurations(data map[string]any) {
	for k, v := range data {
		switch val := v.(type) {
		case map[string]any:
			parseDurations(val)
		case string:
			if !durationKeys[k] {
				continue
			}
			if d, err := parseDurationWithDays(val); err == nil {
				data[k] = d.Nanoseconds()
			}
		}
	}
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"SERVICE_NAME", &cfg.Service.Name},
		{"ENVIRONMENT", &cfg.Service.Environment},
		{"NATS_URL", &cfg.NATS.URL},
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"SQLITE_PATH", &cfg.SQLite.Path},
		{"GATHERER_SOURCE", &cfg.Gatherer.Source},
		{"GATHERER_KV_BUCKET", &cfg.Gatherer.KVBucket},
		{"GATEWAY_PREFIX", &cfg.Gateway.NATSRPC.Prefix},
	}
	for _, s := range strs {
		val, err := l.env(s.key)
		if err != nil {
			return err
		}
		if val != "" {
			*s.dst = val
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"METRICS_PORT", &cfg.Metrics.Port},
		{"PIPELINE_BATCH_WORKERS", &cfg.Pipeline.BatchWorkers},
	}
	for _, i := range ints {
		val, err := l.env(i.key)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, i.key, err)
		}
		*i.dst = n
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"METRICS_ENABLED", &cfg.Metrics.Enabled},
		{"GATEWAY_ENABLED", &cfg.Gateway.Enabled},
		{"CACHE_ENABLED", &cfg.Cache.Reports.Enabled},
	}
	for _, b := range bools {
		val, err := l.env(b.key)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		on, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, b.key, err)
		}
		*b.dst = on
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PIPELINE_PLUGIN_TIMEOUT", &cfg.Pipeline.PluginTimeout},
		{"PIPELINE_BATCH_TIMEOUT", &cfg.Pipeline.BatchTimeout},
	}
	for _, d := range durations {
		val, err := l.env(d.key)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		parsed, err := parseDurationWithDays(val)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (l *Loader) env(key string) (string, error) {
	val := l.getenv(l.envPrefix + "_" + key)
	if err := validateEnvVar(l.envPrefix, key, val); err != nil {
		return "", err
	}
	return val, nil
}
