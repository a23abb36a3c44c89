package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/guarzo/eveDMV-sub012/analyzer"
	"github.com/guarzo/eveDMV-sub012/gateway/natsrpc"
	"github.com/guarzo/eveDMV-sub012/gather"
	"github.com/guarzo/eveDMV-sub012/pipeline"
	"github.com/guarzo/eveDMV-sub012/pkg/cache"
	"github.com/guarzo/eveDMV-sub012/pkg/tlsutil"
)

// Gatherer sources
const (
	SourceStatic = "static" // In-memory, empty unless seeded (demo and tests)
	SourceSQLite = "sqlite" // Pre-aggregated tables in a local SQLite file
	SourceKV     = "kv"     // JSON stats in a NATS JetStream KV bucket
)

var sources = []string{SourceStatic, SourceSQLite, SourceKV}

// Config represents the complete service configuration
type Config struct {
	Service  ServiceInfo     `json:"service"`
	Pipeline pipeline.Config `json:"pipeline"`
	Cache    CacheConfig     `json:"cache"`
	Metrics  MetricsConfig   `json:"metrics"`
	NATS     NATSConfig      `json:"nats"`
	Gateway  GatewayConfig   `json:"gateway"`
	SQLite   SQLiteConfig    `json:"sqlite"`
	Gatherer GathererConfig  `json:"gatherer"`
	Analyzer analyzer.Config `json:"analyzer"`
}

// ServiceInfo identifies the running instance in logs.
type ServiceInfo struct {
	Name        string `json:"name"`
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// CacheConfig holds the report cache and the plugin fragment cache.
type CacheConfig struct {
	Reports   cache.Config `json:"reports"`
	Fragments cache.Config `json:"fragments"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL           string        `json:"url,omitempty"`
	Name          string        `json:"name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`

	TLS tlsutil.ClientConfig `json:"tls"`
}

// GatewayConfig enables the NATS request/reply service.
type GatewayConfig struct {
	Enabled bool           `json:"enabled"`
	NATSRPC natsrpc.Config `json:"natsrpc"`
}

// SQLiteConfig locates the stats database.
type SQLiteConfig struct {
	Path string `json:"path,omitempty"`
}

// GathererConfig selects and protects the base data source.
type GathererConfig struct {
	Source   string               `json:"source"`
	KVBucket string               `json:"kv_bucket,omitempty"`
	Breaker  gather.BreakerConfig `json:"breaker"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	reports := cache.DefaultConfig()
	fragments := cache.DefaultConfig()
	fragments.MaxSize = 50000

	return &Config{
		Service:  ServiceInfo{Name: "inteld"},
		Pipeline: pipeline.DefaultConfig(),
		Cache:    CacheConfig{Reports: reports, Fragments: fragments},
		Metrics:  MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "inteld",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
		},
		Gateway: GatewayConfig{NATSRPC: natsrpc.DefaultConfig()},
		SQLite:  SQLiteConfig{Path: "data/intel.db"},
		Gatherer: GathererConfig{
			Source:   SourceStatic,
			KVBucket: "ENTITY_STATS",
			Breaker:  gather.DefaultBreakerConfig(),
		},
		Analyzer: analyzer.Config{TopShips: 5},
	}
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	// Retry settings are not serialized.
	clone.Gatherer.Breaker.Retry = c.Gatherer.Breaker.Retry
	return &clone
}

// NeedsNATS reports whether any enabled feature requires a NATS connection.
func (c *Config) NeedsNATS() bool {
	return c.Gateway.Enabled || c.Gatherer.Source == SourceKV
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.New("service.name is required")
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Cache.Reports.Validate(); err != nil {
		return fmt.Errorf("cache.reports: %w", err)
	}
	if err := c.Cache.Fragments.Validate(); err != nil {
		return fmt.Errorf("cache.fragments: %w", err)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port %d out of range", c.Metrics.Port)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	if !slices.Contains(sources, c.Gatherer.Source) {
		return fmt.Errorf("gatherer.source %q must be one of %v", c.Gatherer.Source, sources)
	}
	if c.Gatherer.Source == SourceSQLite && c.SQLite.Path == "" {
		return errors.New("sqlite.path is required when gatherer.source is sqlite")
	}
	if c.Gatherer.Source == SourceKV && c.Gatherer.KVBucket == "" {
		return errors.New("gatherer.kv_bucket is required when gatherer.source is kv")
	}

	if c.NeedsNATS() {
		if c.NATS.URL == "" {
			return errors.New("nats.url is required when the gateway or kv gatherer is enabled")
		}
		if c.NATS.Timeout < 0 || c.NATS.ReconnectWait < 0 {
			return errors.New("nats timeouts cannot be negative")
		}
		if err := c.NATS.TLS.Validate(); err != nil {
			return fmt.Errorf("nats.tls: %w", err)
		}
	}
	if c.Gateway.Enabled {
		if err := c.Gateway.NATSRPC.Validate(); err != nil {
			return fmt.Errorf("gateway.natsrpc: %w", err)
		}
	}

	if c.Analyzer.TopShips < 0 {
		return fmt.Errorf("analyzer.top_ships cannot be negative, got %d", c.Analyzer.TopShips)
	}
	return nil
}

// String returns a JSON rendering with credentials masked.
func (c *Config) String() string {
	masked := c.Clone()
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
