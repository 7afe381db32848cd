package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent twin configuration stored as config.toml
// in the .twin/ directory. The TOML layout uses sections for logical grouping.
//
// Passwords are never part of Config; see Secrets.
type Config struct {
	Version int           `toml:"version"`
	Pools   PoolsConfig   `toml:"pools"`
	Cache   CacheConfig   `toml:"cache"`
	Store   StoreConfig   `toml:"store"`
	API     APIConfig     `toml:"api"`
	Events  EventsConfig  `toml:"events"`
	Timing  TimingConfig  `toml:"timing"`
	Logging LoggingConfig `toml:"logging"`
}

// PoolsConfig holds the connection pool settings.
type PoolsConfig struct {
	SQL SQLPoolConfig `toml:"sql"`
	KV  KVPoolConfig  `toml:"kv"`
}

// SQLPoolConfig holds the PostgreSQL pool settings.
type SQLPoolConfig struct {
	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	Database              string `toml:"database"`
	User                  string `toml:"user"`
	SSLMode               string `toml:"sslmode"`
	MaxConnections        int    `toml:"max_connections"`
	MinConnections        int    `toml:"min_connections"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	IdleTimeoutSeconds    int    `toml:"idle_timeout_seconds"`
}

// KVPoolConfig holds the KV pool settings. An empty URL leaves the pool
// unconfigured.
type KVPoolConfig struct {
	URL                   string `toml:"url,omitempty"`
	MaxConnections        int    `toml:"max_connections"`
	MinConnections        int    `toml:"min_connections"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	IdleTimeoutSeconds    int    `toml:"idle_timeout_seconds"`
}

// CacheConfig holds cache tier and invalidation settings.
type CacheConfig struct {
	RemoteURL                string `toml:"remote_url,omitempty"`
	KeyPrefix                string `toml:"key_prefix"`
	MemoryCapacity           int    `toml:"memory_capacity"`
	DefaultTTLSeconds        int    `toml:"default_ttl_seconds"`
	SearchTTLSeconds         int    `toml:"search_ttl_seconds"`
	EnableFallback           bool   `toml:"enable_fallback"`
	BreakerTimeoutSeconds    int    `toml:"breaker_timeout_seconds"`
	Invalidation             string `toml:"invalidation"`
	InvalidationDelaySeconds int    `toml:"invalidation_delay_seconds"`
	AdaptiveThreshold        int    `toml:"adaptive_threshold"`
	AdaptiveWindowSeconds    int    `toml:"adaptive_window_seconds"`
	SweepSearchOnWrite       bool   `toml:"sweep_search_on_write"`
}

// StoreConfig selects the memory store backend.
type StoreConfig struct {
	Provider        string `toml:"provider"`
	VectorDimension int    `toml:"vector_dimension"`
	SQLitePath      string `toml:"sqlite_path,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen"`
}

// EventsConfig selects the event publisher.
type EventsConfig struct {
	Provider string   `toml:"provider"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic"`
}

// TimingConfig holds the operation timing thresholds.
type TimingConfig struct {
	WarnThresholdMs  int `toml:"warn_threshold_ms"`
	DebugThresholdMs int `toml:"debug_threshold_ms"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindBool
	kindList
)

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	kind keyKind
	get  func(c *Config) string
	set  func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		kind: kindString,
		get:  func(c *Config) string { return *field(c) },
		set:  func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		kind: kindInt,
		get:  func(c *Config) string { return strconv.Itoa(*field(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		kind: kindBool,
		get:  func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

// listKey stores a comma separated value as a list.
func listKey(field func(c *Config) *[]string) configKeyInfo {
	return configKeyInfo{
		kind: kindList,
		get:  func(c *Config) string { return strings.Join(*field(c), ",") },
		set: func(c *Config, v string) error {
			var items []string
			for item := range strings.SplitSeq(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			*field(c) = items
			return nil
		},
	}
}

// orderedKeys lists every supported key in TOML section order.
var orderedKeys = []string{
	"pools.sql.host",
	"pools.sql.port",
	"pools.sql.database",
	"pools.sql.user",
	"pools.sql.sslmode",
	"pools.sql.max_connections",
	"pools.sql.min_connections",
	"pools.sql.connect_timeout_seconds",
	"pools.sql.idle_timeout_seconds",
	"pools.kv.url",
	"pools.kv.max_connections",
	"pools.kv.min_connections",
	"pools.kv.connect_timeout_seconds",
	"pools.kv.idle_timeout_seconds",
	"cache.remote_url",
	"cache.key_prefix",
	"cache.memory_capacity",
	"cache.default_ttl_seconds",
	"cache.search_ttl_seconds",
	"cache.enable_fallback",
	"cache.breaker_timeout_seconds",
	"cache.invalidation",
	"cache.invalidation_delay_seconds",
	"cache.adaptive_threshold",
	"cache.adaptive_window_seconds",
	"cache.sweep_search_on_write",
	"store.provider",
	"store.vector_dimension",
	"store.sqlite_path",
	"api.listen",
	"events.provider",
	"events.brokers",
	"events.topic",
	"timing.warn_threshold_ms",
	"timing.debug_threshold_ms",
	"logging.level",
	"logging.format",
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"pools.sql.host":                    stringKey(func(c *Config) *string { return &c.Pools.SQL.Host }),
	"pools.sql.port":                    intKey("pools.sql.port", func(c *Config) *int { return &c.Pools.SQL.Port }),
	"pools.sql.database":                stringKey(func(c *Config) *string { return &c.Pools.SQL.Database }),
	"pools.sql.user":                    stringKey(func(c *Config) *string { return &c.Pools.SQL.User }),
	"pools.sql.sslmode":                 stringKey(func(c *Config) *string { return &c.Pools.SQL.SSLMode }),
	"pools.sql.max_connections":         intKey("pools.sql.max_connections", func(c *Config) *int { return &c.Pools.SQL.MaxConnections }),
	"pools.sql.min_connections":         intKey("pools.sql.min_connections", func(c *Config) *int { return &c.Pools.SQL.MinConnections }),
	"pools.sql.connect_timeout_seconds": intKey("pools.sql.connect_timeout_seconds", func(c *Config) *int { return &c.Pools.SQL.ConnectTimeoutSeconds }),
	"pools.sql.idle_timeout_seconds":    intKey("pools.sql.idle_timeout_seconds", func(c *Config) *int { return &c.Pools.SQL.IdleTimeoutSeconds }),

	"pools.kv.url":                     stringKey(func(c *Config) *string { return &c.Pools.KV.URL }),
	"pools.kv.max_connections":         intKey("pools.kv.max_connections", func(c *Config) *int { return &c.Pools.KV.MaxConnections }),
	"pools.kv.min_connections":         intKey("pools.kv.min_connections", func(c *Config) *int { return &c.Pools.KV.MinConnections }),
	"pools.kv.connect_timeout_seconds": intKey("pools.kv.connect_timeout_seconds", func(c *Config) *int { return &c.Pools.KV.ConnectTimeoutSeconds }),
	"pools.kv.idle_timeout_seconds":    intKey("pools.kv.idle_timeout_seconds", func(c *Config) *int { return &c.Pools.KV.IdleTimeoutSeconds }),

	"cache.remote_url":                 stringKey(func(c *Config) *string { return &c.Cache.RemoteURL }),
	"cache.key_prefix":                 stringKey(func(c *Config) *string { return &c.Cache.KeyPrefix }),
	"cache.memory_capacity":            intKey("cache.memory_capacity", func(c *Config) *int { return &c.Cache.MemoryCapacity }),
	"cache.default_ttl_seconds":        intKey("cache.default_ttl_seconds", func(c *Config) *int { return &c.Cache.DefaultTTLSeconds }),
	"cache.search_ttl_seconds":         intKey("cache.search_ttl_seconds", func(c *Config) *int { return &c.Cache.SearchTTLSeconds }),
	"cache.enable_fallback":            boolKey("cache.enable_fallback", func(c *Config) *bool { return &c.Cache.EnableFallback }),
	"cache.breaker_timeout_seconds":    intKey("cache.breaker_timeout_seconds", func(c *Config) *int { return &c.Cache.BreakerTimeoutSeconds }),
	"cache.invalidation":               stringKey(func(c *Config) *string { return &c.Cache.Invalidation }),
	"cache.invalidation_delay_seconds": intKey("cache.invalidation_delay_seconds", func(c *Config) *int { return &c.Cache.InvalidationDelaySeconds }),
	"cache.adaptive_threshold":         intKey("cache.adaptive_threshold", func(c *Config) *int { return &c.Cache.AdaptiveThreshold }),
	"cache.adaptive_window_seconds":    intKey("cache.adaptive_window_seconds", func(c *Config) *int { return &c.Cache.AdaptiveWindowSeconds }),
	"cache.sweep_search_on_write":      boolKey("cache.sweep_search_on_write", func(c *Config) *bool { return &c.Cache.SweepSearchOnWrite }),

	"store.provider":         stringKey(func(c *Config) *string { return &c.Store.Provider }),
	"store.vector_dimension": intKey("store.vector_dimension", func(c *Config) *int { return &c.Store.VectorDimension }),
	"store.sqlite_path":      stringKey(func(c *Config) *string { return &c.Store.SQLitePath }),

	"api.listen": stringKey(func(c *Config) *string { return &c.API.Listen }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers":  listKey(func(c *Config) *[]string { return &c.Events.Brokers }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),

	"timing.warn_threshold_ms":  intKey("timing.warn_threshold_ms", func(c *Config) *int { return &c.Timing.WarnThresholdMs }),
	"timing.debug_threshold_ms": intKey("timing.debug_threshold_ms", func(c *Config) *int { return &c.Timing.DebugThresholdMs }),

	"logging.level":  stringKey(func(c *Config) *string { return &c.Logging.Level }),
	"logging.format": stringKey(func(c *Config) *string { return &c.Logging.Format }),
}
