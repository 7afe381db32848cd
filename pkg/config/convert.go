package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/twin/pkg/cache"
	"github.com/papercomputeco/twin/pkg/logger"
	"github.com/papercomputeco/twin/pkg/memory/cached"
	"github.com/papercomputeco/twin/pkg/pool"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// KVURL is the URL the KV pool dials: pools.kv.url, or cache.remote_url
// when only the cache names a server.
func (c *Config) KVURL() string {
	if c.Pools.KV.URL != "" {
		return c.Pools.KV.URL
	}
	return c.Cache.RemoteURL
}

// PoolConfig builds the pool configuration with passwords from s.
func (c *Config) PoolConfig(s Secrets) pool.Config {
	return pool.Config{
		SQL: pool.SQLConfig{
			Host:           c.Pools.SQL.Host,
			Port:           c.Pools.SQL.Port,
			Database:       c.Pools.SQL.Database,
			User:           c.Pools.SQL.User,
			Password:       s.SQLPassword,
			SSLMode:        c.Pools.SQL.SSLMode,
			MaxConnections: c.Pools.SQL.MaxConnections,
			MinConnections: c.Pools.SQL.MinConnections,
			ConnectTimeout: seconds(c.Pools.SQL.ConnectTimeoutSeconds),
			IdleTimeout:    seconds(c.Pools.SQL.IdleTimeoutSeconds),
		},
		KV: pool.KVConfig{
			URL:            c.KVURL(),
			Password:       s.KVPassword,
			MaxConnections: c.Pools.KV.MaxConnections,
			MinConnections: c.Pools.KV.MinConnections,
			ConnectTimeout: seconds(c.Pools.KV.ConnectTimeoutSeconds),
			IdleTimeout:    seconds(c.Pools.KV.IdleTimeoutSeconds),
		},
	}
}

// CacheConfig builds the cache configuration.
func (c *Config) CacheConfig() cache.Config {
	return cache.Config{
		RemoteURL:      c.KVURL(),
		KeyPrefix:      c.Cache.KeyPrefix,
		MemoryCapacity: c.Cache.MemoryCapacity,
		DefaultTTL:     seconds(c.Cache.DefaultTTLSeconds),
		SearchTTL:      seconds(c.Cache.SearchTTLSeconds),
		EnableFallback: c.Cache.EnableFallback,
		BreakerTimeout: seconds(c.Cache.BreakerTimeoutSeconds),
	}
}

// Strategy builds the configured invalidation strategy.
func (c *Config) Strategy() (cached.Strategy, error) {
	return cached.ParseStrategy(
		c.Cache.Invalidation,
		seconds(c.Cache.InvalidationDelaySeconds),
		c.Cache.AdaptiveThreshold,
		seconds(c.Cache.AdaptiveWindowSeconds),
	)
}

// Thresholds returns the timing warn and debug thresholds.
func (c *Config) Thresholds() (warn, debug time.Duration) {
	return time.Duration(c.Timing.WarnThresholdMs) * time.Millisecond,
		time.Duration(c.Timing.DebugThresholdMs) * time.Millisecond
}

// LogLevel parses logging.level. "trace" selects logger.LevelTrace.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "trace":
		return logger.LevelTrace, nil
	case "", "info":
		return slog.LevelInfo, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, &pool.ConfigError{Field: "logging.level", Reason: err.Error()}
	}
	return level, nil
}

// Validate checks every section. Pool invariants are only checked for pools
// the configuration will actually open.
func (c *Config) Validate(s Secrets) error {
	pc := c.PoolConfig(s)

	switch c.Store.Provider {
	case ProviderPostgres:
		if err := pc.SQL.Validate(); err != nil {
			return err
		}
	case ProviderSQLite, ProviderInMemory:
	default:
		return &pool.ConfigError{
			Field:  "store.provider",
			Reason: fmt.Sprintf("%q is not one of %s, %s, %s", c.Store.Provider, ProviderPostgres, ProviderSQLite, ProviderInMemory),
		}
	}

	if c.Store.VectorDimension <= 0 {
		return &pool.ConfigError{Field: "store.vector_dimension", Reason: fmt.Sprintf("%d must be positive", c.Store.VectorDimension)}
	}

	if pc.KV.Configured() {
		if err := pc.KV.Validate(); err != nil {
			return err
		}
	}

	if err := c.CacheConfig().Validate(); err != nil {
		return err
	}
	if _, err := c.Strategy(); err != nil {
		return &pool.ConfigError{Field: "cache.invalidation", Reason: err.Error()}
	}

	switch c.Events.Provider {
	case EventsNop:
	case EventsKafka:
		if len(c.Events.Brokers) == 0 {
			return &pool.ConfigError{Field: "events.brokers", Reason: "kafka events need at least one broker"}
		}
	default:
		return &pool.ConfigError{Field: "events.provider", Reason: fmt.Sprintf("%q is not one of %s, %s", c.Events.Provider, EventsNop, EventsKafka)}
	}

	switch c.Logging.Format {
	case FormatText, FormatJSON, FormatPretty:
	default:
		return &pool.ConfigError{Field: "logging.format", Reason: fmt.Sprintf("%q is not one of %s, %s, %s", c.Logging.Format, FormatText, FormatJSON, FormatPretty)}
	}

	_, err := c.LogLevel()
	return err
}
