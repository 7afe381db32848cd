package config

import (
	"github.com/papercomputeco/twin/pkg/cache"
	"github.com/papercomputeco/twin/pkg/eventstream/kafka"
	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/memory/cached"
	"github.com/papercomputeco/twin/pkg/pool"
	"github.com/papercomputeco/twin/pkg/timing"
)

const (
	ProviderPostgres = "postgres"
	ProviderSQLite   = "sqlite"
	ProviderInMemory = "inmemory"

	EventsNop   = "nop"
	EventsKafka = "kafka"

	FormatText   = "text"
	FormatJSON   = "json"
	FormatPretty = "pretty"

	defaultSQLHost     = "localhost"
	defaultSQLDatabase = "twin"
	defaultSQLUser     = "twin"
	defaultAPIListen   = ":8082"
	defaultLogLevel    = "info"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	connectTimeout := int(pool.DefaultConnectTimeout.Seconds())
	idleTimeout := int(pool.DefaultIdleTimeout.Seconds())

	return &Config{
		Version: CurrentV,
		Pools: PoolsConfig{
			SQL: SQLPoolConfig{
				Host:                  defaultSQLHost,
				Port:                  pool.DefaultSQLPort,
				Database:              defaultSQLDatabase,
				User:                  defaultSQLUser,
				SSLMode:               pool.DefaultSSLMode,
				MaxConnections:        pool.DefaultMaxConnections,
				MinConnections:        pool.DefaultMinConnections,
				ConnectTimeoutSeconds: connectTimeout,
				IdleTimeoutSeconds:    idleTimeout,
			},
			KV: KVPoolConfig{
				MaxConnections:        pool.DefaultMaxConnections,
				MinConnections:        pool.DefaultMinConnections,
				ConnectTimeoutSeconds: connectTimeout,
				IdleTimeoutSeconds:    idleTimeout,
			},
		},
		Cache: CacheConfig{
			KeyPrefix:                cache.DefaultKeyPrefix,
			MemoryCapacity:           cache.DefaultMemoryCapacity,
			DefaultTTLSeconds:        int(cache.DefaultTTL.Seconds()),
			SearchTTLSeconds:         int(cache.DefaultSearchTTL.Seconds()),
			EnableFallback:           true,
			BreakerTimeoutSeconds:    int(cache.DefaultBreakerTimeout.Seconds()),
			Invalidation:             cached.StrategyImmediate.String(),
			InvalidationDelaySeconds: int(cached.DefaultInvalidationDelay.Seconds()),
			AdaptiveThreshold:        cached.DefaultAdaptiveThreshold,
			AdaptiveWindowSeconds:    int(cached.DefaultAdaptiveWindow.Seconds()),
		},
		Store: StoreConfig{
			Provider:        ProviderSQLite,
			VectorDimension: memory.DefaultDimension,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Events: EventsConfig{
			Provider: EventsNop,
			Topic:    kafka.DefaultTopic,
		},
		Timing: TimingConfig{
			WarnThresholdMs:  int(timing.DefaultWarnThreshold.Milliseconds()),
			DebugThresholdMs: int(timing.DefaultDebugThreshold.Milliseconds()),
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: FormatText,
		},
	}
}
