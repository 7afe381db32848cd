// Package memoryutils builds the configured memory store stack: event
// publisher, timer, pools, store backend, cache and cached store.
package memoryutils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/papercomputeco/twin/pkg/cache"
	"github.com/papercomputeco/twin/pkg/cache/remote"
	"github.com/papercomputeco/twin/pkg/config"
	"github.com/papercomputeco/twin/pkg/dotdir"
	"github.com/papercomputeco/twin/pkg/eventstream"
	"github.com/papercomputeco/twin/pkg/eventstream/kafka"
	"github.com/papercomputeco/twin/pkg/eventstream/nop"
	"github.com/papercomputeco/twin/pkg/logger"
	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/memory/cached"
	"github.com/papercomputeco/twin/pkg/memory/inmemory"
	"github.com/papercomputeco/twin/pkg/memory/postgres"
	"github.com/papercomputeco/twin/pkg/memory/sqlite"
	"github.com/papercomputeco/twin/pkg/pool"
	"github.com/papercomputeco/twin/pkg/timing"
)

// NewPublisher returns the event publisher named by cfg.Events.Provider.
func NewPublisher(cfg *config.Config, log *slog.Logger) (eventstream.Publisher, error) {
	switch cfg.Events.Provider {
	case "", config.EventsNop:
		return nop.NewPublisher(), nil
	case config.EventsKafka:
		return kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported events provider: %s", cfg.Events.Provider)
	}
}

// NewPools opens the pools the configuration needs. The SQL pool is only
// opened for the postgres provider; the KV pool only when a KV URL is set.
func NewPools(ctx context.Context, cfg *config.Config, secrets config.Secrets, log *slog.Logger) (*pool.Pools, error) {
	pc := cfg.PoolConfig(secrets)

	if cfg.Store.Provider == config.ProviderPostgres {
		return pool.New(ctx, pc, log)
	}

	if !pc.KV.Configured() {
		return pool.Assemble(nil, nil, log), nil
	}

	kv, err := pool.NewKVPool(ctx, pc.KV, log)
	if err != nil {
		return nil, err
	}
	return pool.Assemble(nil, kv, log), nil
}

type NewDriverOpts struct {
	ProviderType string
	Dimension    int

	// SQLitePath is the database file for the sqlite provider.
	SQLitePath string

	// Source hands out connections for the postgres provider.
	Source postgres.Source

	Timer  *timing.Timer
	Logger *slog.Logger
}

// NewDriver builds the uncached store backend.
func NewDriver(ctx context.Context, o *NewDriverOpts) (memory.Driver, error) {
	switch o.ProviderType {
	case config.ProviderPostgres:
		if o.Source == nil {
			return nil, errors.New("postgres provider requires a SQL connection source")
		}
		return postgres.NewStore(ctx, o.Source, postgres.Config{
			Dimension: o.Dimension,
			Timer:     o.Timer,
		}, o.Logger)
	case config.ProviderSQLite:
		return sqlite.NewStore(ctx, sqlite.Config{
			Path:      o.SQLitePath,
			Dimension: o.Dimension,
			Timer:     o.Timer,
		}, o.Logger)
	case config.ProviderInMemory:
		return inmemory.NewDriver(inmemory.Config{
			Dimension: o.Dimension,
			Timer:     o.Timer,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported memory store provider: %s", o.ProviderType)
	}
}

// NewCache builds the cache manager. The remote tier is used when pools has
// a KV pool.
func NewCache(cfg *config.Config, pools *pool.Pools, log *slog.Logger) (*cache.Manager, error) {
	var remoteTier cache.Backend
	if pools != nil && pools.KV != nil {
		remoteTier = remote.New(pools, cfg.Cache.KeyPrefix, log)
	}
	return cache.New(cfg.CacheConfig(), remoteTier, log)
}

// SQLitePath resolves the sqlite database file. An unset path selects
// twin.db inside the .twin/ directory.
func SQLitePath(cfg *config.Config, configDir string) (string, error) {
	if cfg.Store.SQLitePath != "" {
		return cfg.Store.SQLitePath, nil
	}
	return dotdir.NewManager().File(configDir, dotdir.DatabaseFile)
}

type NewStackOpts struct {
	Config    *config.Config
	Secrets   config.Secrets
	ConfigDir string

	// TracerProvider overrides the global OpenTelemetry provider for
	// operation spans.
	TracerProvider trace.TracerProvider

	Logger *slog.Logger
}

// Stack is the fully assembled memory store. Driver is the outermost
// memory.Driver; callers cannot tell it apart from a bare backend.
type Stack struct {
	Driver    *cached.Advanced
	Pools     *pool.Pools
	Publisher eventstream.Publisher
	Timer     *timing.Timer

	logger *slog.Logger
}

// Health reports the pools and the cache tiers.
type Health struct {
	pool.Health

	Cache CacheStatus `json:"cache"`
}

// CacheStatus reports the cache tiers.
type CacheStatus struct {
	RemoteConfigured bool `json:"remote_configured"`
	RemoteAvailable  bool `json:"remote_available"`
}

// NewStack validates the configuration and builds every layer. On failure
// everything already opened is closed.
func NewStack(ctx context.Context, o *NewStackOpts) (_ *Stack, err error) {
	cfg := o.Config
	log := logger.OrNop(o.Logger)

	if err := cfg.Validate(o.Secrets); err != nil {
		return nil, err
	}

	var closers []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	publisher, err := NewPublisher(cfg, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, publisher.Close)

	hostname, _ := os.Hostname()
	source := eventstream.EventSource{Service: "twin", Hostname: hostname}

	warn, debug := cfg.Thresholds()
	timerOpts := []timing.Option{
		timing.WithLogger(log),
		timing.WithPublisher(publisher),
		timing.WithThresholds(warn, debug),
		timing.WithSource(source),
	}
	if o.TracerProvider != nil {
		timerOpts = append(timerOpts, timing.WithTracerProvider(o.TracerProvider))
	}
	timer := timing.New(timerOpts...)

	pools, err := NewPools(ctx, cfg, o.Secrets, log)
	if err != nil {
		return nil, fmt.Errorf("opening pools: %w", err)
	}
	closers = append(closers, pools.Close)

	sqlitePath := ""
	if cfg.Store.Provider == config.ProviderSQLite {
		sqlitePath, err = SQLitePath(cfg, o.ConfigDir)
		if err != nil {
			return nil, err
		}
	}

	driver, err := NewDriver(ctx, &NewDriverOpts{
		ProviderType: cfg.Store.Provider,
		Dimension:    cfg.Store.VectorDimension,
		SQLitePath:   sqlitePath,
		Source:       pools,
		Timer:        timer,
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %w", err)
	}
	closers = append(closers, driver.Close)

	manager, err := NewCache(cfg, pools, log)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	closers = append(closers, manager.Close)

	strategy, err := cfg.Strategy()
	if err != nil {
		return nil, err
	}

	store := cached.New(driver, manager, cached.Options{
		SweepSearchOnWrite: cfg.Cache.SweepSearchOnWrite,
		Publisher:          publisher,
		Source:             source,
		Timer:              timer,
	}, log)

	advanced, err := cached.NewAdvanced(store, strategy, cached.AdvancedOptions{})
	if err != nil {
		return nil, err
	}

	log.Info("memory store ready",
		"provider", cfg.Store.Provider,
		"dimension", cfg.Store.VectorDimension,
		"invalidation", strategy.Kind.String(),
		"remote_cache", pools.KV != nil,
		"events", cfg.Events.Provider,
	)

	return &Stack{
		Driver:    advanced,
		Pools:     pools,
		Publisher: publisher,
		Timer:     timer,
		logger:    log,
	}, nil
}

// Health probes the pools and reports the cache tiers.
func (s *Stack) Health(ctx context.Context) Health {
	h := Health{Health: s.Pools.HealthCheck(ctx)}
	if hybrid, ok := s.Driver.Cache().Backend().(*cache.Hybrid); ok {
		h.Cache.RemoteConfigured = hybrid.RemoteConfigured()
		h.Cache.RemoteAvailable = hybrid.RemoteAvailable()
	}
	return h
}

// Close flushes pending invalidations and closes every layer from the
// outside in.
func (s *Stack) Close() error {
	return errors.Join(
		s.Driver.Close(),
		s.Pools.Close(),
		s.Publisher.Close(),
	)
}
