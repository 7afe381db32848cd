package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/papercomputeco/twin/pkg/logger"
)

const backendKV = "kv"

// KVPool is a bounded pool of connections to the KV server. Each handle is a
// dedicated server connection guarded by a weighted semaphore so that no
// more than MaxConnections handles are ever out at once.
type KVPool struct {
	client *redis.Client
	sem    *semaphore.Weighted
	cfg    KVConfig
	inUse  atomic.Int64
	logger *slog.Logger
}

// KVConn is an acquired KV handle. Close returns it to the pool.
type KVConn struct {
	*redis.Conn

	once    sync.Once
	release func()
}

// Close releases the connection and its pool slot. It is safe to call more
// than once.
func (c *KVConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Conn.Close()
		c.release()
	})
	return err
}

// NewKVPool validates cfg, connects, prewarms MinConnections handles and
// verifies the server answers PING.
func NewKVPool(ctx context.Context, cfg KVConfig, log *slog.Logger) (*KVPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rawURL, err := cfg.redisURL()
	if err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, &ConfigError{Field: "kv.url", Reason: err.Error()}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinConnections
	opts.ConnMaxIdleTime = cfg.IdleTimeout
	opts.DialTimeout = cfg.ConnectTimeout
	opts.PoolTimeout = cfg.ConnectTimeout
	opts.MaxRetries = -1

	p := newKVPool(redis.NewClient(opts), cfg, log)
	if err := p.Prewarm(ctx); err != nil {
		p.Close()
		return nil, err
	}

	status := p.Health(ctx)
	if !status.Healthy {
		p.Close()
		return nil, &BackendError{Backend: backendKV, Op: "health check", Err: status.err}
	}

	p.logger.Info("kv pool ready",
		"addr", opts.Addr,
		"max_connections", cfg.MaxConnections,
		"min_connections", cfg.MinConnections,
	)

	return p, nil
}

// newKVPool wraps an existing client without validating cfg.
func newKVPool(client *redis.Client, cfg KVConfig, log *slog.Logger) *KVPool {
	return &KVPool{
		client: client,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConnections)),
		cfg:    cfg,
		logger: logger.OrNop(log).With("pool", backendKV),
	}
}

// Get acquires a dedicated connection, waiting at most ConnectTimeout for a
// free slot and for the connection to answer PING.
func (p *KVPool) Get(ctx context.Context) (*KVConn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		err = acquireError(ctx, acquireCtx, backendKV, err)
		p.logger.Debug("kv acquire failed", "error", err)
		return nil, err
	}
	p.inUse.Add(1)

	release := func() {
		p.inUse.Add(-1)
		p.sem.Release(1)
	}

	conn := p.client.Conn()
	if err := conn.Ping(acquireCtx).Err(); err != nil {
		conn.Close()
		release()
		return nil, acquireError(ctx, acquireCtx, backendKV, err)
	}

	return &KVConn{Conn: conn, release: release}, nil
}

// GetKV is Get under the name Pools uses, so a bare KVPool can serve as a
// connection source.
func (p *KVPool) GetKV(ctx context.Context) (*KVConn, error) {
	return p.Get(ctx)
}

// Prewarm acquires MinConnections handles at once and then releases them.
func (p *KVPool) Prewarm(ctx context.Context) error {
	conns := make([]*KVConn, 0, p.cfg.MinConnections)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for range p.cfg.MinConnections {
		c, err := p.Get(ctx)
		if err != nil {
			return fmt.Errorf("prewarming kv pool: %w", err)
		}
		conns = append(conns, c)
	}

	return nil
}

// Health sends PING and expects PONG. A saturated pool is reported as such
// without sending PING.
func (p *KVPool) Health(ctx context.Context) PoolStatus {
	if p.saturated() {
		return p.status(0, true)
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	reply, err := p.client.Ping(checkCtx).Result()
	latency := time.Since(start)

	waited := errors.Is(err, redis.ErrPoolTimeout) || errors.Is(err, context.DeadlineExceeded)
	if waited && ctx.Err() == nil && p.saturated() {
		return p.status(0, true)
	}

	status := p.status(latency, false)
	status.Healthy = err == nil && reply == "PONG"
	switch {
	case err != nil:
		status.setError(err)
	case reply != "PONG":
		status.setError(fmt.Errorf("unexpected PING reply %q", reply))
	}

	return status
}

func (p *KVPool) saturated() bool {
	return int(p.inUse.Load()) >= p.cfg.MaxConnections
}

func (p *KVPool) status(latency time.Duration, saturated bool) PoolStatus {
	return PoolStatus{
		Configured: true,
		Available:  max(p.cfg.MaxConnections-int(p.inUse.Load()), 0),
		Total:      int(p.client.PoolStats().TotalConns),
		Max:        p.cfg.MaxConnections,
		Latency:    latency,
		Saturated:  saturated,
		Healthy:    saturated,
	}
}

// Client exposes the underlying client for pipelined or pub/sub use.
func (p *KVPool) Client() *redis.Client {
	return p.client
}

// Close closes the client and all of its connections.
func (p *KVPool) Close() error {
	return p.client.Close()
}
