package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx PostgreSQL driver as "pgx"
	"github.com/jmoiron/sqlx"

	"github.com/papercomputeco/twin/pkg/logger"
)

const backendSQL = "sql"

// SQLPool is a bounded pool of PostgreSQL connections.
type SQLPool struct {
	db     *sqlx.DB
	cfg    SQLConfig
	logger *slog.Logger
}

// NewSQLPool validates cfg, opens the pool, prewarms MinConnections and
// verifies the pool is healthy.
func NewSQLPool(ctx context.Context, cfg SQLConfig, log *slog.Logger) (*SQLPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, &BackendError{Backend: backendSQL, Op: "open", Err: err}
	}

	p := newSQLPool(db, cfg, log)
	if err := p.Prewarm(ctx); err != nil {
		db.Close()
		return nil, err
	}

	status := p.Health(ctx)
	if !status.Healthy {
		db.Close()
		return nil, &BackendError{Backend: backendSQL, Op: "health check", Err: status.err}
	}

	p.logger.Info("sql pool ready",
		"host", cfg.Host,
		"database", cfg.Database,
		"max_connections", cfg.MaxConnections,
		"min_connections", cfg.MinConnections,
	)

	return p, nil
}

// newSQLPool wraps an already opened database without validating cfg.
func newSQLPool(db *sqlx.DB, cfg SQLConfig, log *slog.Logger) *SQLPool {
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)
	if cfg.IdleTimeout > 0 {
		db.SetConnMaxIdleTime(cfg.IdleTimeout)
	}

	return &SQLPool{
		db:     db,
		cfg:    cfg,
		logger: logger.OrNop(log).With("pool", backendSQL),
	}
}

// Get acquires a dedicated connection, waiting at most ConnectTimeout. The
// caller must Close the connection to return it to the pool.
func (p *SQLPool) Get(ctx context.Context) (*sqlx.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	conn, err := p.db.Connx(acquireCtx)
	if err != nil {
		err = acquireError(ctx, acquireCtx, backendSQL, err)
		p.logger.Debug("sql acquire failed", "error", err)
		return nil, err
	}

	return conn, nil
}

// GetSQL is Get under the name Pools uses, so a bare SQLPool can serve as a
// connection source.
func (p *SQLPool) GetSQL(ctx context.Context) (*sqlx.Conn, error) {
	return p.Get(ctx)
}

// Prewarm opens MinConnections connections at once and returns them to the
// idle set so first requests do not pay connection latency.
func (p *SQLPool) Prewarm(ctx context.Context) error {
	conns := make([]*sqlx.Conn, 0, p.cfg.MinConnections)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for range p.cfg.MinConnections {
		c, err := p.Get(ctx)
		if err != nil {
			return fmt.Errorf("prewarming sql pool: %w", err)
		}
		conns = append(conns, c)
	}

	return nil
}

// Health runs SELECT 1 and reports pool occupancy. A saturated pool is
// reported as such without running the query.
func (p *SQLPool) Health(ctx context.Context) PoolStatus {
	if p.saturated() {
		return p.status(0, true)
	}

	checkCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	start := time.Now()
	var one int
	err := p.db.QueryRowxContext(checkCtx, "SELECT 1").Scan(&one)
	latency := time.Since(start)

	// the pool may have filled up while SELECT 1 waited for a connection
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && p.saturated() {
		return p.status(0, true)
	}

	status := p.status(latency, false)
	status.Healthy = err == nil && one == 1
	if err != nil {
		status.setError(err)
	} else if one != 1 {
		status.setError(fmt.Errorf("unexpected SELECT 1 result %d", one))
	}

	return status
}

func (p *SQLPool) saturated() bool {
	return p.db.Stats().InUse >= p.cfg.MaxConnections
}

func (p *SQLPool) status(latency time.Duration, saturated bool) PoolStatus {
	stats := p.db.Stats()
	return PoolStatus{
		Configured: true,
		Available:  stats.Idle,
		Total:      stats.OpenConnections,
		Max:        p.cfg.MaxConnections,
		Latency:    latency,
		Saturated:  saturated,
		Healthy:    saturated,
	}
}

// DB exposes the underlying pool for callers that manage their own
// transactions.
func (p *SQLPool) DB() *sqlx.DB {
	return p.db
}

// Close closes every connection in the pool.
func (p *SQLPool) Close() error {
	return p.db.Close()
}
