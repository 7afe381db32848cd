// Package pool manages the bounded, validated connection pools twin keeps
// to its SQL database and its KV cache server.
//
// Both pools share one contract: construction validates the configuration,
// prewarms min_connections and fails unless a health probe passes; Get
// blocks at most connect_timeout before returning ErrPoolTimeout; handles are
// released by closing them. Acquisition failures are reported, never retried.
package pool

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/papercomputeco/twin/pkg/logger"
)

// Pools owns the SQL pool and the optional KV pool.
type Pools struct {
	SQL *SQLPool
	KV  *KVPool

	logger *slog.Logger
}

// New validates cfg and builds both pools. The KV pool is skipped when
// cfg.KV.URL is empty. Any failure closes whatever was already opened.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Pools, error) {
	log = logger.OrNop(log)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sqlPool, err := NewSQLPool(ctx, cfg.SQL, log)
	if err != nil {
		return nil, err
	}

	p := &Pools{SQL: sqlPool, logger: log}

	if cfg.KV.Configured() {
		kvPool, err := NewKVPool(ctx, cfg.KV, log)
		if err != nil {
			sqlPool.Close()
			return nil, err
		}
		p.KV = kvPool
	}

	if h := p.HealthCheck(ctx); !h.Healthy() {
		p.Close()
		return nil, &BackendError{Backend: "pools", Op: "health check", Err: errors.Join(h.SQL.err, h.KV.err)}
	}

	return p, nil
}

// Assemble wraps pools that were built individually. Either may be nil;
// deployments on an embedded store have no SQL pool.
func Assemble(sqlPool *SQLPool, kvPool *KVPool, log *slog.Logger) *Pools {
	return &Pools{SQL: sqlPool, KV: kvPool, logger: logger.OrNop(log)}
}

// GetSQL acquires a SQL connection.
func (p *Pools) GetSQL(ctx context.Context) (*sqlx.Conn, error) {
	if p.SQL == nil {
		return nil, ErrSQLNotConfigured
	}
	return p.SQL.Get(ctx)
}

// GetKV acquires a KV connection.
func (p *Pools) GetKV(ctx context.Context) (*KVConn, error) {
	if p.KV == nil {
		return nil, ErrKVNotConfigured
	}
	return p.KV.Get(ctx)
}

// HealthCheck probes both pools. An unconfigured pool is reported as
// healthy with Configured set to false.
func (p *Pools) HealthCheck(ctx context.Context) Health {
	h := Health{
		SQL: PoolStatus{Healthy: true},
		KV:  PoolStatus{Healthy: true},
	}
	if p.SQL != nil {
		h.SQL = p.SQL.Health(ctx)
	}
	if p.KV != nil {
		h.KV = p.KV.Health(ctx)
	}

	if !h.Healthy() {
		p.logger.Warn("pool health check failed",
			"sql_healthy", h.SQL.Healthy,
			"kv_healthy", h.KV.Healthy,
			"sql_error", h.SQL.Error,
			"kv_error", h.KV.Error,
		)
	}

	return h
}

// Close closes both pools and returns any errors joined.
func (p *Pools) Close() error {
	var errs []error
	if p.KV != nil {
		errs = append(errs, p.KV.Close())
	}
	if p.SQL != nil {
		errs = append(errs, p.SQL.Close())
	}
	return errors.Join(errs...)
}
