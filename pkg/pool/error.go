package pool

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPoolTimeout is returned when a handle could not be acquired within
	// the pool's connect timeout.
	ErrPoolTimeout = errors.New("pool timeout")

	// ErrKVNotConfigured is returned by GetKV when no KV URL was configured.
	ErrKVNotConfigured = errors.New("kv pool not configured")

	// ErrSQLNotConfigured is returned by GetSQL on Pools assembled without a
	// SQL pool.
	ErrSQLNotConfigured = errors.New("sql pool not configured")
)

// ConfigError reports an invariant violation in a pool configuration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid pool config %s: %s", e.Field, e.Reason)
}

// BackendError wraps a failure reported by the database or KV server.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// acquireError maps a failed acquisition to ErrPoolTimeout when the bounded
// wait expired while the caller's own context was still live.
func acquireError(parent, bounded context.Context, backend string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(bounded.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s acquire: %w", backend, ErrPoolTimeout)
	}
	return &BackendError{Backend: backend, Op: "acquire", Err: err}
}
