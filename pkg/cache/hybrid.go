package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/papercomputeco/twin/pkg/logger"
)

// ttlReporter is implemented by backends that can report the remaining
// lifetime of an entry. Hybrid uses it so a repopulated remote entry does not
// outlive its local copy.
type ttlReporter interface {
	TTL(ctx context.Context, key string) (time.Duration, bool)
}

// Hybrid layers an optional remote backend over an optional local backend.
//
// Reads try remote first. A remote miss or failure falls through to local,
// and a local hit is written back to remote when remote did not have it.
// Writes go to remote best-effort and always to local. Remote calls run
// through a circuit breaker: the first failure is logged as a warning and
// trips the breaker, after which remote is skipped until the breaker's
// timeout elapses. No remote failure ever fails a read.
//
// A remote write that fails or is skipped leaves remote possibly holding an
// older value. Such keys are read from local only until a remote delete of
// the key succeeds, so a recovered remote never serves a superseded entry.
type Hybrid struct {
	remote        Backend
	local         Backend
	breaker       *gobreaker.CircuitBreaker
	stale         *staleSet
	repopulateTTL time.Duration
	logger        *slog.Logger
}

// HybridOptions tunes a Hybrid.
type HybridOptions struct {
	// BreakerTimeout is how long remote stays skipped after a failure.
	BreakerTimeout time.Duration

	// RepopulateTTL applies to remote write-backs when the local backend
	// cannot report an entry's remaining lifetime.
	RepopulateTTL time.Duration
}

// NewHybrid composes remote and local. Either may be nil, but not both.
func NewHybrid(remote, local Backend, opts HybridOptions, log *slog.Logger) (*Hybrid, error) {
	if remote == nil && local == nil {
		return nil, errors.New("hybrid cache needs at least one backend")
	}

	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = DefaultBreakerTimeout
	}

	h := &Hybrid{
		remote:        remote,
		local:         local,
		stale:         newStaleSet(),
		repopulateTTL: opts.RepopulateTTL,
		logger:        logger.OrNop(log).With("cache", "hybrid"),
	}

	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-cache",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.logger.Info("remote cache breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return h, nil
}

// RemoteConfigured reports whether a remote tier exists.
func (h *Hybrid) RemoteConfigured() bool {
	return h.remote != nil
}

// RemoteAvailable reports whether remote calls are currently attempted.
func (h *Hybrid) RemoteAvailable() bool {
	return h.remote != nil && h.breaker.State() != gobreaker.StateOpen
}

func (h *Hybrid) callRemote(op, key string, fn func() error) error {
	_, err := h.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		h.logger.Debug("remote cache skipped", "op", op, "key", key)
	} else {
		h.logger.Warn("remote cache call failed, falling back to local",
			"op", op,
			"key", key,
			"error", err,
		)
	}

	return err
}

// remoteReadable reports whether remote may be read for key, reconciling any
// stale marks covering it first. Marked prefixes are cleared with a remote
// DeletePrefix and a marked key with a remote Delete.
func (h *Hybrid) remoteReadable(ctx context.Context, key string) bool {
	for prefix, seq := range h.stale.pendingPrefixes() {
		err := h.callRemote("reconcile prefix", prefix, func() error {
			_, err := h.remote.DeletePrefix(ctx, prefix)
			return err
		})
		if err == nil {
			h.stale.clearPrefix(prefix, seq)
			h.logger.Debug("remote cache prefix reconciled", "prefix", prefix)
		}
	}
	if h.stale.coveredByPrefix(key) {
		return false
	}

	seq, ok := h.stale.key(key)
	if !ok {
		return true
	}
	err := h.callRemote("reconcile", key, func() error {
		_, err := h.remote.Delete(ctx, key)
		return err
	})
	if err != nil {
		return false
	}
	h.stale.clearKey(key, seq)
	h.logger.Debug("remote cache key reconciled", "key", key)
	return true
}

// writeRemote runs a remote write for key and keeps the stale ledger in step
// with its outcome.
func (h *Hybrid) writeRemote(op, key string, fn func() error) {
	seq, marked := h.stale.key(key)
	if err := h.callRemote(op, key, fn); err != nil {
		h.stale.markKey(key)
		return
	}
	if marked {
		h.stale.clearKey(key, seq)
	}
}

// Get implements the fallback read protocol. The returned error is always
// nil; failures are logged.
func (h *Hybrid) Get(ctx context.Context, key string) ([]byte, bool, error) {
	readable := h.remote != nil && h.remoteReadable(ctx, key)
	if readable {
		var (
			value []byte
			found bool
		)
		err := h.callRemote("get", key, func() error {
			var err error
			value, found, err = h.remote.Get(ctx, key)
			return err
		})
		if err == nil && found {
			return value, true, nil
		}
	}

	if h.local == nil {
		return nil, false, nil
	}

	value, found, err := h.local.Get(ctx, key)
	if err != nil {
		h.logger.Warn("local cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}

	if readable {
		h.repopulate(ctx, key, value)
	}

	return value, true, nil
}

func (h *Hybrid) repopulate(ctx context.Context, key string, value []byte) {
	ttl := h.repopulateTTL
	if r, ok := h.local.(ttlReporter); ok {
		remaining, ok := r.TTL(ctx, key)
		if !ok {
			return
		}
		ttl = remaining
	}

	_ = h.callRemote("repopulate", key, func() error {
		return h.remote.Set(ctx, key, value, ttl)
	})
}

// Set writes to remote best-effort and always to local.
func (h *Hybrid) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if h.remote != nil {
		h.writeRemote("set", key, func() error {
			return h.remote.Set(ctx, key, value, ttl)
		})
	}

	if h.local != nil {
		if err := h.local.Set(ctx, key, value, ttl); err != nil {
			return &Error{Op: "set", Key: key, Err: err}
		}
	}

	return nil
}

// Delete removes key from both tiers and reports whether either held it.
func (h *Hybrid) Delete(ctx context.Context, key string) (bool, error) {
	var deleted bool

	if h.remote != nil {
		h.writeRemote("delete", key, func() error {
			d, err := h.remote.Delete(ctx, key)
			deleted = deleted || d
			return err
		})
	}

	if h.local != nil {
		d, err := h.local.Delete(ctx, key)
		if err != nil {
			return deleted, &Error{Op: "delete", Key: key, Err: err}
		}
		deleted = deleted || d
	}

	return deleted, nil
}

// Exists reports whether either tier holds key.
func (h *Hybrid) Exists(ctx context.Context, key string) (bool, error) {
	if h.remote != nil && h.remoteReadable(ctx, key) {
		var exists bool
		err := h.callRemote("exists", key, func() error {
			var err error
			exists, err = h.remote.Exists(ctx, key)
			return err
		})
		if err == nil && exists {
			return true, nil
		}
	}

	if h.local == nil {
		return false, nil
	}
	return h.local.Exists(ctx, key)
}

// DeletePrefix removes matching keys from both tiers and returns the total
// removed.
func (h *Hybrid) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	total := 0

	if h.remote != nil {
		if err := h.callRemote("delete prefix", prefix, func() error {
			n, err := h.remote.DeletePrefix(ctx, prefix)
			total += n
			return err
		}); err != nil {
			h.stale.markPrefix(prefix)
		}
	}

	if h.local != nil {
		n, err := h.local.DeletePrefix(ctx, prefix)
		total += n
		if err != nil {
			return total, &Error{Op: "delete prefix", Key: prefix, Err: err}
		}
	}

	return total, nil
}

// Clear clears both tiers and returns the first hard error. A remote tier
// skipped by the breaker counts as an error since its entries survive.
func (h *Hybrid) Clear(ctx context.Context) error {
	var first error

	if h.remote != nil {
		if err := h.callRemote("clear", "", func() error {
			return h.remote.Clear(ctx)
		}); err != nil {
			h.stale.markPrefix("")
			first = &Error{Op: "clear", Err: err}
		}
	}

	if h.local != nil {
		if err := h.local.Clear(ctx); err != nil && first == nil {
			first = &Error{Op: "clear", Err: err}
		}
	}

	return first
}

// Close closes both tiers.
func (h *Hybrid) Close() error {
	var errs []error
	if h.remote != nil {
		errs = append(errs, h.remote.Close())
	}
	if h.local != nil {
		errs = append(errs, h.local.Close())
	}
	return errors.Join(errs...)
}
