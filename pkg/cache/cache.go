// Package cache provides the two-tier cache that fronts the memory store.
//
// A [Backend] is a byte-oriented key/value cache. Two implementations exist:
// the remote KV backend (package remote), shared by every process, and the
// local LRU backend (package local), private to one process. [Hybrid]
// composes them with a fallback protocol in which a remote failure never
// fails a read, and [Manager] adds key namespacing and JSON values on top.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/papercomputeco/twin/pkg/pool"
)

const (
	DefaultKeyPrefix      = "twin"
	DefaultMemoryCapacity = 1000
	DefaultTTL            = time.Hour
	DefaultSearchTTL      = 5 * time.Minute
	DefaultBreakerTimeout = 30 * time.Second
)

// Backend is a byte-oriented cache.
type Backend interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A ttl of zero leaves the expiry to the
	// backend's default policy.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key and reports whether it was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key holds a live value.
	Exists(ctx context.Context, key string) (bool, error)

	// DeletePrefix removes every key beginning with prefix and returns how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Clear removes every key owned by this backend.
	Clear(ctx context.Context) error

	Close() error
}

// Config controls the cache tiers and their default lifetimes.
type Config struct {
	// RemoteURL is the kv:// or kvs:// URL of the shared tier. Empty keeps
	// the cache process-local. The KV pool dials it; the cache only records
	// it.
	RemoteURL string

	// KeyPrefix namespaces every remote key as "{prefix}:{key}".
	KeyPrefix string

	// MemoryCapacity bounds the number of entries in the local tier.
	MemoryCapacity int

	// DefaultTTL applies to records and to local entries set without a TTL.
	// Zero means no expiry.
	DefaultTTL time.Duration

	// SearchTTL applies to cached search results.
	SearchTTL time.Duration

	// EnableFallback keeps the local tier active when a remote tier is
	// configured. Without a remote tier the local tier is always active.
	EnableFallback bool

	// BreakerTimeout is how long the remote tier is skipped after a failure.
	BreakerTimeout time.Duration
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:      DefaultKeyPrefix,
		MemoryCapacity: DefaultMemoryCapacity,
		DefaultTTL:     DefaultTTL,
		SearchTTL:      DefaultSearchTTL,
		EnableFallback: true,
		BreakerTimeout: DefaultBreakerTimeout,
	}
}

// Validate checks the cache invariants.
func (c Config) Validate() error {
	switch {
	case c.MemoryCapacity <= 0:
		return &pool.ConfigError{Field: "cache.memory_capacity", Reason: fmt.Sprintf("%d must be positive", c.MemoryCapacity)}
	case c.KeyPrefix == "":
		return &pool.ConfigError{Field: "cache.key_prefix", Reason: "must not be empty"}
	case c.DefaultTTL < 0:
		return &pool.ConfigError{Field: "cache.default_ttl", Reason: "must not be negative"}
	case c.SearchTTL < 0:
		return &pool.ConfigError{Field: "cache.search_ttl", Reason: "must not be negative"}
	}
	return nil
}

// Error reports a failure inside the cache layer.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
