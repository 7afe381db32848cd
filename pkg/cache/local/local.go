// Package local implements cache.Backend as a bounded in-process LRU with
// per-entry expiry.
package local

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Backend is an LRU cache bounded by entry count. Every operation that may
// sweep expired entries holds the write lock.
type Backend struct {
	mu         sync.RWMutex
	lru        *simplelru.LRU[string, entry]
	defaultTTL time.Duration
	now        func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the time source. Tests use it to expire entries
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a local backend holding at most capacity entries. Entries set
// without a TTL expire after defaultTTL, or never when defaultTTL is zero.
func New(capacity int, defaultTTL time.Duration, opts ...Option) (*Backend, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("local cache capacity must be positive, got %d", capacity)
	}

	lru, err := simplelru.NewLRU[string, entry](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}

	b := &Backend{
		lru:        lru,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// sweep drops every expired entry. Callers hold the write lock.
func (b *Backend) sweep(now time.Time) {
	for _, k := range b.lru.Keys() {
		if e, ok := b.lru.Peek(k); ok && !e.live(now) {
			b.lru.Remove(k)
		}
	}
}

// Get sweeps expired entries and returns the value for key, marking it as
// most recently used.
func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sweep(b.now())

	e, ok := b.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores value. The entry expires after ttl when positive, otherwise
// after the default TTL when one is configured, otherwise never.
func (b *Backend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := entry{value: append([]byte(nil), value...)}
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}

	b.lru.Add(key, e)
	return nil
}

// TTL returns the remaining lifetime of key. A live entry without expiry
// reports zero.
func (b *Backend) TTL(_ context.Context, key string) (time.Duration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.lru.Peek(key)
	if !ok {
		return 0, false
	}

	now := b.now()
	if !e.live(now) {
		return 0, false
	}
	if e.expiresAt.IsZero() {
		return 0, true
	}
	return e.expiresAt.Sub(now), true
}

// Delete removes key.
func (b *Backend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lru.Remove(key), nil
}

// Exists sweeps expired entries and reports whether key is present. It does
// not affect recency.
func (b *Backend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sweep(b.now())
	return b.lru.Contains(key), nil
}

// DeletePrefix removes every key starting with prefix.
func (b *Backend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	deleted := 0
	for _, k := range b.lru.Keys() {
		if strings.HasPrefix(k, prefix) && b.lru.Remove(k) {
			deleted++
		}
	}
	return deleted, nil
}

// Clear removes every entry.
func (b *Backend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lru.Purge()
	return nil
}

// Len returns the number of entries currently held, including any expired
// entries not yet swept.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.lru.Len()
}

// Keys returns the held keys from least to most recently used.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.lru.Keys()
}

// Close drops every entry.
func (b *Backend) Close() error {
	return b.Clear(context.Background())
}
