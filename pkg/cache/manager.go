package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/twin/pkg/logger"
)

const (
	// NamespaceMemory prefixes cached records.
	NamespaceMemory = "memory:"

	// NamespaceSearch prefixes cached search results.
	NamespaceSearch = "search:"
)

// MemoryKey is the cache key of a single record.
func MemoryKey(id uuid.UUID) string {
	return NamespaceMemory + id.String()
}

// SearchKey is the cache key of a search result list.
func SearchKey(digest string, limit int) string {
	return NamespaceSearch + digest + ":" + strconv.Itoa(limit)
}

// Manager stores JSON values in a Backend under namespaced keys. It never
// surfaces cache failures to callers; they are logged and reads degrade to
// misses.
type Manager struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
}

// NewManager wraps backend. Zero TTLs in cfg fall back to the package
// defaults.
func NewManager(backend Backend, cfg Config, log *slog.Logger) *Manager {
	if cfg.SearchTTL == 0 {
		cfg.SearchTTL = DefaultSearchTTL
	}
	return &Manager{
		backend: backend,
		cfg:     cfg,
		logger:  logger.OrNop(log).With("cache", "manager"),
	}
}

// RecordTTL is the lifetime of cached records.
func (m *Manager) RecordTTL() time.Duration {
	return m.cfg.DefaultTTL
}

// SearchTTL is the lifetime of cached search results.
func (m *Manager) SearchTTL() time.Duration {
	return m.cfg.SearchTTL
}

// Backend returns the wrapped backend.
func (m *Manager) Backend() Backend {
	return m.backend
}

// Get decodes the value under key into dst and reports whether it did.
// Entries that fail to decode are deleted and treated as a miss.
func (m *Manager) Get(ctx context.Context, key string, dst any) bool {
	data, found, err := m.backend.Get(ctx, key)
	if err != nil {
		m.logger.Warn("cache get failed", "key", key, "error", err)
		return false
	}
	if !found {
		return false
	}

	if err := json.Unmarshal(data, dst); err != nil {
		m.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		m.Delete(ctx, key)
		return false
	}

	return true
}

// Set encodes v as JSON and stores it under key.
func (m *Manager) Set(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}

	if err := m.backend.Set(ctx, key, data, ttl); err != nil {
		m.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Delete removes key and reports whether any tier held it.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	deleted, err := m.backend.Delete(ctx, key)
	if err != nil {
		m.logger.Warn("cache delete failed", "key", key, "error", err)
	}
	return deleted
}

// Exists reports whether key is cached.
func (m *Manager) Exists(ctx context.Context, key string) bool {
	exists, err := m.backend.Exists(ctx, key)
	if err != nil {
		m.logger.Warn("cache exists failed", "key", key, "error", err)
		return false
	}
	return exists
}

// DeleteNamespace removes every key in the namespace, e.g. NamespaceSearch.
func (m *Manager) DeleteNamespace(ctx context.Context, namespace string) int {
	n, err := m.backend.DeletePrefix(ctx, namespace)
	if err != nil {
		m.logger.Warn("cache namespace sweep failed", "namespace", namespace, "error", err)
	}
	return n
}

// Clear empties the cache.
func (m *Manager) Clear(ctx context.Context) error {
	return m.backend.Clear(ctx)
}

// Close closes the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
