// Package remote implements cache.Backend on the shared KV server.
package remote

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papercomputeco/twin/pkg/cache"
	"github.com/papercomputeco/twin/pkg/logger"
	"github.com/papercomputeco/twin/pkg/pool"
)

const (
	scanCount   = 256
	deleteBatch = 256
)

// ConnSource hands out pooled KV connections. Both *pool.Pools and
// *pool.KVPool satisfy it.
type ConnSource interface {
	GetKV(ctx context.Context) (*pool.KVConn, error)
}

// Backend stores values on the KV server under "{prefix}:{key}".
type Backend struct {
	source ConnSource
	prefix string
	logger *slog.Logger
}

// New creates a remote backend. An empty prefix selects cache.DefaultKeyPrefix.
func New(source ConnSource, prefix string, log *slog.Logger) *Backend {
	if prefix == "" {
		prefix = cache.DefaultKeyPrefix
	}
	return &Backend{
		source: source,
		prefix: prefix,
		logger: logger.OrNop(log).With("cache", "remote"),
	}
}

func (b *Backend) key(k string) string {
	return b.prefix + ":" + k
}

func (b *Backend) withConn(ctx context.Context, op, key string, fn func(*pool.KVConn) error) error {
	conn, err := b.source.GetKV(ctx)
	if err != nil {
		return &cache.Error{Op: op, Key: key, Err: err}
	}
	defer conn.Close()

	if err := fn(conn); err != nil {
		return &cache.Error{Op: op, Key: key, Err: err}
	}
	return nil
}

// Get returns the value stored under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := b.withConn(ctx, "get", key, func(c *pool.KVConn) error {
		v, err := c.Get(ctx, b.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	return value, found, err
}

// Set stores value with the given expiry. Without a ttl the key never
// expires and eviction is left to the server's memory policy.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return b.withConn(ctx, "set", key, func(c *pool.KVConn) error {
		return c.Set(ctx, b.key(key), value, ttl).Err()
	})
}

// Delete removes key.
func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	var deleted bool
	err := b.withConn(ctx, "delete", key, func(c *pool.KVConn) error {
		n, err := c.Del(ctx, b.key(key)).Result()
		deleted = n > 0
		return err
	})
	return deleted, err
}

// Exists reports whether key is present.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := b.withConn(ctx, "exists", key, func(c *pool.KVConn) error {
		n, err := c.Exists(ctx, b.key(key)).Result()
		exists = n > 0
		return err
	})
	return exists, err
}

// DeletePrefix scans for keys under "{prefix}:{keyPrefix}" and deletes them
// in batches. Keys written concurrently may or may not survive.
func (b *Backend) DeletePrefix(ctx context.Context, keyPrefix string) (int, error) {
	pattern := escapeGlob(b.key(keyPrefix)) + "*"

	var deleted int
	err := b.withConn(ctx, "delete prefix", keyPrefix, func(c *pool.KVConn) error {
		var cursor uint64
		batch := make([]string, 0, deleteBatch)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			n, err := c.Del(ctx, batch...).Result()
			deleted += int(n)
			batch = batch[:0]
			return err
		}

		for {
			keys, next, err := c.Scan(ctx, cursor, pattern, scanCount).Result()
			if err != nil {
				return err
			}
			for _, k := range keys {
				batch = append(batch, k)
				if len(batch) == deleteBatch {
					if err := flush(); err != nil {
						return err
					}
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
		return flush()
	})

	if err == nil {
		b.logger.Debug("cleared remote keys", "prefix", keyPrefix, "deleted", deleted)
	}
	return deleted, err
}

// Clear deletes every key under this backend's prefix.
func (b *Backend) Clear(ctx context.Context) error {
	_, err := b.DeletePrefix(ctx, "")
	return err
}

// Close is a no-op; the connection pool is owned by the caller.
func (b *Backend) Close() error {
	return nil
}

// escapeGlob escapes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
