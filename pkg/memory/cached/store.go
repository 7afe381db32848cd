// Package cached provides a memory.Driver decorator that fronts another
// driver with the two-tier cache.
//
// Writes go to the inner driver first and are mirrored into the cache only
// on success. Reads go through the cache and fall back to the inner driver.
// Cache failures are logged by the cache manager and never surface here; the
// inner driver is the source of truth.
//
// [Advanced] adds pluggable invalidation strategies for Update and Delete.
package cached

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/papercomputeco/twin/pkg/cache"
	"github.com/papercomputeco/twin/pkg/eventstream"
	"github.com/papercomputeco/twin/pkg/logger"
	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/timing"
)

// Options tunes a Store.
type Options struct {
	// SweepSearchOnWrite drops every cached search result after a successful
	// Update or Delete. Otherwise search results expire by TTL only.
	SweepSearchOnWrite bool

	// Publisher receives a MemoryChangedEvent for every successful write.
	// Nil disables change events.
	Publisher eventstream.Publisher

	// Source identifies this process in change events.
	Source eventstream.EventSource

	// Timer measures each operation. Nil disables timing.
	Timer *timing.Timer
}

// Store is a memory.Driver that caches records and search results.
type Store struct {
	inner  memory.Driver
	cache  *cache.Manager
	opts   Options
	logger *slog.Logger
}

var _ memory.Driver = (*Store)(nil)

// New wraps inner with c. The Store owns both and closes them on Close.
func New(inner memory.Driver, c *cache.Manager, opts Options, log *slog.Logger) *Store {
	return &Store{
		inner:  inner,
		cache:  c,
		opts:   opts,
		logger: logger.OrNop(log).With("store", "cached"),
	}
}

// Cache returns the cache manager.
func (s *Store) Cache() *cache.Manager {
	return s.cache
}

// Store writes to the inner driver, then caches the stored record.
func (s *Store) Store(ctx context.Context, rec *memory.Record) (id uuid.UUID, err error) {
	ctx, g := s.opts.Timer.Start(ctx, "cached.store")
	defer func() { g.Fail(err); g.Stop() }()

	id, err = s.inner.Store(ctx, rec)
	if err != nil {
		return uuid.Nil, err
	}

	s.cache.Set(ctx, cache.MemoryKey(id), rec, s.cache.RecordTTL())
	s.publish(ctx, eventstream.MemoryStored, id, rec.Kind)

	return id, nil
}

// Retrieve reads through the cache. A cache hit does not bump the record's
// last-accessed time in the inner driver.
func (s *Store) Retrieve(ctx context.Context, id uuid.UUID) (rec *memory.Record, err error) {
	ctx, g := s.opts.Timer.Start(ctx, "cached.retrieve")
	defer func() { g.Fail(err); g.Stop() }()

	key := cache.MemoryKey(id)

	var cachedRec memory.Record
	if s.cache.Get(ctx, key, &cachedRec) {
		return &cachedRec, nil
	}

	rec, err = s.inner.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, key, rec, s.cache.RecordTTL())
	return rec, nil
}

// Search reads through the cache under a key derived from the query digest
// and limit. Errors are never cached.
func (s *Store) Search(ctx context.Context, query []float32, limit int) (recs []*memory.Record, err error) {
	ctx, g := s.opts.Timer.Start(ctx, "cached.search")
	defer func() { g.Fail(err); g.Stop() }()

	if limit < 1 {
		return s.inner.Search(ctx, query, limit)
	}

	key := cache.SearchKey(Digest(query), limit)

	var cachedRecs []*memory.Record
	if s.cache.Get(ctx, key, &cachedRecs) {
		return cachedRecs, nil
	}

	recs, err = s.inner.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, key, recs, s.cache.SearchTTL())
	return recs, nil
}

// Update writes to the inner driver, then refreshes the cached record with
// the canonical post-update value. If the refresh fails the entry is
// invalidated instead. A NotFound from the inner driver also invalidates.
func (s *Store) Update(ctx context.Context, id uuid.UUID, content string, embedding []float32) (err error) {
	ctx, g := s.opts.Timer.Start(ctx, "cached.update")
	defer func() { g.Fail(err); g.Stop() }()

	if err := s.updateInner(ctx, id, content, embedding); err != nil {
		return err
	}

	rec := s.refresh(ctx, id)
	s.afterWrite(ctx)
	s.publish(ctx, eventstream.MemoryUpdated, id, kindOf(rec))

	return nil
}

// Delete removes the record from the inner driver, then from the cache.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, g := s.opts.Timer.Start(ctx, "cached.delete")
	defer func() { g.Fail(err); g.Stop() }()

	if err := s.deleteInner(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, id)
	s.afterWrite(ctx)
	s.publish(ctx, eventstream.MemoryDeleted, id, "")

	return nil
}

// ListPaginated is not cached.
func (s *Store) ListPaginated(ctx context.Context, limit, offset int) (*memory.Page, error) {
	return s.inner.ListPaginated(ctx, limit, offset)
}

// Close closes the inner driver and the cache.
func (s *Store) Close() error {
	innerErr := s.inner.Close()
	cacheErr := s.cache.Close()
	if innerErr != nil {
		return innerErr
	}
	return cacheErr
}

// Invalidate drops the cached record for id.
func (s *Store) Invalidate(ctx context.Context, id uuid.UUID) bool {
	return s.invalidate(ctx, id)
}

// InvalidateSearches drops every cached search result and returns how many
// were removed.
func (s *Store) InvalidateSearches(ctx context.Context) int {
	return s.cache.DeleteNamespace(ctx, cache.NamespaceSearch)
}

// updateInner runs the inner update and invalidates the cached record when
// the inner driver no longer has it.
func (s *Store) updateInner(ctx context.Context, id uuid.UUID, content string, embedding []float32) error {
	err := s.inner.Update(ctx, id, content, embedding)
	if memory.IsNotFound(err) {
		s.invalidate(ctx, id)
	}
	return err
}

func (s *Store) deleteInner(ctx context.Context, id uuid.UUID) error {
	err := s.inner.Delete(ctx, id)
	if memory.IsNotFound(err) {
		s.invalidate(ctx, id)
	}
	return err
}

// refresh re-fetches id from the inner driver and caches it. On failure the
// cached record is dropped and nil returned.
func (s *Store) refresh(ctx context.Context, id uuid.UUID) *memory.Record {
	rec, err := s.inner.Retrieve(ctx, id)
	if err != nil {
		s.logger.Debug("refresh after write failed, invalidating", "id", id, "error", err)
		s.invalidate(ctx, id)
		return nil
	}

	s.cache.Set(ctx, cache.MemoryKey(id), rec, s.cache.RecordTTL())
	return rec
}

func (s *Store) invalidate(ctx context.Context, id uuid.UUID) bool {
	return s.cache.Delete(ctx, cache.MemoryKey(id))
}

func (s *Store) afterWrite(ctx context.Context) {
	if s.opts.SweepSearchOnWrite {
		n := s.InvalidateSearches(ctx)
		s.logger.Debug("swept cached searches", "deleted", n)
	}
}

func (s *Store) publish(ctx context.Context, action eventstream.MemoryAction, id uuid.UUID, kind memory.Kind) {
	if s.opts.Publisher == nil {
		return
	}

	event := eventstream.NewMemoryChangedEvent(s.opts.Source, action, id, kind.String())
	if err := s.opts.Publisher.PublishMemoryChange(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to publish memory change", "id", id, "action", action, "error", err)
	}
}

func kindOf(rec *memory.Record) memory.Kind {
	if rec == nil {
		return ""
	}
	return rec.Kind
}
