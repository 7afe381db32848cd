package cached

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/twin/pkg/cache"
	"github.com/papercomputeco/twin/pkg/eventstream"
	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/worker"
)

// AdvancedOptions tunes an Advanced store.
type AdvancedOptions struct {
	// Pool runs delayed invalidations. When nil and the strategy is Delayed,
	// Advanced starts and owns a small pool of its own.
	Pool *worker.Pool

	// TrackedRecords bounds the adaptive access tracker.
	TrackedRecords int

	// Clock overrides the adaptive tracker's time source.
	Clock func() time.Time
}

// Advanced applies an invalidation strategy to Update and Delete and defers
// every other operation to the wrapped Store.
type Advanced struct {
	base *Store

	strategy Strategy
	tracker  *accessTracker
	pool     *worker.Pool
	ownsPool bool
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[uuid.UUID]*time.Timer
	timers  sync.WaitGroup
	closed  bool
}

var _ memory.Driver = (*Advanced)(nil)

// NewAdvanced wraps s with strategy. The Advanced store owns s.
func NewAdvanced(s *Store, strategy Strategy, opts AdvancedOptions) (*Advanced, error) {
	if s == nil {
		return nil, errors.New("advanced cached store needs a cached store")
	}

	a := &Advanced{
		base:     s,
		strategy: strategy,
		pool:     opts.Pool,
		pending:  make(map[uuid.UUID]*time.Timer),
		logger:   s.logger.With("strategy", strategy.Kind.String()),
	}

	switch strategy.Kind {
	case StrategyDelayed:
		if a.pool == nil {
			p, err := worker.NewPool(worker.Config{NumWorkers: 1, Logger: s.logger})
			if err != nil {
				return nil, err
			}
			a.pool = p
			a.ownsPool = true
		}
	case StrategyAdaptive:
		now := opts.Clock
		if now == nil {
			now = time.Now
		}
		t, err := newAccessTracker(opts.TrackedRecords, strategy.Threshold, strategy.Window, now)
		if err != nil {
			return nil, err
		}
		a.tracker = t
	}

	return a, nil
}

// Strategy returns the active strategy.
func (a *Advanced) Strategy() Strategy {
	return a.strategy
}

// Store writes through like Store.Store.
func (a *Advanced) Store(ctx context.Context, rec *memory.Record) (uuid.UUID, error) {
	return a.base.Store(ctx, rec)
}

// Retrieve counts the access for the adaptive strategy and reads through
// the cache.
func (a *Advanced) Retrieve(ctx context.Context, id uuid.UUID) (*memory.Record, error) {
	rec, err := a.base.Retrieve(ctx, id)
	if err == nil && a.tracker != nil {
		a.tracker.record(id)
	}
	return rec, err
}

// Search reads through the cache like Store.Search.
func (a *Advanced) Search(ctx context.Context, query []float32, limit int) ([]*memory.Record, error) {
	return a.base.Search(ctx, query, limit)
}

// ListPaginated is not cached.
func (a *Advanced) ListPaginated(ctx context.Context, limit, offset int) (*memory.Page, error) {
	return a.base.ListPaginated(ctx, limit, offset)
}

// Invalidate drops the cached record for id.
func (a *Advanced) Invalidate(ctx context.Context, id uuid.UUID) bool {
	return a.base.Invalidate(ctx, id)
}

// InvalidateSearches drops every cached search result.
func (a *Advanced) InvalidateSearches(ctx context.Context) int {
	return a.base.InvalidateSearches(ctx)
}

// Cache returns the cache manager.
func (a *Advanced) Cache() *cache.Manager {
	return a.base.cache
}

// Update writes to the inner driver and applies the strategy.
func (a *Advanced) Update(ctx context.Context, id uuid.UUID, content string, embedding []float32) (err error) {
	ctx, g := a.base.opts.Timer.Start(ctx, "cached.update")
	defer func() { g.Fail(err); g.Stop() }()

	if err := a.base.updateInner(ctx, id, content, embedding); err != nil {
		return err
	}

	var kind memory.Kind
	if a.strategy.Kind == StrategyAdaptive && a.tracker.count(id) > a.strategy.Threshold {
		kind = kindOf(a.base.refresh(ctx, id))
	} else {
		a.apply(ctx, id)
	}

	a.base.afterWrite(ctx)
	a.base.publish(ctx, eventstream.MemoryUpdated, id, kind)
	return nil
}

// Delete removes the record from the inner driver and applies the strategy.
// A deleted record is never refreshed, so Adaptive invalidates it.
func (a *Advanced) Delete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, g := a.base.opts.Timer.Start(ctx, "cached.delete")
	defer func() { g.Fail(err); g.Stop() }()

	if err := a.base.deleteInner(ctx, id); err != nil {
		return err
	}

	if a.tracker != nil {
		a.tracker.forget(id)
	}
	a.apply(ctx, id)

	a.base.afterWrite(ctx)
	a.base.publish(ctx, eventstream.MemoryDeleted, id, "")
	return nil
}

// apply invalidates id according to the strategy, without refreshing.
func (a *Advanced) apply(ctx context.Context, id uuid.UUID) {
	switch a.strategy.Kind {
	case StrategyImmediate, StrategyAdaptive:
		a.base.invalidate(ctx, id)
	case StrategyDelayed:
		a.schedule(id)
	case StrategyManual:
	}
}

// schedule (re)arms the delayed invalidation of id. Once the Advanced store
// is closed, invalidation happens at once.
func (a *Advanced) schedule(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.base.invalidate(context.Background(), id)
		return
	}

	if prev, ok := a.pending[id]; ok && prev.Stop() {
		a.timers.Done()
	}

	a.timers.Add(1)
	var t *time.Timer
	t = time.AfterFunc(a.strategy.Delay, func() {
		defer a.timers.Done()

		a.mu.Lock()
		if a.pending[id] == t {
			delete(a.pending, id)
		}
		a.mu.Unlock()

		a.enqueueInvalidation(id)
	})
	a.pending[id] = t
}

func (a *Advanced) enqueueInvalidation(id uuid.UUID) {
	job := worker.Job{
		Name: "invalidate",
		Key:  cache.MemoryKey(id),
		Run: func(ctx context.Context) error {
			a.base.invalidate(ctx, id)
			return nil
		},
	}
	if !a.pool.Enqueue(job) {
		a.base.invalidate(context.Background(), id)
	}
}

// Pending returns the number of scheduled delayed invalidations.
func (a *Advanced) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close cancels pending timers and runs their invalidations, drains the
// worker pool, then closes the wrapped Store.
func (a *Advanced) Close() error {
	a.mu.Lock()
	a.closed = true
	pending := a.pending
	a.pending = make(map[uuid.UUID]*time.Timer)
	a.mu.Unlock()

	ctx := context.Background()
	for id, t := range pending {
		if t.Stop() {
			a.timers.Done()
			a.base.invalidate(ctx, id)
		}
	}
	a.timers.Wait()

	if a.ownsPool {
		a.pool.Close()
	}

	if len(pending) > 0 {
		a.logger.Debug("flushed pending invalidations", "count", len(pending))
	}

	return a.base.Close()
}
