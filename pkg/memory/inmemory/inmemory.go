// Package inmemory provides an in-process implementation of memory.Driver.
//
// Records live in a map guarded by a RWMutex and search is a brute-force
// cosine scan. It backs the "inmemory" store provider and the store tests;
// nothing survives a restart.
package inmemory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/timing"
)

// Config holds configuration for the in-memory driver.
type Config struct {
	// Dimension is the required embedding length.
	Dimension int

	// Timer measures each operation. Nil disables timing.
	Timer *timing.Timer
}

type entry struct {
	rec *memory.Record

	// seq orders records created within the same microsecond.
	seq uint64
}

// Driver implements memory.Driver using in-process data structures.
type Driver struct {
	validator memory.Validator
	timer     *timing.Timer

	mu      sync.RWMutex
	records map[uuid.UUID]*entry
	seq     uint64
}

// NewDriver creates an in-memory driver.
func NewDriver(cfg Config) *Driver {
	return &Driver{
		validator: memory.NewValidator(cfg.Dimension),
		timer:     cfg.Timer,
		records:   make(map[uuid.UUID]*entry),
	}
}

// Store validates rec, assigns it a fresh id and keeps a private copy.
func (d *Driver) Store(ctx context.Context, rec *memory.Record) (id uuid.UUID, err error) {
	ctx, g := d.timer.Start(ctx, "inmemory.store")
	defer func() { g.Fail(err); g.Stop() }()

	content, err := d.validator.Record(rec)
	if err != nil {
		return uuid.Nil, err
	}
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	now := memory.Now()
	rec.ID = uuid.New()
	rec.Content = content
	rec.CreatedAt = memory.CreationTime(rec.CreatedAt, now)
	rec.LastAccessed = now

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	d.records[rec.ID] = &entry{rec: rec.Clone(), seq: d.seq}

	return rec.ID, nil
}

// Retrieve bumps the record's last-accessed time and returns a copy.
func (d *Driver) Retrieve(ctx context.Context, id uuid.UUID) (rec *memory.Record, err error) {
	ctx, g := d.timer.Start(ctx, "inmemory.retrieve")
	defer func() { g.Fail(err); g.Stop() }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.records[id]
	if !ok {
		return nil, memory.NotFoundError{ID: id}
	}

	e.rec.LastAccessed = memory.Now()
	return e.rec.Clone(), nil
}

// Search scans every record and returns the closest limit by cosine
// distance.
func (d *Driver) Search(ctx context.Context, query []float32, limit int) (recs []*memory.Record, err error) {
	ctx, g := d.timer.Start(ctx, "inmemory.search")
	defer func() { g.Fail(err); g.Stop() }()

	if err := d.validator.Embedding(query); err != nil {
		return nil, err
	}
	if limit < 1 {
		return []*memory.Record{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type scored struct {
		e    *entry
		dist float64
	}

	d.mu.RLock()
	candidates := make([]scored, 0, len(d.records))
	for _, e := range d.records {
		candidates = append(candidates, scored{e: e, dist: memory.CosineDistance(query, e.rec.Embedding)})
	}

	slices.SortFunc(candidates, func(a, b scored) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		return cmp.Compare(a.e.seq, b.e.seq)
	})

	n := min(limit, len(candidates))
	recs = make([]*memory.Record, n)
	for i := range n {
		recs[i] = candidates[i].e.rec.Clone()
	}
	d.mu.RUnlock()

	return recs, nil
}

// Update replaces content and embedding and bumps last-accessed.
func (d *Driver) Update(ctx context.Context, id uuid.UUID, content string, embedding []float32) (err error) {
	ctx, g := d.timer.Start(ctx, "inmemory.update")
	defer func() { g.Fail(err); g.Stop() }()

	if err := d.validator.Embedding(embedding); err != nil {
		return err
	}
	sanitized, err := memory.SanitizeContent(content)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.records[id]
	if !ok {
		return memory.NotFoundError{ID: id}
	}

	e.rec.Content = sanitized
	e.rec.Embedding = append([]float32(nil), embedding...)
	e.rec.LastAccessed = memory.Now()

	return nil
}

// Delete removes the record.
func (d *Driver) Delete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, g := d.timer.Start(ctx, "inmemory.delete")
	defer func() { g.Fail(err); g.Stop() }()

	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[id]; !ok {
		return memory.NotFoundError{ID: id}
	}
	delete(d.records, id)

	return nil
}

// ListPaginated returns records newest first.
func (d *Driver) ListPaginated(ctx context.Context, limit, offset int) (page *memory.Page, err error) {
	ctx, g := d.timer.Start(ctx, "inmemory.list")
	defer func() { g.Fail(err); g.Stop() }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offset = max(offset, 0)

	d.mu.RLock()
	defer d.mu.RUnlock()

	page = &memory.Page{Records: []*memory.Record{}, Total: len(d.records)}
	if limit < 1 || offset >= len(d.records) {
		return page, nil
	}

	all := make([]*entry, 0, len(d.records))
	for _, e := range d.records {
		all = append(all, e)
	}
	slices.SortFunc(all, func(a, b *entry) int {
		if c := b.rec.CreatedAt.Compare(a.rec.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})

	end := min(offset+limit, len(all))
	for _, e := range all[offset:end] {
		page.Records = append(page.Records, e.rec.Clone())
	}

	return page, nil
}

// Len returns the number of stored records.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.records)
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}
