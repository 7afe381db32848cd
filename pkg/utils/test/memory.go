package testutils

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/memory/inmemory"
)

// Operation names accepted by MockMemoryDriver.Fail and CallCount.
const (
	OpStore    = "store"
	OpRetrieve = "retrieve"
	OpSearch   = "search"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
)

// MockMemoryDriver is a test memory driver that forwards to an in-memory
// driver, counts calls per operation and can be told to fail.
type MockMemoryDriver struct {
	inner memory.Driver

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error
	closed   bool
}

// NewMockMemoryDriver creates a mock backed by an in-memory driver of the
// given dimension.
func NewMockMemoryDriver(dimension int) *MockMemoryDriver {
	return &MockMemoryDriver{
		inner:    inmemory.NewDriver(inmemory.Config{Dimension: dimension}),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// Fail makes op return err until cleared with a nil err.
func (m *MockMemoryDriver) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// CallCount returns how many times op was called.
func (m *MockMemoryDriver) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Closed reports whether Close was called.
func (m *MockMemoryDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockMemoryDriver) enter(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.failures[op]
}

func (m *MockMemoryDriver) Store(ctx context.Context, rec *memory.Record) (uuid.UUID, error) {
	if err := m.enter(OpStore); err != nil {
		return uuid.Nil, err
	}
	return m.inner.Store(ctx, rec)
}

func (m *MockMemoryDriver) Retrieve(ctx context.Context, id uuid.UUID) (*memory.Record, error) {
	if err := m.enter(OpRetrieve); err != nil {
		return nil, err
	}
	return m.inner.Retrieve(ctx, id)
}

func (m *MockMemoryDriver) Search(ctx context.Context, query []float32, limit int) ([]*memory.Record, error) {
	if err := m.enter(OpSearch); err != nil {
		return nil, err
	}
	return m.inner.Search(ctx, query, limit)
}

func (m *MockMemoryDriver) Update(ctx context.Context, id uuid.UUID, content string, embedding []float32) error {
	if err := m.enter(OpUpdate); err != nil {
		return err
	}
	return m.inner.Update(ctx, id, content, embedding)
}

func (m *MockMemoryDriver) Delete(ctx context.Context, id uuid.UUID) error {
	if err := m.enter(OpDelete); err != nil {
		return err
	}
	return m.inner.Delete(ctx, id)
}

func (m *MockMemoryDriver) ListPaginated(ctx context.Context, limit, offset int) (*memory.Page, error) {
	if err := m.enter(OpList); err != nil {
		return nil, err
	}
	return m.inner.ListPaginated(ctx, limit, offset)
}

func (m *MockMemoryDriver) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.inner.Close()
}
