// Package memory provides the record store at the core of twin.
//
// A memory is a typed piece of content (a conversation excerpt, a learned
// fact, a skill) paired with an embedding vector so that it can be recalled
// by similarity. The [Driver] interface is the full capability set shared by
// every backend and by the cached decorator, so consumers cannot tell whether
// they hold a plain or a cached store.
//
// Drivers are pluggable via configuration:
//
//	[store]
//	provider = "postgres"   # or "sqlite", "inmemory"
package memory

import (
	"context"

	"github.com/google/uuid"
)

// Driver persists memory records and recalls them by id or by similarity.
type Driver interface {
	// Store validates and persists a new record. The record is updated in
	// place with its assigned ID, sanitized content and persisted timestamps.
	Store(ctx context.Context, rec *Record) (uuid.UUID, error)

	// Retrieve returns the record with the given id and bumps its
	// last-accessed time. A missing id yields a NotFoundError.
	Retrieve(ctx context.Context, id uuid.UUID) (*Record, error)

	// Search returns at most limit records ordered by ascending cosine
	// distance between their embedding and the query.
	Search(ctx context.Context, query []float32, limit int) ([]*Record, error)

	// Update replaces the content and embedding of an existing record.
	Update(ctx context.Context, id uuid.UUID, content string, embedding []float32) error

	// Delete removes the record with the given id.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListPaginated returns one page of records, newest first, along with
	// the total number of records in the store.
	ListPaginated(ctx context.Context, limit, offset int) (*Page, error)

	// Close releases driver resources.
	Close() error
}
