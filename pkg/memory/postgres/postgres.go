// Package postgres provides a PostgreSQL-backed memory.Driver using the
// pgvector extension for similarity search.
//
// Every operation acquires one pooled connection and releases it before
// returning, so cancellation of the caller's context frees the connection
// promptly.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/papercomputeco/twin/pkg/logger"
	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/timing"
)

// Source hands out pooled connections. *pool.Pools and *pool.SQLPool both
// satisfy it.
type Source interface {
	GetSQL(ctx context.Context) (*sqlx.Conn, error)
}

// Config holds configuration for the PostgreSQL store.
type Config struct {
	// Dimension is the embedding length of the vector column.
	Dimension int

	// Timer measures each operation. Nil disables timing.
	Timer *timing.Timer
}

// Store implements memory.Driver on PostgreSQL.
type Store struct {
	source    Source
	validator memory.Validator
	timer     *timing.Timer
	logger    *slog.Logger
}

const returning = `id, kind, content, embedding::text AS embedding, metadata::text AS metadata, created_at, last_accessed`

type memoryRow struct {
	ID           uuid.UUID   `db:"id"`
	Kind         memory.Kind `db:"kind"`
	Content      string      `db:"content"`
	Embedding    string      `db:"embedding"`
	Metadata     string      `db:"metadata"`
	CreatedAt    time.Time   `db:"created_at"`
	LastAccessed time.Time   `db:"last_accessed"`
}

// NewStore creates a store and bootstraps its schema.
func NewStore(ctx context.Context, source Source, cfg Config, log *slog.Logger) (*Store, error) {
	s := &Store{
		source:    source,
		validator: memory.NewValidator(cfg.Dimension),
		timer:     cfg.Timer,
		logger:    logger.OrNop(log).With("store", "postgres"),
	}

	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("postgres memory store initialized", "dimension", s.validator.Dimension)
	return s, nil
}

// Migrate creates the extension, table and indexes if they do not exist and
// checks that an existing table matches the configured dimension.
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.source.GetSQL(ctx)
	if err != nil {
		return memory.WrapBackend("migrate", err)
	}
	defer conn.Close()

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id uuid PRIMARY KEY,
			kind text NOT NULL,
			content text NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
			created_at timestamptz NOT NULL,
			last_accessed timestamptz NOT NULL
		)`, s.validator.Dimension),
		`CREATE INDEX IF NOT EXISTS memories_embedding_idx ON memories USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS memories_created_at_idx ON memories (created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return memory.WrapBackend("migrate", err)
		}
	}

	// vector columns record their dimension as the type modifier
	var dimension int
	err = conn.GetContext(ctx, &dimension, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'memories'::regclass AND attname = 'embedding'
	`)
	if err != nil {
		return memory.WrapBackend("migrate", err)
	}
	if dimension != s.validator.Dimension {
		return memory.WrapBackend("migrate", fmt.Errorf(
			"memories.embedding has dimension %d but %d is configured", dimension, s.validator.Dimension,
		))
	}

	return nil
}

// Store validates rec and inserts it.
func (s *Store) Store(ctx context.Context, rec *memory.Record) (id uuid.UUID, err error) {
	ctx, g := s.timer.Start(ctx, "postgres.store")
	defer func() { g.Fail(err); g.Stop() }()

	content, err := s.validator.Record(rec)
	if err != nil {
		return uuid.Nil, err
	}
	metadata, err := memory.EncodeMetadata(rec.Metadata)
	if err != nil {
		return uuid.Nil, err
	}

	conn, err := s.source.GetSQL(ctx)
	if err != nil {
		return uuid.Nil, memory.WrapBackend("store", err)
	}
	defer conn.Close()

	id = uuid.New()
	now := memory.Now()
	created := memory.CreationTime(rec.CreatedAt, now)

	_, err = conn.ExecContext(ctx, `
		INSERT INTO memories (id, kind, content, embedding, metadata, created_at, last_accessed)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
	`, id, rec.Kind, content, pgvector.NewVector(rec.Embedding), metadata, created, now)
	if err != nil {
		return uuid.Nil, memory.WrapBackend("store", err)
	}

	rec.ID = id
	rec.Content = content
	rec.CreatedAt = created
	rec.LastAccessed = now

	return id, nil
}

// Retrieve bumps last_accessed and returns the updated row in one statement.
func (s *Store) Retrieve(ctx context.Context, id uuid.UUID) (rec *memory.Record, err error) {
	ctx, g := s.timer.Start(ctx, "postgres.retrieve")
	defer func() { g.Fail(err); g.Stop() }()

	conn, err := s.source.GetSQL(ctx)
	if err != nil {
		return nil, memory.WrapBackend("retrieve", err)
	}
	defer conn.Close()

	var row memoryRow
	err = conn.QueryRowxContext(ctx,
		`UPDATE memories SET last_accessed = $1 WHERE id = $2 RETURNING `+returning,
		memory.Now(), id,
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, memory.WrapBackend("retrieve", err)
	}

	return row.record()
}

// Search orders by cosine distance using the hnsw index.
func (s *Store) Search(ctx context.Context, query []float32, limit int) (recs []*memory.Record, err error) {
	ctx, g := s.timer.Start(ctx, "postgres.search")
	defer func() { g.Fail(err); g.Stop() }()

	if err := s.validator.Embedding(query); err != nil {
		return nil, err
	}
	if limit < 1 {
		return []*memory.Record{}, nil
	}

	conn, err := s.source.GetSQL(ctx)
	if err != nil {
		return nil, memory.WrapBackend("search", err)
	}
	defer conn.Close()

	var rows []memoryRow
	err = conn.SelectContext(ctx, &rows,
		`SELECT `+returning+` FROM memories ORDER BY embedding <=> $1 LIMIT $2`,
		pgvector.NewVector(query), limit,
	)
	if err != nil {
		return nil, memory.WrapBackend("search", err)
	}

	return records(rows)
}

// Update replaces content and embedding and bumps last_accessed.
func (s *Store) Update(ctx context.Context, id uuid.UUID, content string, embedding []float32) (err error) {
	ctx, g := s.timer.Start(ctx, "postgres.update")
	defer func() { g.Fail(err); g.Stop() }()

	if err := s.validator.Embedding(embedding); err != nil {
		return err
	}
	sanitized, err := memory.SanitizeContent(content)
	if err != nil {
		return err
	}

	conn, err := s.source.GetSQL(ctx)
	if err != nil {
		return memory.WrapBackend("update", err)
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx,
		`UPDATE memories SET content = $1, embedding = $2, last_accessed = $3 WHERE id = $4`,
		sanitized, pgvector.NewVector(embedding), memory.Now(), id,
	)
	if err != nil {
		return memory.WrapBackend("update", err)
	}

	return expectOne(res, id, "update")
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, g := s.timer.Start(ctx, "postgres.delete")
	defer func() { g.Fail(err); g.Stop() }()

	conn, err := s.source.GetSQL(ctx)
	if err != nil {
		return memory.WrapBackend("delete", err)
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return memory.WrapBackend("delete", err)
	}

	return expectOne(res, id, "delete")
}

// ListPaginated reads the page and the total from one read-only snapshot.
func (s *Store) ListPaginated(ctx context.Context, limit, offset int) (page *memory.Page, err error) {
	ctx, g := s.timer.Start(ctx, "postgres.list")
	defer func() { g.Fail(err); g.Stop() }()

	offset = max(offset, 0)

	conn, err := s.source.GetSQL(ctx)
	if err != nil {
		return nil, memory.WrapBackend("list", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, memory.WrapBackend("list", err)
	}
	defer tx.Rollback()

	page = &memory.Page{Records: []*memory.Record{}}
	if err := tx.GetContext(ctx, &page.Total, `SELECT count(*) FROM memories`); err != nil {
		return nil, memory.WrapBackend("list", err)
	}

	if limit >= 1 {
		var rows []memoryRow
		err := tx.SelectContext(ctx, &rows,
			`SELECT `+returning+` FROM memories ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
			limit, offset,
		)
		if err != nil {
			return nil, memory.WrapBackend("list", err)
		}
		if page.Records, err = records(rows); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, memory.WrapBackend("list", err)
	}

	return page, nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error {
	return nil
}

func expectOne(res sql.Result, id uuid.UUID, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return memory.WrapBackend(op, err)
	}
	if n == 0 {
		return memory.NotFoundError{ID: id}
	}
	return nil
}

func (r memoryRow) record() (*memory.Record, error) {
	embedding, err := memory.ParseVector(r.Embedding)
	if err != nil {
		return nil, memory.WrapBackend("decode", err)
	}

	metadata := map[string]any{}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &metadata); err != nil {
			return nil, memory.WrapBackend("decode", fmt.Errorf("parsing metadata: %w", err))
		}
	}

	return &memory.Record{
		ID:           r.ID,
		Kind:         r.Kind,
		Content:      r.Content,
		Embedding:    embedding,
		Metadata:     metadata,
		CreatedAt:    memory.NormalizeTime(r.CreatedAt),
		LastAccessed: memory.NormalizeTime(r.LastAccessed),
	}, nil
}

func records(rows []memoryRow) ([]*memory.Record, error) {
	out := make([]*memory.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
