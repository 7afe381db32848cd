// Package sqlite provides a SQLite-backed memory.Driver using sqlite-vec for
// similarity search.
//
// Records live in a plain "memories" table; their embeddings are mirrored
// into a vec0 virtual table configured for cosine distance, joined back on
// rowid. The database is used through a single connection so that ":memory:"
// databases behave like files and every operation sees a serial history.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // register the "sqlite3" driver

	"github.com/papercomputeco/twin/pkg/logger"
	"github.com/papercomputeco/twin/pkg/memory"
	"github.com/papercomputeco/twin/pkg/timing"
)

// Config holds configuration for the SQLite store.
type Config struct {
	// Path is the database file, or ":memory:" for a private in-memory
	// database.
	Path string

	// Dimension is the embedding length. It is fixed into the vec0 table at
	// creation.
	Dimension int

	// Timer measures each operation. Nil disables timing.
	Timer *timing.Timer
}

// Store implements memory.Driver on SQLite.
type Store struct {
	db        *sqlx.DB
	validator memory.Validator
	timer     *timing.Timer
	logger    *slog.Logger
}

const (
	columns       = `id, kind, content, embedding, metadata, created_at, last_accessed`
	memoryColumns = `m.id, m.kind, m.content, m.embedding, m.metadata, m.created_at, m.last_accessed`
)

type memoryRow struct {
	ID           string      `db:"id"`
	Kind         memory.Kind `db:"kind"`
	Content      string      `db:"content"`
	Embedding    []byte      `db:"embedding"`
	Metadata     string      `db:"metadata"`
	CreatedAt    int64       `db:"created_at"`
	LastAccessed int64       `db:"last_accessed"`
}

// NewStore opens the database, verifies sqlite-vec is loaded and creates the
// schema if it does not exist.
func NewStore(ctx context.Context, cfg Config, log *slog.Logger) (*Store, error) {
	// enable sqlite-vec on every new connection
	sqlite_vec.Auto()

	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	validator := memory.NewValidator(cfg.Dimension)

	db, err := sqlx.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	var vecVersion string
	if err := db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	if err := migrate(ctx, db, validator.Dimension); err != nil {
		db.Close()
		return nil, err
	}

	log = logger.OrNop(log).With("store", "sqlite")
	log.Info("sqlite memory store initialized",
		"path", cfg.Path,
		"dimension", validator.Dimension,
		"vec_version", vecVersion,
	)

	return &Store{
		db:        db,
		validator: validator,
		timer:     cfg.Timer,
		logger:    log,
	}, nil
}

func migrate(ctx context.Context, db *sqlx.DB, dimension int) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding BLOB NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS memories_created_at_idx ON memories (created_at DESC)`,
		fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS memory_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
			dimension,
		),
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	existing, err := embeddingDimension(ctx, db)
	if err != nil {
		return memory.WrapBackend("migrate", err)
	}
	if existing != dimension {
		return memory.WrapBackend("migrate", fmt.Errorf(
			"memory_embeddings.embedding has dimension %d but %d is configured", existing, dimension,
		))
	}
	return nil
}

var vecColumn = regexp.MustCompile(`embedding\s+float\[(\d+)\]`)

// embeddingDimension reads the dimension the vec0 table was declared with.
// CREATE ... IF NOT EXISTS leaves an existing table untouched, so this is
// what the database actually holds.
func embeddingDimension(ctx context.Context, db *sqlx.DB) (int, error) {
	var ddl string
	err := db.GetContext(ctx, &ddl,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'memory_embeddings'`,
	)
	if err != nil {
		return 0, fmt.Errorf("reading memory_embeddings schema: %w", err)
	}

	m := vecColumn.FindStringSubmatch(ddl)
	if m == nil {
		return 0, fmt.Errorf("memory_embeddings schema has no float embedding column: %q", ddl)
	}
	return strconv.Atoi(m[1])
}

// Store validates rec and inserts it.
func (s *Store) Store(ctx context.Context, rec *memory.Record) (id uuid.UUID, err error) {
	ctx, g := s.timer.Start(ctx, "sqlite.store")
	defer func() { g.Fail(err); g.Stop() }()

	content, err := s.validator.Record(rec)
	if err != nil {
		return uuid.Nil, err
	}

	blob, err := sqlite_vec.SerializeFloat32(rec.Embedding)
	if err != nil {
		return uuid.Nil, memory.WrapBackend("store", err)
	}
	metadata, err := memory.EncodeMetadata(rec.Metadata)
	if err != nil {
		return uuid.Nil, err
	}

	id = uuid.New()
	now := memory.Now()
	created := memory.CreationTime(rec.CreatedAt, now)

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO memories (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id.String(), rec.Kind, content, blob, metadata, created.UnixMicro(), now.UnixMicro(),
		)
		if err != nil {
			return err
		}

		seq, err := res.LastInsertId()
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO memory_embeddings (rowid, embedding) VALUES (?, ?)`,
			seq, blob,
		)
		return err
	})
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
	ctx, g := s.timer.Start(ctx, "sqlite.retrieve")
	defer func() { g.Fail(err); g.Stop() }()

	var row memoryRow
	err = s.db.QueryRowxContext(ctx,
		`UPDATE memories SET last_accessed = ? WHERE id = ? RETURNING `+columns,
		memory.Now().UnixMicro(), id.String(),
	).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, memory.WrapBackend("retrieve", err)
	}

	return row.record()
}

// Search runs a k-nearest-neighbour query against the vec0 index.
func (s *Store) Search(ctx context.Context, query []float32, limit int) (recs []*memory.Record, err error) {
	ctx, g := s.timer.Start(ctx, "sqlite.search")
	defer func() { g.Fail(err); g.Stop() }()

	if err := s.validator.Embedding(query); err != nil {
		return nil, err
	}
	if limit < 1 {
		return []*memory.Record{}, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, memory.WrapBackend("search", err)
	}

	var rows []memoryRow
	err = s.db.SelectContext(ctx, &rows, `
		SELECT `+memoryColumns+`
		FROM (
			SELECT rowid, distance
			FROM memory_embeddings
			WHERE embedding MATCH ? AND k = ?
		) AS knn
		INNER JOIN memories AS m ON m.seq = knn.rowid
		ORDER BY knn.distance, m.seq
	`, blob, limit)
	if err != nil {
		return nil, memory.WrapBackend("search", err)
	}

	return records(rows)
}

// Update replaces content and embedding, keeping the vec0 index in step.
func (s *Store) Update(ctx context.Context, id uuid.UUID, content string, embedding []float32) (err error) {
	ctx, g := s.timer.Start(ctx, "sqlite.update")
	defer func() { g.Fail(err); g.Stop() }()

	if err := s.validator.Embedding(embedding); err != nil {
		return err
	}
	sanitized, err := memory.SanitizeContent(content)
	if err != nil {
		return err
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return memory.WrapBackend("update", err)
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		var seq int64
		err := tx.QueryRowxContext(ctx,
			`UPDATE memories SET content = ?, embedding = ?, last_accessed = ? WHERE id = ? RETURNING seq`,
			sanitized, blob, memory.Now().UnixMicro(), id.String(),
		).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return memory.NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}

		// vec0 rows are replaced rather than updated in place
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE rowid = ?`, seq); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO memory_embeddings (rowid, embedding) VALUES (?, ?)`, seq, blob)
		return err
	})

	return memory.WrapBackend("update", err)
}

// Delete removes the record and its index entry.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) (err error) {
	ctx, g := s.timer.Start(ctx, "sqlite.delete")
	defer func() { g.Fail(err); g.Stop() }()

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		var seq int64
		err := tx.QueryRowxContext(ctx, `DELETE FROM memories WHERE id = ? RETURNING seq`, id.String()).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return memory.NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `DELETE FROM memory_embeddings WHERE rowid = ?`, seq)
		return err
	})

	return memory.WrapBackend("delete", err)
}

// ListPaginated reads the page and the total inside one transaction.
func (s *Store) ListPaginated(ctx context.Context, limit, offset int) (page *memory.Page, err error) {
	ctx, g := s.timer.Start(ctx, "sqlite.list")
	defer func() { g.Fail(err); g.Stop() }()

	offset = max(offset, 0)
	page = &memory.Page{Records: []*memory.Record{}}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &page.Total, `SELECT count(*) FROM memories`); err != nil {
			return err
		}
		if limit < 1 {
			return nil
		}

		var rows []memoryRow
		if err := tx.SelectContext(ctx, &rows, `
			SELECT `+memoryColumns+`
			FROM memories AS m
			ORDER BY m.created_at DESC, m.seq DESC
			LIMIT ? OFFSET ?
		`, limit, offset); err != nil {
			return err
		}

		recs, err := records(rows)
		if err != nil {
			return err
		}
		page.Records = recs
		return nil
	})
	if err != nil {
		return nil, memory.WrapBackend("list", err)
	}

	return page, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (r memoryRow) record() (*memory.Record, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, memory.WrapBackend("decode", fmt.Errorf("parsing id %q: %w", r.ID, err))
	}

	embedding, err := deserializeFloat32(r.Embedding)
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
		ID:           id,
		Kind:         r.Kind,
		Content:      r.Content,
		Embedding:    embedding,
		Metadata:     metadata,
		CreatedAt:    fromMicros(r.CreatedAt),
		LastAccessed: fromMicros(r.LastAccessed),
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

// deserializeFloat32 converts a little-endian byte slice back to a float32 slice.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
