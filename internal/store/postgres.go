package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/lib/pq" // registers the "postgres" driver
	"github.com/pgvector/pgvector-go"

	"github.com/54b3r/plantai-go/internal/logging"
	"github.com/54b3r/plantai-go/internal/rag"
)

// ANN index kinds for the embedding column.
const (
	IndexIVFFlat = "ivfflat"
	IndexHNSW    = "hnsw"
)

// maxIndexDims is the largest vector pgvector can index with ivfflat or hnsw.
const maxIndexDims = 2000

// insertBatch caps rows per INSERT statement, keeping well under the
// 65535 bind parameter limit.
const insertBatch = 500

const existingDimQuery = `SELECT a.atttypmod FROM pg_attribute a
WHERE a.attrelid = to_regclass('documents') AND a.attname = 'embedding' AND NOT a.attisdropped`

const searchQuery = `SELECT id, source, uri, page, chunk_id, content, 1 - (embedding <=> $1) AS score
FROM documents
ORDER BY embedding <=> $1, id
LIMIT $2`

// Postgres stores records in a pgvector-enabled "documents" table.
type Postgres struct {
	db    *sql.DB
	index string

	mu  sync.RWMutex
	dim int
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn, index string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	s, err := NewPostgres(db, index)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sql.DB, index string) (*Postgres, error) {
	switch index {
	case "":
		index = IndexIVFFlat
	case IndexIVFFlat, IndexHNSW:
	default:
		return nil, fmt.Errorf("store: unknown pgvector index %q (want ivfflat or hnsw)", index)
	}
	return &Postgres{db: db, index: index}, nil
}

// Init creates the extension, table and indexes. Concurrent callers are
// serialised with an advisory lock.
func (s *Postgres) Init(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("store: invalid dimension %d", dim)
	}
	log := logging.FromContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: init: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('plantai_documents'))`); err != nil {
		return fmt.Errorf("store: init lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("store: create extension: %w", err)
	}

	var existing int
	err = tx.QueryRowContext(ctx, existingDimQuery).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
	id SERIAL PRIMARY KEY,
	source VARCHAR(512),
	uri VARCHAR(1024),
	page INT,
	chunk_id VARCHAR(128),
	content TEXT,
	embedding vector(%d) NOT NULL
)`, dim)
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("store: create table: %w", err)
		}
		existing = dim
	case err != nil:
		return fmt.Errorf("store: read embedding dimension: %w", err)
	case existing != dim:
		log.Warn("store: existing table has a different embedding dimension; keeping it",
			slog.String("backend", s.Name()),
			slog.Int("table_dim", existing),
			slog.Int("embedder_dim", dim),
		)
	}

	if _, err := tx.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_documents_source ON documents (source)`); err != nil {
		return fmt.Errorf("store: create source index: %w", err)
	}

	if existing <= maxIndexDims {
		if _, err := tx.ExecContext(ctx, s.indexDDL()); err != nil {
			return fmt.Errorf("store: create %s index: %w", s.index, err)
		}
	} else {
		log.Warn("store: dimension too large for an ANN index; searches will scan the table",
			slog.Int("dim", existing),
			slog.Int("max_indexed", maxIndexDims),
		)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: init commit: %w", err)
	}

	s.mu.Lock()
	s.dim = existing
	s.mu.Unlock()

	log.Info("store: initialised",
		slog.String("backend", s.Name()),
		slog.Int("dim", existing),
		slog.String("index", s.index),
	)
	return nil
}

func (s *Postgres) indexDDL() string {
	if s.index == IndexHNSW {
		return `CREATE INDEX IF NOT EXISTS idx_documents_embedding ON documents USING hnsw (embedding vector_cosine_ops)`
	}
	return `CREATE INDEX IF NOT EXISTS idx_documents_embedding ON documents USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`
}

// Dimension returns the vector length fixed by Init.
func (s *Postgres) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Begin opens a database transaction.
func (s *Postgres) Begin(ctx context.Context) (rag.Writer, error) {
	dim := s.Dimension()
	if dim == 0 {
		return nil, errors.New("store: postgres not initialised")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	return &pgWriter{tx: tx, dim: dim}, nil
}

// Search ranks by pgvector's cosine distance operator.
func (s *Postgres) Search(ctx context.Context, query []float32, k int) ([]rag.Hit, error) {
	if err := rag.CheckDimension(query, s.Dimension()); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, searchQuery, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	hits := make([]rag.Hit, 0, k)
	for rows.Next() {
		var (
			h                    rag.Hit
			source, uri, chunkID sql.NullString
			page                 sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &source, &uri, &page, &chunkID, &h.Content, &h.Score); err != nil {
			return nil, fmt.Errorf("store: scan hit: %w", err)
		}
		h.SourceLabel = source.String
		h.URI = uri.String
		h.Page = int(page.Int64)
		h.ChunkID = chunkID.String
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return hits, nil
}

// Ping checks the connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name returns "postgres".
func (s *Postgres) Name() string { return BackendPostgres }

// Close closes the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

type pgWriter struct {
	tx  *sql.Tx
	dim int
}

func (w *pgWriter) Insert(ctx context.Context, recs []rag.Record) error {
	for _, r := range recs {
		if err := rag.CheckDimension(r.Embedding, w.dim); err != nil {
			return fmt.Errorf("store: insert %s: %w", r.ChunkID, err)
		}
	}
	for start := 0; start < len(recs); start += insertBatch {
		batch := recs[start:min(start+insertBatch, len(recs))]
		if err := w.insert(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (w *pgWriter) insert(ctx context.Context, recs []rag.Record) error {
	var b strings.Builder
	b.WriteString(`INSERT INTO documents (source, uri, page, chunk_id, content, embedding) VALUES `)
	args := make([]any, 0, 6*len(recs))
	for i, r := range recs {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, r.SourceLabel, r.URI, r.Page, r.ChunkID, r.Content, pgvector.NewVector(r.Embedding))
	}
	if _, err := w.tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	return nil
}

func (w *pgWriter) Commit() error {
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (w *pgWriter) Rollback() error {
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("store: rollback: %w", err)
	}
	return nil
}
