package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/54b3r/plantai-go/internal/logging"
	"github.com/54b3r/plantai-go/internal/rag"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	source    TEXT    NOT NULL,
	uri       TEXT    NOT NULL,
	page      INTEGER NOT NULL,
	chunk_id  TEXT    NOT NULL,
	content   TEXT    NOT NULL,
	embedding BLOB    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source);
`

// SQLite keeps records in a single SQLite file and ranks them in Go by a
// full scan. It suits development and tests, not large corpora.
type SQLite struct {
	db *sql.DB

	mu  sync.RWMutex
	dim int
}

// OpenSQLite opens or creates the database at path. Use ":memory:" for an
// ephemeral store.
func OpenSQLite(path string) (*SQLite, error) {
	memory := path == ":memory:"
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}

	// An in-memory database exists per connection, so it must have exactly one.
	if memory {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Init records dim in store_meta on first use. An existing, different
// dimension is kept.
func (s *SQLite) Init(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("store: invalid dimension %d", dim)
	}

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'dimension'`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO store_meta (key, value) VALUES ('dimension', ?) ON CONFLICT(key) DO NOTHING`,
			strconv.Itoa(dim),
		); err != nil {
			return fmt.Errorf("store: record dimension: %w", err)
		}
		// Another process may have won the insert.
		if err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'dimension'`).Scan(&raw); err != nil {
			return fmt.Errorf("store: read dimension: %w", err)
		}
	case err != nil:
		return fmt.Errorf("store: read dimension: %w", err)
	}

	existing, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("store: corrupt dimension %q: %w", raw, err)
	}
	if existing != dim {
		logging.FromContext(ctx).Warn("store: existing database has a different embedding dimension; keeping it",
			slog.String("backend", s.Name()),
			slog.Int("table_dim", existing),
			slog.Int("embedder_dim", dim),
		)
	}

	s.mu.Lock()
	s.dim = existing
	s.mu.Unlock()
	return nil
}

// Dimension returns the vector length fixed by Init.
func (s *SQLite) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Begin opens a transaction.
func (s *SQLite) Begin(ctx context.Context) (rag.Writer, error) {
	dim := s.Dimension()
	if dim == 0 {
		return nil, errors.New("store: sqlite not initialised")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	return &sqliteWriter{tx: tx, dim: dim}, nil
}

// Search scans every row and keeps the k most similar.
func (s *SQLite) Search(ctx context.Context, query []float32, k int) ([]rag.Hit, error) {
	if err := rag.CheckDimension(query, s.Dimension()); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, uri, page, chunk_id, content, embedding FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	best := newTopK(k)
	for rows.Next() {
		var (
			h    rag.Hit
			blob []byte
		)
		if err := rows.Scan(&h.ID, &h.SourceLabel, &h.URI, &h.Page, &h.ChunkID, &h.Content, &blob); err != nil {
			return nil, fmt.Errorf("store: scan hit: %w", err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("store: row %d: %w", h.ID, err)
		}
		if len(vec) != len(query) {
			continue
		}
		h.Score = cosineSimilarity(query, vec)
		best.offer(h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return best.result(), nil
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name returns "sqlite".
func (s *SQLite) Name() string { return BackendSQLite }

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteWriter struct {
	tx  *sql.Tx
	dim int
}

func (w *sqliteWriter) Insert(ctx context.Context, recs []rag.Record) error {
	for _, r := range recs {
		if err := rag.CheckDimension(r.Embedding, w.dim); err != nil {
			return fmt.Errorf("store: insert %s: %w", r.ChunkID, err)
		}
	}
	stmt, err := w.tx.PrepareContext(ctx,
		`INSERT INTO documents (source, uri, page, chunk_id, content, embedding) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, r.SourceLabel, r.URI, r.Page, r.ChunkID, r.Content, encodeVector(r.Embedding)); err != nil {
			return fmt.Errorf("store: insert %s: %w", r.ChunkID, err)
		}
	}
	return nil
}

func (w *sqliteWriter) Commit() error {
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (w *sqliteWriter) Rollback() error {
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("store: rollback: %w", err)
	}
	return nil
}
