package store

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/54b3r/plantai-go/internal/rag"
)

// Memory keeps records in a chromem-go collection inside the process.
// Contents are lost on exit.
type Memory struct {
	db *chromem.DB

	mu     sync.Mutex
	col    *chromem.Collection
	dim    int
	lastID int64
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{db: chromem.NewDB()}
}

// Init creates the collection. A second call keeps the first dimension.
func (s *Memory) Init(_ context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("store: invalid dimension %d", dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col != nil {
		return nil
	}
	col, err := s.db.GetOrCreateCollection("documents", nil, nil)
	if err != nil {
		return fmt.Errorf("store: create collection: %w", err)
	}
	s.col = col
	s.dim = dim
	return nil
}

// Dimension returns the vector length fixed by Init.
func (s *Memory) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

func (s *Memory) collection() *chromem.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col
}

func (s *Memory) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	return s.lastID
}

// Begin returns a writer that buffers documents until Commit.
func (s *Memory) Begin(ctx context.Context) (rag.Writer, error) {
	if s.collection() == nil {
		return nil, errors.New("store: memory store not initialised")
	}
	return &memoryWriter{ctx: ctx, store: s, dim: s.Dimension()}, nil
}

// Search ranks every document so ties resolve by ID.
func (s *Memory) Search(ctx context.Context, query []float32, k int) ([]rag.Hit, error) {
	if err := rag.CheckDimension(query, s.Dimension()); err != nil {
		return nil, err
	}
	col := s.collection()
	n := col.Count()
	if k <= 0 || n == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}

	hits := make([]rag.Hit, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("store: corrupt document id %q: %w", r.ID, err)
		}
		page, _ := strconv.Atoi(r.Metadata["page"])
		hits = append(hits, rag.Hit{
			Record: rag.Record{
				ID:          id,
				SourceLabel: r.Metadata["source"],
				URI:         r.Metadata["uri"],
				Page:        page,
				ChunkID:     r.Metadata["chunk_id"],
				Content:     r.Content,
			},
			Score: float64(r.Similarity),
		})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Ping always succeeds once Init has run.
func (s *Memory) Ping(context.Context) error {
	if s.collection() == nil {
		return errors.New("store: memory store not initialised")
	}
	return nil
}

// Name returns "memory".
func (s *Memory) Name() string { return BackendMemory }

// Close is a no-op.
func (s *Memory) Close() error { return nil }

type memoryWriter struct {
	ctx   context.Context
	store *Memory
	dim   int
	docs  []chromem.Document
}

func (w *memoryWriter) Insert(_ context.Context, recs []rag.Record) error {
	for _, r := range recs {
		if err := rag.CheckDimension(r.Embedding, w.dim); err != nil {
			return fmt.Errorf("store: insert %s: %w", r.ChunkID, err)
		}
	}
	for _, r := range recs {
		w.docs = append(w.docs, chromem.Document{
			Content:   r.Content,
			Embedding: append([]float32(nil), r.Embedding...),
			Metadata: map[string]string{
				"source":   r.SourceLabel,
				"uri":      r.URI,
				"page":     strconv.Itoa(r.Page),
				"chunk_id": r.ChunkID,
			},
		})
	}
	return nil
}

func (w *memoryWriter) Commit() error {
	if len(w.docs) == 0 {
		return nil
	}
	for i := range w.docs {
		w.docs[i].ID = strconv.FormatInt(w.store.nextID(), 10)
	}
	if err := w.store.collection().AddDocuments(w.ctx, w.docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	w.docs = nil
	return nil
}

func (w *memoryWriter) Rollback() error {
	w.docs = nil
	return nil
}
