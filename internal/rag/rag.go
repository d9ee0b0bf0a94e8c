// Package rag holds the data model shared by ingestion and question
// answering, the contracts for embedding backends and document stores, and
// the retrieval and answering steps of the query path.
package rag

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// dimension a store was initialised with.
var ErrDimensionMismatch = errors.New("rag: embedding dimension mismatch")

// Record is one stored chunk. ID is assigned by the store on insert.
type Record struct {
	// ID is the store-assigned, monotonically increasing identifier.
	ID int64 `json:"id"`
	// SourceLabel names the ingestion channel: local, upload, sharepoint.
	SourceLabel string `json:"source"`
	// URI identifies the originating file.
	URI string `json:"uri"`
	// Page is the 1-indexed page of the originating file.
	Page int `json:"page"`
	// ChunkID is "{filename}#p{page}#c{index}". Not unique across ingestions.
	ChunkID string `json:"chunk_id"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Embedding is the chunk vector. Never serialised.
	Embedding []float32 `json:"-"`
}

// Hit is a search result.
type Hit struct {
	Record
	// Score is 1 - cosine distance; higher is more similar.
	Score float64 `json:"score"`
}

// Embedder maps texts to vectors. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the vector length produced by Embed.
	Dimensions(ctx context.Context) (int, error)
}

// Store persists records and answers nearest-neighbour queries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Init prepares the schema for vectors of length dim. It is idempotent.
	// When existing storage was created with a different dimension the
	// existing dimension wins and a warning is logged.
	Init(ctx context.Context, dim int) error
	// Dimension reports the vector length enforced on insert and search.
	Dimension() int
	// Begin opens a unit of work. Inserted records become visible to Search
	// only after Commit.
	Begin(ctx context.Context) (Writer, error)
	// Search returns at most k hits ordered by cosine distance ascending,
	// ties broken by ID ascending.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Name identifies the backend in logs and readiness output.
	Name() string
	// Close releases backend resources.
	Close() error
}

// Writer is a unit of work opened by [Store.Begin]. It is not safe for
// concurrent use.
type Writer interface {
	// Insert stages records. Every embedding must have the store's dimension.
	Insert(ctx context.Context, recs []Record) error
	// Commit makes staged records durable and visible.
	Commit() error
	// Rollback discards staged records. It is a no-op after Commit.
	Rollback() error
}

// CheckDimension returns ErrDimensionMismatch when len(vec) != dim.
func CheckDimension(vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dim)
	}
	return nil
}
