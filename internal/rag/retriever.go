package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/plantai-go/internal/logging"
)

// DefaultTopK is the number of hits returned per query.
const DefaultTopK = 8

// Retriever runs a fixed-k nearest-neighbour search. It performs no
// reranking or filtering.
type Retriever struct {
	// embedder converts question text to a query vector.
	embedder Embedder

	// store performs the similarity search.
	store Store

	// k is the number of hits requested from the store.
	k int
}

// NewRetriever returns a Retriever. k <= 0 selects [DefaultTopK].
func NewRetriever(embedder Embedder, store Store, k int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if k <= 0 {
		k = DefaultTopK
	}
	return &Retriever{embedder: embedder, store: store, k: k}, nil
}

// K returns the configured number of hits.
func (r *Retriever) K() int { return r.k }

// Search returns the k nearest records to vec.
func (r *Retriever) Search(ctx context.Context, vec []float32) ([]Hit, error) {
	hits, err := r.store.Search(ctx, vec, r.k)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return hits, nil
}

// Retrieve embeds question and returns its k nearest records.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]Hit, error) {
	vecs, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("rag: embedder returned %d vectors for one query", len(vecs))
	}

	hits, err := r.Search(ctx, vecs[0])
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug("rag: retrieved context",
		slog.Int("hits", len(hits)),
		slog.Int("k", r.k),
	)
	return hits, nil
}
