package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/plantai-go/internal/rag"
)

// Batched splits large Embed calls into sequential requests of at most size
// texts and concatenates the results in order.
type Batched struct {
	rag.Embedder
	size int
}

// NewBatched wraps inner. size <= 0 returns inner unchanged.
func NewBatched(inner rag.Embedder, size int) rag.Embedder {
	if size <= 0 {
		return inner
	}
	return &Batched{Embedder: inner, size: size}
}

// Embed forwards texts to the wrapped embedder in batches.
func (b *Batched) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))
		vecs, err := b.Embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Unwrap returns the wrapped embedder.
func (b *Batched) Unwrap() rag.Embedder { return b.Embedder }
