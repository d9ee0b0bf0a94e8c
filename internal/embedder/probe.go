package embedder

import (
	"context"
	"fmt"
	"sync"
)

// probeText is embedded once to discover a model's output size.
const probeText = "dimension probe"

// probe discovers and caches the vector length of an embedding function.
// Failed probes are not cached so a later call can retry.
type probe struct {
	embed func(context.Context, []string) ([][]float32, error)

	mu  sync.Mutex
	dim int
}

func (p *probe) dimensions(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dim > 0 {
		return p.dim, nil
	}
	vecs, err := p.embed(ctx, []string{probeText})
	if err != nil {
		return 0, fmt.Errorf("embedder: dimension probe failed: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("embedder: dimension probe returned no vector")
	}
	p.dim = len(vecs[0])
	return p.dim, nil
}
