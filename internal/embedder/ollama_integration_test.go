//go:build integration

package embedder

import (
	"context"
	"math"
	"os"
	"testing"
	"time"
)

// Needs a local Ollama with the embedding model pulled:
//
//	ollama pull all-minilm
//	go test -tags=integration -run Integration ./internal/embedder/
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := orDefault(os.Getenv("OLLAMA_HOST"), "http://localhost:11434")
	model := orDefault(os.Getenv("OLLAMA_EMBED_MODEL"), "all-minilm")

	e := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})
	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	if err := e.Ping(ctx); err != nil {
		t.Skipf("no ollama at %s: %v", host, err)
	}

	docs := []string{
		"Close isolation valve V-7 before opening the pump casing.",
		"The cafeteria menu changes every Monday.",
	}
	vecs, err := e.Embed(ctx, append([]string{"how do I isolate the pump before maintenance"}, docs...))
	if err != nil {
		t.Fatalf("Embed: %v (has %q been pulled?)", err, model)
	}

	dim, err := e.Dimensions(ctx)
	if err != nil {
		t.Fatalf("Dimensions: %v", err)
	}
	for i, v := range vecs {
		if len(v) != dim {
			t.Fatalf("vector %d has %d dims, probe said %d", i, len(v), dim)
		}
	}

	related, unrelated := cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2])
	if related <= unrelated {
		t.Errorf("maintenance text scored %.3f, cafeteria text %.3f", related, unrelated)
	}
	t.Logf("model=%s dim=%d related=%.3f unrelated=%.3f", model, dim, related, unrelated)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
