package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/plantai-go/internal/provider"
	"github.com/54b3r/plantai-go/internal/rag"
)

// knownDimensions maps hosted embedding models to their output size.
var knownDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
	"text-embedding-004":     768,
	"gemini-embedding-001":   3072,
}

// KnownDimensions returns the output size of a hosted model, or 0 when the
// model is not in the table.
func KnownDimensions(model string) int {
	return knownDimensions[strings.ToLower(strings.TrimSpace(model))]
}

// New builds the embedder for cfg.Backend.
//
// Hosted backends report a fixed dimension: EMBEDDING_DIMENSIONS when set,
// else the table entry for the model. Models missing from the table (for
// example an Azure deployment with a custom name) are probed once. The local
// Ollama backend is always probed.
func New(ctx context.Context, cfg *provider.Config) (rag.Embedder, error) {
	var e rag.Embedder

	switch cfg.Backend {
	case provider.BackendAzure:
		dims := hostedDimensions(cfg)
		e = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:           cfg.AzureOpenAI.Endpoint,
			APIKey:            cfg.AzureOpenAI.APIKey,
			Model:             cfg.AzureOpenAI.EmbedDeployment,
			Dimensions:        dims,
			RequestDimensions: cfg.EmbeddingDimensions > 0,
			Azure:             true,
			APIVersion:        cfg.AzureOpenAI.APIVersion,
		})

	case provider.BackendOpenAI:
		baseURL := cfg.OpenAI.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		e = NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:           baseURL,
			APIKey:            cfg.OpenAI.APIKey,
			Model:             cfg.OpenAI.EmbedModel,
			Dimensions:        hostedDimensions(cfg),
			RequestDimensions: cfg.EmbeddingDimensions > 0,
		})

	case provider.BackendOllama:
		e = NewOllamaEmbedder(&OllamaConfig{
			Host:  cfg.Ollama.Host,
			Model: cfg.Ollama.EmbedModel,
		})

	case provider.BackendGemini:
		client, err := provider.NewGenAIClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		e = NewGeminiEmbedder(client, cfg.Gemini.EmbedModel, cfg.EmbeddingDimensions)

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q", cfg.Backend)
	}

	return NewBatched(e, cfg.EmbeddingBatchSize), nil
}

// hostedDimensions resolves the fixed size of a hosted model: the explicit
// override first, then the table. Zero means probe.
func hostedDimensions(cfg *provider.Config) int {
	if cfg.EmbeddingDimensions > 0 {
		return cfg.EmbeddingDimensions
	}
	return KnownDimensions(cfg.EmbedModelName())
}
