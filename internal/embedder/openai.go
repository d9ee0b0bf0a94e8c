// Package embedder implements rag.Embedder for the supported model
// backends. OpenAI, Azure OpenAI and Ollama are called over plain HTTP;
// Gemini goes through the genai SDK.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OpenAIEmbedder calls the OpenAI (or Azure OpenAI) embeddings REST API.
// It is safe for concurrent use.
type OpenAIEmbedder struct {
	// baseURL is the API base, e.g. "https://api.openai.com/v1" or an Azure
	// resource endpoint.
	baseURL string
	// apiKey is the Bearer token (OpenAI) or api-key header value (Azure).
	apiKey string
	// model is the embedding model (OpenAI) or deployment (Azure).
	model string
	// dimensions is the vector length; 0 means unknown until probed.
	dimensions int
	// requestDimensions asks the API to shorten vectors to dimensions.
	requestDimensions bool
	// azure selects Azure URLs and api-key auth.
	azure bool
	// apiVersion is the Azure api-version query parameter.
	apiVersion string
	// client is the shared HTTP client.
	client *http.Client
	// probe caches the size of a live embedding when dimensions is 0.
	probe probe
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. OpenAI: "https://api.openai.com/v1".
	// Azure: "https://<resource>.openai.azure.com".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model or Azure deployment name.
	Model string
	// Dimensions is the known vector length, 0 to probe on first use.
	Dimensions int
	// RequestDimensions sends Dimensions in every request so models that
	// support shortening return vectors of that length.
	RequestDimensions bool
	// Azure enables Azure OpenAI mode.
	Azure bool
	// APIVersion is the Azure OpenAI API version. Ignored when Azure is false.
	APIVersion string
	// HTTPClient overrides the default client with a 30s timeout.
	HTTPClient *http.Client
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder from cfg.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	e := &OpenAIEmbedder{
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:            cfg.APIKey,
		model:             cfg.Model,
		dimensions:        cfg.Dimensions,
		requestDimensions: cfg.RequestDimensions && cfg.Dimensions > 0,
		azure:             cfg.Azure,
		apiVersion:        cfg.APIVersion,
		client:            client,
	}
	e.probe.embed = e.Embed
	return e
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *openaiEmbedResponse) errorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// Embed returns one vector per text, ordered by the response's index field.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	in := openaiEmbedRequest{Input: texts}
	if !e.azure {
		in.Model = e.model
	}
	if e.requestDimensions {
		in.Dimensions = e.dimensions
	}
	header := http.Header{}
	if e.azure {
		header.Set("api-key", e.apiKey)
	} else {
		header.Set("Authorization", "Bearer "+e.apiKey)
	}

	var out openaiEmbedResponse
	if err := postJSON(ctx, e.client, e.endpoint(), header, in, &out); err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedder: expected %d embeddings, got %d", len(texts), len(out.Data))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range out.Data {
		switch {
		case d.Index < 0 || d.Index >= len(texts):
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d)", d.Index, len(texts))
		case vecs[d.Index] != nil:
			return nil, fmt.Errorf("openai embedder: duplicate index %d", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

// Dimensions returns the configured size or, when unknown, the size of a
// single probe embedding.
func (e *OpenAIEmbedder) Dimensions(ctx context.Context) (int, error) {
	if e.dimensions > 0 {
		return e.dimensions, nil
	}
	return e.probe.dimensions(ctx)
}

func (e *OpenAIEmbedder) endpoint() string {
	if e.azure {
		return e.baseURL + "/openai/deployments/" + url.PathEscape(e.model) +
			"/embeddings?api-version=" + url.QueryEscape(e.apiVersion)
	}
	return e.baseURL + "/embeddings"
}
