// Package provider resolves which model backend serves the process and
// builds its chat model. Resolution happens once so the embedding backend
// and the chat backend always agree.
//
// Supported backends: Azure OpenAI, OpenAI, Ollama, Google Gemini.
package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Backend enumerates the supported model providers.
type Backend string

const (
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Local reports whether the backend runs on the operator's machine.
func (b Backend) Local() bool { return b == BackendOllama }

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	// Endpoint is the resource URL, e.g. https://plant.openai.azure.com.
	Endpoint string
	// APIKey authenticates via the api-key header.
	APIKey string
	// APIVersion is the REST API version query parameter.
	APIVersion string
	// ChatDeployment is the deployment serving chat completions.
	ChatDeployment string
	// EmbedDeployment is the deployment serving embeddings.
	EmbedDeployment string
}

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	// APIKey is the bearer token.
	APIKey string
	// BaseURL overrides https://api.openai.com/v1 for compatible gateways.
	BaseURL string
	// ChatModel names the chat model.
	ChatModel string
	// EmbedModel names the embedding model.
	EmbedModel string
}

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	// Host is the Ollama API base URL.
	Host string
	// ChatModel names the chat model.
	ChatModel string
	// EmbedModel names the embedding model.
	EmbedModel string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	// APIKey is the Google AI Studio key.
	APIKey string
	// ChatModel names the chat model.
	ChatModel string
	// EmbedModel names the embedding model.
	EmbedModel string
}

// SharedTuning holds generation parameters common to all backends.
type SharedTuning struct {
	// MaxTokens caps generated tokens per answer.
	MaxTokens int
	// Temperature controls sampling randomness.
	Temperature float32
}

// Config is the resolved provider configuration.
type Config struct {
	// Backend is the selected provider.
	Backend Backend
	// Explicit is true when Backend came from MODEL_PROVIDER rather than
	// credential auto-detection.
	Explicit bool

	AzureOpenAI ProviderAzureOpenAI
	OpenAI      ProviderOpenAI
	Ollama      ProviderOllama
	Gemini      ProviderGemini
	Tuning      SharedTuning

	// EmbeddingDimensions overrides the vector size of hosted embedding
	// models. Zero uses the built-in table.
	EmbeddingDimensions int
	// EmbeddingBatchSize caps texts per embedding request. Zero sends each
	// call as one request.
	EmbeddingBatchSize int
}

// Detect picks a backend from the credentials present: Azure when both an
// endpoint and a key are set, then OpenAI when a key is set, otherwise the
// local Ollama backend.
func (c *Config) Detect() Backend {
	switch {
	case c.AzureOpenAI.Endpoint != "" && c.AzureOpenAI.APIKey != "":
		return BackendAzure
	case c.OpenAI.APIKey != "":
		return BackendOpenAI
	default:
		return BackendOllama
	}
}

// ChatModelName returns the chat model or deployment for the backend.
func (c *Config) ChatModelName() string {
	switch c.Backend {
	case BackendAzure:
		return c.AzureOpenAI.ChatDeployment
	case BackendOpenAI:
		return c.OpenAI.ChatModel
	case BackendOllama:
		return c.Ollama.ChatModel
	case BackendGemini:
		return c.Gemini.ChatModel
	}
	return ""
}

// EmbedModelName returns the embedding model or deployment for the backend.
func (c *Config) EmbedModelName() string {
	switch c.Backend {
	case BackendAzure:
		return c.AzureOpenAI.EmbedDeployment
	case BackendOpenAI:
		return c.OpenAI.EmbedModel
	case BackendOllama:
		return c.Ollama.EmbedModel
	case BackendGemini:
		return c.Gemini.EmbedModel
	}
	return ""
}

// Validate reports missing settings for the selected backend, naming the
// env var that supplies each one.
func (c *Config) Validate() error {
	var missing []string
	need := func(v, env string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, env)
		}
	}

	switch c.Backend {
	case BackendAzure:
		need(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		need(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		need(c.AzureOpenAI.ChatDeployment, "AZURE_OPENAI_CHAT_DEPLOYMENT")
		need(c.AzureOpenAI.EmbedDeployment, "AZURE_OPENAI_EMBED_DEPLOYMENT")
	case BackendOpenAI:
		need(c.OpenAI.APIKey, "OPENAI_API_KEY")
		need(c.OpenAI.ChatModel, "OPENAI_CHAT_MODEL")
		need(c.OpenAI.EmbedModel, "OPENAI_EMBED_MODEL")
	case BackendOllama:
		need(c.Ollama.Host, "OLLAMA_HOST")
		need(c.Ollama.ChatModel, "OLLAMA_CHAT_MODEL")
		need(c.Ollama.EmbedModel, "OLLAMA_EMBED_MODEL")
	case BackendGemini:
		need(c.Gemini.APIKey, "GOOGLE_API_KEY")
		need(c.Gemini.ChatModel, "GEMINI_CHAT_MODEL")
		need(c.Gemini.EmbedModel, "GEMINI_EMBED_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q (valid: azure, openai, ollama, gemini)", c.Backend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend requires %s", c.Backend, strings.Join(missing, ", "))
	}
	if c.EmbeddingDimensions < 0 {
		return errors.New("provider: EMBEDDING_DIMENSIONS must not be negative")
	}
	return nil
}
