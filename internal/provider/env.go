package provider

import (
	"fmt"
	"strings"

	"github.com/54b3r/plantai-go/internal/config"
)

// Defaults applied when the corresponding env var is unset.
const (
	DefaultAzureAPIVersion  = "2024-06-01"
	DefaultOpenAIChatModel  = "gpt-4o-mini"
	DefaultOpenAIEmbedModel = "text-embedding-3-large"
	DefaultOllamaHost       = "http://localhost:11434"
	DefaultOllamaChatModel  = "llama3"
	DefaultOllamaEmbedModel = "all-minilm"
	DefaultGeminiChatModel  = "gemini-1.5-flash"
	DefaultGeminiEmbedModel = "text-embedding-004"
)

// ConfigFromEnv reads every backend's settings and resolves the backend.
//
// Environment variables:
//
//	MODEL_PROVIDER      = azure | openai | ollama | gemini (default: auto-detect)
//
//	Azure:  AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_API_KEY, AZURE_OPENAI_API_VERSION,
//	        AZURE_OPENAI_CHAT_DEPLOYMENT, AZURE_OPENAI_EMBED_DEPLOYMENT
//	OpenAI: OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_CHAT_MODEL, OPENAI_EMBED_MODEL
//	Ollama: OLLAMA_HOST, OLLAMA_CHAT_MODEL, OLLAMA_EMBED_MODEL
//	Gemini: GOOGLE_API_KEY, GEMINI_CHAT_MODEL, GEMINI_EMBED_MODEL
//
//	Shared: MODEL_MAX_TOKENS (default: 1024), MODEL_TEMPERATURE (default: 0.2),
//	        EMBEDDING_DIMENSIONS, EMBEDDING_BATCH_SIZE
func ConfigFromEnv() (*Config, error) {
	maxTokens, err := config.Int("MODEL_MAX_TOKENS", 1024)
	if err != nil {
		return nil, err
	}
	temperature, err := config.Float("MODEL_TEMPERATURE", 0.2)
	if err != nil {
		return nil, err
	}
	dims, err := config.Int("EMBEDDING_DIMENSIONS", 0)
	if err != nil {
		return nil, err
	}
	batch, err := config.Int("EMBEDDING_BATCH_SIZE", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AzureOpenAI: ProviderAzureOpenAI{
			Endpoint:        strings.TrimRight(config.String("AZURE_OPENAI_ENDPOINT", ""), "/"),
			APIKey:          config.String("AZURE_OPENAI_API_KEY", ""),
			APIVersion:      config.String("AZURE_OPENAI_API_VERSION", DefaultAzureAPIVersion),
			ChatDeployment:  config.String("AZURE_OPENAI_CHAT_DEPLOYMENT", DefaultOpenAIChatModel),
			EmbedDeployment: config.String("AZURE_OPENAI_EMBED_DEPLOYMENT", DefaultOpenAIEmbedModel),
		},
		OpenAI: ProviderOpenAI{
			APIKey:     config.String("OPENAI_API_KEY", ""),
			BaseURL:    config.String("OPENAI_BASE_URL", ""),
			ChatModel:  config.String("OPENAI_CHAT_MODEL", DefaultOpenAIChatModel),
			EmbedModel: config.String("OPENAI_EMBED_MODEL", DefaultOpenAIEmbedModel),
		},
		Ollama: ProviderOllama{
			Host:       config.String("OLLAMA_HOST", DefaultOllamaHost),
			ChatModel:  config.String("OLLAMA_CHAT_MODEL", DefaultOllamaChatModel),
			EmbedModel: config.String("OLLAMA_EMBED_MODEL", DefaultOllamaEmbedModel),
		},
		Gemini: ProviderGemini{
			APIKey:     config.String("GOOGLE_API_KEY", ""),
			ChatModel:  config.String("GEMINI_CHAT_MODEL", DefaultGeminiChatModel),
			EmbedModel: config.String("GEMINI_EMBED_MODEL", DefaultGeminiEmbedModel),
		},
		Tuning: SharedTuning{
			MaxTokens:   maxTokens,
			Temperature: float32(temperature),
		},
		EmbeddingDimensions: dims,
		EmbeddingBatchSize:  batch,
	}

	if explicit := strings.ToLower(config.String("MODEL_PROVIDER", "")); explicit != "" {
		cfg.Backend = Backend(explicit)
		cfg.Explicit = true
	} else {
		cfg.Backend = cfg.Detect()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w (resolved backend %q)", err, cfg.Backend)
	}
	return cfg, nil
}
