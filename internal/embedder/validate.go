package embedder

import (
	"log/slog"
	"strings"

	"github.com/54b3r/plantai-go/internal/provider"
)

// knownChatModelPrefixes identify chat/completion models that are not
// embedding models.
var knownChatModelPrefixes = []string{
	"gpt-4",
	"gpt-3.5",
	"gpt-35",
	"o1",
	"o3",
	"llama3",
	"llama2",
	"llama-3",
	"mistral",
	"mixtral",
	"gemma",
	"phi3",
	"claude",
	"qwen",
	"gemini-1",
	"gemini-2",
}

// looksLikeChatModel reports whether model resembles a chat model name.
func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, prefix := range knownChatModelPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// Warn logs configuration that is valid but probably a mistake: a chat model
// configured as the embedding model, or a hosted model whose dimension must
// be probed because it is not in the built-in table.
func Warn(cfg *provider.Config, log *slog.Logger) {
	model := cfg.EmbedModelName()
	if looksLikeChatModel(model) {
		log.Warn("embedder: embedding model looks like a chat model",
			slog.String("backend", string(cfg.Backend)),
			slog.String("model", model),
			slog.String("hint", "use a dedicated embedding model e.g. text-embedding-3-large, all-minilm"),
		)
	}
	if !cfg.Backend.Local() && cfg.EmbeddingDimensions == 0 && KnownDimensions(model) == 0 {
		log.Warn("embedder: unknown hosted model dimension, probing once at startup",
			slog.String("model", model),
			slog.String("hint", "set EMBEDDING_DIMENSIONS to skip the probe"),
		)
	}
}
