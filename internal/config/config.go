// Package config layers configuration for plantai. Every setting is
// ultimately read from the environment; files only fill in variables the
// process environment leaves unset.
//
// Precedence, highest first:
//  1. process environment
//  2. .env file (PLANTAI_ENV_FILE, default ./.env)
//  3. YAML file: --config flag, PLANTAI_CONFIG, ~/.plantai/config.yaml, ./plantai.yaml
//  4. package defaults
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the YAML file layout. Tags mirror the env var names.
type Config struct {
	// Model selects and configures the LLM and embedding backends.
	Model ModelConfig `yaml:"model"`
	// Embedding overrides embedding-specific settings.
	Embedding EmbeddingConfig `yaml:"embedding"`
	// Store configures the document store backend.
	Store StoreConfig `yaml:"store"`
	// Ingest configures chunking and commit behaviour.
	Ingest IngestConfig `yaml:"ingest"`
	// Retrieval configures retrieval and prompt assembly.
	Retrieval RetrievalConfig `yaml:"retrieval"`
	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server"`
	// SharePoint configures the remote folder fetcher.
	SharePoint SharePointConfig `yaml:"sharepoint"`
	// OCR configures image text recognition.
	OCR OCRConfig `yaml:"ocr"`
	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
	// Tracing configures Langfuse tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM provider settings.
type ModelConfig struct {
	// Provider forces a backend: azure, openai, ollama, gemini. Empty auto-detects.
	Provider string `yaml:"provider"`
	// MaxTokens caps the answer length.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls sampling randomness.
	Temperature float32 `yaml:"temperature"`
	Azure       struct {
		Endpoint        string `yaml:"endpoint"`
		APIKey          string `yaml:"api_key"`
		APIVersion      string `yaml:"api_version"`
		ChatDeployment  string `yaml:"chat_deployment"`
		EmbedDeployment string `yaml:"embed_deployment"`
	} `yaml:"azure"`
	OpenAI struct {
		APIKey     string `yaml:"api_key"`
		BaseURL    string `yaml:"base_url"`
		ChatModel  string `yaml:"chat_model"`
		EmbedModel string `yaml:"embed_model"`
	} `yaml:"openai"`
	Ollama struct {
		Host       string `yaml:"host"`
		ChatModel  string `yaml:"chat_model"`
		EmbedModel string `yaml:"embed_model"`
	} `yaml:"ollama"`
	Gemini struct {
		APIKey     string `yaml:"api_key"`
		ChatModel  string `yaml:"chat_model"`
		EmbedModel string `yaml:"embed_model"`
	} `yaml:"gemini"`
}

// EmbeddingConfig holds embedding overrides.
type EmbeddingConfig struct {
	// Dimensions overrides the vector size reported by hosted models.
	Dimensions int `yaml:"dimensions"`
	// BatchSize splits embedding calls into batches of at most this many texts.
	BatchSize int `yaml:"batch_size"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	// Backend is one of postgres, sqlite, qdrant, memory.
	Backend  string `yaml:"backend"`
	Postgres struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		DB       string `yaml:"db"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
		Index    string `yaml:"index"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Qdrant struct {
		Host       string `yaml:"host"`
		Port       int    `yaml:"port"`
		Collection string `yaml:"collection"`
		APIKey     string `yaml:"api_key"`
		TLS        bool   `yaml:"tls"`
	} `yaml:"qdrant"`
}

// IngestConfig holds chunking and commit settings.
type IngestConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	CommitMode   string `yaml:"commit_mode"`
}

// RetrievalConfig holds retrieval settings.
type RetrievalConfig struct {
	TopK         int `yaml:"top_k"`
	ContextChars int `yaml:"context_chars"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the shared key. Prefer env var PLANTAI_API_KEY.
	APIKey         string  `yaml:"api_key"`
	CORSOrigins    string  `yaml:"cors_origins"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
	UploadMaxBytes int64   `yaml:"upload_max_bytes"`
	ExposeErrors   bool    `yaml:"expose_errors"`
}

// SharePointConfig holds Microsoft Graph credentials and site coordinates.
type SharePointConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	SiteHost     string `yaml:"site_host"`
	SitePath     string `yaml:"site_path"`
	DriveName    string `yaml:"drive_name"`
}

// OCRConfig holds tesseract settings.
type OCRConfig struct {
	Binary string `yaml:"binary"`
	Lang   string `yaml:"lang"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML fields to env var names. Zero values are skipped.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return floatStr(float64(c.Model.Temperature)) }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"AZURE_OPENAI_CHAT_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.ChatDeployment }},
	{"AZURE_OPENAI_EMBED_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.EmbedDeployment }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"OPENAI_CHAT_MODEL", func(c *Config) string { return c.Model.OpenAI.ChatModel }},
	{"OPENAI_EMBED_MODEL", func(c *Config) string { return c.Model.OpenAI.EmbedModel }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_CHAT_MODEL", func(c *Config) string { return c.Model.Ollama.ChatModel }},
	{"OLLAMA_EMBED_MODEL", func(c *Config) string { return c.Model.Ollama.EmbedModel }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_CHAT_MODEL", func(c *Config) string { return c.Model.Gemini.ChatModel }},
	{"GEMINI_EMBED_MODEL", func(c *Config) string { return c.Model.Gemini.EmbedModel }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"STORE_BACKEND", func(c *Config) string { return c.Store.Backend }},
	{"POSTGRES_HOST", func(c *Config) string { return c.Store.Postgres.Host }},
	{"POSTGRES_PORT", func(c *Config) string { return intStr(c.Store.Postgres.Port) }},
	{"POSTGRES_DB", func(c *Config) string { return c.Store.Postgres.DB }},
	{"POSTGRES_USER", func(c *Config) string { return c.Store.Postgres.User }},
	{"POSTGRES_PASSWORD", func(c *Config) string { return c.Store.Postgres.Password }},
	{"POSTGRES_SSLMODE", func(c *Config) string { return c.Store.Postgres.SSLMode }},
	{"PGVECTOR_INDEX", func(c *Config) string { return c.Store.Postgres.Index }},
	{"SQLITE_PATH", func(c *Config) string { return c.Store.SQLite.Path }},
	{"QDRANT_HOST", func(c *Config) string { return c.Store.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Store.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Store.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Store.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Store.Qdrant.TLS) }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Ingest.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Ingest.ChunkOverlap) }},
	{"INGEST_COMMIT_MODE", func(c *Config) string { return c.Ingest.CommitMode }},
	{"RETRIEVER_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"CONTEXT_CHAR_LIMIT", func(c *Config) string { return intStr(c.Retrieval.ContextChars) }},
	{"PLANTAI_HOST", func(c *Config) string { return c.Server.Host }},
	{"PLANTAI_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"PLANTAI_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"CORS_ORIGINS", func(c *Config) string { return c.Server.CORSOrigins }},
	{"RATE_LIMIT", func(c *Config) string { return floatStr(c.Server.RateLimit) }},
	{"RATE_BURST", func(c *Config) string { return intStr(c.Server.RateBurst) }},
	{"UPLOAD_MAX_BYTES", func(c *Config) string { return int64Str(c.Server.UploadMaxBytes) }},
	{"PLANTAI_EXPOSE_ERRORS", func(c *Config) string { return boolStr(c.Server.ExposeErrors) }},
	{"MS_TENANT_ID", func(c *Config) string { return c.SharePoint.TenantID }},
	{"MS_CLIENT_ID", func(c *Config) string { return c.SharePoint.ClientID }},
	{"MS_CLIENT_SECRET", func(c *Config) string { return c.SharePoint.ClientSecret }},
	{"MS_SP_SITE_HOST", func(c *Config) string { return c.SharePoint.SiteHost }},
	{"MS_SP_SITE_PATH", func(c *Config) string { return c.SharePoint.SitePath }},
	{"MS_SP_DRIVE_NAME", func(c *Config) string { return c.SharePoint.DriveName }},
	{"OCR_TESSERACT_PATH", func(c *Config) string { return c.OCR.Binary }},
	{"OCR_LANG", func(c *Config) string { return c.OCR.Lang }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load applies the .env file and then the YAML file to the environment,
// never overwriting a variable that is already set. It returns the YAML
// path that was loaded, or "" when none was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if _, err := LoadDotEnv(os.Getenv("PLANTAI_ENV_FILE"), log); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		v := m.value(&cfg)
		if v == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue
		}
		if err := os.Setenv(m.envKey, v); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)
	return path, nil
}

// resolveConfigPath returns the first YAML config path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	candidates := []string{os.Getenv("PLANTAI_CONFIG")}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".plantai", "config.yaml"))
	}
	candidates = append(candidates, "plantai.yaml")

	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func int64Str(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(strconv.FormatFloat(v, 'f', 4, 64), "0"), ".")
}

func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
