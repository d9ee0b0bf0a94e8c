// Package audit writes one structured record per CLI invocation describing
// the environment the command runs with. Secret settings are reported only
// as "set" or "unset".
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// envGroup is a set of related settings logged under one slog group.
type envGroup struct {
	name string
	keys []string
}

// envGroups lists the settings recorded in the audit record, in order.
var envGroups = []envGroup{
	{"model", []string{
		"MODEL_PROVIDER",
		"AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_KEY",
		"AZURE_OPENAI_CHAT_DEPLOYMENT", "AZURE_OPENAI_EMBED_DEPLOYMENT",
		"OPENAI_API_KEY", "OPENAI_CHAT_MODEL", "OPENAI_EMBED_MODEL",
		"OLLAMA_HOST", "OLLAMA_CHAT_MODEL", "OLLAMA_EMBED_MODEL",
		"GOOGLE_API_KEY", "GEMINI_CHAT_MODEL", "GEMINI_EMBED_MODEL",
		"EMBEDDING_DIMENSIONS",
	}},
	{"store", []string{
		"STORE_BACKEND", "DATABASE_URL",
		"POSTGRES_HOST", "POSTGRES_DB", "POSTGRES_USER", "POSTGRES_PASSWORD", "PGVECTOR_INDEX",
		"SQLITE_PATH",
		"QDRANT_HOST", "QDRANT_COLLECTION", "QDRANT_API_KEY",
	}},
	{"ingest", []string{"CHUNK_SIZE", "CHUNK_OVERLAP", "INGEST_COMMIT_MODE", "RETRIEVER_TOP_K"}},
	{"server", []string{"PLANTAI_API_KEY", "PLANTAI_EXPOSE_ERRORS"}},
	{"sharepoint", []string{"MS_TENANT_ID", "MS_CLIENT_ID", "MS_CLIENT_SECRET", "MS_SP_SITE_HOST", "MS_SP_SITE_PATH"}},
	{"logging", []string{"LOG_LEVEL", "LOG_FORMAT"}},
	{"tracing", []string{"LANGFUSE_HOST", "LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY"}},
}

// secretKeys are never logged by value.
var secretKeys = map[string]bool{
	"AZURE_OPENAI_API_KEY": true,
	"OPENAI_API_KEY":       true,
	"GOOGLE_API_KEY":       true,
	"DATABASE_URL":         true,
	"POSTGRES_PASSWORD":    true,
	"QDRANT_API_KEY":       true,
	"PLANTAI_API_KEY":      true,
	"MS_CLIENT_SECRET":     true,
	"LANGFUSE_PUBLIC_KEY":  true,
	"LANGFUSE_SECRET_KEY":  true,
}

// LogCommandStart records that command is starting, which config file was
// applied (configPath, possibly empty) and the sanitised settings grouped
// by concern.
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string) {
	attrs := make([]slog.Attr, 0, len(envGroups)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, g := range envGroups {
		vals := make([]any, 0, len(g.keys))
		for _, k := range g.keys {
			vals = append(vals, slog.String(k, SanitiseKey(k, os.Getenv(k))))
		}
		attrs = append(attrs, slog.Group(g.name, vals...))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns the form of value that may be logged for key.
func SanitiseKey(key, value string) string {
	switch {
	case secretKeys[key]:
		return presence(value)
	case value == "":
		return "unset"
	default:
		return stripCredentials(value)
	}
}

func presence(v string) string {
	if v == "" {
		return "unset"
	}
	return "set"
}

// stripCredentials masks a password embedded in a URL-shaped value, such as
// an OLLAMA_HOST of https://user:pw@gateway.
func stripCredentials(v string) string {
	if !strings.Contains(v, "://") || !strings.Contains(v, "@") {
		return v
	}
	u, err := url.Parse(v)
	if err != nil || u.User == nil {
		return v
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// sanitiseConfigPath shortens paths under the home directory to ~ and
// reports an empty path as "none".
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if rel, err := filepath.Rel(home, p); err == nil && filepath.IsLocal(rel) {
		return "~" + string(filepath.Separator) + rel
	}
	return p
}
