package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/54b3r/plantai-go/internal/logging"
)

// unsetEnv clears keys for the duration of the test and restores them after.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_NoFile(t *testing.T) {
	unsetEnv(t, "PLANTAI_ENV_FILE")

	path, err := Load("/nonexistent/path/config.yaml", logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: azure
  max_tokens: 2048
  temperature: 0.2
  azure:
    endpoint: https://plant.openai.azure.com
    chat_deployment: gpt-4o-mini
    embed_deployment: text-embedding-3-large
    api_version: "2024-06-01"
store:
  backend: postgres
  postgres:
    host: db.internal
    port: 5433
    db: plantai
ingest:
  chunk_size: 1200
  commit_mode: file
server:
  cors_origins: http://localhost:5173,https://plant.example.com
  rate_limit: 2.5
sharepoint:
  site_host: contoso.sharepoint.com
  drive_name: Documents
logging:
  level: debug
  format: text
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":                "azure",
		"MODEL_MAX_TOKENS":              "2048",
		"MODEL_TEMPERATURE":             "0.2",
		"AZURE_OPENAI_ENDPOINT":         "https://plant.openai.azure.com",
		"AZURE_OPENAI_CHAT_DEPLOYMENT":  "gpt-4o-mini",
		"AZURE_OPENAI_EMBED_DEPLOYMENT": "text-embedding-3-large",
		"AZURE_OPENAI_API_VERSION":      "2024-06-01",
		"STORE_BACKEND":                 "postgres",
		"POSTGRES_HOST":                 "db.internal",
		"POSTGRES_PORT":                 "5433",
		"POSTGRES_DB":                   "plantai",
		"CHUNK_SIZE":                    "1200",
		"INGEST_COMMIT_MODE":            "file",
		"CORS_ORIGINS":                  "http://localhost:5173,https://plant.example.com",
		"RATE_LIMIT":                    "2.5",
		"MS_SP_SITE_HOST":               "contoso.sharepoint.com",
		"MS_SP_DRIVE_NAME":              "Documents",
		"LOG_LEVEL":                     "debug",
		"LOG_FORMAT":                    "text",
	}
	keys := []string{"PLANTAI_ENV_FILE"}
	for k := range checks {
		keys = append(keys, k)
	}
	unsetEnv(t, keys...)

	loaded, err := Load(cfgPath, logging.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	unsetEnv(t, "PLANTAI_ENV_FILE")
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("store:\n  backend: sqlite\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("STORE_BACKEND", "qdrant")

	if _, err := Load(cfgPath, logging.Discard()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv("STORE_BACKEND"); got != "qdrant" {
		t.Errorf("STORE_BACKEND: expected env override %q, got %q", "qdrant", got)
	}
}

func TestLoad_DotEnvBeatsYAML(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "plant.env")
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(envPath, []byte("RETRIEVER_TOP_K=4\nPLANTAI_API_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, []byte("retrieval:\n  top_k: 12\n  context_chars: 900\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	unsetEnv(t, "RETRIEVER_TOP_K", "CONTEXT_CHAR_LIMIT", "PLANTAI_API_KEY")
	t.Setenv("PLANTAI_ENV_FILE", envPath)

	if _, err := Load(cfgPath, logging.Discard()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("RETRIEVER_TOP_K"); got != "4" {
		t.Errorf("RETRIEVER_TOP_K: got %q, want .env value 4", got)
	}
	if got := os.Getenv("CONTEXT_CHAR_LIMIT"); got != "900" {
		t.Errorf("CONTEXT_CHAR_LIMIT: got %q, want YAML value 900", got)
	}
	if got := os.Getenv("PLANTAI_API_KEY"); got != "from-dotenv" {
		t.Errorf("PLANTAI_API_KEY: got %q", got)
	}
}

func TestLoadDotEnv_MissingExplicitFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), logging.Discard()); err == nil {
		t.Fatal("expected error for missing explicit env file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	unsetEnv(t, "PLANTAI_ENV_FILE")
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, logging.Discard()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFloatStr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want string
	}{
		{0, ""},
		{0.2, "0.2"},
		{2.5, "2.5"},
		{1, "1"},
		{10, "10"},
	}
	for _, tt := range tests {
		if got := floatStr(tt.in); got != tt.want {
			t.Errorf("floatStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PLANTAI_TEST_INT", " 42 ")
	t.Setenv("PLANTAI_TEST_BAD", "forty")
	t.Setenv("PLANTAI_TEST_BOOL", "true")
	t.Setenv("PLANTAI_TEST_LIST", "a, b,,c ")
	unsetEnv(t, "PLANTAI_TEST_UNSET")

	if n, err := Int("PLANTAI_TEST_INT", 1); err != nil || n != 42 {
		t.Errorf("Int = %d, %v", n, err)
	}
	if n, err := Int("PLANTAI_TEST_UNSET", 7); err != nil || n != 7 {
		t.Errorf("Int default = %d, %v", n, err)
	}
	if _, err := Int("PLANTAI_TEST_BAD", 1); err == nil {
		t.Error("expected error for invalid integer")
	}
	if b, err := Bool("PLANTAI_TEST_BOOL", false); err != nil || !b {
		t.Errorf("Bool = %v, %v", b, err)
	}
	if got := String("PLANTAI_TEST_UNSET", "dflt"); got != "dflt" {
		t.Errorf("String default = %q", got)
	}
	got := List("PLANTAI_TEST_LIST", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("List = %q", got)
	}
}
