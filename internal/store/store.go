// Package store provides the document store backends behind [rag.Store]:
// PostgreSQL with pgvector, SQLite, Qdrant and an in-process collection.
package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/54b3r/plantai-go/internal/config"
	"github.com/54b3r/plantai-go/internal/rag"
)

// Backend names accepted by STORE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendQdrant   = "qdrant"
	BackendMemory   = "memory"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is one of the Backend* constants. Empty means postgres.
	Backend string
	// PostgresDSN is a lib/pq connection string.
	PostgresDSN string
	// PostgresIndex is the ANN index kind: ivfflat or hnsw.
	PostgresIndex string
	// SQLitePath is the database file, or ":memory:".
	SQLitePath string
	// Qdrant holds the Qdrant connection settings.
	Qdrant QdrantConfig
}

// ConfigFromEnv reads the store configuration from the environment.
func ConfigFromEnv() (*Config, error) {
	port, err := config.Int("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, err
	}
	qport, err := config.Int("QDRANT_PORT", 6334)
	if err != nil {
		return nil, err
	}
	qtls, err := config.Bool("QDRANT_TLS", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Backend:       strings.ToLower(config.String("STORE_BACKEND", BackendPostgres)),
		PostgresIndex: strings.ToLower(config.String("PGVECTOR_INDEX", IndexIVFFlat)),
		SQLitePath:    config.String("SQLITE_PATH", "plantai.db"),
		Qdrant: QdrantConfig{
			Host:       config.String("QDRANT_HOST", "localhost"),
			Port:       qport,
			Collection: config.String("QDRANT_COLLECTION", "documents"),
			APIKey:     config.String("QDRANT_API_KEY", ""),
			UseTLS:     qtls,
		},
	}
	cfg.PostgresDSN = config.String("DATABASE_URL", postgresDSN(
		config.String("POSTGRES_HOST", "localhost"),
		port,
		config.String("POSTGRES_DB", "plantai"),
		config.String("POSTGRES_USER", "postgres"),
		config.String("POSTGRES_PASSWORD", ""),
		config.String("POSTGRES_SSLMODE", "disable"),
	))
	return cfg, nil
}

// postgresDSN builds a URL-form DSN with the credentials escaped.
func postgresDSN(host string, port int, db, user, password, sslmode string) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + db,
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	q := url.Values{}
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects to the configured backend. The returned store still needs
// [rag.Store.Init] before use.
func Open(ctx context.Context, cfg *Config) (rag.Store, error) {
	switch cfg.Backend {
	case "", BackendPostgres:
		return OpenPostgres(ctx, cfg.PostgresDSN, cfg.PostgresIndex)
	case BackendSQLite:
		return OpenSQLite(cfg.SQLitePath)
	case BackendQdrant:
		return OpenQdrant(cfg.Qdrant)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q (want postgres, sqlite, qdrant or memory)", cfg.Backend)
	}
}
