package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/plantai-go/internal/ingestion"
	"github.com/54b3r/plantai-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout bounds reading the request headers and small forms.
	ReadTimeout time.Duration
	// WriteTimeout must cover a full ingestion run, so it is long.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on the POST
	// endpoints (requests/second). Zero or negative disables rate limiting.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the shared key required on every POST endpoint.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string
	// UploadMaxBytes caps the request body of /ingest/folder-upload.
	// Zero means no cap.
	UploadMaxBytes int64
	// ExposeErrors returns internal error text to clients. Off by default.
	ExposeErrors bool
	// StagingDir is the parent for temporary upload and SharePoint
	// directories. Empty uses the system temp dir.
	StagingDir string
	// MetricsRegistry is where server metrics are registered.
	// If nil, [prometheus.DefaultRegisterer] is used.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics.
	// If nil, [prometheus.DefaultGatherer] is used.
	MetricsGatherer prometheus.Gatherer
}

// Ingester runs an ingestion over a local directory tree.
// *ingestion.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, root string, opts ingestion.Options) (ingestion.Stats, error)
}

// Retriever finds the chunks most relevant to a question.
// *rag.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]rag.Hit, error)
}

// Answerer produces an answer grounded in retrieved chunks.
// *rag.Answerer satisfies it.
type Answerer interface {
	Answer(ctx context.Context, question string, hits []rag.Hit) (string, error)
}

// Stager copies a remote folder into a local directory.
// *sharepoint.Client satisfies it.
type Stager interface {
	Stage(ctx context.Context, folder, dir string) (int, error)
}

// Deps are the collaborators behind the endpoints. SharePoint may be nil,
// in which case /ingest/sharepoint answers 503.
type Deps struct {
	Ingester   Ingester
	Retriever  Retriever
	Answerer   Answerer
	SharePoint Stager
}

// Server is the HTTP front end for ingestion and chat.
type Server struct {
	// deps holds the pipeline collaborators.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// handler is the fully wrapped root handler.
	handler http.Handler
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors for this instance.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ingestResponse is the JSON body returned by every /ingest/* endpoint.
type ingestResponse struct {
	Status string `json:"status"`
	Files  int    `json:"files"`
	Chunks int    `json:"chunks"`
}

// chatResponse is the JSON body returned by POST /chat.
type chatResponse struct {
	// Answer is the model's reply.
	Answer string `json:"answer"`
	// Sources are the retrieved chunks, best match first.
	Sources []rag.Hit `json:"sources"`
}

// errorResponse is the JSON body of every error.
type errorResponse struct {
	Detail string `json:"detail"`
}
