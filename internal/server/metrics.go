package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by route pattern rather than raw path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New so that tests can inject a fresh
// prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// chatRequestsTotal counts completed /chat requests by outcome: "ok" or "error".
	chatRequestsTotal *prometheus.CounterVec
	// chatDurationSeconds records end-to-end /chat latency.
	chatDurationSeconds *prometheus.HistogramVec
	// chatSources observes how many chunks were retrieved per question.
	chatSources prometheus.Histogram

	// ingestRequestsTotal counts ingestion runs by source label and outcome.
	ingestRequestsTotal *prometheus.CounterVec
	// ingestDurationSeconds records ingestion run latency by source label.
	ingestDurationSeconds *prometheus.HistogramVec
	// ingestFilesTotal counts files committed to the store by source label.
	ingestFilesTotal *prometheus.CounterVec
	// ingestChunksTotal counts chunks committed to the store by source label.
	ingestChunksTotal *prometheus.CounterVec

	// authFailuresTotal counts requests rejected for a bad or missing key.
	authFailuresTotal prometheus.Counter
	// rateLimitedTotal counts requests rejected with 429.
	rateLimitedTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests by method, route and status code.
	httpRequestsTotal *prometheus.CounterVec
	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg. promauto.With
// registers into the provided registry rather than the global default.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plantai",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plantai",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /chat requests: embed, search and generate.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		chatSources: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "plantai",
			Subsystem: "chat",
			Name:      "sources",
			Help:      "Number of chunks retrieved per question.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),

		ingestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plantai",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Total number of ingestion runs, partitioned by source and outcome.",
		}, []string{"source", "outcome"}),

		ingestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plantai",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of ingestion runs including staging.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800},
		}, []string{"source"}),

		ingestFilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plantai",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Files committed to the document store.",
		}, []string{"source"}),

		ingestChunksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plantai",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks committed to the document store.",
		}, []string{"source"}),

		authFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plantai",
			Subsystem: "http",
			Name:      "auth_failures_total",
			Help:      "Requests rejected for a missing or invalid API key.",
		}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "plantai",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-IP rate limiter.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plantai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plantai",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}
