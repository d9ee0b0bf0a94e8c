package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/plantai-go/internal/logging"
	"github.com/54b3r/plantai-go/internal/rag"
)

// upsertBatch caps points per Upsert call.
const upsertBatch = 256

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string
	// Port is the Qdrant gRPC port (default: 6334).
	Port int
	// Collection is the collection name (default: documents).
	Collection string
	// APIKey is the optional API key for authenticated clusters.
	APIKey string
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// Qdrant stores records as points in a cosine-distance collection.
type Qdrant struct {
	client     *qdrant.Client
	collection string

	mu     sync.Mutex
	dim    int
	lastID uint64
}

// OpenQdrant creates a gRPC client. The collection is created by Init.
func OpenQdrant(cfg QdrantConfig) (*Qdrant, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("store: create qdrant client: %w", err)
	}
	return &Qdrant{client: client, collection: cfg.Collection}, nil
}

// Init creates the collection and a keyword index on source when missing.
// An existing collection with a different vector size is kept.
func (s *Qdrant) Init(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("store: invalid dimension %d", dim)
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("store: check collection %q: %w", s.collection, err)
	}

	existing := dim
	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.collection)
		if err != nil {
			return fmt.Errorf("store: describe collection %q: %w", s.collection, err)
		}
		if size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()); size > 0 && size != dim {
			logging.FromContext(ctx).Warn("store: existing collection has a different vector size; keeping it",
				slog.String("backend", s.Name()),
				slog.String("collection", s.collection),
				slog.Int("collection_dim", size),
				slog.Int("embedder_dim", dim),
			)
			existing = size
		}
	} else {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("store: create collection %q: %w", s.collection, err)
		}
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      "source",
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("store: index source field: %w", err)
		}
	}

	s.mu.Lock()
	s.dim = existing
	s.mu.Unlock()
	return nil
}

// Dimension returns the vector length fixed by Init.
func (s *Qdrant) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

// nextID returns a point ID greater than every ID this process has issued.
// IDs are seeded from the wall clock so they keep increasing across restarts.
func (s *Qdrant) nextID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID = max(s.lastID+1, uint64(time.Now().UnixNano()))
	return s.lastID
}

// Begin returns a writer that buffers points until Commit.
func (s *Qdrant) Begin(ctx context.Context) (rag.Writer, error) {
	dim := s.Dimension()
	if dim == 0 {
		return nil, errors.New("store: qdrant not initialised")
	}
	return &qdrantWriter{ctx: ctx, store: s, dim: dim}, nil
}

// Search queries the collection and re-sorts equal scores by ID.
func (s *Qdrant) Search(ctx context.Context, query []float32, k int) ([]rag.Hit, error) {
	if err := rag.CheckDimension(query, s.Dimension()); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	fetch := k + qdrantTieSlack
	results, err := s.query(ctx, query, fetch, nil)
	if err != nil {
		return nil, err
	}
	if tiesPastWindow(results, k, fetch) {
		threshold := results[k-1].GetScore()
		if results, err = s.query(ctx, query, qdrantTieCap, &threshold); err != nil {
			return nil, err
		}
	}
	return rankQdrant(results, k), nil
}

// qdrantTieSlack is how many points Search fetches past k so points tied
// with the k-th score can be ordered by ID. When the tie runs past that
// window, every point scoring at least the k-th score is fetched, up to
// qdrantTieCap.
const (
	qdrantTieSlack = 16
	qdrantTieCap   = 4096
)

func (s *Qdrant) query(ctx context.Context, vec []float32, limit int, threshold *float32) ([]*qdrant.ScoredPoint, error) {
	n := uint64(limit)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &n,
		ScoreThreshold: threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return results, nil
}

// tiesPastWindow reports whether the points tied with the k-th best score
// may continue beyond a full window of fetched results.
func tiesPastWindow(results []*qdrant.ScoredPoint, k, fetched int) bool {
	if k <= 0 || len(results) < fetched || len(results) <= k {
		return false
	}
	return results[len(results)-1].GetScore() == results[k-1].GetScore()
}

// rankQdrant converts scored points to hits, orders them by score then ID
// and keeps the best k.
func rankQdrant(results []*qdrant.ScoredPoint, k int) []rag.Hit {
	hits := make([]rag.Hit, 0, len(results))
	for _, r := range results {
		h := rag.Hit{ID: int64(r.GetId().GetNum()), Score: float64(r.GetScore())}
		if p := r.GetPayload(); p != nil {
			h.SourceLabel = p["source"].GetStringValue()
			h.URI = p["uri"].GetStringValue()
			h.Page = int(p["page"].GetIntegerValue())
			h.ChunkID = p["chunk_id"].GetStringValue()
			h.Content = p["content"].GetStringValue()
		}
		hits = append(hits, h)
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Ping calls the health check endpoint.
func (s *Qdrant) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("store: qdrant health check: %w", err)
	}
	return nil
}

// Name returns "qdrant".
func (s *Qdrant) Name() string { return BackendQdrant }

// Close closes the gRPC connection.
func (s *Qdrant) Close() error {
	return s.client.Close()
}

type qdrantWriter struct {
	ctx    context.Context
	store  *Qdrant
	dim    int
	points []*qdrant.PointStruct
}

func (w *qdrantWriter) Insert(_ context.Context, recs []rag.Record) error {
	for _, r := range recs {
		if err := rag.CheckDimension(r.Embedding, w.dim); err != nil {
			return fmt.Errorf("store: insert %s: %w", r.ChunkID, err)
		}
	}
	for _, r := range recs {
		w.points = append(w.points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(w.store.nextID()),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"source":   r.SourceLabel,
				"uri":      r.URI,
				"page":     int64(r.Page),
				"chunk_id": r.ChunkID,
				"content":  r.Content,
			}),
		})
	}
	return nil
}

// Commit upserts the buffered points. Batches already sent stay visible if a
// later batch fails.
func (w *qdrantWriter) Commit() error {
	wait := true
	for start := 0; start < len(w.points); start += upsertBatch {
		batch := w.points[start:min(start+upsertBatch, len(w.points))]
		_, err := w.store.client.Upsert(w.ctx, &qdrant.UpsertPoints{
			CollectionName: w.store.collection,
			Wait:           &wait,
			Points:         batch,
		})
		if err != nil {
			return fmt.Errorf("store: upsert: %w", err)
		}
	}
	w.points = nil
	return nil
}

func (w *qdrantWriter) Rollback() error {
	w.points = nil
	return nil
}
