package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/plantai-go/internal/chunk"
	"github.com/54b3r/plantai-go/internal/config"
	"github.com/54b3r/plantai-go/internal/embedder"
	"github.com/54b3r/plantai-go/internal/extract"
	"github.com/54b3r/plantai-go/internal/ingestion"
	"github.com/54b3r/plantai-go/internal/provider"
	"github.com/54b3r/plantai-go/internal/rag"
	"github.com/54b3r/plantai-go/internal/server"
	"github.com/54b3r/plantai-go/internal/store"
)

// stack holds the collaborators shared by serve, ingest and ask: the
// resolved provider, the embedder and an initialised document store.
type stack struct {
	provider *provider.Config
	embedder rag.Embedder
	store    rag.Store
}

// buildStack resolves the provider, builds the embedder, opens the store and
// initialises it with the embedder's dimension. The caller must close the
// returned stack.
func buildStack(ctx context.Context, log *slog.Logger) (*stack, error) {
	pcfg, err := provider.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := pcfg.Validate(); err != nil {
		return nil, err
	}
	embedder.Warn(pcfg, log)

	emb, err := embedder.New(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	dim, err := emb.Dimensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve embedding dimension: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("backend", string(pcfg.Backend)),
		slog.String("model", pcfg.EmbedModelName()),
		slog.Int("dimension", dim),
	)

	scfg, err := store.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, scfg)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx, dim); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Info("document store ready",
		slog.String("backend", st.Name()),
		slog.Int("dimension", st.Dimension()),
	)

	return &stack{provider: pcfg, embedder: emb, store: st}, nil
}

// close releases the store.
func (s *stack) close(log *slog.Logger) {
	if err := s.store.Close(); err != nil {
		log.Warn("document store close failed", slog.Any("error", err))
	}
}

// pipeline builds the ingestion pipeline from CHUNK_SIZE, CHUNK_OVERLAP and
// INGEST_COMMIT_MODE. mode overrides the env var when non-empty.
func (s *stack) pipeline(mode string) (*ingestion.Pipeline, error) {
	size, err := config.Int("CHUNK_SIZE", chunk.DefaultSize)
	if err != nil {
		return nil, err
	}
	overlap, err := config.Int("CHUNK_OVERLAP", chunk.DefaultOverlap)
	if err != nil {
		return nil, err
	}
	ch, err := chunk.New(size, overlap)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = config.String("INGEST_COMMIT_MODE", string(ingestion.CommitWalk))
	}
	cm, err := ingestion.ParseCommitMode(mode)
	if err != nil {
		return nil, err
	}
	return ingestion.NewPipeline(extract.New(extract.TesseractFromEnv()), ch, s.embedder, s.store, cm)
}

// retriever builds the retriever. k <= 0 reads RETRIEVER_TOP_K.
func (s *stack) retriever(k int) (*rag.Retriever, error) {
	if k <= 0 {
		var err error
		if k, err = config.Int("RETRIEVER_TOP_K", rag.DefaultTopK); err != nil {
			return nil, err
		}
	}
	return rag.NewRetriever(s.embedder, s.store, k)
}

// answerer builds the chat model and the answerer around it.
func (s *stack) answerer(ctx context.Context) (*rag.Answerer, error) {
	chars, err := config.Int("CONTEXT_CHAR_LIMIT", rag.DefaultContextChars)
	if err != nil {
		return nil, err
	}
	maxPrompt, err := config.Int("PROMPT_MAX_TOKENS", 0)
	if err != nil {
		return nil, err
	}
	chatModel, err := provider.NewChatModel(ctx, s.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise chat model: %w", err)
	}
	return rag.NewAnswerer(chatModel, rag.AnswererConfig{ContextChars: chars, MaxPromptTokens: maxPrompt})
}

// pingers returns the readiness probes: the store always, and the embedder
// when it is a local server that can be probed without spending tokens.
func (s *stack) pingers() []server.Pinger {
	pingers := []server.Pinger{s.store}
	if p, ok := unwrapEmbedder(s.embedder).(interface{ Ping(context.Context) error }); ok {
		pingers = append(pingers, server.PingFunc(string(s.provider.Backend), p.Ping))
	}
	return pingers
}

// unwrapEmbedder strips client-side batching.
func unwrapEmbedder(e rag.Embedder) rag.Embedder {
	for {
		u, ok := e.(interface{ Unwrap() rag.Embedder })
		if !ok {
			return e
		}
		e = u.Unwrap()
	}
}

// serverConfigFromEnv reads the HTTP server settings.
func serverConfigFromEnv() (*server.Config, error) {
	port, err := config.Int("PLANTAI_PORT", 8000)
	if err != nil {
		return nil, err
	}
	rps, err := config.Float("RATE_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	burst, err := config.Int("RATE_BURST", 20)
	if err != nil {
		return nil, err
	}
	maxUpload, err := config.Int64("UPLOAD_MAX_BYTES", 512<<20)
	if err != nil {
		return nil, err
	}
	expose, err := config.Bool("PLANTAI_EXPOSE_ERRORS", false)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := config.Int("HTTP_WRITE_TIMEOUT_SECONDS", 1800)
	if err != nil {
		return nil, err
	}

	return &server.Config{
		Host:           config.String("PLANTAI_HOST", "127.0.0.1"),
		Port:           port,
		WriteTimeout:   time.Duration(writeTimeout) * time.Second,
		RateLimit:      rps,
		RateBurst:      burst,
		APIKey:         config.String("PLANTAI_API_KEY", ""),
		CORSOrigins:    config.List("CORS_ORIGINS", []string{"http://localhost:5173"}),
		UploadMaxBytes: maxUpload,
		ExposeErrors:   expose,
		StagingDir:     config.String("PLANTAI_STAGING_DIR", ""),
	}, nil
}
