// Package ingestion walks a directory tree and stores every page of every
// file as embedded chunks: extract, chunk, embed, insert.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/54b3r/plantai-go/internal/chunk"
	"github.com/54b3r/plantai-go/internal/extract"
	"github.com/54b3r/plantai-go/internal/logging"
	"github.com/54b3r/plantai-go/internal/rag"
)

// CommitMode sets the transaction boundary of an ingestion run.
type CommitMode string

const (
	// CommitWalk commits once after the whole tree. Any failure discards
	// the entire run.
	CommitWalk CommitMode = "walk"
	// CommitFile commits after each file. A failure discards only the file
	// being processed; earlier files stay stored.
	CommitFile CommitMode = "file"
)

// ParseCommitMode accepts "walk", "file" or "" (walk).
func ParseCommitMode(s string) (CommitMode, error) {
	switch CommitMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", CommitWalk:
		return CommitWalk, nil
	case CommitFile:
		return CommitFile, nil
	default:
		return "", fmt.Errorf("ingestion: unknown commit mode %q (want walk or file)", s)
	}
}

// Extractor yields the text units of one file.
type Extractor interface {
	Extract(ctx context.Context, path string) iter.Seq2[extract.Page, error]
}

// Options describe one ingestion run.
type Options struct {
	// Label is stored as the record source: local, upload or sharepoint.
	Label string
	// URI maps a file's slash-separated path relative to the root to the
	// stored URI. Nil stores the file's absolute path.
	URI func(rel string) string
}

// PrefixURI returns a URI mapper that prepends prefix to the relative path.
func PrefixURI(prefix string) func(rel string) string {
	return func(rel string) string { return prefix + rel }
}

// Stats summarises a run. In file commit mode a failed run reports the
// files committed before the failure.
type Stats struct {
	Files  int `json:"files"`
	Pages  int `json:"pages"`
	Chunks int `json:"chunks"`
}

// Pipeline runs ingestion. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	extractor Extractor
	chunker   *chunk.Chunker
	embedder  rag.Embedder
	store     rag.Store
	mode      CommitMode
}

// NewPipeline wires the ingestion stages together.
func NewPipeline(ex Extractor, ch *chunk.Chunker, emb rag.Embedder, st rag.Store, mode CommitMode) (*Pipeline, error) {
	if ex == nil {
		return nil, errors.New("ingestion: extractor must not be nil")
	}
	if ch == nil {
		return nil, errors.New("ingestion: chunker must not be nil")
	}
	if emb == nil {
		return nil, errors.New("ingestion: embedder must not be nil")
	}
	if st == nil {
		return nil, errors.New("ingestion: store must not be nil")
	}
	if mode == "" {
		mode = CommitWalk
	}
	return &Pipeline{extractor: ex, chunker: ch, embedder: emb, store: st, mode: mode}, nil
}

// Mode reports the configured commit mode.
func (p *Pipeline) Mode() CommitMode { return p.mode }

// Ingest stores every regular file under root. The first error rolls back
// the open unit of work and ends the run. Ingesting the same tree twice
// stores duplicate records.
func (p *Pipeline) Ingest(ctx context.Context, root string, opts Options) (Stats, error) {
	log := logging.FromContext(ctx)
	started := time.Now()

	root, err := filepath.Abs(root)
	if err != nil {
		return Stats{}, fmt.Errorf("ingestion: resolve %s: %w", root, err)
	}

	var committed, pending Stats
	w, err := p.store.Begin(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("ingestion: %w", err)
	}
	defer func() {
		if w != nil {
			if rerr := w.Rollback(); rerr != nil {
				log.Warn("ingestion: rollback failed", slog.String("error", rerr.Error()))
			}
		}
	}()

	for path, err := range Files(root) {
		if err != nil {
			return committed, fmt.Errorf("ingestion: walk %s: %w", root, err)
		}
		if err := ctx.Err(); err != nil {
			return committed, fmt.Errorf("ingestion: %w", err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return committed, fmt.Errorf("ingestion: %w", err)
		}
		rel = filepath.ToSlash(rel)
		uri := path
		if opts.URI != nil {
			uri = opts.URI(rel)
		}

		pages, chunks, err := p.ingestFile(ctx, w, path, uri, opts.Label)
		if err != nil {
			return committed, err
		}
		pending.Files++
		pending.Pages += pages
		pending.Chunks += chunks
		log.Debug("ingestion: file staged",
			slog.String("path", rel),
			slog.Int("pages", pages),
			slog.Int("chunks", chunks),
		)

		if p.mode == CommitFile {
			if err := w.Commit(); err != nil {
				return committed, fmt.Errorf("ingestion: commit %s: %w", rel, err)
			}
			committed = add(committed, pending)
			pending = Stats{}
			if w, err = p.store.Begin(ctx); err != nil {
				return committed, fmt.Errorf("ingestion: %w", err)
			}
		}
	}

	if err := w.Commit(); err != nil {
		return committed, fmt.Errorf("ingestion: commit: %w", err)
	}
	w = nil
	committed = add(committed, pending)

	log.Info("ingestion: complete",
		slog.String("label", opts.Label),
		slog.String("root", root),
		slog.String("commit_mode", string(p.mode)),
		slog.Int("files", committed.Files),
		slog.Int("pages", committed.Pages),
		slog.Int("chunks", committed.Chunks),
		slog.Duration("duration", time.Since(started)),
	)
	return committed, nil
}

// ingestFile stages every page of one file into w and returns how many pages
// were read and how many chunks were inserted.
func (p *Pipeline) ingestFile(ctx context.Context, w rag.Writer, path, uri, label string) (int, int, error) {
	name := filepath.Base(path)
	pages, chunks := 0, 0

	for page, err := range p.extractor.Extract(ctx, path) {
		if err != nil {
			return pages, chunks, fmt.Errorf("ingestion: extract %s: %w", path, err)
		}
		pages++

		texts := p.chunker.Split(page.Text)
		if len(texts) == 0 {
			continue
		}

		vecs, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return pages, chunks, fmt.Errorf("ingestion: embed %s page %d: %w", path, page.Number, err)
		}
		if len(vecs) != len(texts) {
			return pages, chunks, fmt.Errorf("ingestion: embed %s page %d: got %d vectors for %d chunks", path, page.Number, len(vecs), len(texts))
		}

		recs := make([]rag.Record, len(texts))
		for i, text := range texts {
			recs[i] = rag.Record{
				SourceLabel: label,
				URI:         uri,
				Page:        page.Number,
				ChunkID:     ChunkID(name, page.Number, i),
				Content:     text,
				Embedding:   vecs[i],
			}
		}
		if err := w.Insert(ctx, recs); err != nil {
			return pages, chunks, fmt.Errorf("ingestion: store %s page %d: %w", path, page.Number, err)
		}
		chunks += len(recs)
	}
	return pages, chunks, nil
}

// ChunkID formats the per-chunk identifier "{filename}#p{page}#c{index}".
func ChunkID(filename string, page, index int) string {
	return fmt.Sprintf("%s#p%d#c%d", filename, page, index)
}

func add(a, b Stats) Stats {
	return Stats{Files: a.Files + b.Files, Pages: a.Pages + b.Pages, Chunks: a.Chunks + b.Chunks}
}
