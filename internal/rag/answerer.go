package rag

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/plantai-go/internal/budget"
	"github.com/54b3r/plantai-go/internal/logging"
)

// DefaultContextChars caps the characters of each hit placed in the prompt.
const DefaultContextChars = 2000

// SystemPrompt instructs the model to stay grounded in the supplied context.
const SystemPrompt = "You are PlantAI, an industrial RAG assistant. " +
	"Answer using only the provided context. " +
	"If unsure, say you don't know. " +
	"Always cite sources as [filename p.X] inline."

// AnswererConfig tunes prompt assembly.
type AnswererConfig struct {
	// ContextChars caps each hit's content. Defaults to DefaultContextChars.
	ContextChars int
	// MaxPromptTokens drops the least relevant hits until the estimated
	// prompt fits. Zero means unlimited.
	MaxPromptTokens int
}

// Answerer produces a grounded answer from a question and retrieved hits
// with a single chat completion.
type Answerer struct {
	// model is the chat backend.
	model model.BaseChatModel

	// cfg holds prompt assembly settings.
	cfg AnswererConfig
}

// NewAnswerer returns an Answerer backed by m.
func NewAnswerer(m model.BaseChatModel, cfg AnswererConfig) (*Answerer, error) {
	if m == nil {
		return nil, fmt.Errorf("rag: chat model must not be nil")
	}
	if cfg.ContextChars <= 0 {
		cfg.ContextChars = DefaultContextChars
	}
	return &Answerer{model: m, cfg: cfg}, nil
}

// Answer asks the model to answer question from hits. The model is called
// even when hits is empty so it can say it does not know.
func (a *Answerer) Answer(ctx context.Context, question string, hits []Hit) (string, error) {
	log := logging.FromContext(ctx)

	msgs := a.Messages(question, hits)
	start := time.Now()
	resp, err := a.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("rag: chat completion failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("rag: chat completion returned no message")
	}

	log.Info("rag: answered",
		slog.Int("context_hits", len(hits)),
		slog.Int("prompt_tokens_est", budget.EstimateMessages(msgs)),
		slog.Int("answer_chars", len(resp.Content)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return resp.Content, nil
}

// Messages builds the system and user messages sent to the model.
func (a *Answerer) Messages(question string, hits []Hit) []*schema.Message {
	blocks := make([]string, len(hits))
	for i, h := range hits {
		blocks[i] = contextBlock(i+1, h, a.cfg.ContextChars)
	}

	question = "Question: " + question
	fixed := budget.Estimate(SystemPrompt) + budget.Estimate(question)
	blocks = budget.FitBlocks(blocks, fixed, a.cfg.MaxPromptTokens)

	var user strings.Builder
	user.WriteString(strings.Join(blocks, "\n\n"))
	user.WriteString("\n\n")
	user.WriteString(question)

	return []*schema.Message{
		schema.SystemMessage(SystemPrompt),
		schema.UserMessage(user.String()),
	}
}

// contextBlock renders hit n as "[DOC{n}] {name} (p.{page})\n{content}".
func contextBlock(n int, h Hit, maxChars int) string {
	return fmt.Sprintf("[DOC%d] %s (p.%d)\n%s", n, citationName(h.Record), h.Page, truncate(h.Content, maxChars))
}

// citationName prefers the file name so the model can cite [filename p.X];
// the source label is the fallback when the URI is empty.
func citationName(r Record) string {
	if r.URI != "" {
		if base := filepath.Base(r.URI); base != "." && base != string(filepath.Separator) {
			return base
		}
	}
	return r.SourceLabel
}

// truncate returns the first n characters of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
