// Package ragtest provides deterministic in-process fakes of the rag
// contracts for use in tests.
package ragtest

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Embedder maps each text to a deterministic vector: identical texts get
// identical vectors. It records every call.
type Embedder struct {
	// Dim is the vector length. Defaults to 8.
	Dim int
	// Err, when set, is returned by Embed.
	Err error
	// FailAfter makes Embed fail once it has been called this many times.
	// Zero disables it.
	FailAfter int

	mu    sync.Mutex
	calls [][]string
}

// Embed returns one vector per text.
func (e *Embedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, append([]string(nil), texts...))
	if e.Err != nil {
		return nil, e.Err
	}
	if e.FailAfter > 0 && len(e.calls) > e.FailAfter {
		return nil, errors.New("ragtest: embedder failure injected")
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t, e.dim())
	}
	return out, nil
}

// Dimensions reports Dim.
func (e *Embedder) Dimensions(context.Context) (int, error) { return e.dim(), nil }

// Calls returns a copy of the batches passed to Embed.
func (e *Embedder) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.calls...)
}

func (e *Embedder) dim() int {
	if e.Dim <= 0 {
		return 8
	}
	return e.Dim
}

// Vector derives a non-zero vector of length dim from text.
func Vector(text string, dim int) []float32 {
	v := make([]float32, dim)
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(seed>>40)/float32(1<<24) + 0.01
	}
	return v
}

// ChatModel is a scripted chat model that records the prompts it receives.
type ChatModel struct {
	// Reply is returned as the assistant message content.
	Reply string
	// Err, when set, is returned by Generate.
	Err error

	mu      sync.Mutex
	prompts [][]*schema.Message
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// Generate records input and returns Reply.
func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, input)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return schema.AssistantMessage(m.Reply, nil), nil
}

// Stream is not supported.
func (m *ChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("ragtest: streaming not supported")
}

// Prompts returns every message list passed to Generate.
func (m *ChatModel) Prompts() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.prompts...)
}
