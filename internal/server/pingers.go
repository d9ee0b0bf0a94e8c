package server

import "context"

// Pinger is the interface implemented by any dependency that can report its
// own reachability. Each implementation must return nil when the dependency
// is healthy and a descriptive error otherwise.
// Implementations must be safe to call from multiple goroutines.
// Every rag.Store satisfies it.
type Pinger interface {
	// Ping checks whether the dependency is reachable within the given context.
	Ping(ctx context.Context) error
	// Name returns a short label used in readiness responses
	// (e.g. "ollama", "postgres").
	Name() string
}

// PingFunc adapts a probe function into a Pinger.
func PingFunc(name string, fn func(context.Context) error) Pinger {
	return &funcPinger{name: name, fn: fn}
}

type funcPinger struct {
	name string
	fn   func(context.Context) error
}

func (p *funcPinger) Name() string                   { return p.name }
func (p *funcPinger) Ping(ctx context.Context) error { return p.fn(ctx) }
