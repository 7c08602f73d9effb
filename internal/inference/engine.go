// Package inference owns the language-model engine and serializes every call to it
// through a single worker fed by a bounded admission queue.
package inference

import "context"

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/mattjoyce/edgeclaw/internal/inference Engine

// Engine generates text from a prompt. Implementations need not be safe for concurrent
// use: the Worker guarantees at most one outstanding call.
type Engine interface {
	Infer(ctx context.Context, prompt string, p Params) (string, error)
	Name() string
}

// Opener constructs the engine. NewWorker calls it exactly once.
type Opener func() (Engine, error)

const (
	DefaultMaxTokens   = 512
	DefaultTemperature = 0.7
	maxTemperature     = 2.0
)

// Params are the generation parameters of one request.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// Normalize clamps MaxTokens to [1, maxTokensCap] and Temperature to [0, 2].
func (p Params) Normalize(maxTokensCap int) Params {
	if maxTokensCap <= 0 {
		maxTokensCap = DefaultMaxTokens
	}
	p.MaxTokens = min(max(p.MaxTokens, 1), maxTokensCap)
	p.Temperature = min(max(p.Temperature, 0), maxTemperature)
	return p
}
