//go:build !llama

package llamacpp

import (
	"context"

	"embedd/internal/backend"
)

var llamaBuilt = false

// Engine is a stub that satisfies backend.Backend but refuses to run
// without the 'llama' build tag.
type Engine struct{}

// New fails fast: llama runtime not available in this build.
func New(cfg Config) (*Engine, error) {
	return nil, backend.ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (e *Engine) Supports(k backend.Kind) bool { return false }

func (e *Engine) Health(ctx context.Context) error {
	return backend.ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (e *Engine) Infer(ctx context.Context, b *backend.Batch) ([]backend.Output, error) {
	return nil, backend.ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}

func (e *Engine) Close() error { return nil }
