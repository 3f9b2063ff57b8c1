//go:build llama

package llamacpp

import (
	"context"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"embedd/internal/backend"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// Engine owns the loaded model.
type Engine struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
	ctxSize int
}

// New loads the model with embeddings enabled.
func New(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, backend.ErrDependencyUnavailable("llama model path is empty")
	}
	ctxSize := cfg.ContextSize
	if ctxSize <= 0 {
		ctxSize = defaultContextSize
	}
	mo := []llama.ModelOption{
		llama.EnableEmbeddings,
		llama.SetContext(ctxSize),
	}
	if cfg.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(cfg.GPULayers))
	}
	m, err := llama.New(cfg.ModelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &Engine{model: m, threads: max(1, cfg.Threads), ctxSize: ctxSize}, nil
}

// Only embeddings are exposed by the binding.
func (e *Engine) Supports(k backend.Kind) bool { return k == backend.Embed }

func (e *Engine) Health(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return backend.ErrInternal("llama model not initialized")
	}
	return ctx.Err()
}

func (e *Engine) Infer(ctx context.Context, b *backend.Batch) ([]backend.Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil, backend.ErrInternal("llama model not initialized")
	}
	if b.Kind != backend.Embed {
		return nil, backend.ErrInvalidInput("llama engine does not support %s", b.Kind)
	}
	if b.MaxLength > e.ctxSize {
		return nil, backend.ErrInvalidInput("sequence length %d exceeds context size %d", b.MaxLength, e.ctxSize)
	}
	out := make([]backend.Output, b.Size())
	for i := range out {
		toks := b.Tokens(i)
		ids := make([]int, len(toks))
		for j, t := range toks {
			ids[j] = int(t)
		}
		vec, err := e.model.TokenEmbeddings(ids, llama.SetThreads(e.threads))
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "memory") {
				return nil, backend.ErrOutOfMemory("%v", err)
			}
			return nil, backend.ErrInternal("%v", err)
		}
		out[i].Values = vec
	}
	return out, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}
