// Package fallback is a pure-Go reference engine. It has no learned weights:
// every token id maps to a fixed pseudo-random vector, sequences pool those
// vectors over the attention mask, and results are RMS-normalized. Outputs are
// deterministic, which makes it the default engine for tests and for builds
// without CGO.
package fallback

import (
	"context"
	"math"
	"sync/atomic"

	"embedd/internal/backend"
)

const defaultDim = 384

// Config tunes the engine.
type Config struct {
	// Dim is the embedding width (default 384).
	Dim int
	// Pooling collapses token vectors; cls weights early positions most.
	Pooling backend.Pooling
	// Labels is the number of Predict classes (default 2).
	Labels int
	// VocabSize rejects token ids >= VocabSize as invalid input (0 disables).
	VocabSize int
	// CapacityTokens simulates device memory: batches whose padded token count
	// exceeds it fail with OutOfMemory (0 disables).
	CapacityTokens int
}

// Engine implements backend.Backend.
type Engine struct {
	cfg    Config
	closed atomic.Bool
	calls  atomic.Int64
}

var _ backend.Backend = (*Engine)(nil)

// New constructs an engine, applying defaults to unset fields.
func New(cfg Config) *Engine {
	if cfg.Dim <= 0 {
		cfg.Dim = defaultDim
	}
	if cfg.Pooling == "" {
		cfg.Pooling = backend.PoolCLS
	}
	if cfg.Labels <= 0 {
		cfg.Labels = 2
	}
	return &Engine{cfg: cfg}
}

// Dim returns the embedding width.
func (e *Engine) Dim() int { return e.cfg.Dim }

// Calls returns how many batches the engine has run.
func (e *Engine) Calls() int64 { return e.calls.Load() }

func (e *Engine) Supports(k backend.Kind) bool {
	switch k {
	case backend.Embed, backend.Rerank, backend.Predict:
		return true
	}
	return false
}

func (e *Engine) Health(ctx context.Context) error {
	if e.closed.Load() {
		return backend.ErrInternal("engine closed")
	}
	return ctx.Err()
}

func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *Engine) Infer(ctx context.Context, b *backend.Batch) ([]backend.Output, error) {
	if e.closed.Load() {
		return nil, backend.ErrInternal("engine closed")
	}
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, backend.ErrInternal("%v", err)
	}
	if c := e.cfg.CapacityTokens; c > 0 && b.MaxLength*b.Size() > c {
		return nil, backend.ErrOutOfMemory("batch needs %d padded tokens, capacity %d", b.MaxLength*b.Size(), c)
	}
	if !e.Supports(b.Kind) {
		return nil, backend.ErrInvalidInput("unsupported operation %s", b.Kind)
	}
	if v := e.cfg.VocabSize; v > 0 {
		for i := range b.InputIDs {
			for j, id := range b.InputIDs[i] {
				if b.AttentionMask[i][j] != 0 && int(id) >= v {
					return nil, backend.ErrInvalidInput("token id %d out of vocabulary (%d)", id, v)
				}
			}
		}
	}

	out := make([]backend.Output, b.Size())
	for i := range out {
		switch b.Kind {
		case backend.Embed:
			out[i].Values = e.pool(b, i, -1)
		case backend.Rerank:
			q := e.pool(b, i, 0)
			d := e.pool(b, i, 1)
			if q == nil || d == nil {
				return nil, backend.ErrInvalidInput("rerank member %d lacks a query or text segment", i)
			}
			score := (backend.Cosine(q, d) + 1) / 2
			out[i].Values = []float32{score}
		case backend.Predict:
			out[i].Values = e.logits(e.pool(b, i, -1))
		}
	}
	return out, nil
}

// pool collapses the real tokens of row i. segment < 0 takes every token,
// otherwise only tokens whose type id equals segment. Returns nil when no
// token qualifies.
func (e *Engine) pool(b *backend.Batch, i, segment int) []float32 {
	acc := make([]float32, e.cfg.Dim)
	var weight float32
	var last uint32
	n := 0
	for j, id := range b.InputIDs[i] {
		if b.AttentionMask[i][j] == 0 {
			continue
		}
		if segment >= 0 && (b.TypeIDs == nil || int(b.TypeIDs[i][j]) != segment) {
			continue
		}
		var w float32
		switch e.cfg.Pooling {
		case backend.PoolMean:
			w = 1
		case backend.PoolLast:
			last = id
			n++
			continue
		default:
			w = 1 / float32(1+n)
		}
		addTokenVector(acc, id, w)
		weight += w
		n++
	}
	if n == 0 {
		return nil
	}
	if e.cfg.Pooling == backend.PoolLast {
		addTokenVector(acc, last, 1)
		weight = 1
	}
	for k := range acc {
		acc[k] /= weight
	}
	rmsNorm(acc)
	return acc
}

// logits projects v onto one fixed direction per label.
func (e *Engine) logits(v []float32) []float32 {
	out := make([]float32, e.cfg.Labels)
	if v == nil {
		return out
	}
	dir := make([]float32, e.cfg.Dim)
	for l := range out {
		for k := range dir {
			dir[k] = 0
		}
		addTokenVector(dir, uint32(1<<31)+uint32(l), 1)
		out[l] = backend.Cosine(v, dir) * 4
	}
	return out
}

// addTokenVector adds w times the fixed vector of token id to acc.
func addTokenVector(acc []float32, id uint32, w float32) {
	s := uint64(id)*0x9E3779B97F4A7C15 + 0x632BE59BD9B4E019
	for k := range acc {
		s = splitmix64(s)
		// map to [-1, 1)
		x := float32(int64(s>>11))/float32(1<<52) - 1
		acc[k] += w * x
	}
}

func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

func rmsNorm(values []float32) {
	const epsilon = 1e-5
	var sumX2 float64
	for _, v := range values {
		sumX2 += float64(v) * float64(v)
	}
	mean := sumX2 / float64(len(values))
	rms := float32(1.0 / math.Sqrt(mean+epsilon))
	for i := range values {
		values[i] *= rms
	}
}
