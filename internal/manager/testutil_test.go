package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"embedd/internal/backend"
	"embedd/internal/backend/fallback"
	"embedd/internal/events"
	"embedd/internal/queue"
	"embedd/internal/search"
	"embedd/internal/tokenize"
)

func testConfig() Config {
	return Config{
		ModelID:   "test-model",
		Backend:   "fallback",
		Tokenizer: "simple",
		Pooling:   "cls",
		Queue: queue.Config{
			MaxBatchRequests: 8,
			MaxBatchTokens:   4096,
			MaxQueueSize:     64,
		},
		MaxInputLength:      16,
		MaxClientBatchSize:  8,
		TokenizationWorkers: 2,
	}
}

// newFallbackManager builds a ready manager over the pure-Go engine.
func newFallbackManager(t *testing.T, cfg Config, store *search.Store) (*Manager, *events.Memory) {
	t.Helper()
	pub := events.NewMemory()
	m, err := New(cfg, Deps{
		Backend:   fallback.New(fallback.Config{Dim: 32, Labels: len(cfg.Labels)}),
		Tokenizer: tokenize.NewSimple(0),
		Store:     store,
		Publisher: pub,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, pub
}

// gatedBackend lets a test release backend calls one at a time.
type gatedBackend struct {
	mu       sync.Mutex
	calls    []*backend.Batch
	tokens   chan struct{}
	started  chan struct{}
	errs     []error
	supports map[backend.Kind]bool
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{tokens: make(chan struct{}), started: make(chan struct{}, 64)}
}

func (g *gatedBackend) Infer(ctx context.Context, b *backend.Batch) ([]backend.Output, error) {
	g.mu.Lock()
	g.calls = append(g.calls, b)
	var err error
	if len(g.errs) > 0 {
		err, g.errs = g.errs[0], g.errs[1:]
	}
	g.mu.Unlock()
	g.started <- struct{}{}
	<-g.tokens
	if err != nil {
		return nil, err
	}
	out := make([]backend.Output, b.Size())
	for i := range out {
		out[i] = backend.Output{Values: []float32{float32(len(b.Tokens(i))), 1}}
	}
	return out, nil
}

func (g *gatedBackend) Supports(k backend.Kind) bool {
	if g.supports == nil {
		return true
	}
	return g.supports[k]
}

func (g *gatedBackend) Health(context.Context) error { return nil }
func (g *gatedBackend) Close() error                 { return nil }

func (g *gatedBackend) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// step lets exactly one in-flight call finish.
func (g *gatedBackend) step(t *testing.T) {
	t.Helper()
	select {
	case g.tokens <- struct{}{}:
	case <-time.After(3 * time.Second):
		t.Fatalf("no backend call waiting")
	}
}

func (g *gatedBackend) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(3 * time.Second):
		t.Fatalf("backend call never started")
	}
}

// drain releases every remaining call so the scheduler can stop.
func (g *gatedBackend) drain() {
	close(g.tokens)
}

func newGatedManager(t *testing.T, cfg Config, g *gatedBackend) *Manager {
	t.Helper()
	m, err := New(cfg, Deps{Backend: g, Tokenizer: tokenize.NewSimple(0), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() {
		g.drain()
		_ = m.Close()
	})
	return m
}

type outcomeResult struct {
	vecs [][]float32
	err  error
}

func embedAsync(m *Manager, ctx context.Context, texts []string, opts Options) <-chan outcomeResult {
	ch := make(chan outcomeResult, 1)
	go func() {
		v, _, err := m.Embed(ctx, texts, opts)
		ch <- outcomeResult{vecs: v, err: err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan outcomeResult) outcomeResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatalf("request never returned")
		return outcomeResult{}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func boolPtr(b bool) *bool { return &b }
