package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"embedd/internal/backend"
	"embedd/internal/backend/fallback"
	"embedd/internal/httpapi"
	"embedd/internal/manager"
	"embedd/internal/queue"
	"embedd/internal/search"
	"embedd/internal/tokenize"
)

func baseConfig() manager.Config {
	return manager.Config{
		ModelID:   "e2e",
		Backend:   "fallback",
		Tokenizer: "simple",
		Labels:    []string{"negative", "positive"},
		Queue: queue.Config{
			MaxBatchRequests: 8,
			MaxBatchTokens:   4096,
			MaxQueueSize:     64,
		},
		MaxInputLength:     16,
		MaxClientBatchSize: 8,
	}
}

// newServer starts an HTTP server over a manager built from cfg. A nil
// backend means the fallback engine.
func newServer(t *testing.T, cfg manager.Config, be backend.Backend) (*httptest.Server, *manager.Manager) {
	t.Helper()
	if be == nil {
		be = fallback.New(fallback.Config{Dim: 32, Labels: len(cfg.Labels)})
	}
	store, err := search.Open(filepath.Join(t.TempDir(), "search"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	mgr, err := manager.New(cfg, manager.Deps{
		Backend:   be,
		Tokenizer: tokenize.NewSimple(0),
		Store:     store,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(mgr))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
	})
	return srv, mgr
}

// gatedBackend holds every batch until release is closed.
type gatedBackend struct {
	*fallback.Engine
	started chan struct{}
	release chan struct{}
}

func newGatedBackend() *gatedBackend {
	return &gatedBackend{
		Engine:  fallback.New(fallback.Config{Dim: 32}),
		started: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
}

func (g *gatedBackend) Infer(ctx context.Context, b *backend.Batch) ([]backend.Output, error) {
	g.started <- struct{}{}
	<-g.release
	return g.Engine.Infer(ctx, b)
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// postJSON is safe to call from goroutines; failures surface as status 0.
func postJSON(url string, payload string) (*http.Response, []byte) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		return &http.Response{}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &http.Response{}, []byte(err.Error())
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
