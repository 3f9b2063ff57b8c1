package subprocess

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"embedd/internal/backend"
)

func testBatch(seqs ...[]uint32) *backend.Batch {
	maxLen := 0
	for _, s := range seqs {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	b := &backend.Batch{Kind: backend.Embed, MaxLength: maxLen}
	for _, s := range seqs {
		ids := make([]uint32, maxLen)
		mask := make([]uint32, maxLen)
		copy(ids, s)
		for j := range s {
			mask[j] = 1
		}
		b.InputIDs = append(b.InputIDs, ids)
		b.TypeIDs = append(b.TypeIDs, make([]uint32, maxLen))
		b.AttentionMask = append(b.AttentionMask, mask)
	}
	return b
}

// attach points the engine at a running server without spawning a process.
func attach(t *testing.T, h http.Handler) *Engine {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	e := New(Config{Bin: "unused"}, zerolog.Nop(), nil)
	e.proc = &procInfo{baseURL: ts.URL, ready: true}
	return e
}

func TestInfer_SendsUnpaddedTokens(t *testing.T) {
	var got [][]uint32
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		got = req.Input
		// answer out of order; the engine must place by index
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[2,2]},{"index":0,"embedding":[1,1]}]}`))
	})
	e := attach(t, mux)
	out, err := e.Infer(context.Background(), testBatch([]uint32{1, 2, 3}, []uint32{4}))
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if len(got) != 2 || len(got[0]) != 3 || len(got[1]) != 1 {
		t.Fatalf("server saw padded input: %v", got)
	}
	if out[0].Values[0] != 1 || out[1].Values[0] != 2 {
		t.Fatalf("outputs misplaced: %+v", out)
	}
}

func TestInfer_ErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		check  func(error) bool
	}{
		{http.StatusBadRequest, "input too long", backend.IsInvalidInput},
		{http.StatusInternalServerError, "failed to allocate: out of memory", backend.IsOutOfMemory},
		{http.StatusServiceUnavailable, "busy", backend.IsOutOfMemory},
		{http.StatusInternalServerError, "crash", func(err error) bool {
			k, ok := backend.KindOf(err)
			return ok && k == backend.Internal
		}},
	}
	for _, c := range cases {
		c := c
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, c.body, c.status)
		})
		e := attach(t, mux)
		_, err := e.Infer(context.Background(), testBatch([]uint32{1}))
		if !c.check(err) {
			t.Fatalf("status %d body %q: unexpected error %v", c.status, c.body, err)
		}
	}
}

func TestInfer_MissingMember(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	})
	e := attach(t, mux)
	if _, err := e.Infer(context.Background(), testBatch([]uint32{1}, []uint32{2})); err == nil {
		t.Fatalf("expected error for missing member")
	}
}

func TestInfer_UnsupportedKind(t *testing.T) {
	e := New(Config{}, zerolog.Nop(), nil)
	b := testBatch([]uint32{1})
	b.Kind = backend.Rerank
	if _, err := e.Infer(context.Background(), b); !backend.IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if e.Supports(backend.Rerank) || !e.Supports(backend.Embed) {
		t.Fatalf("unexpected Supports result")
	}
}

func TestHealth_NoBinary(t *testing.T) {
	e := New(Config{}, zerolog.Nop(), nil)
	err := e.Health(context.Background())
	if !backend.IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}

func TestArgs(t *testing.T) {
	e := New(Config{ModelPath: "/m.gguf", CtxSize: 512, NGL: 10, Threads: 4, ExtraArgs: []string{"--pooling", "mean"}}, zerolog.Nop(), nil)
	got := strings.Join(e.args(8081), " ")
	want := "-m /m.gguf --host 127.0.0.1 --port 8081 --embedding -c 512 -ngl 10 -t 4 --pooling mean"
	if got != want {
		t.Fatalf("args:\n got %q\nwant %q", got, want)
	}
}

func TestPickFreePort(t *testing.T) {
	p, err := pickFreePort("127.0.0.1")
	if err != nil || p <= 0 {
		t.Fatalf("pickFreePort: %d %v", p, err)
	}
	if _, err := pickPortInRange("127.0.0.1", p, p); err != nil {
		t.Fatalf("pickPortInRange: %v", err)
	}
}

func TestClose_WithoutProcess(t *testing.T) {
	e := New(Config{}, zerolog.Nop(), nil)
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if e.PID() != 0 {
		t.Fatalf("expected no pid")
	}
}
