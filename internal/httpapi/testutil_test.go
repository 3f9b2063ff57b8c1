package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"embedd/internal/manager"
	"embedd/pkg/types"
)

// mockService records the last call and returns canned results.
type mockService struct {
	mu     sync.Mutex
	ready  bool
	status types.StatusResponse
	info   types.InfoResponse
	err    error
	block  bool
	timing manager.Timing

	lastTexts []string
	lastQuery string
	lastTable string
	lastTopK  int
	lastOpts  manager.Options
	lastDocs  []types.Document
	lastDocID string
	deleted   int
}

func (m *mockService) record(texts []string, opts manager.Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTexts = append([]string(nil), texts...)
	m.lastOpts = opts
}

func (m *mockService) wait(ctx context.Context) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.err
}

func (m *mockService) Embed(ctx context.Context, texts []string, opts manager.Options) ([][]float32, manager.Timing, error) {
	m.record(texts, opts)
	if err := m.wait(ctx); err != nil {
		return nil, manager.Timing{}, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, m.timing, nil
}

func (m *mockService) Rerank(ctx context.Context, query string, texts []string, opts manager.Options) ([]types.Rank, manager.Timing, error) {
	m.record(texts, opts)
	m.mu.Lock()
	m.lastQuery = query
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return nil, manager.Timing{}, err
	}
	ranks := make([]types.Rank, len(texts))
	for i := range texts {
		ranks[i] = types.Rank{Index: len(texts) - 1 - i, Score: 1 / float32(i+1)}
	}
	return ranks, m.timing, nil
}

func (m *mockService) Predict(ctx context.Context, texts []string, opts manager.Options) ([][]types.Prediction, manager.Timing, error) {
	m.record(texts, opts)
	if err := m.wait(ctx); err != nil {
		return nil, manager.Timing{}, err
	}
	out := make([][]types.Prediction, len(texts))
	for i := range texts {
		out[i] = []types.Prediction{{Label: "positive", Score: 0.9}, {Label: "negative", Score: 0.1}}
	}
	return out, m.timing, nil
}

func (m *mockService) Index(ctx context.Context, table string, docs []types.Document) ([]string, error) {
	m.mu.Lock()
	m.lastTable = table
	m.lastDocs = docs
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		if ids[i] == "" {
			ids[i] = "generated"
		}
	}
	return ids, nil
}

func (m *mockService) Search(ctx context.Context, table, question string, topK int) ([]types.SearchHit, error) {
	m.mu.Lock()
	m.lastTable, m.lastQuery, m.lastTopK = table, question, topK
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return []types.SearchHit{{ID: "1", Source: table, Similarity: 0.8, Distance: 0.2, Code: "C1"}}, nil
}

func (m *mockService) Document(table, id string) (types.Document, error) {
	m.mu.Lock()
	m.lastTable, m.lastDocID = table, id
	m.mu.Unlock()
	if m.err != nil {
		return types.Document{}, m.err
	}
	return types.Document{ID: id, Text: "stored", Source: table}, nil
}

func (m *mockService) DeleteDocument(table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTable, m.lastDocID = table, id
	if m.err != nil {
		return m.err
	}
	m.deleted++
	return nil
}

func (m *mockService) Info() types.InfoResponse     { return m.info }
func (m *mockService) Status() types.StatusResponse { return m.status }
func (m *mockService) Ready() bool                  { return m.ready }

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

// postJSON sends body to path through a fresh mux.
func postJSON(svc Service, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	NewMux(svc).ServeHTTP(rec, req)
	return rec
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
