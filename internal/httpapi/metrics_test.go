package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"embedd/internal/queue"
)

func scrape(t *testing.T) []byte {
	t.Helper()
	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rec.Code)
	}
	return rec.Body.Bytes()
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	w := postJSON(&mockService{}, "/tables/faq/documents", `{"documents":[{"text":"a"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := scrape(t)
	if !bytes.Contains(body, []byte("embedd_http_requests_total")) {
		t.Fatalf("missing embedd_http_requests_total")
	}
	if !bytes.Contains(body, []byte(`route="/tables/{table}/documents"`)) {
		t.Fatalf("expected route pattern label")
	}
	if bytes.Contains(body, []byte(`route="/tables/faq/documents"`)) {
		t.Fatalf("raw path leaked into labels")
	}
	if !bytes.Contains(body, []byte("embedd_http_response_size_bytes")) {
		t.Fatalf("missing response size histogram")
	}
}

func TestMetricsMiddleware_UnmatchedRoutesShareOneLabel(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(unmatchedRoute, http.MethodGet, "404"))
	h := NewMux(&mockService{})
	for _, p := range []string{"/nope", "/random/path/1", "/random/path/2"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: status=%d", p, rec.Code)
		}
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(unmatchedRoute, http.MethodGet, "404")); got != before+3 {
		t.Fatalf("unmatched count=%v want %v", got, before+3)
	}
	if bytes.Contains(scrape(t), []byte(`route="/random/path/1"`)) {
		t.Fatalf("unrouted path leaked into labels")
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("embedd_http_inflight_requests")) {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestIncrementBackpressure_IncrementsCounter(t *testing.T) {
	baseline := testutil.ToFloat64(backpressureTotal.WithLabelValues(reasonQueueFull))
	postJSON(&mockService{err: queue.ErrQueueFull(1)}, "/embed", `{"inputs":"x"}`)
	IncrementBackpressure(reasonQueueFull)
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues(reasonQueueFull)); got != baseline+2 {
		t.Fatalf("queue_full=%v want %v", got, baseline+2)
	}

	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	if after := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified")); after != before+1 {
		t.Fatalf("unspecified: before=%v after=%v", before, after)
	}
}
