package manager

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"embedd/internal/backend"
	"embedd/internal/queue"
)

func longText(words int) string {
	return strings.TrimSpace(strings.Repeat("word ", words))
}

func TestTooLongRejectsWholeRequest(t *testing.T) {
	g := newGatedBackend()
	m := newGatedManager(t, testConfig(), g)
	_, _, err := m.Embed(context.Background(), []string{"short text", longText(40)}, Options{Truncate: boolPtr(false)})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if code := err.(interface{ StatusCode() int }).StatusCode(); code != 413 {
		t.Fatalf("status: %d", code)
	}
	st := m.queue.Stats()
	if g.callCount() != 0 || st.Pending != 0 || st.Entries != 0 {
		t.Fatalf("valid sibling was submitted: calls=%d stats=%+v", g.callCount(), st)
	}
}

func TestTruncateShortensToMax(t *testing.T) {
	g := newGatedBackend()
	m := newGatedManager(t, testConfig(), g)
	ch := embedAsync(m, context.Background(), []string{longText(40)}, Options{Truncate: boolPtr(true)})
	g.waitStarted(t)
	g.step(t)
	r := waitResult(t, ch)
	if r.err != nil {
		t.Fatalf("embed: %v", r.err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if got := g.calls[0].MaxLength; got != testConfig().MaxInputLength {
		t.Fatalf("batch max length %d, want %d", got, testConfig().MaxInputLength)
	}
}

func TestDefaultTruncateApplies(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultTruncate = true
	m, _ := newFallbackManager(t, cfg, nil)
	if _, _, err := m.Embed(context.Background(), []string{longText(40)}, Options{}); err != nil {
		t.Fatalf("default truncate not applied: %v", err)
	}
	if _, _, err := m.Embed(context.Background(), []string{longText(40)}, Options{Truncate: boolPtr(false)}); !IsValidation(err) {
		t.Fatalf("request flag should override default: %v", err)
	}
}

func TestValidation(t *testing.T) {
	m, _ := newFallbackManager(t, testConfig(), nil)
	ctx := context.Background()
	cases := map[string][]string{
		"no inputs":  {},
		"empty text": {"ok", "   "},
		"too many":   {"a", "b", "c", "d", "e", "f", "g", "h", "i"},
		"bad utf8":   {"ok", "bad\xff"},
	}
	for name, texts := range cases {
		if _, _, err := m.Embed(ctx, texts, Options{}); !IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if _, _, err := m.Rerank(ctx, " ", []string{"x"}, Options{}); !IsValidation(err) {
		t.Fatalf("empty query: %v", err)
	}
	if _, _, err := m.Rerank(ctx, "q\xfe", []string{"x"}, Options{}); !IsValidation(err) {
		t.Fatalf("invalid utf8 query: %v", err)
	}
	if m.Status().RequestsFailed != 5 {
		t.Fatalf("failed count: %+v", m.Status())
	}
}

func TestEmbedKeepsInputOrder(t *testing.T) {
	m, _ := newFallbackManager(t, testConfig(), nil)
	ctx := context.Background()
	texts := []string{"alpha", "a much longer sentence here", "gamma delta"}
	batch, _, err := m.Embed(ctx, texts, Options{})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i, text := range texts {
		one, _, err := m.Embed(ctx, []string{text}, Options{})
		if err != nil {
			t.Fatalf("embed %d: %v", i, err)
		}
		if backend.Cosine(one[0], batch[i]) < 0.9999 {
			t.Fatalf("input %d out of order or padding-dependent", i)
		}
	}
}

func TestEmbedNormalize(t *testing.T) {
	m, _ := newFallbackManager(t, testConfig(), nil)
	ctx := context.Background()
	vecs, _, _ := m.Embed(ctx, []string{"hello world"}, Options{})
	if n := norm(vecs[0]); math.Abs(n-1) > 1e-4 {
		t.Fatalf("normalized norm %f", n)
	}
	raw, _, _ := m.Embed(ctx, []string{"hello world"}, Options{Normalize: boolPtr(false)})
	if n := norm(raw[0]); math.Abs(n-1) < 1e-3 {
		t.Fatalf("unnormalized vector has unit norm %f", n)
	}
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestSiblingFailureCancelsPendingSiblings(t *testing.T) {
	g := newGatedBackend()
	g.errs = []error{backend.ErrOutOfMemory("no room")}
	cfg := testConfig()
	cfg.Queue.MaxBatchRequests = 1
	m := newGatedManager(t, cfg, g)

	ch := embedAsync(m, context.Background(), []string{"one", "two", "three"}, Options{})
	g.waitStarted(t)
	eventually(t, "all entries enqueued", func() bool { return m.queue.Stats().Pending == 2 })
	g.step(t) // first entry fails
	r := waitResult(t, ch)
	if !backend.IsOutOfMemory(r.err) || !Retryable(r.err) {
		t.Fatalf("expected retryable out-of-memory, got %v", r.err)
	}
	// The second entry was scheduled as soon as the first finished; the
	// third was still pending and must have been withdrawn.
	eventually(t, "pending sibling cancelled", func() bool { return m.queue.Stats().Pending == 0 })
	g.waitStarted(t)
	g.step(t)
	eventually(t, "backend idle", func() bool { return !m.queue.Stats().Busy })
	if n := g.callCount(); n != 2 {
		t.Fatalf("backend calls: %d, want 2", n)
	}
}

func TestClientCancelWithdrawsEntries(t *testing.T) {
	g := newGatedBackend()
	cfg := testConfig()
	cfg.Queue.MaxBatchRequests = 1
	m := newGatedManager(t, cfg, g)

	ctx, cancel := context.WithCancel(context.Background())
	ch := embedAsync(m, ctx, []string{"one", "two", "three"}, Options{})
	g.waitStarted(t)
	eventually(t, "entries enqueued", func() bool { return m.queue.Stats().Pending == 2 })
	cancel()
	r := waitResult(t, ch)
	if reason, ok := queue.CancelReasonOf(r.err); !ok || reason != queue.ReasonClient {
		t.Fatalf("expected client cancellation, got %v", r.err)
	}
	eventually(t, "pending entries withdrawn", func() bool { return m.queue.Stats().Pending == 0 })
	g.step(t) // in-flight entry runs to completion
	eventually(t, "backend idle", func() bool { return !m.queue.Stats().Busy })
	if g.callCount() != 1 {
		t.Fatalf("cancelled entries reached the backend: %d calls", g.callCount())
	}
}

func TestQueueFullCancelsEnqueuedSiblings(t *testing.T) {
	g := newGatedBackend()
	cfg := testConfig()
	cfg.Queue.MaxBatchRequests = 1
	cfg.Queue.MaxQueueSize = 2
	m := newGatedManager(t, cfg, g)

	blocker := embedAsync(m, context.Background(), []string{"blocker"}, Options{})
	g.waitStarted(t)
	_, _, err := m.Embed(context.Background(), []string{"a", "b", "c"}, Options{})
	if !queue.IsQueueFull(err) || !Retryable(err) {
		t.Fatalf("expected queue full, got %v", err)
	}
	eventually(t, "enqueued siblings cancelled", func() bool { return m.queue.Stats().Pending == 0 })
	g.step(t)
	if r := waitResult(t, blocker); r.err != nil {
		t.Fatalf("blocker: %v", r.err)
	}
	if g.callCount() != 1 {
		t.Fatalf("cancelled siblings reached the backend: %d calls", g.callCount())
	}
}

func TestQueueTimeoutExpiresPendingInputs(t *testing.T) {
	g := newGatedBackend()
	m := newGatedManager(t, testConfig(), g)
	blocker := embedAsync(m, context.Background(), []string{"blocker"}, Options{})
	g.waitStarted(t)
	_, _, err := m.Embed(context.Background(), []string{"late"}, Options{QueueTimeout: 20 * time.Millisecond})
	if reason, ok := queue.CancelReasonOf(err); !ok || reason != queue.ReasonDeadline {
		t.Fatalf("expected deadline cancellation, got %v", err)
	}
	if !Retryable(err) {
		t.Fatalf("queue deadline should be retryable")
	}
	g.step(t)
	waitResult(t, blocker)
}

func TestUnsupportedKind(t *testing.T) {
	g := newGatedBackend()
	g.supports = map[backend.Kind]bool{backend.Embed: true}
	m := newGatedManager(t, testConfig(), g)
	if _, _, err := m.Predict(context.Background(), []string{"x"}, Options{}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if kinds := m.Info().Kinds; len(kinds) != 1 || kinds[0] != "embed" {
		t.Fatalf("info kinds: %v", kinds)
	}
}

func TestRerankSortsByScore(t *testing.T) {
	m, _ := newFallbackManager(t, testConfig(), nil)
	texts := []string{"bananas are yellow", "what is deep learning"}
	ranks, timing, err := m.Rerank(context.Background(), "what is deep learning", texts, Options{ReturnText: true})
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(ranks) != 2 || ranks[0].Index != 1 || ranks[0].Text != texts[1] {
		t.Fatalf("unexpected ranking: %+v", ranks)
	}
	if ranks[0].Score < ranks[1].Score || ranks[0].Score > 1.0001 || ranks[1].Score < 0 {
		t.Fatalf("scores out of order or range: %+v", ranks)
	}
	if timing.Total <= 0 {
		t.Fatalf("timing not recorded: %+v", timing)
	}
}

func TestPredictLabels(t *testing.T) {
	cfg := testConfig()
	cfg.Labels = []string{"negative", "positive", ""}
	m, _ := newFallbackManager(t, cfg, nil)
	preds, _, err := m.Predict(context.Background(), []string{"great movie"}, Options{})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(preds[0]) != 3 {
		t.Fatalf("labels: %+v", preds[0])
	}
	var sum float32
	seen := map[string]bool{}
	for i, p := range preds[0] {
		sum += p.Score
		seen[p.Label] = true
		if i > 0 && p.Score > preds[0][i-1].Score {
			t.Fatalf("predictions not sorted: %+v", preds[0])
		}
	}
	if math.Abs(float64(sum)-1) > 1e-4 || !seen["negative"] || !seen["LABEL_2"] {
		t.Fatalf("unexpected predictions: %+v", preds[0])
	}
	raw, _, _ := m.Predict(context.Background(), []string{"great movie"}, Options{RawScores: true})
	var rawSum float32
	for _, p := range raw[0] {
		rawSum += p.Score
	}
	if math.Abs(float64(rawSum)-1) < 1e-6 {
		t.Fatalf("raw scores look like probabilities: %+v", raw[0])
	}
}

func TestSoftmax(t *testing.T) {
	p := softmax([]float32{1000, 1000})
	if math.Abs(float64(p[0])-0.5) > 1e-6 {
		t.Fatalf("softmax not stable: %v", p)
	}
	if softmax(nil) != nil {
		t.Fatalf("softmax(nil)")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrValidation("bad"), false},
		{ErrTooLong(0, 10, 5), false},
		{queue.ErrOversized(10, 5), false},
		{backend.ErrInvalidInput("bad id"), false},
		{backend.ErrInternal("bug"), false},
		{queue.ErrQueueFull(1), true},
		{queue.ErrClosed(), true},
		{backend.ErrOutOfMemory("oom"), true},
		{queue.ErrCancelled(queue.ReasonDeadline), true},
		{queue.ErrCancelled(queue.ReasonClient), false},
		{errors.New("other"), false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Fatalf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestContextErrMapping(t *testing.T) {
	if r, _ := queue.CancelReasonOf(contextErr(context.Canceled)); r != queue.ReasonClient {
		t.Fatalf("canceled -> %q", r)
	}
	if r, _ := queue.CancelReasonOf(contextErr(context.DeadlineExceeded)); r != queue.ReasonDeadline {
		t.Fatalf("deadline -> %q", r)
	}
}
