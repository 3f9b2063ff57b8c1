package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"embedd/internal/backend"
	"embedd/internal/events"
)

// fakeBackend records every batch and answers each member with its first
// token id so tests can match outputs to entries.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []*backend.Batch
	started chan *backend.Batch
	gate    chan struct{}
	errs    []error // consumed one per call; nil entries succeed
	panicOn int     // 1-based call index that panics; 0 disables
	short   bool
	active  int
	overlap bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{started: make(chan *backend.Batch, 64)}
}

func (f *fakeBackend) Infer(ctx context.Context, b *backend.Batch) ([]backend.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, b)
	n := len(f.calls)
	f.active++
	if f.active > 1 {
		f.overlap = true
	}
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	gate := f.gate
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	f.started <- b
	if gate != nil {
		<-gate
	}
	if f.panicOn == n {
		panic("boom")
	}
	if err != nil {
		return nil, err
	}
	out := make([]backend.Output, b.Size())
	for i := range out {
		out[i] = backend.Output{Values: []float32{float32(b.InputIDs[i][0])}}
	}
	if f.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (f *fakeBackend) Supports(backend.Kind) bool   { return true }
func (f *fakeBackend) Health(context.Context) error { return nil }
func (f *fakeBackend) Close() error                 { return nil }

func (f *fakeBackend) batches() []*backend.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*backend.Batch(nil), f.calls...)
}

// markers returns the first token of every member, per call.
func (f *fakeBackend) markers() [][]uint32 {
	var out [][]uint32
	for _, b := range f.batches() {
		var m []uint32
		for _, ids := range b.InputIDs {
			m = append(m, ids[0])
		}
		out = append(out, m)
	}
	return out
}

func startQueue(t *testing.T, cfg Config, b backend.Backend) (*Queue, *events.Memory, context.CancelFunc) {
	t.Helper()
	pub := events.NewMemory()
	q, err := New(cfg, b, zerolog.Nop(), pub)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = q.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-q.Done():
		case <-time.After(5 * time.Second):
			t.Errorf("scheduler did not stop")
		}
	})
	return q, pub, cancel
}

// mkEntry builds an entry of n tokens whose first token is marker.
func mkEntry(kind backend.Kind, n int, marker uint32) *Entry {
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = 7
	}
	ids[0] = marker
	return NewEntry(kind, ids, nil)
}

func await(t *testing.T, e *Entry) Result {
	t.Helper()
	select {
	case r := <-e.Done():
		return r
	case <-time.After(3 * time.Second):
		t.Fatalf("entry %d never resolved", e.ID)
		return Result{}
	}
}

func waitStarted(t *testing.T, f *fakeBackend) *backend.Batch {
	t.Helper()
	select {
	case b := <-f.started:
		return b
	case <-time.After(3 * time.Second):
		t.Fatalf("backend call never started")
		return nil
	}
}

// occupy runs a gated blocker batch so later entries accumulate.
func occupy(t *testing.T, q *Queue, f *fakeBackend) *Entry {
	t.Helper()
	f.mu.Lock()
	f.gate = make(chan struct{})
	f.mu.Unlock()
	blocker := mkEntry(backend.Embed, 2, 999)
	if err := q.Enqueue(blocker); err != nil {
		t.Fatalf("enqueue blocker: %v", err)
	}
	waitStarted(t, f)
	return blocker
}

func release(f *fakeBackend) {
	f.mu.Lock()
	close(f.gate)
	f.mu.Unlock()
}

func sameMarkers(got [][]uint32, want [][]uint32) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if len(got[i]) != len(want[i]) {
			return false
		}
		for j := range got[i] {
			if got[i][j] != want[i][j] {
				return false
			}
		}
	}
	return true
}
