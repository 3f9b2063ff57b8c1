package events

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestMemory_RecordsInOrder(t *testing.T) {
	p := NewMemory()
	p.Publish(Event{Name: "a", Source: "q"})
	p.Publish(Event{Name: "b", Source: "q"})
	p.Publish(Event{Name: "a", Source: "m"})
	evs := p.Events()
	if len(evs) != 3 || evs[0].Name != "a" || evs[1].Name != "b" {
		t.Fatalf("unexpected events: %+v", evs)
	}
	if got := p.Named("a"); len(got) != 2 || got[1].Source != "m" {
		t.Fatalf("Named(a) = %+v", got)
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(Noop); !ok {
		t.Fatalf("expected Noop for nil publisher")
	}
	m := NewMemory()
	if OrNoop(m) != Publisher(m) {
		t.Fatalf("expected publisher passthrough")
	}
	// Must not panic.
	Noop{}.Publish(Event{Name: "x"})
}

func TestLog_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	p := NewLog(zerolog.New(&buf))
	p.Publish(Event{Name: "batch_failed", Source: "queue", Fields: map[string]any{"size": 3}})
	out := buf.String()
	for _, want := range []string{`"level":"warn"`, `"source":"queue"`, `"size":3`, `"message":"batch_failed"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}
	buf.Reset()
	p.Publish(Event{Name: "ready", Source: "manager"})
	if !strings.Contains(buf.String(), `"level":"info"`) {
		t.Fatalf("got %q", buf.String())
	}
}
