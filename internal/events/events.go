// Package events carries lifecycle notifications (backend spawn, batch
// failures, shutdown) from the serving components to an optional observer.
package events

// Event represents a lifecycle event.
// Minimal and stable: name + source and optional fields via key/values.
type Event struct {
	Name   string
	Source string
	Fields map[string]any
}

// Publisher receives events. Implementations should be lightweight and
// non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Event)
}

// Noop drops events. It is the default everywhere a Publisher is optional.
type Noop struct{}

func (Noop) Publish(Event) {}

// OrNoop returns p, or Noop when p is nil.
func OrNoop(p Publisher) Publisher {
	if p == nil {
		return Noop{}
	}
	return p
}
