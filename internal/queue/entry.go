package queue

import (
	"sync/atomic"
	"time"

	"embedd/internal/backend"
)

var lastEntryID atomic.Uint64

// Timing breaks an entry's latency into time spent pending and time spent in
// the backend call that served it.
type Timing struct {
	Queue   time.Duration
	Compute time.Duration
}

// Result is the terminal outcome of an entry. Exactly one of Values and Err
// is meaningful.
type Result struct {
	Values []float32
	Timing Timing
	Err    error
}

type entryState uint8

const (
	statePending entryState = iota
	stateScheduled
	stateDelivered
	stateCancelled
)

func (s entryState) terminal() bool { return s == stateDelivered || s == stateCancelled }

// Entry is one tokenized input awaiting execution. After Enqueue it belongs
// to the scheduler; callers only read Done and the immutable fields.
type Entry struct {
	ID       uint64
	Kind     backend.Kind
	IDs      []uint32
	TypeIDs  []uint32
	Truncate bool
	// Deadline bounds time spent pending; zero means none.
	Deadline time.Time

	enqueued  time.Time
	scheduled time.Time
	state     entryState
	done      chan Result
	heapIndex int
}

// NewEntry allocates an entry with a fresh id. typeIDs may be nil.
func NewEntry(kind backend.Kind, ids, typeIDs []uint32) *Entry {
	if typeIDs == nil {
		typeIDs = make([]uint32, len(ids))
	}
	return &Entry{
		ID:        lastEntryID.Add(1),
		Kind:      kind,
		IDs:       ids,
		TypeIDs:   typeIDs,
		done:      make(chan Result, 1),
		heapIndex: -1,
	}
}

// Len is the token count.
func (e *Entry) Len() int { return len(e.IDs) }

// Done delivers the single terminal Result.
func (e *Entry) Done() <-chan Result { return e.done }

// resolve delivers r unless the entry already reached a terminal state.
// Every delivered result is observed, whether or not anyone still waits on
// Done.
func (e *Entry) resolve(r Result, final entryState) bool {
	if e.state.terminal() {
		return false
	}
	e.state = final
	o := outcomeOf(r.Err)
	entryWaitSeconds.WithLabelValues(e.Kind.String(), o).Observe(r.Timing.Queue.Seconds())
	if r.Timing.Compute > 0 {
		entryComputeSeconds.WithLabelValues(e.Kind.String(), o).Observe(r.Timing.Compute.Seconds())
	}
	e.done <- r
	return true
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsCancelled(err):
		return "cancelled"
	case IsClosed(err):
		return "closed"
	case IsOversized(err):
		return "rejected"
	}
	return "error"
}
