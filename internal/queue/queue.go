// Package queue admits tokenized entries and groups them into batches for a
// single backend.
//
// One scheduler goroutine (Run) owns the pending list, the deadline heap and
// the busy flag. Enqueue and Cancel talk to it over channels; the backend call
// runs on its own goroutine and reports back, so the scheduler keeps admitting
// and cancelling work while a batch is in flight. At most one batch is in
// flight at a time.
package queue

import (
	"container/heap"
	"container/list"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"embedd/internal/backend"
	"embedd/internal/events"
)

// OversizePolicy decides what happens to a single entry whose length alone
// exceeds MaxBatchTokens.
type OversizePolicy string

const (
	// OversizeSchedule runs the entry alone in its own batch.
	OversizeSchedule OversizePolicy = "schedule"
	// OversizeReject resolves the entry with an oversized error.
	OversizeReject OversizePolicy = "reject"
)

func ParseOversizePolicy(s string) (OversizePolicy, error) {
	switch OversizePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OversizeSchedule:
		return OversizeSchedule, nil
	case OversizeReject:
		return OversizeReject, nil
	}
	return "", fmt.Errorf("unknown oversize policy %q", s)
}

// Config bounds batch shape and queue depth.
type Config struct {
	MaxBatchRequests int
	MaxBatchTokens   int
	MaxQueueSize     int
	OversizePolicy   OversizePolicy
}

func (c Config) Validate() error {
	if c.MaxBatchRequests <= 0 {
		return errors.New("max_batch_requests must be > 0")
	}
	if c.MaxBatchTokens <= 0 {
		return errors.New("max_batch_tokens must be > 0")
	}
	if c.MaxQueueSize <= 0 {
		return errors.New("max_queue_size must be > 0")
	}
	if _, err := ParseOversizePolicy(string(c.OversizePolicy)); err != nil {
		return err
	}
	return nil
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Pending  int    `json:"pending"`
	Busy     bool   `json:"busy"`
	Batches  uint64 `json:"batches"`
	Entries  uint64 `json:"entries"`
	Rejected uint64 `json:"rejected"`
}

type enqueueReq struct {
	e     *Entry
	reply chan error
}

type cancelReq struct {
	id     uint64
	reason CancelReason
}

type batchResult struct {
	batch    *Batch
	outputs  []backend.Output
	err      error
	started  time.Time
	finished time.Time
}

// Queue is the admission queue and batching scheduler.
type Queue struct {
	cfg       Config
	backend   backend.Backend
	log       zerolog.Logger
	publisher events.Publisher

	enqueueCh chan enqueueReq
	cancelCh  chan cancelReq
	resultCh  chan batchResult
	stopped   chan struct{}
	running   atomic.Bool

	// owned by the Run goroutine
	pending   *list.List
	elems     map[uint64]*list.Element
	deadlines deadlineHeap
	busy      bool

	pendingN atomic.Int64
	busyFlag atomic.Bool
	batches  atomic.Uint64
	entries  atomic.Uint64
	rejected atomic.Uint64
}

// New validates cfg and returns a queue that does nothing until Run.
func New(cfg Config, b backend.Backend, log zerolog.Logger, pub events.Publisher) (*Queue, error) {
	if b == nil {
		return nil, errors.New("queue requires a backend")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.OversizePolicy, _ = ParseOversizePolicy(string(cfg.OversizePolicy))
	return &Queue{
		cfg:       cfg,
		backend:   b,
		log:       log.With().Str("component", "queue").Logger(),
		publisher: events.OrNoop(pub),
		enqueueCh: make(chan enqueueReq),
		cancelCh:  make(chan cancelReq, 64),
		resultCh:  make(chan batchResult, 1),
		stopped:   make(chan struct{}),
		pending:   list.New(),
		elems:     make(map[uint64]*list.Element),
	}, nil
}

// Config returns the effective limits.
func (q *Queue) Config() Config { return q.cfg }

// Enqueue appends e to the tail of the pending list. It fails immediately
// with a queue-full error when MaxQueueSize entries are pending and with a
// closed error once the scheduler has stopped. It never waits on the backend.
func (q *Queue) Enqueue(e *Entry) error {
	if e == nil || e.Len() == 0 {
		return errors.New("enqueue: empty entry")
	}
	reply := make(chan error, 1)
	select {
	case q.enqueueCh <- enqueueReq{e: e, reply: reply}:
		return <-reply
	case <-q.stopped:
		return ErrClosed()
	}
}

// Cancel withdraws a pending entry, resolving it as cancelled. Entries that
// are in flight or already resolved are unaffected.
func (q *Queue) Cancel(id uint64) {
	select {
	case q.cancelCh <- cancelReq{id: id, reason: ReasonClient}:
	case <-q.stopped:
	}
}

// Stats reads counters maintained by the scheduler.
func (q *Queue) Stats() Stats {
	return Stats{
		Pending:  int(q.pendingN.Load()),
		Busy:     q.busyFlag.Load(),
		Batches:  q.batches.Load(),
		Entries:  q.entries.Load(),
		Rejected: q.rejected.Load(),
	}
}

// Done is closed after Run returns.
func (q *Queue) Done() <-chan struct{} { return q.stopped }

// Run is the scheduling loop. When ctx ends, pending entries resolve with a
// closed error, the in-flight batch (if any) completes and is delivered, and
// Run returns.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return errors.New("queue already running")
	}
	defer close(q.stopped)
	// In-flight calls outlive client cancellation and shutdown.
	callCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		q.expire(time.Now())
		if !q.busy {
			if b := q.next(); b != nil {
				q.submit(callCtx, b)
			}
		}
		var timerC <-chan time.Time
		if len(q.deadlines) > 0 {
			timer.Reset(time.Until(q.deadlines[0].Deadline))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			q.shutdown()
			return nil
		case req := <-q.enqueueCh:
			req.reply <- q.admit(req.e)
		case c := <-q.cancelCh:
			q.cancel(c.id, c.reason)
		case res := <-q.resultCh:
			q.scatter(res)
		case <-timerC:
		}
		timer.Stop()
	}
}

func (q *Queue) admit(e *Entry) error {
	if e.state != statePending || e.heapIndex >= 0 {
		return fmt.Errorf("enqueue: entry %d already submitted", e.ID)
	}
	if _, dup := q.elems[e.ID]; dup {
		return fmt.Errorf("enqueue: entry %d already submitted", e.ID)
	}
	if q.pending.Len() >= q.cfg.MaxQueueSize {
		q.rejected.Add(1)
		rejectedTotal.WithLabelValues("full").Inc()
		return ErrQueueFull(q.cfg.MaxQueueSize)
	}
	e.enqueued = time.Now()
	q.elems[e.ID] = q.pending.PushBack(e)
	if !e.Deadline.IsZero() {
		heap.Push(&q.deadlines, e)
	}
	q.setPending()
	return nil
}

// remove detaches e from the pending list and the deadline heap.
func (q *Queue) remove(e *Entry) {
	if el, ok := q.elems[e.ID]; ok {
		q.pending.Remove(el)
		delete(q.elems, e.ID)
	}
	if e.heapIndex >= 0 {
		heap.Remove(&q.deadlines, e.heapIndex)
	}
}

func (q *Queue) setPending() {
	n := q.pending.Len()
	q.pendingN.Store(int64(n))
	queueSize.Set(float64(n))
}

func (q *Queue) cancel(id uint64, reason CancelReason) {
	el, ok := q.elems[id]
	if !ok {
		return
	}
	e := el.Value.(*Entry)
	q.remove(e)
	q.setPending()
	cancelledTotal.WithLabelValues(string(reason)).Inc()
	e.resolve(Result{Err: ErrCancelled(reason), Timing: Timing{Queue: time.Since(e.enqueued)}}, stateCancelled)
}

// expire cancels pending entries whose deadline is not after now.
func (q *Queue) expire(now time.Time) {
	for len(q.deadlines) > 0 && !q.deadlines[0].Deadline.After(now) {
		q.cancel(q.deadlines[0].ID, ReasonDeadline)
	}
}

// next removes and returns the next batch in arrival order, or nil when
// nothing is pending. Accumulation stops at the first entry that would push
// the batch past MaxBatchRequests or MaxBatchTokens, or whose kind differs
// from the head's.
func (q *Queue) next() *Batch {
	defer q.setPending()
	for {
		front := q.pending.Front()
		if front == nil {
			return nil
		}
		head := front.Value.(*Entry)
		if head.Len() > q.cfg.MaxBatchTokens {
			q.remove(head)
			if q.cfg.OversizePolicy == OversizeReject {
				q.rejected.Add(1)
				rejectedTotal.WithLabelValues("oversized").Inc()
				head.resolve(Result{Err: ErrOversized(head.Len(), q.cfg.MaxBatchTokens), Timing: Timing{Queue: time.Since(head.enqueued)}}, stateCancelled)
				continue
			}
			oversizedTotal.Inc()
			q.log.Warn().Uint64("entry", head.ID).Int("tokens", head.Len()).Int("max_batch_tokens", q.cfg.MaxBatchTokens).Msg("scheduling oversized entry alone")
			b := &Batch{}
			b.add(head)
			return b
		}

		b := &Batch{}
		for el := front; el != nil; {
			e := el.Value.(*Entry)
			if e.Kind != head.Kind {
				break
			}
			count := b.Size() + 1
			maxLen := b.MaxLength
			if e.Len() > maxLen {
				maxLen = e.Len()
			}
			if count > q.cfg.MaxBatchRequests || maxLen*count > q.cfg.MaxBatchTokens {
				break
			}
			nextEl := el.Next()
			q.remove(e)
			b.add(e)
			el = nextEl
		}
		return b
	}
}

func (q *Queue) submit(ctx context.Context, b *Batch) {
	q.busy = true
	q.busyFlag.Store(true)
	now := time.Now()
	for _, e := range b.Entries {
		e.state = stateScheduled
		e.scheduled = now
	}
	batchSize.Observe(float64(b.Size()))
	batchPaddedTokens.Observe(float64(b.PaddedTokens()))
	paddingWaste.Add(float64(b.PaddedTokens() - b.RealTokens()))

	input := b.build()
	go func() {
		res := batchResult{batch: b, started: time.Now()}
		res.outputs, res.err = q.call(ctx, input)
		res.finished = time.Now()
		q.resultCh <- res
	}()
}

// call invokes the backend, converting a panic into an internal error.
func (q *Queue) call(ctx context.Context, b *backend.Batch) (out []backend.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("kind", b.Kind.String()).Int("size", b.Size()).Msg("backend panic")
			out, err = nil, backend.ErrInternal("backend panic: %v", r)
		}
	}()
	return q.backend.Infer(ctx, b)
}

// scatter delivers a finished batch to its members.
func (q *Queue) scatter(res batchResult) {
	q.busy = false
	q.busyFlag.Store(false)
	b := res.batch
	compute := res.finished.Sub(res.started)
	batchDuration.Observe(compute.Seconds())
	q.batches.Add(1)
	q.entries.Add(uint64(b.Size()))

	err := res.err
	if err == nil && len(res.outputs) != b.Size() {
		err = backend.ErrInternal("backend returned %d outputs for %d entries", len(res.outputs), b.Size())
	}
	if err != nil {
		berr := backend.Classify(err)
		batchErrors.WithLabelValues(berr.Kind.String()).Inc()
		q.log.Warn().Err(berr).Str("kind", b.Kind().String()).Int("size", b.Size()).Int("max_length", b.MaxLength).Msg("batch failed")
		q.publisher.Publish(events.Event{Name: "batch_failed", Source: "queue", Fields: map[string]any{
			"error": berr.Error(), "error_kind": berr.Kind.String(), "size": b.Size(),
		}})
		for _, e := range b.Entries {
			e.resolve(Result{Err: berr, Timing: Timing{Queue: e.scheduled.Sub(e.enqueued), Compute: compute}}, stateDelivered)
		}
		return
	}
	q.log.Debug().Str("kind", b.Kind().String()).Int("size", b.Size()).Int("padded_tokens", b.PaddedTokens()).Dur("compute", compute).Msg("batch done")
	for i, e := range b.Entries {
		e.resolve(Result{Values: res.outputs[i].Values, Timing: Timing{Queue: e.scheduled.Sub(e.enqueued), Compute: compute}}, stateDelivered)
	}
}

// shutdown resolves pending entries as closed, then waits for the in-flight
// batch while refusing new work.
func (q *Queue) shutdown() {
	for el := q.pending.Front(); el != nil; {
		nextEl := el.Next()
		e := el.Value.(*Entry)
		q.remove(e)
		e.resolve(Result{Err: ErrClosed(), Timing: Timing{Queue: time.Since(e.enqueued)}}, stateCancelled)
		el = nextEl
	}
	q.setPending()
	for q.busy {
		select {
		case res := <-q.resultCh:
			q.scatter(res)
		case req := <-q.enqueueCh:
			req.reply <- ErrClosed()
		case <-q.cancelCh:
		}
	}
	q.log.Info().Uint64("batches", q.batches.Load()).Uint64("entries", q.entries.Load()).Msg("scheduler stopped")
}
