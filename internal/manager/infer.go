package manager

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"embedd/internal/backend"
	"embedd/internal/queue"
	"embedd/internal/tokenize"
	"embedd/pkg/types"
)

// Options are the per-request knobs shared by all operations.
type Options struct {
	// Truncate overrides Config.DefaultTruncate when set.
	Truncate *bool
	// Normalize L2-normalizes embeddings; nil means true.
	Normalize *bool
	// RawScores returns Predict logits instead of probabilities.
	RawScores bool
	// ReturnText echoes texts in rerank results.
	ReturnText bool
	// QueueTimeout bounds the time each input may stay pending; zero means
	// no bound. It does not apply once an input is executing.
	QueueTimeout time.Duration
}

// Timing summarizes where a request spent its time. Queue and Inference are
// the maxima over the request's inputs.
type Timing struct {
	Tokenize  time.Duration
	Queue     time.Duration
	Inference time.Duration
	Total     time.Duration
}

// input is one text, or a (query, text) pair for rerank.
type input struct {
	a, b string
	pair bool
}

// Embed returns one vector per text, in input order.
func (m *Manager) Embed(ctx context.Context, texts []string, opts Options) ([][]float32, Timing, error) {
	results, timing, err := m.submit(ctx, backend.Embed, singles(texts), opts)
	if err != nil {
		return nil, timing, err
	}
	normalize := opts.Normalize == nil || *opts.Normalize
	out := make([][]float32, len(results))
	for i, r := range results {
		if normalize {
			backend.Normalize(r.Values)
		}
		out[i] = r.Values
	}
	return out, timing, nil
}

// Rerank scores every text against query and returns ranks sorted by
// descending score.
func (m *Manager) Rerank(ctx context.Context, query string, texts []string, opts Options) ([]types.Rank, Timing, error) {
	if strings.TrimSpace(query) == "" {
		return nil, Timing{}, ErrValidation("query must not be empty")
	}
	items := make([]input, len(texts))
	for i, t := range texts {
		items[i] = input{a: query, b: t, pair: true}
	}
	results, timing, err := m.submit(ctx, backend.Rerank, items, opts)
	if err != nil {
		return nil, timing, err
	}
	ranks := make([]types.Rank, len(results))
	for i, r := range results {
		if len(r.Values) == 0 {
			return nil, timing, backend.ErrInternal("empty rerank output for input %d", i)
		}
		ranks[i] = types.Rank{Index: i, Score: r.Values[0]}
		if opts.ReturnText {
			ranks[i].Text = texts[i]
		}
	}
	sortRanks(ranks)
	return ranks, timing, nil
}

// Predict returns label scores per text, best first.
func (m *Manager) Predict(ctx context.Context, texts []string, opts Options) ([][]types.Prediction, Timing, error) {
	results, timing, err := m.submit(ctx, backend.Predict, singles(texts), opts)
	if err != nil {
		return nil, timing, err
	}
	out := make([][]types.Prediction, len(results))
	for i, r := range results {
		out[i] = m.predictions(r.Values, opts.RawScores)
	}
	return out, timing, nil
}

func singles(texts []string) []input {
	items := make([]input, len(texts))
	for i, t := range texts {
		items[i] = input{a: t}
	}
	return items
}

// submit validates and tokenizes every input, enqueues one entry per input
// and waits for all of them. Results are in input order.
func (m *Manager) submit(ctx context.Context, kind backend.Kind, items []input, opts Options) (results []queue.Result, timing Timing, err error) {
	start := time.Now()
	defer func() {
		timing.Total = time.Since(start)
		requestsTotal.WithLabelValues(kind.String(), outcome(err)).Inc()
		if err != nil {
			m.errTotal.Add(1)
			if !IsValidation(err) {
				m.recordError(err)
			}
			m.log.Debug().Err(err).Str("kind", kind.String()).Int("inputs", len(items)).Msg("request failed")
			return
		}
		m.okTotal.Add(1)
	}()

	if err := m.validate(kind, items); err != nil {
		return nil, timing, err
	}

	encs, err := m.tokenize(ctx, items)
	timing.Tokenize = time.Since(start)
	tokenizeSeconds.Observe(timing.Tokenize.Seconds())
	if err != nil {
		return nil, timing, err
	}

	truncate := m.cfg.DefaultTruncate
	if opts.Truncate != nil {
		truncate = *opts.Truncate
	}
	entries := make([]*queue.Entry, len(encs))
	for i, enc := range encs {
		if enc.Len() > m.cfg.MaxInputLength {
			if !truncate {
				return nil, timing, ErrTooLong(i, enc.Len(), m.cfg.MaxInputLength)
			}
			short, ok := enc.Truncate(m.cfg.MaxInputLength)
			if !ok {
				return nil, timing, ErrValidation("input %d cannot be truncated to %d tokens", i, m.cfg.MaxInputLength)
			}
			truncatedTotal.Inc()
			enc = short
		}
		e := queue.NewEntry(kind, enc.IDs, enc.TypeIDs)
		e.Truncate = truncate
		if opts.QueueTimeout > 0 {
			e.Deadline = time.Now().Add(opts.QueueTimeout)
		}
		entries[i] = e
	}

	for i, e := range entries {
		if err := m.queue.Enqueue(e); err != nil {
			for _, prev := range entries[:i] {
				m.queue.Cancel(prev.ID)
			}
			return nil, timing, err
		}
	}
	inputsTotal.WithLabelValues(kind.String()).Add(float64(len(entries)))

	results, err = m.await(ctx, entries)
	if err != nil {
		return nil, timing, err
	}
	for _, r := range results {
		if r.Timing.Queue > timing.Queue {
			timing.Queue = r.Timing.Queue
		}
		if r.Timing.Compute > timing.Inference {
			timing.Inference = r.Timing.Compute
		}
	}
	return results, timing, nil
}

func (m *Manager) validate(kind backend.Kind, items []input) error {
	if !m.backend.Supports(kind) {
		return ErrValidation("backend %s does not support %s", m.cfg.Backend, kind)
	}
	if len(items) == 0 {
		return ErrValidation("request has no inputs")
	}
	if len(items) > m.cfg.MaxClientBatchSize {
		return ErrValidation("request has %d inputs, more than max_client_batch_size %d", len(items), m.cfg.MaxClientBatchSize)
	}
	for i, it := range items {
		text := it.a
		if it.pair {
			text = it.b
		}
		if strings.TrimSpace(text) == "" {
			return ErrValidation("input %d is empty", i)
		}
		if !utf8.ValidString(it.a) || !utf8.ValidString(it.b) {
			return ErrValidation("input %d is not valid UTF-8", i)
		}
	}
	return nil
}

// tokenize encodes items concurrently, bounded by the shared worker limit.
func (m *Manager) tokenize(ctx context.Context, items []input) ([]tokenize.Encoding, error) {
	encs := make([]tokenize.Encoding, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, it := range items {
		i, it := i, it
		if err := m.tokSem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer m.tokSem.Release(1)
			var enc tokenize.Encoding
			var err error
			if it.pair {
				enc, err = m.tokenizer.EncodePair(gctx, it.a, it.b)
			} else {
				enc, err = m.tokenizer.Encode(gctx, it.a)
			}
			encs[i] = enc
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, contextErr(ctx.Err())
		}
		return nil, backend.ErrInvalidInput("tokenize: %v", err)
	}
	return encs, nil
}

// await collects every entry's result. The first failure, or the end of ctx,
// withdraws the siblings that are still pending.
func (m *Manager) await(ctx context.Context, entries []*queue.Entry) ([]queue.Result, error) {
	results := make([]queue.Result, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			select {
			case r := <-e.Done():
				results[i] = r
				return r.Err
			case <-gctx.Done():
				m.queue.Cancel(e.ID)
				return gctx.Err()
			}
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, contextErr(ctx.Err())
		}
		return nil, err
	}
	return results, nil
}
