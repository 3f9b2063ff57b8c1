package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"embedd/internal/backend"
	"embedd/internal/events"
	"embedd/internal/queue"
	"embedd/internal/search"
	"embedd/internal/tokenize"
	"embedd/pkg/types"
)

// State represents the lifecycle state of the manager.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
	StateClosed  State = "closed"
)

// Deps are the collaborators a Manager drives. Backend and Tokenizer are
// required; Store enables Index and Search.
type Deps struct {
	Backend   backend.Backend
	Tokenizer tokenize.Tokenizer
	Store     *search.Store
	Publisher events.Publisher
	Logger    zerolog.Logger
}

type Manager struct {
	cfg       Config
	backend   backend.Backend
	tokenizer tokenize.Tokenizer
	store     *search.Store
	queue     *queue.Queue
	publisher events.Publisher
	log       zerolog.Logger
	tokSem    *semaphore.Weighted

	stop      context.CancelFunc
	closeOnce sync.Once

	mu      sync.RWMutex
	state   State
	lastErr string

	startTime time.Time
	okTotal   atomic.Uint64
	errTotal  atomic.Uint64
}

// New validates cfg, builds the queue and starts its scheduler. The manager
// reports StateLoading until Warmup succeeds.
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Backend == nil {
		return nil, errors.New("manager requires a backend")
	}
	if deps.Tokenizer == nil {
		return nil, errors.New("manager requires a tokenizer")
	}
	cfg.applyDefaults()
	pub := events.OrNoop(deps.Publisher)
	q, err := queue.New(cfg.Queue, deps.Backend, deps.Logger, pub)
	if err != nil {
		return nil, fmt.Errorf("queue config: %w", err)
	}
	cfg.Queue = q.Config()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		backend:   deps.Backend,
		tokenizer: deps.Tokenizer,
		store:     deps.Store,
		queue:     q,
		publisher: pub,
		log:       deps.Logger.With().Str("component", "manager").Logger(),
		tokSem:    semaphore.NewWeighted(int64(cfg.TokenizationWorkers)),
		stop:      cancel,
		state:     StateLoading,
		startTime: time.Now(),
	}
	go func() { _ = q.Run(ctx) }()
	return m, nil
}

// Warmup checks backend health and marks the manager ready.
func (m *Manager) Warmup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WarmupTimeout)
	defer cancel()
	start := time.Now()
	if err := m.backend.Health(ctx); err != nil {
		m.setState(StateError, err.Error())
		m.publisher.Publish(events.Event{Name: "warmup_failed", Source: "manager", Fields: map[string]any{"error": err.Error()}})
		m.log.Error().Err(err).Str("backend", m.cfg.Backend).Msg("backend warmup failed")
		return err
	}
	m.setState(StateReady, "")
	m.publisher.Publish(events.Event{Name: "ready", Source: "manager", Fields: map[string]any{"backend": m.cfg.Backend, "model": m.cfg.ModelID}})
	m.log.Info().Str("backend", m.cfg.Backend).Str("model", m.cfg.ModelID).Dur("took", time.Since(start)).Msg("backend ready")
	return nil
}

func (m *Manager) setState(s State, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return
	}
	m.state = s
	if errMsg != "" {
		m.lastErr = errMsg
	}
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady
}

// Close stops the scheduler (pending entries fail with a closed error, the
// in-flight batch completes), then releases the backend, tokenizer and store.
func (m *Manager) Close() error {
	var errs []error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
		m.stop()
		<-m.queue.Done()
		if err := m.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend: %w", err))
		}
		if err := m.tokenizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tokenizer: %w", err))
		}
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("search store: %w", err))
		}
		m.publisher.Publish(events.Event{Name: "shutdown", Source: "manager"})
		m.log.Info().Msg("manager closed")
	})
	return errors.Join(errs...)
}

// Info describes the served model and limits.
func (m *Manager) Info() types.InfoResponse {
	var kinds []string
	for _, k := range []backend.Kind{backend.Embed, backend.Rerank, backend.Predict} {
		if m.backend.Supports(k) {
			kinds = append(kinds, k.String())
		}
	}
	return types.InfoResponse{
		ModelID:            m.cfg.ModelID,
		ModelDir:           m.cfg.ModelDir,
		Backend:            m.cfg.Backend,
		Tokenizer:          m.cfg.Tokenizer,
		Pooling:            m.cfg.Pooling,
		Kinds:              kinds,
		Labels:             m.cfg.Labels,
		MaxBatchRequests:   m.cfg.Queue.MaxBatchRequests,
		MaxBatchTokens:     m.cfg.Queue.MaxBatchTokens,
		MaxQueueSize:       m.cfg.Queue.MaxQueueSize,
		MaxInputLength:     m.cfg.MaxInputLength,
		MaxClientBatchSize: m.cfg.MaxClientBatchSize,
		DefaultTruncate:    m.cfg.DefaultTruncate,
		OversizePolicy:     string(m.cfg.Queue.OversizePolicy),
		Version:            m.cfg.Version,
	}
}
