package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"embedd/internal/backend"
	"embedd/internal/backend/fallback"
	"embedd/internal/backend/llamacpp"
	"embedd/internal/backend/subprocess"
	"embedd/internal/common/fsutil"
	"embedd/internal/config"
	"embedd/internal/events"
	"embedd/internal/manager"
	"embedd/internal/queue"
	"embedd/internal/registry"
	"embedd/internal/search"
	"embedd/internal/tokenize"
	"embedd/pkg/types"
)

// resolveModel returns the model described by cfg. Explicit paths override
// what the model directory provides.
func resolveModel(cfg config.Config) (types.Model, error) {
	var m types.Model
	switch {
	case cfg.ModelDir != "":
		resolved, err := registry.Resolve(cfg.ModelDir)
		if err != nil {
			return m, err
		}
		m = resolved
	case cfg.ModelPath != "":
		resolved, err := registry.Resolve(cfg.ModelPath)
		if err != nil {
			return m, err
		}
		m = resolved
	default:
		m.ID = "fallback"
	}
	if cfg.ModelPath != "" {
		p, err := fsutil.ExpandHome(cfg.ModelPath)
		if err != nil {
			return m, err
		}
		m.WeightsPath = p
	}
	if cfg.TokenizerPath != "" {
		p, err := fsutil.ExpandHome(cfg.TokenizerPath)
		if err != nil {
			return m, err
		}
		m.TokenizerPath = p
	}
	if len(cfg.Labels) > 0 {
		m.Labels = cfg.Labels
	}
	return m, nil
}

func buildBackend(cfg config.Config, m types.Model, vocab int, log zerolog.Logger, pub events.Publisher) (backend.Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "fallback":
		pooling, err := backend.ParsePooling(cfg.Pooling)
		if err != nil {
			return nil, err
		}
		return fallback.New(fallback.Config{
			Dim:       cfg.Dim,
			Pooling:   pooling,
			Labels:    len(m.Labels),
			VocabSize: vocab,
		}), nil
	case "llama":
		if m.WeightsPath == "" {
			return nil, errors.New("llama backend requires GGUF weights (model_dir or model_path)")
		}
		return llamacpp.New(llamacpp.Config{
			ModelPath:   m.WeightsPath,
			ContextSize: cfg.LlamaCtx,
			Threads:     cfg.LlamaThreads,
			GPULayers:   cfg.LlamaNGL,
		})
	case "subprocess":
		if m.WeightsPath == "" {
			return nil, errors.New("subprocess backend requires GGUF weights (model_dir or model_path)")
		}
		bin := cfg.LlamaBin
		if bin == "" {
			bin = subprocess.DiscoverBin()
		}
		return subprocess.New(subprocess.Config{
			Bin:       bin,
			ModelPath: m.WeightsPath,
			PortStart: cfg.LlamaPortStart,
			PortEnd:   cfg.LlamaPortEnd,
			CtxSize:   cfg.LlamaCtx,
			NGL:       cfg.LlamaNGL,
			Threads:   cfg.LlamaThreads,
			ExtraArgs: []string{"--pooling", cfg.Pooling},
		}, log, pub), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// buildManager wires tokenizer, backend, optional search store and the
// manager. Everything opened is closed again on failure; on success the
// manager owns it.
func buildManager(cfg config.Config, log zerolog.Logger, pub events.Publisher) (mgr *manager.Manager, err error) {
	m, err := resolveModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}
	maxInput := cfg.MaxInputLength
	if m.MaxPositions > 0 && maxInput > m.MaxPositions {
		log.Warn().Int("max_input_length", maxInput).Int("max_positions", m.MaxPositions).Msg("clamping max_input_length to the model's position limit")
		maxInput = m.MaxPositions
	}
	policy, err := queue.ParseOversizePolicy(cfg.OversizePolicy)
	if err != nil {
		return nil, err
	}

	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	tok, err := tokenize.Open(tokenize.Config{Kind: cfg.Tokenizer, Path: m.TokenizerPath})
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	closers = append(closers, tok.Close)

	be, err := buildBackend(cfg, m, tok.VocabSize(), log, pub)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	closers = append(closers, be.Close)

	var store *search.Store
	if cfg.SearchDir != "" {
		dir, err := fsutil.ExpandHome(cfg.SearchDir)
		if err != nil {
			return nil, err
		}
		if store, err = search.Open(dir); err != nil {
			return nil, fmt.Errorf("search store: %w", err)
		}
		closers = append(closers, store.Close)
	}

	tokName := cfg.Tokenizer
	if tokName == "" {
		tokName = "simple"
		if m.TokenizerPath != "" {
			tokName = "hf"
		}
	}
	return manager.New(manager.Config{
		ModelID:   m.ID,
		ModelDir:  m.Dir,
		Backend:   strings.ToLower(cfg.Backend),
		Tokenizer: tokName,
		Pooling:   cfg.Pooling,
		Labels:    m.Labels,
		Queue: queue.Config{
			MaxBatchRequests: cfg.MaxBatchRequests,
			MaxBatchTokens:   cfg.MaxBatchTokens,
			MaxQueueSize:     cfg.MaxQueueSize,
			OversizePolicy:   policy,
		},
		MaxInputLength:      maxInput,
		MaxClientBatchSize:  cfg.MaxClientBatchSize,
		DefaultTruncate:     cfg.DefaultTruncate,
		TokenizationWorkers: cfg.TokenizationWorkers,
		WarmupTimeout:       2 * time.Minute,
		Version:             version,
	}, manager.Deps{
		Backend:   be,
		Tokenizer: tok,
		Store:     store,
		Publisher: pub,
		Logger:    log,
	})
}
