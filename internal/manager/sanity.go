package manager

import (
	"context"
	"fmt"
	"time"

	"embedd/internal/backend"
)

// SanityReport describes runtime checks for the configured collaborators.
type SanityReport struct {
	Backend        string   `json:"backend"`
	BackendHealthy bool     `json:"backend_healthy"`
	TokenizerOK    bool     `json:"tokenizer_ok"`
	ProbeOK        bool     `json:"probe_ok"`
	ProbeDim       int      `json:"probe_dim,omitempty"`
	ProbeLatencyMS int64    `json:"probe_latency_ms,omitempty"`
	Probed         []string `json:"probed,omitempty"`
	SearchEnabled  bool     `json:"search_enabled"`
	Error          string   `json:"error,omitempty"`
}

// OK reports whether every check passed.
func (r SanityReport) OK() bool {
	return r.BackendHealthy && r.TokenizerOK && r.ProbeOK
}

// SanityCheck verifies the backend is healthy, the tokenizer encodes, and one
// probe input per kind makes it through the queue. Without kinds it probes
// the first supported of embed, predict and rerank. It does not change
// manager state.
func (m *Manager) SanityCheck(ctx context.Context, kinds ...backend.Kind) SanityReport {
	r := SanityReport{Backend: m.cfg.Backend, SearchEnabled: m.store != nil}
	if err := m.backend.Health(ctx); err != nil {
		r.Error = err.Error()
		return r
	}
	r.BackendHealthy = true
	if _, err := m.tokenizer.Encode(ctx, "sanity check"); err != nil {
		r.Error = err.Error()
		return r
	}
	r.TokenizerOK = true

	if len(kinds) == 0 {
		kinds = []backend.Kind{backend.Rerank}
		for _, k := range []backend.Kind{backend.Embed, backend.Predict} {
			if m.backend.Supports(k) {
				kinds = []backend.Kind{k}
				break
			}
		}
	}
	start := time.Now()
	for _, k := range kinds {
		dim, err := m.probe(ctx, k)
		if err != nil {
			r.Error = fmt.Sprintf("%s probe: %v", k, err)
			return r
		}
		if r.ProbeDim == 0 {
			r.ProbeDim = dim
		}
		r.Probed = append(r.Probed, k.String())
	}
	r.ProbeOK = true
	r.ProbeLatencyMS = time.Since(start).Milliseconds()
	return r
}

// probe sends one input of kind k through the queue and returns the output
// width.
func (m *Manager) probe(ctx context.Context, k backend.Kind) (int, error) {
	switch k {
	case backend.Embed:
		vecs, _, err := m.Embed(ctx, []string{"sanity check"}, Options{})
		if err != nil {
			return 0, err
		}
		return len(vecs[0]), nil
	case backend.Predict:
		preds, _, err := m.Predict(ctx, []string{"sanity check"}, Options{})
		if err != nil {
			return 0, err
		}
		return len(preds[0]), nil
	case backend.Rerank:
		_, _, err := m.Rerank(ctx, "sanity", []string{"check"}, Options{})
		return 1, err
	}
	return 0, fmt.Errorf("unknown kind %s", k)
}
