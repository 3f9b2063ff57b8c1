// Package backend defines the compute-engine capability the scheduler drives.
//
// A Backend receives one padded Batch at a time and returns one Output per
// member, in member order, or a single batch-level *Error. Implementations are
// never called concurrently with themselves; exclusivity is enforced by the
// scheduler in internal/queue, not here.
//
// Engines live in subpackages:
//
//   - fallback: pure-Go deterministic engine, always available.
//   - llamacpp: in-process go-llama.cpp engine. Enabled with `-tags=llama`; a
//     no-CGO stub reports the dependency as unavailable otherwise.
//   - subprocess: delegates to a spawned llama-server over HTTP.
package backend

import (
	"context"
	"fmt"
	"strings"
)

// Kind is the operation a Batch runs.
type Kind int

const (
	Embed Kind = iota
	Rerank
	Predict
)

func (k Kind) String() string {
	switch k {
	case Embed:
		return "embed"
	case Rerank:
		return "rerank"
	case Predict:
		return "predict"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a config/API string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "embed", "embedding":
		return Embed, nil
	case "rerank", "reranker":
		return Rerank, nil
	case "predict", "classify", "classifier":
		return Predict, nil
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// Batch is the padded tensor view of a scheduled batch.
// Every row of InputIDs, TypeIDs and AttentionMask has length MaxLength;
// AttentionMask is 1 for real tokens and 0 for padding.
type Batch struct {
	Kind          Kind
	InputIDs      [][]uint32
	TypeIDs       [][]uint32
	AttentionMask [][]uint32
	MaxLength     int
}

// Size returns the number of members.
func (b *Batch) Size() int { return len(b.InputIDs) }

// Tokens returns the unpadded token ids of member i.
func (b *Batch) Tokens(i int) []uint32 {
	ids := b.InputIDs[i]
	mask := b.AttentionMask[i]
	out := make([]uint32, 0, len(ids))
	for j, id := range ids {
		if mask[j] != 0 {
			out = append(out, id)
		}
	}
	return out
}

// Output is the numeric result of one member: a vector for Embed and Predict,
// a single score for Rerank.
type Output struct {
	Values []float32
}

// Backend is the compute engine capability.
type Backend interface {
	// Infer runs one batch. It returns len(b.InputIDs) outputs or an error
	// that applies to the whole batch.
	Infer(ctx context.Context, b *Batch) ([]Output, error)
	// Supports reports whether the engine can run the given operation.
	Supports(k Kind) bool
	// Health reports whether the engine is ready to take work.
	Health(ctx context.Context) error
	// Close releases model resources.
	Close() error
}
