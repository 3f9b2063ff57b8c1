// Package tokenize turns request text into token id sequences.
//
// Two implementations exist: a HuggingFace tokenizer.json loader (build tag
// "tokenizers") and a dependency-free word tokenizer used by default and in
// tests. Both emit the BERT layout: [CLS] a... [SEP] for single inputs and
// [CLS] a... [SEP] b... [SEP] for pairs, with type id 1 on the second segment.
package tokenize

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable is returned when the requested tokenizer was not compiled in.
var ErrUnavailable = errors.New("tokenizer unavailable")

// Encoding is the tokenizer output for one input or pair.
type Encoding struct {
	IDs     []uint32
	TypeIDs []uint32
	// Special marks [CLS]/[SEP] style positions that truncation must keep.
	Special []bool
	// Offsets are byte ranges into the source text of the token's segment.
	Offsets [][2]uint
}

// Len returns the token count.
func (e Encoding) Len() int { return len(e.IDs) }

// Truncate drops non-special tokens from the end of the last segment first,
// then from earlier segments, until at most max tokens remain. It reports false
// when the special tokens alone exceed max.
func (e Encoding) Truncate(max int) (Encoding, bool) {
	excess := e.Len() - max
	if excess <= 0 {
		return e, true
	}
	var maxType uint32
	for _, t := range e.TypeIDs {
		if t > maxType {
			maxType = t
		}
	}
	drop := make([]bool, e.Len())
	for seg := int(maxType); seg >= 0 && excess > 0; seg-- {
		for i := e.Len() - 1; i >= 0 && excess > 0; i-- {
			if e.Special[i] || int(e.TypeIDs[i]) != seg {
				continue
			}
			drop[i] = true
			excess--
		}
	}
	if excess > 0 {
		return e, false
	}
	out := Encoding{}
	for i := range e.IDs {
		if drop[i] {
			continue
		}
		out.IDs = append(out.IDs, e.IDs[i])
		out.TypeIDs = append(out.TypeIDs, e.TypeIDs[i])
		out.Special = append(out.Special, e.Special[i])
		out.Offsets = append(out.Offsets, e.Offsets[i])
	}
	return out, true
}

// Tokenizer encodes text. Implementations are safe for concurrent use.
type Tokenizer interface {
	Encode(ctx context.Context, text string) (Encoding, error)
	EncodePair(ctx context.Context, a, b string) (Encoding, error)
	VocabSize() int
	Close() error
}

// Config selects and parameterizes a tokenizer.
type Config struct {
	// Kind is "simple", "hf", or empty to pick hf when Path is set.
	Kind      string
	Path      string
	VocabSize int
}

// Open builds the tokenizer described by cfg.
func Open(cfg Config) (Tokenizer, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = "simple"
		if cfg.Path != "" {
			kind = "hf"
		}
	}
	switch kind {
	case "simple":
		return NewSimple(cfg.VocabSize), nil
	case "hf":
		if cfg.Path == "" {
			return nil, errors.New("hf tokenizer requires a tokenizer.json path")
		}
		return OpenHF(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown tokenizer kind %q", cfg.Kind)
	}
}

// join appends b (without its leading special token) to a as segment 1.
func join(a, b Encoding, sep uint32) Encoding {
	out := Encoding{
		IDs:     append([]uint32(nil), a.IDs...),
		TypeIDs: append([]uint32(nil), a.TypeIDs...),
		Special: append([]bool(nil), a.Special...),
		Offsets: append([][2]uint(nil), a.Offsets...),
	}
	for i := range b.IDs {
		out.IDs = append(out.IDs, b.IDs[i])
		out.TypeIDs = append(out.TypeIDs, 1)
		out.Special = append(out.Special, b.Special[i])
		out.Offsets = append(out.Offsets, b.Offsets[i])
	}
	out.IDs = append(out.IDs, sep)
	out.TypeIDs = append(out.TypeIDs, 1)
	out.Special = append(out.Special, true)
	out.Offsets = append(out.Offsets, [2]uint{})
	return out
}
