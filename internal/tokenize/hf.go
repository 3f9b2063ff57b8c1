//go:build tokenizers

package tokenize

import (
	"context"
	"errors"
	"fmt"

	"github.com/daulet/tokenizers"
)

// HF wraps a HuggingFace tokenizer.json through the Rust tokenizers library.
type HF struct {
	tk  *tokenizers.Tokenizer
	sep uint32
}

// OpenHF loads tokenizer.json from path.
func OpenHF(path string) (Tokenizer, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	h := &HF{tk: tk}
	// The template's closing special token separates pair segments.
	probe := h.encode("", true)
	if probe.Len() == 0 || !probe.Special[probe.Len()-1] {
		_ = tk.Close()
		return nil, errors.New("tokenizer has no closing special token; pair inputs unsupported")
	}
	h.sep = probe.IDs[probe.Len()-1]
	return h, nil
}

func (h *HF) encode(text string, special bool) Encoding {
	res := h.tk.EncodeWithOptions(text, special,
		tokenizers.WithReturnTypeIDs(),
		tokenizers.WithReturnSpecialTokensMask(),
		tokenizers.WithReturnOffsets(),
	)
	enc := Encoding{
		IDs:     res.IDs,
		TypeIDs: res.TypeIDs,
		Special: make([]bool, len(res.IDs)),
		Offsets: make([][2]uint, len(res.IDs)),
	}
	if len(enc.TypeIDs) != len(enc.IDs) {
		enc.TypeIDs = make([]uint32, len(res.IDs))
	}
	for i := range res.IDs {
		if i < len(res.SpecialTokensMask) {
			enc.Special[i] = res.SpecialTokensMask[i] == 1
		}
		if i < len(res.Offsets) {
			enc.Offsets[i] = [2]uint{res.Offsets[i][0], res.Offsets[i][1]}
		}
	}
	return enc
}

func (h *HF) Encode(ctx context.Context, text string) (Encoding, error) {
	if err := ctx.Err(); err != nil {
		return Encoding{}, err
	}
	return h.encode(text, true), nil
}

func (h *HF) EncodePair(ctx context.Context, a, b string) (Encoding, error) {
	if err := ctx.Err(); err != nil {
		return Encoding{}, err
	}
	return join(h.encode(a, true), h.encode(b, false), h.sep), nil
}

func (h *HF) VocabSize() int { return int(h.tk.VocabSize()) }

func (h *HF) Close() error { return h.tk.Close() }
