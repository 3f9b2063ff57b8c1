//go:build !tokenizers

package tokenize

import "fmt"

// OpenHF requires building with -tags tokenizers.
func OpenHF(path string) (Tokenizer, error) {
	return nil, fmt.Errorf("%w: load %s: built without the tokenizers tag", ErrUnavailable, path)
}
