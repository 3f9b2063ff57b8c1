package tokenize

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	PadID = 0
	ClsID = 1
	SepID = 2
	// firstWordID is the first id handed to hashed words.
	firstWordID      = 3
	defaultVocabSize = 30522
)

// Simple is a lowercase word/punctuation tokenizer with hashed ids. It needs
// no vocabulary file and gives the same ids for the same words everywhere.
type Simple struct {
	vocab int
}

// NewSimple returns a tokenizer over a vocabulary of the given size
// (default 30522).
func NewSimple(vocab int) *Simple {
	if vocab <= firstWordID {
		vocab = defaultVocabSize
	}
	return &Simple{vocab: vocab}
}

func (s *Simple) VocabSize() int { return s.vocab }

func (s *Simple) Close() error { return nil }

func (s *Simple) Encode(ctx context.Context, text string) (Encoding, error) {
	if err := ctx.Err(); err != nil {
		return Encoding{}, err
	}
	enc := Encoding{
		IDs:     []uint32{ClsID},
		TypeIDs: []uint32{0},
		Special: []bool{true},
		Offsets: [][2]uint{{}},
	}
	s.words(text, &enc)
	enc.IDs = append(enc.IDs, SepID)
	enc.TypeIDs = append(enc.TypeIDs, 0)
	enc.Special = append(enc.Special, true)
	enc.Offsets = append(enc.Offsets, [2]uint{})
	return enc, nil
}

func (s *Simple) EncodePair(ctx context.Context, a, b string) (Encoding, error) {
	first, err := s.Encode(ctx, a)
	if err != nil {
		return Encoding{}, err
	}
	var second Encoding
	s.words(b, &second)
	return join(first, second, SepID), nil
}

// words appends one token per word run and per punctuation rune.
func (s *Simple) words(text string, enc *Encoding) {
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		s.emit(text, start, end, enc)
		start = -1
	}
	for i, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if start < 0 {
				start = i
			}
		case unicode.IsSpace(r):
			flush(i)
		default:
			flush(i)
			// Invalid bytes decode as RuneError with width 1.
			_, w := utf8.DecodeRuneInString(text[i:])
			s.emit(text, i, i+w, enc)
		}
	}
	flush(len(text))
}

func (s *Simple) emit(text string, start, end int, enc *Encoding) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(text[start:end])))
	id := firstWordID + h.Sum32()%uint32(s.vocab-firstWordID)
	enc.IDs = append(enc.IDs, id)
	enc.TypeIDs = append(enc.TypeIDs, 0)
	enc.Special = append(enc.Special, false)
	enc.Offsets = append(enc.Offsets, [2]uint{uint(start), uint(end)})
}
