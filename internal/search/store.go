// Package search keeps embedded documents in pebble and answers nearest
// neighbour queries by brute-force cosine similarity.
package search

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	pebble "github.com/cockroachdb/pebble"

	"embedd/internal/backend"
)

// Doc is a stored document.
type Doc struct {
	ID     string    `json:"id"`
	Text   string    `json:"text"`
	Source string    `json:"source,omitempty"`
	Code   string    `json:"code,omitempty"`
	Vector []float32 `json:"vector"`
}

// Hit is a document with its similarity to the query.
type Hit struct {
	Doc
	Similarity float32
}

type notFoundError struct{ what string }

func (e notFoundError) Error() string { return e.what + " not found" }
func (notFoundError) StatusCode() int { return http.StatusNotFound }

func ErrNotFound(table string) error { return notFoundError{what: "table " + table} }

func errDocNotFound(table, id string) error {
	return notFoundError{what: "document " + table + "/" + id}
}

func IsNotFound(err error) bool {
	var e notFoundError
	return errors.As(err, &e)
}

// Store wraps a pebble database.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open search store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type invalidTableError struct{ table string }

func (e invalidTableError) Error() string { return fmt.Sprintf("invalid table name %q", e.table) }
func (invalidTableError) StatusCode() int { return http.StatusBadRequest }

// ValidateTable rejects empty names and names that would escape the
// table's key prefix.
func ValidateTable(table string) error {
	if strings.TrimSpace(table) == "" || strings.ContainsAny(table, "/\x00") {
		return invalidTableError{table: table}
	}
	return nil
}

func IsInvalidTable(err error) bool {
	var e invalidTableError
	return errors.As(err, &e)
}

func tablePrefix(table string) []byte { return []byte("doc/" + table + "/") }

func docKey(table, id string) []byte { return append(tablePrefix(table), id...) }

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Put stores docs in table atomically. Existing ids are overwritten.
func (s *Store) Put(table string, docs []Doc) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	wb := s.db.NewBatch()
	defer wb.Close()
	for _, d := range docs {
		if d.ID == "" {
			return errors.New("document id required")
		}
		if len(d.Vector) == 0 {
			return fmt.Errorf("document %s has no vector", d.ID)
		}
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		if err := wb.Set(docKey(table, d.ID), data, nil); err != nil {
			return err
		}
	}
	return wb.Commit(pebble.Sync)
}

// Get returns one document.
func (s *Store) Get(table, id string) (Doc, error) {
	if err := ValidateTable(table); err != nil {
		return Doc{}, err
	}
	v, closer, err := s.db.Get(docKey(table, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Doc{}, errDocNotFound(table, id)
	}
	if err != nil {
		return Doc{}, err
	}
	defer closer.Close()
	var d Doc
	if err := json.Unmarshal(v, &d); err != nil {
		return Doc{}, err
	}
	return d, nil
}

// Delete removes one document; missing ids are ignored.
func (s *Store) Delete(table, id string) error {
	if err := ValidateTable(table); err != nil {
		return err
	}
	return s.db.Delete(docKey(table, id), pebble.Sync)
}

// scan calls fn for every document in table.
func (s *Store) scan(table string, fn func(Doc) error) (int, error) {
	p := tablePrefix(table)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: p, UpperBound: prefixEnd(p)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		var d Doc
		if err := json.Unmarshal(iter.Value(), &d); err != nil {
			return n, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		n++
		if err := fn(d); err != nil {
			return n, err
		}
	}
	return n, iter.Error()
}

// Count returns the number of documents in table.
func (s *Store) Count(table string) (int, error) {
	if err := ValidateTable(table); err != nil {
		return 0, err
	}
	return s.scan(table, func(Doc) error { return nil })
}

// Search returns the topK documents most similar to vector, best first. A
// table with no documents is reported as not found.
func (s *Store) Search(table string, vector []float32, topK int) ([]Hit, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, errors.New("top_k must be > 0")
	}
	var hits []Hit
	n, err := s.scan(table, func(d Doc) error {
		if len(d.Vector) != len(vector) {
			return fmt.Errorf("document %s has dimension %d, query has %d", d.ID, len(d.Vector), len(vector))
		}
		hits = append(hits, Hit{Doc: d, Similarity: backend.Cosine(vector, d.Vector)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound(table)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
