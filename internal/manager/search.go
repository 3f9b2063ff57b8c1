package manager

import (
	"context"

	"github.com/google/uuid"

	"embedd/internal/backend"
	"embedd/internal/search"
	"embedd/pkg/types"
)

const defaultTopK = 5

func (m *Manager) searchStore() (*search.Store, error) {
	if m.store == nil {
		return nil, backend.ErrDependencyUnavailable("search store not configured (set search_dir)")
	}
	return m.store, nil
}

// Index embeds docs through the batching queue and stores them in table.
// Documents without an id get a random UUID. Returns the stored ids.
func (m *Manager) Index(ctx context.Context, table string, docs []types.Document) ([]string, error) {
	store, err := m.searchStore()
	if err != nil {
		return nil, err
	}
	if err := search.ValidateTable(table); err != nil {
		return nil, ErrValidation("%v", err)
	}
	if len(docs) == 0 {
		return nil, ErrValidation("no documents to index")
	}
	stored := make([]search.Doc, 0, len(docs))
	// Chunk so one large upload never exceeds the per-request input cap.
	for lo := 0; lo < len(docs); lo += m.cfg.MaxClientBatchSize {
		hi := lo + m.cfg.MaxClientBatchSize
		if hi > len(docs) {
			hi = len(docs)
		}
		texts := make([]string, hi-lo)
		for i, d := range docs[lo:hi] {
			texts[i] = d.Text
		}
		vecs, _, err := m.Embed(ctx, texts, Options{})
		if err != nil {
			return nil, err
		}
		for i, d := range docs[lo:hi] {
			id := d.ID
			if id == "" {
				id = uuid.NewString()
			}
			source := d.Source
			if source == "" {
				source = table
			}
			stored = append(stored, search.Doc{ID: id, Text: d.Text, Source: source, Code: d.Code, Vector: vecs[i]})
		}
	}
	if err := store.Put(table, stored); err != nil {
		return nil, err
	}
	ids := make([]string, len(stored))
	for i, d := range stored {
		ids[i] = d.ID
	}
	m.log.Info().Str("table", table).Int("documents", len(ids)).Msg("indexed")
	return ids, nil
}

// Search embeds question and returns the topK nearest documents in table.
func (m *Manager) Search(ctx context.Context, table, question string, topK int) ([]types.SearchHit, error) {
	store, err := m.searchStore()
	if err != nil {
		return nil, err
	}
	if err := search.ValidateTable(table); err != nil {
		return nil, ErrValidation("%v", err)
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	vecs, _, err := m.Embed(ctx, []string{question}, Options{})
	if err != nil {
		return nil, err
	}
	hits, err := store.Search(table, vecs[0], topK)
	if err != nil {
		return nil, err
	}
	out := make([]types.SearchHit, len(hits))
	for i, h := range hits {
		out[i] = types.SearchHit{ID: h.ID, Source: h.Source, Similarity: h.Similarity, Distance: 1 - h.Similarity, Code: h.Code}
	}
	return out, nil
}

// Document returns one stored document without its vector.
func (m *Manager) Document(table, id string) (types.Document, error) {
	store, err := m.searchStore()
	if err != nil {
		return types.Document{}, err
	}
	if err := search.ValidateTable(table); err != nil {
		return types.Document{}, ErrValidation("%v", err)
	}
	d, err := store.Get(table, id)
	if err != nil {
		return types.Document{}, err
	}
	return types.Document{ID: d.ID, Text: d.Text, Source: d.Source, Code: d.Code}, nil
}

// DeleteDocument removes one document from table. Deleting an unknown id
// succeeds.
func (m *Manager) DeleteDocument(table, id string) error {
	store, err := m.searchStore()
	if err != nil {
		return err
	}
	if err := search.ValidateTable(table); err != nil {
		return ErrValidation("%v", err)
	}
	if id == "" {
		return ErrValidation("document id must not be empty")
	}
	if err := store.Delete(table, id); err != nil {
		return err
	}
	m.log.Info().Str("table", table).Str("id", id).Msg("document deleted")
	return nil
}
