package memory

import (
	"cmp"
	"context"
	"slices"
	"strconv"

	"github.com/kailas-cloud/docstore/internal/domain"
	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/duplicate"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

// WriteBatch stores docs. Skip leaves existing ids untouched; Fail rejects the
// whole batch when any id exists; Overwrite upserts.
func (s *Store) WriteBatch(_ context.Context, index string, docs []domdoc.Document, mode duplicate.Mode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.docs[index]
	if !ok {
		t = newTable[domdoc.Document]()
		s.docs[index] = t
	}

	if mode == duplicate.Fail {
		var taken []string
		for i := range docs {
			if _, exists := t.byID[docs[i].ID()]; exists {
				taken = append(taken, docs[i].ID())
			}
		}
		if len(taken) > 0 {
			return 0, domain.NewDuplicateDocument(index, taken)
		}
	}

	written := 0
	for i := range docs {
		if mode == duplicate.Skip {
			if _, exists := t.byID[docs[i].ID()]; exists {
				continue
			}
		}
		t.put(docs[i].ID(), cloneDocument(&docs[i]))
		written++
	}
	return written, nil
}

// LookupByIDs returns the stored documents among ids, in ids order.
func (s *Store) LookupByIDs(_ context.Context, index string, ids []string) ([]domdoc.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.docs[index]
	if !ok {
		return nil, nil
	}
	out := make([]domdoc.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := t.byID[id]; ok {
			out = append(out, cloneDocument(&d))
		}
	}
	return out, nil
}

// QueryByFilter pages through matching documents in insertion order.
// The cursor is the offset into the matching sequence.
func (s *Store) QueryByFilter(_ context.Context, index string, node filter.Node, page domdoc.Page) (
	[]domdoc.Document, string, error,
) {
	offset, err := parseOffset(page.Cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.docs[index]
	if !ok {
		return nil, "", nil
	}

	var out []domdoc.Document
	seen := 0
	for _, id := range t.order {
		d := t.byID[id]
		if !selectDocument(&d, node, page.OnlyWithoutEmbedding) {
			continue
		}
		seen++
		if seen <= offset {
			continue
		}
		if page.Limit > 0 && len(out) == page.Limit {
			return out, strconv.Itoa(offset + page.Limit), nil
		}
		c := cloneDocument(&d)
		if !page.WithEmbedding {
			c = c.WithEmbedding(nil)
		}
		out = append(out, c)
	}
	return out, "", nil
}

// QueryByEmbedding ranks every embedded matching document by brute force.
// Documents whose embedding length differs from vector are ignored.
func (s *Store) QueryByEmbedding(_ context.Context, index string, vector []float32, node filter.Node, topK int) (
	[]domdoc.Scored, error,
) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.docs[index]
	if !ok {
		return nil, nil
	}

	var hits []domdoc.Scored
	for _, id := range t.order {
		d := t.byID[id]
		if len(d.Embedding()) != len(vector) || !filter.Matches(node, d.Meta()) {
			continue
		}
		hits = append(hits, domdoc.Scored{
			Document: cloneDocument(&d),
			RawScore: similarity.Score(vector, d.Embedding(), s.metric),
		})
	}
	slices.SortStableFunc(hits, func(a, b domdoc.Scored) int {
		return cmp.Compare(b.RawScore, a.RawScore)
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteByIDs removes ids and returns how many existed.
func (s *Store) DeleteByIDs(_ context.Context, index string, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.docs[index]
	if !ok {
		return 0, nil
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return t.remove(set), nil
}

// DeleteByFilter removes every matching document. A nil node empties the index.
func (s *Store) DeleteByFilter(_ context.Context, index string, node filter.Node) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.docs[index]
	if !ok {
		return 0, nil
	}
	set := make(map[string]struct{})
	for id, d := range t.byID {
		if filter.Matches(node, d.Meta()) {
			set[id] = struct{}{}
		}
	}
	return t.remove(set), nil
}

// CountDocuments counts matching documents.
func (s *Store) CountDocuments(_ context.Context, index string, node filter.Node, onlyWithoutEmbedding bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.docs[index]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, d := range t.byID {
		if selectDocument(&d, node, onlyWithoutEmbedding) {
			n++
		}
	}
	return n, nil
}

// UpdateEmbeddings replaces embeddings of existing documents; unknown ids are ignored.
func (s *Store) UpdateEmbeddings(_ context.Context, index string, embeddings map[string][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.docs[index]
	if !ok {
		return nil
	}
	for id, vec := range embeddings {
		if d, ok := t.byID[id]; ok {
			t.byID[id] = d.WithEmbedding(slices.Clone(vec))
		}
	}
	return nil
}

func selectDocument(d *domdoc.Document, node filter.Node, onlyWithoutEmbedding bool) bool {
	if onlyWithoutEmbedding && d.HasEmbedding() {
		return false
	}
	return filter.Matches(node, d.Meta())
}
