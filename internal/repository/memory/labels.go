package memory

import (
	"context"

	"github.com/kailas-cloud/docstore/internal/domain/filter"
	domlabel "github.com/kailas-cloud/docstore/internal/domain/label"
)

// WriteLabels upserts labels by id.
func (s *Store) WriteLabels(_ context.Context, index string, labels []domlabel.Label) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.labels[index]
	if !ok {
		t = newTable[domlabel.Label]()
		s.labels[index] = t
	}
	for i := range labels {
		t.put(labels[i].ID(), cloneLabel(&labels[i]))
	}
	return len(labels), nil
}

// QueryLabels returns copies of the matching labels in insertion order.
func (s *Store) QueryLabels(_ context.Context, index string, node filter.Node) ([]domlabel.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.labels[index]
	if !ok {
		return nil, nil
	}
	var out []domlabel.Label
	for _, id := range t.order {
		l := t.byID[id]
		if filter.Matches(node, domlabel.FilterFields(&l)) {
			out = append(out, cloneLabel(&l))
		}
	}
	return out, nil
}

// GetLabels returns copies of the stored labels among ids, in ids order.
func (s *Store) GetLabels(_ context.Context, index string, ids []string) ([]domlabel.Label, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.labels[index]
	if !ok {
		return nil, nil
	}
	var out []domlabel.Label
	for _, id := range ids {
		if l, ok := t.byID[id]; ok {
			out = append(out, cloneLabel(&l))
		}
	}
	return out, nil
}

// DeleteLabels removes labels selected by ids, node or both (intersection).
// With neither every label of the index is removed.
func (s *Store) DeleteLabels(_ context.Context, index string, ids []string, node filter.Node) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.labels[index]
	if !ok {
		return 0, nil
	}

	var wanted map[string]struct{}
	if len(ids) > 0 {
		wanted = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			wanted[id] = struct{}{}
		}
	}

	set := make(map[string]struct{})
	for id, l := range t.byID {
		if wanted != nil {
			if _, ok := wanted[id]; !ok {
				continue
			}
		}
		if filter.Matches(node, domlabel.FilterFields(&l)) {
			set[id] = struct{}{}
		}
	}
	return t.remove(set), nil
}

// CountLabels returns the number of labels in index.
func (s *Store) CountLabels(_ context.Context, index string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, ok := s.labels[index]; ok {
		return len(t.byID), nil
	}
	return 0, nil
}
