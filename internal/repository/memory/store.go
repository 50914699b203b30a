// Package memory is an in-process backend holding documents and labels in maps.
// It evaluates filters with filter.Matches and ranks by brute force, which makes
// it the reference the other backends are tested against.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/kailas-cloud/docstore/internal/domain"
	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	domlabel "github.com/kailas-cloud/docstore/internal/domain/label"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

// Store keeps every index in memory. Safe for concurrent use.
type Store struct {
	metric similarity.Metric
	dim    int

	mu     sync.RWMutex
	docs   map[string]*table[domdoc.Document]
	labels map[string]*table[domlabel.Label]
}

// table preserves insertion order; overwriting an id keeps its position.
type table[T any] struct {
	order []string
	byID  map[string]T
}

func newTable[T any]() *table[T] {
	return &table[T]{byID: make(map[string]T)}
}

func (t *table[T]) put(id string, v T) bool {
	_, existed := t.byID[id]
	if !existed {
		t.order = append(t.order, id)
	}
	t.byID[id] = v
	return !existed
}

func (t *table[T]) remove(ids map[string]struct{}) int {
	n := 0
	for id := range ids {
		if _, ok := t.byID[id]; ok {
			delete(t.byID, id)
			n++
		}
	}
	if n > 0 {
		t.order = slices.DeleteFunc(t.order, func(id string) bool {
			_, gone := ids[id]
			return gone
		})
	}
	return n
}

// New creates an empty store ranking with metric over dim-sized embeddings.
func New(metric similarity.Metric, dim int) *Store {
	return &Store{
		metric: metric,
		dim:    dim,
		docs:   make(map[string]*table[domdoc.Document]),
		labels: make(map[string]*table[domlabel.Label]),
	}
}

// Metric returns the similarity metric.
func (s *Store) Metric() similarity.Metric { return s.metric }

// Dimension returns the embedding dimension.
func (s *Store) Dimension() int { return s.dim }

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// DeleteIndex drops documents and labels of index. Missing indexes are not an error.
func (s *Store) DeleteIndex(_ context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, index)
	delete(s.labels, index)
	return nil
}

func cloneDocument(d *domdoc.Document) domdoc.Document {
	return domdoc.Reconstruct(d.ID(), d.Content(), maps.Clone(d.Meta()), slices.Clone(d.Embedding()))
}

func cloneLabel(l *domlabel.Label) domlabel.Label {
	p := l.Params()
	p.Document = cloneDocument(&p.Document)
	p.Filters = maps.Clone(p.Filters)
	p.Meta = maps.Clone(p.Meta)
	if p.Answer != nil {
		a := *p.Answer
		p.Answer = &a
	}
	return domlabel.Reconstruct(l.ID(), p, l.CreatedAt(), l.UpdatedAt())
}

func parseOffset(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cursor %q: %w", cursor, domain.ErrConfiguration)
	}
	return n, nil
}
