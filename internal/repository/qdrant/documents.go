package qdrant

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/domain"
	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/duplicate"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	"github.com/kailas-cloud/docstore/internal/metrics"
)

// WriteBatch upserts docs as points. Duplicate resolution happens in the
// caller.
func (r *Repo) WriteBatch(ctx context.Context, index string, docs []domdoc.Document, _ duplicate.Mode) (int, error) {
	defer metrics.ObserveBackend(backendName, "write_batch", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i := range docs {
		if err := r.fields.CheckMeta(docs[i].Meta()); err != nil {
			return 0, fmt.Errorf("document %s: %w", docs[i].ID(), err)
		}
		p, err := toPoint(&docs[i])
		if err != nil {
			return 0, err
		}
		points = append(points, p)
	}

	if err := r.ensureCollection(ctx, index); err != nil {
		return 0, err
	}
	if err := r.upsert(ctx, index, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// LookupByIDs returns the stored documents among ids, in request order.
func (r *Repo) LookupByIDs(ctx context.Context, index string, ids []string) ([]domdoc.Document, error) {
	defer metrics.ObserveBackend(backendName, "lookup", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, err
	}
	points, err := r.get(ctx, index, ids, true)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domdoc.Document, len(points))
	for _, p := range points {
		d := fromPayload(p.GetPayload(), p.GetVectors(), true)
		byID[d.ID()] = d
	}
	out := make([]domdoc.Document, 0, len(byID))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
			delete(byID, id)
		}
	}
	return out, nil
}

// QueryByFilter pages matching documents in point id order. The cursor is the
// point id of the first document of the next page.
func (r *Repo) QueryByFilter(ctx context.Context, index string, node filter.Node, page domdoc.Page) (
	[]domdoc.Document, string, error,
) {
	defer metrics.ObserveBackend(backendName, "query_filter", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, "", err
	}
	from, err := parseCursor(page.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := page.Limit
	if limit <= 0 {
		limit = scrollPage
	}

	f, native := r.convert(node)
	if !native {
		r.logger.Debug("filter evaluated in-process",
			zap.String("index", index), zap.Strings("fields", filter.Fields(node)))
		f = nil
	}
	f = scope(f, page.OnlyWithoutEmbedding)

	var (
		docs []domdoc.Document
		next string
	)
	err = r.each(ctx, index, f, from, page.WithEmbedding, func(p *qdrant.RetrievedPoint) bool {
		if !native && !filter.Matches(node, metaOf(p.GetPayload())) {
			return true
		}
		if len(docs) == limit {
			next = p.GetId().GetUuid()
			return false
		}
		docs = append(docs, fromPayload(p.GetPayload(), p.GetVectors(), page.WithEmbedding))
		return true
	})
	if err != nil {
		return nil, "", err
	}
	return docs, next, nil
}

// QueryByEmbedding runs a nearest-neighbour query. The filter must convert
// to a Qdrant filter so it applies before the top-k cut.
func (r *Repo) QueryByEmbedding(ctx context.Context, index string, vector []float32, node filter.Node, topK int) (
	[]domdoc.Scored, error,
) {
	defer metrics.ObserveBackend(backendName, "query_embedding", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	f, ok := r.convert(node)
	if !ok {
		return nil, fmt.Errorf("filter on %v cannot run as a vector pre-filter: %w",
			filter.Fields(node), domain.ErrUnsupportedFilter)
	}

	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection(index),
		Query:          qdrant.NewQuery(vector...),
		Using:          qdrant.PtrOf(vectorName),
		Filter:         f,
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, backendError("query points", err)
	}

	out := make([]domdoc.Scored, 0, len(points))
	for _, p := range points {
		out = append(out, domdoc.Scored{
			Document: fromPayload(p.GetPayload(), p.GetVectors(), true),
			RawScore: r.rawScore(p.GetScore()),
		})
	}
	return out, nil
}

// DeleteByIDs removes documents by id and reports how many existed.
func (r *Repo) DeleteByIDs(ctx context.Context, index string, ids []string) (int, error) {
	defer metrics.ObserveBackend(backendName, "delete_ids", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	existing, err := r.get(ctx, index, ids, false)
	if err != nil || len(existing) == 0 {
		return 0, err
	}
	pids := make([]*qdrant.PointId, len(existing))
	for i, p := range existing {
		pids[i] = p.GetId()
	}
	if err := r.delete(ctx, index, qdrant.NewPointsSelector(pids...)); err != nil {
		return 0, err
	}
	return len(existing), nil
}

// DeleteByFilter removes matching documents. A nil node removes all of them.
func (r *Repo) DeleteByFilter(ctx context.Context, index string, node filter.Node) (int, error) {
	defer metrics.ObserveBackend(backendName, "delete_filter", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}

	f, ok := r.convert(node)
	if !ok {
		var pids []*qdrant.PointId
		err := r.each(ctx, index, nil, nil, false, func(p *qdrant.RetrievedPoint) bool {
			if filter.Matches(node, metaOf(p.GetPayload())) {
				pids = append(pids, p.GetId())
			}
			return true
		})
		if err != nil || len(pids) == 0 {
			return 0, err
		}
		if err := r.delete(ctx, index, qdrant.NewPointsSelector(pids...)); err != nil {
			return 0, err
		}
		return len(pids), nil
	}

	n, err := r.count(ctx, index, f)
	if err != nil || n == 0 {
		return 0, err
	}
	if f == nil {
		f = &qdrant.Filter{}
	}
	if err := r.delete(ctx, index, qdrant.NewPointsSelectorFilter(f)); err != nil {
		return 0, err
	}
	return n, nil
}

// CountDocuments counts matching documents, optionally only those without an embedding.
func (r *Repo) CountDocuments(ctx context.Context, index string, node filter.Node, onlyWithoutEmbedding bool) (
	int, error,
) {
	defer metrics.ObserveBackend(backendName, "count", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}

	if f, ok := r.convert(node); ok {
		return r.count(ctx, index, scope(f, onlyWithoutEmbedding))
	}

	count := 0
	err := r.each(ctx, index, scope(nil, onlyWithoutEmbedding), nil, false, func(p *qdrant.RetrievedPoint) bool {
		if filter.Matches(node, metaOf(p.GetPayload())) {
			count++
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateEmbeddings replaces the embeddings of stored documents. Unknown ids
// are ignored: points are re-upserted from their stored payload.
func (r *Repo) UpdateEmbeddings(ctx context.Context, index string, embeddings map[string][]float32) error {
	defer metrics.ObserveBackend(backendName, "update_embeddings", time.Now())

	if err := validateIndex(index); err != nil {
		return err
	}
	if len(embeddings) == 0 {
		return nil
	}

	ids := make([]string, 0, len(embeddings))
	for id := range embeddings {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for chunk := range slices.Chunk(ids, scrollPage) {
		found, err := r.get(ctx, index, chunk, false)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			continue
		}
		points := make([]*qdrant.PointStruct, 0, len(found))
		for _, p := range found {
			d := fromPayload(p.GetPayload(), nil, false)
			d = d.WithEmbedding(embeddings[d.ID()])
			pt, err := toPoint(&d)
			if err != nil {
				return err
			}
			points = append(points, pt)
		}
		if err := r.upsert(ctx, index, points); err != nil {
			return err
		}
	}
	return nil
}

// --- point helpers ---

// scope narrows f to points without an embedding when only is set.
func scope(f *qdrant.Filter, only bool) *qdrant.Filter {
	if !only {
		return f
	}
	noVector := qdrant.NewMatchBool(payloadHasVector, false)
	if f == nil {
		return &qdrant.Filter{Must: []*qdrant.Condition{noVector}}
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewFilterAsCondition(f), noVector}}
}

func parseCursor(cursor string) (*qdrant.PointId, error) {
	if cursor == "" {
		return nil, nil
	}
	id, err := uuid.Parse(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor %q: %w", cursor, domain.ErrConfiguration)
	}
	return qdrant.NewID(id.String()), nil
}

// each scrolls the points matching f from the point id from on, one page at a
// time, until visit returns false. A missing collection has no points.
func (r *Repo) each(ctx context.Context, index string, f *qdrant.Filter, from *qdrant.PointId, withEmb bool,
	visit func(p *qdrant.RetrievedPoint) bool,
) error {
	for {
		points, err := r.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: r.collection(index),
			Filter:         f,
			Offset:         from,
			Limit:          qdrant.PtrOf(uint32(scrollPage + 1)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(withEmb),
		})
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return backendError("scroll points", err)
		}

		page := points
		if len(page) > scrollPage {
			page = page[:scrollPage]
		}
		for _, p := range page {
			if !visit(p) {
				return nil
			}
		}
		if len(points) <= scrollPage {
			return nil
		}
		from = points[scrollPage].GetId()
	}
}

func (r *Repo) get(ctx context.Context, index string, ids []string, withEmb bool) ([]*qdrant.RetrievedPoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(ids))
	pids := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		pids = append(pids, pointID(id))
	}
	points, err := r.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: r.collection(index),
		Ids:            pids,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(withEmb),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, backendError("get points", err)
	}
	return points, nil
}

func (r *Repo) count(ctx context.Context, index string, f *qdrant.Filter) (int, error) {
	n, err := r.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: r.collection(index),
		Filter:         f,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, backendError("count points", err)
	}
	return int(n), nil
}

func (r *Repo) upsert(ctx context.Context, index string, points []*qdrant.PointStruct) error {
	_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection(index),
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return backendError("upsert points", err)
	}
	return nil
}

func (r *Repo) delete(ctx context.Context, index string, sel *qdrant.PointsSelector) error {
	_, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.collection(index),
		Points:         sel,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil && !isNotFound(err) {
		return backendError("delete points", err)
	}
	return nil
}
