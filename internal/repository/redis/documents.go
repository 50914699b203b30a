package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/db"
	"github.com/kailas-cloud/docstore/internal/domain"
	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/duplicate"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	"github.com/kailas-cloud/docstore/internal/metrics"
)

// Root paths select the whole document: JSONPath for FT.SEARCH RETURN,
// legacy path for JSON.MGET so each reply is an object rather than an array.
const (
	returnRoot = "$"
	mgetRoot   = "."
	withoutVec = "@" + attrHasVector + ":[0 0]"
)

// WriteBatch stores docs as JSON documents. Duplicate resolution happens in
// the caller, so every write here is an upsert regardless of mode.
func (r *Repo) WriteBatch(ctx context.Context, index string, docs []domdoc.Document, _ duplicate.Mode) (int, error) {
	defer metrics.ObserveBackend(backendName, "write_batch", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := r.ensureDocIndex(ctx, index); err != nil {
		return 0, err
	}

	items := make([]db.JSONSetItem, 0, len(docs))
	for i := range docs {
		if err := r.fields.CheckMeta(docs[i].Meta()); err != nil {
			return 0, fmt.Errorf("document %s: %w", docs[i].ID(), err)
		}
		data, err := json.Marshal(toJSONDoc(&docs[i]))
		if err != nil {
			return 0, fmt.Errorf("marshal document %s: %w", docs[i].ID(), err)
		}
		items = append(items, db.JSONSetItem{Key: r.docKey(index, docs[i].ID()), Path: "$", Data: data})
	}
	if err := r.store.JSONSetMulti(ctx, items); err != nil {
		return 0, backendError("write documents", err)
	}
	return len(items), nil
}

// LookupByIDs returns the stored documents among ids, in request order.
func (r *Repo) LookupByIDs(ctx context.Context, index string, ids []string) ([]domdoc.Document, error) {
	defer metrics.ObserveBackend(backendName, "lookup", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, err
	}
	found, err := r.mget(ctx, index, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domdoc.Document, 0, len(found))
	for i := range found {
		out = append(out, found[i].document(true))
	}
	return out, nil
}

// QueryByFilter pages matching documents in id order. Filters the index can
// express run server-side and the cursor counts matches; otherwise pages of
// the whole index are filtered in-process and the cursor counts scanned entries.
func (r *Repo) QueryByFilter(ctx context.Context, index string, node filter.Node, page domdoc.Page) (
	[]domdoc.Document, string, error,
) {
	defer metrics.ObserveBackend(backendName, "query_filter", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, "", err
	}
	offset, err := parseOffset(page.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := page.Limit
	if limit <= 0 {
		limit = scanPage
	}

	if query, ok := r.compile(node); ok {
		return r.listNative(ctx, index, scopeQuery(query, page.OnlyWithoutEmbedding), offset, limit, page.WithEmbedding)
	}
	return r.listScan(ctx, index, scopeQuery("*", page.OnlyWithoutEmbedding), node, offset, limit, page.WithEmbedding)
}

func (r *Repo) listNative(ctx context.Context, index, query string, offset, limit int, withEmb bool) (
	[]domdoc.Document, string, error,
) {
	res, err := r.store.SearchList(ctx, &db.ListQuery{
		IndexName:    r.docIndex(index),
		Query:        query,
		Offset:       offset,
		Limit:        limit + 1,
		SortBy:       attrID,
		ReturnFields: []string{returnRoot},
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return nil, "", nil
		}
		return nil, "", backendError("list documents", err)
	}

	entries := res.Entries
	next := ""
	if len(entries) > limit {
		entries = entries[:limit]
		next = strconv.Itoa(offset + limit)
	}
	docs := make([]domdoc.Document, 0, len(entries))
	for i := range entries {
		j, err := decodeDoc([]byte(entries[i].Fields[returnRoot]))
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", entries[i].Key, err)
		}
		docs = append(docs, j.document(withEmb))
	}
	return docs, next, nil
}

func (r *Repo) listScan(ctx context.Context, index, query string, node filter.Node, offset, limit int, withEmb bool) (
	[]domdoc.Document, string, error,
) {
	r.logger.Debug("filter evaluated in-process",
		zap.String("index", index), zap.Strings("fields", filter.Fields(node)))

	var (
		docs      []domdoc.Document
		decodeErr error
	)
	stop, err := r.scan(ctx, r.docIndex(index), query, attrID, offset, func(e *db.SearchEntry) bool {
		j, err := decodeDoc([]byte(e.Fields[returnRoot]))
		if err != nil {
			decodeErr = fmt.Errorf("%s: %w", e.Key, err)
			return false
		}
		if !filter.Matches(node, j.Meta) {
			return true
		}
		if len(docs) == limit {
			return false
		}
		docs = append(docs, j.document(withEmb))
		return true
	})
	if err != nil {
		return nil, "", err
	}
	if decodeErr != nil {
		return nil, "", decodeErr
	}
	next := ""
	if stop >= 0 {
		next = strconv.Itoa(stop)
	}
	return docs, next, nil
}

// QueryByEmbedding runs a KNN search. The filter must compile to a RediSearch
// pre-filter; post-filtering would silently return fewer than topK hits.
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
	query, ok := r.compile(node)
	if !ok {
		return nil, fmt.Errorf("filter on %v cannot run as a vector pre-filter: %w",
			filter.Fields(node), domain.ErrUnsupportedFilter)
	}

	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.docIndex(index),
		VectorField:  attrVector,
		Filter:       query,
		Vector:       vector,
		K:            topK,
		ReturnFields: []string{returnRoot},
	})
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return nil, nil
		}
		return nil, backendError("knn search", err)
	}

	out := make([]domdoc.Scored, 0, len(res.Entries))
	for i := range res.Entries {
		e := &res.Entries[i]
		j, err := decodeDoc([]byte(e.Fields[returnRoot]))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Key, err)
		}
		out = append(out, domdoc.Scored{Document: j.document(true), RawScore: r.rawScore(e.Score)})
	}
	return out, nil
}

// DeleteByIDs removes documents by id and reports how many existed.
func (r *Repo) DeleteByIDs(ctx context.Context, index string, ids []string) (int, error) {
	defer metrics.ObserveBackend(backendName, "delete_ids", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, r.docKey(index, id))
	}
	return r.delKeys(ctx, keys)
}

// DeleteByFilter removes matching documents. A nil node removes all of them.
func (r *Repo) DeleteByFilter(ctx context.Context, index string, node filter.Node) (int, error) {
	defer metrics.ObserveBackend(backendName, "delete_filter", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}

	query, ok := r.compile(node)
	if !ok {
		keys, err := r.matchingKeys(ctx, index, node)
		if err != nil {
			return 0, err
		}
		return r.delKeys(ctx, keys)
	}

	total := 0
	for {
		res, err := r.store.SearchList(ctx, &db.ListQuery{
			IndexName:    r.docIndex(index),
			Query:        query,
			Limit:        deleteBatch,
			ReturnFields: []string{attrID},
		})
		if err != nil {
			if errors.Is(err, db.ErrIndexNotFound) {
				return total, nil
			}
			return total, backendError("delete documents", err)
		}
		if len(res.Entries) == 0 {
			return total, nil
		}
		keys := make([]string, len(res.Entries))
		for i := range res.Entries {
			keys[i] = res.Entries[i].Key
		}
		n, err := r.store.Del(ctx, keys...)
		if err != nil {
			return total, backendError("delete documents", err)
		}
		total += n
		// n == 0 means the index still lists keys that are gone; stop rather than spin.
		if len(res.Entries) < deleteBatch || n == 0 {
			return total, nil
		}
	}
}

func (r *Repo) matchingKeys(ctx context.Context, index string, node filter.Node) ([]string, error) {
	var (
		keys      []string
		decodeErr error
	)
	_, err := r.scan(ctx, r.docIndex(index), "*", attrID, 0, func(e *db.SearchEntry) bool {
		j, err := decodeDoc([]byte(e.Fields[returnRoot]))
		if err != nil {
			decodeErr = fmt.Errorf("%s: %w", e.Key, err)
			return false
		}
		if filter.Matches(node, j.Meta) {
			keys = append(keys, e.Key)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return keys, decodeErr
}

// CountDocuments counts matching documents, optionally only those without an embedding.
func (r *Repo) CountDocuments(ctx context.Context, index string, node filter.Node, onlyWithoutEmbedding bool) (
	int, error,
) {
	defer metrics.ObserveBackend(backendName, "count", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}

	if query, ok := r.compile(node); ok {
		n, err := r.store.SearchCount(ctx, r.docIndex(index), scopeQuery(query, onlyWithoutEmbedding))
		if err != nil {
			if errors.Is(err, db.ErrIndexNotFound) {
				return 0, nil
			}
			return 0, backendError("count documents", err)
		}
		return n, nil
	}

	var (
		count     int
		decodeErr error
	)
	_, err := r.scan(ctx, r.docIndex(index), scopeQuery("*", onlyWithoutEmbedding), attrID, 0,
		func(e *db.SearchEntry) bool {
			j, err := decodeDoc([]byte(e.Fields[returnRoot]))
			if err != nil {
				decodeErr = fmt.Errorf("%s: %w", e.Key, err)
				return false
			}
			if filter.Matches(node, j.Meta) {
				count++
			}
			return true
		})
	if err != nil {
		return 0, err
	}
	return count, decodeErr
}

// UpdateEmbeddings replaces the embeddings of stored documents. Unknown ids are ignored.
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

	for chunk := range slices.Chunk(ids, deleteBatch) {
		found, err := r.mget(ctx, index, chunk)
		if err != nil {
			return err
		}
		items := make([]db.JSONSetItem, 0, len(found))
		for i := range found {
			found[i].Vector = embeddings[found[i].ID]
			found[i].HasVector = 0
			if len(found[i].Vector) > 0 {
				found[i].HasVector = 1
			}
			data, err := json.Marshal(found[i])
			if err != nil {
				return fmt.Errorf("marshal document %s: %w", found[i].ID, err)
			}
			items = append(items, db.JSONSetItem{Key: r.docKey(index, found[i].ID), Path: "$", Data: data})
		}
		if len(items) == 0 {
			continue
		}
		if err := r.store.JSONSetMulti(ctx, items); err != nil {
			return backendError("update embeddings", err)
		}
	}
	return nil
}

// --- Helpers ---

func (r *Repo) ensureDocIndex(ctx context.Context, index string) error {
	return r.ensureIndex(ctx, func() (*db.IndexDefinition, error) { return r.buildDocIndex(index) })
}

// mget fetches the stored documents among ids, skipping missing keys.
func (r *Repo) mget(ctx context.Context, index string, ids []string) ([]jsonDoc, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(index, id)
	}
	raws, err := r.store.JSONMGet(ctx, keys, mgetRoot)
	if err != nil {
		return nil, backendError("get documents", err)
	}
	out := make([]jsonDoc, 0, len(raws))
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		j, err := decodeDoc(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keys[i], err)
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *Repo) delKeys(ctx context.Context, keys []string) (int, error) {
	total := 0
	for chunk := range slices.Chunk(keys, deleteBatch) {
		n, err := r.store.Del(ctx, chunk...)
		if err != nil {
			return total, backendError("delete keys", err)
		}
		total += n
	}
	return total, nil
}

// scan walks the index in sortBy order from offset, one page at a time, until
// visit returns false or the index is exhausted. It returns the offset of the
// entry visit stopped at, or -1 when every entry was visited.
func (r *Repo) scan(ctx context.Context, indexName, query, sortBy string, offset int,
	visit func(e *db.SearchEntry) bool,
) (int, error) {
	for {
		res, err := r.store.SearchList(ctx, &db.ListQuery{
			IndexName:    indexName,
			Query:        query,
			Offset:       offset,
			Limit:        scanPage,
			SortBy:       sortBy,
			ReturnFields: []string{returnRoot},
		})
		if err != nil {
			if errors.Is(err, db.ErrIndexNotFound) {
				return -1, nil
			}
			return 0, backendError("scan "+indexName, err)
		}
		for i := range res.Entries {
			if !visit(&res.Entries[i]) {
				return offset + i, nil
			}
		}
		if len(res.Entries) < scanPage {
			return -1, nil
		}
		offset += len(res.Entries)
	}
}

// scopeQuery narrows query to documents without an embedding when asked.
func scopeQuery(query string, onlyWithoutEmbedding bool) string {
	if !onlyWithoutEmbedding {
		return query
	}
	if query == "*" {
		return withoutVec
	}
	return "(" + query + " " + withoutVec + ")"
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
