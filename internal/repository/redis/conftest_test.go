package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kailas-cloud/docstore/internal/db"
	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/field"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	pingFn         func(ctx context.Context) error
	jsonSetMultiFn func(ctx context.Context, items []db.JSONSetItem) error
	jsonMGetFn     func(ctx context.Context, keys []string, path string) ([][]byte, error)
	delFn          func(ctx context.Context, keys ...string) (int, error)
	createIndexFn  func(ctx context.Context, def *db.IndexDefinition) error
	dropIndexFn    func(ctx context.Context, name string, deleteDocs bool) error
	indexExistsFn  func(ctx context.Context, name string) (bool, error)
	searchKNNFn    func(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	searchListFn   func(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
	searchCountFn  func(ctx context.Context, index, query string) (int, error)
}

func (m *mockStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *mockStore) JSONSetMulti(ctx context.Context, items []db.JSONSetItem) error {
	if m.jsonSetMultiFn != nil {
		return m.jsonSetMultiFn(ctx, items)
	}
	return nil
}

func (m *mockStore) JSONMGet(ctx context.Context, keys []string, path string) ([][]byte, error) {
	if m.jsonMGetFn != nil {
		return m.jsonMGetFn(ctx, keys, path)
	}
	return make([][]byte, len(keys)), nil
}

func (m *mockStore) Del(ctx context.Context, keys ...string) (int, error) {
	if m.delFn != nil {
		return m.delFn(ctx, keys...)
	}
	return len(keys), nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) DropIndex(ctx context.Context, name string, deleteDocs bool) error {
	if m.dropIndexFn != nil {
		return m.dropIndexFn(ctx, name, deleteDocs)
	}
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return true, nil
}

func (m *mockStore) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if m.searchKNNFn != nil {
		return m.searchKNNFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error) {
	if m.searchListFn != nil {
		return m.searchListFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) SearchCount(ctx context.Context, index, query string) (int, error) {
	if m.searchCountFn != nil {
		return m.searchCountFn(ctx, index, query)
	}
	return 0, nil
}

// testFields declares "lang" as a tag and "year" as numeric.
func testFields() []field.Field {
	return []field.Field{
		field.Reconstruct("lang", field.Tag),
		field.Reconstruct("year", field.Numeric),
	}
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, similarity.Cosine, 3, testFields(), nil), ms
}

func mustNode(t *testing.T, raw map[string]any) filter.Node {
	t.Helper()
	n, err := filter.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize %v: %v", raw, err)
	}
	return n
}

func docJSON(t *testing.T, id string, meta map[string]any, emb ...float32) string {
	t.Helper()
	d := domdoc.Reconstruct(id, "text of "+id, meta, emb)
	data, err := json.Marshal(toJSONDoc(&d))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

// entries builds search hits keyed like stored documents of index "notes".
func entries(t *testing.T, docs ...string) []db.SearchEntry {
	t.Helper()
	out := make([]db.SearchEntry, len(docs))
	for i, raw := range docs {
		var j jsonDoc
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		out[i] = db.SearchEntry{
			Key:    "docstore:{notes}:doc:" + j.ID,
			Fields: map[string]string{returnRoot: raw},
		}
	}
	return out
}

func docIDs(docs []domdoc.Document) []string {
	out := make([]string, len(docs))
	for i := range docs {
		out[i] = docs[i].ID()
	}
	return out
}
