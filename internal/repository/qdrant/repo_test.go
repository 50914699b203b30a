package qdrant

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/docstore/internal/domain"
	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

var errNotFound = status.Error(codes.NotFound, "collection not found")

// --- Filter conversion ---

func TestConvert(t *testing.T) {
	repo, _ := newTestRepo(t)

	tests := []struct {
		name   string
		raw    map[string]any
		want   string
		native bool
	}{
		{"nil", nil, "", true},
		{"keyword eq", map[string]any{"lang": "go"}, "must(meta.lang=go)", true},
		{"bool eq", map[string]any{"draft": true}, "must(meta.draft=true)", true},
		{"number eq", map[string]any{"year": 2020}, "must(meta.year[gte 2020 lte 2020])", true},
		{"in", map[string]any{"lang": []any{"go", "c"}}, "should(meta.lang=go meta.lang=c)", true},
		{"numeric gt", map[string]any{"year": map[string]any{"$gt": 2.5}}, "must(meta.year[gt 2.5])", true},
		{"numeric lte", map[string]any{"year": map[string]any{"$lte": 10}}, "must(meta.year[lte 10])", true},
		{
			"and",
			map[string]any{"lang": "go", "year": map[string]any{"$gte": 2000}},
			"must(meta.lang=go meta.year[gte 2000])", true,
		},
		{
			"or",
			map[string]any{"$or": []any{map[string]any{"lang": "go"}, map[string]any{"author": "x"}}},
			"should(meta.lang=go meta.author=x)", true,
		},
		{"not", map[string]any{"$not": map[string]any{"lang": "go"}}, "not(meta.lang=go)", true},
		{"string ordering", map[string]any{"author": map[string]any{"$gt": "m"}}, "", false},
		{"ordering on tag", map[string]any{"lang": map[string]any{"$gt": "a"}}, "", false},
		{"ordering on undeclared", map[string]any{"score": map[string]any{"$gt": 1}}, "", false},
		{"numeric with string", map[string]any{"year": map[string]any{"$gt": "2000"}}, "", false},
		{"nested path", map[string]any{"a.b": "x"}, "", false},
		{"null eq", map[string]any{"lang": nil}, "", false},
		{
			"partly native",
			map[string]any{"lang": "go", "author": map[string]any{"$lt": "b"}},
			"", false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				got *qdrant.Filter
				ok  bool
			)
			if tt.raw == nil {
				got, ok = repo.convert(nil)
			} else {
				got, ok = repo.convert(mustNode(t, tt.raw))
			}
			if ok != tt.native {
				t.Fatalf("native = %v, want %v (filter %q)", ok, tt.native, describe(got))
			}
			if ok && describe(got) != tt.want {
				t.Errorf("filter = %q, want %q", describe(got), tt.want)
			}
		})
	}
}

func TestScope(t *testing.T) {
	if got := describe(scope(nil, true)); got != "must(_has_vector=false)" {
		t.Errorf("got %q", got)
	}
	f := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchKeyword("meta.lang", "go")}}
	if got := describe(scope(f, true)); got != "must({must(meta.lang=go)} _has_vector=false)" {
		t.Errorf("got %q", got)
	}
	if scope(f, false) != f {
		t.Error("scope without the flag must return the filter unchanged")
	}
}

// --- Collection ---

func TestPayloadIndexes(t *testing.T) {
	repo, _ := newTestRepo(t)
	got := repo.payloadIndexes()
	want := []payloadIndex{
		{"_id", qdrant.FieldType_FieldTypeKeyword},
		{"_has_vector", qdrant.FieldType_FieldTypeBool},
		{"meta.lang", qdrant.FieldType_FieldTypeKeyword},
		{"meta.year", qdrant.FieldType_FieldTypeFloat},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("indexes = %v, want %v", got, want)
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		metric similarity.Metric
		want   qdrant.Distance
	}{
		{similarity.Cosine, qdrant.Distance_Cosine},
		{similarity.DotProduct, qdrant.Distance_Dot},
		{similarity.L2, qdrant.Distance_Euclid},
	}
	for _, tt := range tests {
		repo := New(&mockClient{}, tt.metric, 3, nil, nil)
		if got := repo.distance(); got != tt.want {
			t.Errorf("%v: distance = %v, want %v", tt.metric, got, tt.want)
		}
	}
}

func TestEnsureCollection_CreatesOnce(t *testing.T) {
	repo, mc := newTestRepo(t)
	var (
		created []*qdrant.CreateCollection
		indexed []string
	)
	mc.collectionExistsFn = func(_ context.Context, _ string) (bool, error) { return false, nil }
	mc.createCollectionFn = func(_ context.Context, req *qdrant.CreateCollection) error {
		created = append(created, req)
		return nil
	}
	mc.createFieldIndexFn = func(_ context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
		indexed = append(indexed, req.GetFieldName())
		return &qdrant.UpdateResult{}, nil
	}

	docs := []domdoc.Document{domdoc.Reconstruct("a", "x", nil, nil)}
	for range 2 {
		if _, err := repo.WriteBatch(context.Background(), "notes", docs, ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(created) != 1 {
		t.Fatalf("collections created = %d, want 1", len(created))
	}
	if created[0].GetCollectionName() != "docstore_notes" {
		t.Errorf("collection = %q", created[0].GetCollectionName())
	}
	params := created[0].GetVectorsConfig().GetParamsMap().GetMap()[vectorName]
	if params.GetSize() != 3 || params.GetDistance() != qdrant.Distance_Cosine {
		t.Errorf("vector params = %v", params)
	}
	if !reflect.DeepEqual(indexed, []string{"_id", "_has_vector", "meta.lang", "meta.year"}) {
		t.Errorf("payload indexes = %v", indexed)
	}
}

func TestEnsureCollection_Error(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.collectionExistsFn = func(_ context.Context, _ string) (bool, error) { return false, errors.New("down") }

	_, err := repo.WriteBatch(context.Background(), "notes", []domdoc.Document{domdoc.Reconstruct("a", "x", nil, nil)}, "")
	if !errors.Is(err, domain.ErrBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestDeleteIndex(t *testing.T) {
	repo, mc := newTestRepo(t)
	var dropped string
	mc.deleteCollectionFn = func(_ context.Context, name string) error {
		dropped = name
		return errNotFound
	}
	if err := repo.DeleteIndex(context.Background(), "notes"); err != nil {
		t.Fatalf("missing collection must not fail: %v", err)
	}
	if dropped != "docstore_notes" {
		t.Errorf("dropped %q", dropped)
	}

	mc.deleteCollectionFn = func(_ context.Context, _ string) error { return errors.New("down") }
	if err := repo.DeleteIndex(context.Background(), "notes"); !errors.Is(err, domain.ErrBackend) {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestWithCollectionPrefix(t *testing.T) {
	repo, _ := newTestRepo(t)
	repo.WithCollectionPrefix("test_")
	if got := repo.collection("notes"); got != "test_notes" {
		t.Errorf("collection = %q", got)
	}
}

// --- Write ---

func TestWriteBatch_Points(t *testing.T) {
	repo, mc := newTestRepo(t)
	var req *qdrant.UpsertPoints
	mc.upsertFn = func(_ context.Context, r *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
		req = r
		return &qdrant.UpdateResult{}, nil
	}

	docs := []domdoc.Document{
		domdoc.Reconstruct("a", "alpha", map[string]any{"lang": "go", "year": 2020}, []float32{1, 0, 0}),
		domdoc.Reconstruct("b", "beta", nil, nil),
	}
	n, err := repo.WriteBatch(context.Background(), "notes", docs, "")
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if !req.GetWait() || len(req.GetPoints()) != 2 {
		t.Fatalf("request = %v", req)
	}

	a, b := req.GetPoints()[0], req.GetPoints()[1]
	if a.GetId().GetUuid() != pointID("a").GetUuid() {
		t.Errorf("point id = %v", a.GetId())
	}
	if a.GetPayload()[payloadID].GetStringValue() != "a" || a.GetPayload()[payloadContent].GetStringValue() != "alpha" {
		t.Errorf("payload = %v", a.GetPayload())
	}
	if !a.GetPayload()[payloadHasVector].GetBoolValue() || b.GetPayload()[payloadHasVector].GetBoolValue() {
		t.Error("_has_vector must follow the embedding")
	}
	if _, ok := a.GetVectors().GetVectors().GetVectors()[vectorName]; !ok {
		t.Error("embedded document must carry the named vector")
	}
	if len(b.GetVectors().GetVectors().GetVectors()) != 0 {
		t.Error("document without embedding must carry no vector")
	}
	want := map[string]any{"lang": "go", "year": float64(2020)}
	if got := metaOf(a.GetPayload()); !reflect.DeepEqual(got, want) {
		t.Errorf("meta = %v, want %v", got, want)
	}
}

func TestWriteBatch_DeclaredTypeMismatch(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.upsertFn = func(_ context.Context, _ *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
		t.Fatal("nothing may be written")
		return nil, nil
	}
	docs := []domdoc.Document{domdoc.Reconstruct("a", "x", map[string]any{"year": "2020"}, nil)}
	if _, err := repo.WriteBatch(context.Background(), "notes", docs, ""); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestWriteBatch_InvalidIndex(t *testing.T) {
	repo, _ := newTestRepo(t)
	docs := []domdoc.Document{domdoc.Reconstruct("a", "x", nil, nil)}
	if _, err := repo.WriteBatch(context.Background(), "bad name", docs, ""); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestWriteBatch_BackendError(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.upsertFn = func(_ context.Context, _ *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
		return nil, errors.New("down")
	}
	docs := []domdoc.Document{domdoc.Reconstruct("a", "x", nil, nil)}
	if _, err := repo.WriteBatch(context.Background(), "notes", docs, ""); !errors.Is(err, domain.ErrBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

// --- Read ---

func TestLookupByIDs(t *testing.T) {
	repo, mc := newTestRepo(t)
	var req *qdrant.GetPoints
	mc.getFn = func(_ context.Context, r *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
		req = r
		return []*qdrant.RetrievedPoint{
			stored(t, "b", nil),
			stored(t, "a", map[string]any{"lang": "go"}, 1, 0, 0),
		}, nil
	}

	docs, err := repo.LookupByIDs(context.Background(), "notes", []string{"a", "missing", "b", "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.GetIds()) != 3 {
		t.Errorf("requested ids = %d, want 3", len(req.GetIds()))
	}
	if !reflect.DeepEqual(docIDs(docs), []string{"a", "b"}) {
		t.Fatalf("ids = %v", docIDs(docs))
	}
	if !reflect.DeepEqual(docs[0].Embedding(), []float32{1, 0, 0}) {
		t.Errorf("embedding = %v", docs[0].Embedding())
	}
	if docs[0].Meta()["lang"] != "go" || docs[1].Meta() != nil {
		t.Errorf("meta = %v / %v", docs[0].Meta(), docs[1].Meta())
	}
}

func TestLookupByIDs_CollectionMissing(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.getFn = func(_ context.Context, _ *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
		return nil, errNotFound
	}
	docs, err := repo.LookupByIDs(context.Background(), "notes", []string{"a"})
	if err != nil || len(docs) != 0 {
		t.Fatalf("docs=%v err=%v", docs, err)
	}
}

func TestQueryByFilter_Native(t *testing.T) {
	repo, mc := newTestRepo(t)
	cursor := pointID("c").GetUuid()
	var req *qdrant.ScrollPoints
	mc.scrollFn = func(_ context.Context, r *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
		req = r
		return []*qdrant.RetrievedPoint{
			stored(t, "c", map[string]any{"lang": "go"}),
			stored(t, "d", map[string]any{"lang": "go"}),
			stored(t, "e", map[string]any{"lang": "go"}),
		}, nil
	}

	docs, next, err := repo.QueryByFilter(context.Background(), "notes", mustNode(t, map[string]any{"lang": "go"}),
		domdoc.Page{Cursor: cursor, Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(docIDs(docs), []string{"c", "d"}) {
		t.Errorf("ids = %v", docIDs(docs))
	}
	if next != pointID("e").GetUuid() {
		t.Errorf("next = %q", next)
	}
	if req.GetOffset().GetUuid() != cursor {
		t.Errorf("offset = %v", req.GetOffset())
	}
	if describe(req.GetFilter()) != "must(meta.lang=go)" {
		t.Errorf("filter = %q", describe(req.GetFilter()))
	}
	if req.GetWithVectors().GetEnable() {
		t.Error("vectors must not be fetched without WithEmbedding")
	}
}

func TestQueryByFilter_LastPage(t *testing.T) {
	repo, mc := newTestRepo(t)
	var req *qdrant.ScrollPoints
	mc.scrollFn = func(_ context.Context, r *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
		req = r
		return []*qdrant.RetrievedPoint{stored(t, "a", nil)}, nil
	}

	docs, next, err := repo.QueryByFilter(context.Background(), "notes", nil,
		domdoc.Page{Limit: 5, OnlyWithoutEmbedding: true})
	if err != nil || len(docs) != 1 || next != "" {
		t.Fatalf("docs=%v next=%q err=%v", docIDs(docs), next, err)
	}
	if describe(req.GetFilter()) != "must(_has_vector=false)" {
		t.Errorf("filter = %q", describe(req.GetFilter()))
	}
	if req.GetOffset() != nil {
		t.Errorf("offset = %v", req.GetOffset())
	}
}

func TestQueryByFilter_Fallback(t *testing.T) {
	repo, mc := newTestRepo(t)
	var req *qdrant.ScrollPoints
	mc.scrollFn = func(_ context.Context, r *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
		req = r
		return []*qdrant.RetrievedPoint{
			stored(t, "a", map[string]any{"author": "zed"}),
			stored(t, "b", map[string]any{"author": "abe"}),
			stored(t, "c", map[string]any{"author": "max"}),
		}, nil
	}

	docs, next, err := repo.QueryByFilter(context.Background(), "notes",
		mustNode(t, map[string]any{"author": map[string]any{"$gt": "m"}}), domdoc.Page{Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(docIDs(docs), []string{"a"}) {
		t.Errorf("ids = %v", docIDs(docs))
	}
	if next != pointID("c").GetUuid() {
		t.Errorf("next = %q", next)
	}
	if req.GetFilter() != nil {
		t.Errorf("fallback must scroll unfiltered, got %q", describe(req.GetFilter()))
	}
}

func TestQueryByFilter_InvalidCursor(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, _, err := repo.QueryByFilter(context.Background(), "notes", nil, domdoc.Page{Cursor: "12"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestQueryByFilter_CollectionMissing(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.scrollFn = func(_ context.Context, _ *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
		return nil, errNotFound
	}
	docs, next, err := repo.QueryByFilter(context.Background(), "notes", nil, domdoc.Page{})
	if err != nil || len(docs) != 0 || next != "" {
		t.Fatalf("docs=%v next=%q err=%v", docs, next, err)
	}
}

func TestQueryByEmbedding(t *testing.T) {
	repo, mc := newTestRepo(t)
	var req *qdrant.QueryPoints
	mc.queryFn = func(_ context.Context, r *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
		req = r
		p := stored(t, "a", map[string]any{"lang": "go"}, 1, 0, 0)
		return []*qdrant.ScoredPoint{{Id: p.GetId(), Payload: p.GetPayload(), Vectors: p.GetVectors(), Score: 0.5}}, nil
	}

	hits, err := repo.QueryByEmbedding(context.Background(), "notes", []float32{1, 0, 0},
		mustNode(t, map[string]any{"lang": "go"}), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.GetUsing() != vectorName || req.GetLimit() != 4 {
		t.Errorf("using=%q limit=%d", req.GetUsing(), req.GetLimit())
	}
	if describe(req.GetFilter()) != "must(meta.lang=go)" {
		t.Errorf("filter = %q", describe(req.GetFilter()))
	}
	if len(hits) != 1 || hits[0].Document.ID() != "a" || hits[0].RawScore != 0.5 {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestQueryByEmbedding_UnsupportedFilter(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.queryFn = func(_ context.Context, _ *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
		t.Fatal("query must not run")
		return nil, nil
	}
	_, err := repo.QueryByEmbedding(context.Background(), "notes", []float32{1, 0, 0},
		mustNode(t, map[string]any{"author": map[string]any{"$lt": "b"}}), 4)
	if !errors.Is(err, domain.ErrUnsupportedFilter) {
		t.Fatalf("expected unsupported filter, got %v", err)
	}
}

func TestRawScore(t *testing.T) {
	cos := New(&mockClient{}, similarity.Cosine, 3, nil, nil)
	if got := cos.rawScore(0.25); got != 0.25 {
		t.Errorf("cosine = %v", got)
	}
	l2 := New(&mockClient{}, similarity.L2, 3, nil, nil)
	if got := l2.rawScore(2); got != -2 {
		t.Errorf("l2 = %v", got)
	}
}

// --- Delete ---

func TestDeleteByIDs(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.getFn = func(_ context.Context, _ *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
		return []*qdrant.RetrievedPoint{stored(t, "a", nil)}, nil
	}
	var deleted []*qdrant.PointId
	mc.deleteFn = func(_ context.Context, r *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
		deleted = r.GetPoints().GetPoints().GetIds()
		return &qdrant.UpdateResult{}, nil
	}

	n, err := repo.DeleteByIDs(context.Background(), "notes", []string{"a", "missing"})
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if len(deleted) != 1 || deleted[0].GetUuid() != pointID("a").GetUuid() {
		t.Errorf("deleted = %v", deleted)
	}
}

func TestDeleteByIDs_NoneExist(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.deleteFn = func(_ context.Context, _ *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
		t.Fatal("delete must not run")
		return nil, nil
	}
	n, err := repo.DeleteByIDs(context.Background(), "notes", []string{"a"})
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestDeleteByFilter_Native(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.countFn = func(_ context.Context, r *qdrant.CountPoints) (uint64, error) {
		if describe(r.GetFilter()) != "must(meta.lang=go)" {
			t.Errorf("count filter = %q", describe(r.GetFilter()))
		}
		return 4, nil
	}
	var sel *qdrant.Filter
	mc.deleteFn = func(_ context.Context, r *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
		sel = r.GetPoints().GetFilter()
		return &qdrant.UpdateResult{}, nil
	}

	n, err := repo.DeleteByFilter(context.Background(), "notes", mustNode(t, map[string]any{"lang": "go"}))
	if err != nil || n != 4 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if describe(sel) != "must(meta.lang=go)" {
		t.Errorf("delete filter = %q", describe(sel))
	}
}

func TestDeleteByFilter_All(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.countFn = func(_ context.Context, _ *qdrant.CountPoints) (uint64, error) { return 2, nil }
	var sel *qdrant.PointsSelector
	mc.deleteFn = func(_ context.Context, r *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
		sel = r.GetPoints()
		return &qdrant.UpdateResult{}, nil
	}

	n, err := repo.DeleteByFilter(context.Background(), "notes", nil)
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if sel.GetFilter() == nil || describe(sel.GetFilter()) != "" {
		t.Errorf("selector = %v", sel)
	}
}

func TestDeleteByFilter_Fallback(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.scrollFn = func(_ context.Context, _ *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
		return []*qdrant.RetrievedPoint{
			stored(t, "a", map[string]any{"author": "zed"}),
			stored(t, "b", map[string]any{"author": "abe"}),
		}, nil
	}
	var deleted []*qdrant.PointId
	mc.deleteFn = func(_ context.Context, r *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
		deleted = r.GetPoints().GetPoints().GetIds()
		return &qdrant.UpdateResult{}, nil
	}

	n, err := repo.DeleteByFilter(context.Background(), "notes",
		mustNode(t, map[string]any{"author": map[string]any{"$gt": "m"}}))
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if len(deleted) != 1 || deleted[0].GetUuid() != pointID("a").GetUuid() {
		t.Errorf("deleted = %v", deleted)
	}
}

// --- Count / update ---

func TestCountDocuments(t *testing.T) {
	repo, mc := newTestRepo(t)
	var req *qdrant.CountPoints
	mc.countFn = func(_ context.Context, r *qdrant.CountPoints) (uint64, error) {
		req = r
		return 7, nil
	}

	n, err := repo.CountDocuments(context.Background(), "notes", mustNode(t, map[string]any{"lang": "go"}), true)
	if err != nil || n != 7 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if !req.GetExact() {
		t.Error("count must be exact")
	}
	if describe(req.GetFilter()) != "must({must(meta.lang=go)} _has_vector=false)" {
		t.Errorf("filter = %q", describe(req.GetFilter()))
	}
}

func TestCountDocuments_FallbackPages(t *testing.T) {
	repo, mc := newTestRepo(t)
	first := make([]*qdrant.RetrievedPoint, scrollPage+1)
	for i := range first {
		first[i] = stored(t, string(rune('a'+i%26))+string(rune('a'+i/26)), map[string]any{"author": "zed"})
	}
	last := stored(t, "zz", map[string]any{"author": "abe"})

	calls := 0
	mc.scrollFn = func(_ context.Context, r *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
		calls++
		if calls == 1 {
			return first, nil
		}
		if r.GetOffset().GetUuid() != first[scrollPage].GetId().GetUuid() {
			t.Errorf("second page offset = %v", r.GetOffset())
		}
		return []*qdrant.RetrievedPoint{first[scrollPage], last}, nil
	}

	n, err := repo.CountDocuments(context.Background(), "notes",
		mustNode(t, map[string]any{"author": map[string]any{"$gt": "m"}}), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || n != scrollPage+1 {
		t.Errorf("calls=%d n=%d", calls, n)
	}
}

func TestCountDocuments_CollectionMissing(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.countFn = func(_ context.Context, _ *qdrant.CountPoints) (uint64, error) { return 0, errNotFound }
	n, err := repo.CountDocuments(context.Background(), "notes", nil, false)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestUpdateEmbeddings(t *testing.T) {
	repo, mc := newTestRepo(t)
	mc.getFn = func(_ context.Context, r *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
		if len(r.GetIds()) != 2 {
			t.Errorf("requested ids = %d", len(r.GetIds()))
		}
		return []*qdrant.RetrievedPoint{stored(t, "a", map[string]any{"lang": "go"})}, nil
	}
	var points []*qdrant.PointStruct
	mc.upsertFn = func(_ context.Context, r *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
		points = r.GetPoints()
		return &qdrant.UpdateResult{}, nil
	}

	err := repo.UpdateEmbeddings(context.Background(), "notes", map[string][]float32{
		"a":       {0, 1, 0},
		"missing": {1, 0, 0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	p := points[0]
	if p.GetPayload()[payloadID].GetStringValue() != "a" || !p.GetPayload()[payloadHasVector].GetBoolValue() {
		t.Errorf("payload = %v", p.GetPayload())
	}
	if metaOf(p.GetPayload())["lang"] != "go" {
		t.Error("metadata must survive the update")
	}
	if _, ok := p.GetVectors().GetVectors().GetVectors()[vectorName]; !ok {
		t.Error("updated point must carry the vector")
	}
}

// --- Payload ---

func TestFromValue_Nested(t *testing.T) {
	in := map[string]any{
		"s":    "x",
		"n":    1.5,
		"b":    true,
		"nil":  nil,
		"list": []any{"a", 2.0},
		"obj":  map[string]any{"k": "v"},
	}
	values, err := qdrant.TryValueMap(map[string]any{"meta": in})
	if err != nil {
		t.Fatalf("TryValueMap: %v", err)
	}
	if got := metaOf(values); !reflect.DeepEqual(got, in) {
		t.Errorf("meta = %v, want %v", got, in)
	}
}

func TestDenseVector_Missing(t *testing.T) {
	if v := denseVector(nil); v != nil {
		t.Errorf("vector = %v", v)
	}
}
