package qdrant

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/qdrant/go-client/qdrant"

	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/field"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

// mockClient implements the consumer interface for tests.
type mockClient struct {
	healthFn           func(ctx context.Context) (*qdrant.HealthCheckReply, error)
	collectionExistsFn func(ctx context.Context, name string) (bool, error)
	createCollectionFn func(ctx context.Context, req *qdrant.CreateCollection) error
	deleteCollectionFn func(ctx context.Context, name string) error
	createFieldIndexFn func(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	upsertFn           func(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	getFn              func(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	scrollFn           func(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	countFn            func(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	queryFn            func(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	deleteFn           func(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
}

func (m *mockClient) HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error) {
	if m.healthFn != nil {
		return m.healthFn(ctx)
	}
	return &qdrant.HealthCheckReply{}, nil
}

func (m *mockClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	if m.collectionExistsFn != nil {
		return m.collectionExistsFn(ctx, name)
	}
	return true, nil
}

func (m *mockClient) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	if m.createCollectionFn != nil {
		return m.createCollectionFn(ctx, req)
	}
	return nil
}

func (m *mockClient) DeleteCollection(ctx context.Context, name string) error {
	if m.deleteCollectionFn != nil {
		return m.deleteCollectionFn(ctx, name)
	}
	return nil
}

func (m *mockClient) CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (
	*qdrant.UpdateResult, error,
) {
	if m.createFieldIndexFn != nil {
		return m.createFieldIndexFn(ctx, req)
	}
	return &qdrant.UpdateResult{}, nil
}

func (m *mockClient) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, req)
	}
	return &qdrant.UpdateResult{}, nil
}

func (m *mockClient) Get(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	if m.getFn != nil {
		return m.getFn(ctx, req)
	}
	return nil, nil
}

func (m *mockClient) Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
	if m.scrollFn != nil {
		return m.scrollFn(ctx, req)
	}
	return nil, nil
}

func (m *mockClient) Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, req)
	}
	return 0, nil
}

func (m *mockClient) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, req)
	}
	return nil, nil
}

func (m *mockClient) Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, req)
	}
	return &qdrant.UpdateResult{}, nil
}

// --- Helpers ---

func testFields() []field.Field {
	return []field.Field{
		field.Reconstruct("lang", field.Tag),
		field.Reconstruct("year", field.Numeric),
	}
}

func newTestRepo(t *testing.T) (*Repo, *mockClient) {
	t.Helper()
	mc := &mockClient{}
	return New(mc, similarity.Cosine, 3, testFields(), nil), mc
}

func mustNode(t *testing.T, raw map[string]any) filter.Node {
	t.Helper()
	n, err := filter.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize %v: %v", raw, err)
	}
	return n
}

// stored builds the point Qdrant would return for a document.
func stored(t *testing.T, id string, meta map[string]any, emb ...float32) *qdrant.RetrievedPoint {
	t.Helper()
	d := domdoc.Reconstruct(id, "text of "+id, meta, emb)
	p, err := toPoint(&d)
	if err != nil {
		t.Fatalf("toPoint: %v", err)
	}
	rp := &qdrant.RetrievedPoint{Id: p.GetId(), Payload: p.GetPayload()}
	if len(emb) > 0 {
		rp.Vectors = vectorsOutput(emb)
	}
	return rp
}

func vectorsOutput(emb []float32) *qdrant.VectorsOutput {
	return &qdrant.VectorsOutput{
		VectorsOptions: &qdrant.VectorsOutput_Vectors{
			Vectors: &qdrant.NamedVectorsOutput{
				Vectors: map[string]*qdrant.VectorOutput{vectorName: {Data: emb}},
			},
		},
	}
}

func docIDs(docs []domdoc.Document) []string {
	out := make([]string, len(docs))
	for i := range docs {
		out[i] = docs[i].ID()
	}
	return out
}

// describe renders a filter compactly: must(...) should(...) not(...).
func describe(f *qdrant.Filter) string {
	if f == nil {
		return ""
	}
	var parts []string
	add := func(name string, conds []*qdrant.Condition) {
		if len(conds) == 0 {
			return
		}
		s := make([]string, len(conds))
		for i, c := range conds {
			s[i] = describeCondition(c)
		}
		parts = append(parts, name+"("+strings.Join(s, " ")+")")
	}
	add("must", f.GetMust())
	add("should", f.GetShould())
	add("not", f.GetMustNot())
	return strings.Join(parts, " ")
}

func describeCondition(c *qdrant.Condition) string {
	if f := c.GetFilter(); f != nil {
		return "{" + describe(f) + "}"
	}
	fc := c.GetField()
	switch m := fc.GetMatch().GetMatchValue().(type) {
	case *qdrant.Match_Keyword:
		return fc.GetKey() + "=" + m.Keyword
	case *qdrant.Match_Boolean:
		return fmt.Sprintf("%s=%t", fc.GetKey(), m.Boolean)
	}
	if r := fc.GetRange(); r != nil {
		var bounds []string
		if r.Gt != nil {
			bounds = append(bounds, fmt.Sprintf("gt %g", *r.Gt))
		}
		if r.Gte != nil {
			bounds = append(bounds, fmt.Sprintf("gte %g", *r.Gte))
		}
		if r.Lt != nil {
			bounds = append(bounds, fmt.Sprintf("lt %g", *r.Lt))
		}
		if r.Lte != nil {
			bounds = append(bounds, fmt.Sprintf("lte %g", *r.Lte))
		}
		return fc.GetKey() + "[" + strings.Join(bounds, " ") + "]"
	}
	return "?"
}
