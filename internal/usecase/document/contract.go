package document

import (
	"context"

	"github.com/kailas-cloud/docstore/internal/domain"
	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/duplicate"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

// Backend is the storage contract every document store driver implements.
// Scores returned by QueryByEmbedding are raw; calibration happens in Service.
type Backend interface {
	WriteBatch(ctx context.Context, index string, docs []domdoc.Document, mode duplicate.Mode) (int, error)
	LookupByIDs(ctx context.Context, index string, ids []string) ([]domdoc.Document, error)
	QueryByFilter(ctx context.Context, index string, node filter.Node, page domdoc.Page) (
		docs []domdoc.Document, nextCursor string, err error,
	)
	QueryByEmbedding(ctx context.Context, index string, vector []float32, node filter.Node, topK int) (
		[]domdoc.Scored, error,
	)
	DeleteByIDs(ctx context.Context, index string, ids []string) (int, error)
	DeleteByFilter(ctx context.Context, index string, node filter.Node) (int, error)
	DeleteIndex(ctx context.Context, index string) error
	CountDocuments(ctx context.Context, index string, node filter.Node, onlyWithoutEmbedding bool) (int, error)
	UpdateEmbeddings(ctx context.Context, index string, embeddings map[string][]float32) error
	Metric() similarity.Metric
	Dimension() int
}

// FilterNormalizer turns a raw filter into a tree. Both *filter.Cache and
// filter.Uncached satisfy it.
type FilterNormalizer interface {
	Normalize(raw map[string]any) (filter.Node, error)
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
