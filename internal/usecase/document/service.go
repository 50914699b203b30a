package document

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/domain"
	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/duplicate"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
	"github.com/kailas-cloud/docstore/internal/metrics"
)

const (
	// DefaultBatchSize bounds documents per backend write and per cursor page.
	DefaultBatchSize = 10_000
	// DefaultTopK is used when a similarity query asks for topK <= 0.
	DefaultTopK = 10
)

// WriteResult summarizes a Write call.
type WriteResult struct {
	Written         int
	SkippedInBatch  []string
	SkippedExisting []string
}

// Service is the document side of the store facade: duplicate handling,
// batching, normalization and score calibration on top of a Backend.
type Service struct {
	backend     Backend
	filters     FilterNormalizer
	embedder    Embedder
	queries     Embedder
	defaultMode duplicate.Mode
	batchSize   int
	logger      *zap.Logger
}

// New creates a document service. A nil filters normalizes every call without caching.
func New(backend Backend, filters FilterNormalizer, logger *zap.Logger) *Service {
	if filters == nil {
		filters = filter.Uncached(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backend:     backend,
		filters:     filters,
		defaultMode: duplicate.Overwrite,
		batchSize:   DefaultBatchSize,
		logger:      logger,
	}
}

// WithBatchSize configures the write and page batch size.
func (s *Service) WithBatchSize(n int) *Service {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// WithEmbedder enables QueryByText and UpdateEmbeddings.
func (s *Service) WithEmbedder(e Embedder) *Service {
	s.embedder = e
	return s
}

// WithQueryEmbedder sets a separate embedder for QueryByText, for models that
// embed queries and passages with different instructions.
func (s *Service) WithQueryEmbedder(e Embedder) *Service {
	s.queries = e
	return s
}

// WithDefaultMode sets the duplicate mode used when Write gets an empty mode.
func (s *Service) WithDefaultMode(m duplicate.Mode) *Service {
	s.defaultMode = m
	return s
}

// Write stores docs under the duplicate policy named by mode ("" = default).
// Duplicates are resolved over the whole input before the first batch goes out,
// so the batch size never changes which documents are written.
func (s *Service) Write(ctx context.Context, index string, docs []domdoc.Document, mode string) (WriteResult, error) {
	m := s.defaultMode
	if mode != "" {
		parsed, err := duplicate.ParseMode(mode)
		if err != nil {
			return WriteResult{}, err
		}
		m = parsed
	}
	for i := range docs {
		if err := s.checkDim(docs[i].Embedding()); err != nil {
			return WriteResult{}, fmt.Errorf("document %q: %w", docs[i].ID(), err)
		}
	}

	lookup := func(ctx context.Context, ids []string) ([]domdoc.Document, error) {
		return s.lookup(ctx, index, ids)
	}
	res, err := duplicate.Resolve(ctx, index, docs, lookup, m, s.logger)
	if err != nil {
		var dup *domain.DuplicateDocumentError
		if errors.As(err, &dup) {
			metrics.DuplicatesTotal.WithLabelValues(index, string(m), "rejected").Add(float64(len(dup.IDs)))
		}
		return WriteResult{}, fmt.Errorf("resolve duplicates: %w", err)
	}
	if n := len(res.InBatch); n > 0 {
		metrics.DuplicatesTotal.WithLabelValues(index, string(m), "in_batch").Add(float64(n))
	}
	if n := len(res.Existing); n > 0 {
		metrics.DuplicatesTotal.WithLabelValues(index, string(m), "existing").Add(float64(n))
	}

	prepared := make([]domdoc.Document, len(res.Documents))
	for i := range res.Documents {
		prepared[i] = s.prepare(&res.Documents[i])
	}

	out := WriteResult{SkippedInBatch: res.InBatch, SkippedExisting: res.Existing}
	batches := 0
	for chunk := range slices.Chunk(prepared, s.batchSize) {
		n, err := s.backend.WriteBatch(ctx, index, chunk, m)
		if err != nil {
			s.logger.Error("Batch write failed",
				zap.String("index", index),
				zap.Int("batch", batches),
				zap.Int("written", out.Written),
				zap.Error(err),
			)
			return out, &domain.BatchWriteError{
				Written: out.Written,
				Batches: batches,
				Err:     fmt.Errorf("write batch %d: %w", batches, err),
			}
		}
		out.Written += n
		batches++
		metrics.DocumentsWrittenTotal.WithLabelValues(index).Add(float64(n))
	}

	s.logger.Debug("Documents written",
		zap.String("index", index),
		zap.String("mode", string(m)),
		zap.Int("count", out.Written),
		zap.Int("batches", batches),
		zap.Int("duplicates", len(res.InBatch)+len(res.Existing)),
	)
	return out, nil
}

// prepare copies and normalizes the embedding and stamps vector_id.
func (s *Service) prepare(d *domdoc.Document) domdoc.Document {
	if !d.HasEmbedding() {
		return *d
	}
	vec := slices.Clone(d.Embedding())
	if s.backend.Metric() == similarity.Cosine {
		similarity.NormalizeL2(vec)
	}
	out := d.WithEmbedding(vec)
	return out.WithMeta(domdoc.VectorIDKey, d.ID())
}

func (s *Service) checkDim(vec []float32) error {
	dim := s.backend.Dimension()
	if len(vec) == 0 || dim <= 0 || len(vec) == dim {
		return nil
	}
	return fmt.Errorf("got %d, want %d: %w", len(vec), dim, domain.ErrVectorDimMismatch)
}

func (s *Service) lookup(ctx context.Context, index string, ids []string) ([]domdoc.Document, error) {
	var out []domdoc.Document
	for chunk := range slices.Chunk(ids, s.batchSize) {
		docs, err := s.backend.LookupByIDs(ctx, index, chunk)
		if err != nil {
			return nil, fmt.Errorf("lookup by ids: %w", err)
		}
		out = append(out, docs...)
	}
	return out, nil
}

// Get returns one document by id.
func (s *Service) Get(ctx context.Context, index, id string) (domdoc.Document, error) {
	docs, err := s.backend.LookupByIDs(ctx, index, []string{id})
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("get document: %w", err)
	}
	if len(docs) == 0 {
		return domdoc.Document{}, fmt.Errorf("document %q: %w", id, domain.ErrDocumentNotFound)
	}
	return docs[0], nil
}

// GetByIDs returns the documents among ids that exist. Missing ids are skipped.
func (s *Service) GetByIDs(ctx context.Context, index string, ids []string) ([]domdoc.Document, error) {
	docs, err := s.lookup(ctx, index, ids)
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	return docs, nil
}

// All returns every document matching raw. Embeddings are dropped unless returnEmbedding.
func (s *Service) All(
	ctx context.Context, index string, raw map[string]any, returnEmbedding bool,
) ([]domdoc.Document, error) {
	cur := s.Iterate(index, raw, returnEmbedding)
	var out []domdoc.Document
	for cur.Next(ctx) {
		out = append(out, cur.Document())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Iterate returns a lazy cursor over the documents matching raw. A malformed
// filter is reported by the cursor's Err after the first Next.
func (s *Service) Iterate(index string, raw map[string]any, returnEmbedding bool) *Cursor {
	node, err := s.filters.Normalize(raw)
	c := newCursor(s.backend, index, node, domdoc.Page{
		Limit:         s.batchSize,
		WithEmbedding: returnEmbedding,
	})
	if err != nil {
		c.invalid = fmt.Errorf("normalize filter: %w", err)
	}
	return c
}

// Count returns the number of documents matching raw.
func (s *Service) Count(ctx context.Context, index string, raw map[string]any, onlyWithoutEmbedding bool) (int, error) {
	node, err := s.filters.Normalize(raw)
	if err != nil {
		return 0, fmt.Errorf("normalize filter: %w", err)
	}
	n, err := s.backend.CountDocuments(ctx, index, node, onlyWithoutEmbedding)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// QueryByEmbedding returns up to topK documents matching raw, most similar
// first, with calibrated scores in [0,1]. The caller's vector is not modified.
func (s *Service) QueryByEmbedding(
	ctx context.Context, index string, vector []float32, raw map[string]any, topK int, returnEmbedding bool,
) ([]domdoc.Document, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query embedding is empty: %w", domain.ErrConfiguration)
	}
	if err := s.checkDim(vector); err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	node, err := s.filters.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize filter: %w", err)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	metric := s.backend.Metric()
	q := slices.Clone(vector)
	if metric == similarity.Cosine {
		similarity.NormalizeL2(q)
	}

	hits, err := s.backend.QueryByEmbedding(ctx, index, q, node, topK)
	if err != nil {
		return nil, fmt.Errorf("query by embedding: %w", err)
	}

	out := make([]domdoc.Document, len(hits))
	for i := range hits {
		d := hits[i].Document.WithScore(similarity.Calibrate(hits[i].RawScore, metric))
		if !returnEmbedding {
			d = d.WithEmbedding(nil)
		}
		out[i] = d
	}
	return out, nil
}

// QueryByText embeds text with the configured embedder and runs QueryByEmbedding.
func (s *Service) QueryByText(
	ctx context.Context, index, text string, raw map[string]any, topK int,
) ([]domdoc.Document, error) {
	e := s.queries
	if e == nil {
		e = s.embedder
	}
	if e == nil {
		return nil, domain.ErrEmbedderNotConfigured
	}
	res, err := e.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", providerError(err))
	}
	return s.QueryByEmbedding(ctx, index, res.Embedding, raw, topK, false)
}

// Delete removes documents by ids, by filter, or by both (ids that also match
// the filter). With neither, every document of the index is removed.
func (s *Service) Delete(ctx context.Context, index string, ids []string, raw map[string]any) (int, error) {
	node, err := s.filters.Normalize(raw)
	if err != nil {
		return 0, fmt.Errorf("normalize filter: %w", err)
	}

	if len(ids) == 0 {
		n, err := s.backend.DeleteByFilter(ctx, index, node)
		if err != nil {
			return 0, fmt.Errorf("delete by filter: %w", err)
		}
		return n, nil
	}

	if node != nil {
		docs, err := s.lookup(ctx, index, ids)
		if err != nil {
			return 0, err
		}
		ids = ids[:0:0]
		for i := range docs {
			if filter.Matches(node, docs[i].Meta()) {
				ids = append(ids, docs[i].ID())
			}
		}
		if len(ids) == 0 {
			return 0, nil
		}
	}

	total := 0
	for chunk := range slices.Chunk(ids, s.batchSize) {
		n, err := s.backend.DeleteByIDs(ctx, index, chunk)
		if err != nil {
			return total, fmt.Errorf("delete by ids: %w", err)
		}
		total += n
	}
	return total, nil
}

// DeleteIndex drops the index and everything in it.
func (s *Service) DeleteIndex(ctx context.Context, index string) error {
	if err := s.backend.DeleteIndex(ctx, index); err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	s.logger.Info("Index deleted", zap.String("index", index))
	return nil
}

// UpdateEmbeddings embeds the content of documents matching raw and writes the
// vectors back. Without updateExisting only documents lacking an embedding are
// touched. Returns the number of documents updated.
func (s *Service) UpdateEmbeddings(
	ctx context.Context, index string, raw map[string]any, updateExisting bool,
) (int, error) {
	if s.embedder == nil {
		return 0, domain.ErrEmbedderNotConfigured
	}
	node, err := s.filters.Normalize(raw)
	if err != nil {
		return 0, fmt.Errorf("normalize filter: %w", err)
	}

	page := domdoc.Page{Limit: s.batchSize, OnlyWithoutEmbedding: !updateExisting}
	seen := make(map[string]struct{})
	updated := 0
	for {
		docs, next, err := s.backend.QueryByFilter(ctx, index, node, page)
		if err != nil {
			return updated, fmt.Errorf("query by filter: %w", err)
		}
		fresh := docs[:0:0]
		for i := range docs {
			if _, ok := seen[docs[i].ID()]; !ok {
				seen[docs[i].ID()] = struct{}{}
				fresh = append(fresh, docs[i])
			}
		}
		if len(fresh) == 0 {
			break
		}

		vectors, err := s.embedDocuments(ctx, fresh)
		if err != nil {
			return updated, err
		}
		if err := s.backend.UpdateEmbeddings(ctx, index, vectors); err != nil {
			return updated, fmt.Errorf("update embeddings: %w", err)
		}
		updated += len(vectors)
		s.logger.Debug("Embeddings updated",
			zap.String("index", index),
			zap.Int("count", len(vectors)),
			zap.Int("total", updated),
		)

		if updateExisting {
			if next == "" {
				break
			}
			page.Cursor = next
		}
		// Without updateExisting the updated documents leave the result set,
		// so every round starts from the first page again.
	}
	return updated, nil
}

func (s *Service) embedDocuments(ctx context.Context, docs []domdoc.Document) (map[string][]float32, error) {
	texts := make([]string, len(docs))
	for i := range docs {
		texts[i] = docs[i].Content()
	}

	res, err := domain.EmbedBatch(ctx, s.embedder, texts)
	if err != nil {
		return nil, fmt.Errorf("vectorize documents: %w", providerError(err))
	}
	if len(res.Embeddings) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents: %w",
			len(res.Embeddings), len(docs), domain.ErrEmbeddingProviderError)
	}

	out := make(map[string][]float32, len(docs))
	for i := range docs {
		vec := res.Embeddings[i]
		if err := s.checkDim(vec); err != nil {
			return nil, fmt.Errorf("document %q: %w", docs[i].ID(), err)
		}
		if s.backend.Metric() == similarity.Cosine {
			similarity.NormalizeL2(vec)
		}
		out[docs[i].ID()] = vec
	}
	return out, nil
}

func providerError(err error) error {
	if errors.Is(err, domain.ErrEmbeddingProviderError) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingProviderError, err)
}
