package label

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/domain/duplicate"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	domlabel "github.com/kailas-cloud/docstore/internal/domain/label"
)

// DefaultBatchSize bounds labels per backend write.
const DefaultBatchSize = 10_000

// Service is the label side of the store facade.
type Service struct {
	backend   Backend
	filters   FilterNormalizer
	batchSize int
	logger    *zap.Logger
}

// New creates a label service. A nil filters normalizes every call without caching.
func New(backend Backend, filters FilterNormalizer, logger *zap.Logger) *Service {
	if filters == nil {
		filters = filter.Uncached(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{backend: backend, filters: filters, batchSize: DefaultBatchSize, logger: logger}
}

// WithBatchSize configures the write batch size.
func (s *Service) WithBatchSize(n int) *Service {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// WriteLabels stores labels. Labels are always upserted by id: a label whose id
// repeats in the batch is written once (first occurrence) and one whose id is
// already stored replaces it. Both cases are logged. mode is validated only.
func (s *Service) WriteLabels(ctx context.Context, index string, labels []domlabel.Label, mode string) (int, error) {
	if mode != "" {
		if _, err := duplicate.ParseMode(mode); err != nil {
			return 0, err
		}
	}
	if len(labels) == 0 {
		return 0, nil
	}

	dups, err := s.DuplicateLabels(ctx, index, labels)
	if err != nil {
		return 0, err
	}
	if len(dups) > 0 {
		ids := make([]string, len(dups))
		for i := range dups {
			ids[i] = dups[i].ID()
		}
		s.logger.Warn("Duplicate label ids, existing labels will be overwritten",
			zap.String("index", index),
			zap.Strings("ids", slices.Compact(slices.Sorted(slices.Values(ids)))),
		)
	}

	seen := make(map[string]struct{}, len(labels))
	unique := make([]domlabel.Label, 0, len(labels))
	for i := range labels {
		if _, ok := seen[labels[i].ID()]; ok {
			continue
		}
		seen[labels[i].ID()] = struct{}{}
		unique = append(unique, labels[i])
	}

	written := 0
	for chunk := range slices.Chunk(unique, s.batchSize) {
		n, err := s.backend.WriteLabels(ctx, index, chunk)
		if err != nil {
			return written, fmt.Errorf("write labels: %w", err)
		}
		written += n
	}

	s.logger.Debug("Labels written",
		zap.String("index", index),
		zap.Int("count", written),
		zap.Int("duplicates", len(dups)),
	)
	return written, nil
}

// AllLabels returns the labels matching raw.
func (s *Service) AllLabels(ctx context.Context, index string, raw map[string]any) ([]domlabel.Label, error) {
	node, err := s.filters.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize filter: %w", err)
	}
	labels, err := s.backend.QueryLabels(ctx, index, node)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	return labels, nil
}

// Count returns the number of labels in index.
func (s *Service) Count(ctx context.Context, index string) (int, error) {
	n, err := s.backend.CountLabels(ctx, index)
	if err != nil {
		return 0, fmt.Errorf("count labels: %w", err)
	}
	return n, nil
}

// Delete removes labels by ids, filter, or both. With neither, every label goes.
func (s *Service) Delete(ctx context.Context, index string, ids []string, raw map[string]any) (int, error) {
	node, err := s.filters.Normalize(raw)
	if err != nil {
		return 0, fmt.Errorf("normalize filter: %w", err)
	}
	n, err := s.backend.DeleteLabels(ctx, index, ids, node)
	if err != nil {
		return 0, fmt.Errorf("delete labels: %w", err)
	}
	return n, nil
}

// Aggregated loads the labels matching raw and groups them into MultiLabels.
func (s *Service) Aggregated(
	ctx context.Context, index string, raw map[string]any, opts domlabel.Options,
) ([]domlabel.MultiLabel, error) {
	labels, err := s.AllLabels(ctx, index, raw)
	if err != nil {
		return nil, err
	}
	ptrs := make([]*domlabel.Label, len(labels))
	for i := range labels {
		ptrs[i] = &labels[i]
	}
	return domlabel.Aggregate(ptrs, opts), nil
}

// DuplicateLabels reports the labels of the batch whose id repeats within the
// batch or is already stored in index. Only the batch ids are looked up and
// nothing is written.
func (s *Service) DuplicateLabels(
	ctx context.Context, index string, labels []domlabel.Label,
) ([]domlabel.Label, error) {
	ids := make([]string, len(labels))
	for i := range labels {
		ids[i] = labels[i].ID()
	}
	stored, err := s.backend.GetLabels(ctx, index, slices.Compact(slices.Sorted(slices.Values(ids))))
	if err != nil {
		return nil, fmt.Errorf("get labels: %w", err)
	}
	return duplicate.DuplicateLabels(labels, stored), nil
}
