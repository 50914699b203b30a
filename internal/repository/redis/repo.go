// Package redis stores documents and labels as RedisJSON and queries them
// through RediSearch indexes. Declared metadata fields are indexed natively;
// filters over anything else are evaluated in-process on scanned pages.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/db"
	"github.com/kailas-cloud/docstore/internal/domain"
	"github.com/kailas-cloud/docstore/internal/domain/field"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

// DefaultKeyPrefix namespaces every key and index name.
const DefaultKeyPrefix = "docstore:"

const (
	backendName = "redis"
	scanPage    = 500
	deleteBatch = 1000
)

// store is the consumer interface for the Redis store (ISP).
//
//nolint:interfacebloat // documents and labels share one store
type store interface {
	Ping(ctx context.Context) error
	JSONSetMulti(ctx context.Context, items []db.JSONSetItem) error
	JSONMGet(ctx context.Context, keys []string, path string) ([][]byte, error)
	Del(ctx context.Context, keys ...string) (int, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string, deleteDocs bool) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo implements the document and label backends over Redis.
type Repo struct {
	store  store
	metric similarity.Metric
	dim    int
	fields field.Set
	hnsw   HNSWConfig
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	ensured map[string]struct{}
}

// New creates a Redis repository. fields are the metadata fields indexed natively.
func New(s store, metric similarity.Metric, dim int, fields []field.Field, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{
		store:   s,
		metric:  metric,
		dim:     dim,
		fields:  field.NewSet(fields...),
		hnsw:    HNSWConfig{M: 16, EFConstruct: 200},
		prefix:  DefaultKeyPrefix,
		logger:  logger,
		ensured: make(map[string]struct{}),
	}
}

// WithHNSW configures HNSW index parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// WithKeyPrefix overrides DefaultKeyPrefix.
func (r *Repo) WithKeyPrefix(prefix string) *Repo {
	if prefix != "" {
		r.prefix = prefix
	}
	return r
}

// Metric returns the similarity metric.
func (r *Repo) Metric() similarity.Metric { return r.metric }

// Dimension returns the embedding dimension.
func (r *Repo) Dimension() int { return r.dim }

// Ping checks connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// DeleteIndex drops the document and label indexes together with their keys.
func (r *Repo) DeleteIndex(ctx context.Context, index string) error {
	if err := validateIndex(index); err != nil {
		return err
	}
	for _, name := range []string{r.docIndex(index), r.labelIndex(index)} {
		if err := r.store.DropIndex(ctx, name, true); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
			return backendError("drop index "+name, err)
		}
		r.forget(name)
	}
	r.logger.Info("index deleted", zap.String("index", index))
	return nil
}

// --- Keys ---

// Keys share the {index} hash tag so multi-key commands stay in one slot.
func (r *Repo) docKey(index, id string) string {
	return r.docPrefix(index) + id
}

func (r *Repo) docPrefix(index string) string {
	return r.prefix + "{" + index + "}:doc:"
}

func (r *Repo) labelKey(index, id string) string {
	return r.labelPrefix(index) + id
}

func (r *Repo) labelPrefix(index string) string {
	return r.prefix + "{" + index + "}:label:"
}

func (r *Repo) docIndex(index string) string {
	return r.prefix + index + ":idx"
}

func (r *Repo) labelIndex(index string) string {
	return r.prefix + index + ":label-idx"
}

// validateIndex restricts names to [A-Za-z0-9_-] so key prefixes of
// different indexes never nest.
func validateIndex(index string) error {
	if index == "" {
		return fmt.Errorf("index name is required: %w", domain.ErrConfiguration)
	}
	for _, c := range index {
		ok := c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !ok {
			return fmt.Errorf("index name %q contains invalid characters: %w", index, domain.ErrConfiguration)
		}
	}
	return nil
}

func backendError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrBackend, err)
}
