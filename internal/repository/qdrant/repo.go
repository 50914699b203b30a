// Package qdrant stores documents as Qdrant points: one collection per index,
// the embedding as the named vector "dense", the document id, content and
// metadata in the payload. Labels are not supported here.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/docstore/internal/domain"
	"github.com/kailas-cloud/docstore/internal/domain/field"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

// DefaultCollectionPrefix namespaces collection names.
const DefaultCollectionPrefix = "docstore_"

const (
	backendName = "qdrant"
	vectorName  = "dense"
	scrollPage  = 256

	payloadID        = "_id"
	payloadContent   = "_content"
	payloadHasVector = "_has_vector"
	payloadMeta      = "meta"
)

// pointNamespace derives deterministic point ids (UUIDv5) from document ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docstore/document"))

// client is the consumer interface for *qdrant.Client (ISP).
//
//nolint:interfacebloat // collection and point operations share one client
type client interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Scroll(ctx context.Context, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
}

// Repo implements the document backend over Qdrant.
type Repo struct {
	client client
	metric similarity.Metric
	dim    int
	fields field.Set
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	ensured map[string]struct{}
}

// New creates a Qdrant repository. fields get payload indexes and enable
// native range filters.
func New(c client, metric similarity.Metric, dim int, fields []field.Field, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{
		client:  c,
		metric:  metric,
		dim:     dim,
		fields:  field.NewSet(fields...),
		prefix:  DefaultCollectionPrefix,
		logger:  logger,
		ensured: make(map[string]struct{}),
	}
}

// WithCollectionPrefix overrides DefaultCollectionPrefix.
func (r *Repo) WithCollectionPrefix(prefix string) *Repo {
	r.prefix = prefix
	return r
}

// Metric returns the similarity metric.
func (r *Repo) Metric() similarity.Metric { return r.metric }

// Dimension returns the embedding dimension.
func (r *Repo) Dimension() int { return r.dim }

// Ping checks connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	if _, err := r.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// DeleteIndex drops the collection of index.
func (r *Repo) DeleteIndex(ctx context.Context, index string) error {
	if err := validateIndex(index); err != nil {
		return err
	}
	name := r.collection(index)
	if err := r.client.DeleteCollection(ctx, name); err != nil && !isNotFound(err) {
		return backendError("delete collection "+name, err)
	}

	r.mu.Lock()
	delete(r.ensured, name)
	r.mu.Unlock()

	r.logger.Info("index deleted", zap.String("index", index))
	return nil
}

func (r *Repo) collection(index string) string {
	return r.prefix + index
}

func (r *Repo) distance() qdrant.Distance {
	switch r.metric {
	case similarity.DotProduct:
		return qdrant.Distance_Dot
	case similarity.L2:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

// rawScore maps a Qdrant score onto the metric's similarity. Euclid scores
// are distances, lower is closer.
func (r *Repo) rawScore(score float32) float64 {
	if r.metric == similarity.L2 {
		return -float64(score)
	}
	return float64(score)
}

// ensureCollection creates the collection and its payload indexes on first use.
func (r *Repo) ensureCollection(ctx context.Context, index string) error {
	name := r.collection(index)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ensured[name]; ok {
		return nil
	}

	exists, err := r.client.CollectionExists(ctx, name)
	if err != nil {
		return backendError("collection exists "+name, err)
	}
	if !exists {
		err := r.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				vectorName: {Size: uint64(r.dim), Distance: r.distance()},
			}),
		})
		if err != nil {
			return backendError("create collection "+name, err)
		}
		for _, idx := range r.payloadIndexes() {
			req := &qdrant.CreateFieldIndexCollection{
				CollectionName: name,
				FieldName:      idx.name,
				FieldType:      idx.fieldType.Enum(),
				Wait:           qdrant.PtrOf(true),
			}
			if _, err := r.client.CreateFieldIndex(ctx, req); err != nil {
				return backendError("create payload index "+idx.name, err)
			}
		}
		r.logger.Info("collection created", zap.String("collection", name), zap.Int("dim", r.dim))
	}
	r.ensured[name] = struct{}{}
	return nil
}

type payloadIndex struct {
	name      string
	fieldType qdrant.FieldType
}

func (r *Repo) payloadIndexes() []payloadIndex {
	out := []payloadIndex{
		{payloadID, qdrant.FieldType_FieldTypeKeyword},
		{payloadHasVector, qdrant.FieldType_FieldTypeBool},
	}
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		ft := qdrant.FieldType_FieldTypeKeyword
		if r.fields[name].FieldType() == field.Numeric {
			ft = qdrant.FieldType_FieldTypeFloat
		}
		out = append(out, payloadIndex{payloadMeta + "." + name, ft})
	}
	return out
}

// pointID derives the point id of a document id.
func pointID(docID string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(docID)).String())
}

// validateIndex restricts names to [A-Za-z0-9_-].
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

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound || errors.Is(err, domain.ErrIndexNotFound)
}

func backendError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrBackend, err)
}
