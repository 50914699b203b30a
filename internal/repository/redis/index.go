package redis

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/db"
	"github.com/kailas-cloud/docstore/internal/domain/field"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

// Reserved JSON attributes of a stored document, also used as index aliases.
const (
	attrID        = "__id"
	attrContent   = "__content"
	attrVector    = "__vector"
	attrHasVector = "__has_vector"
	attrLabelID   = "id"
)

// buildDocIndex declares the document index: id and vector presence for
// paging, declared meta fields for filtering, and the HNSW vector field.
func (r *Repo) buildDocIndex(index string) (*db.IndexDefinition, error) {
	b := db.NewIndex(r.docIndex(index), r.docPrefix(index)).
		Tag("$."+attrID, attrID).Sortable().
		Numeric("$."+attrHasVector, attrHasVector)

	for _, name := range slices.Sorted(maps.Keys(r.fields)) {
		f := r.fields[name]
		path := "$.meta." + f.Name()
		switch f.FieldType() {
		case field.Tag:
			b = b.Tag(path, f.Name()).CaseSensitive()
		case field.Numeric:
			b = b.Numeric(path, f.Name())
		default:
			return nil, fmt.Errorf("unknown field type: %s", f.FieldType())
		}
	}

	return b.Vector("$."+attrVector, attrVector, db.HNSW{
		Dim:         r.dim,
		Distance:    distanceFor(r.metric),
		M:           r.hnsw.M,
		EFConstruct: r.hnsw.EFConstruct,
	}).Build()
}

func (r *Repo) buildLabelIndex(index string) (*db.IndexDefinition, error) {
	return db.NewIndex(r.labelIndex(index), r.labelPrefix(index)).
		Tag("$."+attrLabelID, attrLabelID).Sortable().
		Build()
}

func distanceFor(m similarity.Metric) db.DistanceMetric {
	switch m {
	case similarity.DotProduct:
		return db.DistanceIP
	case similarity.L2:
		return db.DistanceL2
	default:
		return db.DistanceCosine
	}
}

// ensureIndex creates the index on first use. Results are cached per process.
func (r *Repo) ensureIndex(ctx context.Context, build func() (*db.IndexDefinition, error)) error {
	def, err := build()
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ensured[def.Name]; ok {
		return nil
	}

	exists, err := r.store.IndexExists(ctx, def.Name)
	if err != nil {
		return backendError("index exists "+def.Name, err)
	}
	if !exists {
		if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
			return backendError("create index "+def.Name, err)
		}
		r.logger.Info("index created", zap.String("index", def.Name), zap.Int("fields", len(def.Fields)))
	}
	r.ensured[def.Name] = struct{}{}
	return nil
}

func (r *Repo) forget(name string) {
	r.mu.Lock()
	delete(r.ensured, name)
	r.mu.Unlock()
}
