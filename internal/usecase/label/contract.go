package label

import (
	"context"

	"github.com/kailas-cloud/docstore/internal/domain/filter"
	domlabel "github.com/kailas-cloud/docstore/internal/domain/label"
)

// Backend is the label storage contract. Filters are evaluated against
// domlabel.FilterFields of each label.
type Backend interface {
	WriteLabels(ctx context.Context, index string, labels []domlabel.Label) (int, error)
	QueryLabels(ctx context.Context, index string, node filter.Node) ([]domlabel.Label, error)
	// GetLabels returns the stored labels among ids. Unknown ids are skipped.
	GetLabels(ctx context.Context, index string, ids []string) ([]domlabel.Label, error)
	DeleteLabels(ctx context.Context, index string, ids []string, node filter.Node) (int, error)
	CountLabels(ctx context.Context, index string) (int, error)
}

// FilterNormalizer turns a raw filter into a tree.
type FilterNormalizer interface {
	Normalize(raw map[string]any) (filter.Node, error)
}
