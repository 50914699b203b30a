package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/docstore/internal/db"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	domlabel "github.com/kailas-cloud/docstore/internal/domain/label"
	"github.com/kailas-cloud/docstore/internal/metrics"
)

// WriteLabels upserts labels as JSON records.
func (r *Repo) WriteLabels(ctx context.Context, index string, labels []domlabel.Label) (int, error) {
	defer metrics.ObserveBackend(backendName, "write_labels", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	if len(labels) == 0 {
		return 0, nil
	}
	if err := r.ensureLabelIndex(ctx, index); err != nil {
		return 0, err
	}

	items := make([]db.JSONSetItem, 0, len(labels))
	for i := range labels {
		data, err := json.Marshal(domlabel.ToRecord(&labels[i]))
		if err != nil {
			return 0, fmt.Errorf("marshal label %s: %w", labels[i].ID(), err)
		}
		items = append(items, db.JSONSetItem{Key: r.labelKey(index, labels[i].ID()), Path: "$", Data: data})
	}
	if err := r.store.JSONSetMulti(ctx, items); err != nil {
		return 0, backendError("write labels", err)
	}
	return len(items), nil
}

// QueryLabels returns labels matching node in id order. Label filters run
// in-process over every stored label.
func (r *Repo) QueryLabels(ctx context.Context, index string, node filter.Node) ([]domlabel.Label, error) {
	defer metrics.ObserveBackend(backendName, "query_labels", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, err
	}

	var out []domlabel.Label
	err := r.eachLabel(ctx, index, func(_ string, l *domlabel.Label) {
		if filter.Matches(node, domlabel.FilterFields(l)) {
			out = append(out, *l)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetLabels fetches the labels among ids with a single JSON.MGET.
func (r *Repo) GetLabels(ctx context.Context, index string, ids []string) ([]domlabel.Label, error) {
	defer metrics.ObserveBackend(backendName, "get_labels", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.labelKey(index, id)
	}
	raws, err := r.store.JSONMGet(ctx, keys, mgetRoot)
	if err != nil {
		return nil, backendError("get labels", err)
	}
	var out []domlabel.Label
	for i, raw := range raws {
		if raw == nil {
			continue
		}
		l, err := decodeLabel(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keys[i], err)
		}
		out = append(out, l)
	}
	return out, nil
}

// DeleteLabels removes labels selected by ids, node or both (intersection).
// With neither every label of the index is removed.
func (r *Repo) DeleteLabels(ctx context.Context, index string, ids []string, node filter.Node) (int, error) {
	defer metrics.ObserveBackend(backendName, "delete_labels", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}

	var keys []string
	if len(ids) > 0 {
		candidates := make([]string, len(ids))
		for i, id := range ids {
			candidates[i] = r.labelKey(index, id)
		}
		if node == nil {
			return r.delKeys(ctx, candidates)
		}
		raws, err := r.store.JSONMGet(ctx, candidates, mgetRoot)
		if err != nil {
			return 0, backendError("get labels", err)
		}
		for i, raw := range raws {
			if raw == nil {
				continue
			}
			l, err := decodeLabel(raw)
			if err != nil {
				return 0, fmt.Errorf("%s: %w", candidates[i], err)
			}
			if filter.Matches(node, domlabel.FilterFields(&l)) {
				keys = append(keys, candidates[i])
			}
		}
		return r.delKeys(ctx, keys)
	}

	err := r.eachLabel(ctx, index, func(key string, l *domlabel.Label) {
		if filter.Matches(node, domlabel.FilterFields(l)) {
			keys = append(keys, key)
		}
	})
	if err != nil {
		return 0, err
	}
	return r.delKeys(ctx, keys)
}

// CountLabels returns the number of labels in index.
func (r *Repo) CountLabels(ctx context.Context, index string) (int, error) {
	defer metrics.ObserveBackend(backendName, "count_labels", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	n, err := r.store.SearchCount(ctx, r.labelIndex(index), "*")
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return 0, nil
		}
		return 0, backendError("count labels", err)
	}
	return n, nil
}

func (r *Repo) ensureLabelIndex(ctx context.Context, index string) error {
	return r.ensureIndex(ctx, func() (*db.IndexDefinition, error) { return r.buildLabelIndex(index) })
}

// eachLabel visits every stored label of index in id order.
func (r *Repo) eachLabel(ctx context.Context, index string, visit func(key string, l *domlabel.Label)) error {
	var decodeErr error
	_, err := r.scan(ctx, r.labelIndex(index), "*", attrLabelID, 0, func(e *db.SearchEntry) bool {
		l, err := decodeLabel([]byte(e.Fields[returnRoot]))
		if err != nil {
			decodeErr = fmt.Errorf("%s: %w", e.Key, err)
			return false
		}
		visit(e.Key, &l)
		return true
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func decodeLabel(raw []byte) (domlabel.Label, error) {
	var rec domlabel.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domlabel.Label{}, fmt.Errorf("decode label: %w", err)
	}
	return domlabel.FromRecord(&rec), nil
}
