package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kailas-cloud/docstore/internal/domain/filter"
	domlabel "github.com/kailas-cloud/docstore/internal/domain/label"
	"github.com/kailas-cloud/docstore/internal/metrics"
)

// WriteLabels upserts labels as JSONB records.
func (r *Repo) WriteLabels(ctx context.Context, index string, labels []domlabel.Label) (int, error) {
	defer metrics.ObserveBackend(backendName, "write_labels", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	if len(labels) == 0 {
		return 0, nil
	}
	if err := r.ensure(ctx, r.labelTable(index), r.labelSchema(index)); err != nil {
		return 0, err
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, query, body) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET query = EXCLUDED.query, body = EXCLUDED.body`, r.labelTable(index))

	batch := &pgx.Batch{}
	for i := range labels {
		body, err := json.Marshal(domlabel.ToRecord(&labels[i]))
		if err != nil {
			return 0, fmt.Errorf("marshal label %s: %w", labels[i].ID(), err)
		}
		batch.Queue(sql, labels[i].ID(), labels[i].Query(), body)
	}
	if err := r.execBatch(ctx, batch); err != nil {
		return 0, backendError("write labels", err)
	}
	return len(labels), nil
}

// QueryLabels returns labels matching node in insertion order. Label filters
// address derived fields, so they run in-process.
func (r *Repo) QueryLabels(ctx context.Context, index string, node filter.Node) ([]domlabel.Label, error) {
	defer metrics.ObserveBackend(backendName, "query_labels", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, err
	}
	var out []domlabel.Label
	err := r.eachLabel(ctx, index, nil, func(l *domlabel.Label) {
		if filter.Matches(node, domlabel.FilterFields(l)) {
			out = append(out, *l)
		}
	})
	return out, err
}

// GetLabels returns the stored labels among ids in insertion order.
func (r *Repo) GetLabels(ctx context.Context, index string, ids []string) ([]domlabel.Label, error) {
	defer metrics.ObserveBackend(backendName, "get_labels", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var out []domlabel.Label
	err := r.eachLabel(ctx, index, ids, func(l *domlabel.Label) {
		out = append(out, *l)
	})
	return out, err
}

// DeleteLabels removes labels selected by ids, node or both (intersection).
// With neither every label of the index is removed.
func (r *Repo) DeleteLabels(ctx context.Context, index string, ids []string, node filter.Node) (int, error) {
	defer metrics.ObserveBackend(backendName, "delete_labels", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	if node == nil {
		if len(ids) > 0 {
			return r.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", r.labelTable(index)), ids)
		}
		return r.exec(ctx, fmt.Sprintf("DELETE FROM %s", r.labelTable(index)))
	}

	var matched []string
	err := r.eachLabel(ctx, index, ids, func(l *domlabel.Label) {
		if filter.Matches(node, domlabel.FilterFields(l)) {
			matched = append(matched, l.ID())
		}
	})
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}
	return r.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", r.labelTable(index)), matched)
}

// CountLabels returns the number of labels in index.
func (r *Repo) CountLabels(ctx context.Context, index string) (int, error) {
	defer metrics.ObserveBackend(backendName, "count_labels", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	var n int64
	if err := r.db.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", r.labelTable(index))).Scan(&n); err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, backendError("count labels", err)
	}
	return int(n), nil
}

// eachLabel visits stored labels in seq order, restricted to ids when given.
func (r *Repo) eachLabel(ctx context.Context, index string, ids []string, visit func(l *domlabel.Label)) error {
	sql := fmt.Sprintf("SELECT body FROM %s ORDER BY seq", r.labelTable(index))
	var args []any
	if len(ids) > 0 {
		sql = fmt.Sprintf("SELECT body FROM %s WHERE id = ANY($1) ORDER BY seq", r.labelTable(index))
		args = append(args, ids)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return nil
		}
		return backendError("query labels", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("scan label: %w", err)
		}
		var rec domlabel.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return fmt.Errorf("decode label: %w", err)
		}
		l := domlabel.FromRecord(&rec)
		visit(&l)
	}
	if err := rows.Err(); err != nil && !isUndefinedTable(err) {
		return backendError("query labels", err)
	}
	return nil
}
