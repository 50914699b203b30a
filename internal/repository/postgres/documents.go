package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/domain"
	domdoc "github.com/kailas-cloud/docstore/internal/domain/document"
	"github.com/kailas-cloud/docstore/internal/domain/duplicate"
	"github.com/kailas-cloud/docstore/internal/domain/filter"
	"github.com/kailas-cloud/docstore/internal/metrics"
)

const docColumns = "seq, id, content, meta, embedding"

// WriteBatch upserts docs in one pipelined batch. Duplicate resolution
// happens in the caller, so mode is not consulted here.
func (r *Repo) WriteBatch(ctx context.Context, index string, docs []domdoc.Document, _ duplicate.Mode) (int, error) {
	defer metrics.ObserveBackend(backendName, "write_batch", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := r.ensure(ctx, r.docTable(index), r.docSchema(index)); err != nil {
		return 0, err
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, content, meta, embedding) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, meta = EXCLUDED.meta, embedding = EXCLUDED.embedding`,
		r.docTable(index))

	batch := &pgx.Batch{}
	for i := range docs {
		meta, err := encodeMeta(docs[i].Meta())
		if err != nil {
			return 0, fmt.Errorf("document %s: %w", docs[i].ID(), err)
		}
		batch.Queue(sql, docs[i].ID(), docs[i].Content(), meta, vectorArg(docs[i].Embedding()))
	}
	if err := r.execBatch(ctx, batch); err != nil {
		return 0, backendError("write documents", err)
	}
	return len(docs), nil
}

// LookupByIDs returns the stored documents among ids, in request order.
func (r *Repo) LookupByIDs(ctx context.Context, index string, ids []string) ([]domdoc.Document, error) {
	defer metrics.ObserveBackend(backendName, "lookup", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE id = ANY($1)", docColumns, r.docTable(index))
	rows, err := r.query(ctx, sql, true, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domdoc.Document, len(rows))
	for _, row := range rows {
		byID[row.doc.ID()] = row.doc
	}
	out := make([]domdoc.Document, 0, len(rows))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
			delete(byID, id)
		}
	}
	return out, nil
}

// QueryByFilter pages matching documents in insertion order. The cursor is
// the seq of the last returned row.
func (r *Repo) QueryByFilter(ctx context.Context, index string, node filter.Node, page domdoc.Page) (
	[]domdoc.Document, string, error,
) {
	defer metrics.ObserveBackend(backendName, "query_filter", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, "", err
	}
	after, err := parseSeq(page.Cursor)
	if err != nil {
		return nil, "", err
	}
	limit := page.Limit
	if limit <= 0 {
		limit = scanPage
	}

	var rows []docRow
	w := newWhere("meta", after)
	if cond, ok := w.compile(node); ok {
		sql := fmt.Sprintf("SELECT %s FROM %s WHERE seq > $1 AND %s%s ORDER BY seq LIMIT %s",
			docColumns, r.docTable(index), cond, withoutEmbedding(page.OnlyWithoutEmbedding), w.arg(limit+1))
		rows, err = r.query(ctx, sql, page.WithEmbedding, w.args...)
	} else {
		r.logger.Debug("filter evaluated in-process",
			zap.String("index", index), zap.Strings("fields", filter.Fields(node)))
		err = r.walk(ctx, index, after, page.OnlyWithoutEmbedding, page.WithEmbedding, func(row docRow) bool {
			if filter.Matches(node, row.doc.Meta()) {
				rows = append(rows, row)
			}
			return len(rows) <= limit
		})
	}
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		next = strconv.FormatInt(rows[limit-1].seq, 10)
	}
	docs := make([]domdoc.Document, len(rows))
	for i := range rows {
		docs[i] = rows[i].doc
	}
	return docs, next, nil
}

// QueryByEmbedding ranks documents that have an embedding by the metric's
// pgvector operator.
func (r *Repo) QueryByEmbedding(ctx context.Context, index string, vector []float32, node filter.Node, topK int) (
	[]domdoc.Scored, error,
) {
	defer metrics.ObserveBackend(backendName, "query_embedding", time.Now())

	if err := validateIndex(index); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	w := newWhere("meta", pgvector.NewVector(vector))
	cond, ok := w.compile(node)
	if !ok {
		return nil, fmt.Errorf("filter on %v cannot run in SQL: %w", filter.Fields(node), domain.ErrUnsupportedFilter)
	}

	sql := fmt.Sprintf(`SELECT %s, embedding %s $1 AS distance FROM %s
WHERE embedding IS NOT NULL AND %s ORDER BY distance LIMIT %s`,
		docColumns, r.distanceOp(), r.docTable(index), cond, w.arg(topK))
	rows, err := r.db.Query(ctx, sql, w.args...)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, backendError("similarity query", err)
	}
	defer rows.Close()

	var out []domdoc.Scored
	for rows.Next() {
		var (
			row      docRow
			distance float64
		)
		if row, err = scanDoc(rows, true, &distance); err != nil {
			return nil, err
		}
		out = append(out, domdoc.Scored{Document: row.doc, RawScore: r.rawScore(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, backendError("similarity query", err)
	}
	return out, nil
}

// DeleteByIDs removes documents by id and reports how many existed.
func (r *Repo) DeleteByIDs(ctx context.Context, index string, ids []string) (int, error) {
	defer metrics.ObserveBackend(backendName, "delete_ids", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return r.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", r.docTable(index)), ids)
}

// DeleteByFilter removes matching documents. A nil node removes all of them.
func (r *Repo) DeleteByFilter(ctx context.Context, index string, node filter.Node) (int, error) {
	defer metrics.ObserveBackend(backendName, "delete_filter", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}

	w := newWhere("meta")
	if cond, ok := w.compile(node); ok {
		return r.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", r.docTable(index), cond), w.args...)
	}

	var ids []string
	err := r.walk(ctx, index, 0, false, false, func(row docRow) bool {
		if filter.Matches(node, row.doc.Meta()) {
			ids = append(ids, row.doc.ID())
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return r.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", r.docTable(index)), ids)
}

// CountDocuments counts matching documents, optionally only those without an embedding.
func (r *Repo) CountDocuments(ctx context.Context, index string, node filter.Node, onlyWithoutEmbedding bool) (
	int, error,
) {
	defer metrics.ObserveBackend(backendName, "count", time.Now())

	if err := validateIndex(index); err != nil {
		return 0, err
	}

	w := newWhere("meta")
	if cond, ok := w.compile(node); ok {
		var n int64
		sql := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s%s",
			r.docTable(index), cond, withoutEmbedding(onlyWithoutEmbedding))
		if err := r.db.QueryRow(ctx, sql, w.args...).Scan(&n); err != nil {
			if isUndefinedTable(err) {
				return 0, nil
			}
			return 0, backendError("count documents", err)
		}
		return int(n), nil
	}

	count := 0
	err := r.walk(ctx, index, 0, onlyWithoutEmbedding, false, func(row docRow) bool {
		if filter.Matches(node, row.doc.Meta()) {
			count++
		}
		return true
	})
	return count, err
}

// UpdateEmbeddings replaces the embeddings of stored documents. Unknown ids are ignored.
func (r *Repo) UpdateEmbeddings(ctx context.Context, index string, embeddings map[string][]float32) error {
	defer metrics.ObserveBackend(backendName, "update_embeddings", time.Now())

	if err := validateIndex(index); err != nil {
		return err
	}
	if len(embeddings) == 0 {
		return nil
	}

	sql := fmt.Sprintf("UPDATE %s SET embedding = $2 WHERE id = $1", r.docTable(index))
	batch := &pgx.Batch{}
	for id, emb := range embeddings {
		batch.Queue(sql, id, vectorArg(emb))
	}
	if err := r.execBatch(ctx, batch); err != nil {
		if isUndefinedTable(err) {
			return nil
		}
		return backendError("update embeddings", err)
	}
	return nil
}

// --- Rows ---

type docRow struct {
	seq int64
	doc domdoc.Document
}

// scanDoc reads docColumns plus any extra trailing destinations.
func scanDoc(rows pgx.Rows, withEmbedding bool, extra ...any) (docRow, error) {
	var (
		seq     int64
		id      string
		content string
		meta    []byte
		emb     *pgvector.Vector
	)
	dest := append([]any{&seq, &id, &content, &meta, &emb}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return docRow{}, fmt.Errorf("scan document: %w", err)
	}

	var m map[string]any
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m); err != nil {
			return docRow{}, fmt.Errorf("decode meta of %s: %w", id, err)
		}
	}
	var vec []float32
	if withEmbedding && emb != nil {
		vec = emb.Slice()
	}
	return docRow{seq: seq, doc: domdoc.Reconstruct(id, content, m, vec)}, nil
}

func (r *Repo) query(ctx context.Context, sql string, withEmbedding bool, args ...any) ([]docRow, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, backendError("query documents", err)
	}
	defer rows.Close()

	var out []docRow
	for rows.Next() {
		row, err := scanDoc(rows, withEmbedding)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, backendError("query documents", err)
	}
	return out, nil
}

// walk visits documents with seq > after in seq order, one page at a time,
// until visit returns false.
func (r *Repo) walk(ctx context.Context, index string, after int64, onlyWithoutEmbedding, withEmbedding bool,
	visit func(row docRow) bool,
) error {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE seq > $1%s ORDER BY seq LIMIT $2",
		docColumns, r.docTable(index), withoutEmbedding(onlyWithoutEmbedding))
	for {
		rows, err := r.query(ctx, sql, withEmbedding, after, scanPage)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if !visit(row) {
				return nil
			}
		}
		if len(rows) < scanPage {
			return nil
		}
		after = rows[len(rows)-1].seq
	}
}

func (r *Repo) exec(ctx context.Context, sql string, args ...any) (int, error) {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, backendError("delete documents", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repo) execBatch(ctx context.Context, batch *pgx.Batch) (err error) {
	results := r.db.SendBatch(ctx, batch)
	defer func() {
		if cerr := results.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	for i := range batch.Len() {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}
	return nil
}

func withoutEmbedding(only bool) string {
	if only {
		return " AND embedding IS NULL"
	}
	return ""
}

// vectorArg maps an absent embedding to SQL NULL.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func encodeMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("meta is not JSON-encodable: %w: %w", domain.ErrConfiguration, err)
	}
	return data, nil
}
