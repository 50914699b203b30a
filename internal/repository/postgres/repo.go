// Package postgres stores documents and labels in PostgreSQL: metadata as
// JSONB, embeddings in a pgvector column. Filters compile to SQL over the
// JSONB column; the few that cannot are evaluated in-process.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docstore/internal/domain"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

const (
	backendName = "postgres"
	scanPage    = 500
	// undefinedTable is the SQLSTATE of a missing relation.
	undefinedTable = "42P01"
)

// querier is the consumer interface for a pgx pool (ISP).
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
}

// Repo implements the document and label backends over PostgreSQL.
type Repo struct {
	db     querier
	metric similarity.Metric
	dim    int
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	ensured map[string]struct{}
}

// New creates a PostgreSQL repository. Tables are created on first write.
func New(db querier, metric similarity.Metric, dim int, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{
		db:      db,
		metric:  metric,
		dim:     dim,
		logger:  logger,
		ensured: make(map[string]struct{}),
	}
}

// WithTablePrefix prepends prefix to every table name.
func (r *Repo) WithTablePrefix(prefix string) *Repo {
	r.prefix = prefix
	return r
}

// Metric returns the similarity metric.
func (r *Repo) Metric() similarity.Metric { return r.metric }

// Dimension returns the embedding dimension.
func (r *Repo) Dimension() int { return r.dim }

// Ping checks connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// DeleteIndex drops the document and label tables of index.
func (r *Repo) DeleteIndex(ctx context.Context, index string) error {
	if err := validateIndex(index); err != nil {
		return err
	}
	sql := fmt.Sprintf("DROP TABLE IF EXISTS %s, %s", r.docTable(index), r.labelTable(index))
	if _, err := r.db.Exec(ctx, sql); err != nil {
		return backendError("drop tables", err)
	}

	r.mu.Lock()
	delete(r.ensured, r.docTable(index))
	delete(r.ensured, r.labelTable(index))
	r.mu.Unlock()

	r.logger.Info("index deleted", zap.String("index", index))
	return nil
}

// --- Tables ---

func (r *Repo) docTable(index string) string {
	return pgx.Identifier{r.prefix + index + "_documents"}.Sanitize()
}

func (r *Repo) labelTable(index string) string {
	return pgx.Identifier{r.prefix + index + "_labels"}.Sanitize()
}

// vectorOps picks the HNSW operator class matching the metric.
func (r *Repo) vectorOps() string {
	switch r.metric {
	case similarity.DotProduct:
		return "vector_ip_ops"
	case similarity.L2:
		return "vector_l2_ops"
	default:
		return "vector_cosine_ops"
	}
}

// distanceOp is the pgvector operator ORDER BY ranks with, ascending.
func (r *Repo) distanceOp() string {
	switch r.metric {
	case similarity.DotProduct:
		return "<#>"
	case similarity.L2:
		return "<->"
	default:
		return "<=>"
	}
}

// rawScore converts a pgvector distance into the metric's similarity:
// <=> is 1-cos, <#> is the negated inner product, <-> is Euclidean.
func (r *Repo) rawScore(distance float64) float64 {
	switch r.metric {
	case similarity.DotProduct, similarity.L2:
		return -distance
	default:
		return 1 - distance
	}
}

func (r *Repo) docSchema(index string) []string {
	table := r.docTable(index)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq bigserial NOT NULL,
	id text PRIMARY KEY,
	content text NOT NULL,
	meta jsonb NOT NULL DEFAULT '{}'::jsonb,
	embedding vector(%d)
)`, table, r.dim),
		fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (seq)",
			pgx.Identifier{r.prefix + index + "_documents_seq"}.Sanitize(), table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (meta jsonb_path_ops)",
			pgx.Identifier{r.prefix + index + "_documents_meta"}.Sanitize(), table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s)",
			pgx.Identifier{r.prefix + index + "_documents_embedding"}.Sanitize(), table, r.vectorOps()),
	}
}

func (r *Repo) labelSchema(index string) []string {
	return []string{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq bigserial NOT NULL,
	id text PRIMARY KEY,
	query text NOT NULL,
	body jsonb NOT NULL
)`, r.labelTable(index))}
}

// ensure runs schema statements once per table and process.
func (r *Repo) ensure(ctx context.Context, table string, stmts []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ensured[table]; ok {
		return nil
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return backendError("create schema "+table, err)
		}
	}
	r.ensured[table] = struct{}{}
	r.logger.Info("table ensured", zap.String("table", table))
	return nil
}

// validateIndex restricts names to [A-Za-z0-9_-]; table names are derived from them.
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

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}

func backendError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrBackend, err)
}

// parseSeq decodes a keyset cursor: the seq of the last returned row.
func parseSeq(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid cursor %q: %w", cursor, domain.ErrConfiguration)
	}
	return n, nil
}
