package postgres

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/kailas-cloud/docstore/internal/domain/filter"
	"github.com/kailas-cloud/docstore/internal/domain/similarity"
)

// mockDB implements querier for tests.
type mockDB struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	batchFn    func(ctx context.Context, b *pgx.Batch) error
	pingFn     func(ctx context.Context) error

	execs   []string
	batches []*pgx.Batch
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.execs = append(m.execs, sql)
	if m.execFn != nil {
		return m.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, sql, args...)
	}
	return &fakeRows{}, nil
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFn != nil {
		return m.queryRowFn(ctx, sql, args...)
	}
	return fakeRow{values: []any{int64(0)}}
}

func (m *mockDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	m.batches = append(m.batches, b)
	var err error
	if m.batchFn != nil {
		err = m.batchFn(ctx, b)
	}
	return &fakeBatch{err: err}
}

func (m *mockDB) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

// fakeRows serves fixed rows; values are assigned to Scan destinations by reflection.
type fakeRows struct {
	rows [][]any
	pos  int
	err  error
}

func (f *fakeRows) Close()                                       {}
func (f *fakeRows) Err() error                                   { return f.err }
func (f *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (f *fakeRows) RawValues() [][]byte                          { return nil }
func (f *fakeRows) Conn() *pgx.Conn                              { return nil }

func (f *fakeRows) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeRows) Values() ([]any, error) { return f.rows[f.pos-1], nil }

func (f *fakeRows) Scan(dest ...any) error {
	return assign(dest, f.rows[f.pos-1])
}

type fakeRow struct {
	values []any
	err    error
}

func (f fakeRow) Scan(dest ...any) error {
	if f.err != nil {
		return f.err
	}
	return assign(dest, f.values)
}

type fakeBatch struct {
	err error
}

func (f *fakeBatch) Exec() (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}
func (f *fakeBatch) Query() (pgx.Rows, error) { return &fakeRows{}, f.err }
func (f *fakeBatch) QueryRow() pgx.Row        { return fakeRow{err: f.err} }
func (f *fakeBatch) Close() error             { return nil }

func assign(dest, values []any) error {
	if len(dest) != len(values) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(values[i]))
	}
	return nil
}

// docValues is one row of docColumns.
func docValues(seq int64, id, meta string, emb ...float32) []any {
	var v *pgvector.Vector
	if len(emb) > 0 {
		vec := pgvector.NewVector(emb)
		v = &vec
	}
	return []any{seq, id, "text of " + id, []byte(meta), v}
}

func undefinedTableErr() error {
	return &pgconn.PgError{Code: undefinedTable, Message: `relation "x" does not exist`}
}

func newTestRepo(t *testing.T) (*Repo, *mockDB) {
	t.Helper()
	m := &mockDB{}
	return New(m, similarity.Cosine, 3, nil), m
}

func mustNode(t *testing.T, raw map[string]any, opts ...filter.Option) filter.Node {
	t.Helper()
	n, err := filter.Normalize(raw, opts...)
	if err != nil {
		t.Fatalf("normalize %v: %v", raw, err)
	}
	return n
}
