package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/docstore/internal/db"
)

const defaultVectorField = "__vector"

// SearchKNN returns the K nearest documents to q.Vector that match q.Filter.
// Scores are raw server distances, nearest first.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	switch {
	case q.IndexName == "":
		return nil, errors.New("index name is required")
	case len(q.Vector) == 0:
		return nil, errors.New("vector is required")
	case q.K <= 0:
		return nil, errors.New("k must be positive")
	}

	vecField := q.VectorField
	if vecField == "" {
		vecField = defaultVectorField
	}
	pre := "*"
	if q.Filter != "" && q.Filter != "*" {
		pre = "(" + q.Filter + ")"
	}
	query := fmt.Sprintf("%s=>[KNN %d @%s $BLOB AS %s]", pre, q.K, vecField, db.ScoreField)

	args := []string{q.IndexName, query}
	if len(q.ReturnFields) > 0 {
		args = appendReturn(args, append(slices.Clip(q.ReturnFields), db.ScoreField)...)
	}
	args = append(args,
		"SORTBY", db.ScoreField,
		"LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", vectorToBytes(q.Vector),
	)

	raw, err := s.search(ctx, args)
	if err != nil {
		return nil, err
	}
	res, err := parseSearchReply(raw)
	if err != nil {
		return nil, err
	}
	for i := range res.Entries {
		takeScore(&res.Entries[i])
	}
	return res, nil
}

// SearchList pages through the documents matching q.Query ("*" when empty).
func (s *Store) SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, errors.New("index name is required")
	}
	args := []string{q.IndexName, orAll(q.Query)}
	if len(q.ReturnFields) > 0 {
		args = appendReturn(args, q.ReturnFields...)
	}
	if q.SortBy != "" {
		args = append(args, "SORTBY", q.SortBy, "ASC")
	}
	args = append(args, "LIMIT", strconv.Itoa(q.Offset), strconv.Itoa(q.Limit))

	raw, err := s.search(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseSearchReply(raw)
}

// SearchCount returns how many documents match query, without fetching any.
func (s *Store) SearchCount(ctx context.Context, index, query string) (int, error) {
	raw, err := s.search(ctx, []string{index, orAll(query), "LIMIT", "0", "0"})
	if err != nil {
		return 0, err
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return int(total), nil
}

// search runs FT.SEARCH with DIALECT 2 appended. A missing index becomes
// db.ErrIndexNotFound.
func (s *Store) search(ctx context.Context, args []string) ([]rueidis.RedisMessage, error) {
	args = append(args, "DIALECT", "2")
	raw, err := s.do(ctx, s.b().Arbitrary("FT.SEARCH").Args(args...).Build()).ToArray()
	switch {
	case err == nil:
		return raw, nil
	case isRedisErr(err, "no such index"), isRedisErr(err, errUnknownIndex):
		return nil, db.ErrIndexNotFound
	default:
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
}

func appendReturn(args []string, fields ...string) []string {
	args = append(args, "RETURN", strconv.Itoa(len(fields)))
	return append(args, fields...)
}

func orAll(query string) string {
	if query == "" {
		return "*"
	}
	return query
}

// takeScore moves the yielded distance from Fields into Score.
func takeScore(e *db.SearchEntry) {
	raw, ok := e.Fields[db.ScoreField]
	if !ok {
		return
	}
	if d, err := strconv.ParseFloat(raw, 64); err == nil {
		e.Score = d
	}
	delete(e.Fields, db.ScoreField)
}

// parseSearchReply decodes the RESP2 reply [total, key1, fields1, key2, fields2, ...].
// Malformed entries are skipped.
func parseSearchReply(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	res := &db.SearchResult{Total: int(total)}
	if total == 0 {
		return res, nil
	}

	res.Entries = make([]db.SearchEntry, 0, (len(raw)-1)/2)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		pairs, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		res.Entries = append(res.Entries, db.SearchEntry{Key: key, Fields: fieldMap(pairs)})
	}
	return res, nil
}

func fieldMap(pairs []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for j := 0; j+1 < len(pairs); j += 2 {
		name, nerr := pairs[j].ToString()
		value, verr := pairs[j+1].ToString()
		if nerr == nil && verr == nil {
			m[name] = value
		}
	}
	return m
}

// vectorToBytes encodes v as little-endian FLOAT32, the KNN $BLOB format.
func vectorToBytes(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return string(buf)
}
