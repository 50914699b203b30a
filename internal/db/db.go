// Package db defines the Redis-family storage contracts shared by the
// document repository and the embedding cache.
package db

import (
	"context"
	"time"
)

// Store is everything the rueidis store offers. Consumers declare the
// narrow subset they call.
//
//nolint:interfacebloat // union of the contracts below
type Store interface {
	Pinger
	Documents
	KVStore
	IndexManager
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JSONSetItem is one JSON.SET of a pipelined write.
type JSONSetItem struct {
	Key  string
	Path string
	Data []byte
}

// Documents stores JSON documents by key.
type Documents interface {
	JSONSetMulti(ctx context.Context, items []JSONSetItem) error
	// JSONMGet reads path from every key; missing keys yield nil.
	JSONMGet(ctx context.Context, keys []string, path string) ([][]byte, error)
	Del(ctx context.Context, keys ...string) (int, error)
}

// KVStore holds opaque values, e.g. cached embedding vectors.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// IndexManager creates and drops FT indexes.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	DropIndex(ctx context.Context, name string, deleteDocs bool) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Searcher queries FT indexes.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchList(ctx context.Context, q *ListQuery) (*SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}
