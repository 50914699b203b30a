package filter

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache memoizes normalized trees keyed by the canonical form of the raw filter.
// A nil *Cache normalizes on every call. Hits are best-effort: admission is
// probabilistic and entries may be evicted at any time.
type Cache struct {
	cache    *ristretto.Cache[string, Node]
	opts     []Option
	onLookup func(hit bool)
}

// NewCache creates a cache holding up to maxEntries trees. opts are applied to
// every normalization performed through the cache. onLookup may be nil.
func NewCache(maxEntries int64, onLookup func(hit bool), opts ...Option) (*Cache, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("filter cache size must be positive, got %d", maxEntries)
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, Node]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create filter cache: %w", err)
	}
	return &Cache{cache: c, opts: opts, onLookup: onLookup}, nil
}

// Normalize returns the cached tree for raw or normalizes and stores it.
// Errors are not cached.
func (c *Cache) Normalize(raw map[string]any) (Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if c == nil {
		return Normalize(raw)
	}

	key := CanonicalKey(raw)
	if n, ok := c.cache.Get(key); ok {
		c.observe(true)
		return n, nil
	}
	c.observe(false)

	n, err := Normalize(raw, c.opts...)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, n, 1)
	return n, nil
}

// Uncached normalizes on every call with the given options.
type Uncached []Option

// Normalize implements the same contract as (*Cache).Normalize.
func (u Uncached) Normalize(raw map[string]any) (Node, error) {
	return Normalize(raw, u...)
}

// Close releases the cache goroutines.
func (c *Cache) Close() {
	if c != nil {
		c.cache.Close()
	}
}

func (c *Cache) observe(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}
