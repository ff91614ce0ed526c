package schema

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	schema *Schema
	ok     bool
}

// Cached memoizes lookups of an inner provider, including misses. Errors are
// not cached.
type Cached struct {
	inner Provider
	cache *lru.Cache[string, cacheEntry]
}

func NewCached(inner Provider, size int) (*Cached, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Lookup(ctx context.Context, componentType string) (*Schema, bool, error) {
	if e, ok := c.cache.Get(componentType); ok {
		return e.schema, e.ok, nil
	}
	s, ok, err := c.inner.Lookup(ctx, componentType)
	if err != nil {
		return nil, false, err
	}
	c.cache.Add(componentType, cacheEntry{schema: s, ok: ok})
	return s, ok, nil
}

// Len reports the number of cached types.
func (c *Cached) Len() int { return c.cache.Len() }
