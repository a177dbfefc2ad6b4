package triple

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// valueCache is a bounded cache of "current value at (E,A)" lookups in
// front of the triple store's read path, standing in for the teacher's
// bespoke adaptive replacement cache with a real library
// (github.com/hashicorp/golang-lru/v2). Entries are evicted on write
// rather than updated in place, since CurrentValue re-derives the
// winning version from the index on the next read.
type valueCache struct {
	lru *lru.Cache[string, Triple]
}

func newValueCache(size int) *valueCache {
	c, _ := lru.New[string, Triple](size)
	return &valueCache{lru: c}
}

func cacheKey(e EntityID, a Path) string {
	return string(e) + "\x00" + a.String()
}

func (c *valueCache) get(e EntityID, a Path) (Triple, bool) {
	return c.lru.Get(cacheKey(e, a))
}

func (c *valueCache) put(e EntityID, a Path, t Triple) {
	c.lru.Add(cacheKey(e, a), t)
}

func (c *valueCache) invalidate(e EntityID, a Path) {
	c.lru.Remove(cacheKey(e, a))
}
