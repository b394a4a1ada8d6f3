package store

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cosmopolite/cosmopolite/server/store/types"
)

// lookupCache is a bounded in-memory cache in front of the adapter. It is never
// the source of truth: a nil or disabled cache misses every lookup.
type lookupCache[K comparable, V any] struct {
	lru *lru.Cache[K, V]
}

func newLookupCache[K comparable, V any](size int) *lookupCache[K, V] {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[K, V](size)
	if err != nil {
		return nil
	}
	return &lookupCache[K, V]{lru: c}
}

func (c *lookupCache[K, V]) Get(key K) (V, bool) {
	if c == nil {
		var zero V
		return zero, false
	}
	return c.lru.Get(key)
}

func (c *lookupCache[K, V]) Add(key K, val V) {
	if c != nil {
		c.lru.Add(key, val)
	}
}

func (c *lookupCache[K, V]) Remove(key K) {
	if c != nil {
		c.lru.Remove(key)
	}
}

func (c *lookupCache[K, V]) Purge() {
	if c != nil {
		c.lru.Purge()
	}
}

func (c *lookupCache[K, V]) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

var (
	// Subject id -> subject. Name and restrictions of a subject never change.
	subjectCache *lookupCache[string, types.Subject]
	// Account -> profile id. Checked against the adapter on every hit.
	accountCache *lookupCache[string, types.Uid]
)

func initCaches(size int) {
	subjectCache = newLookupCache[string, types.Subject](size)
	accountCache = newLookupCache[string, types.Uid](size)
}

func purgeCaches() {
	subjectCache.Purge()
	accountCache.Purge()
}
