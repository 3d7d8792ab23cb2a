package lia

import (
	"errors"
	"sync"
)

var errNotFound = errors.New("cache entry not found")

// cache is a concurrency-safe memo of computations that may fail.
// Failures are cached too, so that repeatedly parsing the same bad
// input is cheap.
type cache[K comparable, V any] struct {
	m sync.Map
}

type cacheEntry[V any] struct {
	val V
	err error
}

// Get returns the cached value or error for k. If nothing is cached,
// Get returns errNotFound.
func (c *cache[K, V]) Get(k K) (V, error) {
	ent, ok := c.m.Load(k)
	if !ok {
		var zero V
		return zero, errNotFound
	}
	e := ent.(cacheEntry[V])
	return e.val, e.err
}

// Set records a successful result for k.
func (c *cache[K, V]) Set(k K, v V) {
	c.m.Store(k, cacheEntry[V]{val: v})
}

// SetErr records a failed result for k.
func (c *cache[K, V]) SetErr(k K, err error) {
	c.m.Store(k, cacheEntry[V]{err: err})
}
