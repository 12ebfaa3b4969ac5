// Package lrucache contains a fixed-capacity cache with least recently used
// eviction.
package lrucache

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/bluele/gcache"
)

// DefaultSize is the capacity of the cosmetic artifact caches.
const DefaultSize = 24

// Config is the configuration structure for a cache.
type Config struct {
	// Size is the maximum number of entries.  Values less than one are
	// replaced with [DefaultSize].
	Size int
}

// Cache is a strict LRU cache.  It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	items gcache.Cache
	size  int
}

// New returns a new initialized cache.
func New[K comparable, V any](conf *Config) (c *Cache[K, V]) {
	size := conf.Size
	if size < 1 {
		size = DefaultSize
	}

	return &Cache[K, V]{
		items: gcache.New(size).LRU().Build(),
		size:  size,
	}
}

// Put stores val under key, evicting the least recently used entry when the
// cache is full.
func (c *Cache[K, V]) Put(key K, val V) {
	err := c.items.Set(key, val)
	if err != nil {
		// Shouldn't happen, since we don't set a serialization function.
		panic(fmt.Errorf("lrucache: setting cache item: %w", err))
	}
}

// Get returns the value stored under key and marks it as recently used.
func (c *Cache[K, V]) Get(key K) (val V, ok bool) {
	v, err := c.items.Get(key)
	if err != nil {
		if !errors.Is(err, gcache.KeyNotFoundError) {
			// Shouldn't happen, since we don't set a loader function.
			panic(fmt.Errorf("lrucache: getting cache item: %w", err))
		}

		return val, false
	}

	// V may be an interface type.
	if v == nil {
		return val, true
	}

	return v.(V), true
}

// Has returns true if key is stored in the cache.  It does not change the
// recency of the entry.
func (c *Cache[K, V]) Has(key K) (ok bool) {
	return c.items.Has(key)
}

// Remove deletes the entry stored under key.
func (c *Cache[K, V]) Remove(key K) (ok bool) {
	return c.items.Remove(key)
}

// Clear removes all entries.
func (c *Cache[K, V]) Clear() {
	c.items.Purge()
}

// Len returns the number of stored entries.
func (c *Cache[K, V]) Len() (n int) {
	const checkExpired = false

	return c.items.Len(checkExpired)
}

// Cap returns the capacity of the cache.
func (c *Cache[K, V]) Cap() (n int) {
	return c.size
}
