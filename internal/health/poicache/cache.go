// Package poicache implements the POI resolver cache: a
// (indexer-url, deployment, block) → POI map with a 20-minute TTL.
package poicache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/graphops/query-gateway/internal/models"
)

// TTL is the default cache entry lifetime.
const TTL = 20 * time.Minute

// maxEntries bounds cache size; entries past the cap are evicted LRU.
const maxEntries = 1 << 16

// Key identifies one cached POI lookup.
type Key struct {
	URL        string
	Deployment models.DeploymentID
	Block      uint64
}

// POI is a 32-byte proof-of-indexing hash.
type POI [32]byte

// Cache is a many-reader TTL cache over Key → POI. expirable.LRU guards both
// reads and Add with one internal mutex.
type Cache struct {
	lru *lru.LRU[Key, POI]
}

// New creates a Cache with the default TTL.
func New() *Cache {
	return NewWithTTL(TTL)
}

// NewWithTTL creates a Cache with a custom entry lifetime.
func NewWithTTL(ttl time.Duration) *Cache {
	return &Cache{lru: lru.NewLRU[Key, POI](maxEntries, nil, ttl)}
}

// Get returns the cached POI for key if present and unexpired. An expired
// entry reads as a miss; the underlying LRU removes expired entries in a
// periodic background sweep.
func (c *Cache) Get(key Key) (POI, bool) {
	return c.lru.Get(key)
}

// Set caches poi for key, resetting its TTL.
func (c *Cache) Set(key Key, poi POI) {
	c.lru.Add(key, poi)
}

// GetMany looks up every key in keys, returning only the hits.
func (c *Cache) GetMany(keys []Key) map[Key]POI {
	out := make(map[Key]POI, len(keys))
	for _, k := range keys {
		if v, ok := c.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// SetMany merges fresh results into the cache.
func (c *Cache) SetMany(values map[Key]POI) {
	for k, v := range values {
		c.Set(k, v)
	}
}
