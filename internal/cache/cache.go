/*
   Copyright The h5viewer Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package cache implements the listing and metadata caches (§4.3 of the
// data-access engine: a directory listing cache and a node metadata cache,
// each keyed by container+path+mode fingerprint and expired on a fixed
// TTL rather than invalidated explicitly, mirroring the freshness-token
// model the storage adapters already use.
//
// The in-memory structure is the teacher's directoryCache
// (cache/cache.go): a github.com/golang/groupcache/lru.Cache guarded by a
// mutex. Concurrent misses on the same key are coalesced with
// golang.org/x/sync/singleflight so a cold cache under load triggers one
// walker call per key, not one per request.
package cache

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	value   interface{}
	expires time.Time
}

// TTLCache is a fixed-capacity, fixed-TTL cache. Expired entries are
// dropped lazily on Get rather than swept actively.
type TTLCache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	ttl   time.Duration
	group singleflight.Group
}

// New returns a TTLCache holding at most maxEntries values, each valid for
// ttl after insertion.
func New(maxEntries int, ttl time.Duration) *TTLCache {
	return &TTLCache{lru: lru.New(maxEntries), ttl: ttl}
}

// Get returns the cached value for key if present and not yet expired.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if time.Now().After(e.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with a fresh TTL, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{value: value, expires: time.Now().Add(c.ttl)})
}

// Invalidate drops key regardless of its TTL, used when a caller observes
// that the underlying storage object changed.
func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// GetOrLoad returns the fresh cached value for key, or calls load exactly
// once across however many goroutines call GetOrLoad(key, ...)
// concurrently, caching and returning its result.
func (c *TTLCache) GetOrLoad(key string, load func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		val, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, val)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListingTTL and MetaTTL are the cache lifetimes named in §4.3: listings
// churn with directory contents and are held briefly, metadata is held
// longer since a dataset's shape/dtype essentially never changes without
// the object itself changing (which invalidates via the freshness token).
const (
	ListingTTL = 30 * time.Second
	MetaTTL    = 5 * time.Minute
)

// NewListingCache returns the C3 listing cache.
func NewListingCache(maxEntries int) *TTLCache {
	return New(maxEntries, ListingTTL)
}

// NewMetaCache returns the C3 metadata cache.
func NewMetaCache(maxEntries int) *TTLCache {
	return New(maxEntries, MetaTTL)
}
