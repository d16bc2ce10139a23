// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdx

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// A ResultCache memoizes analysis results keyed by caller-chosen keys
// (typically a file path plus size and mtime, or a content hash).
// Entries expire after a TTL and are evicted least-recently-used beyond
// the capacity. Concurrent requests for the same key share a single
// analysis instead of racing.
type ResultCache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
	capacity int
	ttl      time.Duration
	hits     int64
	misses   int64

	group singleflight.Group

	// now is replaceable for expiry tests.
	now func() time.Time
}

type resultEntry struct {
	key     string
	res     *AnalysisResult
	expires time.Time
}

// NewResultCache returns a cache holding up to capacity results for at
// most ttl each. A zero ttl means entries never expire by age.
func NewResultCache(capacity int, ttl time.Duration) *ResultCache {
	if capacity <= 0 {
		capacity = 128
	}
	return &ResultCache{
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the cached result for key, if present and unexpired.
func (c *ResultCache) Get(key string) (*AnalysisResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := elem.Value.(*resultEntry)
	if c.ttl > 0 && c.now().After(entry.expires) {
		c.lru.Remove(elem)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.lru.MoveToFront(elem)
	c.hits++
	return entry.res, true
}

func (c *ResultCache) store(key string, res *AnalysisResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value = &resultEntry{key: key, res: res, expires: c.now().Add(c.ttl)}
		c.lru.MoveToFront(elem)
		return
	}
	elem := c.lru.PushFront(&resultEntry{key: key, res: res, expires: c.now().Add(c.ttl)})
	c.entries[key] = elem
	for c.lru.Len() > c.capacity {
		back := c.lru.Back()
		c.lru.Remove(back)
		delete(c.entries, back.Value.(*resultEntry).key)
	}
}

// Do returns the cached result for key or runs analyze to produce it.
// Concurrent calls with the same key wait for one shared analysis;
// errors are returned to every waiter and not cached.
func (c *ResultCache) Do(ctx context.Context, key string, analyze func(context.Context) (*AnalysisResult, error)) (*AnalysisResult, error) {
	if res, ok := c.Get(key); ok {
		return res, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Recheck under the flight: a previous flight may have filled
		// the entry while this caller was queueing.
		if res, ok := c.Get(key); ok {
			return res, nil
		}
		res, err := analyze(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*AnalysisResult), nil
}

// Invalidate drops the entry for key, if any.
func (c *ResultCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.lru.Remove(elem)
		delete(c.entries, key)
	}
	c.group.Forget(key)
}

// CacheStats reports hit and miss counts plus current size.
type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int
}

// Stats returns a snapshot of the cache counters.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Size: c.lru.Len()}
}
