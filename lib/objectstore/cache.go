// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"container/list"
	"sync"
)

// DefaultCacheBytes bounds the decoded-object cache when Options does
// not set one.
const DefaultCacheBytes = 64 << 20

// Fixed accounting overheads for cache entries, on top of payload
// bytes. Approximate, but keeps many tiny objects from escaping the
// bound.
const (
	cacheEntryOverhead = 96
	treeEntryOverhead  = 64
)

type cacheKind uint8

const (
	cacheBlob cacheKind = iota
	cacheTree
	cacheSize
)

type cacheKey struct {
	hash Hash
	kind cacheKind
}

type cacheItem struct {
	key   cacheKey
	value any
	cost  int64
}

// objectCache is a byte-bounded LRU over decoded objects. Objects are
// immutable, so entries never need invalidation. The mutex is held
// only for map and list manipulation; decoding happens outside it.
type objectCache struct {
	mu       sync.Mutex
	maxBytes int64
	used     int64
	order    *list.List
	items    map[cacheKey]*list.Element
}

// newObjectCache returns a cache bounded to maxBytes, or nil when
// maxBytes is not positive. A nil cache stores nothing.
func newObjectCache(maxBytes int64) *objectCache {
	if maxBytes <= 0 {
		return nil
	}
	return &objectCache{
		maxBytes: maxBytes,
		order:    list.New(),
		items:    make(map[cacheKey]*list.Element),
	}
}

func (c *objectCache) get(key cacheKey) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	element, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(element)
	return element.Value.(*cacheItem).value, true
}

func (c *objectCache) put(key cacheKey, value any, cost int64) {
	if c == nil {
		return
	}
	cost += cacheEntryOverhead
	if cost > c.maxBytes {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if element, ok := c.items[key]; ok {
		c.order.MoveToFront(element)
		return
	}
	c.items[key] = c.order.PushFront(&cacheItem{key: key, value: value, cost: cost})
	c.used += cost
	for c.used > c.maxBytes {
		oldest := c.order.Back()
		item := oldest.Value.(*cacheItem)
		c.order.Remove(oldest)
		delete(c.items, item.key)
		c.used -= item.cost
	}
}

func (c *objectCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
