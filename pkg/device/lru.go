package device

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-pulsar-mapper/pkg/c8y"
)

// lruEntry is the internal structure stored in the recency list.
type lruEntry struct {
	key string
	ref *c8y.ManagedObjectRef
}

// lruCache is a thread-safe, fixed-size device cache with least-recently-used
// eviction. On a miss it fetches from its fallback and caches the result.
type lruCache struct {
	maxSize  int
	fallback Fetcher

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

func newLRUCache(maxSize int, fallback Fetcher) (*lruCache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return &lruCache{
		maxSize:  maxSize,
		fallback: fallback,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}, nil
}

// Fetch returns the cached reference for the key, moving it to the front of
// the recency list. On a miss it consults the fallback, caches the result
// and evicts the least recently used entry if the cache is full.
func (c *lruCache) Fetch(ctx context.Context, key string) (*c8y.ManagedObjectRef, error) {
	c.mu.Lock()
	if elem, ok := c.items[key]; ok {
		c.ll.MoveToFront(elem)
		c.mu.Unlock()
		return elem.Value.(*lruEntry).ref, nil
	}
	c.mu.Unlock()

	if c.fallback == nil {
		return nil, fmt.Errorf("device %q not cached and no fallback is configured", key)
	}

	ref, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another worker may have resolved the same device while we were
	// fetching; keep whichever entry got there first.
	if elem, ok := c.items[key]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(*lruEntry).ref, nil
	}

	elem := c.ll.PushFront(&lruEntry{key: key, ref: ref})
	c.items[key] = elem
	if c.ll.Len() > c.maxSize {
		c.evict()
	}
	return ref, nil
}

// evict removes the least recently used entry. Callers hold the mutex.
func (c *lruCache) evict() {
	oldest := c.ll.Back()
	if oldest != nil {
		entry := c.ll.Remove(oldest).(*lruEntry)
		delete(c.items, entry.key)
	}
}

// Close releases the rest of the chain.
func (c *lruCache) Close() error {
	if c.fallback != nil {
		return c.fallback.Close()
	}
	return nil
}
