package runid

import (
	"container/list"
	"sync"
)

// DefaultCacheCap is the soft cap on cached run-ID handles.
const DefaultCacheCap = 512

// Cache maps run IDs to record handles so repeated tracking updates skip the
// lookup round trip. Eviction is LRU at a soft cap; callers remove entries
// that prove stale on use.
type Cache struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key    string
	handle string
}

// NewCache creates a Cache. A non-positive cap falls back to DefaultCacheCap.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCap
	}
	return &Cache{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Put records the store handle for a run ID, evicting the least recently
// used entry once the cap is exceeded.
func (c *Cache) Put(runID, handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[runID]; ok {
		el.Value.(*cacheEntry).handle = handle
		c.order.MoveToFront(el)
		return
	}

	c.items[runID] = c.order.PushFront(&cacheEntry{key: runID, handle: handle})
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Get returns the cached handle for a run ID. A miss is non-fatal; callers
// fall back to a store lookup.
func (c *Cache) Get(runID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[runID]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).handle, true
}

// Remove drops a run ID from the cache, typically after its handle proved
// stale against the store.
func (c *Cache) Remove(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[runID]; ok {
		c.order.Remove(el)
		delete(c.items, runID)
	}
}

// Len reports the number of cached handles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
