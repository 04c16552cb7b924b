package identity

import (
	"sync"
	"sync/atomic"
)

// entry is a single cached mapping in the eviction list.
type entry struct {
	key    string
	userID string
	next   *entry
}

// reset clears the entry state for reuse
func (e *entry) reset() {
	e.key = ""
	e.userID = ""
	e.next = nil
}

// boundedCache maps cache keys to user ids.
// For bounded mode (maxSize > 0): uses a linked list with LIFO eviction and sync.Pool for entries
// For unbounded mode (maxSize <= 0): plain map entries, no eviction, no size limit
type boundedCache struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	head      *entry       // head of linked list (most recently added), bounded mode only
	maxSize   int          // maximum number of mappings to keep (0 or negative = UNBOUNDED)
	size      atomic.Int64 // current number of entries (atomic)
	entryPool sync.Pool
}

func newBoundedCache(maxSize int) *boundedCache {
	c := &boundedCache{
		entries: make(map[string]*entry),
		maxSize: maxSize,
	}
	if c.maxSize > 0 {
		c.entryPool = sync.Pool{
			New: func() interface{} {
				return &entry{}
			},
		}
	}
	return c
}

// get returns the cached user id for key, if present.
func (c *boundedCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	return e.userID, true
}

// put records a mapping, evicting the oldest entry at capacity.
func (c *boundedCache) put(key, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.entries[key]; exists {
		// Refresh in place; position in the eviction list is unchanged.
		e.userID = userID
		return
	}

	if c.maxSize > 0 {
		// BOUNDED MODE: linked list with LIFO eviction
		if len(c.entries) >= c.maxSize {
			c.evictLIFO()
		}

		e := c.entryPool.Get().(*entry)
		e.key = key
		e.userID = userID
		e.next = c.head

		c.head = e
		c.entries[key] = e
	} else {
		// UNBOUNDED MODE: map entry only, no list
		c.entries[key] = &entry{key: key, userID: userID}
	}
	c.size.Add(1)
}

// remove drops a mapping if present.
func (c *boundedCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists {
		return
	}
	delete(c.entries, key)

	if c.maxSize > 0 {
		if c.head == e {
			c.head = e.next
		} else {
			current := c.head
			for current != nil && current.next != e {
				current = current.next
			}
			if current != nil {
				current.next = e.next
			}
		}
		e.reset()
		c.entryPool.Put(e)
	}
	c.size.Add(-1)
}

// evictLIFO removes the least recently added entry (tail of list).
// Must be called with c.mu.Lock() held.
func (c *boundedCache) evictLIFO() {
	if len(c.entries) == 0 || c.head == nil {
		return
	}

	var prev *entry
	current := c.head

	if current.next == nil {
		delete(c.entries, current.key)
		current.reset()
		c.entryPool.Put(current)
		c.head = nil
		c.size.Add(-1)
		return
	}

	for current.next != nil {
		prev = current
		current = current.next
	}

	if prev != nil {
		prev.next = nil
		delete(c.entries, current.key)
		current.reset()
		c.entryPool.Put(current)
		c.size.Add(-1)
	}
}

// len returns the current number of cached mappings.
func (c *boundedCache) len() int64 {
	return c.size.Load()
}
