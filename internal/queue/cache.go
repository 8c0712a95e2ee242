package queue

import "container/list"

// cacheEntry is what the queue remembers about a unique key without asking
// the backend: the assigned id and whether the request was already handled.
// Entries only ever move forward (absent -> present -> handled); a stale
// "not handled" entry is harmless because the backend insert is idempotent,
// but "handled" is recorded only after backend confirmation.
type cacheEntry struct {
	id      string
	handled bool
}

// requestCache memoizes uniqueKey -> cacheEntry with LRU eviction so that
// repeated adds of known URLs (the common case during link discovery) skip
// the backend round trip. Not safe for concurrent use; the queue's mutex
// guards it.
type requestCache struct {
	maxSize int
	order   *list.List // front = most recently used, values are *cacheItem
	items   map[string]*list.Element
}

type cacheItem struct {
	key   string
	entry cacheEntry
}

func newRequestCache(maxSize int) *requestCache {
	return &requestCache{
		maxSize: maxSize,
		order:   list.New(),
		items:   make(map[string]*list.Element),
	}
}

func (c *requestCache) get(key string) (cacheEntry, bool) {
	elem, ok := c.items[key]
	if !ok {
		return cacheEntry{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheItem).entry, true
}

func (c *requestCache) put(key string, entry cacheEntry) {
	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*cacheItem)
		// Handled is monotonic; never transition backward.
		if item.entry.handled && !entry.handled {
			entry.handled = true
		}
		item.entry = entry
		c.order.MoveToFront(elem)
		return
	}

	c.items[key] = c.order.PushFront(&cacheItem{key: key, entry: entry})
	if c.maxSize > 0 && c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}

func (c *requestCache) len() int { return c.order.Len() }

// boundedIDSet is a fixed-capacity set with FIFO eviction, used for the
// recently-handled ids: old entries may age out, which at worst causes one
// redundant backend lookup, never a double dispatch.
type boundedIDSet struct {
	capacity int
	fifo     []string
	set      map[string]struct{}
}

func newBoundedIDSet(capacity int) *boundedIDSet {
	return &boundedIDSet{
		capacity: capacity,
		set:      make(map[string]struct{}),
	}
}

func (s *boundedIDSet) add(id string) {
	if _, ok := s.set[id]; ok {
		return
	}
	if s.capacity > 0 && len(s.fifo) >= s.capacity {
		oldest := s.fifo[0]
		s.fifo = s.fifo[1:]
		delete(s.set, oldest)
	}
	s.fifo = append(s.fifo, id)
	s.set[id] = struct{}{}
}

func (s *boundedIDSet) has(id string) bool {
	_, ok := s.set[id]
	return ok
}
