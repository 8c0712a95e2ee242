package queue

// ForefrontOrder selects the tie-break among multiple forefront insertions.
type ForefrontOrder int

const (
	// ForefrontLIFO dequeues the most recently forefront-added request
	// first. This is the default: "prioritize what I just discovered".
	ForefrontLIFO ForefrontOrder = iota
	// ForefrontFIFO keeps insertion order among forefront requests while
	// still placing all of them ahead of tail requests.
	ForefrontFIFO
)

// headCache is a bounded in-memory view of the front of the queue. It is a
// deque: forefront requests are pushed at the front, backend head listings
// are appended at the back. The known set prevents the same id from being
// queued twice. Not safe for concurrent use; the queue's mutex guards it.
type headCache struct {
	ids      []string
	known    map[string]struct{}
	capacity int
	order    ForefrontOrder

	// frontLen counts ids in the forefront zone at the head of the deque,
	// used only for the FIFO tie-break.
	frontLen int
}

func newHeadCache(capacity int, order ForefrontOrder) *headCache {
	return &headCache{
		known:    make(map[string]struct{}),
		capacity: capacity,
		order:    order,
	}
}

func (h *headCache) len() int { return len(h.ids) }

func (h *headCache) has(id string) bool {
	_, ok := h.known[id]
	return ok
}

// pushFront inserts a forefront id. Reports false when the id is already
// cached. Forefront pushes ignore the capacity bound: they exist precisely so
// a just-added request is fetchable before the backend reflects it.
func (h *headCache) pushFront(id string) bool {
	if h.has(id) {
		return false
	}
	at := 0
	if h.order == ForefrontFIFO {
		at = h.frontLen
	}
	h.ids = append(h.ids, "")
	copy(h.ids[at+1:], h.ids[at:])
	h.ids[at] = id
	h.known[id] = struct{}{}
	h.frontLen++
	return true
}

// pushBack appends an id from a backend head listing. Reports false when the
// id is already cached or the cache is full.
func (h *headCache) pushBack(id string) bool {
	if h.has(id) {
		return false
	}
	if h.capacity > 0 && len(h.ids) >= h.capacity {
		return false
	}
	h.ids = append(h.ids, id)
	h.known[id] = struct{}{}
	return true
}

// pop removes and returns the next id to dispatch.
func (h *headCache) pop() (string, bool) {
	if len(h.ids) == 0 {
		return "", false
	}
	id := h.ids[0]
	h.ids = h.ids[1:]
	delete(h.known, id)
	if h.frontLen > 0 {
		h.frontLen--
	}
	return id, true
}

func (h *headCache) reset() {
	h.ids = nil
	h.known = make(map[string]struct{})
	h.frontLen = 0
}
