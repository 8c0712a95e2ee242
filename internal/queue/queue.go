// Package queue implements a persistent, deduplicated request queue for
// crawlers. It composes a persistence backend with an in-memory head cache,
// in-progress tracking and a dedup cache to provide add/fetch/mark-handled/
// reclaim operations that survive restarts, never hand the same request to
// two consumers, and never process a unique key twice.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/masahif/quetadoru/internal/request"
	"github.com/masahif/quetadoru/internal/storage"
)

const (
	// Minimum number of ids requested from the backend per head query.
	defaultMinHeadLength = 100
	// The head query is sized to this multiple of the in-progress set.
	queryHeadBuffer = 3
	// Writes younger than this may not be visible to backend head queries.
	defaultConsistencyDelay = 10 * time.Second
	// Recently handled ids kept to filter stale head listings.
	defaultRecentlyHandledSize = 1000
	// Unique keys memoized to short-circuit redundant adds.
	defaultRequestCacheSize = 1_000_000
)

// Options configures a RequestQueue. The zero value is usable; the clock and
// sleep hooks exist so reconciliation behaviour is testable without real
// delays.
type Options struct {
	Logger *slog.Logger

	// Now and Sleep inject the clock. Defaults: time.Now and a
	// context-aware timer sleep.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// MinHeadLength is the smallest backend head query, default 100.
	MinHeadLength int
	// HeadCapacity bounds the head cache; 0 means twice MinHeadLength.
	HeadCapacity int
	// ConsistencyDelay is how long a backend write may stay invisible to
	// head queries before an empty result is trusted, default 10s.
	ConsistencyDelay time.Duration
	// RetryPolicy bounds reconciliation re-queries.
	RetryPolicy RetryPolicy
	// ForefrontOrder picks the tie-break among forefront inserts,
	// default ForefrontLIFO.
	ForefrontOrder ForefrontOrder
}

// AddOptions modifies a single add operation.
type AddOptions struct {
	// Forefront places the request at the front of the queue instead of the
	// tail, making it the next one fetched.
	Forefront bool
}

// ReclaimOptions modifies a reclaim operation.
type ReclaimOptions struct {
	// Forefront makes the reclaimed request immediately fetchable again;
	// otherwise it becomes eligible once the backend re-lists it.
	Forefront bool
}

// RequestQueue is the public queue. All methods are safe for concurrent use
// within one process; cross-process sharing requires a backend that
// serializes conflicting writes (the remote backend does, the local ones do
// not).
type RequestQueue struct {
	backend storage.Backend
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	minHeadLength    int
	consistencyDelay time.Duration
	retryPolicy      RetryPolicy

	mu              sync.Mutex
	head            *headCache
	inProgress      map[string]struct{}
	settling        map[string]struct{} // mark/reclaim backend call in flight
	reclaimed       map[string]struct{} // reclaimed tail-side, awaiting backend re-listing
	recentlyHandled *boundedIDSet
	cache           *requestCache
}

// Open creates a queue on top of the given backend.
func Open(backend storage.Backend, opts Options) *RequestQueue {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
	if opts.MinHeadLength <= 0 {
		opts.MinHeadLength = defaultMinHeadLength
	}
	if opts.HeadCapacity <= 0 {
		opts.HeadCapacity = 2 * opts.MinHeadLength
	}
	if opts.ConsistencyDelay <= 0 {
		opts.ConsistencyDelay = defaultConsistencyDelay
	}
	if opts.RetryPolicy.MaxAttempts <= 0 || opts.RetryPolicy.Delay == nil {
		opts.RetryPolicy = DefaultRetryPolicy()
	}

	return &RequestQueue{
		backend:          backend,
		logger:           opts.Logger,
		now:              opts.Now,
		sleep:            opts.Sleep,
		minHeadLength:    opts.MinHeadLength,
		consistencyDelay: opts.ConsistencyDelay,
		retryPolicy:      opts.RetryPolicy,
		head:             newHeadCache(opts.HeadCapacity, opts.ForefrontOrder),
		inProgress:       make(map[string]struct{}),
		settling:         make(map[string]struct{}),
		reclaimed:        make(map[string]struct{}),
		recentlyHandled:  newBoundedIDSet(defaultRecentlyHandledSize),
		cache:            newRequestCache(defaultRequestCacheSize),
	}
}

// AddRequest enqueues a request unless one with the same unique key already
// exists. The dedup cache short-circuits known keys without a backend write;
// on a miss the backend's insert-if-absent decides, and its "already existed"
// answer is treated exactly like a cache hit. With Forefront the request is
// pushed into the head cache immediately, so it is fetchable before the
// backend reflects the write.
func (q *RequestQueue) AddRequest(ctx context.Context, req *request.Request, opts AddOptions) (*storage.OperationInfo, error) {
	q.mu.Lock()
	if entry, ok := q.cache.get(req.UniqueKey); ok {
		info := &storage.OperationInfo{
			RequestID:         entry.id,
			WasAlreadyPresent: true,
			WasAlreadyHandled: entry.handled,
		}
		if req.ID == "" {
			req.ID = entry.id
		}
		if opts.Forefront && !entry.handled {
			q.promoteLocked(entry.id)
		}
		q.mu.Unlock()
		return info, nil
	}
	q.mu.Unlock()

	info, err := q.backend.InsertIfAbsent(ctx, req, opts.Forefront)
	if err != nil {
		return nil, err
	}
	req.ID = info.RequestID

	q.mu.Lock()
	q.cache.put(req.UniqueKey, cacheEntry{id: info.RequestID, handled: info.WasAlreadyHandled})
	if opts.Forefront && !info.WasAlreadyHandled {
		q.promoteLocked(info.RequestID)
	}
	q.mu.Unlock()

	return info, nil
}

// promoteLocked pushes an id to the front of the head cache unless it is
// checked out. Callers must hold q.mu.
func (q *RequestQueue) promoteLocked(id string) {
	if _, busy := q.inProgress[id]; busy {
		return
	}
	delete(q.reclaimed, id)
	q.head.pushFront(id)
}

// AddRequests enqueues a batch, reporting each request individually. The
// batch stops at the first backend error; dedup hits are not errors.
func (q *RequestQueue) AddRequests(ctx context.Context, reqs []*request.Request, opts AddOptions) ([]*storage.OperationInfo, error) {
	infos := make([]*storage.OperationInfo, 0, len(reqs))
	for _, req := range reqs {
		info, err := q.AddRequest(ctx, req, opts)
		if err != nil {
			return infos, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// FetchNextRequest returns the next request to process and checks it out, or
// (nil, nil) when nothing is currently available. A nil result is a momentary
// signal; use IsFinished to distinguish a drained queue from a lagging one.
func (q *RequestQueue) FetchNextRequest(ctx context.Context) (*request.Request, error) {
	for {
		id, ok := q.checkOutNext()
		if !ok {
			if _, err := q.reconcileHead(ctx); err != nil {
				return nil, err
			}
			if id, ok = q.checkOutNext(); !ok {
				return nil, nil
			}
		}

		req, err := q.backend.GetByID(ctx, id)
		if err != nil {
			q.release(id)
			return nil, err
		}
		if req == nil {
			// The head listing referenced an id the backend no longer
			// returns; skip it and try the next one.
			q.logger.Debug("request from queue head not found in backend", "request_id", id)
			q.release(id)
			continue
		}
		if req.HandledAt != nil {
			// Handled by another client between listing and fetch.
			q.mu.Lock()
			delete(q.inProgress, id)
			q.recentlyHandled.add(id)
			q.cache.put(req.UniqueKey, cacheEntry{id: id, handled: true})
			q.mu.Unlock()
			continue
		}
		return req, nil
	}
}

// checkOutNext pops the next cached id and marks it in progress in one
// critical section, so a concurrent head refresh cannot re-list it in between.
func (q *RequestQueue) checkOutNext() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, ok := q.head.pop()
	if !ok {
		return "", false
	}
	q.inProgress[id] = struct{}{}
	delete(q.reclaimed, id)
	return id, true
}

func (q *RequestQueue) release(id string) {
	q.mu.Lock()
	delete(q.inProgress, id)
	q.mu.Unlock()
}

// MarkRequestHandled records successful processing of a checked-out request.
// Fails with *NotInProgressError when the request is not checked out, which
// signals a double-processing bug rather than a transient condition.
func (q *RequestQueue) MarkRequestHandled(ctx context.Context, req *request.Request) (*storage.OperationInfo, error) {
	id := req.ID
	if err := q.settle(id, "markRequestHandled"); err != nil {
		return nil, err
	}

	if req.HandledAt == nil {
		handledAt := q.now()
		req.HandledAt = &handledAt
	}
	if err := q.backend.MarkHandled(ctx, req); err != nil {
		q.unsettle(id)
		return nil, err
	}

	q.mu.Lock()
	delete(q.inProgress, id)
	delete(q.settling, id)
	q.recentlyHandled.add(id)
	q.cache.put(req.UniqueKey, cacheEntry{id: id, handled: true})
	q.mu.Unlock()

	return &storage.OperationInfo{RequestID: id, WasAlreadyPresent: true}, nil
}

// settle claims the exclusive right to finish a checked-out request. A second
// mark or reclaim racing the first one's backend call fails the guard instead
// of settling the same checkout twice.
func (q *RequestQueue) settle(id, op string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inProgress[id]; !ok {
		return &NotInProgressError{ID: id, Op: op}
	}
	if _, busy := q.settling[id]; busy {
		return &NotInProgressError{ID: id, Op: op}
	}
	q.settling[id] = struct{}{}
	return nil
}

// unsettle returns a checkout to the caller after a failed backend call.
func (q *RequestQueue) unsettle(id string) {
	q.mu.Lock()
	delete(q.settling, id)
	q.mu.Unlock()
}

// ReclaimRequest returns a checked-out request to the queue after failed
// processing, persisting whatever mutations the caller made (retry count,
// error messages). The queue does not increment RetryCount itself. With
// Forefront the request goes straight back into the head cache; otherwise it
// resurfaces via the next backend head listing.
func (q *RequestQueue) ReclaimRequest(ctx context.Context, req *request.Request, opts ReclaimOptions) (*storage.OperationInfo, error) {
	id := req.ID
	if err := q.settle(id, "reclaimRequest"); err != nil {
		return nil, err
	}

	if err := q.backend.PersistReclaim(ctx, req, opts.Forefront); err != nil {
		q.unsettle(id)
		return nil, err
	}

	// Backends that encode position in the id reassign it on a forefront
	// reclaim; the checkout is tracked under the id it was fetched with.
	q.mu.Lock()
	delete(q.inProgress, id)
	delete(q.settling, id)
	q.cache.put(req.UniqueKey, cacheEntry{id: req.ID, handled: false})
	if opts.Forefront {
		q.head.pushFront(req.ID)
	} else {
		// Not forced into the head cache (that would let it grow without
		// bound); remembered so IsFinished cannot report done before the
		// backend re-lists it.
		q.reclaimed[req.ID] = struct{}{}
	}
	q.mu.Unlock()

	return &storage.OperationInfo{RequestID: req.ID, WasAlreadyPresent: true}, nil
}

// IsEmpty reports whether no request is currently fetchable and none is being
// processed. A false result can be momentary; a true result means a fresh
// backend query also came back empty.
func (q *RequestQueue) IsEmpty(ctx context.Context) (bool, error) {
	q.mu.Lock()
	if q.head.len() > 0 || len(q.inProgress) > 0 {
		q.mu.Unlock()
		return false, nil
	}
	q.mu.Unlock()

	if _, err := q.reconcileHead(ctx); err != nil {
		return false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head.len() == 0 && len(q.inProgress) == 0, nil
}

// IsFinished reports whether all work is done: nothing cached, nothing in
// progress, nothing reclaimed-but-unlisted, and a consistent backend query
// confirming emptiness. May answer false when the queue is actually drained
// (the backend view can lag) but never answers true while work remains, so
// callers poll it.
func (q *RequestQueue) IsFinished(ctx context.Context) (bool, error) {
	q.mu.Lock()
	if q.head.len() > 0 || len(q.inProgress) > 0 || len(q.reclaimed) > 0 {
		q.mu.Unlock()
		return false, nil
	}
	q.mu.Unlock()

	consistent, err := q.reconcileHead(ctx)
	if err != nil {
		return false, err
	}
	if !consistent {
		return false, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head.len() == 0 && len(q.inProgress) == 0 && len(q.reclaimed) == 0, nil
}

// GetMetadata returns the backend's queue-wide counters.
func (q *RequestQueue) GetMetadata(ctx context.Context) (*storage.Metadata, error) {
	return q.backend.GetMetadata(ctx)
}

// InProgressCount returns how many requests are currently checked out.
func (q *RequestQueue) InProgressCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inProgress)
}

// Drop removes all queue data and resets the in-memory state.
func (q *RequestQueue) Drop(ctx context.Context) error {
	if err := q.backend.Drop(ctx); err != nil {
		return err
	}
	q.mu.Lock()
	q.head.reset()
	q.inProgress = make(map[string]struct{})
	q.settling = make(map[string]struct{})
	q.reclaimed = make(map[string]struct{})
	q.recentlyHandled = newBoundedIDSet(defaultRecentlyHandledSize)
	q.cache = newRequestCache(defaultRequestCacheSize)
	q.mu.Unlock()
	return nil
}
