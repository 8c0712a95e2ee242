package queue

import (
	"context"
	"time"
)

// RetryPolicy bounds the reconciliation loop's re-queries. Delay receives the
// zero-based attempt number, so policies can back off progressively.
type RetryPolicy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
}

// DefaultRetryPolicy matches the behaviour callers of a networked backend
// expect: up to 6 re-queries with linearly growing waits.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		Delay: func(attempt int) time.Duration {
			return time.Duration(attempt+1) * 500 * time.Millisecond
		},
	}
}

// reconcileHead refreshes the head cache from the backend when it is empty.
// It returns whether the resulting view can be trusted: true means either the
// cache now holds ids, or the backend convincingly reported an empty queue;
// false means retries were exhausted while the backend still looked stale.
//
// The staleness test: if the queue was modified within consistencyDelay of
// the query start and the listing produced nothing usable, a concurrent
// producer's write may simply not be visible yet, so the query is repeated.
func (q *RequestQueue) reconcileHead(ctx context.Context) (bool, error) {
	for attempt := 0; ; attempt++ {
		q.mu.Lock()
		if q.head.len() > 0 {
			q.mu.Unlock()
			return true, nil
		}
		// Size the query to comfortably exceed the in-progress set, so
		// available items are not crowded out by ones being processed.
		limit := len(q.inProgress) * queryHeadBuffer
		if limit < q.minHeadLength {
			limit = q.minHeadLength
		}
		q.mu.Unlock()

		queryStarted := q.now()
		head, err := q.backend.ListHead(ctx, limit)
		if err != nil {
			return false, err
		}

		q.mu.Lock()
		listed := len(head.Items)
		for _, item := range head.Items {
			if _, busy := q.inProgress[item.ID]; busy {
				continue
			}
			if q.recentlyHandled.has(item.ID) {
				continue
			}
			delete(q.reclaimed, item.ID)
			if q.head.pushBack(item.ID) {
				q.cache.put(item.UniqueKey, cacheEntry{id: item.ID})
			}
		}
		cached := q.head.len()
		q.mu.Unlock()

		if cached > 0 {
			return true, nil
		}

		// A saturated listing (every slot taken by filtered items) may hide
		// available requests past the limit; a higher-limit retry can
		// surface them.
		headSaturated := listed >= limit
		maybeStale := head.QueueModifiedAt.After(queryStarted.Add(-q.consistencyDelay))
		if !headSaturated && !maybeStale {
			// Convincingly empty.
			return true, nil
		}
		if attempt >= q.retryPolicy.MaxAttempts {
			q.logger.Debug("queue head still inconsistent after retries",
				"attempts", attempt, "listed", listed)
			return false, nil
		}

		if err := q.sleep(ctx, q.retryPolicy.Delay(attempt)); err != nil {
			return false, err
		}
	}
}
