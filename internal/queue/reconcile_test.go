package queue

import (
	"context"
	"testing"
	"time"

	"github.com/masahif/quetadoru/internal/storage"
)

// staleHeadBackend reports every head listing as modified "just now", which
// makes the listing permanently untrustworthy.
type staleHeadBackend struct {
	*storage.MemoryBackend
	now func() time.Time
}

func (s *staleHeadBackend) ListHead(ctx context.Context, limit int) (*storage.Head, error) {
	head, err := s.MemoryBackend.ListHead(ctx, limit)
	if err != nil {
		return nil, err
	}
	head.QueueModifiedAt = s.now()
	return head, nil
}

func TestReconcileWaitsOutVisibilityLag(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := storage.NewMemoryBackend()
	backend.Now = clock.Now
	backend.VisibilityLag = 2 * time.Second
	q := Open(backend, Options{Now: clock.Now, Sleep: clock.Sleep})

	start := clock.Now()
	info := mustAdd(t, q, "https://example.com/a", AddOptions{})

	// The tail add is invisible to the head listing for 2s; the fetch must
	// retry the listing until the write surfaces instead of giving up.
	req, err := q.FetchNextRequest(ctx)
	if err != nil {
		t.Fatalf("FetchNextRequest failed: %v", err)
	}
	if req == nil || req.ID != info.RequestID {
		t.Fatalf("fetch after lag = %+v, want request %s", req, info.RequestID)
	}

	if waited := clock.Now().Sub(start); waited < 2*time.Second {
		t.Errorf("fetch waited %v, want at least the 2s visibility lag", waited)
	}
}

func TestReconcileBoundedRetries(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	memory := storage.NewMemoryBackend()
	memory.Now = clock.Now
	backend := &staleHeadBackend{MemoryBackend: memory, now: clock.Now}

	sleeps := 0
	q := Open(backend, Options{
		Now: clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleeps++
			return clock.Sleep(ctx, d)
		},
		RetryPolicy: RetryPolicy{
			MaxAttempts: 4,
			Delay:       func(int) time.Duration { return 100 * time.Millisecond },
		},
	})

	// The backend always looks freshly modified, so an empty listing can
	// never be trusted: the loop must stop at MaxAttempts, not spin.
	req, err := q.FetchNextRequest(ctx)
	if err != nil {
		t.Fatalf("FetchNextRequest failed: %v", err)
	}
	if req != nil {
		t.Errorf("fetch on empty queue = %+v, want nil", req)
	}
	if sleeps != 4 {
		t.Errorf("slept %d times, want MaxAttempts (4)", sleeps)
	}

	// And the unsettled view must keep IsFinished pessimistic.
	finished, err := q.IsFinished(ctx)
	if err != nil {
		t.Fatalf("IsFinished failed: %v", err)
	}
	if finished {
		t.Error("IsFinished = true while the backend view is unsettled")
	}
}

func TestReconcileFiltersInProgress(t *testing.T) {
	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	info := mustAdd(t, q, "https://example.com/a", AddOptions{})

	req, err := q.FetchNextRequest(ctx)
	if err != nil || req == nil {
		t.Fatalf("FetchNextRequest = %v, %v", req, err)
	}
	if req.ID != info.RequestID {
		t.Fatalf("fetched %s, want %s", req.ID, info.RequestID)
	}

	// The backend still lists the in-progress request; a second fetch must
	// not hand it out again.
	second, err := q.FetchNextRequest(ctx)
	if err != nil {
		t.Fatalf("second FetchNextRequest failed: %v", err)
	}
	if second != nil {
		t.Errorf("in-progress request dispatched twice: %+v", second)
	}
}

// replayHeadBackend keeps returning a pinned head listing, imitating a lagging
// view that still shows already-handled requests as pending.
type replayHeadBackend struct {
	*storage.MemoryBackend
	pinned *storage.Head
}

func (r *replayHeadBackend) ListHead(ctx context.Context, limit int) (*storage.Head, error) {
	if r.pinned != nil {
		return r.pinned, nil
	}
	return r.MemoryBackend.ListHead(ctx, limit)
}

func TestReconcileSkipsRecentlyHandled(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	memory := storage.NewMemoryBackend()
	memory.Now = clock.Now
	backend := &replayHeadBackend{MemoryBackend: memory}
	q := Open(backend, Options{Now: clock.Now, Sleep: clock.Sleep})

	info := mustAdd(t, q, "https://example.com/a", AddOptions{})

	req, err := q.FetchNextRequest(ctx)
	if err != nil || req == nil {
		t.Fatalf("FetchNextRequest = %v, %v", req, err)
	}
	if _, err := q.MarkRequestHandled(ctx, req); err != nil {
		t.Fatalf("MarkRequestHandled failed: %v", err)
	}

	// Pin a stale listing that still shows the handled request as pending.
	backend.pinned = &storage.Head{
		Items:           []storage.HeadItem{{ID: info.RequestID, UniqueKey: req.UniqueKey}},
		QueueModifiedAt: clock.Now().Add(-time.Hour),
	}

	next, err := q.FetchNextRequest(ctx)
	if err != nil {
		t.Fatalf("FetchNextRequest failed: %v", err)
	}
	if next != nil {
		t.Errorf("handled request dispatched again: %+v", next)
	}
}
