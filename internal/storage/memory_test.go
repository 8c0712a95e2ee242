package storage

import (
	"context"
	"testing"
	"time"

	"github.com/masahif/quetadoru/internal/request"
)

func mustRequest(t *testing.T, url string) *request.Request {
	t.Helper()
	req, err := request.New(url, request.Options{})
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return req
}

func TestMemoryBackendInsertDedup(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	req := mustRequest(t, "https://example.com/a")
	info, err := backend.InsertIfAbsent(ctx, req, false)
	if err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}
	if info.WasAlreadyPresent {
		t.Error("first insert reported WasAlreadyPresent")
	}
	if info.RequestID == "" {
		t.Fatal("first insert returned empty id")
	}

	// Same unique key again: must be a no-op returning the original id.
	dup := mustRequest(t, "https://example.com/a")
	dupInfo, err := backend.InsertIfAbsent(ctx, dup, false)
	if err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}
	if !dupInfo.WasAlreadyPresent {
		t.Error("duplicate insert not reported as already present")
	}
	if dupInfo.RequestID != info.RequestID {
		t.Errorf("duplicate insert id = %s, want %s", dupInfo.RequestID, info.RequestID)
	}
	if dupInfo.WasAlreadyHandled {
		t.Error("unhandled duplicate reported as handled")
	}

	meta, err := backend.GetMetadata(ctx)
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta.TotalRequestCount != 1 {
		t.Errorf("TotalRequestCount = %d, want 1", meta.TotalRequestCount)
	}
}

func TestMemoryBackendOrdering(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	ids := make(map[string]string)
	for _, url := range []string{"https://example.com/1", "https://example.com/2"} {
		info, err := backend.InsertIfAbsent(ctx, mustRequest(t, url), false)
		if err != nil {
			t.Fatalf("InsertIfAbsent failed: %v", err)
		}
		ids[url] = info.RequestID
	}
	// Two forefront inserts: the later one must be listed first.
	for _, url := range []string{"https://example.com/f1", "https://example.com/f2"} {
		info, err := backend.InsertIfAbsent(ctx, mustRequest(t, url), true)
		if err != nil {
			t.Fatalf("InsertIfAbsent failed: %v", err)
		}
		ids[url] = info.RequestID
	}

	head, err := backend.ListHead(ctx, 10)
	if err != nil {
		t.Fatalf("ListHead failed: %v", err)
	}

	want := []string{
		ids["https://example.com/f2"],
		ids["https://example.com/f1"],
		ids["https://example.com/1"],
		ids["https://example.com/2"],
	}
	if len(head.Items) != len(want) {
		t.Fatalf("head length = %d, want %d", len(head.Items), len(want))
	}
	for i, item := range head.Items {
		if item.ID != want[i] {
			t.Errorf("head[%d] = %s, want %s", i, item.ID, want[i])
		}
	}
}

func TestMemoryBackendMarkHandled(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	req := mustRequest(t, "https://example.com/a")
	info, err := backend.InsertIfAbsent(ctx, req, false)
	if err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}
	req.ID = info.RequestID

	handledAt := time.Now()
	req.HandledAt = &handledAt
	if err := backend.MarkHandled(ctx, req); err != nil {
		t.Fatalf("MarkHandled failed: %v", err)
	}

	head, err := backend.ListHead(ctx, 10)
	if err != nil {
		t.Fatalf("ListHead failed: %v", err)
	}
	if len(head.Items) != 0 {
		t.Errorf("handled request still listed in head")
	}

	got, err := backend.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.HandledAt == nil {
		t.Error("HandledAt not persisted")
	}

	// Re-adding the same key must report already handled.
	dupInfo, err := backend.InsertIfAbsent(ctx, mustRequest(t, "https://example.com/a"), false)
	if err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}
	if !dupInfo.WasAlreadyHandled {
		t.Error("re-add of handled key not reported as handled")
	}
}

func TestMemoryBackendReclaimForefront(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	first, err := backend.InsertIfAbsent(ctx, mustRequest(t, "https://example.com/1"), false)
	if err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}
	if _, err := backend.InsertIfAbsent(ctx, mustRequest(t, "https://example.com/2"), false); err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}

	req, err := backend.GetByID(ctx, first.RequestID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	req.RetryCount = 1
	if err := backend.PersistReclaim(ctx, req, true); err != nil {
		t.Fatalf("PersistReclaim failed: %v", err)
	}

	head, err := backend.ListHead(ctx, 10)
	if err != nil {
		t.Fatalf("ListHead failed: %v", err)
	}
	if len(head.Items) != 2 || head.Items[0].ID != first.RequestID {
		t.Errorf("forefront-reclaimed request not first in head: %+v", head.Items)
	}

	got, err := backend.GetByID(ctx, first.RequestID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1 after reclaim", got.RetryCount)
	}
}

func TestMemoryBackendVisibilityLag(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	backend := NewMemoryBackend()
	backend.VisibilityLag = 5 * time.Second
	backend.Now = func() time.Time { return now }

	if _, err := backend.InsertIfAbsent(ctx, mustRequest(t, "https://example.com/a"), false); err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}

	head, err := backend.ListHead(ctx, 10)
	if err != nil {
		t.Fatalf("ListHead failed: %v", err)
	}
	if len(head.Items) != 0 {
		t.Fatalf("fresh write visible before lag elapsed")
	}

	now = now.Add(6 * time.Second)
	head, err = backend.ListHead(ctx, 10)
	if err != nil {
		t.Fatalf("ListHead failed: %v", err)
	}
	if len(head.Items) != 1 {
		t.Fatalf("write still invisible after lag elapsed")
	}
}

func TestMemoryBackendDrop(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	if _, err := backend.InsertIfAbsent(ctx, mustRequest(t, "https://example.com/a"), false); err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}
	if err := backend.Drop(ctx); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}

	meta, err := backend.GetMetadata(ctx)
	if err != nil {
		t.Fatalf("GetMetadata failed: %v", err)
	}
	if meta.TotalRequestCount != 0 {
		t.Errorf("TotalRequestCount = %d after drop, want 0", meta.TotalRequestCount)
	}
}
