package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/masahif/quetadoru/internal/request"
)

// MemoryBackend is an in-process backend. It is the default for throwaway
// crawls and the workhorse of the queue tests: VisibilityLag makes freshly
// written entries invisible to ListHead for a while, which reproduces the
// read-after-write lag of a networked backend without any network.
type MemoryBackend struct {
	// Now is the clock used for timestamps and visibility checks.
	// Defaults to time.Now.
	Now func() time.Time

	// VisibilityLag delays the appearance of writes in ListHead.
	// Zero means reads are immediately consistent.
	VisibilityLag time.Duration

	mu         sync.Mutex
	byID       map[string]*memoryEntry
	byKey      map[string]*memoryEntry
	nextID     int
	nextOrder  int64
	modifiedAt time.Time
}

type memoryEntry struct {
	req       request.Request
	orderNo   int64 // negative for forefront, sorted ascending
	visibleAt time.Time
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		Now:   time.Now,
		byID:  make(map[string]*memoryEntry),
		byKey: make(map[string]*memoryEntry),
	}
}

func (m *MemoryBackend) allocOrder(forefront bool) int64 {
	m.nextOrder++
	if forefront {
		// Later forefront inserts get a smaller order number, so the most
		// recently added forefront request is listed first.
		return -m.nextOrder
	}
	return m.nextOrder
}

// InsertIfAbsent implements Backend.
func (m *MemoryBackend) InsertIfAbsent(ctx context.Context, req *request.Request, forefront bool) (*OperationInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byKey[req.UniqueKey]; ok {
		return &OperationInfo{
			RequestID:         existing.req.ID,
			WasAlreadyPresent: true,
			WasAlreadyHandled: existing.req.HandledAt != nil,
		}, nil
	}

	m.nextID++
	now := m.Now()
	stored := *req
	stored.ID = strconv.Itoa(m.nextID)
	entry := &memoryEntry{
		req:       stored,
		orderNo:   m.allocOrder(forefront),
		visibleAt: now.Add(m.VisibilityLag),
	}
	m.byID[stored.ID] = entry
	m.byKey[stored.UniqueKey] = entry
	m.modifiedAt = now

	return &OperationInfo{RequestID: stored.ID}, nil
}

// GetByID implements Backend. Lookups by id are immediately consistent;
// only the head listing is subject to the visibility lag.
func (m *MemoryBackend) GetByID(ctx context.Context, id string) (*request.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	req := entry.req
	return &req, nil
}

// ListHead implements Backend.
func (m *MemoryBackend) ListHead(ctx context.Context, limit int) (*Head, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	pending := make([]*memoryEntry, 0, len(m.byID))
	for _, entry := range m.byID {
		if entry.req.HandledAt != nil {
			continue
		}
		if entry.visibleAt.After(now) {
			continue
		}
		pending = append(pending, entry)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].orderNo < pending[j].orderNo
	})

	head := &Head{QueueModifiedAt: m.modifiedAt}
	for _, entry := range pending {
		if limit > 0 && len(head.Items) >= limit {
			break
		}
		head.Items = append(head.Items, HeadItem{ID: entry.req.ID, UniqueKey: entry.req.UniqueKey})
	}
	return head, nil
}

// MarkHandled implements Backend.
func (m *MemoryBackend) MarkHandled(ctx context.Context, req *request.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byID[req.ID]
	if !ok {
		return fmt.Errorf("markHandled: unknown request id %s", req.ID)
	}
	entry.req = *req
	m.modifiedAt = m.Now()
	return nil
}

// PersistReclaim implements Backend.
func (m *MemoryBackend) PersistReclaim(ctx context.Context, req *request.Request, forefront bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.byID[req.ID]
	if !ok {
		return fmt.Errorf("persistReclaim: unknown request id %s", req.ID)
	}
	entry.req = *req
	if forefront {
		entry.orderNo = m.allocOrder(true)
	}
	now := m.Now()
	entry.visibleAt = now.Add(m.VisibilityLag)
	m.modifiedAt = now
	return nil
}

// GetMetadata implements Backend.
func (m *MemoryBackend) GetMetadata(ctx context.Context) (*Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := &Metadata{ModifiedAt: m.modifiedAt}
	for _, entry := range m.byID {
		meta.TotalRequestCount++
		if entry.req.HandledAt != nil {
			meta.HandledRequestCount++
		} else {
			meta.PendingRequestCount++
		}
	}
	return meta, nil
}

// Drop implements Backend.
func (m *MemoryBackend) Drop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID = make(map[string]*memoryEntry)
	m.byKey = make(map[string]*memoryEntry)
	m.modifiedAt = m.Now()
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }

var _ Backend = (*MemoryBackend)(nil)
