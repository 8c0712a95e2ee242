// Package storage provides persistence backends for the request queue.
// A backend is a key-ordered store of requests: it can insert-if-absent keyed
// by unique key, fetch by id, and list the head of the queue ordered by
// position. Backends are selected explicitly at construction time; the
// filesystem and SQLite backends are single-process, the remote backend may
// be shared across processes.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/masahif/quetadoru/internal/request"
)

// OperationInfo is the result of a queue write operation.
type OperationInfo struct {
	RequestID         string
	WasAlreadyPresent bool
	WasAlreadyHandled bool
}

// HeadItem is one entry of a head listing.
type HeadItem struct {
	ID        string
	UniqueKey string
}

// Head is the backend's current view of the front of the queue.
type Head struct {
	Items []HeadItem

	// QueueModifiedAt is the backend's last-modified timestamp. Callers use
	// it to judge whether an empty listing may simply predate a very recent
	// write.
	QueueModifiedAt time.Time
}

// Metadata describes the queue as a whole.
type Metadata struct {
	TotalRequestCount   int
	HandledRequestCount int
	PendingRequestCount int
	ModifiedAt          time.Time
}

// Backend is the minimum persistence contract the request queue requires.
// InsertIfAbsent must be idempotent on the request's unique key: concurrent
// inserts of the same key yield one stored entry, with WasAlreadyPresent set
// for the losers.
type Backend interface {
	// InsertIfAbsent stores the request unless one with the same unique key
	// exists, assigns its ID, and reports the prior state. Forefront inserts
	// are ordered before all currently pending requests.
	InsertIfAbsent(ctx context.Context, req *request.Request, forefront bool) (*OperationInfo, error)

	// GetByID returns the stored request, or nil if no such id exists.
	GetByID(ctx context.Context, id string) (*request.Request, error)

	// ListHead returns up to limit pending requests ordered by queue
	// position, plus the queue's last-modified timestamp.
	ListHead(ctx context.Context, limit int) (*Head, error)

	// MarkHandled persists the request's handled state (HandledAt and any
	// final mutations) and removes it from the pending ordering.
	MarkHandled(ctx context.Context, req *request.Request) error

	// PersistReclaim persists caller mutations (retry count, error messages)
	// for a request that stays pending. Forefront moves it ahead of all
	// other pending requests where the backend supports reordering.
	PersistReclaim(ctx context.Context, req *request.Request, forefront bool) error

	// GetMetadata returns queue-wide counters.
	GetMetadata(ctx context.Context) (*Metadata, error)

	// Drop removes all data for this queue.
	Drop(ctx context.Context) error

	Close() error
}

// BackendUnavailableError is returned after transient backend errors have
// exhausted their retries.
type BackendUnavailableError struct {
	Op  string
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable during %s: %v", e.Op, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }
