package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/masahif/quetadoru/internal/request"
)

const (
	pendingDirName = "pending"
	handledDirName = "handled"

	// Position numbers are fixed-width decimals so that lexicographic
	// directory order equals numeric queue order. The first request lands in
	// the middle of the range: tail appends count upward from there,
	// forefront inserts count downward.
	positionWidth = 9
	positionBase  = 500000000
)

// FilesystemBackend stores one JSON file per request under a queue-scoped
// directory, split into pending/ and handled/ subdirectories. The file name
// encodes the request's integer position ("{NUMBER}.json"), so an ordered
// listing of pending/ is the queue head. The layout is shared with external
// tooling; do not change it.
//
// Single-process only: nothing serializes writers across processes.
type FilesystemBackend struct {
	dir string

	mu         sync.Mutex
	keyToID    map[string]string // uniqueKey -> id
	idToKey    map[string]string
	handled    map[string]bool // id -> handled
	lowest     int             // lowest position ever allocated
	highest    int             // highest position ever allocated
	modifiedAt time.Time
}

// NewFilesystemBackend opens (or creates) the queue directory and rebuilds
// the in-memory indexes by scanning both subdirectories, which makes reopening
// after a crash safe: the files are the source of truth.
func NewFilesystemBackend(dir string) (*FilesystemBackend, error) {
	b := &FilesystemBackend{
		dir:     dir,
		keyToID: make(map[string]string),
		idToKey: make(map[string]string),
		handled: make(map[string]bool),
	}

	for _, sub := range []string{pendingDirName, handledDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0750); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}

	if err := b.scan(); err != nil {
		return nil, err
	}
	return b, nil
}

// scan rebuilds indexes and position watermarks from disk.
func (b *FilesystemBackend) scan() error {
	for _, sub := range []string{pendingDirName, handledDirName} {
		entries, err := os.ReadDir(filepath.Join(b.dir, sub))
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", sub, err)
		}
		for _, entry := range entries {
			pos, ok := parsePositionName(entry.Name())
			if !ok {
				continue
			}
			req, err := b.readFile(filepath.Join(b.dir, sub, entry.Name()))
			if err != nil {
				return err
			}
			id := formatPosition(pos)
			b.keyToID[req.UniqueKey] = id
			b.idToKey[id] = req.UniqueKey
			b.handled[id] = sub == handledDirName
			if b.lowest == 0 || pos < b.lowest {
				b.lowest = pos
			}
			if pos > b.highest {
				b.highest = pos
			}
			if info, err := entry.Info(); err == nil && info.ModTime().After(b.modifiedAt) {
				b.modifiedAt = info.ModTime()
			}
		}
	}
	return nil
}

func formatPosition(pos int) string {
	return fmt.Sprintf("%0*d", positionWidth, pos)
}

func parsePositionName(name string) (int, bool) {
	if !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	pos, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
	if err != nil || pos < 0 {
		return 0, false
	}
	return pos, true
}

// allocPosition hands out the next position number. Must be called with the
// lock held.
func (b *FilesystemBackend) allocPosition(forefront bool) int {
	if b.lowest == 0 {
		b.lowest, b.highest = positionBase, positionBase
		return positionBase
	}
	if forefront {
		b.lowest--
		return b.lowest
	}
	b.highest++
	return b.highest
}

func (b *FilesystemBackend) pendingPath(id string) string {
	return filepath.Join(b.dir, pendingDirName, id+".json")
}

func (b *FilesystemBackend) handledPath(id string) string {
	return filepath.Join(b.dir, handledDirName, id+".json")
}

func (b *FilesystemBackend) readFile(path string) (*request.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	var req request.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request file %s: %w", path, err)
	}
	return &req, nil
}

// writeFile writes the record via a temp file plus rename so a crash cannot
// leave a half-written entry behind.
func (b *FilesystemBackend) writeFile(path string, req *request.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write request file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize request file: %w", err)
	}
	return nil
}

// InsertIfAbsent implements Backend.
func (b *FilesystemBackend) InsertIfAbsent(ctx context.Context, req *request.Request, forefront bool) (*OperationInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.keyToID[req.UniqueKey]; ok {
		return &OperationInfo{
			RequestID:         id,
			WasAlreadyPresent: true,
			WasAlreadyHandled: b.handled[id],
		}, nil
	}

	id := formatPosition(b.allocPosition(forefront))
	stored := *req
	stored.ID = id
	if err := b.writeFile(b.pendingPath(id), &stored); err != nil {
		return nil, err
	}

	b.keyToID[req.UniqueKey] = id
	b.idToKey[id] = req.UniqueKey
	b.handled[id] = false
	b.modifiedAt = time.Now()

	return &OperationInfo{RequestID: id}, nil
}

// GetByID implements Backend.
func (b *FilesystemBackend) GetByID(ctx context.Context, id string) (*request.Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.idToKey[id]; !ok {
		return nil, nil
	}
	path := b.pendingPath(id)
	if b.handled[id] {
		path = b.handledPath(id)
	}
	return b.readFile(path)
}

// ListHead implements Backend. The pending directory listing is the queue
// order, so no separate index is needed.
func (b *FilesystemBackend) ListHead(ctx context.Context, limit int) (*Head, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(b.dir, pendingDirName))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}

	positions := make([]int, 0, len(entries))
	for _, entry := range entries {
		if pos, ok := parsePositionName(entry.Name()); ok {
			positions = append(positions, pos)
		}
	}
	sort.Ints(positions)

	head := &Head{QueueModifiedAt: b.modifiedAt}
	for _, pos := range positions {
		if limit > 0 && len(head.Items) >= limit {
			break
		}
		id := formatPosition(pos)
		head.Items = append(head.Items, HeadItem{ID: id, UniqueKey: b.idToKey[id]})
	}
	return head, nil
}

// MarkHandled implements Backend. The record moves from pending/ to handled/
// under the same position number.
func (b *FilesystemBackend) MarkHandled(ctx context.Context, req *request.Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.idToKey[req.ID]; !ok {
		return fmt.Errorf("markHandled: unknown request id %s", req.ID)
	}
	if err := b.writeFile(b.handledPath(req.ID), req); err != nil {
		return err
	}
	if err := os.Remove(b.pendingPath(req.ID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pending request file: %w", err)
	}
	b.handled[req.ID] = true
	b.modifiedAt = time.Now()
	return nil
}

// PersistReclaim implements Backend. The position number is the request's id,
// so a forefront reclaim moves the record to a freshly allocated low position
// and updates req.ID; the on-disk order then survives a restart. A tail
// reclaim rewrites the file in place.
func (b *FilesystemBackend) PersistReclaim(ctx context.Context, req *request.Request, forefront bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key, ok := b.idToKey[req.ID]
	if !ok {
		return fmt.Errorf("persistReclaim: unknown request id %s", req.ID)
	}

	if !forefront {
		if err := b.writeFile(b.pendingPath(req.ID), req); err != nil {
			return err
		}
		b.modifiedAt = time.Now()
		return nil
	}

	oldID := req.ID
	newID := formatPosition(b.allocPosition(true))
	stored := *req
	stored.ID = newID
	if err := b.writeFile(b.pendingPath(newID), &stored); err != nil {
		return err
	}
	if err := os.Remove(b.pendingPath(oldID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove reclaimed request file: %w", err)
	}

	delete(b.idToKey, oldID)
	delete(b.handled, oldID)
	b.idToKey[newID] = key
	b.keyToID[key] = newID
	b.handled[newID] = false
	req.ID = newID
	b.modifiedAt = time.Now()
	return nil
}

// GetMetadata implements Backend.
func (b *FilesystemBackend) GetMetadata(ctx context.Context) (*Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	meta := &Metadata{ModifiedAt: b.modifiedAt}
	for _, handled := range b.handled {
		meta.TotalRequestCount++
		if handled {
			meta.HandledRequestCount++
		} else {
			meta.PendingRequestCount++
		}
	}
	return meta, nil
}

// Drop implements Backend. Removes all queue data; the backend stays usable,
// so the empty subdirectories are recreated.
func (b *FilesystemBackend) Drop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.RemoveAll(b.dir); err != nil {
		return fmt.Errorf("failed to drop queue directory: %w", err)
	}
	for _, sub := range []string{pendingDirName, handledDirName} {
		if err := os.MkdirAll(filepath.Join(b.dir, sub), 0750); err != nil {
			return fmt.Errorf("failed to recreate queue directory: %w", err)
		}
	}
	b.keyToID = make(map[string]string)
	b.idToKey = make(map[string]string)
	b.handled = make(map[string]bool)
	b.lowest, b.highest = 0, 0
	b.modifiedAt = time.Now()
	return nil
}

// Close implements Backend.
func (b *FilesystemBackend) Close() error { return nil }

var _ Backend = (*FilesystemBackend)(nil)
