package pma

import (
	"fmt"
	"sync"
)

// MemRegion is an in-memory Region with no backing file, used by unit tests
// that want to exercise the allocator and transaction journal without
// touching the filesystem.
type MemRegion struct {
	mu     sync.Mutex
	data   []byte
	synced int
}

// NewMemRegion creates a region of the given initial size.
func NewMemRegion(initialSize int64) *MemRegion {
	return &MemRegion{data: make([]byte, initialSize)}
}

// Grow implements Region.
func (r *MemRegion) Grow(n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int64(len(r.data)) >= n {
		return nil
	}
	grown := make([]byte, n)
	copy(grown, r.data)
	r.data = grown
	return nil
}

// Size implements Region.
func (r *MemRegion) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.data))
}

// Bytes implements Region.
func (r *MemRegion) Bytes(id ID, length int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := int64(id) + int64(length)
	if end > int64(len(r.data)) {
		return nil, fmt.Errorf("pma: range [%d,%d) out of bounds (size %d)", id, end, len(r.data))
	}
	return r.data[id:end], nil
}

// Flush implements Region; a no-op beyond bookkeeping since MemRegion never
// touches a backing file.
func (r *MemRegion) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced++
	return nil
}

// Close implements Region.
func (r *MemRegion) Close() error { return nil }

// FlushCount reports how many times Flush has been called, used by tests
// asserting that Commit (and not Abort) reaches the backing store.
func (r *MemRegion) FlushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synced
}

// Snapshot returns a copy of the region's current bytes, used by
// crash-consistency tests to compare pre- and post-abort images.
func (r *MemRegion) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}
