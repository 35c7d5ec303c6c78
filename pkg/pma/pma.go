// Package pma implements the persistent memory abstraction that backs the
// btrtree engine: typed persistent identifiers resolved against a
// memory-mapped region, allocate/zero-allocate/free, and byte-range
// journaling wrapped in begin/commit/abort transactions.
//
// On-media references are plain offsets into the mapped region; an ID of 0
// is reserved to mean "null" the same way a nil pointer would, so callers
// never allocate at offset 0.
package pma

import (
	"fmt"
	"sync"
)

// ID is a persistent identifier: a byte offset into the mapped region.
// Zero means null.
type ID uint64

// Null is the zero-value persistent id.
const Null ID = 0

// span is a free or allocated byte range within the region.
type span struct {
	offset ID
	size   int
}

// Region is the backing store an Allocator resolves IDs against. File and
// pebble-backed implementations satisfy it (see pebblepma for the latter).
type Region interface {
	// Bytes returns a direct, writable view of length bytes at id. Writes
	// through the returned slice are writes to the persistent image.
	Bytes(id ID, length int) ([]byte, error)
	// Grow ensures the region is at least n bytes; it may remap.
	Grow(n int64) error
	// Size returns the current capacity of the region.
	Size() int64
	// Flush durably persists all writes made so far (fsync/msync).
	Flush() error
	// Close releases the region's OS resources.
	Close() error
}

// PMA is the persistent memory abstraction: a bump-and-freelist allocator
// layered over a Region, with transactional journaling for mutation safety.
type PMA struct {
	mu       sync.Mutex
	region   Region
	next     ID
	freelist []span
}

// New wraps region with a bump allocator. headerReserve bytes at the start
// of the region are reserved (e.g. for a caller's own superblock) and never
// handed out by Alloc; it must be >= 8 so offset 0 is never allocated.
func New(region Region, headerReserve int64) (*PMA, error) {
	if headerReserve < 8 {
		headerReserve = 8
	}
	if err := region.Grow(headerReserve); err != nil {
		return nil, err
	}
	return &PMA{region: region, next: ID(headerReserve)}, nil
}

// Region exposes the backing region, e.g. for a caller that wants to read
// or write its own superblock bytes at a fixed offset below headerReserve.
func (p *PMA) Region() Region { return p.region }

func roundUp8(n int) int {
	if n%8 == 0 {
		return n
	}
	return n + (8 - n%8)
}

// alloc finds or grows space for size bytes and returns its offset. Callers
// hold p.mu.
func (p *PMA) alloc(size int) (ID, error) {
	size = roundUp8(size)
	for i, s := range p.freelist {
		if s.size >= size {
			id := s.offset
			if s.size > size {
				p.freelist[i] = span{offset: s.offset + ID(size), size: s.size - size}
			} else {
				p.freelist = append(p.freelist[:i], p.freelist[i+1:]...)
			}
			return id, nil
		}
	}
	id := p.next
	need := int64(id) + int64(size)
	if need > p.region.Size() {
		growTo := p.region.Size() * 2
		if growTo < need {
			growTo = need
		}
		if err := p.region.Grow(growTo); err != nil {
			return Null, fmt.Errorf("pma: grow region: %w", err)
		}
	}
	p.next = id + ID(size)
	return id, nil
}

// Alloc reserves size bytes and returns their id, outside any transaction.
// Tree code should always allocate through a Tx so the allocation can be
// rolled back on abort; this direct entry point exists for callers (like a
// PMA-backed object store's superblock) that manage their own durability.
func (p *PMA) Alloc(size int) (ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alloc(size)
}

// Zalloc reserves size zeroed bytes and returns their id.
func (p *PMA) Zalloc(size int) (ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, err := p.alloc(size)
	if err != nil {
		return Null, err
	}
	buf, err := p.region.Bytes(id, size)
	if err != nil {
		return Null, err
	}
	for i := range buf {
		buf[i] = 0
	}
	return id, nil
}

// free returns a span to the freelist. Callers hold p.mu.
func (p *PMA) free(id ID, size int) {
	size = roundUp8(size)
	p.freelist = append(p.freelist, span{offset: id, size: size})
}

// Bytes returns a direct view of length bytes at id.
func (p *PMA) Bytes(id ID, length int) ([]byte, error) {
	if id == Null {
		return nil, fmt.Errorf("pma: read of null id")
	}
	return p.region.Bytes(id, length)
}

// Begin starts a new transaction against this PMA. The engine does not nest
// transactions: starting a second one before the first commits or aborts is
// a caller bug, not guarded against here (same discipline as the teacher's
// LogWriter, which assumes single-writer serialisation via its own mutex).
func (p *PMA) Begin() *Tx {
	return &Tx{pma: p, active: true}
}

// Open opens an existing region that already has a PMA image in it
// (headerReserve bytes reserved, next allocation cursor at nextHint).
func Open(region Region, headerReserve int64, nextHint ID) *PMA {
	if ID(headerReserve) > nextHint {
		nextHint = ID(headerReserve)
	}
	return &PMA{region: region, next: nextHint}
}

// NextOffset reports the current bump-allocation cursor, useful for a
// caller that wants to persist it in its own superblock across restarts.
func (p *PMA) NextOffset() ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}
