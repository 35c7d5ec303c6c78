// Package pebblepma provides an alternate pma.Region backed by
// github.com/cockroachdb/pebble, for callers (and tests) that want PMA
// durability semantics without a real memory-mapped file. Grounded on the
// teacher's pkg/storage.DefaultStorage, which uses the same pebble.DB
// Create/Read/Update/Delete shape over ksuid keys; here the "keys" are
// fixed-width page numbers instead of generated ids.
package pebblepma

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/ssargent/pmatree/pkg/pma"
)

// pageSize is large enough that every node/leaf-body the engine writes at
// the orders it targets fits within one page; see newWriteThroughSlice.
const pageSize = 1 << 18 // 256 KiB

// Region implements pma.Region over a pebble.DB, paging the logical byte
// address space into fixed-size pebble values. It exists mainly so the
// CLI's --backend pebble flag (engine config backend "pebble") can run
// without mmap, trading byte-level mmap durability for pebble's own WAL plus an
// in-process page cache flushed explicitly (see pagecache.go).
type Region struct {
	db    *pebble.DB
	size  int64
	cache *pageCache
}

// Open opens (creating if necessary) a pebble store at path as a pma.Region.
func Open(path string) (*Region, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebblepma: open: %w", err)
	}
	return &Region{db: db, cache: newPageCache()}, nil
}

func pageKey(page int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(page))
	return b[:]
}

func (r *Region) readPage(page int64) ([]byte, error) {
	val, closer, err := r.db.Get(pageKey(page))
	if err == pebble.ErrNotFound {
		return make([]byte, pageSize), nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, pageSize)
	copy(out, val)
	return out, nil
}

// Grow implements pma.Region. Pebble pages are allocated lazily on first
// write, so Grow only needs to record the new logical size.
func (r *Region) Grow(n int64) error {
	if n > r.size {
		r.size = n
	}
	return nil
}

// Size implements pma.Region.
func (r *Region) Size() int64 { return r.size }

// Bytes implements pma.Region, returning a direct, mutable view into the
// resident page cache (see pagecache.go for the write-through contract).
func (r *Region) Bytes(id pma.ID, length int) ([]byte, error) {
	if int64(id)+int64(length) > r.size {
		return nil, fmt.Errorf("pebblepma: range [%d,%d) out of bounds (size %d)", id, int64(id)+int64(length), r.size)
	}
	return newWriteThroughSlice(r, int64(id), length)
}

// Flush implements pma.Region: every resident page is written to a single
// pebble batch, which is then synced, mirroring the teacher's
// DefaultStorage.Update issuing a pebble.Set per record.
func (r *Region) Flush() error {
	batch := r.db.NewBatch()
	for page, buf := range r.cache.snapshot() {
		if err := batch.Set(pageKey(page), buf, nil); err != nil {
			return fmt.Errorf("pebblepma: stage page %d: %w", page, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("pebblepma: commit batch: %w", err)
	}
	return nil
}

// Close implements pma.Region.
func (r *Region) Close() error { return r.db.Close() }
