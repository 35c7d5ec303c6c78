package pebblepma

import (
	"fmt"
	"sync"
)

// pageCache keeps decoded pebble pages resident so Bytes() can hand back a
// slice that is actually mutable in place (pebble values themselves are
// immutable once read back). Flush writes every cached page back to pebble
// and is the only point at which mutations become durable, mirroring how a
// real mmap's dirty pages aren't guaranteed on disk until msync.
type pageCache struct {
	mu    sync.Mutex
	pages map[int64][]byte
}

func newPageCache() *pageCache {
	return &pageCache{pages: make(map[int64][]byte)}
}

func (c *pageCache) get(r *Region, page int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buf, ok := c.pages[page]; ok {
		return buf, nil
	}
	buf, err := r.readPage(page)
	if err != nil {
		return nil, err
	}
	c.pages[page] = buf
	return buf, nil
}

func (c *pageCache) snapshot() map[int64][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64][]byte, len(c.pages))
	for p, b := range c.pages {
		cp := make([]byte, len(b))
		copy(cp, b)
		out[p] = cp
	}
	return out
}

// newWriteThroughSlice returns a direct, mutable subslice of a single
// cached page covering [offset, offset+length). This Region is paged
// (pageSize bytes per pebble value) on the assumption -- true for every
// class's node and leaf-body size at the orders this engine targets (see
// §3's order bound of 4096 together with the small hkey sizes used by
// dkey/akey/singv) -- that no single record or node header straddles a
// page boundary; a range that does is rejected rather than silently
// producing a non-write-through slice.
func newWriteThroughSlice(r *Region, offset int64, length int) ([]byte, error) {
	startPage := offset / pageSize
	endPage := (offset + int64(length) - 1) / pageSize
	if startPage != endPage {
		return nil, fmt.Errorf("pebblepma: range [%d,%d) spans pebble pages (page size %d); increase pageSize", offset, offset+int64(length), pageSize)
	}
	buf, err := r.cache.get(r, startPage)
	if err != nil {
		return nil, err
	}
	off := offset % pageSize
	return buf[off : off+int64(length)], nil
}
