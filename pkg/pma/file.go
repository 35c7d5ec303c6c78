package pma

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// FileRegion is a growable, memory-mapped region backed by a single file.
// It plays the role the teacher's LogWriter/LogReader pair plays for an
// append-only log, but serves random-access byte ranges instead: the file
// is mmap'd PROT_READ|PROT_WRITE, grown with Ftruncate + remap, and Flush
// calls Msync (falling back to file.Sync on platforms where msync is not
// wired through golang.org/x/sys/unix) the same way LogWriter.sync() first
// flushes its buffer, then fsyncs.
type FileRegion struct {
	mu   sync.Mutex
	file *os.File
	data []byte
}

// OpenFileRegion opens (creating if necessary) path and maps it into
// memory. If the file is smaller than initialSize it is grown first.
func OpenFileRegion(path string, initialSize int64) (*FileRegion, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("pma: create data dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("pma: open region file: %w", err)
	}
	r := &FileRegion{file: file}
	if err := r.grow(initialSize); err != nil {
		file.Close()
		return nil, err
	}
	return r, nil
}

func (r *FileRegion) grow(n int64) error {
	stat, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("pma: stat region file: %w", err)
	}
	if stat.Size() >= n && int64(len(r.data)) >= n {
		return nil
	}
	if stat.Size() < n {
		if err := r.file.Truncate(n); err != nil {
			return fmt.Errorf("pma: truncate region file: %w", err)
		}
	}
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			return fmt.Errorf("pma: munmap: %w", err)
		}
		r.data = nil
	}
	data, err := unix.Mmap(int(r.file.Fd()), 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("pma: mmap region file: %w", err)
	}
	r.data = data
	return nil
}

// Grow implements Region.
func (r *FileRegion) Grow(n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grow(n)
}

// Size implements Region.
func (r *FileRegion) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.data))
}

// Bytes implements Region.
func (r *FileRegion) Bytes(id ID, length int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := int64(id) + int64(length)
	if end > int64(len(r.data)) {
		return nil, fmt.Errorf("pma: range [%d,%d) out of bounds (size %d)", id, end, len(r.data))
	}
	return r.data[id:end], nil
}

// Flush implements Region, syncing the mapping to the backing file.
func (r *FileRegion) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data != nil {
		if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
			// Fall back to a plain fsync; some platforms/filesystems
			// under test do not support msync on the mapping.
			return r.file.Sync()
		}
	}
	return r.file.Sync()
}

// Close implements Region.
func (r *FileRegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
		r.data = nil
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
