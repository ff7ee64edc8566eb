package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// DiskStream is a thin typed wrapper over a file handle (or an in-memory
// StorageFile), adding advisory byte-range region locks and a statistics
// surface. It generalizes the teacher's StorageFile-backed pager I/O into
// the spec's own named component.
type DiskStream struct {
	mu       sync.RWMutex
	file     StorageFile
	path     string
	readable bool
	writable bool
	disposed bool

	lockMu     sync.Mutex
	lockCond   *sync.Cond
	activeLock []lockRange
	nextHandle uint64
}

type lockRange struct {
	handle uint64
	offset int64
	length int64
}

// RegionLockHandle identifies a held advisory region lock.
type RegionLockHandle uint64

// OpenDiskStream opens path for shared read/write and wraps it as a
// DiskStream. flags/perm mirror os.OpenFile.
func OpenDiskStream(path string, flags int, perm os.FileMode) (*DiskStream, error) {
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	ds := newDiskStream(f, path)
	ds.readable = flags&os.O_WRONLY == 0
	ds.writable = flags&(os.O_WRONLY|os.O_RDWR) != 0
	return ds, nil
}

// NewMemoryDiskStream wraps an in-memory StorageFile (MemFile) as a
// DiskStream, used for :memory: databases and tests.
func NewMemoryDiskStream(path string, f StorageFile) *DiskStream {
	ds := newDiskStream(f, path)
	ds.readable = true
	ds.writable = true
	return ds
}

func newDiskStream(f StorageFile, path string) *DiskStream {
	ds := &DiskStream{file: f, path: path}
	ds.lockCond = sync.NewCond(&ds.lockMu)
	return ds
}

// ReadPage reads exactly len(buf) bytes at offset.
func (ds *DiskStream) ReadPage(offset int64, buf []byte) error {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if ds.disposed {
		return ErrDisposed
	}
	n, err := ds.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: read at %d: %v", ErrIO, offset, err)
	}
	if n < len(buf) {
		return fmt.Errorf("%w: short read at %d: got %d want %d", ErrIO, offset, n, len(buf))
	}
	return nil
}

// WritePage writes buf at offset.
func (ds *DiskStream) WritePage(offset int64, buf []byte) error {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if ds.disposed {
		return ErrDisposed
	}
	n, err := ds.file.WriteAt(buf, offset)
	if err != nil {
		return fmt.Errorf("%w: write at %d: %v", ErrIO, offset, err)
	}
	if n < len(buf) {
		return fmt.Errorf("%w: short write at %d: wrote %d want %d", ErrIO, offset, n, len(buf))
	}
	return nil
}

// ReadPageAsync is the async variant of ReadPage; it delegates synchronously
// but accepts a context for cancellation-aware callers.
func (ds *DiskStream) ReadPageAsync(ctx context.Context, offset int64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return ErrCanceled
	}
	return ds.ReadPage(offset, buf)
}

// WritePageAsync is the async variant of WritePage.
func (ds *DiskStream) WritePageAsync(ctx context.Context, offset int64, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return ErrCanceled
	}
	return ds.WritePage(offset, buf)
}

// SetLength truncates or extends the underlying file. Extending zero-fills
// the new region.
func (ds *DiskStream) SetLength(n int64) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.disposed {
		return ErrDisposed
	}
	info, err := ds.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat: %v", ErrIO, err)
	}
	if n <= info.Size() {
		if tr, ok := ds.file.(interface{ Truncate(int64) error }); ok {
			if err := tr.Truncate(n); err != nil {
				return fmt.Errorf("%w: truncate: %v", ErrIO, err)
			}
			return nil
		}
		return nil
	}
	// Extend: zero-fill the gap by writing a single zero byte at the new
	// end-of-file offset; OS-backed sparse files fill the hole with zeros.
	if _, err := ds.file.WriteAt([]byte{0}, n-1); err != nil {
		return fmt.Errorf("%w: extend: %v", ErrIO, err)
	}
	return nil
}

// Flush requests OS-level durability of all prior writes.
func (ds *DiskStream) Flush() error {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if ds.disposed {
		return ErrDisposed
	}
	if err := ds.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

// FlushAsync is the async variant of Flush.
func (ds *DiskStream) FlushAsync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ErrCanceled
	}
	return ds.Flush()
}

// LockRegion acquires an advisory byte-range lock over [offset, offset+length).
// Overlapping ranges block until the holder releases; non-overlapping
// ranges proceed concurrently.
func (ds *DiskStream) LockRegion(offset, length int64) (RegionLockHandle, error) {
	ds.lockMu.Lock()
	defer ds.lockMu.Unlock()
	for ds.overlaps(offset, length) {
		ds.lockCond.Wait()
	}
	ds.nextHandle++
	h := ds.nextHandle
	ds.activeLock = append(ds.activeLock, lockRange{handle: h, offset: offset, length: length})
	return RegionLockHandle(h), nil
}

func (ds *DiskStream) overlaps(offset, length int64) bool {
	end := offset + length
	for _, r := range ds.activeLock {
		rend := r.offset + r.length
		if offset < rend && r.offset < end {
			return true
		}
	}
	return false
}

// UnlockRegion releases a previously acquired region lock. Double-unlock is
// accepted silently (idempotent). An unknown handle (never issued) fails with
// ErrInvalidArgument.
func (ds *DiskStream) UnlockRegion(h RegionLockHandle) error {
	ds.lockMu.Lock()
	defer ds.lockMu.Unlock()
	for i, r := range ds.activeLock {
		if r.handle == uint64(h) {
			ds.activeLock = append(ds.activeLock[:i], ds.activeLock[i+1:]...)
			ds.lockCond.Broadcast()
			return nil
		}
	}
	if uint64(h) >= 1 && uint64(h) <= ds.nextHandle {
		// Already released: idempotent.
		return nil
	}
	return ErrInvalidArgument
}

// DiskStreamStatistics is the human/log-facing statistics surface for a
// DiskStream.
type DiskStreamStatistics struct {
	Path     string
	Size     int64
	Position int64
	Readable bool
	Writable bool
	Seekable bool
}

func (s DiskStreamStatistics) String() string {
	return fmt.Sprintf("DiskStream[path=%s, size=%d bytes, readable=%v, writable=%v]",
		s.Path, s.Size, s.Readable, s.Writable)
}

// GetStatistics returns the stream's current statistics.
func (ds *DiskStream) GetStatistics() (DiskStreamStatistics, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if ds.disposed {
		return DiskStreamStatistics{}, ErrDisposed
	}
	info, err := ds.file.Stat()
	if err != nil {
		return DiskStreamStatistics{}, fmt.Errorf("%w: stat: %v", ErrIO, err)
	}
	return DiskStreamStatistics{
		Path:     ds.path,
		Size:     info.Size(),
		Readable: ds.readable,
		Writable: ds.writable,
		Seekable: true,
	}, nil
}

// Dispose closes the underlying file. After Dispose, reads, writes,
// SetLength, Flush and GetStatistics fail with ErrDisposed; LockRegion and
// UnlockRegion do not check for disposal and keep working on the in-memory
// lock table.
func (ds *DiskStream) Dispose() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.disposed {
		return nil
	}
	ds.disposed = true
	return ds.file.Close()
}
