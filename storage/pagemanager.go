package storage

import (
	"context"
	"fmt"
	"sync"
)

// PageManager is the buffer pool: an LRU page cache, a free-page list, and
// read-through/write-back allocation over a DiskStream. It generalizes the
// teacher's Pager (storage/pager.go) by dropping the collection/meta-page
// bookkeeping that belongs to the out-of-scope higher layer, keeping only
// the page-level cache, free list, and allocation machinery spec.md §4.4
// names.
type PageManager struct {
	mu       sync.Mutex
	disk     *DiskStream
	pageSize int
	cache    *pageCache
	readOnly bool

	totalPages uint32
	freeList   []uint32
}

// SetReadOnly marks the buffer pool read-only or read-write. While
// read-only, NewPage/SavePage/FreePage/RestorePage all fail with
// ErrReadOnly instead of touching disk, mirroring the teacher's
// Pager.readOnly guard (storage/pager.go's WritePage/AllocatePage).
func (pm *PageManager) SetReadOnly(readOnly bool) {
	pm.mu.Lock()
	pm.readOnly = readOnly
	pm.mu.Unlock()
}

// ReadOnly reports whether the buffer pool currently rejects writes.
func (pm *PageManager) ReadOnly() bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.readOnly
}

// NewPageManager constructs a buffer pool over disk. maxCacheSize < 0 fails
// with ErrOutOfRange; a pageSize that is not a power of two at least
// HeaderSize (including 0) fails with ErrInvalidArgument.
// Initialization scans the file for Empty pages to seed the free list;
// scan errors on individual pages are swallowed (the page is simply not
// added to the free list).
func NewPageManager(disk *DiskStream, pageSize int, maxCacheSize int) (*PageManager, error) {
	if pageSize < HeaderSize || pageSize&(pageSize-1) != 0 {
		return nil, ErrInvalidArgument
	}
	if maxCacheSize < 0 {
		return nil, ErrOutOfRange
	}
	pm := &PageManager{
		disk:     disk,
		pageSize: pageSize,
		cache:    newPageCache(maxCacheSize),
	}

	stats, err := disk.GetStatistics()
	if err != nil {
		return nil, err
	}
	if stats.Size == 0 {
		// Reserve page id 0's slot: id 0 is never a live page, but its
		// file offset must exist so the first allocated page lands at id 1.
		if err := disk.SetLength(int64(pageSize)); err != nil {
			return nil, err
		}
		pm.totalPages = 1
		return pm, nil
	}

	pm.totalPages = uint32(stats.Size / int64(pageSize))
	for id := uint32(1); id < pm.totalPages; id++ {
		buf := make([]byte, pageSize)
		if err := disk.ReadPage(int64(id)*int64(pageSize), buf); err != nil {
			continue
		}
		page, err := FromBytes(id, buf)
		if err != nil {
			continue
		}
		if page.Type() == PageTypeEmpty {
			pm.freeList = append(pm.freeList, id)
		}
	}
	return pm, nil
}

// GetPage returns the page for id, from cache if present (promoted to MRU,
// reference-identical) or read through from disk. id == 0 fails with
// ErrInvalidArgument. A corrupt on-disk page (parse or CRC failure) yields
// a fresh empty page rather than an error.
func (pm *PageManager) GetPage(id uint32, useCache bool) (*Page, error) {
	if id == 0 {
		return nil, ErrInvalidArgument
	}
	if useCache {
		if page, ok := pm.cache.get(id); ok {
			return page, nil
		}
	}

	buf := make([]byte, pm.pageSize)
	page, err := pm.readThrough(id, buf)
	if err != nil {
		return nil, err
	}
	if useCache {
		pm.cache.put(id, page)
	}
	return page, nil
}

func (pm *PageManager) readThrough(id uint32, buf []byte) (*Page, error) {
	if err := pm.disk.ReadPage(int64(id)*int64(pm.pageSize), buf); err != nil {
		return nil, err
	}
	page, err := FromBytes(id, buf)
	if err != nil || !page.VerifyIntegrity() {
		empty, nerr := New(id, pm.pageSize, PageTypeEmpty)
		if nerr != nil {
			return nil, nerr
		}
		return empty, nil
	}
	return page, nil
}

// GetPageAsync is the async variant of GetPage.
func (pm *PageManager) GetPageAsync(ctx context.Context, id uint32, useCache bool) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrCanceled
	}
	return pm.GetPage(id, useCache)
}

// SavePage commits a page: bumps version, recomputes CRC, writes the full
// page to disk, marks it clean, and updates the cache. A nil page fails
// with ErrArgumentNull; a disposed page returns silently. SavePage itself
// does not append to the WAL — per spec.md §9's resolution of that open
// question, the caller appends first.
//
// Callers that must append a WAL record ahead of the on-disk write (e.g.
// Database.Commit) bump the header and checksum themselves, via
// Page.UpdateHeader/Page.UpdateChecksum, before appending — so that the
// WAL-recorded image already carries the checksum it will be written and
// replayed with — and then call writePreparedPage instead of SavePage, so
// the version/checksum are not bumped a second time.
func (pm *PageManager) SavePage(page *Page) error {
	if page == nil {
		return ErrArgumentNull
	}
	if pm.ReadOnly() {
		return ErrReadOnly
	}
	if page.Disposed() {
		return nil
	}
	if err := page.UpdateHeader(); err != nil {
		return err
	}
	if err := page.UpdateChecksum(); err != nil {
		return err
	}
	return pm.writePreparedPage(page)
}

// writePreparedPage writes a page whose header and checksum are already
// up to date (see SavePage's doc comment) to disk, marks it clean, and
// updates the cache. A nil page fails with ErrArgumentNull; a disposed
// page returns silently.
func (pm *PageManager) writePreparedPage(page *Page) error {
	if page == nil {
		return ErrArgumentNull
	}
	if pm.ReadOnly() {
		return ErrReadOnly
	}
	if page.Disposed() {
		return nil
	}
	if err := pm.disk.WritePage(int64(page.PageID())*int64(pm.pageSize), page.Snapshot(true)); err != nil {
		return err
	}
	page.markClean()
	pm.cache.put(page.PageID(), page)
	return nil
}

// SavePageAsync is the async variant of SavePage.
func (pm *PageManager) SavePageAsync(ctx context.Context, page *Page) error {
	if err := ctx.Err(); err != nil {
		return ErrCanceled
	}
	return pm.SavePage(page)
}

// writePreparedPageAsync is the async variant of writePreparedPage.
func (pm *PageManager) writePreparedPageAsync(ctx context.Context, page *Page) error {
	if err := ctx.Err(); err != nil {
		return ErrCanceled
	}
	return pm.writePreparedPage(page)
}

// NewPage allocates a page: reused from the free list if available,
// otherwise extends the file by one page. The returned page is dirty and
// already inserted into the cache.
func (pm *PageManager) NewPage(pageType PageType) (*Page, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.readOnly {
		return nil, ErrReadOnly
	}

	if len(pm.freeList) > 0 {
		id := pm.freeList[0]
		pm.freeList = pm.freeList[1:]
		page, err := New(id, pm.pageSize, pageType)
		if err != nil {
			return nil, err
		}
		page.dirty = true
		pm.cache.put(id, page)
		return page, nil
	}

	id := pm.totalPages
	pm.totalPages++
	if err := pm.disk.SetLength(int64(pm.totalPages) * int64(pm.pageSize)); err != nil {
		pm.totalPages--
		return nil, err
	}
	page, err := New(id, pm.pageSize, pageType)
	if err != nil {
		pm.totalPages--
		return nil, err
	}
	page.dirty = true
	pm.cache.put(id, page)
	return page, nil
}

// FreePage writes an Empty header to disk for id, evicts it from cache, and
// pushes it onto the free list. Idempotent when the page is already Empty.
func (pm *PageManager) FreePage(id uint32) error {
	if id == 0 {
		return ErrInvalidArgument
	}
	if pm.ReadOnly() {
		return ErrReadOnly
	}
	empty, err := New(id, pm.pageSize, PageTypeEmpty)
	if err != nil {
		return err
	}
	if err := empty.UpdateChecksum(); err != nil {
		return err
	}
	if err := pm.disk.WritePage(int64(id)*int64(pm.pageSize), empty.Snapshot(true)); err != nil {
		return err
	}
	pm.cache.invalidate(id)

	pm.mu.Lock()
	pm.freeList = append(pm.freeList, id)
	pm.mu.Unlock()
	return nil
}

// RestorePage is the internal recovery entry point used by WAL replay. It
// writes raw bytes at id's offset (padding short buffers to page_size) and
// invalidates the cache entry so the next GetPage re-reads from disk.
func (pm *PageManager) RestorePage(id uint32, raw []byte) error {
	if id == 0 {
		return ErrInvalidArgument
	}
	if raw == nil {
		return ErrArgumentNull
	}
	if len(raw) > pm.pageSize {
		return ErrInvalidArgument
	}
	if pm.ReadOnly() {
		return ErrReadOnly
	}
	buf := raw
	if len(raw) < pm.pageSize {
		buf = make([]byte, pm.pageSize)
		copy(buf, raw)
	}
	pm.mu.Lock()
	for id >= pm.totalPages {
		pm.totalPages = id + 1
	}
	pm.mu.Unlock()
	if err := pm.disk.SetLength(int64(pm.totalPages) * int64(pm.pageSize)); err != nil {
		return err
	}
	if err := pm.disk.WritePage(int64(id)*int64(pm.pageSize), buf); err != nil {
		return err
	}
	pm.cache.invalidate(id)
	return nil
}

// ClearCache removes LRU entries until the cache holds at most keep pages.
func (pm *PageManager) ClearCache(keep int) {
	pm.cache.clear(keep)
}

// FlushDirtyPagesAsync scans the cache and writes back every dirty page.
// Disposed-page errors are tolerated (skipped), matching SavePage's
// silent-return contract.
func (pm *PageManager) FlushDirtyPagesAsync(ctx context.Context) error {
	for _, page := range pm.cache.snapshotPages() {
		if err := ctx.Err(); err != nil {
			return ErrCanceled
		}
		if !page.IsDirty() {
			continue
		}
		if err := pm.SavePageAsync(ctx, page); err != nil && err != ErrDisposed {
			return err
		}
	}
	return nil
}

// PageManagerStatistics is the human/log-facing statistics surface for a
// PageManager, extended per SPEC_FULL.md §9 with the teacher's cache
// hit/miss counters.
type PageManagerStatistics struct {
	TotalPages      uint32
	CachedPages     int
	FreePages       int
	MaxCacheSize    int
	FirstFreePageID uint32
	CacheHits       uint64
	CacheMisses     uint64
}

func (s PageManagerStatistics) String() string {
	return fmt.Sprintf("PageManager[total=%d pages, cached=%d/%d, free=%d, first_free=%d]",
		s.TotalPages, s.CachedPages, s.MaxCacheSize, s.FreePages, s.FirstFreePageID)
}

// GetStatistics returns the buffer pool's current statistics.
func (pm *PageManager) GetStatistics() PageManagerStatistics {
	pm.mu.Lock()
	first := uint32(0)
	if len(pm.freeList) > 0 {
		first = pm.freeList[0]
	}
	free := len(pm.freeList)
	total := pm.totalPages
	pm.mu.Unlock()

	hits, misses, cached, capacity := pm.cache.stats()
	return PageManagerStatistics{
		TotalPages:      total,
		CachedPages:     cached,
		FreePages:       free,
		MaxCacheSize:    capacity,
		FirstFreePageID: first,
		CacheHits:       hits,
		CacheMisses:     misses,
	}
}
