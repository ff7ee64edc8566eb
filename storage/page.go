package storage

import (
	"encoding/binary"
	"hash/crc32"
	"sync"
	"sync/atomic"
	"time"
)

// PageType identifies the kind of content a page holds.
type PageType byte

const (
	PageTypeEmpty              PageType = 0
	PageTypeData               PageType = 1
	PageTypeIndex              PageType = 2
	PageTypeCollection         PageType = 3
	PageTypeHeader             PageType = 4
	PageTypeLargeDocumentIndex PageType = 5
	PageTypeLargeDocumentData  PageType = 6
)

// HeaderSize is the fixed on-disk header every page carries ahead of its
// payload: page_type(1) + page_id(4) + prev_page_id(4) + next_page_id(4) +
// free_bytes(2) + item_count(2) + version(4) + created_at(8) +
// modified_at(8) + checksum(4) = 41 bytes.
const HeaderSize = 41

// Header field offsets, little-endian throughout.
const (
	offPageType   = 0
	offPageID     = 1
	offPrevPageID = 5
	offNextPageID = 9
	offFreeBytes  = 13
	offItemCount  = 15
	offVersion    = 17
	offCreatedAt  = 21
	offModifiedAt = 29
	offChecksum   = 37
)

// Page is a fixed-size slab of the database file, cached and mutated in
// memory by PageManager. Page id 0 is reserved and never assigned to a live
// page.
type Page struct {
	mu       sync.Mutex
	data     []byte
	pageSize int
	pinCount int32
	dirty    bool
	disposed bool
}

// New creates a fresh, clean page of the given id, size and type. The
// payload is zeroed and free_bytes is initialized to the full payload
// capacity. page_size < HeaderSize fails with ErrInvalidArgument.
func New(pageID uint32, pageSize int, pageType PageType) (*Page, error) {
	if pageSize < HeaderSize {
		return nil, ErrInvalidArgument
	}
	p := &Page{data: make([]byte, pageSize), pageSize: pageSize}
	p.data[offPageType] = byte(pageType)
	binary.LittleEndian.PutUint32(p.data[offPageID:], pageID)
	binary.LittleEndian.PutUint16(p.data[offFreeBytes:], uint16(pageSize-HeaderSize))
	now := nowTicks()
	binary.LittleEndian.PutUint64(p.data[offCreatedAt:], now)
	binary.LittleEndian.PutUint64(p.data[offModifiedAt:], now)
	p.updateChecksumLocked()
	return p, nil
}

// FromBytes parses an existing on-disk page image. It fails with
// ErrInvalidArgument if raw is smaller than HeaderSize or if the page_id
// stored in the header does not match pageID.
func FromBytes(pageID uint32, raw []byte) (*Page, error) {
	if len(raw) < HeaderSize {
		return nil, ErrInvalidArgument
	}
	stored := binary.LittleEndian.Uint32(raw[offPageID:])
	if stored != pageID {
		return nil, ErrInvalidArgument
	}
	p := &Page{data: make([]byte, len(raw)), pageSize: len(raw)}
	copy(p.data, raw)
	return p, nil
}

// nowTicks returns a monotonic-ish timestamp used for created_at/modified_at.
// It is wall-clock derived but only ever compared for ordering, never parsed
// back into a calendar time.
func nowTicks() uint64 {
	return uint64(time.Now().UnixNano())
}

func (p *Page) payloadCap() int { return p.pageSize - HeaderSize }

// Type returns the page's on-disk type.
func (p *Page) Type() PageType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PageType(p.data[offPageType])
}

// PageID returns the page's identifier.
func (p *Page) PageID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint32(p.data[offPageID:])
}

// PrevPageID returns the previous page id in a chain, 0 if none.
func (p *Page) PrevPageID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint32(p.data[offPrevPageID:])
}

// NextPageID returns the next page id in a chain, 0 if none.
func (p *Page) NextPageID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint32(p.data[offNextPageID:])
}

// FreeBytes returns the remaining payload capacity as tracked by the header
// (maintained by the higher layer via UpdateStats; opaque to the core).
func (p *Page) FreeBytes() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint16(p.data[offFreeBytes:])
}

// ItemCount returns the opaque item count tracked by the higher layer.
func (p *Page) ItemCount() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint16(p.data[offItemCount:])
}

// Version returns the commit version, incremented on every mutation commit.
func (p *Page) Version() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint32(p.data[offVersion:])
}

// CreatedAt returns the page's creation tick.
func (p *Page) CreatedAt() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint64(p.data[offCreatedAt:])
}

// ModifiedAt returns the page's last-modification tick.
func (p *Page) ModifiedAt() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint64(p.data[offModifiedAt:])
}

// Checksum returns the stored CRC-32 over the payload region.
func (p *Page) Checksum() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return binary.LittleEndian.Uint32(p.data[offChecksum:])
}

// IsDirty reports whether the page has unsaved mutations.
func (p *Page) IsDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirty
}

// PinCount returns the current pin reference count.
func (p *Page) PinCount() int32 {
	return atomic.LoadInt32(&p.pinCount)
}

// Pin increments the pin count, declaring the page must stay cache-resident.
func (p *Page) Pin() {
	atomic.AddInt32(&p.pinCount, 1)
}

// Unpin decrements the pin count, saturating at zero.
func (p *Page) Unpin() {
	for {
		cur := atomic.LoadInt32(&p.pinCount)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&p.pinCount, cur, cur-1) {
			return
		}
	}
}

// ReadData returns up to length bytes of payload starting at offset. Ranges
// outside the payload are clamped and yield an empty (not erroring) result.
func (p *Page) ReadData(offset, length int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return nil, ErrDisposed
	}
	capacity := p.payloadCap()
	if offset < 0 || offset >= capacity || length <= 0 {
		return []byte{}, nil
	}
	end := offset + length
	if end > capacity {
		end = capacity
	}
	out := make([]byte, end-offset)
	copy(out, p.data[HeaderSize+offset:HeaderSize+end])
	return out, nil
}

// GetDataSpan is the strict form of ReadData: an out-of-payload range fails
// with ErrOutOfRange instead of clamping.
func (p *Page) GetDataSpan(offset, length int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return nil, ErrDisposed
	}
	capacity := p.payloadCap()
	if offset < 0 || length < 0 || offset+length > capacity {
		return nil, ErrOutOfRange
	}
	out := make([]byte, length)
	copy(out, p.data[HeaderSize+offset:HeaderSize+offset+length])
	return out, nil
}

// WriteData writes bytes into the payload at offset, marking the page
// dirty. Writing past the payload capacity fails with ErrOutOfRange.
func (p *Page) WriteData(offset int, b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return ErrDisposed
	}
	capacity := p.payloadCap()
	if offset < 0 || offset+len(b) > capacity {
		return ErrOutOfRange
	}
	copy(p.data[HeaderSize+offset:], b)
	p.dirty = true
	return nil
}

// ClearData zeroes the payload, increments the version, resets the page to
// PageTypeEmpty with no chain links, and marks it dirty.
func (p *Page) ClearData() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return ErrDisposed
	}
	for i := HeaderSize; i < p.pageSize; i++ {
		p.data[i] = 0
	}
	p.data[offPageType] = byte(PageTypeEmpty)
	binary.LittleEndian.PutUint32(p.data[offPrevPageID:], 0)
	binary.LittleEndian.PutUint32(p.data[offNextPageID:], 0)
	binary.LittleEndian.PutUint16(p.data[offFreeBytes:], uint16(p.payloadCap()))
	binary.LittleEndian.PutUint16(p.data[offItemCount:], 0)
	p.bumpVersionLocked()
	p.dirty = true
	return nil
}

// UpdatePageType sets the page's type and marks it dirty.
func (p *Page) UpdatePageType(t PageType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return ErrDisposed
	}
	p.data[offPageType] = byte(t)
	p.dirty = true
	return nil
}

// SetLinks sets the prev/next chain pointers and marks the page dirty.
func (p *Page) SetLinks(prev, next uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return ErrDisposed
	}
	binary.LittleEndian.PutUint32(p.data[offPrevPageID:], prev)
	binary.LittleEndian.PutUint32(p.data[offNextPageID:], next)
	p.dirty = true
	return nil
}

// UpdateStats sets the opaque free_bytes/item_count fields the higher layer
// maintains, and marks the page dirty.
func (p *Page) UpdateStats(freeBytes, itemCount uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return ErrDisposed
	}
	binary.LittleEndian.PutUint16(p.data[offFreeBytes:], freeBytes)
	binary.LittleEndian.PutUint16(p.data[offItemCount:], itemCount)
	p.dirty = true
	return nil
}

// UpdateHeader bumps version and modified_at and marks the page dirty,
// without touching any other field. Call after any out-of-band payload
// mutation that bypassed WriteData.
func (p *Page) UpdateHeader() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return ErrDisposed
	}
	p.bumpVersionLocked()
	p.dirty = true
	return nil
}

func (p *Page) bumpVersionLocked() {
	v := binary.LittleEndian.Uint32(p.data[offVersion:])
	binary.LittleEndian.PutUint32(p.data[offVersion:], v+1)
	binary.LittleEndian.PutUint64(p.data[offModifiedAt:], nowTicks())
}

// UpdateChecksum recomputes the CRC-32 over the payload region and stores it
// in the header.
func (p *Page) UpdateChecksum() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return ErrDisposed
	}
	p.updateChecksumLocked()
	return nil
}

func (p *Page) updateChecksumLocked() {
	sum := crc32.ChecksumIEEE(p.data[HeaderSize:])
	binary.LittleEndian.PutUint32(p.data[offChecksum:], sum)
}

// VerifyIntegrity recomputes the CRC-32 over the payload and reports whether
// it matches the stored checksum.
func (p *Page) VerifyIntegrity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sum := crc32.ChecksumIEEE(p.data[HeaderSize:])
	return sum == binary.LittleEndian.Uint32(p.data[offChecksum:])
}

// Snapshot returns a byte image of the page: the full page_size if
// includeAll is true, otherwise the header plus the used payload prefix
// implied by free_bytes. The returned slice is a copy, safe to retain.
func (p *Page) Snapshot(includeAll bool) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if includeAll {
		out := make([]byte, p.pageSize)
		copy(out, p.data)
		return out
	}
	free := int(binary.LittleEndian.Uint16(p.data[offFreeBytes:]))
	used := p.payloadCap() - free
	if used < 0 {
		used = 0
	}
	n := HeaderSize + used
	if n > p.pageSize {
		n = p.pageSize
	}
	out := make([]byte, n)
	copy(out, p.data[:n])
	return out
}

// Clone produces a detached, deeply-copied page with pin_count=0 and
// dirty=false.
func (p *Page) Clone() *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	dup := make([]byte, p.pageSize)
	copy(dup, p.data)
	return &Page{data: dup, pageSize: p.pageSize}
}

// Dispose marks the page disposed; subsequent data operations fail with
// ErrDisposed.
func (p *Page) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = true
}

// markClean clears the dirty flag after a successful save.
func (p *Page) markClean() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty = false
}

// Disposed reports whether Dispose has been called.
func (p *Page) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// rawBytes returns the full backing slice without copying. Internal use
// only (PageManager writing to disk, WAL snapshotting).
func (p *Page) rawBytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

// PageSize returns the page's configured size.
func (p *Page) PageSize() int {
	return p.pageSize
}
