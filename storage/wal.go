package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// walRecordType identifies the record kind on the wire. Only page-write
// records exist; spec.md §3/§6 fixes the header to 13 bytes with a single
// type byte (0x01).
const walRecordType byte = 0x01

// walHeaderLen is the exact on-disk record header size:
// type(1) + page_id(4) + length(4, i32) + crc32(4) = 13 bytes.
const walHeaderLen = 1 + 4 + 4 + 4

// WriteAheadLog is an append-only record log with fsync batching, replay,
// and truncate, generalizing the teacher's storage/wal.go to the spec's
// 13-byte wire format and per-instance LSN tracking.
type WriteAheadLog struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	enabled bool
	pageSz  int

	appendedLSN uint64
	flushedLSN  uint64
	pending     bool

	log *logrus.Entry
}

// walPath derives the WAL file path from the database path, per spec.md
// §4.3/§6: "{name}-wal.{ext}" in the same directory. A bare filename (or a
// path with no directory component) resolves the directory to "".
func walPath(dbPath string) string {
	dir := filepath.Dir(dbPath)
	base := filepath.Base(dbPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	name := stem + "-wal" + ext
	if dir == "." && !strings.Contains(dbPath, string(filepath.Separator)) {
		return name
	}
	return filepath.Join(dir, name)
}

// OpenWAL opens or creates the WAL file associated with dbPath. If enabled
// is false, the WAL is a no-op shell: Append/Truncate/Flush return
// immediately and Replay applies nothing.
func OpenWAL(dbPath string, pageSize int, enabled bool) (*WriteAheadLog, error) {
	w := &WriteAheadLog{
		path:    walPath(dbPath),
		enabled: enabled,
		pageSz:  pageSize,
		log:     logrus.WithField("component", "wal"),
	}
	if !enabled {
		return w, nil
	}
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open wal %s: %v", ErrIO, w.path, err)
	}
	w.file = f
	return w, nil
}

// maxRecordSize is the largest payload length a record may declare:
// page_size plus a fixed slack for headers the higher layer may snapshot.
func (w *WriteAheadLog) maxRecordSize() int {
	return w.pageSz + walHeaderLen
}

// AppendPage snapshots the page (including its current checksum) and
// appends a WAL record for it, assigning the next LSN. A no-op returning
// LSN 0 when the WAL is disabled.
func (w *WriteAheadLog) AppendPage(page *Page) (uint64, error) {
	if !w.enabled {
		return 0, nil
	}
	snap := page.Snapshot(true)
	if len(snap) == 0 || len(snap) > w.maxRecordSize() {
		return 0, ErrInvalidArgument
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := w.appendedLSN + 1
	if err := w.appendRecordLocked(page.PageID(), snap); err != nil {
		return 0, err
	}
	w.appendedLSN = lsn
	w.pending = true
	return lsn, nil
}

// AppendPageAsync is semantically identical to AppendPage.
func (w *WriteAheadLog) AppendPageAsync(ctx context.Context, page *Page) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, ErrCanceled
	}
	return w.AppendPage(page)
}

func (w *WriteAheadLog) appendRecordLocked(pageID uint32, payload []byte) error {
	buf := make([]byte, walHeaderLen+len(payload))
	buf[0] = walRecordType
	binary.LittleEndian.PutUint32(buf[1:], pageID)
	binary.LittleEndian.PutUint32(buf[5:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[9:], crc32.ChecksumIEEE(payload))
	copy(buf[walHeaderLen:], payload)

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("%w: seek end: %v", ErrIO, err)
	}
	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("%w: write record: %v", ErrIO, err)
	}
	return nil
}

// HasPendingEntries reports whether entries have been appended since the
// last truncate.
func (w *WriteAheadLog) HasPendingEntries() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending
}

// AppendedLSN returns the last assigned LSN.
func (w *WriteAheadLog) AppendedLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendedLSN
}

// FlushedLSN returns the last LSN whose fsync has completed.
func (w *WriteAheadLog) FlushedLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushedLSN
}

// FlushLogAsync flushes the buffered log tail to disk and fsyncs it,
// advancing flushed_LSN to the last appended LSN.
func (w *WriteAheadLog) FlushLogAsync(ctx context.Context) error {
	if !w.enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return ErrCanceled
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WriteAheadLog) flushLocked() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync wal: %v", ErrIO, err)
	}
	w.flushedLSN = w.appendedLSN
	return nil
}

// FlushToLSN is the fine-grained variant of FlushLogAsync: it returns
// immediately if target is already flushed, otherwise re-checks under the
// mutex (another flusher may have raced ahead) before flushing.
func (w *WriteAheadLog) FlushToLSN(ctx context.Context, target uint64) error {
	if !w.enabled {
		return nil
	}
	if w.FlushedLSN() >= target {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return ErrCanceled
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flushedLSN >= target {
		return nil
	}
	return w.flushLocked()
}

// ApplyFunc installs a page's after-image payload into the database during
// replay or synchronization.
type ApplyFunc func(pageID uint32, payload []byte) error

// SynchronizeAsync is the atomic sequence: flush the WAL, invoke the
// caller-supplied applyToPages callback (typically: write dirty pages back
// and fsync the data file), then truncate the WAL. Any failure aborts
// before truncation, preserving the WAL for recovery.
func (w *WriteAheadLog) SynchronizeAsync(ctx context.Context, applyToPages func(ctx context.Context) error) error {
	if err := w.FlushLogAsync(ctx); err != nil {
		return err
	}
	if applyToPages != nil {
		if err := applyToPages(ctx); err != nil {
			return err
		}
	}
	return w.TruncateAsync(ctx)
}

// TruncateAsync zero-sizes the WAL file. Only safe to call once all
// appended entries have been durably installed into the database file.
func (w *WriteAheadLog) TruncateAsync(ctx context.Context) error {
	if !w.enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return ErrCanceled
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate wal: %v", ErrIO, err)
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek wal: %v", ErrIO, err)
	}
	w.pending = false
	return nil
}

// Replay reads entries sequentially from offset zero and applies each
// validated record through applyFn. The first invalid or torn record stops
// replay; the WAL is truncated to the last good boundary. Cancellation is
// checked between entries.
func (w *WriteAheadLog) Replay(ctx context.Context, applyFn ApplyFunc) error {
	if !w.enabled {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek start: %v", ErrIO, err)
	}

	offset := int64(0)
	hdr := make([]byte, walHeaderLen)
	var lastGood int64
	var lastLSN uint64

	for {
		if err := ctx.Err(); err != nil {
			return ErrCanceled
		}
		n, err := w.file.ReadAt(hdr, offset)
		if n < walHeaderLen || err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: read record header: %v", ErrIO, err)
		}

		recType := hdr[0]
		pageID := binary.LittleEndian.Uint32(hdr[1:])
		length := int32(binary.LittleEndian.Uint32(hdr[5:]))
		storedCRC := binary.LittleEndian.Uint32(hdr[9:])

		if recType != walRecordType || length <= 0 || int(length) > w.maxRecordSize() {
			break
		}

		payload := make([]byte, length)
		pn, perr := w.file.ReadAt(payload, offset+walHeaderLen)
		if pn < int(length) || (perr != nil && perr != io.EOF) {
			break
		}
		if crc32.ChecksumIEEE(payload) != storedCRC {
			break
		}

		if err := applyFn(pageID, payload); err != nil {
			return err
		}

		lastLSN++
		offset += int64(walHeaderLen) + int64(length)
		lastGood = offset
	}

	w.log.WithField("stopped_at", lastGood).Info("wal replay complete")

	if lastGood < fileSize(w.file) {
		if err := w.file.Truncate(lastGood); err != nil {
			return fmt.Errorf("%w: truncate torn tail: %v", ErrIO, err)
		}
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("%w: seek end after replay: %v", ErrIO, err)
	}
	w.appendedLSN = lastLSN
	w.flushedLSN = lastLSN
	w.pending = lastGood > 0
	return nil
}

func fileSize(f *os.File) int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close closes the WAL file.
func (w *WriteAheadLog) Close() error {
	if !w.enabled {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Path returns the WAL's on-disk path.
func (w *WriteAheadLog) Path() string { return w.path }

// Enabled reports whether the WAL is active.
func (w *WriteAheadLog) Enabled() bool { return w.enabled }
