package storage

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// Database owns the full storage stack for one database file: the on-disk
// stream, the buffer pool, the write-ahead log, and the background flush
// scheduler. It is the single entry point spec.md's components are wired
// behind, generalizing the teacher's OpenPager/Pager constructor pair.
type Database struct {
	disk  *DiskStream
	pm    *PageManager
	wal   *WriteAheadLog
	flush *FlushScheduler
	large *LargeDocumentStorage
	lock  *fileLock

	opts Options
	log  *logrus.Entry
}

// Open opens (creating if absent) the database file at path under opts,
// replaying its WAL before returning. A second Open of the same path from
// another process fails with ErrIO (exclusive OS-level lock held).
func Open(path string, opts Options) (*Database, error) {
	if opts.PageSize == 0 {
		opts = DefaultOptions()
	}

	lock, err := lockFile(path)
	if err != nil {
		return nil, err
	}

	flags := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flags = os.O_RDONLY
		if _, err := os.Stat(path); os.IsNotExist(err) {
			lock.unlock()
			return nil, ErrReadOnly
		}
	}
	disk, err := OpenDiskStream(path, flags, 0644)
	if err != nil {
		lock.unlock()
		return nil, err
	}

	if opts.ReadOnly {
		stats, err := disk.GetStatistics()
		if err != nil {
			disk.Dispose()
			lock.unlock()
			return nil, err
		}
		if stats.Size == 0 {
			disk.Dispose()
			lock.unlock()
			return nil, ErrReadOnly
		}
	}

	pm, err := NewPageManager(disk, opts.PageSize, opts.MaxCacheSize)
	if err != nil {
		disk.Dispose()
		lock.unlock()
		return nil, err
	}
	pm.SetReadOnly(opts.ReadOnly)

	wal, err := OpenWAL(path, opts.PageSize, opts.WALEnabled)
	if err != nil {
		disk.Dispose()
		lock.unlock()
		return nil, err
	}

	db := &Database{
		disk:  disk,
		pm:    pm,
		wal:   wal,
		large: NewLargeDocumentStorage(pm, opts.PageSize),
		lock:  lock,
		opts:  opts,
		log:   logrus.WithField("component", "database"),
	}

	if err := db.recover(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	fs, err := NewFlushScheduler(pm, wal, opts.FlushInterval)
	if err != nil {
		db.Close()
		return nil, err
	}
	db.flush = fs

	return db, nil
}

// OpenMemory opens an ephemeral, non-persistent database backed by an
// in-memory file, used for :memory: databases and tests. name is used only
// to derive a (never-created) WAL path.
func OpenMemory(name string, opts Options) (*Database, error) {
	if opts.PageSize == 0 {
		opts = DefaultOptions()
	}
	disk := NewMemoryDiskStream(name, NewMemFile())

	pm, err := NewPageManager(disk, opts.PageSize, opts.MaxCacheSize)
	if err != nil {
		return nil, err
	}
	wal, err := OpenWAL(name, opts.PageSize, false)
	if err != nil {
		return nil, err
	}
	db := &Database{
		disk:  disk,
		pm:    pm,
		wal:   wal,
		large: NewLargeDocumentStorage(pm, opts.PageSize),
		opts:  opts,
		log:   logrus.WithField("component", "database"),
	}
	fs, err := NewFlushScheduler(pm, wal, opts.FlushInterval)
	if err != nil {
		return nil, err
	}
	db.flush = fs
	return db, nil
}

// recover replays the WAL into the buffer pool before the database accepts
// new operations, per spec.md §4.3/§5.
func (db *Database) recover(ctx context.Context) error {
	return db.wal.Replay(ctx, func(pageID uint32, payload []byte) error {
		return db.pm.RestorePage(pageID, payload)
	})
}

// Pages returns the underlying buffer pool.
func (db *Database) Pages() *PageManager { return db.pm }

// WAL returns the underlying write-ahead log.
func (db *Database) WAL() *WriteAheadLog { return db.wal }

// LargeDocuments returns the large-document storage layer.
func (db *Database) LargeDocuments() *LargeDocumentStorage { return db.large }

// EnsureDurability drives the background flush scheduler to the requested
// write concern without committing a specific page, for callers (the CLI,
// periodic maintenance) that want a standalone durability checkpoint.
func (db *Database) EnsureDurability(ctx context.Context, concern WriteConcern) error {
	return db.flush.EnsureDurability(ctx, concern)
}

// Commit saves page and, when concern requires it, appends a WAL record
// before driving the requested durability level. This is the one call site
// that satisfies spec.md §4.4's "the caller is expected to have already
// appended the page to the WAL" contract ahead of save_page.
//
// The page's header and checksum are bumped once, up front, so the image
// handed to AppendPage is the exact image that will land on disk: if a
// crash occurs after the WAL record is durable but before the disk write
// completes, replaying that record reinstalls a page whose stored checksum
// matches its payload (pagemanager.go's readThrough/VerifyIntegrity would
// otherwise reject a stale-checksum image as corrupt and silently drop the
// committed write).
func (db *Database) Commit(ctx context.Context, page *Page, concern WriteConcern) error {
	if db.opts.ReadOnly {
		return ErrReadOnly
	}
	if err := page.UpdateHeader(); err != nil {
		return err
	}
	if err := page.UpdateChecksum(); err != nil {
		return err
	}
	if concern != WriteConcernNone && db.wal.Enabled() {
		if _, err := db.wal.AppendPageAsync(ctx, page); err != nil {
			return err
		}
	}
	if err := db.pm.writePreparedPageAsync(ctx, page); err != nil {
		return err
	}
	return db.flush.EnsureDurability(ctx, concern)
}

// Close drives a final synchronized flush and releases all resources.
// Idempotent-safe to call once.
func (db *Database) Close() error {
	if db.flush != nil {
		db.flush.Dispose()
	}
	ctx := context.Background()
	if db.wal != nil && db.wal.Enabled() {
		_ = db.wal.SynchronizeAsync(ctx, func(ctx context.Context) error {
			if err := db.pm.FlushDirtyPagesAsync(ctx); err != nil {
				return err
			}
			return db.disk.FlushAsync(ctx)
		})
		_ = db.wal.Close()
	} else {
		_ = db.pm.FlushDirtyPagesAsync(ctx)
		_ = db.disk.FlushAsync(ctx)
	}
	err := db.disk.Dispose()
	if db.lock != nil {
		db.lock.unlock()
	}
	return err
}
