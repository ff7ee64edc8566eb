package storage

import "time"

// Options configures a database's on-disk layout and runtime durability
// behavior. Mirrors the handful of knobs spec.md names explicitly: page
// size, cache capacity, WAL enablement, and background flush cadence.
type Options struct {
	// PageSize is the fixed page slab size in bytes; must be a power of two
	// at least HeaderSize. Typical values are 4096 or 8192.
	PageSize int
	// MaxCacheSize is the buffer pool's page capacity, in pages. Zero is a
	// valid, literal zero-capacity cache (every GetPage is a read-through
	// miss); only a negative value is rejected, with ErrOutOfRange. Callers
	// that want the package default explicitly ask for it via
	// DefaultOptions, or leave the whole Options zero-valued so Open fills
	// it in.
	MaxCacheSize int
	// WALEnabled turns on write-ahead logging. Disabling it also disables
	// crash recovery via replay.
	WALEnabled bool
	// FlushInterval is the background flush loop's tick period.
	FlushInterval time.Duration
	// ReadOnly opens the database file O_RDONLY and rejects every mutating
	// operation (NewPage/SavePage/FreePage/Commit) with ErrReadOnly, mirroring
	// the teacher's OpenPagerReadOnly. Opening a not-yet-existing file
	// read-only fails with ErrReadOnly rather than creating it.
	ReadOnly bool
}

// DefaultOptions returns the configuration used when a caller supplies none.
func DefaultOptions() Options {
	return Options{
		PageSize:      4096,
		MaxCacheSize:  256,
		WALEnabled:    true,
		FlushInterval: 500 * time.Millisecond,
	}
}
