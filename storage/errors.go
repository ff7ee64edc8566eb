package storage

import "errors"

// Sentinel errors returned at public API boundaries. Callers branch on kind
// with errors.Is, not by matching strings.
var (
	// ErrInvalidArgument signals a zero page id, an oversized restore buffer,
	// or an unknown lock handle.
	ErrInvalidArgument = errors.New("storage: invalid argument")

	// ErrArgumentNull signals a nil page or byte buffer at a public boundary.
	ErrArgumentNull = errors.New("storage: argument is nil")

	// ErrOutOfRange signals a negative cache size, a strict span read past
	// the payload bounds, or an unknown WriteConcern value.
	ErrOutOfRange = errors.New("storage: out of range")

	// ErrDisposed signals an operation on a disposed stream, page, or
	// scheduler, or a journal flush requested after dispose while pending
	// entries still exist.
	ErrDisposed = errors.New("storage: disposed")

	// ErrIO signals an OS-level read/write/open/lock failure. Wrapped
	// errors from the os package are joined under this sentinel via %w.
	ErrIO = errors.New("storage: io error")

	// ErrInvalidOperation signals a wrong page type for a large-document
	// operation, or a chain-length mismatch on a strict read.
	ErrInvalidOperation = errors.New("storage: invalid operation")

	// ErrCanceled signals cancellation of a flush, batch, or replay.
	ErrCanceled = errors.New("storage: canceled")

	// ErrReadOnly is returned when a write operation is attempted against a
	// database opened read-only.
	ErrReadOnly = errors.New("storage: database is read-only")
)
