package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("persistence: duplicate")
	// ErrConflict is returned when a write violates a referential or check constraint.
	ErrConflict = errors.New("persistence: constraint violation")
	// ErrTimeout is returned when the caller's deadline expired mid-transaction.
	ErrTimeout = errors.New("persistence: timeout")
	// ErrUnavailable is returned when the backing engine cannot be reached.
	ErrUnavailable = errors.New("persistence: unavailable")
	// ErrReadOnly is returned when a write is attempted outside a transaction.
	ErrReadOnly = errors.New("persistence: read-only handle")
)
