package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when no snapshot has been written yet.
	ErrNotFound = errors.New("snapshot not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)
