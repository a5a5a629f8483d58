package store

import "fmt"

// StorageError wraps a failure of the underlying SQLite engine with the
// store operation that hit it. Everything the adapter returns that is not a
// DataIntegrityError is a StorageError.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error { return e.Cause }
