package state

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Read when the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrLockTimeout is returned when a document lock could not be acquired
	// within the configured wait bound.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrInvalidName is returned for document or stream names that cannot be
	// mapped safely onto a file name.
	ErrInvalidName = errors.New("invalid document name")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)

// LockTimeoutError describes a lock wait that exceeded its bound.
type LockTimeoutError struct {
	Document string        // Document (or ledger stream) being locked
	Waited   time.Duration // How long the caller waited
}

// Error implements the error interface.
func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock timeout on %q after %s", e.Document, e.Waited)
}

// Unwrap returns ErrLockTimeout so callers can use errors.Is.
func (e *LockTimeoutError) Unwrap() error {
	return ErrLockTimeout
}

// CorruptionError describes a persisted document that could not be decoded.
// It is logged and recovered from, never returned to decision callers.
type CorruptionError struct {
	Document string
	Cause    error
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	return fmt.Sprintf("document %q is corrupt: %v", e.Document, e.Cause)
}

// Unwrap returns the underlying decode error.
func (e *CorruptionError) Unwrap() error {
	return e.Cause
}

// StorageError represents an I/O failure in a storage backend.
type StorageError struct {
	Backend   string // "file", "memory"
	Operation string // "read", "write", "lock", "delete", "list", "append"
	Document  string
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s, document=%s]: %v",
		e.Backend, e.Operation, e.Document, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation, document string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Document:  document,
		Cause:     cause,
	}
}
