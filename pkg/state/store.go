package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

// UpdateFunc receives the current encoded document (nil when it does not
// exist yet) and returns the bytes to persist. Returning nil bytes with a nil
// error leaves the document untouched.
type UpdateFunc func(current []byte) ([]byte, error)

// Store persists named documents with exclusive per-document updates.
type Store interface {
	// Update runs fn while holding the document's exclusive lock and
	// atomically persists its result. The lock is released on every exit
	// path, including a panic in fn.
	Update(ctx context.Context, name string, fn UpdateFunc) error

	// Read returns the current document without locking.
	// Returns ErrNotFound if the document does not exist.
	Read(ctx context.Context, name string) ([]byte, error)

	// Delete removes a document under its lock. Deleting a missing
	// document is not an error.
	Delete(ctx context.Context, name string) error

	// DeleteIf removes a document under its lock when remove, given the
	// current document, returns true. It reports whether the document was
	// removed.
	DeleteIf(ctx context.Context, name string, remove func(current []byte) bool) (bool, error)

	// List returns the documents whose names start with prefix,
	// sorted by name.
	List(ctx context.Context, prefix string) ([]DocumentInfo, error)

	// Close releases any resources held by the store.
	Close() error
}

// DocumentInfo describes a stored document.
type DocumentInfo struct {
	Name    string
	ModTime time.Time
	Size    int64
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName reports whether name can be used as a document or stream name.
func ValidateName(name string) error {
	if len(name) > 200 || !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// WithLockedUpdate loads the named JSON document (or a fresh one from
// defaults), applies mutate and writes the result back, all under the
// document's exclusive lock. A document that fails to decode is logged and
// replaced by defaults. If mutate returns an error nothing is written.
func WithLockedUpdate[T any](ctx context.Context, s Store, name string, defaults func() *T, mutate func(*T) error) (*T, error) {
	var result *T
	err := s.Update(ctx, name, func(current []byte) ([]byte, error) {
		doc := decodeOrDefault(name, current, defaults)
		if err := mutate(doc); err != nil {
			return nil, err
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		result = doc
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// WithLockedRead decodes the named document while holding its lock, giving a
// read that is ordered with respect to concurrent updates. Nothing is written.
func WithLockedRead[T any](ctx context.Context, s Store, name string, defaults func() *T) (*T, error) {
	var result *T
	err := s.Update(ctx, name, func(current []byte) ([]byte, error) {
		result = decodeOrDefault(name, current, defaults)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReadBestEffort decodes the named document without locking. Any failure,
// including a torn read racing a writer, yields defaults.
func ReadBestEffort[T any](ctx context.Context, s Store, name string, defaults func() *T) *T {
	data, err := s.Read(ctx, name)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger().Warn("best-effort read failed, using defaults",
				"document", name,
				"error", err,
			)
		}
		return defaults()
	}
	return decodeOrDefault(name, data, defaults)
}

func decodeOrDefault[T any](name string, data []byte, defaults func() *T) *T {
	if len(data) == 0 {
		return defaults()
	}
	doc := defaults()
	if err := json.Unmarshal(data, doc); err != nil {
		logger().Warn("recovering corrupt document from defaults",
			"error", &CorruptionError{Document: name, Cause: err},
		)
		return defaults()
	}
	return doc
}

func logger() *slog.Logger {
	return slog.Default().With("component", "state")
}
