package interfaces

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned when a key is not found in the key/value store.
var ErrKeyNotFound = errors.New("key not found")

// ErrQuotaExceeded is returned by Set when writing the value would push the
// store past its configured capacity. Callers are expected to shrink the
// payload and retry rather than surface this error.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// KeyValueStorage defines the persistent medium the context store writes to.
// Values are opaque strings; the store is format-agnostic by design.
type KeyValueStorage interface {
	// Get retrieves a value by key, returns ErrKeyNotFound if absent.
	Get(ctx context.Context, key string) (string, error)

	// Set inserts or updates a key/value pair. Returns ErrQuotaExceeded when
	// the write would exceed the configured capacity.
	Set(ctx context.Context, key string, value string) error

	// Delete removes a key/value pair. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys returns all keys starting with the given prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)

	// Usage returns the approximate number of bytes stored and the
	// configured quota in bytes (0 quota means unlimited).
	Usage(ctx context.Context) (used int64, quota int64, err error)
}
