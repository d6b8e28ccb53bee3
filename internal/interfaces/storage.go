package interfaces

import "context"

// StorageManager owns the lifecycle of the persistence backends.
type StorageManager interface {
	// KeyValue returns the key/value storage the context store writes to.
	KeyValue() KeyValueStorage

	// Maintain runs backend housekeeping such as garbage collection.
	Maintain(ctx context.Context) error

	// Close releases storage resources.
	Close() error
}
