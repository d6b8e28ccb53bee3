// Package memory provides an in-memory storage backend with the same quota
// semantics as the Badger backend. Nothing survives a restart; it exists for
// tests and ephemeral deployments.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/interfaces"
)

// KVStorage implements KeyValueStorage over a mutex-guarded map.
type KVStorage struct {
	logger arbor.ILogger
	quota  int64

	mu     sync.Mutex
	values map[string]string
	used   int64
}

// NewKVStorage creates an in-memory key/value store. A quota of 0 disables
// quota enforcement.
func NewKVStorage(logger arbor.ILogger, quota int64) *KVStorage {
	return &KVStorage{
		logger: logger,
		quota:  quota,
		values: make(map[string]string),
	}
}

// Get retrieves a value by key.
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", interfaces.ErrKeyNotFound
	}
	return value, nil
}

// Set inserts or updates a key/value pair, enforcing the byte quota.
func (s *KVStorage) Set(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldSize := int64(len(s.values[key]))
	newSize := int64(len(value))
	if s.quota > 0 && s.used-oldSize+newSize > s.quota {
		return interfaces.ErrQuotaExceeded
	}

	s.values[key] = value
	s.used = s.used - oldSize + newSize
	return nil
}

// Delete removes a key/value pair. Deleting a missing key is not an error.
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value, ok := s.values[key]; ok {
		s.used -= int64(len(value))
		delete(s.values, key)
	}
	return nil
}

// ListKeys returns all keys with the given prefix.
func (s *KVStorage) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Usage reports stored bytes and the configured quota.
func (s *KVStorage) Usage(ctx context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used, s.quota, nil
}

var _ interfaces.KeyValueStorage = (*KVStorage)(nil)
