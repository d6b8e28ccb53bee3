package badger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// kvRecord is the stored representation of one key/value pair. Size caches
// len(Value) so quota accounting never re-reads the payload.
type kvRecord struct {
	Key       string `badgerhold:"key"`
	Value     string
	Size      int64
	UpdatedAt time.Time
}

// KVStorage implements the KeyValueStorage interface for Badger with byte
// quota accounting.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	quota  int64

	mu   sync.Mutex
	used int64
}

// NewKVStorage creates a KVStorage instance. A quota of 0 disables quota
// enforcement. Used bytes are recomputed from stored records on startup.
func NewKVStorage(db *BadgerDB, logger arbor.ILogger, quota int64) (interfaces.KeyValueStorage, error) {
	s := &KVStorage{
		db:     db,
		logger: logger,
		quota:  quota,
	}

	var records []kvRecord
	if err := db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to scan key/value records: %w", err)
	}
	for _, record := range records {
		s.used += record.Size
	}

	logger.Debug().
		Int("records", len(records)).
		Int64("used_bytes", s.used).
		Int64("quota_bytes", quota).
		Msg("Key/value storage initialized")
	return s, nil
}

// Get retrieves a value by key.
func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var record kvRecord
	err := s.db.Store().Get(key, &record)
	if err == badgerhold.ErrNotFound {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key: %w", err)
	}
	return record.Value, nil
}

// Set inserts or updates a key/value pair. Returns ErrQuotaExceeded without
// writing when the new total would pass the configured quota.
func (s *KVStorage) Set(ctx context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldSize int64
	var existing kvRecord
	err := s.db.Store().Get(key, &existing)
	if err == nil {
		oldSize = existing.Size
	} else if err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to check key existence: %w", err)
	}

	newSize := int64(len(value))
	if s.quota > 0 && s.used-oldSize+newSize > s.quota {
		return interfaces.ErrQuotaExceeded
	}

	record := kvRecord{
		Key:       key,
		Value:     value,
		Size:      newSize,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(key, &record); err != nil {
		return fmt.Errorf("failed to set key/value: %w", err)
	}

	s.used = s.used - oldSize + newSize
	return nil
}

// Delete removes a key/value pair. Deleting a missing key is not an error.
func (s *KVStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing kvRecord
	err := s.db.Store().Get(key, &existing)
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check key existence: %w", err)
	}

	if err := s.db.Store().Delete(key, kvRecord{}); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	s.used -= existing.Size
	return nil
}

// ListKeys returns all keys with the given prefix. An empty prefix returns
// every key.
func (s *KVStorage) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var records []kvRecord
	if err := s.db.Store().Find(&records, nil); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys := make([]string, 0, len(records))
	for _, record := range records {
		if strings.HasPrefix(record.Key, prefix) {
			keys = append(keys, record.Key)
		}
	}
	return keys, nil
}

// Usage reports the bytes currently stored and the configured quota. A quota
// of 0 means unlimited.
func (s *KVStorage) Usage(ctx context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used, s.quota, nil
}

var _ interfaces.KeyValueStorage = (*KVStorage)(nil)
