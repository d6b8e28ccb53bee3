package memory

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/interfaces"
)

// Manager implements the StorageManager interface over the in-memory backend.
type Manager struct {
	kv     interfaces.KeyValueStorage
	logger arbor.ILogger
}

// NewManager creates an in-memory storage manager.
func NewManager(logger arbor.ILogger, quota int64) interfaces.StorageManager {
	logger.Info().Int64("quota_bytes", quota).Msg("In-memory storage manager initialized")
	return &Manager{
		kv:     NewKVStorage(logger, quota),
		logger: logger,
	}
}

// KeyValue returns the key/value storage interface.
func (m *Manager) KeyValue() interfaces.KeyValueStorage {
	return m.kv
}

// Maintain is a no-op for the in-memory backend.
func (m *Manager) Maintain(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *Manager) Close() error {
	return nil
}

var _ interfaces.StorageManager = (*Manager)(nil)
