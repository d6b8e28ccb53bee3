package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/common"
	"github.com/ternarybob/memoria/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger.
type Manager struct {
	db     *BadgerDB
	kv     interfaces.KeyValueStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager.
func NewManager(logger arbor.ILogger, config *common.StorageConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, &config.Badger)
	if err != nil {
		return nil, err
	}

	kv, err := NewKVStorage(db, logger, config.QuotaBytes)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("path", config.Badger.Path).Msg("Badger storage manager initialized")

	return &Manager{
		db:     db,
		kv:     kv,
		logger: logger,
	}, nil
}

// KeyValue returns the key/value storage interface.
func (m *Manager) KeyValue() interfaces.KeyValueStorage {
	return m.kv
}

// Maintain runs value log garbage collection.
func (m *Manager) Maintain(ctx context.Context) error {
	return m.db.RunGC(ctx)
}

// Close closes the database connection.
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing Badger storage manager")
	return m.db.Close()
}

var _ interfaces.StorageManager = (*Manager)(nil)
