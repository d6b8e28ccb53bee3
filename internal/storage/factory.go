package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/common"
	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/ternarybob/memoria/internal/storage/badger"
	"github.com/ternarybob/memoria/internal/storage/memory"
)

// NewStorageManager creates a storage manager based on config.
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	switch config.Storage.Type {
	case "badger", "":
		return badger.NewManager(logger, &config.Storage)
	case "memory":
		return memory.NewManager(logger, config.Storage.QuotaBytes), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (use 'badger' or 'memory')", config.Storage.Type)
	}
}
