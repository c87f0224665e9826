package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/vigil/internal/common"
	"github.com/ternarybob/vigil/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	job     interfaces.JobStorage
	finding interfaces.FindingStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.Config) (*Manager, error) {
	db, err := NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, err
	}

	retries := config.Scan.PersistRetries

	manager := &Manager{
		db:      db,
		job:     NewJobStorage(db, logger, retries),
		finding: NewFindingStorage(db, logger, retries),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// FindingStorage returns the Finding storage interface
func (m *Manager) FindingStorage() interfaces.FindingStorage {
	return m.finding
}

// DB returns the underlying database connection for queue sharing
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
