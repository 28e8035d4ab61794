package sqlite

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Manager implements the StorageManager interface
type Manager struct {
	db         *SQLiteDB
	jobs       interfaces.JobRepository
	objects    interfaces.ObjectRepository
	chunks     interfaces.ChunkRepository
	embeddings interfaces.EmbeddingRepository
	logger     arbor.ILogger
}

// NewManager creates a new SQLite storage manager
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (interfaces.StorageManager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	return &Manager{
		db:         db,
		jobs:       NewJobStorage(db, logger),
		objects:    NewObjectStorage(db, logger),
		chunks:     NewChunkStorage(db, logger),
		embeddings: NewEmbeddingStorage(db, logger),
		logger:     logger,
	}, nil
}

// Jobs returns the job repository
func (m *Manager) Jobs() interfaces.JobRepository {
	return m.jobs
}

// Objects returns the object repository
func (m *Manager) Objects() interfaces.ObjectRepository {
	return m.objects
}

// Chunks returns the chunk repository
func (m *Manager) Chunks() interfaces.ChunkRepository {
	return m.chunks
}

// Embeddings returns the embedding link repository
func (m *Manager) Embeddings() interfaces.EmbeddingRepository {
	return m.embeddings
}

// Ping verifies the database connection
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.Ping(ctx)
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
