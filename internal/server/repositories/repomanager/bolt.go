package repomanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/skystar-p/hako/internal/server/repositories/chunks"
	"github.com/skystar-p/hako/internal/server/repositories/files"
)

// BoltRepositoryManager backs both repositories with a single embedded bbolt
// file, for deployments without a database server.
type BoltRepositoryManager struct {
	db     *bbolt.DB
	files  files.Repository
	chunks chunks.Repository
}

func (m *BoltRepositoryManager) Files() files.Repository { return m.files }

func (m *BoltRepositoryManager) Chunks() chunks.Repository { return m.chunks }

func (m *BoltRepositoryManager) Close() error { return m.db.Close() }

// Atomically runs fn over the shared repositories. Each bolt operation is
// its own serialized update transaction already; the sequence is not joined
// into one.
func (m *BoltRepositoryManager) Atomically(ctx context.Context, fn func(files.Repository, chunks.Repository) error) error {
	return fn(m.files, m.chunks)
}

// NewBoltRepositoryManager opens or creates the bbolt database at path.
// The parent directory is created if it does not exist.
func NewBoltRepositoryManager(path string) (*BoltRepositoryManager, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	fileRepo, err := files.NewBoltRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("file repo creation error: %w", err)
	}

	chunkRepo, err := chunks.NewBoltRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chunk repo creation error: %w", err)
	}

	return &BoltRepositoryManager{db: db, files: fileRepo, chunks: chunkRepo}, nil
}
