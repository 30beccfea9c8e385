// Package repomanager wires a storage engine to the repository interfaces.
// The protocol above it is engine-agnostic: the same upload/download
// semantics run against Postgres, an embedded bbolt file, or Postgres
// metadata with S3-offloaded chunks.
package repomanager

import (
	"context"

	"github.com/skystar-p/hako/internal/server/repositories/chunks"
	"github.com/skystar-p/hako/internal/server/repositories/files"
)

type RepositoryManager interface {
	Files() files.Repository
	Chunks() chunks.Repository
	// Atomically runs fn against both repositories with the strongest
	// consistency the engine offers: a single transaction on Postgres,
	// plain sequential execution elsewhere.
	Atomically(ctx context.Context, fn func(files.Repository, chunks.Repository) error) error
	Close() error
}
