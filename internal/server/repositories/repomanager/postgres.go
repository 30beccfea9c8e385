package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/skystar-p/hako/internal/dbx"
	"github.com/skystar-p/hako/internal/server/migrations"
	"github.com/skystar-p/hako/internal/server/repositories/chunks"
	"github.com/skystar-p/hako/internal/server/repositories/files"
)

// PostgresRepositoryManager backs both repositories with Postgres. When S3
// settings are supplied, chunk content is offloaded to object storage while
// metadata stays relational; the chunk repository then performs its own
// cascade since no foreign key covers the offloaded objects.
type PostgresRepositoryManager struct {
	db       *sql.DB
	files    files.Repository
	chunks   chunks.Repository
	s3Chunks bool
}

func (m *PostgresRepositoryManager) Conn() *sql.DB { return m.db }

func (m *PostgresRepositoryManager) Files() files.Repository { return m.files }

func (m *PostgresRepositoryManager) Chunks() chunks.Repository { return m.chunks }

func (m *PostgresRepositoryManager) Close() error { return m.db.Close() }

// Atomically runs fn inside one database transaction, binding both
// repositories to it. With S3-offloaded chunks only the metadata side is
// transactional; object storage has no transactions to join.
func (m *PostgresRepositoryManager) Atomically(ctx context.Context, fn func(files.Repository, chunks.Repository) error) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		cr := m.chunks
		if !m.s3Chunks {
			cr = chunks.NewPostgresRepository(tx)
		}
		return fn(files.NewPostgresRepository(tx), cr)
	})
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return err
	}

	return nil
}

// NewPostgresRepositoryManager opens the database, runs pending migrations
// and wires the repositories. s3Settings may be nil to store chunks in
// Postgres as well.
func NewPostgresRepositoryManager(ctx context.Context, dsn string, s3Settings *chunks.S3Settings) (*PostgresRepositoryManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	m := &PostgresRepositoryManager{
		db:    db,
		files: files.NewPostgresRepository(db),
	}

	if s3Settings != nil {
		chunkRepo, err := chunks.NewS3Repository(ctx, *s3Settings)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("s3 chunk repo creation error: %w", err)
		}
		m.chunks = chunkRepo
		m.s3Chunks = true
	} else {
		m.chunks = chunks.NewPostgresRepository(db)
	}

	if err := m.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return m, nil
}
