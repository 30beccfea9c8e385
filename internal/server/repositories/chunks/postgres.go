package chunks

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/dbx"
	"github.com/skystar-p/hako/internal/server/models"
)

// pgUniqueViolation is the Postgres error code raised by the
// UNIQUE (file_id, seq) constraint.
const pgUniqueViolation = "23505"

// PostgresRepository implements chunk storage over a dbx.DBTX. Ordering and
// uniqueness ride on the (file_id, seq) unique index; cascade deletion is
// handled by the files foreign key.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Put(ctx context.Context, chunk *models.Chunk) error {
	query := `
		INSERT INTO chunks (file_id, seq, is_last, content)
		VALUES ($1, $2, $3, $4);
	`
	_, err := r.db.ExecContext(ctx, query, chunk.FileID, chunk.Seq, chunk.IsLast, chunk.Content)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: chunk (%s, %d)", common.ErrorDuplicate, chunk.FileID, chunk.Seq)
		}
		return fmt.Errorf("%w: insert chunk: %v", common.ErrorStorage, err)
	}
	return nil
}

func (r *PostgresRepository) Stats(ctx context.Context, fileID string) (Stats, error) {
	query := `
		SELECT count(*),
		       COALESCE(SUM(octet_length(content)), 0),
		       COALESCE(MAX(seq), -1),
		       count(*) FILTER (WHERE is_last),
		       COALESCE(MAX(seq) FILTER (WHERE is_last), -1)
		FROM chunks WHERE file_id = $1
	`
	var s Stats
	err := r.db.QueryRowContext(ctx, query, fileID).Scan(
		&s.Count, &s.TotalSize, &s.MaxSeq, &s.LastCount, &s.LastSeq)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: chunk stats: %v", common.ErrorStorage, err)
	}
	return s, nil
}

func (r *PostgresRepository) ForEach(ctx context.Context, fileID string, fn func(chunk *models.Chunk) error) error {
	query := `
		SELECT file_id, seq, is_last, content
		FROM chunks WHERE file_id = $1 ORDER BY seq ASC
	`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return fmt.Errorf("%w: select chunks: %v", common.ErrorStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		item := &models.Chunk{}
		if err := rows.Scan(&item.FileID, &item.Seq, &item.IsLast, &item.Content); err != nil {
			return fmt.Errorf("%w: scan chunk: %v", common.ErrorStorage, err)
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: rows: %v", common.ErrorStorage, err)
	}
	return nil
}

func (r *PostgresRepository) DeleteByFileID(ctx context.Context, fileID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("%w: delete chunks: %v", common.ErrorStorage, err)
	}
	return nil
}
