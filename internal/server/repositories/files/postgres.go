package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/dbx"
	"github.com/skystar-p/hako/internal/server/models"
)

// PostgresRepository implements file metadata storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	if err := validateSizes(file); err != nil {
		return err
	}
	query := `
		INSERT INTO files (id, encrypted_filename, filename_nonce, salt, stream_nonce, chunk_size, upload_complete, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := r.db.ExecContext(ctx, query,
		file.ID, file.EncryptedFilename, file.FilenameNonce, file.Salt, file.StreamNonce,
		file.ChunkSize, file.UploadComplete, file.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert file: %v", common.ErrorStorage, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.File, error) {
	query := `
		SELECT id, encrypted_filename, filename_nonce, salt, stream_nonce, chunk_size, upload_complete, created_at
		FROM files WHERE id = $1
	`
	item := &models.File{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.EncryptedFilename, &item.FilenameNonce, &item.Salt, &item.StreamNonce,
		&item.ChunkSize, &item.UploadComplete, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select file: %v", common.ErrorStorage, err)
	}
	return item, nil
}

// MarkComplete sets upload_complete exactly once. Exactly one row must be
// affected; zero means the record is missing or was already finalized.
func (r *PostgresRepository) MarkComplete(ctx context.Context, id string) error {
	query := `UPDATE files SET upload_complete = true WHERE id = $1 AND NOT upload_complete`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: mark complete: %v", common.ErrorStorage, err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", common.ErrorStorage, err)
	}
	if ra != 1 {
		return fmt.Errorf("%w: mark complete affected %d rows", common.ErrorStorage, ra)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete file: %v", common.ErrorStorage, err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", common.ErrorStorage, err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) SelectIncompleteBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	query := `SELECT id FROM files WHERE NOT upload_complete AND created_at < $1`
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: select incomplete: %v", common.ErrorStorage, err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan id: %v", common.ErrorStorage, err)
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", common.ErrorStorage, err)
	}
	return result, nil
}

func validateSizes(file *models.File) error {
	if len(file.Salt) != common.SaltSize {
		return fmt.Errorf("%w: salt must be %d bytes, got %d",
			common.ErrorValidation, common.SaltSize, len(file.Salt))
	}
	if len(file.StreamNonce) != common.StreamNonceSize {
		return fmt.Errorf("%w: stream nonce must be %d bytes, got %d",
			common.ErrorValidation, common.StreamNonceSize, len(file.StreamNonce))
	}
	if len(file.FilenameNonce) != common.FilenameNonceSize {
		return fmt.Errorf("%w: filename nonce must be %d bytes, got %d",
			common.ErrorValidation, common.FilenameNonceSize, len(file.FilenameNonce))
	}
	if file.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d",
			common.ErrorValidation, file.ChunkSize)
	}
	return nil
}
