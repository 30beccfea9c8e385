package repomanager

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/skystar-p/hako/internal/server/repositories/chunks"
	"github.com/skystar-p/hako/internal/server/repositories/files"
)

func TestPostgresAtomically_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	m := &PostgresRepositoryManager{
		db:     db,
		files:  files.NewPostgresRepository(db),
		chunks: chunks.NewPostgresRepository(db),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE files SET upload_complete`).
		WithArgs("f1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	err = m.Atomically(ctx, func(fr files.Repository, _ chunks.Repository) error {
		return fr.MarkComplete(ctx, "f1")
	})
	if err != nil {
		t.Fatalf("Atomically: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresAtomically_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	m := &PostgresRepositoryManager{
		db:     db,
		files:  files.NewPostgresRepository(db),
		chunks: chunks.NewPostgresRepository(db),
	}

	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := errors.New("boom")
	err = m.Atomically(context.Background(), func(files.Repository, chunks.Repository) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Atomically must surface the callback error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
