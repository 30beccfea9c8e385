// Package files implements the metadata registry: one record per shareable
// object, owning its chunks.
package files

import (
	"context"
	"time"

	"github.com/skystar-p/hako/internal/server/models"
)

// Repository persists file metadata records.
//
// Get returns the record regardless of completion state; only the upload
// session may act on incomplete records, and the download side enforces
// the visibility rule before handing anything out.
type Repository interface {
	// Create persists a new record. Field sizes are validated at write time.
	Create(ctx context.Context, file *models.File) error
	// Get loads a record by id, common.ErrorNotFound when absent.
	Get(ctx context.Context, id string) (*models.File, error)
	// MarkComplete flips upload_complete to true exactly once. Calling it
	// on a missing or already-complete record is an error.
	MarkComplete(ctx context.Context, id string) error
	// Delete removes the record and, by cascade, all its chunks.
	Delete(ctx context.Context, id string) error
	// SelectIncompleteBefore lists ids of incomplete uploads created before
	// the cutoff, for the cleanup sweep.
	SelectIncompleteBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}
