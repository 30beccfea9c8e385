package services

import (
	"context"
	"errors"
	"time"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/logging"
	"github.com/skystar-p/hako/internal/server/repositories/chunks"
	"github.com/skystar-p/hako/internal/server/repositories/files"
)

// CleanupWorker periodically deletes incomplete uploads older than the
// retention threshold, so aborted or orphaned sessions do not occupy storage
// indefinitely. It only ever touches records with upload_complete=false and
// is safe to run alongside active uploads of other files.
type CleanupWorker struct {
	files     files.Repository
	chunks    chunks.Repository
	logger    logging.Logger
	interval  time.Duration
	retention time.Duration
}

func NewCleanupWorker(fr files.Repository, cr chunks.Repository, logger logging.Logger, interval, retention time.Duration) *CleanupWorker {
	return &CleanupWorker{
		files:     fr,
		chunks:    cr,
		logger:    logger.With("module", "cleanup"),
		interval:  interval,
		retention: retention,
	}
}

// Run sweeps on every tick until the context is cancelled. A zero interval
// or retention disables the worker.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.interval <= 0 || w.retention <= 0 {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				w.logger.Error(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass. It is idempotent: a file already removed by a
// concurrent abort is skipped.
func (w *CleanupWorker) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.retention)
	ids, err := w.files.SelectIncompleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := w.chunks.DeleteByFileID(ctx, id); err != nil {
			w.logger.Error(ctx, "could not delete chunks", "file_id", id, "error", err)
			continue
		}
		if err := w.files.Delete(ctx, id); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			w.logger.Error(ctx, "could not delete file", "file_id", id, "error", err)
			continue
		}
		w.logger.Info(ctx, "deleted expired incomplete upload", "file_id", id)
	}
	return nil
}
