package services

import (
	"context"
	"fmt"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/logging"
	"github.com/skystar-p/hako/internal/server/models"
	"github.com/skystar-p/hako/internal/server/repositories/chunks"
	"github.com/skystar-p/hako/internal/server/repositories/files"
)

// DownloadService reads completed files back out as an ordered ciphertext
// stream. It performs no decryption and buffers no plaintext; the server
// holds no key material, so this is a pure ordered pass-through over the
// chunk store.
type DownloadService struct {
	files  files.Repository
	chunks chunks.Repository
	logger logging.Logger
}

func NewDownloadService(fr files.Repository, cr chunks.Repository, logger logging.Logger) *DownloadService {
	return &DownloadService{
		files:  fr,
		chunks: cr,
		logger: logger.With("module", "download"),
	}
}

// Metadata returns the file record and total ciphertext size. Unknown ids
// fail with ErrorNotFound; records whose upload has not finalized are never
// exposed and fail with ErrorNotReady regardless of how many chunks exist.
func (s *DownloadService) Metadata(ctx context.Context, fileID string) (*models.File, int64, error) {
	file, err := s.files.Get(ctx, fileID)
	if err != nil {
		return nil, 0, err
	}
	if !file.UploadComplete {
		return nil, 0, common.ErrorNotReady
	}
	stats, err := s.chunks.Stats(ctx, fileID)
	if err != nil {
		return nil, 0, err
	}
	return file, stats.TotalSize, nil
}

// Stream walks the chunks of a completed file in ascending seq order,
// handing each ciphertext chunk to fn. Every call restarts from seq zero.
//
// The seq range and terminal-flag placement are re-verified while walking;
// a hole, a duplicate or a misplaced flag means the store was corrupted
// after finalize and the stream is refused rather than served partially.
// The flag's semantic truth is still only provable by the client's
// decryption.
func (s *DownloadService) Stream(ctx context.Context, fileID string, fn func(chunk *models.Chunk) error) error {
	file, err := s.files.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if !file.UploadComplete {
		return common.ErrorNotReady
	}

	stats, err := s.chunks.Stats(ctx, fileID)
	if err != nil {
		return err
	}
	if !stats.Contiguous() {
		return fmt.Errorf("%w: stored chunk set is not a contiguous terminated stream", common.ErrorIntegrity)
	}

	var expected int64
	err = s.chunks.ForEach(ctx, fileID, func(chunk *models.Chunk) error {
		if chunk.Seq != expected {
			return fmt.Errorf("%w: expected seq %d, found %d", common.ErrorIntegrity, expected, chunk.Seq)
		}
		if chunk.IsLast != (chunk.Seq == stats.MaxSeq) {
			return fmt.Errorf("%w: terminal flag misplaced at seq %d", common.ErrorIntegrity, chunk.Seq)
		}
		expected++
		return fn(chunk)
	})
	if err != nil {
		return err
	}
	if expected != stats.Count {
		return fmt.Errorf("%w: stream ended at %d of %d chunks", common.ErrorIntegrity, expected, stats.Count)
	}
	return nil
}
