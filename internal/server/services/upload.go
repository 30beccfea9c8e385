// Package services implements the server-side protocol on top of the
// repositories: the upload session state machine, the download streamer and
// the cleanup sweep. The server handles ciphertext only.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/logging"
	"github.com/skystar-p/hako/internal/server/models"
	"github.com/skystar-p/hako/internal/server/repositories/chunks"
	"github.com/skystar-p/hako/internal/server/repositories/files"
	"github.com/skystar-p/hako/internal/server/repositories/repomanager"
)

// aeadOverhead is the ciphertext expansion per chunk (Poly1305 tag).
const aeadOverhead = 16

// session tracks the in-memory appending state of one upload: the next
// expected seq, whether the terminal chunk has been seen, and the chunk
// size this upload was prepared with. Appends within one file are
// serialized through the busy flag; a second concurrent writer fails fast
// instead of corrupting the ordering.
type session struct {
	nextSeq   int64
	sawLast   bool
	busy      bool
	chunkSize int64
}

// UploadService drives the upload lifecycle:
// Started -> Appending -> Finalizing -> Complete, with Aborted reachable
// from every non-terminal state. An aborted or failed upload leaves no
// trace: the file record and all chunks written so far are removed.
type UploadService struct {
	manager      repomanager.RepositoryManager
	files        files.Repository
	chunks       chunks.Repository
	logger       logging.Logger
	maxChunkSize int64
	chunkLimit   int64

	mu       sync.Mutex
	sessions map[string]*session
}

func NewUploadService(m repomanager.RepositoryManager, logger logging.Logger, maxChunkSize, chunkLimit int64) *UploadService {
	return &UploadService{
		manager:      m,
		files:        m.Files(),
		chunks:       m.Chunks(),
		logger:       logger.With("module", "upload"),
		maxChunkSize: maxChunkSize,
		chunkLimit:   chunkLimit,
		sessions:     make(map[string]*session),
	}
}

// Begin creates the file record with upload_complete=false and opens a
// session. All key material sizes are bit-exact contracts; any mismatch is
// a non-retriable validation error. chunkSize is the plaintext block size
// the client will encrypt with; it is persisted so downloads split the
// stream at the boundaries this upload actually used.
func (s *UploadService) Begin(ctx context.Context, salt, filenameNonce, streamNonce, encryptedFilename []byte, chunkSize int64) (string, error) {
	if chunkSize <= 0 || chunkSize > s.maxChunkSize {
		return "", fmt.Errorf("%w: chunk size %d out of range (1..%d)",
			common.ErrorValidation, chunkSize, s.maxChunkSize)
	}

	file := &models.File{
		ID:                uuid.NewString(),
		EncryptedFilename: encryptedFilename,
		FilenameNonce:     filenameNonce,
		Salt:              salt,
		StreamNonce:       streamNonce,
		ChunkSize:         chunkSize,
		UploadComplete:    false,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.files.Create(ctx, file); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.sessions[file.ID] = &session{chunkSize: chunkSize}
	s.mu.Unlock()

	s.logger.Info(ctx, "upload started", "file_id", file.ID)
	return file.ID, nil
}

// Append validates and stores the chunk with the next strictly-increasing
// seq. Out-of-order and duplicate seqs are rejected, not silently ignored.
// A storage failure aborts the whole session.
//
// Only an upper size bound is enforced; the ciphertext itself is opaque
// here and short chunks pass through untouched.
func (s *UploadService) Append(ctx context.Context, fileID string, seq int64, isLast bool, content []byte) error {
	sess, err := s.acquire(ctx, fileID)
	if err != nil {
		return err
	}
	defer s.release(fileID)

	if int64(len(content)) > sess.chunkSize+aeadOverhead {
		return fmt.Errorf("%w: chunk size %d exceeds %d", common.ErrorValidation, len(content), sess.chunkSize+aeadOverhead)
	}
	if sess.sawLast {
		return fmt.Errorf("%w: append after last chunk", common.ErrorValidation)
	}
	if seq != sess.nextSeq {
		return fmt.Errorf("%w: expected seq %d, got %d", common.ErrorValidation, sess.nextSeq, seq)
	}
	if seq >= s.chunkLimit {
		return fmt.Errorf("%w: chunk count limit %d exceeded", common.ErrorValidation, s.chunkLimit)
	}

	chunk := &models.Chunk{FileID: fileID, Seq: seq, IsLast: isLast, Content: content}
	if err := s.chunks.Put(ctx, chunk); err != nil {
		if errors.Is(err, common.ErrorDuplicate) {
			return fmt.Errorf("%w: duplicate seq %d", common.ErrorValidation, seq)
		}
		// partial state must not linger after a storage failure
		s.abortLocked(ctx, fileID)
		return err
	}

	sess.nextSeq++
	sess.sawLast = isLast
	return nil
}

// Finalize verifies that at least one chunk exists and that the terminal
// flag sits on the highest seq, then flips the completion flag. The flag
// itself is client bookkeeping; only its placement is checked here. The
// check-then-flip runs atomically (a single transaction on engines that
// support one) so a chunk set cannot change between verification and
// completion.
func (s *UploadService) Finalize(ctx context.Context, fileID string) error {
	if _, err := s.acquire(ctx, fileID); err != nil {
		return err
	}
	defer s.release(fileID)

	var stats chunks.Stats
	err := s.manager.Atomically(ctx, func(fr files.Repository, cr chunks.Repository) error {
		var err error
		stats, err = cr.Stats(ctx, fileID)
		if err != nil {
			return err
		}
		if stats.Count == 0 {
			return fmt.Errorf("%w: no chunks uploaded", common.ErrorValidation)
		}
		if !stats.Contiguous() {
			return fmt.Errorf("%w: expected one terminal chunk at seq %d", common.ErrorValidation, stats.MaxSeq)
		}
		return fr.MarkComplete(ctx, fileID)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, fileID)
	s.mu.Unlock()

	s.logger.Info(ctx, "upload complete", "file_id", fileID, "chunks", stats.Count, "bytes", stats.TotalSize)
	return nil
}

// Abort deletes the file record and every chunk written so far. It is the
// terminal transition for cancelled, dropped or failed uploads.
func (s *UploadService) Abort(ctx context.Context, fileID string) error {
	if _, err := s.acquire(ctx, fileID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}
	defer s.release(fileID)

	err := s.abortLocked(ctx, fileID)
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "upload aborted", "file_id", fileID)
	return nil
}

func (s *UploadService) abortLocked(ctx context.Context, fileID string) error {
	// chunks first: on engines without a covering foreign key (object
	// storage) the cascade is ours to perform
	if err := s.chunks.DeleteByFileID(ctx, fileID); err != nil {
		return err
	}
	if err := s.files.Delete(ctx, fileID); err != nil && !errors.Is(err, common.ErrorNotFound) {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, fileID)
	s.mu.Unlock()
	return nil
}

// acquire returns the session for fileID with its busy flag taken. A busy
// session means a concurrent writer: fail fast with a conflict instead of
// interleaving appends. Sessions lost to a restart are restored from the
// store so uploads stay resumable.
func (s *UploadService) acquire(ctx context.Context, fileID string) (*session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[fileID]
	if ok {
		if sess.busy {
			s.mu.Unlock()
			return nil, common.ErrorConflict
		}
		sess.busy = true
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	file, err := s.files.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.UploadComplete {
		return nil, fmt.Errorf("%w: upload already finalized", common.ErrorValidation)
	}
	stats, err := s.chunks.Stats(ctx, fileID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if other, ok := s.sessions[fileID]; ok {
		// lost the race against another restorer
		if other.busy {
			return nil, common.ErrorConflict
		}
		other.busy = true
		return other, nil
	}
	sess = &session{
		nextSeq:   stats.Count,
		sawLast:   stats.LastCount > 0,
		busy:      true,
		chunkSize: file.ChunkSize,
	}
	s.sessions[fileID] = sess
	return sess, nil
}

func (s *UploadService) release(fileID string) {
	s.mu.Lock()
	if sess, ok := s.sessions[fileID]; ok {
		sess.busy = false
	}
	s.mu.Unlock()
}
