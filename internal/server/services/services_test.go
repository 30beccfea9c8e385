package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/logging"
	"github.com/skystar-p/hako/internal/server/models"
	"github.com/skystar-p/hako/internal/server/repositories/chunks"
	"github.com/skystar-p/hako/internal/server/repositories/files"
	"github.com/skystar-p/hako/internal/server/repositories/repomanager"
)

const (
	testChunkSize  = 64
	testChunkLimit = 8
)

type testEnv struct {
	manager  repomanager.RepositoryManager
	files    files.Repository
	chunks   chunks.Repository
	upload   *UploadService
	download *DownloadService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	manager, err := repomanager.NewBoltRepositoryManager(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewBoltRepositoryManager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &testEnv{
		manager:  manager,
		files:    manager.Files(),
		chunks:   manager.Chunks(),
		upload:   NewUploadService(manager, logger, testChunkSize, testChunkLimit),
		download: NewDownloadService(manager.Files(), manager.Chunks(), logger),
	}
}

func beginUpload(t *testing.T, env *testEnv) string {
	t.Helper()
	id, err := env.upload.Begin(context.Background(),
		make([]byte, common.SaltSize),
		make([]byte, common.FilenameNonceSize),
		make([]byte, common.StreamNonceSize),
		[]byte("enc-name"), testChunkSize)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return id
}

// ciphertext fakes an AEAD chunk: payload plus the 16-byte tag.
func ciphertext(payload string) []byte {
	return append([]byte(payload), make([]byte, aeadOverhead)...)
}

func TestUpload_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)

	if err := env.upload.Append(ctx, id, 0, false, ciphertext("aaa")); err != nil {
		t.Fatalf("Append 0: %v", err)
	}
	if err := env.upload.Append(ctx, id, 1, true, ciphertext("bb")); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	if err := env.upload.Finalize(ctx, id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	file, size, err := env.download.Metadata(ctx, id)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if !file.UploadComplete {
		t.Fatalf("file must be complete")
	}
	wantSize := int64(len(ciphertext("aaa")) + len(ciphertext("bb")))
	if size != wantSize {
		t.Fatalf("size = %d, want %d", size, wantSize)
	}
}

func TestUpload_BeginRejectsBadSalt(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.upload.Begin(context.Background(),
		make([]byte, common.SaltSize-1),
		make([]byte, common.FilenameNonceSize),
		make([]byte, common.StreamNonceSize),
		[]byte("enc-name"), testChunkSize)
	if !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("want ErrorValidation for 31-byte salt, got %v", err)
	}
}

func TestUpload_BeginRejectsChunkSizeOutOfRange(t *testing.T) {
	env := newTestEnv(t)

	for _, size := range []int64{0, -1, testChunkSize + 1} {
		_, err := env.upload.Begin(context.Background(),
			make([]byte, common.SaltSize),
			make([]byte, common.FilenameNonceSize),
			make([]byte, common.StreamNonceSize),
			[]byte("enc-name"), size)
		if !errors.Is(err, common.ErrorValidation) {
			t.Fatalf("chunk size %d: want ErrorValidation, got %v", size, err)
		}
	}
}

func TestUpload_OutOfOrderSeqRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)

	// seq 1 before seq 0
	err := env.upload.Append(ctx, id, 1, false, ciphertext("x"))
	if !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("want ErrorValidation, got %v", err)
	}

	// the session survives the rejection
	if err := env.upload.Append(ctx, id, 0, true, ciphertext("x")); err != nil {
		t.Fatalf("Append 0 after rejection: %v", err)
	}
	if err := env.upload.Finalize(ctx, id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestUpload_AppendAfterLastRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)

	if err := env.upload.Append(ctx, id, 0, true, ciphertext("end")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := env.upload.Append(ctx, id, 1, false, ciphertext("more"))
	if !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("want ErrorValidation after terminal chunk, got %v", err)
	}
}

func TestUpload_ChunkSizeBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)

	err := env.upload.Append(ctx, id, 0, false, make([]byte, testChunkSize+aeadOverhead+1))
	if !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("oversized chunk: want ErrorValidation, got %v", err)
	}

	// exactly chunkSize+overhead is the maximum and must pass
	if err := env.upload.Append(ctx, id, 0, true, make([]byte, testChunkSize+aeadOverhead)); err != nil {
		t.Fatalf("max-size chunk: %v", err)
	}
}

// A ciphertext chunk shorter than the AEAD tag is still accepted: the server
// never interprets the bytes, it only stores and replays them.
func TestUpload_TinyChunkStoredAndStreamedBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)
	tiny := []byte{0x01, 0x02, 0x03}

	if err := env.upload.Append(ctx, id, 0, true, tiny); err != nil {
		t.Fatalf("Append 3-byte chunk: %v", err)
	}
	if err := env.upload.Finalize(ctx, id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	file, size, err := env.download.Metadata(ctx, id)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if !file.UploadComplete {
		t.Fatalf("file must be complete")
	}
	if size != int64(len(tiny)) {
		t.Fatalf("size = %d, want %d", size, len(tiny))
	}

	var got [][]byte
	err = env.download.Stream(ctx, id, func(c *models.Chunk) error {
		got = append(got, c.Content)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], tiny) {
		t.Fatalf("streamed %v, want single chunk %v", got, tiny)
	}
}

func TestUpload_ChunkCountLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)

	for seq := int64(0); seq < testChunkLimit; seq++ {
		if err := env.upload.Append(ctx, id, seq, false, ciphertext("x")); err != nil {
			t.Fatalf("Append %d: %v", seq, err)
		}
	}
	err := env.upload.Append(ctx, id, testChunkLimit, true, ciphertext("x"))
	if !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("want ErrorValidation past chunk limit, got %v", err)
	}
}

func TestUpload_FinalizeRequiresChunks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)
	if err := env.upload.Finalize(ctx, id); !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("finalize with no chunks: want ErrorValidation, got %v", err)
	}
}

func TestUpload_FinalizeRequiresTerminalFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)
	if err := env.upload.Append(ctx, id, 0, false, ciphertext("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := env.upload.Finalize(ctx, id); !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("finalize without terminal chunk: want ErrorValidation, got %v", err)
	}
}

func TestUpload_FinalizeTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)
	if err := env.upload.Append(ctx, id, 0, true, ciphertext("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := env.upload.Finalize(ctx, id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := env.upload.Finalize(ctx, id); !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("second finalize: want ErrorValidation, got %v", err)
	}
}

func TestUpload_AbortRemovesEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)
	if err := env.upload.Append(ctx, id, 0, false, ciphertext("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := env.upload.Abort(ctx, id); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	if _, err := env.files.Get(ctx, id); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("record must be gone after abort, got %v", err)
	}
	stats, err := env.chunks.Stats(ctx, id)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Count != 0 {
		t.Fatalf("abort left %d chunks behind", stats.Count)
	}
}

func TestUpload_ConcurrentWriterConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)

	// hold the session the way an in-flight append would
	if _, err := env.upload.acquire(ctx, id); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	err := env.upload.Append(ctx, id, 0, false, ciphertext("x"))
	if !errors.Is(err, common.ErrorConflict) {
		t.Fatalf("want ErrorConflict for concurrent writer, got %v", err)
	}
	env.upload.release(id)

	if err := env.upload.Append(ctx, id, 0, true, ciphertext("x")); err != nil {
		t.Fatalf("Append after release: %v", err)
	}
}

func TestUpload_ResumesAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)
	if err := env.upload.Append(ctx, id, 0, false, ciphertext("a")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// a fresh service over the same store has no in-memory session
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	restarted := NewUploadService(env.manager, logger, testChunkSize, testChunkLimit)

	// seq 0 again would be a duplicate of what is already stored
	err := restarted.Append(ctx, id, 0, false, ciphertext("a"))
	if !errors.Is(err, common.ErrorValidation) {
		t.Fatalf("replayed seq after restart: want ErrorValidation, got %v", err)
	}
	if err := restarted.Append(ctx, id, 1, true, ciphertext("b")); err != nil {
		t.Fatalf("Append after restart: %v", err)
	}
	if err := restarted.Finalize(ctx, id); err != nil {
		t.Fatalf("Finalize after restart: %v", err)
	}
}

func TestDownload_NotReadyBeforeFinalize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)
	if err := env.upload.Append(ctx, id, 0, true, ciphertext("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, _, err := env.download.Metadata(ctx, id); !errors.Is(err, common.ErrorNotReady) {
		t.Fatalf("metadata before finalize: want ErrorNotReady, got %v", err)
	}
	err := env.download.Stream(ctx, id, func(*models.Chunk) error { return nil })
	if !errors.Is(err, common.ErrorNotReady) {
		t.Fatalf("stream before finalize: want ErrorNotReady, got %v", err)
	}
}

func TestDownload_UnknownID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, _, err := env.download.Metadata(ctx, "missing"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
	err := env.download.Stream(ctx, "missing", func(*models.Chunk) error { return nil })
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestDownload_StreamsInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)
	parts := []string{"alpha", "beta", "gamma"}
	for i, p := range parts {
		if err := env.upload.Append(ctx, id, int64(i), i == len(parts)-1, ciphertext(p)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := env.upload.Finalize(ctx, id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	var got []byte
	err := env.download.Stream(ctx, id, func(c *models.Chunk) error {
		got = append(got, c.Content...)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var want []byte
	for _, p := range parts {
		want = append(want, ciphertext(p)...)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("streamed bytes differ from uploaded ciphertext")
	}
}

func TestDownload_StreamRefusesCorruptedStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := beginUpload(t, env)
	if err := env.upload.Append(ctx, id, 0, true, ciphertext("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := env.upload.Finalize(ctx, id); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// corrupt the store behind the service's back: add a stray chunk
	err := env.chunks.Put(ctx, &models.Chunk{FileID: id, Seq: 5, IsLast: true, Content: ciphertext("stray")})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	err = env.download.Stream(ctx, id, func(*models.Chunk) error { return nil })
	if !errors.Is(err, common.ErrorIntegrity) {
		t.Fatalf("want ErrorIntegrity for corrupted chunk set, got %v", err)
	}
}

func TestCleanup_SweepDeletesStaleIncomplete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	mkFile := func(id string, age time.Duration, complete bool) {
		t.Helper()
		f := &models.File{
			ID:                id,
			EncryptedFilename: []byte("enc"),
			FilenameNonce:     make([]byte, common.FilenameNonceSize),
			Salt:              make([]byte, common.SaltSize),
			StreamNonce:       make([]byte, common.StreamNonceSize),
			ChunkSize:         testChunkSize,
			CreatedAt:         time.Now().UTC().Add(-age),
		}
		if err := env.files.Create(ctx, f); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
		err := env.chunks.Put(ctx, &models.Chunk{FileID: id, Seq: 0, IsLast: true, Content: ciphertext("x")})
		if err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
		if complete {
			if err := env.files.MarkComplete(ctx, id); err != nil {
				t.Fatalf("MarkComplete %s: %v", id, err)
			}
		}
	}

	mkFile("stale", 2*time.Hour, false)
	mkFile("fresh", time.Minute, false)
	mkFile("done", 2*time.Hour, true)

	worker := NewCleanupWorker(env.files, env.chunks, logger, time.Minute, time.Hour)
	if err := worker.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := env.files.Get(ctx, "stale"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("stale incomplete upload must be deleted, got %v", err)
	}
	stats, err := env.chunks.Stats(ctx, "stale")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Count != 0 {
		t.Fatalf("sweep left %d chunks of the stale upload", stats.Count)
	}

	for _, id := range []string{"fresh", "done"} {
		if _, err := env.files.Get(ctx, id); err != nil {
			t.Fatalf("%s must survive the sweep: %v", id, err)
		}
	}
}

func TestCleanup_RunDisabledWithZeroSettings(t *testing.T) {
	env := newTestEnv(t)
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	worker := NewCleanupWorker(env.files, env.chunks, logger, 0, time.Hour)

	done := make(chan struct{})
	go func() {
		worker.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run with zero interval must return immediately")
	}
}
