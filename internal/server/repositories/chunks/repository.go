// Package chunks implements the ordered ciphertext chunk store. Chunks are
// keyed by (file id, seq); uploads are append-only and retrieval is always
// in ascending seq order.
package chunks

import (
	"context"

	"github.com/skystar-p/hako/internal/server/models"
)

// Stats summarizes the stored chunks of one file, gathered in a single pass
// so finalize and metadata checks stay cheap.
type Stats struct {
	// Count is the number of stored chunks.
	Count int64
	// TotalSize is the summed ciphertext length in bytes.
	TotalSize int64
	// MaxSeq is the highest stored seq, -1 when no chunks exist.
	MaxSeq int64
	// LastCount is how many chunks carry the terminal flag.
	LastCount int64
	// LastSeq is the seq of the flagged chunk, -1 when none is flagged.
	// Meaningful only when LastCount == 1.
	LastSeq int64
}

// Contiguous reports whether the stored seqs form exactly {0..Count-1} with
// a single terminal flag on the highest one.
func (s Stats) Contiguous() bool {
	return s.Count > 0 && s.MaxSeq == s.Count-1 && s.LastCount == 1 && s.LastSeq == s.MaxSeq
}

// Repository persists ciphertext chunks.
type Repository interface {
	// Put appends one chunk. A second put for the same (file id, seq) fails
	// with common.ErrorDuplicate; chunks are never overwritten.
	Put(ctx context.Context, chunk *models.Chunk) error
	// Stats aggregates the chunk set of a file.
	Stats(ctx context.Context, fileID string) (Stats, error)
	// ForEach walks the chunks of a file in ascending seq order. Each call
	// starts over from seq 0; there is no shared cursor. Iteration stops at
	// the first error returned by fn.
	ForEach(ctx context.Context, fileID string, fn func(chunk *models.Chunk) error) error
	// DeleteByFileID removes every chunk of a file as one logical operation.
	// Needed by engines without cascading foreign keys.
	DeleteByFileID(ctx context.Context, fileID string) error
}
