package chunks

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/server/models"
)

var bucketChunks = []byte("chunks")

// BoltRepository implements chunk storage over a bbolt database.
//
// Keys are fileID || 0x00 || bigEndian64(seq), so a cursor walk over a file's
// prefix yields chunks in ascending seq order for free. The value is one
// flag byte (terminal marker) followed by the ciphertext.
type BoltRepository struct {
	db *bbolt.DB
}

func NewBoltRepository(db *bbolt.DB) (*BoltRepository, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChunks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create bucket: %v", common.ErrorStorage, err)
	}
	return &BoltRepository{db: db}, nil
}

var _ Repository = (*BoltRepository)(nil)

func (r *BoltRepository) Put(ctx context.Context, chunk *models.Chunk) error {
	key := chunkKey(chunk.FileID, chunk.Seq)
	value := encodeChunkValue(chunk)
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChunks)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: chunk (%s, %d)", common.ErrorDuplicate, chunk.FileID, chunk.Seq)
		}
		return b.Put(key, value)
	})
	if err != nil {
		if errors.Is(err, common.ErrorDuplicate) {
			return err
		}
		return fmt.Errorf("%w: put chunk: %v", common.ErrorStorage, err)
	}
	return nil
}

func (r *BoltRepository) Stats(ctx context.Context, fileID string) (Stats, error) {
	s := Stats{MaxSeq: -1, LastSeq: -1}
	err := r.forEachRaw(fileID, func(seq int64, isLast bool, content []byte) error {
		s.Count++
		s.TotalSize += int64(len(content))
		if seq > s.MaxSeq {
			s.MaxSeq = seq
		}
		if isLast {
			s.LastCount++
			if seq > s.LastSeq {
				s.LastSeq = seq
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return s, nil
}

func (r *BoltRepository) ForEach(ctx context.Context, fileID string, fn func(chunk *models.Chunk) error) error {
	return r.forEachRaw(fileID, func(seq int64, isLast bool, content []byte) error {
		return fn(&models.Chunk{FileID: fileID, Seq: seq, IsLast: isLast, Content: content})
	})
}

func (r *BoltRepository) DeleteByFileID(ctx context.Context, fileID string) error {
	prefix := filePrefix(fileID)
	err := r.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketChunks).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete chunks: %v", common.ErrorStorage, err)
	}
	return nil
}

// forEachRaw walks a file's key prefix; fn errors propagate unchanged.
func (r *BoltRepository) forEachRaw(fileID string, fn func(seq int64, isLast bool, content []byte) error) error {
	prefix := filePrefix(fileID)
	return r.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketChunks).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			seq := int64(binary.BigEndian.Uint64(k[len(prefix):]))
			isLast, content := decodeChunkValue(v)
			if err := fn(seq, isLast, content); err != nil {
				return err
			}
		}
		return nil
	})
}

func filePrefix(fileID string) []byte {
	prefix := make([]byte, 0, len(fileID)+1)
	prefix = append(prefix, fileID...)
	return append(prefix, 0x00)
}

func chunkKey(fileID string, seq int64) []byte {
	key := filePrefix(fileID)
	key = binary.BigEndian.AppendUint64(key, uint64(seq))
	return key
}

func encodeChunkValue(chunk *models.Chunk) []byte {
	value := make([]byte, 1+len(chunk.Content))
	if chunk.IsLast {
		value[0] = 1
	}
	copy(value[1:], chunk.Content)
	return value
}

func decodeChunkValue(value []byte) (isLast bool, content []byte) {
	if len(value) == 0 {
		return false, nil
	}
	// copy out: bbolt values are only valid inside the transaction
	content = make([]byte, len(value)-1)
	copy(content, value[1:])
	return value[0] == 1, content
}
