package files

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/server/models"
)

var (
	bucketFiles  = []byte("files")
	bucketChunks = []byte("chunks")
)

// BoltRepository implements the registry over a bbolt database. File records
// are gob-encoded under their id. Deleting a file also removes its chunk
// prefix from the chunks bucket inside the same update transaction, which is
// how the cascade stays atomic on this engine.
type BoltRepository struct {
	db *bbolt.DB
}

func NewBoltRepository(db *bbolt.DB) (*BoltRepository, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketFiles, bucketChunks} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorStorage, err)
	}
	return &BoltRepository{db: db}, nil
}

var _ Repository = (*BoltRepository)(nil)

func (r *BoltRepository) Create(ctx context.Context, file *models.File) error {
	if err := validateSizes(file); err != nil {
		return err
	}
	data, err := encodeFile(file)
	if err != nil {
		return fmt.Errorf("%w: encode file: %v", common.ErrorStorage, err)
	}
	err = r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		if b.Get([]byte(file.ID)) != nil {
			return common.ErrorDuplicate
		}
		return b.Put([]byte(file.ID), data)
	})
	if err != nil {
		return wrapStorage(err)
	}
	return nil
}

func (r *BoltRepository) Get(ctx context.Context, id string) (*models.File, error) {
	var item *models.File
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(id))
		if data == nil {
			return common.ErrorNotFound
		}
		var err error
		item, err = decodeFile(data)
		return err
	})
	if err != nil {
		return nil, wrapStorage(err)
	}
	return item, nil
}

func (r *BoltRepository) MarkComplete(ctx context.Context, id string) error {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data := b.Get([]byte(id))
		if data == nil {
			return common.ErrorNotFound
		}
		item, err := decodeFile(data)
		if err != nil {
			return err
		}
		if item.UploadComplete {
			return fmt.Errorf("file %s already complete", id)
		}
		item.UploadComplete = true
		updated, err := encodeFile(item)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
	if err != nil {
		return wrapStorage(err)
	}
	return nil
}

func (r *BoltRepository) Delete(ctx context.Context, id string) error {
	err := r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		if b.Get([]byte(id)) == nil {
			return common.ErrorNotFound
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		// cascade: drop every chunk under this file's key prefix
		prefix := chunkPrefix(id)
		c := tx.Bucket(bucketChunks).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapStorage(err)
	}
	return nil
}

func (r *BoltRepository) SelectIncompleteBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	var result []string
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(k, v []byte) error {
			item, err := decodeFile(v)
			if err != nil {
				return err
			}
			if !item.UploadComplete && item.CreatedAt.Before(cutoff) {
				result = append(result, item.ID)
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrapStorage(err)
	}
	return result, nil
}

// chunkPrefix is the key prefix of all chunks belonging to a file in the
// chunks bucket. It must match the key layout used by chunks.BoltRepository.
func chunkPrefix(fileID string) []byte {
	prefix := make([]byte, 0, len(fileID)+1)
	prefix = append(prefix, fileID...)
	return append(prefix, 0x00)
}

func encodeFile(file *models.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(file); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeFile(data []byte) (*models.File, error) {
	item := &models.File{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(item); err != nil {
		return nil, err
	}
	return item, nil
}

// wrapStorage tags unexpected engine errors as storage errors while letting
// sentinel values pass through for errors.Is matching.
func wrapStorage(err error) error {
	switch {
	case err == nil:
		return nil
	case errorsIsSentinel(err):
		return err
	default:
		return fmt.Errorf("%w: %v", common.ErrorStorage, err)
	}
}

func errorsIsSentinel(err error) bool {
	for _, sentinel := range []error{
		common.ErrorNotFound, common.ErrorDuplicate, common.ErrorValidation,
		common.ErrorNotReady, common.ErrorConflict, common.ErrorStorage,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
