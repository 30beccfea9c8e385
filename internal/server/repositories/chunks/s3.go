package chunks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/skystar-p/hako/internal/common"
	"github.com/skystar-p/hako/internal/server/models"
)

// metaIsLast is the S3 object metadata key carrying the terminal-chunk flag.
const metaIsLast = "is-last"

// S3Settings configures the object-storage chunk backend. Works against any
// S3-compatible endpoint (MinIO and friends) via BaseEndpoint.
type S3Settings struct {
	RootUser     string
	RootPassword string
	Bucket       string
	Region       string
	BaseEndpoint string
}

// S3Repository stores chunks as individual objects under
// chunks/<file_id>/<zero-padded seq>. Zero padding makes lexicographic key
// order equal ascending seq order, so a prefix listing is already sorted.
// Append-only semantics come from conditional puts (If-None-Match: *).
type S3Repository struct {
	client *s3.Client
	bucket string
}

func NewS3Repository(ctx context.Context, settings S3Settings) (*S3Repository, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(settings.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			settings.RootUser,
			settings.RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", common.ErrorStorage, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(settings.BaseEndpoint)
		o.UsePathStyle = true
	})

	return &S3Repository{client: client, bucket: settings.Bucket}, nil
}

var _ Repository = (*S3Repository)(nil)

func (r *S3Repository) Put(ctx context.Context, chunk *models.Chunk) error {
	isLast := "0"
	if chunk.IsLast {
		isLast = "1"
	}
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(objectKey(chunk.FileID, chunk.Seq)),
		Body:        bytes.NewReader(chunk.Content),
		IfNoneMatch: aws.String("*"),
		Metadata:    map[string]string{metaIsLast: isLast},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return fmt.Errorf("%w: chunk (%s, %d)", common.ErrorDuplicate, chunk.FileID, chunk.Seq)
		}
		return fmt.Errorf("%w: put object: %v", common.ErrorStorage, err)
	}
	return nil
}

func (r *S3Repository) Stats(ctx context.Context, fileID string) (Stats, error) {
	s := Stats{MaxSeq: -1, LastSeq: -1}
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(filePrefixS3(fileID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("%w: list objects: %v", common.ErrorStorage, err)
		}
		for _, obj := range page.Contents {
			seq, err := seqFromKey(aws.ToString(obj.Key))
			if err != nil {
				return Stats{}, err
			}
			s.Count++
			s.TotalSize += aws.ToInt64(obj.Size)
			if seq > s.MaxSeq {
				s.MaxSeq = seq
			}
			// the flag lives in object metadata, not in the listing
			head, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(r.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return Stats{}, fmt.Errorf("%w: head object: %v", common.ErrorStorage, err)
			}
			if head.Metadata[metaIsLast] == "1" {
				s.LastCount++
				if seq > s.LastSeq {
					s.LastSeq = seq
				}
			}
		}
	}
	return s, nil
}

func (r *S3Repository) ForEach(ctx context.Context, fileID string, fn func(chunk *models.Chunk) error) error {
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(filePrefixS3(fileID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("%w: list objects: %v", common.ErrorStorage, err)
		}
		for _, obj := range page.Contents {
			seq, err := seqFromKey(aws.ToString(obj.Key))
			if err != nil {
				return err
			}
			out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(r.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return fmt.Errorf("%w: get object: %v", common.ErrorStorage, err)
			}
			content, err := io.ReadAll(out.Body)
			_ = out.Body.Close()
			if err != nil {
				return fmt.Errorf("%w: read object: %v", common.ErrorStorage, err)
			}
			chunk := &models.Chunk{
				FileID:  fileID,
				Seq:     seq,
				IsLast:  out.Metadata[metaIsLast] == "1",
				Content: content,
			}
			if err := fn(chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *S3Repository) DeleteByFileID(ctx context.Context, fileID string) error {
	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(filePrefixS3(fileID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("%w: list objects: %v", common.ErrorStorage, err)
		}
		if len(page.Contents) == 0 {
			continue
		}
		identifiers := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			identifiers = append(identifiers, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = r.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(r.bucket),
			Delete: &types.Delete{Objects: identifiers, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("%w: delete objects: %v", common.ErrorStorage, err)
		}
	}
	return nil
}

func filePrefixS3(fileID string) string {
	return "chunks/" + fileID + "/"
}

func objectKey(fileID string, seq int64) string {
	return fmt.Sprintf("%s%016d", filePrefixS3(fileID), seq)
}

func seqFromKey(key string) (int64, error) {
	idx := strings.LastIndexByte(key, '/')
	if idx < 0 {
		return 0, fmt.Errorf("%w: malformed chunk key %q", common.ErrorStorage, key)
	}
	seq, err := strconv.ParseInt(key[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed chunk key %q", common.ErrorStorage, key)
	}
	return seq, nil
}
