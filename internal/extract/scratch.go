package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/matriculahub/go-intake-pipeline/internal/config"
)

// ScratchStore keeps downloaded attachments in an S3-compatible bucket so
// humans can review the originals behind a validation decision. A nil store
// is valid and skips every operation.
type ScratchStore struct {
	client *minio.Client
	bucket string
}

// NewScratchStore builds the store, or returns nil when no endpoint is
// configured.
func NewScratchStore(cfg config.MediaConfig) (*ScratchStore, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &ScratchStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *ScratchStore) EnsureBucket(ctx context.Context) error {
	if s == nil {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// Put stores the attachment under the given object name. Failures are logged
// and swallowed: losing the scratch copy must never fail the extraction job.
func (s *ScratchStore) Put(ctx context.Context, objectName string, data []byte, contentType string) {
	if s == nil {
		return
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		log.Warn().Err(err).Str("object", objectName).Msg("scratch upload failed")
		return
	}
	log.Debug().Str("object", objectName).Int("bytes", len(data)).Msg("attachment archived")
}
