package vault

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// S3Store keeps document bytes in an S3-compatible bucket.
type S3Store struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
	logger *slog.Logger
}

var _ BlobStore = (*S3Store)(nil)

// NewS3Store connects to the bucket, creating it when missing.
func NewS3Store(ctx context.Context, cfg common.VaultConfig, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.S3Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.S3Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.S3Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.S3Bucket, err)
		}
		logger.Info("vault.s3.bucket_created", "bucket", cfg.S3Bucket)
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Store{client: client, bucket: cfg.S3Bucket, ttl: ttl, logger: logger}, nil
}

func (s *S3Store) PresignPut(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, s.ttl)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *S3Store) PresignGet(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.ttl, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
