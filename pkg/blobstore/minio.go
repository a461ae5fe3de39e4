// Package blobstore wraps the S3-compatible object store holding
// uploaded scan archives.
package blobstore

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/trailhead-sec/scantrail/pkg/config"
	"github.com/trailhead-sec/scantrail/pkg/retry"
)

// Store is the interface the pipeline and handlers use to move
// archives between the object store and local disk.
type Store interface {
	// Download retrieves the object identified by key to localPath.
	Download(ctx context.Context, key, localPath string) error
	// Upload stores the file at localPath under key.
	Upload(ctx context.Context, localPath, key string) error
	// Remove deletes the object identified by key.
	Remove(ctx context.Context, key string) error
}

// minioStore implements Store using MinIO.
type minioStore struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, cfg *config.StorageConfig) (Store, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	exists, err := cli.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &minioStore{client: cli, bucket: cfg.Bucket}, nil
}

// Download retrieves an object by key to a local path. Transient
// store errors are retried; a missing object is not.
func (s *minioStore) Download(ctx context.Context, key, localPath string) error {
	err := retry.DoIfRetryable(ctx, nil, func() error {
		return s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{})
	})
	if err != nil {
		return fmt.Errorf("failed to download object %q: %w", key, err)
	}
	return nil
}

// Upload stores a local file under the given key.
func (s *minioStore) Upload(ctx context.Context, localPath, key string) error {
	err := retry.DoIfRetryable(ctx, nil, func() error {
		_, putErr := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
			ContentType: "application/zip",
		})
		return putErr
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %q: %w", key, err)
	}
	return nil
}

// Remove deletes an object by key.
func (s *minioStore) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object %q: %w", key, err)
	}
	return nil
}

// Ensure minioStore implements Store at compile time.
var _ Store = (*minioStore)(nil)
