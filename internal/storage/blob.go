package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/decentraland/profile-images/internal/contracts"
)

// S3API is the subset of the S3 client used for uploads
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage stores rendered images in an S3 bucket
type S3Storage struct {
	client S3API
	bucket string
}

// NewS3Storage creates a new S3-backed blob storage
func NewS3Storage(client S3API, bucket string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket}
}

// Store uploads data under key
func (s *S3Storage) Store(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to bucket %s: %w", key, s.bucket, err)
	}
	return nil
}

// LocalStorage writes rendered images below a directory
type LocalStorage struct {
	dir string
}

// NewLocalStorage creates a new disk-backed blob storage
func NewLocalStorage(dir string) *LocalStorage {
	return &LocalStorage{dir: dir}
}

// ErrUnsafeKey is returned for keys that would resolve outside the storage
// directory
var ErrUnsafeKey = errors.New("storage: key escapes storage directory")

// Store writes data to dir/key, creating parent directories as needed. Keys
// must stay below dir.
func (s *LocalStorage) Store(_ context.Context, key string, data []byte, _ string) error {
	rel := filepath.FromSlash(key)
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}
	path := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

var (
	_ contracts.BlobStorage = (*S3Storage)(nil)
	_ contracts.BlobStorage = (*LocalStorage)(nil)
)
