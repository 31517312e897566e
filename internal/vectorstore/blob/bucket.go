package blob

import (
	"context"
	"errors"
	"fmt"
)

// Bucket is a flat key/value object store.
type Bucket interface {
	// Put stores data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object stored under key, or an error matching
	// domain.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// BucketType represents the bucket backend type.
type BucketType string

const (
	BucketTypeLocal BucketType = "local"
	BucketTypeS3    BucketType = "s3"
)

// BucketConfig holds configuration for a bucket.
type BucketConfig struct {
	Type         BucketType
	LocalPath    string // For local buckets
	S3Bucket     string // For S3 buckets
	S3Region     string
	AWSAccessKey string
	AWSSecretKey string
}

// NewBucket creates a bucket based on configuration.
func NewBucket(ctx context.Context, cfg BucketConfig) (Bucket, error) {
	switch cfg.Type {
	case BucketTypeLocal, "":
		return NewLocalBucket(cfg.LocalPath)
	case BucketTypeS3:
		if cfg.S3Bucket == "" {
			return nil, errors.New("s3 bucket name is required")
		}
		return NewS3Bucket(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown bucket type: %s", cfg.Type)
	}
}
