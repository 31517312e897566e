package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"primate-rag/internal/domain"
)

// LocalBucket implements Bucket on the local filesystem.
type LocalBucket struct {
	basePath string
}

// NewLocalBucket creates the base directory if needed.
func NewLocalBucket(basePath string) (*LocalBucket, error) {
	if basePath == "" {
		basePath = "./data/index"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalBucket{basePath: basePath}, nil
}

// Put writes to a temporary file and renames it into place, so readers never
// observe a partial object.
func (b *LocalBucket) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath := filepath.Join(b.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// Get reads an object from disk.
func (b *LocalBucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(b.basePath, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete removes an object from disk.
func (b *LocalBucket) Delete(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(b.basePath, filepath.FromSlash(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
