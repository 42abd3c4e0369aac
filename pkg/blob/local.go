package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Local stores blobs on the filesystem. Dev/test backend; an S3-compatible
// store plugs in through the same Store interface.
type Local struct {
	dir    string
	logger zerolog.Logger
}

// NewLocal creates a filesystem blob store rooted at dir.
func NewLocal(dir string, logger zerolog.Logger) (*Local, error) {
	if dir == "" {
		return nil, errors.New("blob directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	logger.Info().Str("dir", dir).Msg("Blob store: local filesystem")
	return &Local{dir: dir, logger: logger}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.dir, filepath.FromSlash(key))
}

func (l *Local) Put(ctx context.Context, key string, data []byte, contentType string) error {
	dest := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create blob path: %w", err)
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	l.logger.Debug().Str("key", key).Int("bytes", len(data)).Msg("Blob uploaded")
	return nil
}

func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// URL returns "". The local backend has no presigned URLs, so callers fall
// back to raw bytes.
func (l *Local) URL(ctx context.Context, key string) (string, error) {
	return "", nil
}
