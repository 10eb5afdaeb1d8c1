package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"anamnesis-backend/internal/shared/storage/object"
)

// Store keeps snapshots under a directory on local disk. Writes go to a temp
// file first so readers never see a partial snapshot.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Put(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dst, err := s.path(storageKey)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", storageKey, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("commit %s: %w", storageKey, err)
	}
	return n, nil
}

func (s *Store) Open(ctx context.Context, storageKey string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(storageKey)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// path maps a storage key to a file under baseDir, rejecting keys that are
// absolute or climb out of it.
func (s *Store) path(storageKey string) (string, error) {
	rel := filepath.FromSlash(storageKey)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid storage key %q", storageKey)
	}
	return filepath.Join(s.baseDir, rel), nil
}

var _ object.ObjectStore = (*Store)(nil)
