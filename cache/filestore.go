package cache

import (
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore implements Store with one JSON file per key
type FileStore struct {
	dir string
}

// DefaultDir returns the per-user cache directory
func DefaultDir() (string, error) {
	usr, err := user.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(usr.HomeDir, ".repoexplorer_cache"), nil
}

// NewFileStore creates a file-backed store rooted at dir.
// If dir is empty, uses DefaultDir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the store writes to
func (s *FileStore) Dir() string {
	return s.dir
}

// Get implements Reader
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set implements Writer
func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	path := s.path(key)

	// Write to temporary file first, then rename (atomic operation)
	tmpPath := path + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmpPath, value, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Delete implements Remover
func (s *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Clear implements Remover. Only cache files (and stray temp files) are removed.
func (s *FileStore) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !isCacheFile(e) {
			continue
		}
		err := os.Remove(filepath.Join(s.dir, e.Name()))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// path generates the full filesystem path for a cache key
func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, fileNameFor(key))
}

func isCacheFile(e os.DirEntry) bool {
	if e.IsDir() {
		return false
	}
	name := e.Name()
	return strings.HasSuffix(name, fileExt) || strings.Contains(name, fileExt+".tmp.")
}
