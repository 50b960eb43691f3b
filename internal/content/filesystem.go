package content

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FileSystemStore stores blobs under a root directory on local disk.
// Create-if-absent is enforced with O_EXCL.
type FileSystemStore struct {
	root   string
	logger *zap.Logger
}

// NewFileSystemStore creates a store rooted at root, creating the directory
// if needed.
func NewFileSystemStore(root string, logger *zap.Logger) (*FileSystemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &FileSystemStore{root: abs, logger: logger}, nil
}

// Get returns the stored bytes, or ErrNotFound.
func (s *FileSystemStore) Get(ctx context.Context, path string) ([]byte, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// GetDownloadURL returns the absolute file path of the object, whether or
// not it exists yet.
func (s *FileSystemStore) GetDownloadURL(ctx context.Context, path string) (string, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(full), nil
}

// Put creates the object if absent. The content is written to a temp file
// and linked into place, so the create is atomic and a concurrent reader
// never observes partial bytes. On collision the existing file's digest
// decides between PutAlreadyExists and PutConflict; the file is never
// overwritten.
func (s *FileSystemStore) Put(ctx context.Context, path string, content []byte, contentType string) (PutResult, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return PutConflict, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return PutConflict, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return PutConflict, fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return PutConflict, fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return PutConflict, fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return PutConflict, fmt.Errorf("failed to chmod %s: %w", path, err)
	}

	err = os.Link(tmp.Name(), full)
	if os.IsExist(err) {
		return s.compareExisting(full, path, content)
	}
	if err != nil {
		return PutConflict, fmt.Errorf("failed to create %s: %w", path, err)
	}

	s.logger.Debug("stored blob", zap.String("path", path), zap.Int("size", len(content)))
	return PutSuccess, nil
}

// Delete removes the object. Deleting an absent path is not an error.
func (s *FileSystemStore) Delete(ctx context.Context, path string) error {
	full, err := s.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (s *FileSystemStore) compareExisting(full, path string, content []byte) (PutResult, error) {
	existing, err := os.ReadFile(full)
	if err != nil {
		return PutConflict, fmt.Errorf("failed to read existing %s: %w", path, err)
	}
	if sha256.Sum256(existing) == sha256.Sum256(content) {
		return PutAlreadyExists, nil
	}
	s.logger.Warn("content conflict", zap.String("path", path))
	return PutConflict, nil
}

func (s *FileSystemStore) fullPath(path string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(path))
	// Join cleans the path; a result outside the root means traversal.
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("content: path %q escapes store root", path)
	}
	return full, nil
}
