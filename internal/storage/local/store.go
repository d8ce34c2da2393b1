// Package local serves objects from a directory on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/healthchat/healthchat/internal/storage"
)

type Store struct {
	root string
}

// New roots keys at dir. Absolute keys are allowed only when dir is empty.
func New(dir string) *Store {
	return &Store{root: strings.TrimSpace(dir)}
}

func (s *Store) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	target, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("create directory for %q: %w", key, err)
	}
	file, err := os.Create(target)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("create %q: %w", key, err)
	}
	defer func() { _ = file.Close() }()

	written, err := io.Copy(file, body)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("write %q: %w", key, err)
	}
	return storage.ObjectInfo{Key: key, Size: written}, nil
}

func (s *Store) Get(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("open %q: %w", key, err)
	}
	return file, nil
}

func (s *Store) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	target, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ObjectInfo{}, storage.ErrObjectNotFound
		}
		return storage.ObjectInfo{}, fmt.Errorf("stat %q: %w", key, err)
	}
	if info.IsDir() {
		return storage.ObjectInfo{}, fmt.Errorf("stat %q: is a directory", key)
	}
	return storage.ObjectInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (s *Store) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	if s.root == "" {
		return filepath.Clean(key), nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}
