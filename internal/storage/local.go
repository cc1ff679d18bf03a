package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

type localStorage struct {
	root string
}

// NewLocalStorage creates a filesystem-backed store rooted at root. Blobs are
// sharded into subdirectories by key prefix to keep directories small.
func NewLocalStorage(root string) (Storage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &localStorage{root: abs}, nil
}

func (s *localStorage) path(key string) string {
	return filepath.Join(s.root, key[:2], key)
}

func (s *localStorage) Put(_ context.Context, data []byte, _ string) (string, error) {
	key := ContentKey(data)
	path := s.path(key)

	if _, err := os.Stat(path); err == nil {
		// Identical content already stored; content addressing makes this a no-op.
		return key, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	// Write to a temp file and rename so readers never observe partial blobs.
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+key+".tmp*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}

	return key, nil
}

func (s *localStorage) Get(_ context.Context, key string) ([]byte, error) {
	if len(key) < 2 {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

func (s *localStorage) Exists(_ context.Context, key string) (bool, error) {
	if len(key) < 2 {
		return false, nil
	}
	_, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob %s: %w", key, err)
	}
	return true, nil
}

func (s *localStorage) Delete(_ context.Context, key string) error {
	if len(key) < 2 {
		return nil
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}
