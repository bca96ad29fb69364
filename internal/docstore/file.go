// SPDX-License-Identifier: MPL-2.0

package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/opforge/opforge/internal/watch"
)

// FileStore keeps each document in a file below its root directory.
type FileStore struct {
	root   string
	logger *log.Logger
}

// NewFileStore returns a FileStore rooted at dir, creating the directory.
func NewFileStore(dir string, logger *log.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("docstore: empty store directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: create %s: %w", dir, err)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &FileStore{root: dir, logger: logger}, nil
}

// Root returns the store directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) pathFor(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Read implements Store.
func (s *FileStore) Read(_ context.Context, key string) ([]byte, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: read %s: %w", key, err)
	}
	return data, nil
}

// Write implements Store with a temp file in the target directory followed
// by a rename, so concurrent readers see the old or the new document.
func (s *FileStore) Write(_ context.Context, key string, data []byte) (err error) {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("docstore: create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return fmt.Errorf("docstore: create temp file for %s: %w", key, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath) // best-effort cleanup
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("docstore: write %s: %w", key, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("docstore: sync %s: %w", key, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("docstore: close %s: %w", key, err)
	}
	if err = os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("docstore: chmod %s: %w", key, err)
	}
	if err = os.Rename(tmpPath, p); err != nil {
		return fmt.Errorf("docstore: replace %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("docstore: delete %s: %w", key, err)
	}
	return nil
}

// Watch implements Store by watching the directory holding key's file.
func (s *FileStore) Watch(ctx context.Context, key string, onChange func()) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("docstore: create directory for %s: %w", key, err)
	}

	w, err := watch.New(watch.Config{
		BaseDir:  dir,
		Patterns: []string{path.Base(filepath.ToSlash(p))},
		Debounce: watchDebounce,
		Logger:   s.logger,
		OnChange: func(context.Context, []string) error {
			s.logger.Debug("document changed", "key", key)
			onChange()
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("docstore: watch %s: %w", key, err)
	}
	return w.Run(ctx)
}

// Close implements Store. FileStore holds no open resources.
func (s *FileStore) Close() error { return nil }
