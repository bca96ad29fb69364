// SPDX-License-Identifier: MPL-2.0

// Package docstore persists whole JSON documents under slash-separated keys
// ("opids.json", "docs/Ops.User.alice.json") and notifies watchers when a
// document changes, including changes made by other processes.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// BackendFile stores each document as a file below a directory.
	BackendFile Backend = "file"
	// BackendSQLite stores documents as rows of a single SQLite table.
	BackendSQLite Backend = "sqlite"
)

// watchDebounce coalesces the write-then-rename pair of an atomic replace.
const watchDebounce = 100 * time.Millisecond

var (
	// ErrNotFound is returned by Read when no document exists under the key.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidKey is the sentinel wrapped by InvalidKeyError.
	ErrInvalidKey = errors.New("invalid document key")

	// ErrInvalidBackend is the sentinel wrapped by InvalidBackendError.
	ErrInvalidBackend = errors.New("invalid store backend")
)

type (
	// Backend selects a Store implementation.
	Backend string

	// Store reads and atomically replaces whole documents.
	Store interface {
		// Read returns the document under key, or ErrNotFound.
		Read(ctx context.Context, key string) ([]byte, error)
		// Write replaces the document under key. Readers never observe a
		// partially written document.
		Write(ctx context.Context, key string, data []byte) error
		// Delete removes the document under key. Deleting an absent key is not an error.
		Delete(ctx context.Context, key string) error
		// Watch blocks until ctx is cancelled, calling onChange after the
		// document under key is modified.
		Watch(ctx context.Context, key string, onChange func()) error
		// Close releases the store's resources.
		Close() error
	}

	// Options configures Open.
	Options struct {
		Backend    Backend
		Dir        string
		SQLitePath string
		Logger     *log.Logger
	}

	// InvalidKeyError is returned for keys that are empty, absolute, or
	// escape the store root.
	InvalidKeyError struct {
		Value string
	}

	// InvalidBackendError is returned when Options.Backend is unknown.
	InvalidBackendError struct {
		Value Backend
	}
)

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid document key %q", e.Value)
}

func (e *InvalidKeyError) Unwrap() error { return ErrInvalidKey }

func (e *InvalidBackendError) Error() string {
	return fmt.Sprintf("invalid store backend %q (valid: file, sqlite)", e.Value)
}

func (e *InvalidBackendError) Unwrap() error { return ErrInvalidBackend }

// Validate returns an error if the backend is not recognized.
func (b Backend) Validate() error {
	switch b {
	case BackendFile, BackendSQLite:
		return nil
	default:
		return &InvalidBackendError{Value: b}
	}
}

// Open returns the Store selected by opts. An empty backend means file.
func Open(ctx context.Context, opts Options) (Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = BackendFile
	}
	if err := backend.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	if backend == BackendSQLite {
		dbPath := opts.SQLitePath
		if dbPath == "" {
			dbPath = path.Join(opts.Dir, "store.db")
		}
		return NewSQLiteStore(ctx, dbPath, logger)
	}
	return NewFileStore(opts.Dir, logger)
}

// CleanKey validates key and returns its canonical slash-separated form.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", &InvalidKeyError{Value: key}
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &InvalidKeyError{Value: key}
	}
	return cleaned, nil
}
