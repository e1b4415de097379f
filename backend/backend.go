// Package backend provides storage for persisted library files.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("not found")

// Info describes a stored object.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend stores whole files by key.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Read opens the data stored at key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Writer starts a replacement of the data at key. Nothing is visible
	// to readers until Commit returns nil; Abort discards the write and
	// leaves any previous data untouched.
	Writer(ctx context.Context, key string) (Writer, error)

	// Stat describes the data at key.
	// Returns ErrNotFound if the key does not exist.
	Stat(ctx context.Context, key string) (Info, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix.
	// The prefix should use "/" as the path separator.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Writer is an in-progress replacement of one key.
type Writer interface {
	io.Writer

	// Commit makes the written data visible atomically.
	Commit() error

	// Abort discards the written data. Calling Abort after Commit is a no-op.
	Abort() error
}

// Write stores everything read from r at key, all or nothing.
func Write(ctx context.Context, b Backend, key string, r io.Reader) error {
	w, err := b.Writer(ctx, key)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Abort()
		return fmt.Errorf("writing data: %w", err)
	}
	return w.Commit()
}

// Exists reports whether key is present.
func Exists(ctx context.Context, b Backend, key string) (bool, error) {
	_, err := b.Stat(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
