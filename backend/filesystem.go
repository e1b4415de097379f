package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tempPrefix = ".tmp-"

// Filesystem implements Backend using the local filesystem.
// Writes go to a temp file in the destination directory and are renamed
// over the target on commit.
type Filesystem struct {
	root string
	mode os.FileMode
}

// FilesystemOption configures a Filesystem.
type FilesystemOption func(*Filesystem)

// WithFileMode sets the permissions of committed files (default 0644).
func WithFileMode(mode os.FileMode) FilesystemOption {
	return func(f *Filesystem) {
		f.mode = mode
	}
}

// NewFilesystem creates a new filesystem backend rooted at the given path.
// The directory will be created if it does not exist.
func NewFilesystem(root string, opts ...FilesystemOption) (*Filesystem, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	f := &Filesystem{root: absRoot, mode: 0o644}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the root directory path.
func (f *Filesystem) Root() string {
	return f.root
}

// Path returns the file path backing key.
func (f *Filesystem) Path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

// Read opens the file at key.
func (f *Filesystem) Read(_ context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(f.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// Writer creates a temp file next to the target. Commit syncs and renames
// it into place.
func (f *Filesystem) Writer(_ context.Context, key string) (Writer, error) {
	path := f.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &atomicFile{f: tmp, dstPath: path, mode: f.mode}, nil
}

// Stat describes the file at key.
func (f *Filesystem) Stat(_ context.Context, key string) (Info, error) {
	fi, err := os.Stat(f.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNotFound
		}
		return Info{}, fmt.Errorf("stat file: %w", err)
	}
	if fi.IsDir() {
		return Info{}, ErrNotFound
	}
	return Info{Key: key, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Delete removes the file at key.
func (f *Filesystem) Delete(_ context.Context, key string) error {
	err := os.Remove(f.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// List returns every committed key under prefix, skipping in-flight temp files.
func (f *Filesystem) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	return keys, nil
}

// atomicFile is a temp file awaiting rename over dstPath.
type atomicFile struct {
	f       *os.File
	dstPath string
	mode    os.FileMode
	done    bool
}

func (w *atomicFile) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *atomicFile) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	tmpPath := w.f.Name()

	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("syncing file: %w", err)
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, w.mode); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := os.Rename(tmpPath, w.dstPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func (w *atomicFile) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return os.Remove(w.f.Name())
}

var _ Backend = (*Filesystem)(nil)
