package dbfile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/backend"
	"github.com/wolfeidau/mediadb/telemetry"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Source writes the library content through an Encoder.
type Source interface {
	Encode(ctx context.Context, enc *Encoder) error
}

// File is one library file stored in a backend.
type File struct {
	backend  backend.Backend
	key      string
	compress bool
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a File.
type Option func(*File)

// WithCompression writes zstd-compressed files. Loading detects compression
// on its own, so the setting can change between runs.
func WithCompression(compress bool) Option {
	return func(f *File) {
		f.compress = compress
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *File) {
		f.logger = logger
	}
}

// WithNow sets the clock used to time loads and saves.
func WithNow(now func() time.Time) Option {
	return func(f *File) {
		f.now = now
	}
}

// New returns the library file stored at key in b.
func New(b backend.Backend, key string, opts ...Option) *File {
	f := &File{
		backend: b,
		key:     key,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Key returns the backend key of the file.
func (f *File) Key() string {
	return f.key
}

// LoadResult describes a completed load.
type LoadResult struct {
	Header
	// Missing is set when no file existed; the library starts empty.
	Missing    bool
	Compressed bool
	Bytes      int64
	Digest     mediadb.Digest
	Duration   time.Duration
}

// Load decodes the file into sink. A missing file is not an error.
func (f *File) Load(ctx context.Context, sink Sink) (LoadResult, error) {
	start := f.now()
	res, err := f.load(ctx, sink)
	res.Duration = f.now().Sub(start)

	telemetry.RecordPersist(ctx, "load", outcome(err), res.Entries, res.Bytes, res.Duration)
	if err != nil {
		f.logger.Error("library load failed", "key", f.key, "entries", res.Entries, "error", err)
		return res, err
	}
	f.logger.Info("library loaded",
		"key", f.key,
		"version", res.Version,
		"entries", res.Entries,
		"unknown", res.Unknown,
		"skipped", res.Skipped,
		"bytes", res.Bytes,
		"compressed", res.Compressed,
		"missing", res.Missing,
		"duration", res.Duration,
	)
	return res, nil
}

func (f *File) load(ctx context.Context, sink Sink) (LoadResult, error) {
	var res LoadResult

	rc, err := f.backend.Read(ctx, f.key)
	if errors.Is(err, backend.ErrNotFound) {
		res.Missing = true
		return res, nil
	}
	if err != nil {
		return res, mediadb.IOError("opening library", err)
	}
	defer func() { _ = rc.Close() }()

	hr := mediadb.NewHashingReader(rc)
	br := bufio.NewReaderSize(hr, 64*1024)

	var r io.Reader = br
	if magic, _ := br.Peek(len(zstdMagic)); bytes.Equal(magic, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return res, mediadb.IOError("opening compressed library", err)
		}
		defer zr.Close()
		r = zr
		res.Compressed = true
	}

	res.Header, err = Decode(ctx, r, sink)
	if err != nil {
		res.Bytes = hr.BytesRead()
		return res, err
	}

	// Digest the whole stored file, including anything after the root element.
	if _, err := io.Copy(io.Discard, br); err != nil {
		return res, mediadb.IOError("reading library", err)
	}
	res.Bytes = hr.BytesRead()
	res.Digest = hr.Sum()
	return res, nil
}

// SaveResult describes a completed save.
type SaveResult struct {
	Entries    int
	Bytes      int64
	Digest     mediadb.Digest
	Compressed bool
	Duration   time.Duration
}

// Save writes src to a replacement of the file and commits it atomically.
// On any error the replacement is discarded and the previous file is left
// untouched.
func (f *File) Save(ctx context.Context, src Source) (SaveResult, error) {
	start := f.now()
	res, err := f.save(ctx, src)
	res.Duration = f.now().Sub(start)

	telemetry.RecordPersist(ctx, "save", outcome(err), res.Entries, res.Bytes, res.Duration)
	if err != nil {
		f.logger.Error("library save failed", "key", f.key, "error", err)
		return res, err
	}
	f.logger.Info("library saved",
		"key", f.key,
		"entries", res.Entries,
		"bytes", res.Bytes,
		"digest", res.Digest.ShortString(),
		"compressed", res.Compressed,
		"duration", res.Duration,
	)
	return res, nil
}

func (f *File) save(ctx context.Context, src Source) (res SaveResult, err error) {
	w, err := f.backend.Writer(ctx, f.key)
	if err != nil {
		return res, mediadb.IOError("creating library writer", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = w.Abort()
		}
	}()

	hw := mediadb.NewHashingWriter(w)
	var out io.Writer = hw
	var zw *zstd.Encoder
	if f.compress {
		zw, err = zstd.NewWriter(hw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return res, mediadb.IOError("creating compressor", err)
		}
		defer func() { _ = zw.Close() }()
		out = zw
		res.Compressed = true
	}

	enc := NewEncoder(out)
	if err := src.Encode(ctx, enc); err != nil {
		if encErr := enc.Err(); encErr != nil {
			return res, mediadb.IOError("writing library", encErr)
		}
		return res, fmt.Errorf("encoding library: %w", err)
	}
	if err := enc.Close(); err != nil {
		return res, mediadb.IOError("writing library", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return res, mediadb.IOError("compressing library", err)
		}
	}
	if err := w.Commit(); err != nil {
		committed = true // Commit cleans up after itself
		return res, mediadb.IOError("committing library", err)
	}
	committed = true

	res.Entries = enc.Entries()
	res.Bytes = hw.BytesWritten()
	res.Digest = hw.Sum()
	return res, nil
}

// Stat describes the stored file.
func (f *File) Stat(ctx context.Context) (backend.Info, error) {
	return f.backend.Stat(ctx, f.key)
}

// Remove deletes the stored file.
func (f *File) Remove(ctx context.Context) error {
	if err := f.backend.Delete(ctx, f.key); err != nil {
		return mediadb.IOError("removing library", err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, mediadb.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
