package backend

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/wolfeidau/mediadb/telemetry"
)

// InstrumentedBackend wraps a Backend with metrics recording.
type InstrumentedBackend struct {
	backend Backend
	name    string
}

// NewInstrumentedBackend creates a new instrumented backend wrapper.
func NewInstrumentedBackend(b Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: b, name: name}
}

// Read records the open; bytes are counted when the reader is closed.
func (ib *InstrumentedBackend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := ib.backend.Read(ctx, key)
	if err != nil {
		telemetry.RecordBackendOp(ctx, ib.name, "read", outcomeFromError(err), time.Since(start), 0)
		return nil, err
	}
	return &countingReadCloser{rc: rc, onClose: func(n int64) {
		telemetry.RecordBackendOp(ctx, ib.name, "read", "success", time.Since(start), n)
	}}, nil
}

// Writer records the write when it is committed or aborted.
func (ib *InstrumentedBackend) Writer(ctx context.Context, key string) (Writer, error) {
	start := time.Now()
	w, err := ib.backend.Writer(ctx, key)
	if err != nil {
		telemetry.RecordBackendOp(ctx, ib.name, "write", outcomeFromError(err), time.Since(start), 0)
		return nil, err
	}
	return &countingWriter{w: w, record: func(outcome string, n int64) {
		telemetry.RecordBackendOp(ctx, ib.name, "write", outcome, time.Since(start), n)
	}}, nil
}

func (ib *InstrumentedBackend) Stat(ctx context.Context, key string) (Info, error) {
	start := time.Now()
	info, err := ib.backend.Stat(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "stat", outcomeFromError(err), time.Since(start), 0)
	return info, err
}

func (ib *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ib.backend.Delete(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "delete", outcomeFromError(err), time.Since(start), 0)
	return err
}

func (ib *InstrumentedBackend) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := ib.backend.List(ctx, prefix)
	telemetry.RecordBackendOp(ctx, ib.name, "list", outcomeFromError(err), time.Since(start), 0)
	return keys, err
}

// Unwrap returns the underlying backend.
func (ib *InstrumentedBackend) Unwrap() Backend {
	return ib.backend
}

func outcomeFromError(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "error"
}

type countingReadCloser struct {
	rc      io.ReadCloser
	n       int64
	onClose func(n int64)
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	if c.onClose != nil {
		c.onClose(c.n)
		c.onClose = nil
	}
	return c.rc.Close()
}

type countingWriter struct {
	w      Writer
	n      int64
	record func(outcome string, n int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) Commit() error {
	err := c.w.Commit()
	c.finish(outcomeFromError(err))
	return err
}

func (c *countingWriter) Abort() error {
	err := c.w.Abort()
	c.finish("aborted")
	return err
}

func (c *countingWriter) finish(outcome string) {
	if c.record != nil {
		c.record(outcome, c.n)
		c.record = nil
	}
}

var _ Backend = (*InstrumentedBackend)(nil)
