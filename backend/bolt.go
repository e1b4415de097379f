package backend

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketFiles    = []byte("files")
	bucketModTimes = []byte("mtimes")
)

// Bolt implements Backend inside a single bbolt database file. Each key is
// one value, replaced in a single transaction on commit.
type Bolt struct {
	db     *bbolt.DB
	logger *slog.Logger
	now    func() time.Time
	noSync bool
}

// BoltOption configures a Bolt backend.
type BoltOption func(*Bolt)

// WithBoltLogger sets the logger.
func WithBoltLogger(logger *slog.Logger) BoltOption {
	return func(b *Bolt) {
		b.logger = logger
	}
}

// WithBoltNow sets the clock used to stamp modification times.
func WithBoltNow(now func() time.Time) BoltOption {
	return func(b *Bolt) {
		b.now = now
	}
}

// WithBoltNoSync disables fsync per transaction.
// Use only for testing, never in production.
func WithBoltNoSync(noSync bool) BoltOption {
	return func(b *Bolt) {
		b.noSync = noSync
	}
}

// OpenBolt opens or creates the bbolt database at path.
func OpenBolt(path string, opts ...BoltOption) (*Bolt, error) {
	b := &Bolt{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketFiles, bucketModTimes} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	b.db = db
	b.logger.Debug("opened bolt backend", "path", path)
	return b, nil
}

// Close closes the database.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Read returns a copy of the value at key; bbolt memory is only valid
// inside the transaction.
func (b *Bolt) Read(_ context.Context, key string) (io.ReadCloser, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketFiles).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		data = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Writer buffers in memory and stores the value on Commit.
func (b *Bolt) Writer(_ context.Context, key string) (Writer, error) {
	return &boltWriter{b: b, key: key}, nil
}

// Stat describes the value at key.
func (b *Bolt) Stat(_ context.Context, key string) (Info, error) {
	info := Info{Key: key}
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketFiles).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		info.Size = int64(len(v))
		if ts := tx.Bucket(bucketModTimes).Get([]byte(key)); len(ts) == 8 {
			info.ModTime = time.Unix(0, int64(binary.BigEndian.Uint64(ts)))
		}
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	return info, nil
}

// Delete removes the value at key.
func (b *Bolt) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketFiles).Delete([]byte(key)); err != nil {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
		return tx.Bucket(bucketModTimes).Delete([]byte(key))
	})
}

// List returns keys with the given prefix in byte order.
func (b *Bolt) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketFiles).Cursor()
		p := []byte(prefix)
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

func (b *Bolt) put(key string, data []byte) error {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(b.now().UnixNano()))
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketFiles).Put([]byte(key), data); err != nil {
			return fmt.Errorf("storing %s: %w", key, err)
		}
		return tx.Bucket(bucketModTimes).Put([]byte(key), ts[:])
	})
}

type boltWriter struct {
	b    *Bolt
	key  string
	buf  bytes.Buffer
	done bool
}

func (w *boltWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("write to finished writer for %s", w.key)
	}
	return w.buf.Write(p)
}

func (w *boltWriter) Commit() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.b.put(w.key, w.buf.Bytes())
}

func (w *boltWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}

var _ Backend = (*Bolt)(nil)
