package backend

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBolt(t *testing.T, opts ...BoltOption) *Bolt {
	t.Helper()
	opts = append([]BoltOption{WithBoltNoSync(true)}, opts...)
	b, err := OpenBolt(filepath.Join(t.TempDir(), "library.bolt"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBoltContract(t *testing.T) {
	backendContract(t, func(t *testing.T) Backend {
		return newTestBolt(t)
	})
}

func TestBoltModTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := newTestBolt(t, WithBoltNow(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, Write(ctx, b, "rhythmdb.xml", strings.NewReader("<rhythmdb/>")))
	info, err := b.Stat(ctx, "rhythmdb.xml")
	require.NoError(t, err)
	require.True(t, now.Equal(info.ModTime))
}

func TestBoltWriteAfterCommitFails(t *testing.T) {
	b := newTestBolt(t)
	w, err := b.Writer(context.Background(), "rhythmdb.xml")
	require.NoError(t, err)
	require.NoError(t, w.Commit())
	_, err = w.Write([]byte("late"))
	require.Error(t, err)
}

func TestBoltReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.bolt")
	ctx := context.Background()

	b, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, Write(ctx, b, "rhythmdb.xml", strings.NewReader("persisted")))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	info, err := b.Stat(ctx, "rhythmdb.xml")
	require.NoError(t, err)
	require.Equal(t, int64(len("persisted")), info.Size)
}
