package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/mediadb/property"
	"github.com/wolfeidau/mediadb/store/tree"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		t.Run(format, func(t *testing.T) {
			logger, err := newLogger("debug", format)
			require.NoError(t, err)
			require.True(t, logger.Enabled(context.Background(), -4))
		})
	}

	_, err := newLogger("loud", "text")
	require.Error(t, err)
	_, err = newLogger("info", "xml")
	require.Error(t, err)
}

func TestJulianDay(t *testing.T) {
	require.Equal(t, uint64(0), julianDay(0))
	require.Equal(t, uint64(1), julianDay(1))
	require.Equal(t, uint64(366), julianDay(2))
	require.Equal(t, uint64(719163), julianDay(1970))
}

func TestFileURI(t *testing.T) {
	require.Equal(t, "file:///music/a%20b.flac", fileURI("/music/a b.flac"))
	require.Equal(t, "file:///music/Beyonc%C3%A9/halo.mp3", fileURI("/music/Beyoncé/halo.mp3"))
}

func TestOpenLibrary(t *testing.T) {
	logger, err := newLogger("error", "json")
	require.NoError(t, err)

	for _, b := range []string{"fs", "bolt"} {
		t.Run(b, func(t *testing.T) {
			g := &Globals{DataDir: t.TempDir(), DBKey: "rhythmdb.xml", Backend: b, logger: logger}
			ctx := context.Background()

			lib, err := g.openLibrary(ctx)
			require.NoError(t, err)
			require.True(t, lib.loaded.Missing)

			_, err = lib.db.Create(tree.Song, "file:///music/a.flac",
				property.Assign(property.Title, property.String("A")))
			require.NoError(t, err)
			_, err = lib.db.Save(ctx, lib.file)
			require.NoError(t, err)
			require.NoError(t, lib.Close())

			lib, err = g.openLibrary(ctx)
			require.NoError(t, err)
			defer lib.Close()
			require.False(t, lib.loaded.Missing)
			require.Equal(t, 1, lib.db.Count())
			require.False(t, lib.db.Dirty())
		})
	}
}
