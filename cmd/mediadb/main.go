// Command mediadb serves, imports into and inspects a media library database.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/wolfeidau/mediadb/backend"
	"github.com/wolfeidau/mediadb/store/dbfile"
	"github.com/wolfeidau/mediadb/store/tree"
)

var version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	DataDir   string `help:"Directory holding the library." default:"./data" env:"MEDIADB_DATA_DIR" type:"path"`
	DBKey     string `help:"Name of the library file within the data directory." default:"rhythmdb.xml" env:"MEDIADB_DB_KEY"`
	Backend   string `help:"Storage backend for the library file." default:"fs" enum:"fs,bolt" env:"MEDIADB_BACKEND"`
	Compress  bool   `help:"Write the library file zstd-compressed." env:"MEDIADB_COMPRESS"`
	LogLevel  string `help:"Log level." default:"info" enum:"debug,info,warn,error" env:"MEDIADB_LOG_LEVEL"`
	LogFormat string `help:"Log format." default:"text" enum:"text,json" env:"MEDIADB_LOG_FORMAT"`

	logger *slog.Logger
}

// CLI is the mediadb command line.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Print version and exit."`

	Serve  ServeCmd  `cmd:"" help:"Serve the library over HTTP."`
	Import ImportCmd `cmd:"" help:"Scan directories for audio files and add them to the library."`
	Query  QueryCmd  `cmd:"" help:"Print entries matching a filter."`
	Stats  StatsCmd  `cmd:"" help:"Print library statistics."`
	Check  CheckCmd  `cmd:"" help:"Load the library file and report its state."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("mediadb"),
		kong.Description("An in-memory media library database with an XML library file."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger, err := newLogger(cli.LogLevel, cli.LogFormat)
	kctx.FatalIfErrorf(err)
	cli.logger = logger
	slog.SetDefault(logger)

	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

func newLogger(levelName, format string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("invalid log level: %s", levelName)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
	return slog.New(handler), nil
}

// library is an opened store together with the file it persists to.
type library struct {
	db      *tree.DB
	file    *dbfile.File
	loaded  dbfile.LoadResult
	closers []func() error
}

func (l *library) Close() error {
	var errs []error
	for _, c := range l.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// openLibrary opens the configured backend and loads the library file
// into a new store.
func (g *Globals) openLibrary(ctx context.Context) (*library, error) {
	lib := &library{}

	var b backend.Backend
	switch g.Backend {
	case "bolt":
		if err := os.MkdirAll(g.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		bolt, err := backend.OpenBolt(filepath.Join(g.DataDir, "mediadb.bolt"),
			backend.WithBoltLogger(g.logger.With("component", "bolt")))
		if err != nil {
			return nil, err
		}
		lib.closers = append(lib.closers, bolt.Close)
		b = bolt
	default:
		fs, err := backend.NewFilesystem(g.DataDir)
		if err != nil {
			return nil, fmt.Errorf("creating filesystem backend: %w", err)
		}
		b = fs
	}

	lib.file = dbfile.New(backend.NewInstrumentedBackend(b, g.Backend), g.DBKey,
		dbfile.WithCompression(g.Compress),
		dbfile.WithLogger(g.logger.With("component", "dbfile")),
	)
	lib.db = tree.New(tree.WithLogger(g.logger.With("component", "tree")))

	res, err := lib.db.Load(ctx, lib.file)
	if err != nil {
		_ = lib.Close()
		return nil, fmt.Errorf("loading library: %w", err)
	}
	lib.loaded = res
	return lib, nil
}
