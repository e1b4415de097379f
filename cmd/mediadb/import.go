package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dhowden/tag"
	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/property"
	"github.com/wolfeidau/mediadb/store/tree"
	"github.com/wolfeidau/mediadb/telemetry"
	"golang.org/x/sync/errgroup"
)

// ImportCmd scans directories for tagged audio files.
type ImportCmd struct {
	Paths   []string `arg:"" type:"existingdir" help:"Directories to scan."`
	Workers int      `help:"Number of files read concurrently." default:"4"`
	DryRun  bool     `help:"Scan and report without saving the library."`
}

var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".ogg": true, ".oga": true,
	".m4a": true, ".m4b": true, ".m4p": true, ".dsf": true,
}

var mimeTypes = map[tag.FileType]string{
	tag.MP3:  "audio/mpeg",
	tag.FLAC: "audio/x-flac",
	tag.OGG:  "audio/x-vorbis+ogg",
	tag.M4A:  "audio/x-aac",
	tag.M4B:  "audio/x-aac",
	tag.M4P:  "audio/x-aac",
	tag.ALAC: "audio/x-alac",
	tag.DSF:  "audio/x-dsf",
}

func (c *ImportCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = telemetry.WithSource(ctx, "cli")

	lib, err := g.openLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	imp := &importer{db: lib.db, logger: g.logger.With("component", "import"), now: time.Now}

	eg, scanCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(c.Workers, 1))
	for _, root := range c.Paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				imp.logger.Warn("skipping unreadable path", "path", path, "error", err)
				return nil
			}
			if d.IsDir() || !audioExtensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			if err := scanCtx.Err(); err != nil {
				return err
			}
			eg.Go(func() error { return imp.importFile(path) })
			return nil
		})
		if err != nil {
			_ = eg.Wait()
			return fmt.Errorf("scanning %s: %w", root, err)
		}
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	lib.db.Commit()

	imp.logger.Info("scan complete",
		"created", imp.created.Load(),
		"updated", imp.updated.Load(),
		"failed", imp.failed.Load(),
		"entries", lib.db.Count(),
	)
	if c.DryRun {
		return nil
	}

	res, err := lib.db.Save(ctx, lib.file)
	if err != nil {
		return fmt.Errorf("saving library: %w", err)
	}
	fmt.Printf("imported %d new and %d updated tracks; saved %d entries (%d bytes) to %s\n",
		imp.created.Load(), imp.updated.Load(), res.Entries, res.Bytes, lib.file.Key())
	return nil
}

// importer adds tagged files to a store. It is safe for concurrent use.
type importer struct {
	db     *tree.DB
	logger *slog.Logger
	now    func() time.Time

	created atomic.Int64
	updated atomic.Int64
	failed  atomic.Int64
}

func (imp *importer) importFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		imp.failed.Add(1)
		imp.logger.Warn("opening file failed", "path", path, "error", err)
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		imp.failed.Add(1)
		return nil
	}
	m, err := tag.ReadFrom(f)
	if err != nil {
		imp.failed.Add(1)
		imp.logger.Debug("reading tags failed", "path", path, "error", err)
		return nil
	}

	location := fileURI(path)
	values := trackValues(m, path, info, imp.now())

	if e := imp.db.LookupByLocation(location); e != nil {
		return imp.update(e, values)
	}
	_, err = imp.db.Create(tree.Song, location, values...)
	switch {
	case err == nil:
		imp.created.Add(1)
		return nil
	case errors.Is(err, mediadb.ErrDuplicateLocation):
		// Two spellings of one path raced; the other one won.
		return nil
	default:
		return fmt.Errorf("adding %s: %w", path, err)
	}
}

// update refreshes an existing entry's tag data, keeping its play history.
func (imp *importer) update(e *tree.Entry, values []property.Assignment) error {
	var genre, artist, album string
	for _, a := range values {
		switch a.Prop {
		case property.Genre:
			genre = a.Value.Str()
		case property.Artist:
			artist = a.Value.Str()
		case property.Album:
			album = a.Value.Str()
		case property.FirstSeen:
			// keep when the track was first found
		default:
			if err := imp.db.Set(e, a.Prop, a.Value); err != nil {
				return fmt.Errorf("updating %s: %w", a.Prop, err)
			}
		}
	}
	if err := imp.db.Relink(e, genre, artist, album); err != nil {
		return fmt.Errorf("relinking entry %d: %w", e.ID(), err)
	}
	imp.updated.Add(1)
	return nil
}

// trackValues maps a file's tags onto song properties. Missing text tags
// fall back to the Unknown placeholders, and a missing title to the file
// name.
func trackValues(m tag.Metadata, path string, info os.FileInfo, now time.Time) []property.Assignment {
	str := func(s string) property.Value {
		if s = strings.TrimSpace(s); s == "" {
			return property.String(property.Unknown)
		}
		return property.String(s)
	}

	title := strings.TrimSpace(m.Title())
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	artist := m.Artist()
	if aa := strings.TrimSpace(m.AlbumArtist()); aa != "" && strings.TrimSpace(artist) == "" {
		artist = aa
	}
	mime, ok := mimeTypes[m.FileType()]
	if !ok {
		mime = "application/octet-stream"
	}
	track, _ := m.Track()
	disc, _ := m.Disc()
	seen := uint64(now.Unix())

	return []property.Assignment{
		property.Assign(property.Title, property.String(title)),
		property.Assign(property.Genre, str(m.Genre())),
		property.Assign(property.Artist, str(artist)),
		property.Assign(property.Album, str(m.Album())),
		property.Assign(property.TrackNumber, property.ULong(uint64(max(track, 0)))),
		property.Assign(property.DiscNumber, property.ULong(uint64(max(disc, 0)))),
		property.Assign(property.Date, property.ULong(julianDay(m.Year()))),
		property.Assign(property.FileSize, property.Uint64(uint64(info.Size()))),
		property.Assign(property.Mtime, property.ULong(uint64(info.ModTime().Unix()))),
		property.Assign(property.MimeType, property.String(mime)),
		property.Assign(property.FirstSeen, property.ULong(seen)),
		property.Assign(property.LastSeen, property.ULong(seen)),
	}
}

const secondsPerDay = 24 * 60 * 60

// julianDay returns the day number of January 1st of year, counting
// January 1st of year 1 as day 1, or 0 for an unknown year.
func julianDay(year int) uint64 {
	if year <= 0 {
		return 0
	}
	epoch := time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	return uint64((start-epoch)/secondsPerDay) + 1
}

// fileURI returns the file:// location for a local path.
func fileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
