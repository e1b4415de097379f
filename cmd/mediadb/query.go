package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/property"
	"github.com/wolfeidau/mediadb/store/tree"
	"github.com/wolfeidau/mediadb/telemetry"
)

// QueryCmd prints entries matching a filter.
type QueryCmd struct {
	Type      string  `help:"Entry type (song, iradio, podcast-feed, podcast-post, ignore)." default:"song"`
	Genre     string  `help:"Exact genre."`
	Artist    string  `help:"Exact artist."`
	Album     string  `help:"Exact album."`
	Search    string  `short:"s" help:"Words that must all appear in title, genre, artist or album."`
	MinRating float64 `help:"Only entries rated at least this much (0 disables)."`
	Limit     int     `help:"Stop after this many entries (0 for no limit)."`
	JSON      bool    `help:"Print one JSON object per entry."`
}

func (c *QueryCmd) Run(g *Globals) error {
	ctx, cancel := context.WithCancel(telemetry.WithSource(context.Background(), "cli"))
	defer cancel()

	lib, err := g.openLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	f := tree.Filter{Type: c.Type, Genre: c.Genre, Artist: c.Artist, Album: c.Album, Search: c.Search}
	if c.MinRating > 0 {
		f.MinRating = &c.MinRating
	}
	p, err := f.Program(lib.db)
	if err != nil {
		return err
	}

	out := newEntryPrinter(lib.db, c.JSON)
	n := 0
	err = lib.db.Run(ctx, p, tree.ResultsFunc(func(entries []*tree.Entry) {
		for _, e := range entries {
			if c.Limit > 0 && n >= c.Limit {
				cancel()
				return
			}
			out.print(e)
			n++
		}
	}))
	if err != nil && !(c.Limit > 0 && n >= c.Limit && errors.Is(err, mediadb.ErrCancelled)) {
		return err
	}
	return out.flush()
}

type entryPrinter struct {
	db   *tree.DB
	json *json.Encoder
	tw   *tabwriter.Writer
}

func newEntryPrinter(db *tree.DB, asJSON bool) *entryPrinter {
	p := &entryPrinter{db: db}
	if asJSON {
		p.json = json.NewEncoder(os.Stdout)
		return p
	}
	p.tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(p.tw, "ID\tARTIST\tALBUM\tTITLE\tRATING")
	return p
}

func (p *entryPrinter) print(e *tree.Entry) {
	if p.json != nil {
		snap := p.db.Snapshot(e)
		obj := make(map[string]any, len(snap))
		for k, v := range snap {
			obj[k] = v.Any()
		}
		_ = p.json.Encode(obj)
		return
	}
	fmt.Fprintf(p.tw, "%d\t%s\t%s\t%s\t%g\n",
		e.ID(),
		p.db.GetString(e, property.Artist),
		p.db.GetString(e, property.Album),
		p.db.GetString(e, property.Title),
		p.db.GetDouble(e, property.Rating),
	)
}

func (p *entryPrinter) flush() error {
	if p.tw != nil {
		return p.tw.Flush()
	}
	return nil
}

// StatsCmd prints library statistics as JSON.
type StatsCmd struct{}

func (c *StatsCmd) Run(g *Globals) error {
	lib, err := g.openLibrary(telemetry.WithSource(context.Background(), "cli"))
	if err != nil {
		return err
	}
	defer lib.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(lib.db.Stats())
}

// CheckCmd loads the library file and reports what loading it did.
type CheckCmd struct {
	Write bool `help:"Save the library back when loading migrated, merged or dropped entries."`
}

func (c *CheckCmd) Run(g *Globals) error {
	ctx := telemetry.WithSource(context.Background(), "cli")
	lib, err := g.openLibrary(ctx)
	if err != nil {
		return err
	}
	defer lib.Close()

	res := lib.loaded
	stats := lib.db.Stats()
	report := struct {
		Key        string         `json:"key"`
		Missing    bool           `json:"missing"`
		Version    string         `json:"version,omitempty"`
		Compressed bool           `json:"compressed"`
		Bytes      int64          `json:"bytes"`
		Digest     mediadb.Digest `json:"digest"`
		Entries    int            `json:"entries_loaded"`
		Unknown    int            `json:"unknown_type_entries"`
		Skipped    int            `json:"skipped_elements"`
		Canonical  bool           `json:"canonicalize_uris"`
		Reload     bool           `json:"reload_metadata"`
		Stored     int            `json:"entries_stored"`
		NeedsSave  bool           `json:"needs_save"`
		Saved      bool           `json:"saved"`
	}{
		Key:        lib.file.Key(),
		Missing:    res.Missing,
		Version:    res.Version,
		Compressed: res.Compressed,
		Bytes:      res.Bytes,
		Digest:     res.Digest,
		Entries:    res.Entries,
		Unknown:    res.Unknown,
		Skipped:    res.Skipped,
		Canonical:  res.Migration.CanonicalizeURIs,
		Reload:     res.Migration.ReloadMetadata,
		Stored:     stats.Entries,
		NeedsSave:  stats.Dirty,
	}

	if c.Write && stats.Dirty {
		if _, err := lib.db.Save(ctx, lib.file); err != nil {
			return fmt.Errorf("saving library: %w", err)
		}
		report.Saved = true
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
