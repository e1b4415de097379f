package tree

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/property"
	"github.com/wolfeidau/mediadb/store/dbfile"
	"github.com/wolfeidau/mediadb/telemetry"
)

var persisted = property.Persisted()

// Load reads f into the store, holding the global lock exclusively. Entries
// of unregistered types are held back until their type is registered and
// written out again by Save. On error or cancellation whatever was loaded
// so far stays in the store.
//
// Events for loaded entries are delivered while the global lock is held,
// so subscribers must not call Read or Write.
func (db *DB) Load(ctx context.Context, f *dbfile.File) (dbfile.LoadResult, error) {
	db.globalMu.Lock()
	defer db.globalMu.Unlock()

	l := &loader{db: db}
	res, err := f.Load(ctx, l)
	if l.merged > 0 || l.dropped > 0 {
		db.logger.Info("library entries merged or dropped",
			"key", f.Key(), "merged", l.merged, "dropped", l.dropped)
	}
	for _, t := range db.EntryTypes() {
		telemetry.RecordEntryCount(ctx, t.Name, db.CountByType(t))
	}
	if err != nil {
		return res, err
	}
	if res.Migration == (dbfile.Migration{}) && l.merged == 0 && l.dropped == 0 {
		db.saved.Store(db.mutations.Load())
	}
	return res, nil
}

// Save writes every persistent entry, followed by the held entries of
// unregistered types, holding the global lock shared. Concurrent saves to
// the same file share one write.
func (db *DB) Save(ctx context.Context, f *dbfile.File) (dbfile.SaveResult, error) {
	v, err, shared := db.saves.Do(f.Key(), func() (any, error) {
		db.globalMu.RLock()
		defer db.globalMu.RUnlock()

		gen := db.mutations.Load()
		res, err := f.Save(ctx, saver{db: db})
		if err != nil {
			return res, err
		}
		db.saved.Store(gen)
		return res, nil
	})
	if shared {
		db.logger.Debug("library save shared", "key", f.Key())
	}
	res, _ := v.(dbfile.SaveResult)
	return res, err
}

type saver struct {
	db *DB
}

func (s saver) Encode(ctx context.Context, enc *dbfile.Encoder) error {
	db := s.db
	for _, t := range db.EntryTypes() {
		if !t.SaveToDisk {
			continue
		}
		for i, e := range db.Entries(t) {
			if i%db.batchSize == 0 {
				if err := ctx.Err(); err != nil {
					return mediadb.Cancelled(err)
				}
			}
			rec, ok := db.record(e)
			if !ok {
				continue
			}
			enc.Record(rec)
			if err := enc.Err(); err != nil {
				return err
			}
		}
	}

	db.typesMu.RLock()
	held := slices.Clone(db.unknown)
	db.typesMu.RUnlock()

	var order []string
	groups := make(map[string][]dbfile.Record)
	for _, p := range held {
		if _, ok := groups[p.rec.Type]; !ok {
			order = append(order, p.rec.Type)
		}
		groups[p.rec.Type] = append(groups[p.rec.Type], p.rec)
	}
	for _, name := range order {
		for _, rec := range groups[name] {
			enc.Record(rec)
		}
	}
	return enc.Err()
}

// record renders e as it is written to the library file.
func (db *DB) record(e *Entry) (dbfile.Record, bool) {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	if e.dead {
		return dbfile.Record{}, false
	}

	rec := dbfile.Record{Type: e.typ.Name}
	for _, d := range persisted {
		if d.Podcast && !e.typ.Podcast {
			continue
		}
		v := db.value(e, d.ID)
		if property.Omit(d, v) {
			continue
		}
		rec.Fields = append(rec.Fields, dbfile.Field{Name: d.Name, Value: property.Encode(v)})
	}
	return rec, true
}

// loader feeds decoded records into the store.
type loader struct {
	db      *DB
	merged  int
	dropped int
}

func (l *loader) KnownType(name string) bool {
	_, ok := l.db.EntryType(name)
	return ok
}

// UnknownEntry holds rec until its type is registered. A record with the
// same type and location as one already held replaces it in place.
func (l *loader) UnknownEntry(rec dbfile.Record, mig dbfile.Migration) {
	l.db.typesMu.Lock()
	defer l.db.typesMu.Unlock()

	loc := recordLocation(rec)
	i := slices.IndexFunc(l.db.unknown, func(p pendingRecord) bool {
		if p.rec.Type != rec.Type {
			return false
		}
		if loc == "" {
			return slices.Equal(p.rec.Fields, rec.Fields)
		}
		return recordLocation(p.rec) == loc
	})
	if i >= 0 {
		l.merged++
		l.db.unknown[i] = pendingRecord{rec: rec, mig: mig}
		return
	}
	l.db.unknown = append(l.db.unknown, pendingRecord{rec: rec, mig: mig})
}

func recordLocation(rec dbfile.Record) string {
	name := property.Location.String()
	for _, f := range rec.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func (l *loader) Entry(rec dbfile.Record, mig dbfile.Migration) error {
	db := l.db
	t, ok := db.EntryType(rec.Type)
	if !ok {
		l.UnknownEntry(rec, mig)
		return nil
	}

	var (
		location string
		hasDate  bool
		values   = make([]property.Assignment, 0, len(rec.Fields))
	)
	for _, f := range rec.Fields {
		id, ok := property.FromName(f.Name)
		if !ok || !property.Describe(id).Saved {
			continue
		}
		v, err := property.Parse(id, f.Value)
		if err != nil {
			db.logger.Debug("skipping unparseable property", "type", rec.Type, "property", f.Name, "error", err)
			continue
		}
		switch id {
		case property.Location:
			location = v.Str()
			if mig.CanonicalizeURIs {
				location = canonicalURI(location)
			}
			continue
		case property.Mountpoint:
			if strings.HasPrefix(v.Str(), "http://") {
				continue
			}
		case property.Date:
			hasDate = true
		}
		values = append(values, property.Assign(id, v))
	}

	if location == "" {
		l.dropped++
		db.logger.Debug("dropping entry without location", "type", rec.Type)
		return nil
	}
	if !hasDate || mig.ReloadMetadata {
		values = assign(values, property.Mtime, property.ULong(0))
	}
	if t == PodcastFeed && lookup(values, property.PostTime).Uint() == 0 {
		if seen := lookup(values, property.LastSeen); seen.Uint() != 0 {
			values = assign(values, property.PostTime, seen)
		}
	}

	if existing := db.LookupByLocation(location); existing != nil {
		l.merged++
		db.merge(existing, values)
		return nil
	}
	_, evs, err := db.create(t, location, values, slog.LevelDebug)
	if errors.Is(err, mediadb.ErrDuplicateLocation) {
		if existing := db.LookupByLocation(location); existing != nil {
			l.merged++
			db.merge(existing, values)
			return nil
		}
	}
	if err != nil {
		return err
	}
	db.touch()
	telemetry.RecordEntryOp(context.Background(), t.Name, "create", 1)
	db.emit(evs)
	return nil
}

// merge folds the play statistics of a duplicate record into e.
func (db *DB) merge(e *Entry, values []property.Assignment) {
	db.indexMu.Lock()
	if e.dead {
		db.indexMu.Unlock()
		return
	}
	var changes []Change
	for _, a := range values {
		old := db.value(e, a.Prop)
		var merged property.Value
		switch a.Prop {
		case property.PlayCount:
			merged = property.ULong(old.Uint() + a.Value.Uint())
		case property.Rating:
			merged = property.Double(max(old.Float(), a.Value.Float()))
		case property.LastPlayed, property.LastSeen:
			merged = property.ULong(max(old.Uint(), a.Value.Uint()))
		case property.FirstSeen:
			merged = old
			if n := a.Value.Uint(); n != 0 && (old.Uint() == 0 || n < old.Uint()) {
				merged = a.Value
			}
		default:
			continue
		}
		if !merged.Equal(old) {
			db.store(e, a.Prop, merged)
			changes = append(changes, Change{Prop: a.Prop, Old: old, New: merged})
		}
	}
	var evs []Event
	if len(changes) > 0 {
		ev := db.entryEvent(EntryChanged, e)
		ev.Changes = changes
		evs = append(evs, ev)
	}
	db.indexMu.Unlock()

	if len(changes) > 0 {
		db.touch()
		telemetry.RecordEntryOp(context.Background(), e.typ.Name, "merge", 1)
	}
	db.emit(evs)
}

func assign(values []property.Assignment, id property.ID, v property.Value) []property.Assignment {
	values = slices.DeleteFunc(values, func(a property.Assignment) bool { return a.Prop == id })
	return append(values, property.Assign(id, v))
}

// lookup returns the last value assigned to id, or its zero value.
func lookup(values []property.Assignment, id property.ID) property.Value {
	for i := len(values) - 1; i >= 0; i-- {
		if values[i].Prop == id {
			return values[i].Value
		}
	}
	return property.Zero(id.Kind())
}

// canonicalURI turns bare paths into file URIs and re-escapes URIs written
// by older versions.
func canonicalURI(s string) string {
	if strings.HasPrefix(s, "/") {
		return (&url.URL{Scheme: "file", Path: s}).String()
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return s
	}
	return u.String()
}
