package tree

import (
	"fmt"

	"github.com/wolfeidau/mediadb/store/dbfile"
)

// EntryType tags an entry with what it is. Entry types are compared by
// pointer, so every store registers the same *EntryType values.
type EntryType struct {
	// Name is the type attribute written to the library file.
	Name string
	// SaveToDisk types are written by Save.
	SaveToDisk bool
	// Podcast types persist the podcast-only properties.
	Podcast bool
}

func (t *EntryType) String() string {
	return t.Name
}

// Built-in entry types, registered in every store.
var (
	Song        = &EntryType{Name: "song", SaveToDisk: true}
	IRadio      = &EntryType{Name: "iradio", SaveToDisk: true}
	PodcastFeed = &EntryType{Name: "podcast-feed", SaveToDisk: true, Podcast: true}
	PodcastPost = &EntryType{Name: "podcast-post", SaveToDisk: true, Podcast: true}
	Ignore      = &EntryType{Name: "ignore", SaveToDisk: true}
)

var builtinTypes = []*EntryType{Song, IRadio, PodcastFeed, PodcastPost, Ignore}

// pendingRecord is an entry of a type nobody has registered yet.
type pendingRecord struct {
	rec dbfile.Record
	mig dbfile.Migration
}

// RegisterEntryType adds t to the store. Entries of t's name held back from
// an earlier load are created now.
func (db *DB) RegisterEntryType(t *EntryType) error {
	db.typesMu.Lock()
	if _, ok := db.typesByName[t.Name]; ok {
		db.typesMu.Unlock()
		return fmt.Errorf("entry type %q already registered", t.Name)
	}
	db.types = append(db.types, t)
	db.typesByName[t.Name] = t

	var replay []pendingRecord
	kept := db.unknown[:0]
	for _, p := range db.unknown {
		if p.rec.Type == t.Name {
			replay = append(replay, p)
			continue
		}
		kept = append(kept, p)
	}
	clear(db.unknown[len(kept):])
	db.unknown = kept
	db.typesMu.Unlock()

	if len(replay) == 0 {
		return nil
	}
	l := &loader{db: db}
	for _, p := range replay {
		if err := l.Entry(p.rec, p.mig); err != nil {
			return fmt.Errorf("replaying %s entries: %w", t.Name, err)
		}
	}
	db.logger.Info("replayed held entries", "type", t.Name, "entries", len(replay), "merged", l.merged, "dropped", l.dropped)
	return nil
}

// EntryType returns the registered type called name.
func (db *DB) EntryType(name string) (*EntryType, bool) {
	db.typesMu.RLock()
	defer db.typesMu.RUnlock()
	t, ok := db.typesByName[name]
	return t, ok
}

// EntryTypes returns the registered types in registration order.
func (db *DB) EntryTypes() []*EntryType {
	db.typesMu.RLock()
	defer db.typesMu.RUnlock()
	return append([]*EntryType(nil), db.types...)
}

func (db *DB) registered(t *EntryType) bool {
	db.typesMu.RLock()
	defer db.typesMu.RUnlock()
	return db.typesByName[t.Name] == t
}
