package tree

import (
	"slices"

	"github.com/wolfeidau/mediadb/property"
)

// EventKind says what changed.
type EventKind int

const (
	EntryAdded EventKind = iota + 1
	EntryChanged
	EntryDeleted
	GenreAdded
	GenreDeleted
	ArtistAdded
	ArtistDeleted
	AlbumAdded
	AlbumDeleted
)

var eventNames = [...]string{
	EntryAdded:    "entry-added",
	EntryChanged:  "entry-changed",
	EntryDeleted:  "entry-deleted",
	GenreAdded:    "genre-added",
	GenreDeleted:  "genre-deleted",
	ArtistAdded:   "artist-added",
	ArtistDeleted: "artist-deleted",
	AlbumAdded:    "album-added",
	AlbumDeleted:  "album-deleted",
}

func (k EventKind) String() string {
	if k > 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Change is one property update carried by an EntryChanged event.
type Change struct {
	Prop property.ID
	Old  property.Value
	New  property.Value
}

// Event is a change notification. Entry is the affected entry; for genre,
// artist and album events Value holds the name that appeared or vanished.
type Event struct {
	Kind  EventKind
	Entry *Entry
	Type  *EntryType
	// Location of the entry at the time of the event. Deleted entries can
	// no longer be read through the store.
	Location string
	Value    string
	Changes  []Change
}

type subscriber struct {
	id int
	fn func(Event)
}

// Subscribe registers fn for every event and returns a function that
// removes it. Events are delivered after the store has released its index
// and id locks, in the order the changes were made.
func (db *DB) Subscribe(fn func(Event)) (unsubscribe func()) {
	db.subsMu.Lock()
	id := db.nextSub
	db.nextSub++
	db.subs = append(db.subs, subscriber{id: id, fn: fn})
	db.subsMu.Unlock()

	return func() {
		db.subsMu.Lock()
		defer db.subsMu.Unlock()
		db.subs = slices.DeleteFunc(db.subs, func(s subscriber) bool { return s.id == id })
	}
}

func (db *DB) emit(evs []Event) {
	if len(evs) == 0 {
		return
	}
	db.subsMu.Lock()
	subs := slices.Clone(db.subs)
	db.subsMu.Unlock()

	for _, ev := range evs {
		for _, s := range subs {
			s.fn(ev)
		}
	}
}

func (db *DB) entryEvent(kind EventKind, e *Entry) Event {
	return Event{Kind: kind, Entry: e, Type: e.typ, Location: db.location(e)}
}
