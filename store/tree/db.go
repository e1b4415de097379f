// Package tree is the in-memory library store: entries keyed by id and
// location, a type → genre → artist → album index, bulk queries that
// descend that index, change events, and loading and saving through
// store/dbfile.
//
// Locks are taken in the order global → index → id table. The string
// table, staged changes, type registry and subscriber list each have a
// leaf lock that is never held while acquiring another.
package tree

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/property"
	"github.com/wolfeidau/mediadb/query"
	"github.com/wolfeidau/mediadb/refstring"
	"github.com/wolfeidau/mediadb/telemetry"
	"golang.org/x/sync/singleflight"
)

// DefaultBatchSize is how many entries a bulk query hands over at a time.
const DefaultBatchSize = 1024

// ErrEmptyLocation is returned when an entry would be left without a
// location.
var ErrEmptyLocation = errors.New("empty location")

// requiredText are filled with their default when a new entry lacks them.
var requiredText = []property.ID{
	property.Title,
	property.Genre,
	property.Artist,
	property.Album,
	property.MimeType,
}

// DB is the entry store. It is safe for concurrent use.
type DB struct {
	logger    *slog.Logger
	now       func() time.Time
	batchSize int
	strs      *refstring.Table

	// globalMu backs Read and Write, Load and Save.
	globalMu sync.RWMutex

	// indexMu guards the index and every entry's property values.
	indexMu sync.RWMutex
	ix      index

	// tableMu guards the id and location tables.
	tableMu sync.RWMutex
	ids     []*Entry // slot 0 unused
	byLoc   map[string]*Entry
	nextID  uint32
	count   int

	stageMu sync.Mutex
	staged  map[*Entry][]property.Assignment

	typesMu     sync.RWMutex
	types       []*EntryType
	typesByName map[string]*EntryType
	unknown     []pendingRecord

	subsMu  sync.Mutex
	subs    []subscriber
	nextSub int

	mutations atomic.Uint64
	saved     atomic.Uint64
	saves     singleflight.Group
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		db.logger = logger
	}
}

// WithNow sets the clock used by time-window predicates and timing.
func WithNow(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// WithBatchSize sets how many entries a query delivers per Add call.
func WithBatchSize(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.batchSize = n
		}
	}
}

// New creates an empty store with the built-in entry types registered.
func New(opts ...Option) *DB {
	strs := refstring.New()
	db := &DB{
		logger:      slog.Default(),
		now:         time.Now,
		batchSize:   DefaultBatchSize,
		strs:        strs,
		ix:          newIndex(strs),
		ids:         make([]*Entry, 1, 1024),
		byLoc:       make(map[string]*Entry),
		nextID:      1,
		staged:      make(map[*Entry][]property.Assignment),
		typesByName: make(map[string]*EntryType),
	}
	for _, opt := range opts {
		opt(db)
	}
	for _, t := range builtinTypes {
		db.types = append(db.types, t)
		db.typesByName[t.Name] = t
	}
	return db
}

// Read runs fn holding the global lock shared. Use it to read several
// properties as one consistent snapshot against writers using Write.
// The lock is not re-entrant.
func (db *DB) Read(fn func()) {
	db.globalMu.RLock()
	defer db.globalMu.RUnlock()
	fn()
}

// Write runs fn holding the global lock exclusively.
func (db *DB) Write(fn func()) {
	db.globalMu.Lock()
	defer db.globalMu.Unlock()
	fn()
}

// Create adds an entry of type t at location. Unset title, genre, artist,
// album and media type take their defaults, which is logged as a warning.
func (db *DB) Create(t *EntryType, location string, values ...property.Assignment) (*Entry, error) {
	e, evs, err := db.create(t, location, values, slog.LevelWarn)
	if err != nil {
		return nil, err
	}
	db.touch()
	telemetry.RecordEntryOp(context.Background(), t.Name, "create", 1)
	db.emit(evs)
	return e, nil
}

func (db *DB) create(t *EntryType, location string, values []property.Assignment, missingLevel slog.Level) (*Entry, []Event, error) {
	if !db.registered(t) {
		return nil, nil, fmt.Errorf("%w: %s", mediadb.ErrUnknownEntryType, t.Name)
	}
	if location == "" {
		return nil, nil, ErrEmptyLocation
	}
	for _, a := range values {
		if err := property.Check(a.Prop, a.Value); err != nil {
			return nil, nil, err
		}
		if d := property.Describe(a.Prop); d.ReadOnly || a.Prop == property.Location {
			return nil, nil, fmt.Errorf("%w: %s cannot be assigned at create", mediadb.ErrReadOnlyProperty, a.Prop)
		}
	}

	// Nobody else can see e until it is linked, so it is filled in unlocked.
	e := &Entry{typ: t}
	for _, a := range values {
		db.store(e, a.Prop, a.Value)
	}
	var missing []string
	for _, id := range requiredText {
		if e.fields[id].h == 0 {
			db.store(e, id, property.String(property.Describe(id).Default))
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		db.logger.Log(context.Background(), missingLevel, "entry created without required properties",
			"location", location, "type", t.Name, "missing", missing)
	}
	db.store(e, property.Location, property.String(location))
	location = db.location(e)

	var evs []Event
	db.indexMu.Lock()
	db.tableMu.Lock()
	if _, dup := db.byLoc[location]; dup {
		db.tableMu.Unlock()
		db.indexMu.Unlock()
		db.release(e)
		return nil, nil, fmt.Errorf("%w: %s", mediadb.ErrDuplicateLocation, location)
	}
	e.id = db.allocID()
	db.ids[e.id] = e
	db.byLoc[location] = e
	db.count++
	db.tableMu.Unlock()

	db.ix.link(e, &evs)
	evs = append(evs, db.entryEvent(EntryAdded, e))
	db.indexMu.Unlock()
	return e, evs, nil
}

// allocID hands out the lowest free id at or above nextID. The caller
// holds tableMu.
func (db *DB) allocID() uint32 {
	id := db.nextID
	for int(id) < len(db.ids) && db.ids[id] != nil {
		id++
	}
	if int(id) == len(db.ids) {
		db.ids = append(db.ids, nil)
	}
	db.nextID = id + 1
	return id
}

// Set changes one property. Genre, artist, album and location apply at
// once, moving the entry in the index or location table. Every other
// property is staged until Commit.
func (db *DB) Set(e *Entry, prop property.ID, v property.Value) error {
	if err := property.Check(prop, v); err != nil {
		return err
	}
	d := property.Describe(prop)
	if d.ReadOnly {
		return fmt.Errorf("%w: %s", mediadb.ErrReadOnlyProperty, prop)
	}
	if d.Required && v.Str() == "" {
		if prop == property.Location {
			return ErrEmptyLocation
		}
		v = property.String(d.Default)
	}

	switch {
	case d.Indexed:
		return db.place(e, []property.Assignment{property.Assign(prop, v)})
	case prop == property.Location:
		return db.relocate(e, v.Str())
	}

	db.indexMu.RLock()
	dead := e.dead
	db.indexMu.RUnlock()
	if dead {
		return mediadb.ErrEntryNotFound
	}

	db.stageMu.Lock()
	db.staged[e] = append(db.staged[e], property.Assign(prop, v))
	db.stageMu.Unlock()
	return nil
}

// Relink moves e to a new genre, artist and album in one step. No reader
// ever sees e under two albums, or under none.
func (db *DB) Relink(e *Entry, genre, artist, album string) error {
	as := make([]property.Assignment, 0, 3)
	for i, s := range []string{genre, artist, album} {
		if s == "" {
			s = property.Unknown
		}
		as = append(as, property.Assign(levelProps[i], property.String(s)))
	}
	return db.place(e, as)
}

func (db *DB) place(e *Entry, as []property.Assignment) error {
	var evs []Event
	db.indexMu.Lock()
	if e.dead {
		db.indexMu.Unlock()
		return mediadb.ErrEntryNotFound
	}
	var changes []Change
	for _, a := range as {
		if old := db.value(e, a.Prop); !old.Equal(a.Value) {
			changes = append(changes, Change{Prop: a.Prop, Old: old, New: a.Value})
		}
	}
	if len(changes) > 0 {
		db.ix.unlink(e, &evs)
		for _, c := range changes {
			db.store(e, c.Prop, c.New)
		}
		db.ix.link(e, &evs)
		ev := db.entryEvent(EntryChanged, e)
		ev.Changes = changes
		evs = append(evs, ev)
	}
	db.indexMu.Unlock()

	if len(changes) > 0 {
		db.touch()
		telemetry.RecordEntryOp(context.Background(), e.typ.Name, "update", 1)
		db.emit(evs)
	}
	return nil
}

func (db *DB) relocate(e *Entry, location string) error {
	db.indexMu.Lock()
	if e.dead {
		db.indexMu.Unlock()
		return mediadb.ErrEntryNotFound
	}
	old := db.location(e)
	if old == location {
		db.indexMu.Unlock()
		return nil
	}

	db.tableMu.Lock()
	if _, dup := db.byLoc[location]; dup {
		db.tableMu.Unlock()
		db.indexMu.Unlock()
		return fmt.Errorf("%w: %s", mediadb.ErrDuplicateLocation, location)
	}
	db.store(e, property.Location, property.String(location))
	delete(db.byLoc, old)
	db.byLoc[db.location(e)] = e
	db.tableMu.Unlock()

	ev := db.entryEvent(EntryChanged, e)
	ev.Changes = []Change{{Prop: property.Location, Old: property.String(old), New: property.String(location)}}
	db.indexMu.Unlock()

	db.touch()
	telemetry.RecordEntryOp(context.Background(), e.typ.Name, "update", 1)
	db.emit([]Event{ev})
	return nil
}

// Commit applies every staged Set and emits one EntryChanged event per
// entry that actually changed.
func (db *DB) Commit() {
	db.stageMu.Lock()
	staged := db.staged
	db.staged = make(map[*Entry][]property.Assignment)
	db.stageMu.Unlock()
	if len(staged) == 0 {
		return
	}

	entries := make([]*Entry, 0, len(staged))
	for e := range staged {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *Entry) int { return cmp.Compare(a.id, b.id) })

	var evs []Event
	db.indexMu.Lock()
	for _, e := range entries {
		if e.dead {
			continue
		}
		if changes := db.apply(e, staged[e]); len(changes) > 0 {
			ev := db.entryEvent(EntryChanged, e)
			ev.Changes = changes
			evs = append(evs, ev)
		}
	}
	db.indexMu.Unlock()

	if len(evs) == 0 {
		return
	}
	db.touch()
	for _, ev := range evs {
		telemetry.RecordEntryOp(context.Background(), ev.Type.Name, "update", 1)
	}
	db.emit(evs)
}

// apply writes staged assignments in order and returns the net changes.
// The caller holds indexMu.
func (db *DB) apply(e *Entry, as []property.Assignment) []Change {
	var changes []Change
	for _, a := range as {
		old := db.value(e, a.Prop)
		if old.Equal(a.Value) {
			continue
		}
		db.store(e, a.Prop, a.Value)
		if i := slices.IndexFunc(changes, func(c Change) bool { return c.Prop == a.Prop }); i >= 0 {
			changes[i].New = a.Value
			continue
		}
		changes = append(changes, Change{Prop: a.Prop, Old: old, New: a.Value})
	}
	return slices.DeleteFunc(changes, func(c Change) bool { return c.Old.Equal(c.New) })
}

// Delete removes e from the index and both lookup tables and releases its
// strings. Any pending staged changes for e are dropped.
func (db *DB) Delete(e *Entry) error {
	var evs []Event
	db.indexMu.Lock()
	err := db.remove(e, &evs)
	db.indexMu.Unlock()
	if err != nil {
		return err
	}
	db.dropStaged(e)
	db.touch()
	telemetry.RecordEntryOp(context.Background(), e.typ.Name, "delete", 1)
	db.emit(evs)
	return nil
}

// DeleteByType removes every entry of type t and returns how many went.
func (db *DB) DeleteByType(t *EntryType) int {
	var evs []Event
	db.indexMu.Lock()
	db.tableMu.RLock()
	var victims []*Entry
	for _, e := range db.ids {
		if e != nil && e.typ == t {
			victims = append(victims, e)
		}
	}
	db.tableMu.RUnlock()
	for _, e := range victims {
		_ = db.remove(e, &evs)
	}
	db.indexMu.Unlock()

	if len(victims) == 0 {
		return 0
	}
	for _, e := range victims {
		db.dropStaged(e)
	}
	db.touch()
	telemetry.RecordEntryOp(context.Background(), t.Name, "delete", len(victims))
	db.logger.Info("deleted entries by type", "type", t.Name, "entries", len(victims))
	db.emit(evs)
	return len(victims)
}

// remove unlinks e everywhere. The caller holds indexMu.
func (db *DB) remove(e *Entry, evs *[]Event) error {
	if e == nil || e.dead {
		return mediadb.ErrEntryNotFound
	}
	*evs = append(*evs, db.entryEvent(EntryDeleted, e))
	db.ix.unlink(e, evs)

	db.tableMu.Lock()
	db.ids[e.id] = nil
	delete(db.byLoc, db.location(e))
	db.count--
	db.nextID = 1
	db.tableMu.Unlock()

	db.release(e)
	return nil
}

func (db *DB) dropStaged(e *Entry) {
	db.stageMu.Lock()
	delete(db.staged, e)
	db.stageMu.Unlock()
}

// LookupByLocation returns the entry at location, or nil.
func (db *DB) LookupByLocation(location string) *Entry {
	db.tableMu.RLock()
	defer db.tableMu.RUnlock()
	return db.byLoc[location]
}

// LookupByID returns the entry with id, or nil.
func (db *DB) LookupByID(id uint32) *Entry {
	db.tableMu.RLock()
	defer db.tableMu.RUnlock()
	if int(id) >= len(db.ids) {
		return nil
	}
	return db.ids[id]
}

// Count returns the number of entries.
func (db *DB) Count() int {
	db.tableMu.RLock()
	defer db.tableMu.RUnlock()
	return db.count
}

// CountByType returns the number of entries of type t, counted from the
// index without visiting other types.
func (db *DB) CountByType(t *EntryType) int {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	total := 0
	for _, ref := range db.ix.roots[t] {
		total += db.ix.count(ref)
	}
	return total
}

// Get returns the committed value of prop on e. Staged changes are not
// visible until Commit.
func (db *DB) Get(e *Entry, prop property.ID) property.Value {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	return db.value(e, prop)
}

// GetString returns a string property.
func (db *DB) GetString(e *Entry, prop property.ID) string {
	return db.Get(e, prop).Str()
}

// GetULong returns an unsigned integer property.
func (db *DB) GetULong(e *Entry, prop property.ID) uint64 {
	return db.Get(e, prop).Uint()
}

// GetDouble returns a floating point property.
func (db *DB) GetDouble(e *Entry, prop property.ID) float64 {
	return db.Get(e, prop).Float()
}

// Snapshot returns every persisted property of e that holds a value, plus
// the entry id and type, keyed by element name.
func (db *DB) Snapshot(e *Entry) map[string]property.Value {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	out := map[string]property.Value{
		property.EntryID.String(): db.value(e, property.EntryID),
		property.Type.String():    property.String(e.typ.Name),
	}
	for _, d := range property.Persisted() {
		if d.Podcast && !e.typ.Podcast {
			continue
		}
		if v := db.value(e, d.ID); !v.IsZero() {
			out[d.Name] = v
		}
	}
	return out
}

// Match reports whether e satisfies p.
func (db *DB) Match(e *Entry, p query.Program) (bool, error) {
	if err := query.Validate(p); err != nil {
		return false, err
	}
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	if e.dead {
		return false, mediadb.ErrEntryNotFound
	}
	return query.Evaluate(p, view{db: db, e: e}, db.now()), nil
}

// Dirty reports whether the store changed since it was last loaded or
// saved.
func (db *DB) Dirty() bool {
	return db.mutations.Load() != db.saved.Load()
}

func (db *DB) touch() {
	db.mutations.Add(1)
}

// Stats summarizes the store.
type Stats struct {
	Entries int            `json:"entries"`
	ByType  map[string]int `json:"by_type"`
	Strings int            `json:"strings"`
	Nodes   int            `json:"nodes"`
	Held    int            `json:"held_unknown_entries"`
	Dirty   bool           `json:"dirty"`
}

// Stats counts entries per registered type along with internal table
// sizes.
func (db *DB) Stats() Stats {
	s := Stats{ByType: make(map[string]int), Dirty: db.Dirty(), Entries: db.Count()}
	for _, t := range db.EntryTypes() {
		s.ByType[t.Name] = db.CountByType(t)
	}
	db.indexMu.RLock()
	s.Nodes = db.ix.live()
	db.indexMu.RUnlock()
	s.Strings = db.strs.Len()

	db.typesMu.RLock()
	s.Held = len(db.unknown)
	db.typesMu.RUnlock()
	return s
}
