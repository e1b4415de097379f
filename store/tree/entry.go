package tree

import (
	"github.com/wolfeidau/mediadb/property"
	"github.com/wolfeidau/mediadb/refstring"
)

// field holds one property value. String properties keep a reference on
// an interned handle; the other kinds use n or f.
type field struct {
	h refstring.Handle
	n uint64
	f float64
}

// Entry is one library record. The store owns every Entry; callers hold
// non-owning pointers and read properties through the DB.
type Entry struct {
	id  uint32
	typ *EntryType

	// Guarded by DB.indexMu.
	fields [property.Count]field
	album  nodeRef
	dead   bool
}

// ID returns the entry's id. Ids are only stable until the next delete of
// any entry, after which a freed id may be handed out again.
func (e *Entry) ID() uint32 {
	return e.id
}

// Type returns the entry's type.
func (e *Entry) Type() *EntryType {
	return e.typ
}

// value reads one property. The caller holds indexMu.
func (db *DB) value(e *Entry, id property.ID) property.Value {
	switch id {
	case property.Type:
		return property.Pointer(e.typ)
	case property.EntryID:
		return property.ULong(uint64(e.id))
	case property.SearchMatch:
		return property.String("")
	}

	f := &e.fields[id]
	switch id.Kind() {
	case property.KindString:
		return property.String(db.strs.Get(f.h))
	case property.KindULong:
		return property.ULong(f.n)
	case property.KindUint64:
		return property.Uint64(f.n)
	case property.KindBool:
		return property.Bool(f.n != 0)
	case property.KindDouble:
		return property.Double(f.f)
	default:
		return property.Value{}
	}
}

// store writes one property, keeping its folded companion in step. The
// caller holds indexMu or owns an entry nobody else can see yet.
func (db *DB) store(e *Entry, id property.ID, v property.Value) {
	f := &e.fields[id]
	switch v.Kind() {
	case property.KindString:
		old := f.h
		f.h = db.intern(v.Str())
		db.strs.Release(old)

		if d := property.Describe(id); d.Folded != 0 {
			fo := &e.fields[d.Folded]
			old := fo.h
			fo.h = db.intern(property.Fold(v.Str()))
			db.strs.Release(old)
		}
	case property.KindDouble:
		f.f = v.Float()
	default:
		f.n = v.Uint()
	}
}

func (db *DB) intern(s string) refstring.Handle {
	if s == "" {
		return 0
	}
	return db.strs.Intern(s)
}

// release drops every string reference held by e and marks it dead.
func (db *DB) release(e *Entry) {
	for i := range e.fields {
		if h := e.fields[i].h; h != 0 {
			db.strs.Release(h)
			e.fields[i].h = 0
		}
	}
	e.dead = true
}

func (db *DB) location(e *Entry) string {
	return db.strs.Get(e.fields[property.Location].h)
}

// view evaluates queries against an entry while indexMu is held.
type view struct {
	db *DB
	e  *Entry
}

func (v view) Value(id property.ID) property.Value {
	return v.db.value(v.e, id)
}
