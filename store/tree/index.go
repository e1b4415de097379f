package tree

import (
	"cmp"
	"slices"

	"github.com/wolfeidau/mediadb/property"
	"github.com/wolfeidau/mediadb/refstring"
)

// nodeRef addresses a node in the index arena. Zero means none.
type nodeRef int32

type level uint8

const (
	levelGenre level = iota
	levelArtist
	levelAlbum
)

var levelProps = [...]property.ID{property.Genre, property.Artist, property.Album}

// node is a genre, artist or album. Genre and artist nodes have children;
// album nodes hold entries. A node lives exactly as long as some entry sits
// beneath it.
type node struct {
	level    level
	key      refstring.Handle
	parent   nodeRef
	typ      *EntryType
	children map[refstring.Handle]nodeRef
	entries  map[*Entry]struct{}
}

func (n *node) empty() bool {
	return len(n.children) == 0 && len(n.entries) == 0
}

// index is the type → genre → artist → album tree. Every method expects
// the caller to hold DB.indexMu.
type index struct {
	strs  *refstring.Table
	nodes []node // slot 0 unused
	free  []nodeRef
	roots map[*EntryType]map[refstring.Handle]nodeRef
}

func newIndex(strs *refstring.Table) index {
	return index{
		strs:  strs,
		nodes: make([]node, 1, 64),
		roots: make(map[*EntryType]map[refstring.Handle]nodeRef),
	}
}

func (ix *index) alloc(lvl level, key refstring.Handle, parent nodeRef, t *EntryType) nodeRef {
	n := node{level: lvl, key: ix.strs.Ref(key), parent: parent, typ: t}
	if lvl == levelAlbum {
		n.entries = make(map[*Entry]struct{})
	} else {
		n.children = make(map[refstring.Handle]nodeRef)
	}

	if k := len(ix.free); k > 0 {
		ref := ix.free[k-1]
		ix.free = ix.free[:k-1]
		ix.nodes[ref] = n
		return ref
	}
	ix.nodes = append(ix.nodes, n)
	return nodeRef(len(ix.nodes) - 1)
}

func (ix *index) destroy(ref nodeRef) {
	ix.strs.Release(ix.nodes[ref].key)
	ix.nodes[ref] = node{}
	ix.free = append(ix.free, ref)
}

func (ix *index) live() int {
	return len(ix.nodes) - 1 - len(ix.free)
}

// path descends to the album node for keys, creating missing nodes and
// reporting each one as an added event for e.
func (ix *index) path(t *EntryType, keys [3]refstring.Handle, e *Entry, evs *[]Event) nodeRef {
	genres := ix.roots[t]
	if genres == nil {
		genres = make(map[refstring.Handle]nodeRef)
		ix.roots[t] = genres
	}

	ref, ok := genres[keys[levelGenre]]
	if !ok {
		ref = ix.alloc(levelGenre, keys[levelGenre], 0, t)
		genres[keys[levelGenre]] = ref
		*evs = append(*evs, ix.nodeEvent(ref, e, true))
	}
	for lvl := levelArtist; lvl <= levelAlbum; lvl++ {
		child, ok := ix.nodes[ref].children[keys[lvl]]
		if !ok {
			child = ix.alloc(lvl, keys[lvl], ref, t)
			ix.nodes[ref].children[keys[lvl]] = child
			*evs = append(*evs, ix.nodeEvent(child, e, true))
		}
		ref = child
	}
	return ref
}

// link places e under the album node for its current genre, artist and
// album.
func (ix *index) link(e *Entry, evs *[]Event) {
	var keys [3]refstring.Handle
	for lvl, id := range levelProps {
		keys[lvl] = e.fields[id].h
	}
	e.album = ix.path(e.typ, keys, e, evs)
	ix.nodes[e.album].entries[e] = struct{}{}
}

// unlink removes e from its album node and destroys every node left empty
// on the way up.
func (ix *index) unlink(e *Entry, evs *[]Event) {
	ref := e.album
	if ref == 0 {
		return
	}
	delete(ix.nodes[ref].entries, e)
	e.album = 0

	for ref != 0 && ix.nodes[ref].empty() {
		n := ix.nodes[ref]
		if n.parent == 0 {
			delete(ix.roots[n.typ], n.key)
			if len(ix.roots[n.typ]) == 0 {
				delete(ix.roots, n.typ)
			}
		} else {
			delete(ix.nodes[n.parent].children, n.key)
		}
		*evs = append(*evs, ix.nodeEvent(ref, e, false))
		ix.destroy(ref)
		ref = n.parent
	}
}

func (ix *index) nodeEvent(ref nodeRef, e *Entry, added bool) Event {
	n := &ix.nodes[ref]
	kind := [...]EventKind{GenreDeleted, ArtistDeleted, AlbumDeleted}[n.level]
	if added {
		kind = [...]EventKind{GenreAdded, ArtistAdded, AlbumAdded}[n.level]
	}
	return Event{Kind: kind, Entry: e, Type: n.typ, Value: ix.strs.Get(n.key)}
}

// find follows names down from the genre level without creating anything.
func (ix *index) find(t *EntryType, names ...string) nodeRef {
	var ref nodeRef
	for i, name := range names {
		h := ix.strs.Lookup(name)
		if h == 0 {
			return 0
		}
		var ok bool
		if i == 0 {
			ref, ok = ix.roots[t][h]
		} else {
			ref, ok = ix.nodes[ref].children[h]
		}
		if !ok {
			return 0
		}
	}
	return ref
}

type namedRef struct {
	name string
	ref  nodeRef
}

func (ix *index) sorted(m map[refstring.Handle]nodeRef) []namedRef {
	out := make([]namedRef, 0, len(m))
	for h, ref := range m {
		out = append(out, namedRef{name: ix.strs.Get(h), ref: ref})
	}
	slices.SortFunc(out, func(a, b namedRef) int { return cmp.Compare(a.name, b.name) })
	return out
}

func sortedEntries(m map[*Entry]struct{}) []*Entry {
	out := make([]*Entry, 0, len(m))
	for e := range m {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entry) int { return cmp.Compare(a.id, b.id) })
	return out
}

// count returns the number of entries beneath ref.
func (ix *index) count(ref nodeRef) int {
	n := &ix.nodes[ref]
	if n.level == levelAlbum {
		return len(n.entries)
	}
	total := 0
	for _, child := range n.children {
		total += ix.count(child)
	}
	return total
}

// Visitor receives an ordered walk of one entry type. Keys are visited in
// string order and entries in id order. Nil callbacks are skipped.
type Visitor struct {
	Genre  func(genre string)
	Artist func(genre, artist string)
	Album  func(genre, artist, album string)
	Entry  func(e *Entry)
}

type step struct {
	lvl                  level
	genre, artist, album string
	e                    *Entry
}

const levelEntry = levelAlbum + 1

// ForEach walks every entry of type t, genre first, then artist, then
// album, then entries. The walk is taken as a snapshot under the index
// lock and the callbacks run after it is released, so they may call back
// into the store.
func (db *DB) ForEach(t *EntryType, v Visitor) {
	db.indexMu.RLock()
	var steps []step
	ix := &db.ix
	for _, g := range ix.sorted(ix.roots[t]) {
		if v.Genre != nil {
			steps = append(steps, step{lvl: levelGenre, genre: g.name})
		}
		for _, ar := range ix.sorted(ix.nodes[g.ref].children) {
			if v.Artist != nil {
				steps = append(steps, step{lvl: levelArtist, genre: g.name, artist: ar.name})
			}
			for _, al := range ix.sorted(ix.nodes[ar.ref].children) {
				if v.Album != nil {
					steps = append(steps, step{lvl: levelAlbum, genre: g.name, artist: ar.name, album: al.name})
				}
				if v.Entry != nil {
					for _, e := range sortedEntries(ix.nodes[al.ref].entries) {
						steps = append(steps, step{lvl: levelEntry, e: e})
					}
				}
			}
		}
	}
	db.indexMu.RUnlock()

	for _, s := range steps {
		switch s.lvl {
		case levelGenre:
			v.Genre(s.genre)
		case levelArtist:
			v.Artist(s.genre, s.artist)
		case levelAlbum:
			v.Album(s.genre, s.artist, s.album)
		case levelEntry:
			v.Entry(s.e)
		}
	}
}

// Entries returns every entry of type t in walk order.
func (db *DB) Entries(t *EntryType) []*Entry {
	var out []*Entry
	db.ForEach(t, Visitor{Entry: func(e *Entry) { out = append(out, e) }})
	return out
}

// Genres returns the genres holding entries of type t, sorted.
func (db *DB) Genres(t *EntryType) []string {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	return names(db.ix.sorted(db.ix.roots[t]))
}

// Artists returns the artists under genre, sorted.
func (db *DB) Artists(t *EntryType, genre string) []string {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	ref := db.ix.find(t, genre)
	if ref == 0 {
		return nil
	}
	return names(db.ix.sorted(db.ix.nodes[ref].children))
}

// Albums returns the albums under genre and artist, sorted.
func (db *DB) Albums(t *EntryType, genre, artist string) []string {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	ref := db.ix.find(t, genre, artist)
	if ref == 0 {
		return nil
	}
	return names(db.ix.sorted(db.ix.nodes[ref].children))
}

// AlbumEntries returns the entries filed under one album, in id order.
func (db *DB) AlbumEntries(t *EntryType, genre, artist, album string) []*Entry {
	db.indexMu.RLock()
	defer db.indexMu.RUnlock()
	ref := db.ix.find(t, genre, artist, album)
	if ref == 0 {
		return nil
	}
	return sortedEntries(db.ix.nodes[ref].entries)
}

func names(refs []namedRef) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.name
	}
	return out
}
