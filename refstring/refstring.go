// Package refstring provides a reference-counted string intern table.
//
// Equal content interned into the same Table always yields the same Handle
// while at least one reference is outstanding, so callers can hash and
// compare Handles instead of strings.
package refstring

import "sync"

// Handle identifies an interned string. The zero Handle means "no string".
type Handle uint32

type slot struct {
	s    string
	refs int
}

// Table interns strings. It is safe for concurrent use and never calls out
// while holding its lock.
type Table struct {
	mu    sync.RWMutex
	slots []slot // index 0 unused
	free  []Handle
	index map[string]Handle
}

// New creates an empty table.
func New() *Table {
	return &Table{
		slots: make([]slot, 1, 256),
		index: make(map[string]Handle),
	}
}

// Intern returns the canonical handle for s and takes a reference on it.
func (t *Table) Intern(s string) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.index[s]; ok {
		t.slots[h].refs++
		return h
	}

	var h Handle
	if n := len(t.free); n > 0 {
		h = t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[h] = slot{s: s, refs: 1}
	} else {
		h = Handle(len(t.slots))
		t.slots = append(t.slots, slot{s: s, refs: 1})
	}
	t.index[s] = h
	return h
}

// Ref takes an additional reference on h and returns it.
// Referencing the zero Handle is a no-op.
func (t *Table) Ref(h Handle) Handle {
	if h == 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live(h) {
		t.slots[h].refs++
	}
	return h
}

// Release drops one reference on h. When the last reference goes the
// string is forgotten and its handle may be reissued for other content.
func (t *Table) Release(h Handle) {
	if h == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live(h) {
		return
	}
	sl := &t.slots[h]
	sl.refs--
	if sl.refs > 0 {
		return
	}
	delete(t.index, sl.s)
	*sl = slot{}
	t.free = append(t.free, h)
}

// Get returns the content of h, or "" for the zero or a released Handle.
func (t *Table) Get(h Handle) string {
	if h == 0 {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.live(h) {
		return ""
	}
	return t.slots[h].s
}

// Lookup returns the handle for s without taking a reference, or the zero
// Handle if s is not interned.
func (t *Table) Lookup(s string) Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.index[s]
}

// Refs returns the number of outstanding references on h.
func (t *Table) Refs(h Handle) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.live(h) {
		return 0
	}
	return t.slots[h].refs
}

// Len returns the number of distinct live strings.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.index)
}

func (t *Table) live(h Handle) bool {
	return h != 0 && int(h) < len(t.slots) && t.slots[h].refs > 0
}
