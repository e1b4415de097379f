package tree

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/property"
	"github.com/wolfeidau/mediadb/query"
	"github.com/wolfeidau/mediadb/refstring"
	"github.com/wolfeidau/mediadb/telemetry"
)

// Results receives the output of a bulk query. Add is called with batches
// of matching entries; Complete is called once after the last batch unless
// the query failed or was cancelled. Neither is called with a store lock
// held.
type Results interface {
	Add(entries []*Entry)
	Complete()
}

// Run finds every entry matching p and hands them to res in batches.
//
// Each alternative of p is answered separately. Equals predicates on the
// entry type, genre, artist and album pick the subtree to visit; whatever
// remains is checked entry by entry. When p has more than one alternative,
// an entry matched by several is delivered only once.
func (db *DB) Run(ctx context.Context, p query.Program, res Results) error {
	start := db.now()
	if err := query.Validate(p); err != nil {
		telemetry.RecordQuery(ctx, "invalid", 0, 0, 0)
		return err
	}

	qid := uuid.NewString()
	subs := query.Split(p)
	now := db.now()
	logger := db.logger.With("query_id", qid)
	logger.Debug("query started", "program", p.String(), "subprograms", len(subs))

	var seen map[*Entry]struct{}
	if len(subs) > 1 {
		seen = make(map[*Entry]struct{})
	}

	total := 0
	finish := func(outcome string, err error) error {
		d := db.now().Sub(start)
		telemetry.RecordQuery(ctx, outcome, len(subs), total, d)
		logger.Debug("query finished", "outcome", outcome, "results", total, "duration", d)
		return err
	}

	for _, sub := range subs {
		matched, err := db.descend(ctx, sub, now)
		if err != nil {
			return finish("cancelled", err)
		}
		if seen != nil {
			kept := matched[:0]
			for _, e := range matched {
				if _, dup := seen[e]; dup {
					continue
				}
				seen[e] = struct{}{}
				kept = append(kept, e)
			}
			matched = kept
		}

		for len(matched) > 0 {
			if err := ctx.Err(); err != nil {
				return finish("cancelled", mediadb.Cancelled(err))
			}
			n := min(db.batchSize, len(matched))
			res.Add(matched[:n:n])
			total += n
			matched = matched[n:]
		}
	}

	if err := ctx.Err(); err != nil {
		return finish("cancelled", mediadb.Cancelled(err))
	}
	res.Complete()
	return finish("complete", nil)
}

// descend collects the matches of one conjunctive program under the index
// read lock.
func (db *DB) descend(ctx context.Context, conj query.Program, now time.Time) ([]*Entry, error) {
	typeVals, rest := query.Extract(conj, property.Type)
	var keys [3][]property.Value
	for lvl, id := range levelProps {
		keys[lvl], rest = query.Extract(rest, id)
	}

	types, ok := entryTypes(typeVals)
	if !ok {
		return nil, nil
	}
	if types == nil {
		types = db.EntryTypes()
	}

	db.indexMu.RLock()
	defer db.indexMu.RUnlock()

	w := &walker{db: db, ctx: ctx, rest: rest, now: now, batch: db.batchSize}
	for lvl, vals := range keys {
		name, ok := single(vals)
		if !ok {
			return nil, nil
		}
		if vals == nil {
			continue
		}
		h := db.strs.Lookup(name)
		if h == 0 {
			return nil, nil
		}
		w.keys[lvl] = h
		w.pinned[lvl] = true
	}

	for _, t := range types {
		genres := db.ix.roots[t]
		if w.pinned[levelGenre] {
			if ref, ok := genres[w.keys[levelGenre]]; ok {
				if err := w.visit(ref); err != nil {
					return nil, err
				}
			}
			continue
		}
		for _, ref := range genres {
			if err := w.visit(ref); err != nil {
				return nil, err
			}
		}
	}
	return w.out, nil
}

// entryTypes resolves the type equals predicates of a conjunction. It
// returns nil when the type is unconstrained and false when the
// predicates contradict each other.
func entryTypes(vals []property.Value) ([]*EntryType, bool) {
	if len(vals) == 0 {
		return nil, true
	}
	first := vals[0]
	for _, v := range vals[1:] {
		if !v.Equal(first) {
			return nil, false
		}
	}
	t, ok := first.Ptr().(*EntryType)
	if !ok {
		return nil, false
	}
	return []*EntryType{t}, true
}

// single returns the one name every value agrees on. Disagreement means no
// entry can match.
func single(vals []property.Value) (string, bool) {
	if len(vals) == 0 {
		return "", true
	}
	for _, v := range vals[1:] {
		if !v.Equal(vals[0]) {
			return "", false
		}
	}
	return vals[0].Str(), true
}

type walker struct {
	db     *DB
	ctx    context.Context
	rest   query.Program
	now    time.Time
	keys   [3]refstring.Handle
	pinned [3]bool
	batch  int
	seen   int
	out    []*Entry
}

func (w *walker) visit(ref nodeRef) error {
	n := &w.db.ix.nodes[ref]
	if n.level == levelAlbum {
		for e := range n.entries {
			w.seen++
			if w.seen%w.batch == 0 {
				if err := w.ctx.Err(); err != nil {
					return mediadb.Cancelled(err)
				}
			}
			if query.Evaluate(w.rest, view{db: w.db, e: e}, w.now) {
				w.out = append(w.out, e)
			}
		}
		return nil
	}

	next := n.level + 1
	if w.pinned[next] {
		child, ok := n.children[w.keys[next]]
		if !ok {
			return nil
		}
		return w.visit(child)
	}
	for _, child := range n.children {
		if err := w.visit(child); err != nil {
			return err
		}
	}
	return nil
}

// Collect runs p and returns every match.
func Collect(ctx context.Context, db *DB, p query.Program) ([]*Entry, error) {
	var c collector
	if err := db.Run(ctx, p, &c); err != nil {
		return nil, err
	}
	return c.entries, nil
}

type collector struct {
	entries []*Entry
}

func (c *collector) Add(entries []*Entry) { c.entries = append(c.entries, entries...) }
func (c *collector) Complete()            {}

// ResultsFunc adapts a function to Results. Complete is a no-op.
type ResultsFunc func(entries []*Entry)

func (f ResultsFunc) Add(entries []*Entry) { f(entries) }
func (f ResultsFunc) Complete()            {}
