package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfeidau/mediadb/property"
)

// Accessor exposes the property values of one entry.
type Accessor interface {
	Value(id property.ID) property.Value
}

var searchFields = [...]property.ID{
	property.TitleFolded,
	property.AlbumFolded,
	property.ArtistFolded,
	property.GenreFolded,
}

// Evaluate reports whether the entry behind a matches p: true if every
// predicate of at least one alternative holds. An empty program matches.
//
// Comparing a property against a value of another kind is a caller bug and
// panics; run Validate on untrusted programs first.
func Evaluate(p Program, a Accessor, now time.Time) bool {
	ok := true
	for _, pr := range p {
		if pr.Op == OpDisjunction {
			if ok {
				return true
			}
			ok = true
			continue
		}
		if !ok {
			continue
		}
		ok = match(pr, a, now)
	}
	return ok
}

func match(pr Predicate, a Accessor, now time.Time) bool {
	if pr.Op == OpSubquery {
		return Evaluate(pr.Sub, a, now)
	}
	pr = pr.prepare()
	if pr.Prop == property.SearchMatch && (pr.Op == OpLike || pr.Op == OpNotLike) {
		return searchMatch(pr.words, a) == (pr.Op == OpLike)
	}

	v := a.Value(pr.Prop)
	if v.Kind() != pr.Value.Kind() {
		panic(fmt.Sprintf("query: %s holds %s, compared against %s", pr.Prop, v.Kind(), pr.Value.Kind()))
	}

	switch pr.Op {
	case OpEquals:
		return v.Equal(pr.Value)
	case OpLike:
		return strings.Contains(v.Str(), pr.Value.Str())
	case OpNotLike:
		return !strings.Contains(v.Str(), pr.Value.Str())
	case OpPrefix:
		return strings.HasPrefix(v.Str(), pr.Value.Str())
	case OpSuffix:
		return strings.HasSuffix(v.Str(), pr.Value.Str())
	case OpGreater:
		return v.Compare(pr.Value) > 0
	case OpLess:
		return v.Compare(pr.Value) < 0
	case OpTimeWithin:
		return v.Uint() >= since(now, pr.Value.Uint())
	case OpTimeNotWithin:
		return v.Uint() < since(now, pr.Value.Uint())
	default:
		panic(fmt.Sprintf("query: unknown operation %s", pr.Op))
	}
}

func since(now time.Time, seconds uint64) uint64 {
	n := now.Unix()
	if n < 0 || uint64(n) < seconds {
		return 0
	}
	return uint64(n) - seconds
}

func searchMatch(words []string, a Accessor) bool {
	var fields [len(searchFields)]string
	for i, id := range searchFields {
		fields[i] = a.Value(id).Str()
	}
	for _, w := range words {
		found := false
		for _, f := range fields {
			if strings.Contains(f, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
