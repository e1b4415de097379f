package tree

import (
	"fmt"

	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/property"
	"github.com/wolfeidau/mediadb/query"
)

// Filter is the everyday shape of a library query. Empty fields are
// unconstrained.
type Filter struct {
	Type   string
	Genre  string
	Artist string
	Album  string
	// Search matches entries whose title, genre, artist or album contain
	// every word.
	Search string
	// MinRating, when set, keeps entries rated at least this much.
	MinRating *float64
}

// Program compiles f into a conjunctive query. The type is resolved
// against db's registry.
func (f Filter) Program(db *DB) (query.Program, error) {
	var p query.Program
	if f.Type != "" {
		t, ok := db.EntryType(f.Type)
		if !ok {
			return nil, fmt.Errorf("%w: %q", mediadb.ErrUnknownEntryType, f.Type)
		}
		p = append(p, query.Eq(property.Type, property.Pointer(t)))
	}
	for _, c := range []struct {
		prop  property.ID
		value string
	}{
		{property.Genre, f.Genre},
		{property.Artist, f.Artist},
		{property.Album, f.Album},
	} {
		if c.value != "" {
			p = append(p, query.Eq(c.prop, property.String(c.value)))
		}
	}
	if f.Search != "" {
		p = append(p, query.Like(property.SearchMatch, f.Search))
	}
	if f.MinRating != nil {
		r := property.Double(*f.MinRating)
		p = append(p, query.Sub(query.Program{
			query.Gt(property.Rating, r),
			query.Or(),
			query.Eq(property.Rating, r),
		}))
	}
	return p, nil
}
