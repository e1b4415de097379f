package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/property"
)

type fakeEntry map[property.ID]property.Value

func (f fakeEntry) Value(id property.ID) property.Value {
	if v, ok := f[id]; ok {
		return v
	}
	return property.Zero(id.Kind())
}

func song(genre, artist, album, title string, rating float64) fakeEntry {
	return fakeEntry{
		property.Genre:        property.String(genre),
		property.Artist:       property.String(artist),
		property.Album:        property.String(album),
		property.Title:        property.String(title),
		property.GenreFolded:  property.String(property.Fold(genre)),
		property.ArtistFolded: property.String(property.Fold(artist)),
		property.AlbumFolded:  property.String(property.Fold(album)),
		property.TitleFolded:  property.String(property.Fold(title)),
		property.Rating:       property.Double(rating),
	}
}

func TestSplit(t *testing.T) {
	p := Program{
		Eq(property.Artist, property.String("A")),
		Or(),
		Eq(property.Artist, property.String("B")),
		Sub(Program{Eq(property.Genre, property.String("x")), Or(), Eq(property.Genre, property.String("y"))}),
	}
	parts := Split(p)
	require.Len(t, parts, 2)
	require.Len(t, parts[0], 1)
	require.Len(t, parts[1], 2, "subquery disjunctions are not split at the top level")

	require.Len(t, Split(nil), 1)
	require.Empty(t, Split(nil)[0])
}

func TestExtract(t *testing.T) {
	conj := Program{
		Eq(property.Genre, property.String("Jazz")),
		Gt(property.Rating, property.Double(3)),
		Eq(property.Genre, property.String("Jazz")),
	}
	values, rest := Extract(conj, property.Genre)
	require.Len(t, values, 2)
	require.Len(t, rest, 1)
	require.Equal(t, OpGreater, rest[0].Op)

	values, rest = Extract(conj, property.Album)
	require.Nil(t, values)
	require.Len(t, rest, 3)
}

func TestEvaluate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	e := song("Jazz", "Miles Davis", "Kind of Blue", "So What", 4)
	e[property.LastPlayed] = property.ULong(uint64(now.Add(-time.Hour).Unix()))
	e[property.Location] = property.String("file:///music/so-what.flac")

	tests := []struct {
		name string
		prog Program
		want bool
	}{
		{"empty matches", nil, true},
		{"equals", Program{Eq(property.Genre, property.String("Jazz"))}, true},
		{"equals miss", Program{Eq(property.Genre, property.String("Rock"))}, false},
		{"and", Program{Eq(property.Genre, property.String("Jazz")), Gt(property.Rating, property.Double(3))}, true},
		{"and short circuit", Program{Eq(property.Genre, property.String("Rock")), Gt(property.Rating, property.Double(3))}, false},
		{"or second branch", Program{Eq(property.Genre, property.String("Rock")), Or(), Lt(property.Rating, property.Double(5))}, true},
		{"or neither", Program{Eq(property.Genre, property.String("Rock")), Or(), Lt(property.Rating, property.Double(2))}, false},
		{"greater is strict", Program{Gt(property.Rating, property.Double(4))}, false},
		{"like", Program{Like(property.Title, "What")}, true},
		{"like is case sensitive", Program{Like(property.Title, "what")}, false},
		{"like folded", Program{Like(property.TitleFolded, "WHAT")}, true},
		{"not like", Program{NotLike(property.Artist, "Coltrane")}, true},
		{"prefix", Program{Prefix(property.Location, "file:///music/")}, true},
		{"suffix", Program{Suffix(property.Location, ".mp3")}, false},
		{"within", Program{Within(property.LastPlayed, 2*time.Hour)}, true},
		{"not within", Program{NotWithin(property.LastPlayed, 2*time.Hour)}, false},
		{"within too short", Program{Within(property.LastPlayed, 30*time.Minute)}, false},
		{"not within shorter window", Program{NotWithin(property.LastPlayed, 30*time.Minute)}, true},
		{"subquery", Program{Sub(Program{Eq(property.Artist, property.String("X")), Or(), Eq(property.Artist, property.String("Miles Davis"))}), Gt(property.Rating, property.Double(1))}, true},
		{"empty subquery", Program{Sub(nil)}, true},
		{"search all words", Program{Like(property.SearchMatch, "miles BLUE")}, true},
		{"search missing word", Program{Like(property.SearchMatch, "miles coltrane")}, false},
		{"search across genre", Program{Like(property.SearchMatch, "jazz")}, true},
		{"search negated", Program{NotLike(property.SearchMatch, "coltrane")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, Validate(tt.prog))
			assert.Equal(t, tt.want, Evaluate(tt.prog, e, now))
		})
	}
}

func TestEvaluateLiteralTextPredicates(t *testing.T) {
	e := song("Jazz", "Miles Davis", "Kind of Blue", "So What", 4)

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"search unmatched word", Predicate{Op: OpLike, Prop: property.SearchMatch, Value: property.String("zzzz")}, false},
		{"search all words", Predicate{Op: OpLike, Prop: property.SearchMatch, Value: property.String("Miles blue")}, true},
		{"search negated miss", Predicate{Op: OpNotLike, Prop: property.SearchMatch, Value: property.String("rock")}, true},
		{"search negated hit", Predicate{Op: OpNotLike, Prop: property.SearchMatch, Value: property.String("davis")}, false},
		{"like folded", Predicate{Op: OpLike, Prop: property.TitleFolded, Value: property.String("WHAT")}, true},
		{"prefix folded", Predicate{Op: OpPrefix, Prop: property.ArtistFolded, Value: property.String("MILES")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := Program{tt.pred}
			require.NoError(t, Validate(prog))
			assert.Equal(t, tt.want, Evaluate(prog, e, time.Now()))
			assert.Equal(t, tt.want, Evaluate(Program{Sub(prog)}, e, time.Now()))
		})
	}
}

func TestEvaluatePointerIdentity(t *testing.T) {
	type entryType struct{ name string }
	songs, other := &entryType{"song"}, &entryType{"song"}
	e := fakeEntry{property.Type: property.Pointer(songs)}

	require.True(t, Evaluate(Program{Eq(property.Type, property.Pointer(songs))}, e, time.Now()))
	require.False(t, Evaluate(Program{Eq(property.Type, property.Pointer(other))}, e, time.Now()))
}

func TestEvaluatePanicsOnMismatch(t *testing.T) {
	e := song("Jazz", "A", "B", "C", 1)
	require.Panics(t, func() {
		Evaluate(Program{Eq(property.Rating, property.ULong(1))}, e, time.Now())
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		prog Program
	}{
		{"equals kind", Program{Eq(property.Rating, property.String("5"))}},
		{"like on number", Program{Like(property.PlayCount, "1")}},
		{"within on string", Program{{Op: OpTimeWithin, Prop: property.Title, Value: property.ULong(1)}}},
		{"ordered pointer", Program{Gt(property.Type, property.Pointer(nil))}},
		{"nested", Program{Sub(Program{Eq(property.Title, property.Bool(true))})}},
		{"unknown op", Program{{Op: Op(99), Prop: property.Title, Value: property.String("x")}}},
		{"unknown property", Program{Eq(property.ID(-1), property.String("x"))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, Validate(tt.prog), mediadb.ErrTypeMismatch)
		})
	}
}

func TestProgramString(t *testing.T) {
	p := Program{Eq(property.Genre, property.String("Jazz")), Or(), Sub(Program{Gt(property.Rating, property.Double(3))})}
	require.Equal(t, `genre == "Jazz" OR (rating > "3")`, p.String())
}
