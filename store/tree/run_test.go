package tree

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/property"
	"github.com/wolfeidau/mediadb/query"
)

type batches struct {
	sizes    []int
	entries  []*Entry
	complete bool
}

func (b *batches) Add(entries []*Entry) {
	b.sizes = append(b.sizes, len(entries))
	b.entries = append(b.entries, entries...)
}

func (b *batches) Complete() { b.complete = true }

// library builds 60 songs over three genres, four artists and five albums.
func library(t *testing.T, db *DB) []*Entry {
	t.Helper()
	genres := []string{"Jazz", "Rock", "Pop"}
	artists := []string{"A", "B", "C", "D"}
	var out []*Entry
	for i := range 60 {
		e := song(t, db, fmt.Sprintf("file:///%02d.flac", i),
			genres[i%3], artists[i%4], fmt.Sprintf("Album %d", i%5),
			property.Assign(property.Rating, property.Double(float64(i%6))),
			property.Assign(property.LastPlayed, property.ULong(uint64(testNow.Unix())-uint64(i)*3600)),
		)
		out = append(out, e)
	}
	return out
}

func brute(db *DB, all []*Entry, p query.Program) []*Entry {
	var out []*Entry
	for _, e := range all {
		ok, err := db.Match(e, p)
		if err == nil && ok {
			out = append(out, e)
		}
	}
	return out
}

func TestRunMatchesPointEvaluation(t *testing.T) {
	db := newTestDB(t)
	all := library(t, db)
	_, err := db.Create(IRadio, "http://radio.example/jazz",
		property.Assign(property.Genre, property.String("Jazz")),
		property.Assign(property.Rating, property.Double(5)))
	require.NoError(t, err)

	tests := []struct {
		name string
		prog query.Program
	}{
		{"genre and rating", query.Program{
			query.Eq(property.Type, property.Pointer(Song)),
			query.Eq(property.Genre, property.String("Jazz")),
			query.Gt(property.Rating, property.Double(2)),
		}},
		{"artist only", query.Program{
			query.Eq(property.Type, property.Pointer(Song)),
			query.Eq(property.Artist, property.String("B")),
		}},
		{"album without genre", query.Program{
			query.Eq(property.Type, property.Pointer(Song)),
			query.Eq(property.Album, property.String("Album 2")),
			query.Lt(property.Rating, property.Double(4)),
		}},
		{"all levels", query.Program{
			query.Eq(property.Type, property.Pointer(Song)),
			query.Eq(property.Genre, property.String("Rock")),
			query.Eq(property.Artist, property.String("A")),
			query.Eq(property.Album, property.String("Album 4")),
		}},
		{"recently played", query.Program{
			query.Eq(property.Type, property.Pointer(Song)),
			query.Within(property.LastPlayed, 10*time.Hour),
		}},
		{"subquery", query.Program{
			query.Eq(property.Type, property.Pointer(Song)),
			query.Sub(query.Program{
				query.Eq(property.Genre, property.String("Pop")),
				query.Or(),
				query.Gt(property.Rating, property.Double(4)),
			}),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Collect(context.Background(), db, tt.prog)
			require.NoError(t, err)
			want := brute(db, all, tt.prog)
			require.NotEmpty(t, want)
			require.ElementsMatch(t, want, got)
		})
	}
}

func TestRunAllTypes(t *testing.T) {
	db := newTestDB(t)
	library(t, db)
	radio, err := db.Create(IRadio, "http://radio.example/jazz",
		property.Assign(property.Genre, property.String("Jazz")))
	require.NoError(t, err)

	got, err := Collect(context.Background(), db, query.Program{
		query.Eq(property.Genre, property.String("Jazz")),
	})
	require.NoError(t, err)
	require.Len(t, got, 21)
	require.Contains(t, got, radio)

	got, err = Collect(context.Background(), db, nil)
	require.NoError(t, err)
	require.Len(t, got, 61, "an empty program matches everything")
}

func TestRunDisjunctionHasNoDuplicates(t *testing.T) {
	db := newTestDB(t)
	all := library(t, db)

	prog := query.Program{
		query.Eq(property.Artist, property.String("A")),
		query.Or(),
		query.Eq(property.Artist, property.String("B")),
		query.Or(),
		query.Eq(property.Genre, property.String("Jazz")),
	}
	got, err := Collect(context.Background(), db, prog)
	require.NoError(t, err)

	unique := make(map[*Entry]struct{})
	for _, e := range got {
		_, dup := unique[e]
		require.False(t, dup, "entry %d delivered twice", e.ID())
		unique[e] = struct{}{}
	}
	require.ElementsMatch(t, brute(db, all, prog), got)
}

func TestRunConflictingEquals(t *testing.T) {
	db := newTestDB(t)
	library(t, db)

	for _, prog := range []query.Program{
		{query.Eq(property.Genre, property.String("Jazz")), query.Eq(property.Genre, property.String("Rock"))},
		{query.Eq(property.Type, property.Pointer(Song)), query.Eq(property.Type, property.Pointer(IRadio))},
		{query.Eq(property.Artist, property.String("Nobody"))},
	} {
		got, err := Collect(context.Background(), db, prog)
		require.NoError(t, err)
		require.Empty(t, got, prog.String())
	}
}

func TestRunBatches(t *testing.T) {
	db := newTestDB(t, WithBatchSize(7))
	library(t, db)

	var b batches
	require.NoError(t, db.Run(context.Background(), query.Program{query.Eq(property.Type, property.Pointer(Song))}, &b))
	require.True(t, b.complete)
	require.Equal(t, []int{7, 7, 7, 7, 7, 7, 7, 7, 4}, b.sizes)
	require.Len(t, b.entries, 60)
}

func TestRunCancelled(t *testing.T) {
	db := newTestDB(t, WithBatchSize(5))
	library(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	var got int
	res := ResultsFunc(func(entries []*Entry) {
		got += len(entries)
		cancel()
	})
	err := db.Run(ctx, nil, res)
	require.ErrorIs(t, err, mediadb.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 5, got, "no batches after cancellation")
}

func TestRunRejectsIllTypedProgram(t *testing.T) {
	db := newTestDB(t)
	library(t, db)

	var b batches
	err := db.Run(context.Background(), query.Program{query.Gt(property.Rating, property.ULong(3))}, &b)
	require.ErrorIs(t, err, mediadb.ErrTypeMismatch)
	require.False(t, b.complete)

	_, err = db.Match(db.LookupByID(1), query.Program{query.Like(property.PlayCount, "3")})
	require.ErrorIs(t, err, mediadb.ErrTypeMismatch)
}

func TestRunSearchMatch(t *testing.T) {
	db := newTestDB(t)
	beyonce := song(t, db, "file:///halo.flac", "Pop", "Beyoncé", "I Am... Sasha Fierce",
		property.Assign(property.Title, property.String("Halo")))
	song(t, db, "file:///crazy.flac", "Pop", "Gnarls Barkley", "St. Elsewhere")

	got, err := Collect(context.Background(), db, query.Program{query.Like(property.SearchMatch, "beyonce HALO")})
	require.NoError(t, err)
	require.Equal(t, []*Entry{beyonce}, got)

	got, err = Collect(context.Background(), db, query.Program{query.NotLike(property.SearchMatch, "sasha")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotSame(t, beyonce, got[0])
}

func TestRunSeesStagedOnlyAfterCommit(t *testing.T) {
	db := newTestDB(t)
	e := song(t, db, "a", "Rock", "X", "M1")
	prog := query.Program{query.Gt(property.PlayCount, property.ULong(0))}

	require.NoError(t, db.Set(e, property.PlayCount, property.ULong(3)))
	got, err := Collect(context.Background(), db, prog)
	require.NoError(t, err)
	require.Empty(t, got)

	db.Commit()
	got, err = Collect(context.Background(), db, prog)
	require.NoError(t, err)
	require.Equal(t, []*Entry{e}, got)
}

func TestConcurrentCreateDeleteAndQuery(t *testing.T) {
	db := newTestDB(t, WithBatchSize(16))
	const writers, perWriter, readers = 8, 200, 4

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				e, err := db.Create(Song, fmt.Sprintf("file:///w%d/%d", w, i),
					property.Assign(property.Genre, property.String(fmt.Sprintf("G%d", i%3))),
					property.Assign(property.Artist, property.String(fmt.Sprintf("A%d", w))))
				if err != nil {
					t.Errorf("create: %v", err)
					return
				}
				if i%2 == 1 {
					if err := db.Delete(e); err != nil {
						t.Errorf("delete: %v", err)
						return
					}
				}
			}
		}()
	}

	stop := make(chan struct{})
	var rg sync.WaitGroup
	for r := range readers {
		rg.Add(1)
		go func() {
			defer rg.Done()
			prog := query.Program{
				query.Eq(property.Genre, property.String(fmt.Sprintf("G%d", r%3))),
				query.Or(),
				query.Eq(property.Artist, property.String("A1")),
			}
			for {
				select {
				case <-stop:
					return
				default:
				}
				seen := make(map[*Entry]struct{})
				err := db.Run(context.Background(), prog, ResultsFunc(func(entries []*Entry) {
					for _, e := range entries {
						if _, dup := seen[e]; dup {
							t.Errorf("entry delivered twice")
						}
						seen[e] = struct{}{}
					}
				}))
				if err != nil {
					t.Errorf("run: %v", err)
					return
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	rg.Wait()

	require.Equal(t, writers*perWriter/2, db.Count())
	require.Equal(t, writers*perWriter/2, db.CountByType(Song))
}
