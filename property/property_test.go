package property

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/mediadb"
)

func TestDescriptorTable(t *testing.T) {
	for i := range Count {
		id := ID(i)
		d := Describe(id)
		require.Equal(t, id, d.ID, "descriptor %d carries its own id", i)
		require.NotEmpty(t, d.Name, "descriptor %d has a name", i)
		require.NotEqual(t, KindInvalid, d.Kind, "%s has a kind", d.Name)

		got, ok := FromName(d.Name)
		require.True(t, ok)
		require.Equal(t, id, got)
	}
}

func TestFromName(t *testing.T) {
	tests := []struct {
		name string
		want ID
	}{
		{"title", Title},
		{"track-number", TrackNumber},
		{"replaygain-album-peak", AlbumPeak},
		{"media-type", MimeType},
		{"mb-trackid", MusicBrainzTrackID},
		{"post-time", PostTime},
		{"lang", Lang},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := FromName(tt.name)
			require.True(t, ok)
			require.Equal(t, tt.want, id)
			require.Equal(t, tt.name, id.String())
		})
	}

	_, ok := FromName("rhythm")
	require.False(t, ok)
}

func TestPersistedExcludesDerived(t *testing.T) {
	for _, d := range Persisted() {
		assert.False(t, d.ReadOnly, "%s is read-only but persisted", d.Name)
		assert.NotEqual(t, PlaybackError, d.ID)
	}
	require.Equal(t, Title, Persisted()[0].ID)
}

func TestCheck(t *testing.T) {
	require.NoError(t, Check(Title, String("x")))
	require.NoError(t, Check(Rating, Double(4)))
	require.NoError(t, Check(FileSize, Uint64(1)))

	err := Check(Rating, ULong(4))
	require.ErrorIs(t, err, mediadb.ErrTypeMismatch)

	err = Check(ID(9999), String("x"))
	require.ErrorIs(t, err, mediadb.ErrTypeMismatch)
}

func TestParse(t *testing.T) {
	tests := []struct {
		id   ID
		text string
		want Value
	}{
		{Title, "Kind of Blue", String("Kind of Blue")},
		{Duration, "321", ULong(321)},
		{FileSize, " 8000000000 ", Uint64(8000000000)},
		{Rating, "4.5", Double(4.5)},
		{Hidden, "1", Bool(true)},
		{Hidden, "0", Bool(false)},
	}
	for _, tt := range tests {
		t.Run(tt.id.String()+"/"+tt.text, func(t *testing.T) {
			got, err := Parse(tt.id, tt.text)
			require.NoError(t, err)
			require.True(t, tt.want.Equal(got), "want %v got %v", tt.want, got)
		})
	}

	_, err := Parse(Duration, "-1")
	require.Error(t, err)
	_, err = Parse(Rating, "NaN")
	require.Error(t, err)
	_, err = Parse(Type, "song")
	require.Error(t, err)
}

func TestEncodeParsesBack(t *testing.T) {
	values := map[ID]Value{
		Rating:    Double(0.1 + 0.2),
		TrackGain: Double(-6.02),
		Hidden:    Bool(true),
		PlayCount: ULong(42),
		FileSize:  Uint64(1 << 40),
	}
	for id, v := range values {
		got, err := Parse(id, Encode(v))
		require.NoError(t, err)
		require.True(t, v.Equal(got), "%s: want %v got %v", id, v, got)
	}
}

func TestOmit(t *testing.T) {
	assert.True(t, Omit(Describe(PlayCount), ULong(0)))
	assert.False(t, Omit(Describe(PlayCount), ULong(1)))
	assert.False(t, Omit(Describe(Date), ULong(0)), "date keeps explicit zero")
	assert.True(t, Omit(Describe(FileSize), Uint64(0)))
	assert.True(t, Omit(Describe(Rating), Double(0.0009)))
	assert.True(t, Omit(Describe(Rating), Double(-0.0009)))
	assert.False(t, Omit(Describe(Rating), Double(-0.5)))
	assert.True(t, Omit(Describe(Hidden), Bool(false)))
	assert.False(t, Omit(Describe(Hidden), Bool(true)))
	assert.True(t, Omit(Describe(Mountpoint), String("")))
	assert.False(t, Omit(Describe(Title), String("")))
}

func TestValueCompare(t *testing.T) {
	assert.Negative(t, ULong(1).Compare(ULong(2)))
	assert.Positive(t, Double(3.5).Compare(Double(3)))
	assert.Zero(t, String("a").Compare(String("a")))

	type tag struct{ name string }
	a, b := &tag{"song"}, &tag{"song"}
	assert.Zero(t, Pointer(a).Compare(Pointer(a)))
	assert.NotZero(t, Pointer(a).Compare(Pointer(b)), "pointers compare by identity")
	assert.False(t, ULong(1).Equal(Uint64(1)), "kinds must match")
}

func TestFold(t *testing.T) {
	tests := map[string]string{
		"Beyoncé":       "beyonce",
		"MOTÖRHEAD":     "motorhead",
		"Straße":        "strasse",
		"  Mixed Case ": "  mixed case ",
		"":              "",
	}
	for in, want := range tests {
		require.Equal(t, want, Fold(in), in)
	}
}

func TestSearchWords(t *testing.T) {
	require.Equal(t, []string{"miles", "davis"}, SearchWords("  Miles\tDAVIS "))
	require.Empty(t, SearchWords("   "))
}
