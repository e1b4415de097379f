package dbfile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/mediadb"
)

type recordingSink struct {
	known   map[string]bool
	entries []Record
	unknown []Record
	migs    []Migration
	failAt  int
}

func newRecordingSink(known ...string) *recordingSink {
	s := &recordingSink{known: map[string]bool{}, failAt: -1}
	for _, k := range known {
		s.known[k] = true
	}
	return s
}

func (s *recordingSink) KnownType(name string) bool { return s.known[name] }

func (s *recordingSink) Entry(rec Record, mig Migration) error {
	if s.failAt == len(s.entries) {
		return errors.New("sink refused entry")
	}
	s.entries = append(s.entries, rec)
	s.migs = append(s.migs, mig)
	return nil
}

func (s *recordingSink) UnknownEntry(rec Record, _ Migration) { s.unknown = append(s.unknown, rec) }

const sampleLibrary = `<?xml version="1.0" standalone="yes"?>
<rhythmdb version="1.3">
  <entry type="song">
    <title>So What &amp; More</title>
    <genre>Jazz</genre>
    <future-field><nested>x</nested></future-field>
    <location>file:///music/so%20what.flac</location>
    <play-count>3</play-count>
  </entry>
  <entry type="lastfm-station">
    <title>Similar artists</title>
    <station-id><deep>1</deep>42</station-id>
  </entry>
  <playlist name="ignored"><entry type="song"/></playlist>
</rhythmdb>
`

func TestDecode(t *testing.T) {
	sink := newRecordingSink("song")
	hdr, err := Decode(context.Background(), strings.NewReader(sampleLibrary), sink)
	require.NoError(t, err)

	require.Equal(t, "1.3", hdr.Version)
	require.Equal(t, Migration{}, hdr.Migration)
	require.Equal(t, 1, hdr.Entries)
	require.Equal(t, 1, hdr.Unknown)
	require.Equal(t, 3, hdr.Skipped, "future-field, nested unknown-entry child, playlist")

	require.Len(t, sink.entries, 1)
	require.Equal(t, Record{Type: "song", Fields: []Field{
		{"title", "So What & More"},
		{"genre", "Jazz"},
		{"location", "file:///music/so%20what.flac"},
		{"play-count", "3"},
	}}, sink.entries[0])

	require.Len(t, sink.unknown, 1)
	require.Equal(t, Record{Type: "lastfm-station", Fields: []Field{
		{"title", "Similar artists"},
		{"station-id", "42"},
	}}, sink.unknown[0])
}

func TestDecodeVersions(t *testing.T) {
	tests := []struct {
		version string
		want    Migration
	}{
		{`version="1.0"`, Migration{CanonicalizeURIs: true}},
		{`version="1.1"`, Migration{CanonicalizeURIs: true}},
		{``, Migration{}},
		{`version="1.2"`, Migration{ReloadMetadata: true}},
		{`version="1.3"`, Migration{}},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			doc := `<rhythmdb ` + tt.version + `><entry type="song"><title>x</title></entry></rhythmdb>`
			sink := newRecordingSink("song")
			hdr, err := Decode(context.Background(), strings.NewReader(doc), sink)
			require.NoError(t, err)
			require.Equal(t, tt.want, hdr.Migration)
			require.Equal(t, []Migration{tt.want}, sink.migs)
		})
	}
}

func TestDecodeUnsupportedSchema(t *testing.T) {
	for _, doc := range []string{
		`<rhythmdb version="1.4"></rhythmdb>`,
		`<rhythmdb version="2.0"></rhythmdb>`,
		`<library version="1.3"></library>`,
	} {
		_, err := Decode(context.Background(), strings.NewReader(doc), newRecordingSink("song"))
		require.ErrorIs(t, err, mediadb.ErrUnsupportedSchema, doc)
	}
}

func TestDecodeMalformed(t *testing.T) {
	doc := `<rhythmdb version="1.3"><entry type="song"><title>x</entry></rhythmdb>`
	sink := newRecordingSink("song")
	_, err := Decode(context.Background(), strings.NewReader(doc), sink)
	require.ErrorIs(t, err, mediadb.ErrIO)

	_, err = Decode(context.Background(), strings.NewReader(`<rhythmdb version="1.3"><entry type="song">`), sink)
	require.ErrorIs(t, err, mediadb.ErrIO)
}

func TestDecodeCancelledKeepsDeliveredEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancellingSink{recordingSink: newRecordingSink("song"), cancel: cancel}

	doc := `<rhythmdb version="1.3">` +
		`<entry type="song"><location>a</location></entry>` +
		`<entry type="song"><location>b</location></entry>` +
		`</rhythmdb>`
	hdr, err := Decode(ctx, strings.NewReader(doc), sink)
	require.ErrorIs(t, err, mediadb.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, hdr.Entries)
	require.Len(t, sink.entries, 1)
}

type cancellingSink struct {
	*recordingSink
	cancel context.CancelFunc
}

func (s *cancellingSink) Entry(rec Record, mig Migration) error {
	s.cancel()
	return s.recordingSink.Entry(rec, mig)
}

func TestDecodeSinkErrorStops(t *testing.T) {
	sink := newRecordingSink("song")
	sink.failAt = 0
	doc := `<rhythmdb version="1.3"><entry type="song"><title>x</title></entry></rhythmdb>`
	_, err := Decode(context.Background(), strings.NewReader(doc), sink)
	require.EqualError(t, err, "sink refused entry")
}

func TestDecodeSkipsUnsavedProperties(t *testing.T) {
	doc := `<rhythmdb version="1.3"><entry type="song">` +
		`<title-folded>x</title-folded><playback-error>boom</playback-error><title>T</title>` +
		`</entry></rhythmdb>`
	sink := newRecordingSink("song")
	hdr, err := Decode(context.Background(), strings.NewReader(doc), sink)
	require.NoError(t, err)
	require.Equal(t, 2, hdr.Skipped)
	require.Equal(t, []Field{{"title", "T"}}, sink.entries[0].Fields)
}
