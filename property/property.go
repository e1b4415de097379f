// Package property defines the fixed set of entry properties, the kind of
// value each one holds, and the descriptor table that drives validation,
// persistence and querying.
package property

import (
	"fmt"

	"github.com/wolfeidau/mediadb"
)

// ID addresses one property of an entry.
type ID int

const (
	Type ID = iota
	EntryID
	Title
	Genre
	Artist
	Album
	TrackNumber
	DiscNumber
	Duration
	FileSize
	Location
	Mountpoint
	Mtime
	FirstSeen
	LastSeen
	Rating
	PlayCount
	LastPlayed
	Bitrate
	Date
	TrackGain
	TrackPeak
	AlbumGain
	AlbumPeak
	MimeType
	MusicBrainzTrackID
	Hidden
	PlaybackError

	// Podcast properties.
	Status
	Description
	Subtitle
	Summary
	Lang
	Copyright
	Image
	PostTime

	// Derived properties, maintained by the store and never persisted.
	TitleFolded
	GenreFolded
	ArtistFolded
	AlbumFolded
	SearchMatch

	numIDs
)

// Count is the number of property IDs.
const Count = int(numIDs)

// Kind is the type of value a property holds.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindULong
	KindBool
	KindUint64
	KindDouble
	KindPointer
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindULong:
		return "ulong"
	case KindBool:
		return "bool"
	case KindUint64:
		return "uint64"
	case KindDouble:
		return "double"
	case KindPointer:
		return "pointer"
	default:
		return "invalid"
	}
}

// Descriptor describes one property.
type Descriptor struct {
	ID   ID
	Name string // element name in the library file
	Kind Kind

	// Saved properties are written to the library file.
	Saved bool
	// SaveZero writes the property even when it holds the zero value.
	SaveZero bool
	// Required string properties are never empty; Default fills them in.
	Required bool
	Default  string
	// Podcast properties are only persisted for podcast entry types.
	Podcast bool
	// ReadOnly properties cannot be changed after creation.
	ReadOnly bool
	// Folded is the derived case-folded companion of a string property, or
	// zero when there is none.
	Folded ID
	// Indexed properties decide where an entry sits in the genre tree.
	Indexed bool
}

// Unknown is the value given to unset required text properties.
const Unknown = "Unknown"

var descriptors = [numIDs]Descriptor{
	Type:               {Name: "type", Kind: KindPointer, ReadOnly: true},
	EntryID:            {Name: "entry-id", Kind: KindULong, ReadOnly: true},
	Title:              {Name: "title", Kind: KindString, Saved: true, Required: true, Default: Unknown, Folded: TitleFolded},
	Genre:              {Name: "genre", Kind: KindString, Saved: true, Required: true, Default: Unknown, Folded: GenreFolded, Indexed: true},
	Artist:             {Name: "artist", Kind: KindString, Saved: true, Required: true, Default: Unknown, Folded: ArtistFolded, Indexed: true},
	Album:              {Name: "album", Kind: KindString, Saved: true, Required: true, Default: Unknown, Folded: AlbumFolded, Indexed: true},
	TrackNumber:        {Name: "track-number", Kind: KindULong, Saved: true},
	DiscNumber:         {Name: "disc-number", Kind: KindULong, Saved: true},
	Duration:           {Name: "duration", Kind: KindULong, Saved: true},
	FileSize:           {Name: "file-size", Kind: KindUint64, Saved: true},
	Location:           {Name: "location", Kind: KindString, Saved: true, Required: true},
	Mountpoint:         {Name: "mountpoint", Kind: KindString, Saved: true},
	Mtime:              {Name: "mtime", Kind: KindULong, Saved: true},
	FirstSeen:          {Name: "first-seen", Kind: KindULong, Saved: true},
	LastSeen:           {Name: "last-seen", Kind: KindULong, Saved: true},
	Rating:             {Name: "rating", Kind: KindDouble, Saved: true},
	PlayCount:          {Name: "play-count", Kind: KindULong, Saved: true},
	LastPlayed:         {Name: "last-played", Kind: KindULong, Saved: true},
	Bitrate:            {Name: "bitrate", Kind: KindULong, Saved: true},
	Date:               {Name: "date", Kind: KindULong, Saved: true, SaveZero: true},
	TrackGain:          {Name: "replaygain-track-gain", Kind: KindDouble, Saved: true},
	TrackPeak:          {Name: "replaygain-track-peak", Kind: KindDouble, Saved: true},
	AlbumGain:          {Name: "replaygain-album-gain", Kind: KindDouble, Saved: true},
	AlbumPeak:          {Name: "replaygain-album-peak", Kind: KindDouble, Saved: true},
	MimeType:           {Name: "media-type", Kind: KindString, Saved: true, Required: true, Default: "unknown/unknown"},
	MusicBrainzTrackID: {Name: "mb-trackid", Kind: KindString, Saved: true},
	Hidden:             {Name: "hidden", Kind: KindBool, Saved: true},
	PlaybackError:      {Name: "playback-error", Kind: KindString},
	Status:             {Name: "status", Kind: KindULong, Saved: true, Podcast: true},
	Description:        {Name: "description", Kind: KindString, Saved: true, Podcast: true},
	Subtitle:           {Name: "subtitle", Kind: KindString, Saved: true, Podcast: true},
	Summary:            {Name: "summary", Kind: KindString, Saved: true, Podcast: true},
	Lang:               {Name: "lang", Kind: KindString, Saved: true, Podcast: true},
	Copyright:          {Name: "copyright", Kind: KindString, Saved: true, Podcast: true},
	Image:              {Name: "image", Kind: KindString, Saved: true, Podcast: true},
	PostTime:           {Name: "post-time", Kind: KindULong, Saved: true, Podcast: true},
	TitleFolded:        {Name: "title-folded", Kind: KindString, ReadOnly: true},
	GenreFolded:        {Name: "genre-folded", Kind: KindString, ReadOnly: true},
	ArtistFolded:       {Name: "artist-folded", Kind: KindString, ReadOnly: true},
	AlbumFolded:        {Name: "album-folded", Kind: KindString, ReadOnly: true},
	SearchMatch:        {Name: "search-match", Kind: KindString, ReadOnly: true},
}

var byName = func() map[string]ID {
	m := make(map[string]ID, len(descriptors))
	for i := range descriptors {
		descriptors[i].ID = ID(i)
		m[descriptors[i].Name] = ID(i)
	}
	return m
}()

// Describe returns the descriptor for id. It panics on an out of range id.
func Describe(id ID) Descriptor {
	return descriptors[id]
}

// Valid reports whether id names a property.
func (id ID) Valid() bool {
	return id >= 0 && id < numIDs
}

// Kind returns the kind of value the property holds.
func (id ID) Kind() Kind {
	if !id.Valid() {
		return KindInvalid
	}
	return descriptors[id].Kind
}

// String returns the property's element name.
func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("property(%d)", int(id))
	}
	return descriptors[id].Name
}

// FromName returns the property whose element name is name.
func FromName(name string) (ID, bool) {
	id, ok := byName[name]
	return id, ok
}

// Persisted returns the descriptors of every saved property in file order.
func Persisted() []Descriptor {
	out := make([]Descriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if d.Saved {
			out = append(out, d)
		}
	}
	return out
}

// Check returns ErrTypeMismatch if v cannot be stored in id.
func Check(id ID, v Value) error {
	if !id.Valid() {
		return fmt.Errorf("%w: unknown property %d", mediadb.ErrTypeMismatch, int(id))
	}
	if want := descriptors[id].Kind; v.Kind() != want {
		return fmt.Errorf("%w: %s wants %s, got %s", mediadb.ErrTypeMismatch, id, want, v.Kind())
	}
	return nil
}

// Assignment pairs a property with a value, used when creating entries.
type Assignment struct {
	Prop  ID
	Value Value
}

// Assign builds an Assignment.
func Assign(id ID, v Value) Assignment {
	return Assignment{Prop: id, Value: v}
}
