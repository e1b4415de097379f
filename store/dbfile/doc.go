// Package dbfile reads and writes the XML library file.
//
// The format is a single root element carrying a schema version, holding one
// entry element per record:
//
//	<?xml version="1.0" standalone="yes"?>
//	<rhythmdb version="1.3">
//	  <entry type="song">
//	    <title>So What</title>
//	    <location>file:///music/so-what.flac</location>
//	  </entry>
//	</rhythmdb>
//
// Decoding is streaming and forward compatible: unrecognized elements are
// skipped by depth counting, and entries of types the caller does not know
// are handed back verbatim so they survive a save.
package dbfile

import "fmt"

// CurrentVersion is the schema version written by Encoder.
const CurrentVersion = "1.3"

// Field is one child element of an entry, in file order.
type Field struct {
	Name  string
	Value string
}

// Record is one entry element.
type Record struct {
	Type   string
	Fields []Field
}

// Migration describes the upgrade work implied by an older file version.
type Migration struct {
	// CanonicalizeURIs asks for every location to be rewritten in
	// canonical form.
	CanonicalizeURIs bool
	// ReloadMetadata asks for every entry's metadata to be re-read from
	// its source.
	ReloadMetadata bool
}

// Header summarizes a decoded file.
type Header struct {
	Version   string
	Migration Migration
	// Entries counts entries of known types handed to the sink.
	Entries int
	// Unknown counts entries of unknown types handed to the sink.
	Unknown int
	// Skipped counts elements ignored for forward compatibility.
	Skipped int
}

func migrationFor(version string) (Migration, error) {
	switch version {
	case "1.0", "1.1":
		return Migration{CanonicalizeURIs: true}, nil
	case "1.2":
		return Migration{ReloadMetadata: true}, nil
	case "", CurrentVersion:
		return Migration{}, nil
	default:
		return Migration{}, fmt.Errorf("version %q", version)
	}
}
