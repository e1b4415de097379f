package dbfile

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/property"
)

// Sink receives decoded entries.
type Sink interface {
	// KnownType reports whether entries of the named type should be
	// decoded as properties or preserved verbatim.
	KnownType(name string) bool

	// Entry receives an entry of a known type. Fields only carry elements
	// that name a saved property. A non-nil error stops decoding.
	Entry(rec Record, mig Migration) error

	// UnknownEntry receives an entry of an unknown type with every child
	// element preserved, along with the migration it would need once its
	// type is known.
	UnknownEntry(rec Record, mig Migration)
}

type state int

const (
	stateStart state = iota
	stateRoot
	stateEntry
	stateEntryProperty
	stateUnknownEntry
	stateUnknownEntryProperty
	stateEnd
)

type decoder struct {
	sink    Sink
	state   state
	unknown int // depth inside skipped elements
	rec     Record
	name    string
	buf     strings.Builder
	header  Header
}

// Decode streams a library file into sink, checking ctx before every
// element. On error or cancellation, entries already delivered stay
// delivered.
func Decode(ctx context.Context, r io.Reader, sink Sink) (Header, error) {
	d := &decoder{sink: sink}
	xd := xml.NewDecoder(r)

	for {
		tok, err := xd.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return d.header, mediadb.IOError("parsing library", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := ctx.Err(); err != nil {
				return d.header, mediadb.Cancelled(err)
			}
			if err := d.start(t); err != nil {
				return d.header, err
			}
		case xml.EndElement:
			if err := d.end(); err != nil {
				return d.header, err
			}
		case xml.CharData:
			d.chars(t)
		}
	}

	if d.state != stateEnd {
		return d.header, mediadb.IOError("parsing library", io.ErrUnexpectedEOF)
	}
	return d.header, nil
}

func (d *decoder) start(el xml.StartElement) error {
	if d.unknown > 0 {
		d.unknown++
		return nil
	}

	name := el.Name.Local
	switch d.state {
	case stateStart:
		if name != "rhythmdb" {
			return fmt.Errorf("%w: root element %q", mediadb.ErrUnsupportedSchema, name)
		}
		d.header.Version = attr(el, "version")
		mig, err := migrationFor(d.header.Version)
		if err != nil {
			return fmt.Errorf("%w: %w", mediadb.ErrUnsupportedSchema, err)
		}
		d.header.Migration = mig
		d.state = stateRoot

	case stateRoot:
		typ := attr(el, "type")
		if name != "entry" || typ == "" {
			d.skip()
			return nil
		}
		d.rec = Record{Type: typ}
		if d.sink.KnownType(typ) {
			d.state = stateEntry
		} else {
			d.state = stateUnknownEntry
		}

	case stateEntry:
		id, ok := property.FromName(name)
		if !ok || !property.Describe(id).Saved {
			d.skip()
			return nil
		}
		d.name = name
		d.buf.Reset()
		d.state = stateEntryProperty

	case stateUnknownEntry:
		d.name = name
		d.buf.Reset()
		d.state = stateUnknownEntryProperty

	default:
		d.skip()
	}
	return nil
}

func (d *decoder) end() error {
	if d.unknown > 0 {
		d.unknown--
		return nil
	}

	switch d.state {
	case stateRoot:
		d.state = stateEnd

	case stateEntry:
		d.state = stateRoot
		d.header.Entries++
		if err := d.sink.Entry(d.rec, d.header.Migration); err != nil {
			return err
		}

	case stateUnknownEntry:
		d.state = stateRoot
		d.header.Unknown++
		d.sink.UnknownEntry(d.rec, d.header.Migration)

	case stateEntryProperty:
		d.rec.Fields = append(d.rec.Fields, Field{Name: d.name, Value: d.buf.String()})
		d.state = stateEntry

	case stateUnknownEntryProperty:
		d.rec.Fields = append(d.rec.Fields, Field{Name: d.name, Value: d.buf.String()})
		d.state = stateUnknownEntry
	}
	return nil
}

func (d *decoder) chars(data []byte) {
	if d.unknown > 0 {
		return
	}
	if d.state == stateEntryProperty || d.state == stateUnknownEntryProperty {
		d.buf.Write(data)
	}
}

func (d *decoder) skip() {
	d.unknown++
	d.header.Skipped++
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
