package dbfile

import (
	"bufio"
	"encoding/xml"
	"io"
)

const header = `<?xml version="1.0" standalone="yes"?>` + "\n" + `<rhythmdb version="` + CurrentVersion + `">` + "\n"

// Encoder writes a library file. Errors are sticky: after the first failed
// write every call is a no-op and Close reports the error.
type Encoder struct {
	w       *bufio.Writer
	err     error
	entries int
	open    bool
}

// NewEncoder writes the file header to w and returns an Encoder.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: bufio.NewWriterSize(w, 64*1024)}
	e.str(header)
	return e
}

// BeginEntry opens an entry element of the given type.
func (e *Encoder) BeginEntry(typ string) {
	e.str(`  <entry type="`)
	e.escape(typ)
	e.str("\">\n")
	e.open = true
}

// Field writes one property element of the open entry.
func (e *Encoder) Field(name, value string) {
	e.str("    <")
	e.str(name)
	e.str(">")
	e.escape(value)
	e.str("</")
	e.str(name)
	e.str(">\n")
}

// EndEntry closes the open entry element.
func (e *Encoder) EndEntry() {
	e.str("  </entry>\n")
	if e.open && e.err == nil {
		e.entries++
	}
	e.open = false
}

// Record writes a whole preserved entry.
func (e *Encoder) Record(rec Record) {
	e.BeginEntry(rec.Type)
	for _, f := range rec.Fields {
		e.Field(f.Name, f.Value)
	}
	e.EndEntry()
}

// Entries returns the number of entries written so far.
func (e *Encoder) Entries() int {
	return e.entries
}

// Err returns the first write error.
func (e *Encoder) Err() error {
	return e.err
}

// Close writes the closing root element and flushes. It does not close the
// underlying writer.
func (e *Encoder) Close() error {
	e.str("</rhythmdb>\n")
	if e.err == nil {
		e.err = e.w.Flush()
	}
	return e.err
}

func (e *Encoder) str(s string) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.WriteString(s)
}

func (e *Encoder) escape(s string) {
	if e.err != nil {
		return
	}
	e.err = xml.EscapeText(e.w, []byte(s))
}
