package property

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a tagged union holding one property value.
// The zero Value has KindInvalid.
type Value struct {
	kind Kind
	s    string
	n    uint64
	f    float64
	p    any
}

// String makes a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// ULong makes an unsigned integer value (counts, timestamps, day numbers).
func ULong(n uint64) Value { return Value{kind: KindULong, n: n} }

// Uint64 makes a 64-bit size value.
func Uint64(n uint64) Value { return Value{kind: KindUint64, n: n} }

// Bool makes a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.n = 1
	}
	return v
}

// Double makes a floating point value.
func Double(f float64) Value { return Value{kind: KindDouble, f: f} }

// Pointer makes an opaque value compared by identity, such as an entry type.
func Pointer(p any) Value { return Value{kind: KindPointer, p: p} }

// Zero returns the zero value of kind k.
func Zero(k Kind) Value { return Value{kind: k} }

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload.
func (v Value) Str() string { return v.s }

// Uint returns the payload of a ULong or Uint64 value.
func (v Value) Uint() uint64 { return v.n }

// Truth returns the payload of a Bool value.
func (v Value) Truth() bool { return v.n != 0 }

// Float returns the payload of a Double value.
func (v Value) Float() float64 { return v.f }

// Ptr returns the payload of a Pointer value.
func (v Value) Ptr() any { return v.p }

// IsZero reports whether v holds its kind's zero value.
func (v Value) IsZero() bool {
	switch v.kind {
	case KindString:
		return v.s == ""
	case KindULong, KindUint64, KindBool:
		return v.n == 0
	case KindDouble:
		return v.f == 0
	case KindPointer:
		return v.p == nil
	default:
		return true
	}
}

// Equal reports whether v and o have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindDouble:
		return v.f == o.f
	case KindPointer:
		return v.p == o.p
	default:
		return v.n == o.n
	}
}

// Compare orders two values of the same kind. Pointer and mismatched kinds
// compare equal only when identical; otherwise Compare returns a non-zero
// value with no ordering meaning.
func (v Value) Compare(o Value) int {
	switch v.kind {
	case KindString:
		return strings.Compare(v.s, o.s)
	case KindDouble:
		return cmp.Compare(v.f, o.f)
	case KindULong, KindUint64, KindBool:
		return cmp.Compare(v.n, o.n)
	default:
		if v.Equal(o) {
			return 0
		}
		return 1
	}
}

// String formats v for logs and the text API.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindULong, KindUint64:
		return strconv.FormatUint(v.n, 10)
	case KindBool:
		return strconv.FormatBool(v.n != 0)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindPointer:
		return fmt.Sprint(v.p)
	default:
		return "<invalid>"
	}
}

// Any returns the payload as a plain Go value for JSON encoding.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindULong, KindUint64:
		return v.n
	case KindBool:
		return v.n != 0
	case KindDouble:
		return v.f
	case KindPointer:
		return fmt.Sprint(v.p)
	default:
		return nil
	}
}

// Encode formats v the way it is written in the library file.
func Encode(v Value) string {
	switch v.kind {
	case KindBool:
		if v.n != 0 {
			return "1"
		}
		return "0"
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.String()
	}
}

// Parse decodes text read from the library file into a value for id.
func Parse(id ID, text string) (Value, error) {
	switch k := id.Kind(); k {
	case KindString:
		return String(text), nil
	case KindULong, KindUint64:
		n, err := strconv.ParseUint(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %s: %w", id, err)
		}
		return Value{kind: k, n: n}, nil
	case KindBool:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %s: %w", id, err)
		}
		return Bool(n != 0), nil
	case KindDouble:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Value{}, fmt.Errorf("parsing %s: %w", id, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("parsing %s: non-finite value %q", id, text)
		}
		return Double(f), nil
	default:
		return Value{}, fmt.Errorf("property %s cannot be parsed from text", id)
	}
}

// Omit reports whether a saved property holding v is left out of the file.
func Omit(d Descriptor, v Value) bool {
	switch v.kind {
	case KindString:
		return v.s == "" && !d.Required
	case KindULong:
		return v.n == 0 && !d.SaveZero
	case KindUint64, KindBool:
		return v.n == 0
	case KindDouble:
		return v.f > -0.001 && v.f < 0.001
	default:
		return true
	}
}
