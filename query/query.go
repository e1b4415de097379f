// Package query builds and evaluates query programs over entry properties.
//
// A Program is a flat list of predicates. Adjacent predicates are joined by
// AND; a Disjunction marker splits the program into alternatives joined by
// OR. A Subquery predicate nests a whole program, disjunctions included, as
// a single term.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfeidau/mediadb"
	"github.com/wolfeidau/mediadb/property"
)

// Op is a predicate operation.
type Op int

const (
	OpEquals Op = iota + 1
	OpLike
	OpNotLike
	OpPrefix
	OpSuffix
	OpGreater
	OpLess
	OpTimeWithin
	OpTimeNotWithin
	OpSubquery
	OpDisjunction
)

var opNames = map[Op]string{
	OpEquals:        "==",
	OpLike:          "~",
	OpNotLike:       "!~",
	OpPrefix:        "^=",
	OpSuffix:        "$=",
	OpGreater:       ">",
	OpLess:          "<",
	OpTimeWithin:    "within",
	OpTimeNotWithin: "not-within",
	OpSubquery:      "sub",
	OpDisjunction:   "OR",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Predicate is one step of a Program.
type Predicate struct {
	Op    Op
	Prop  property.ID
	Value property.Value
	Sub   Program

	// words holds the folded terms of a search-match predicate. prepared
	// is set once words and any folded Value have been computed.
	words    []string
	prepared bool
}

// Program is a sequence of predicates and disjunction markers.
type Program []Predicate

// Eq matches entries whose prop equals v.
func Eq(prop property.ID, v property.Value) Predicate {
	return Predicate{Op: OpEquals, Prop: prop, Value: v}
}

// Like matches entries whose string prop contains s. Against SearchMatch
// every word of s must occur in one of the folded title, album, artist or
// genre fields.
func Like(prop property.ID, s string) Predicate {
	return textPredicate(OpLike, prop, s)
}

// NotLike is the negation of Like.
func NotLike(prop property.ID, s string) Predicate {
	return textPredicate(OpNotLike, prop, s)
}

// Prefix matches entries whose string prop starts with s.
func Prefix(prop property.ID, s string) Predicate {
	return textPredicate(OpPrefix, prop, s)
}

// Suffix matches entries whose string prop ends with s.
func Suffix(prop property.ID, s string) Predicate {
	return textPredicate(OpSuffix, prop, s)
}

// Gt matches entries whose prop is strictly greater than v.
func Gt(prop property.ID, v property.Value) Predicate {
	return Predicate{Op: OpGreater, Prop: prop, Value: v}
}

// Lt matches entries whose prop is strictly less than v.
func Lt(prop property.ID, v property.Value) Predicate {
	return Predicate{Op: OpLess, Prop: prop, Value: v}
}

// Within matches entries whose timestamp prop is no older than d.
func Within(prop property.ID, d time.Duration) Predicate {
	return Predicate{Op: OpTimeWithin, Prop: prop, Value: property.ULong(uint64(d / time.Second))}
}

// NotWithin matches entries whose timestamp prop is older than d.
func NotWithin(prop property.ID, d time.Duration) Predicate {
	return Predicate{Op: OpTimeNotWithin, Prop: prop, Value: property.ULong(uint64(d / time.Second))}
}

// Sub nests p as a single term.
func Sub(p Program) Predicate {
	return Predicate{Op: OpSubquery, Sub: p}
}

// Or separates two alternatives.
func Or() Predicate {
	return Predicate{Op: OpDisjunction}
}

func textPredicate(op Op, prop property.ID, s string) Predicate {
	return Predicate{Op: op, Prop: prop, Value: property.String(s)}.prepare()
}

// prepare folds the operand of a string predicate the way the compared
// property is stored. Predicates built as struct literals are prepared
// lazily by Evaluate.
func (pr Predicate) prepare() Predicate {
	if pr.prepared || pr.Value.Kind() != property.KindString {
		return pr
	}
	switch pr.Op {
	case OpLike, OpNotLike, OpPrefix, OpSuffix:
	default:
		return pr
	}
	switch {
	case pr.Prop == property.SearchMatch:
		pr.words = property.SearchWords(pr.Value.Str())
	case isFolded(pr.Prop):
		pr.Value = property.String(property.Fold(pr.Value.Str()))
	}
	pr.prepared = true
	return pr
}

func isFolded(id property.ID) bool {
	switch id {
	case property.TitleFolded, property.GenreFolded, property.ArtistFolded, property.AlbumFolded:
		return true
	}
	return false
}

// Split partitions p at its top-level disjunction markers. Subqueries are
// kept whole. An empty program yields a single empty conjunction.
func Split(p Program) []Program {
	out := make([]Program, 0, 1)
	start := 0
	for i, pr := range p {
		if pr.Op == OpDisjunction {
			out = append(out, p[start:i])
			start = i + 1
		}
	}
	return append(out, p[start:])
}

// Extract returns the values of every Equals predicate on prop in a
// conjunctive program, and the program without them. A nil values slice
// means prop is unconstrained.
func Extract(conj Program, prop property.ID) (values []property.Value, rest Program) {
	rest = make(Program, 0, len(conj))
	for _, pr := range conj {
		if pr.Op == OpEquals && pr.Prop == prop {
			values = append(values, pr.Value)
			continue
		}
		rest = append(rest, pr)
	}
	return values, rest
}

// Validate checks that every predicate compares a property against a value
// of the right kind. Evaluate assumes a validated program.
func Validate(p Program) error {
	for i, pr := range p {
		if err := validate(pr); err != nil {
			return fmt.Errorf("predicate %d: %w", i, err)
		}
	}
	return nil
}

func validate(pr Predicate) error {
	switch pr.Op {
	case OpDisjunction:
		return nil
	case OpSubquery:
		return Validate(pr.Sub)
	}

	if !pr.Prop.Valid() {
		return fmt.Errorf("%w: unknown property %d", mediadb.ErrTypeMismatch, int(pr.Prop))
	}
	kind := pr.Prop.Kind()

	switch pr.Op {
	case OpEquals, OpGreater, OpLess:
		if pr.Value.Kind() != kind {
			return fmt.Errorf("%w: %s %s wants %s, got %s", mediadb.ErrTypeMismatch, pr.Prop, pr.Op, kind, pr.Value.Kind())
		}
		if pr.Op != OpEquals && kind == property.KindPointer {
			return fmt.Errorf("%w: %s is not ordered", mediadb.ErrTypeMismatch, pr.Prop)
		}
	case OpLike, OpNotLike, OpPrefix, OpSuffix:
		if kind != property.KindString || pr.Value.Kind() != property.KindString {
			return fmt.Errorf("%w: %s %s needs string operands", mediadb.ErrTypeMismatch, pr.Prop, pr.Op)
		}
	case OpTimeWithin, OpTimeNotWithin:
		if kind != property.KindULong || pr.Value.Kind() != property.KindULong {
			return fmt.Errorf("%w: %s %s needs a timestamp property", mediadb.ErrTypeMismatch, pr.Prop, pr.Op)
		}
	default:
		return fmt.Errorf("%w: unknown operation %s", mediadb.ErrTypeMismatch, pr.Op)
	}
	return nil
}

// String renders p for logs.
func (p Program) String() string {
	var b strings.Builder
	for i, pr := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch pr.Op {
		case OpDisjunction:
			b.WriteString("OR")
		case OpSubquery:
			b.WriteString("(" + pr.Sub.String() + ")")
		default:
			fmt.Fprintf(&b, "%s %s %q", pr.Prop, pr.Op, pr.Value.String())
		}
	}
	return b.String()
}
