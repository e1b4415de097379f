package mediadb

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateLocation is returned when an entry is created, or an entry's
	// location is changed, to a location already held by another entry.
	ErrDuplicateLocation = errors.New("duplicate location")

	// ErrTypeMismatch is returned when a value's kind does not match the
	// declared kind of the property it is assigned to or compared against.
	ErrTypeMismatch = errors.New("property type mismatch")

	// ErrReadOnlyProperty is returned when setting a property that is fixed at
	// creation or derived from other properties.
	ErrReadOnlyProperty = errors.New("read-only property")

	// ErrUnsupportedSchema is returned when loading a file written by a newer
	// or unrecognized version of the format.
	ErrUnsupportedSchema = errors.New("unsupported schema version")

	// ErrIO marks a storage failure during load or save.
	ErrIO = errors.New("io failure")

	// ErrCancelled is returned when a load or query is aborted by its context.
	ErrCancelled = errors.New("cancelled")

	// ErrUnknownEntryType is returned when an entry type name is not registered.
	ErrUnknownEntryType = errors.New("unknown entry type")

	// ErrEntryNotFound is returned when an entry has already been deleted or
	// no entry matches a lookup.
	ErrEntryNotFound = errors.New("entry not found")
)

// IOError marks err as an ErrIO failure while keeping err in the chain.
func IOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

// Cancelled marks a context error as ErrCancelled while keeping the context
// error in the chain, so both errors.Is(err, ErrCancelled) and
// errors.Is(err, context.Canceled) hold.
func Cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
