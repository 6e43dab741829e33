package snapshot

import (
	"errors"
	"fmt"
)

var (
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrNegativeCount      = errors.New("negative length")
	ErrTruncated          = errors.New("unexpected end of data")
	ErrKeyTooLong         = errors.New("key exceeds maximum length")
	ErrCountMismatch      = errors.New("declared key count does not match entries")
	ErrTrailingData       = errors.New("data after the last entry")
)

// DecodeError reports a structural problem found while decoding a snapshot.
// Field names the part of the layout that failed, Entry the zero based entry
// index or -1 for the header.
type DecodeError struct {
	Field string
	Entry int
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Entry < 0 {
		return fmt.Sprintf("snapshot decode: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("snapshot decode: entry %d: %s: %v", e.Entry, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func headerError(field string, err error) error {
	return &DecodeError{Field: field, Entry: -1, Err: err}
}

func entryError(i int, field string, err error) error {
	return &DecodeError{Field: field, Entry: i, Err: err}
}
