package replay

import (
	"errors"
	"fmt"
)

// ErrBlockNotFound is returned by a Ledger that does not have the requested block.
var ErrBlockNotFound = errors.New("block not found")

// Check names the validation step that rejected a snapshot.
type Check string

const (
	CheckHeight       Check = "height"
	CheckMissingBlock Check = "missing-block"
	CheckHash         Check = "hash"
	CheckKeyCount     Check = "key-count"
	CheckEncoding     Check = "encoding"
)

// ValidationError rejects a snapshot. Callers tell a wrong file from a wrong
// target with errors.As and the Check field.
type ValidationError struct {
	Check    Check
	Block    uint32
	Expected string
	Actual   string
	Err      error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("replay rejected by %s check at block %d", e.Check, e.Block)
	if e.Expected != "" || e.Actual != "" {
		msg += fmt.Sprintf(": expected %s, got %s", e.Expected, e.Actual)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsCheck reports whether err is a ValidationError raised by check.
func IsCheck(err error, check Check) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Check == check
}
