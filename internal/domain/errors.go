package domain

import (
	"errors"
	"fmt"
)

// ErrMalformedCell is matched by every *FormatError.
var ErrMalformedCell = errors.New("malformed cell")

// ErrNoPriorStatus is returned by status lookups when the account has never
// posted.
var ErrNoPriorStatus = errors.New("no prior status")

// FormatError reports a line that was expected to hold a cell value but lacks
// the '>' / '<' delimiters around it.
type FormatError struct {
	Line   int    // 1-based line number within the document, 0 when unknown
	Field  string // field the line was expected to hold, empty when unknown
	Reason string
	Text   string
}

func (e *FormatError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("malformed cell: %s: %q", e.Reason, e.Text)
	}
	return fmt.Sprintf("line %d: malformed %s cell: %s: %q", e.Line, e.Field, e.Reason, e.Text)
}

func (e *FormatError) Unwrap() error { return ErrMalformedCell }

// InternalError means the row state machine reached a state it does not know.
// It indicates a programming error, not bad input.
type InternalError struct {
	State parseState
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: unexpected parse state %d", e.State)
}
