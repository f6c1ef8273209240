package toolscript

import (
	"errors"
	"fmt"
)

// Error kinds, named after the script-visible error constructors.
const (
	KindSyntax    = "SyntaxError"
	KindReference = "ReferenceError"
	KindType      = "TypeError"
	KindRange     = "RangeError"
	KindError     = "Error"
)

// ErrStepLimit is returned when a script exceeds its step budget. Scripts
// cannot catch it.
var ErrStepLimit = errors.New("toolscript: step limit exceeded")

// Error is a script error with its source position. Thrown values that are
// not error objects are reported with Kind "Uncaught".
type Error struct {
	Kind string
	Msg  string
	Pos  Pos
}

func newError(kind string, at Pos, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Pos: at}
}

func (e *Error) Error() string {
	if e.Pos.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s (line %d:%d)", e.Kind, e.Msg, e.Pos.Line, e.Pos.Col)
}

// thrown carries a value raised by a throw statement until it is caught or
// escapes the script.
type thrown struct {
	val Value
	pos Pos
}

func (t *thrown) Error() string { return "uncaught " + toString(t.val) }
