package psarc

import (
	"errors"
	"strings"
)

// Error is the psarc error domain type.
//
// Errors coming from psarc components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Components should create an Error at the system boundary (opening a file,
// parsing a header, writing a block) and intermediate layers should not wrap
// in another Error except to add additional [ErrorKind] information. Prefer
// [fmt.Errorf] with a "%w" verb over creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert Error implements the interfaces callers rely on.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrIo, ErrTruncated, ErrInvalidMagic, ErrUnsupportedCodec,
		ErrBadToc, ErrDecodeError, ErrOutOfMemory, ErrConflict, ErrNoInputs,
		ErrInternal:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] rather than a specific *Error value.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents a class of error to be checked against with
// [errors.Is].
//
// If an implementer is unsure which kind applies, ErrInternal should be
// used.
type ErrorKind string

// Defined error kinds, matching the taxonomy of the archive engine: Io is an
// open/read/write/stat/mkdir failure, Truncated means expected bytes were
// not present, InvalidMagic/UnsupportedCodec/BadToc are container structural
// errors, DecodeError means a codec refused input, OutOfMemory means an
// allocation failed, Conflict means the output already exists without the
// overwrite flag, and NoInputs means create mode matched zero files.
var (
	ErrIo               = ErrorKind("io")
	ErrTruncated        = ErrorKind("truncated")
	ErrInvalidMagic     = ErrorKind("invalid magic")
	ErrUnsupportedCodec = ErrorKind("unsupported codec")
	ErrBadToc           = ErrorKind("bad toc")
	ErrDecodeError      = ErrorKind("decode error")
	ErrOutOfMemory      = ErrorKind("out of memory")
	ErrConflict         = ErrorKind("conflict")
	ErrNoInputs         = ErrorKind("no inputs")
	ErrInternal         = ErrorKind("internal")
)

// Error implements error.
func (k ErrorKind) Error() string {
	return string(k)
}

// Wrap builds an *Error with the given operation name, kind, message, and
// wrapped cause. Any argument may be the zero value.
func Wrap(op string, kind ErrorKind, msg string, inner error) *Error {
	return &Error{Op: op, Kind: kind, Message: msg, Inner: inner}
}
