// Package sanchezerr defines the error taxonomy shared by every layer of
// the container codec and streaming protocol: IoError, FormatError,
// ProtocolError, IntegrityError, GeometryError, Overflow.
package sanchezerr

import "errors"

// Class identifies which bucket of the taxonomy an error belongs to.
type Class int

const (
	ClassIO Class = iota
	ClassFormat
	ClassProtocol
	ClassIntegrity
	ClassGeometry
	ClassOverflow
)

func (c Class) String() string {
	switch c {
	case ClassIO:
		return "IoError"
	case ClassFormat:
		return "FormatError"
	case ClassProtocol:
		return "ProtocolError"
	case ClassIntegrity:
		return "IntegrityError"
	case ClassGeometry:
		return "GeometryError"
	case ClassOverflow:
		return "Overflow"
	default:
		return "UnknownError"
	}
}

// Error wraps an underlying cause with a taxonomy class so callers can
// branch on Class() without string matching.
type Error struct {
	class Class
	msg   string
	err   error
}

func New(class Class, msg string) error {
	return &Error{class: class, msg: msg}
}

func Wrap(class Class, msg string, err error) error {
	return &Error{class: class, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Class() Class { return e.class }

// Is lets errors.Is(err, sanchezerr.ErrFormat) style checks work by
// comparing classes when both sides are *Error.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.class == other.class
	}
	return false
}

// ClassOf reports the Class of err if it (or something it wraps) is a
// *Error, and false otherwise.
func ClassOf(err error) (Class, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.class, true
	}
	return 0, false
}

// Sentinel instances for errors.Is comparisons against a specific class
// without caring about the message.
var (
	ErrIO         = &Error{class: ClassIO}
	ErrFormat     = &Error{class: ClassFormat}
	ErrProtocol   = &Error{class: ClassProtocol}
	ErrIntegrity  = &Error{class: ClassIntegrity}
	ErrGeometry   = &Error{class: ClassGeometry}
	ErrOverflow   = &Error{class: ClassOverflow}
)
