package service

import "errors"

// Kind classifies an engine failure.  Handlers map kinds to HTTP status
// codes; the string form is used as the "code" field of error bodies.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state"
	KindUnavailable     Kind = "unavailable"
	KindRenderingFailed Kind = "rendering_failed"
	KindInternal        Kind = "internal"
)

// Error is returned by every ParkingService operation.  Message is safe to
// show to clients; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so the Err* values below can
// be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidState    = &Error{Kind: KindInvalidState}
	ErrUnavailable     = &Error{Kind: KindUnavailable}
	ErrRenderingFailed = &Error{Kind: KindRenderingFailed}
	ErrInternal        = &Error{Kind: KindInternal}
)

// KindOf returns the kind carried by err, or KindInternal when err is not
// an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}
