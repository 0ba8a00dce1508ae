// Package errs defines the error kinds shared by the dispatch core and the
// mapping of those kinds onto transport status codes.
package errs

import (
	"errors"
	"net/http"
)

// Kind classifies a failure. Kinds compare with errors.Is against any *Error
// that carries them.
type Kind string

const (
	Validation       Kind = "ValidationError"
	NotFound         Kind = "NotFound"
	InvalidState     Kind = "InvalidState"
	InvalidOtp       Kind = "InvalidOtp"
	InvalidFareInput Kind = "InvalidFareInput"
	Upstream         Kind = "UpstreamError"
	Storage          Kind = "StorageError"
	Unauthorized     Kind = "Unauthorized"
	Forbidden        Kind = "Forbidden"
	Internal         Kind = "InternalError"
)

func (k Kind) Error() string { return string(k) }

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errs.NotFound) match on kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func E(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the user-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

// Operational reports whether err warrants error-level logging rather than
// being an expected user-facing outcome.
func Operational(err error) bool {
	switch KindOf(err) {
	case Upstream, Storage, Internal:
		return true
	}
	return false
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case InvalidFareInput:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case InvalidState:
		return http.StatusConflict
	case InvalidOtp:
		return http.StatusUnprocessableEntity
	case Upstream:
		return http.StatusBadGateway
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
