// Package apperr defines the typed errors services return so handlers can
// answer with the right status without knowing service internals.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	// KindValidation is a well-formed request that breaks a business rule.
	KindValidation
	// KindBadRequest is a request the server could not interpret.
	KindBadRequest
	KindInternal
	// KindUnavailable marks a feature that is switched off or not configured.
	KindUnavailable
)

var statusByKind = map[Kind]int{
	KindNotFound:    http.StatusNotFound,
	KindValidation:  http.StatusBadRequest,
	KindBadRequest:  http.StatusBadRequest,
	KindInternal:    http.StatusInternalServerError,
	KindUnavailable: http.StatusServiceUnavailable,
}

// Error carries a client-safe Message. Err, when set, is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Details any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error    { return &Error{Kind: KindNotFound, Message: message} }
func Validation(message string) *Error  { return &Error{Kind: KindValidation, Message: message} }
func BadRequest(message string) *Error  { return &Error{Kind: KindBadRequest, Message: message} }
func Unavailable(message string) *Error { return &Error{Kind: KindUnavailable, Message: message} }

// Is reports whether err wraps an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
