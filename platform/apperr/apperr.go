// Package apperr provides standardized error kinds for the engagement core.
// Services return these typed errors and the HTTP layer maps them to status
// codes through httpkit.HandleError.
package apperr

import "net/http"

// Kind represents the category of error.
type Kind int

const (
	// KindUnknown is the default error kind when none is specified.
	KindUnknown Kind = iota
	// KindNotFound indicates a resource was not found.
	KindNotFound
	// KindValidation indicates invalid input data.
	KindValidation
	// KindBadRequest indicates a malformed request.
	KindBadRequest
	// KindUnavailable indicates a shared store or upstream dependency could
	// not be reached. Callers may retry later.
	KindUnavailable
)

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind    Kind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// HTTPStatus returns the HTTP status code for this error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// New creates a new domain error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NotFound(message string) *Error    { return New(KindNotFound, message) }
func Validation(message string) *Error  { return New(KindValidation, message) }
func BadRequest(message string) *Error  { return New(KindBadRequest, message) }
func Unavailable(message string) *Error { return New(KindUnavailable, message) }
