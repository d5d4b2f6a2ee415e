// Package apperror defines the error taxonomy shared by services and handlers.
package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	NotFound         Kind = "NOT_FOUND"
	Forbidden        Kind = "FORBIDDEN"
	Unauthorized     Kind = "UNAUTHORIZED"
	ValidationFailed Kind = "VALIDATION_FAILED"
	Conflict         Kind = "CONFLICT"
	DeliveryFailure  Kind = "DELIVERY_FAILURE"
	Internal         Kind = "INTERNAL"
)

// Error is an application error with a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error // underlying cause, never shown to clients
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NewNotFound(message string) *Error   { return New(NotFound, message) }
func NewForbidden(message string) *Error  { return New(Forbidden, message) }
func NewValidation(message string) *Error { return New(ValidationFailed, message) }

// KindOf returns the kind of err, or Internal for foreign errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return Internal
}

// Is reports whether err is an application error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the message safe to show to a client.
func PublicMessage(err error, fallback string) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != Internal {
		return appErr.Message
	}
	return fallback
}

// HTTPStatus converts an error kind to an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Unauthorized:
		return http.StatusUnauthorized
	case ValidationFailed:
		return http.StatusUnprocessableEntity
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
