package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error so the transport boundary can pick a status code.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindDependency     Kind = "dependency"
	KindInternal       Kind = "internal"
)

// Error is the tagged error returned by every core operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Authentication(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Dependency marks a failure of an external collaborator.
func Dependency(message string, err error) *Error {
	return &Error{Kind: KindDependency, Message: message, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the human readable message of the first *Error in err's
// chain. Internal and dependency details are not exposed.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal server error"
	}
	switch e.Kind {
	case KindInternal:
		return "internal server error"
	case KindDependency:
		if e.Message != "" {
			return e.Message
		}
		return "dependency unavailable"
	}
	return e.Message
}

// HTTPStatus maps a kind to its transport status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDependency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
