// Package apperr defines the error taxonomy shared by the messaging core.
// Every failure surfaced to a caller maps to one of these kinds so handlers
// can translate errors to HTTP statuses in a single place.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindConfiguration  Kind = "configuration_error"
	KindValidation     Kind = "validation_error"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindProvider       Kind = "provider_error"
	KindSignature      Kind = "signature_error"
	KindNotFound       Kind = "not_found"
	KindInternal       Kind = "internal_error"
)

// Error carries a kind plus a human-readable message. Provider errors keep
// the provider's raw reason text so rejected templates and invalid numbers
// stay debuggable.
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

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Authentication(message string) *Error { return New(KindAuthentication, message) }
func Authorization(message string) *Error  { return New(KindAuthorization, message) }
func Configuration(message string) *Error  { return New(KindConfiguration, message) }
func Validation(message string) *Error     { return New(KindValidation, message) }
func QuotaExceeded(message string) *Error  { return New(KindQuotaExceeded, message) }
func Provider(message string) *Error       { return New(KindProvider, message) }
func Signature(message string) *Error      { return New(KindSignature, message) }
func NotFound(message string) *Error       { return New(KindNotFound, message) }

// KindOf extracts the kind from any error in the chain, defaulting to internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication, KindSignature:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindValidation, KindProvider, KindConfiguration:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-visible message for an error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
