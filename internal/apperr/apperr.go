package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an error for the HTTP boundary.
type Kind string

const (
	KindInternal        Kind = "INTERNAL"
	KindConfiguration   Kind = "CONFIGURATION"
	KindAuthentication  Kind = "AUTHENTICATION"
	KindAuthorization   Kind = "AUTHORIZATION"
	KindRateLimit       Kind = "RATE_LIMIT"
	KindValidation      Kind = "VALIDATION"
	KindNotFound        Kind = "NOT_FOUND"
	KindExternalService Kind = "EXTERNAL_SERVICE"
)

// Error carries a client-safe Message and an optional wrapped cause that is
// only ever logged.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(err error, kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(msg string) *Error {
	return New(KindValidation, "validation_failed", msg)
}

func NotFound(msg string) *Error {
	return New(KindNotFound, "not_found", msg)
}

func Authentication(msg string) *Error {
	return New(KindAuthentication, "unauthorized", msg)
}

func Authorization(msg string) *Error {
	return New(KindAuthorization, "forbidden", msg)
}

func RateLimited(msg string) *Error {
	return New(KindRateLimit, "rate_limited", msg)
}

func Configuration(msg string) *Error {
	return New(KindConfiguration, "not_configured", msg)
}

func Internal(err error) *Error {
	return Wrap(err, KindInternal, "internal_error", "Internal Server Error")
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindExternalService:
		return http.StatusBadGateway
	case KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
