package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a security failure. Each kind maps to one HTTP status.
type ErrorKind string

const (
	KindInvalidCredentials    ErrorKind = "invalid_credentials"
	KindTooManyAttempts       ErrorKind = "too_many_attempts"
	KindUnauthenticated       ErrorKind = "unauthenticated"
	KindTokenIdentityMismatch ErrorKind = "token_identity_mismatch"
	KindForbidden             ErrorKind = "forbidden"
	KindInjectionDetected     ErrorKind = "injection_detected"
	KindNotFound              ErrorKind = "not_found"
)

var statusByKind = map[ErrorKind]int{
	KindInvalidCredentials:    http.StatusUnauthorized,
	KindTooManyAttempts:       http.StatusTooManyRequests,
	KindUnauthenticated:       http.StatusUnauthorized,
	KindTokenIdentityMismatch: http.StatusUnauthorized,
	KindForbidden:             http.StatusForbidden,
	KindInjectionDetected:     http.StatusBadRequest,
	KindNotFound:              http.StatusNotFound,
}

// Error is a security failure that carries enough for a client response.
// Field names the offending input or credential, when there is one.
type Error struct {
	Kind    ErrorKind
	Status  int
	Field   string
	Message string

	// RetryAfter is the remaining block in seconds for KindTooManyAttempts.
	RetryAfter int

	// Vector is the detection category for KindInjectionDetected.
	Vector string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so the Err* values below work
// with errors.Is regardless of field or message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind ErrorKind, field, message string) *Error {
	return &Error{Kind: kind, Status: statusByKind[kind], Field: field, Message: message}
}

// Kind sentinels for errors.Is.
var (
	ErrInvalidCredentials    = newError(KindInvalidCredentials, "", "")
	ErrTooManyAttempts       = newError(KindTooManyAttempts, "", "")
	ErrUnauthenticated       = newError(KindUnauthenticated, "", "")
	ErrTokenIdentityMismatch = newError(KindTokenIdentityMismatch, "", "")
	ErrForbidden             = newError(KindForbidden, "", "")
	ErrInjectionDetected     = newError(KindInjectionDetected, "", "")
	ErrNotFound              = newError(KindNotFound, "", "")
)

// invalidCredentialsMessage is shared by every login refusal so a caller
// cannot tell an unknown account, a wrong password and a block apart by text.
const invalidCredentialsMessage = "invalid credentials"

// InvalidCredentials is returned for a wrong password or unknown account.
// The message is identical in both cases.
func InvalidCredentials() *Error {
	return newError(KindInvalidCredentials, "credentials", invalidCredentialsMessage)
}

// TooManyAttempts is returned while a throttle key is blocked. Only the
// status and RetryAfter differ from InvalidCredentials.
func TooManyAttempts(retryAfterSeconds int) *Error {
	e := newError(KindTooManyAttempts, "credentials", invalidCredentialsMessage)
	e.RetryAfter = retryAfterSeconds
	return e
}

// Unauthenticated is returned when no usable credential was presented.
func Unauthenticated(field, message string) *Error {
	return newError(KindUnauthenticated, field, message)
}

// TokenIdentityMismatch is returned when a bearer token names a different
// email than the session it points at.
func TokenIdentityMismatch() *Error {
	return newError(KindTokenIdentityMismatch, "token", "invalid token")
}

// Forbidden is returned when an authenticated user lacks a permission.
func Forbidden() *Error {
	return newError(KindForbidden, "authorization", "access denied for this role")
}

// InjectionDetected is returned when a request body holds a suspicious value.
func InjectionDetected(field, vector string) *Error {
	e := newError(KindInjectionDetected, field, "injection attempt detected; the event has been logged")
	e.Vector = vector
	return e
}

// NotFound is returned when a resource is absent.
func NotFound(field, message string) *Error {
	return newError(KindNotFound, field, message)
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
