package internal

import (
	"errors"
	"net/http"
)

// Kind classifies a domain error.
type Kind string

const (
	KindUnauthorized  Kind = "UNAUTHORIZED"
	KindForbidden     Kind = "FORBIDDEN"
	KindValidation    Kind = "VALIDATION"
	KindNotFound      Kind = "NOT_FOUND"
	KindQuotaExceeded Kind = "QUOTA_EXCEEDED"
	KindConflict      Kind = "CONFLICT"
	KindPayment       Kind = "PAYMENT"
	KindPersistence   Kind = "PERSISTENCE"
)

// Error is the domain error returned by the controller and stores.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}
	ErrForbidden     = &Error{Kind: KindForbidden}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrQuotaExceeded = &Error{Kind: KindQuotaExceeded}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrPayment       = &Error{Kind: KindPayment}
	ErrPersistence   = &Error{Kind: KindPersistence}
)

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// persistence wraps a store failure unless it already carries a kind.
func persistence(message string, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return wrapError(KindPersistence, message, err)
}

// HTTPStatus maps an error to the response status.
func HTTPStatus(err error) int {
	var de *Error
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	switch de.Kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation, KindQuotaExceeded:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPayment:
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to show a client.
func PublicMessage(err error) string {
	var de *Error
	if !errors.As(err, &de) || de.Kind == KindPersistence {
		return "internal error"
	}
	return de.Message
}
