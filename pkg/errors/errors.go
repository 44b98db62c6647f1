package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the kind of failure reported by the remote service
type ErrorType string

const (
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeBadCredentials ErrorType = "bad_credentials"
	ErrorTypeTwoFactor      ErrorType = "two_factor"
	ErrorTypeCheckpoint     ErrorType = "checkpoint"
	ErrorTypeLoginRequired  ErrorType = "login_required"
	ErrorTypeParsing        ErrorType = "parsing"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// ErrDuplicate is wrapped by persistence errors caused by a uniqueness violation
var ErrDuplicate = stderrors.New("duplicate record")

// ErrItemNotFound is returned when a stored post lookup finds nothing
var ErrItemNotFound = stderrors.New("item not found")

// Error represents a remote error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(t ErrorType, code int, msg string) *Error {
	return &Error{Type: t, Code: code, Message: msg}
}

// Wrap creates a typed error around a lower level cause
func Wrap(t ErrorType, err error, msg string) *Error {
	return &Error{Type: t, Message: fmt.Sprintf("%s: %v", msg, err), Err: err}
}

// TypeOf returns the ErrorType carried anywhere in err's chain, or ErrorTypeUnknown
func TypeOf(err error) ErrorType {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Type
	}
	return ErrorTypeUnknown
}

// IsDuplicate reports whether err was caused by a uniqueness violation
func IsDuplicate(err error) bool {
	return stderrors.Is(err, ErrDuplicate)
}

// IsRetryable checks if an error type should be retried in place.
// Throttling is not retried here; the run-level policy decides what to do with it.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// TypeForStatus maps an HTTP status code to an error type
func TypeForStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 0:
		return ErrorTypeNetwork
	case statusCode == 401, statusCode == 403:
		return ErrorTypeLoginRequired
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// TypeForMediaStatus maps the status of a media download. Media hosts serve
// signed URLs without session cookies, so a rejected or expired URL means the
// payload is gone rather than the session.
func TypeForMediaStatus(statusCode int) ErrorType {
	switch statusCode {
	case 401, 403, 404, 410:
		return ErrorTypeNotFound
	default:
		return TypeForStatus(statusCode)
	}
}
