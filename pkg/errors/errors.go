package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType classifies failures across the scraper, the record store and the scorers
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"

	// Record pipeline failures
	ErrorTypeInvalidFragment ErrorType = "invalid_fragment"
	ErrorTypeFetchFailed     ErrorType = "fetch_failed"
	ErrorTypeScoringFailed   ErrorType = "scoring_failed"
	ErrorTypeStoreIO         ErrorType = "store_io"
)

// Error carries a type, an optional HTTP status code and the underlying cause
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same Type, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is checks
var (
	ErrInvalidFragment = &Error{Type: ErrorTypeInvalidFragment}
	ErrFetchFailed     = &Error{Type: ErrorTypeFetchFailed}
	ErrScoringFailed   = &Error{Type: ErrorTypeScoringFailed}
	ErrStoreIO         = &Error{Type: ErrorTypeStoreIO}
)

// New builds a typed error
func New(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// Wrap builds a typed error around cause. A nil cause yields nil.
func Wrap(errorType ErrorType, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Type: errorType, Message: message, Err: cause}
}

// InvalidFragment reports a fragment that cannot be merged or created
func InvalidFragment(format string, args ...interface{}) error {
	return &Error{Type: ErrorTypeInvalidFragment, Message: fmt.Sprintf(format, args...)}
}

// FetchFailed reports media bytes that could not be obtained
func FetchFailed(ref string, cause error) error {
	return &Error{Type: ErrorTypeFetchFailed, Message: ref, Err: cause}
}

// ScoringFailed reports a scorer that could not process a media file
func ScoringFailed(path string, cause error) error {
	return &Error{Type: ErrorTypeScoringFailed, Message: path, Err: cause}
}

// StoreIO reports a persistence failure for one record
func StoreIO(op string, cause error) error {
	return &Error{Type: ErrorTypeStoreIO, Message: op, Err: cause}
}

// TypeOf returns the ErrorType of the first *Error in err's chain
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
