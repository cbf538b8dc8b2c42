package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing extension errors.
type ErrorCode string

// Complete error code constants.
// All components MUST use these constants instead of hardcoded strings.
const (
	// Configuration / secret resolution (fatal at startup).
	ErrCodeUnresolvedToken   ErrorCode = "config_unresolved_token"
	ErrCodeMalformedToken    ErrorCode = "config_malformed_token"
	ErrCodeSecretNotJSON     ErrorCode = "secret_not_json"
	ErrCodeSecretKeyNotFound ErrorCode = "secret_key_not_found"
	ErrCodeParameterNotFound ErrorCode = "parameter_not_found"
	ErrCodeStoreAccessDenied ErrorCode = "secret_store_access_denied"

	// Flush dispatch (non-fatal; the next cadence point retries naturally).
	ErrCodeFlushFailed  ErrorCode = "flush_failed"
	ErrCodeFlushTimeout ErrorCode = "flush_timeout"

	// Event intake (fatal; without lifecycle events the scheduler is blind).
	ErrCodeLifecycleStream ErrorCode = "lifecycle_stream_unavailable"
)

// Fatal reports whether an error carrying this code must terminate the
// process. Startup errors and a lost lifecycle stream are fatal; flush
// errors are observed and swallowed.
func (c ErrorCode) Fatal() bool {
	switch c {
	case ErrCodeFlushFailed, ErrCodeFlushTimeout:
		return false
	}
	return true
}

// AppError is the standard application error type used throughout the
// extension. Expressing domain errors as AppError enables consistent
// formatting, fatality classification, and error chain support.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor for domain
// errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf extracts the ErrorCode from an error chain. It returns an empty
// code when no AppError is present in the chain.
func CodeOf(err error) ErrorCode {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
