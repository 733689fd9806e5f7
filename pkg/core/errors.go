// Package core provides shared utilities for the OSM editing core.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode defines standard error codes surfaced by the editing core.
type ErrorCode string

// Standard error codes
const (
	// Input validation errors
	ErrInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrInvalidBbox     ErrorCode = "INVALID_BBOX"
	ErrInvalidObject   ErrorCode = "INVALID_OBJECT"
	ErrMissingToken    ErrorCode = "AUTHENTICATION_REQUIRED"
	ErrEmptyChangeset  ErrorCode = "EMPTY_CHANGESET"
	ErrObjectLimitCode ErrorCode = "OBJECT_LIMIT_EXCEEDED"
	ErrSupersededCode  ErrorCode = "SUPERSEDED"

	// Service errors
	ErrServerRejected ErrorCode = "SERVER_REJECTED"
	ErrServiceTimeout ErrorCode = "SERVICE_TIMEOUT"
	ErrRateLimit      ErrorCode = "RATE_LIMIT"
	ErrNetworkError   ErrorCode = "NETWORK_ERROR"

	// Data errors
	ErrParseError        ErrorCode = "PARSE_ERROR"
	ErrMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	ErrFilesystem        ErrorCode = "FILESYSTEM_ERROR"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Sentinel errors for conditions callers branch on.
var (
	// ErrObjectLimit marks a bbox fetch the server refused because too many
	// objects fell inside the requested region. Retryable after shrinking.
	ErrObjectLimit = NewError(ErrObjectLimitCode, "too many objects in requested bbox")

	// ErrAuthRequired marks an operation attempted without a valid token.
	ErrAuthRequired = NewError(ErrMissingToken, "no access token available")

	// ErrNothingToSend marks an upload with no pending edits or deletes.
	ErrNothingToSend = NewError(ErrEmptyChangeset, "no pending objects to upload")

	// ErrSuperseded marks a load abandoned because a newer request took
	// over. Not a failure: the newer operation carries the result.
	ErrSuperseded = NewError(ErrSupersededCode, "superseded by a newer request")
)

// Error is the detailed error type returned by core components.
type Error struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Status   int    `json:"status,omitempty"`
	Body     string `json:"body,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Guidance != "" {
		return fmt.Sprintf("%s: %s. %s", e.Code, e.Message, e.Guidance)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is makes sentinel comparison with errors.Is work on code equality.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    string(code),
		Message: message,
	}
}

// WithGuidance adds guidance information to the error.
func (e *Error) WithGuidance(guidance string) *Error {
	e.Guidance = guidance
	return e
}

// WithBody attaches the raw response body the server returned.
func (e *Error) WithBody(body string) *Error {
	e.Body = body
	return e
}

// ServerError creates an error carrying the server's status code and body
// text verbatim. Upload failures must surface the server's explanation
// unmodified, so Body is never rewritten.
func ServerError(operation string, statusCode int, body string) *Error {
	var code ErrorCode
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = ErrMissingToken
	case http.StatusTooManyRequests:
		code = ErrRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		code = ErrServiceTimeout
	default:
		code = ErrServerRejected
	}
	err := NewError(code, fmt.Sprintf("%s failed with status %d", operation, statusCode))
	err.Status = statusCode
	err.Body = body
	return err
}

// IsObjectLimit reports whether the fetch failed on the server-side object
// cap. The map endpoint signals it with 400 (bbox too large) or 509
// (bandwidth limit), both retryable after shrinking the bbox.
func IsObjectLimit(statusCode int) bool {
	return statusCode == http.StatusBadRequest || statusCode == 509
}
