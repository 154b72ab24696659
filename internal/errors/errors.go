// Package errors provides standardized error handling for the streaming service.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the service.
type ErrorCode string

const (
	// Request validation errors
	SV_VALIDATION            ErrorCode = "SV_VALIDATION"
	SV_RANGE_NOT_SATISFIABLE  ErrorCode = "SV_RANGE_NOT_SATISFIABLE"
	SV_BAD_REQUEST           ErrorCode = "SV_BAD_REQUEST"

	// Resource errors
	SV_NOT_FOUND ErrorCode = "SV_NOT_FOUND"
	SV_CONFLICT  ErrorCode = "SV_CONFLICT"

	// Upstream and stream-lifecycle errors. REFERENCE_EXPIRED,
	// BLOB_TIMEOUT, NETWORK_TRANSIENT and FLOOD_LIMITED are the kinds
	// the stream engine's self-heal loop retries
	SV_REFERENCE_EXPIRED ErrorCode = "SV_REFERENCE_EXPIRED"
	SV_BLOB_TIMEOUT      ErrorCode = "SV_BLOB_TIMEOUT"
	SV_NETWORK_TRANSIENT ErrorCode = "SV_NETWORK_TRANSIENT"
	SV_FLOOD_LIMITED     ErrorCode = "SV_FLOOD_LIMITED"
	SV_UNAUTHORIZED      ErrorCode = "SV_UNAUTHORIZED"
	SV_PREMATURE_EOF     ErrorCode = "SV_PREMATURE_EOF"
	SV_STREAM_BROKEN     ErrorCode = "SV_STREAM_BROKEN"
	SV_CLIENT_DISCONNECT ErrorCode = "SV_CLIENT_DISCONNECT"

	// Storage errors
	SV_DATABASE_ERROR ErrorCode = "SV_DATABASE_ERROR"

	// Server errors
	SV_INTERNAL    ErrorCode = "SV_INTERNAL"
	SV_UNAVAILABLE ErrorCode = "SV_UNAVAILABLE"
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// httpStatusCodeForCode maps error codes to HTTP status codes. Codes
// handled inside the stream engine's self-heal loop are included for
// completeness but should never reach this mapping post-headers.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case SV_VALIDATION, SV_BAD_REQUEST:
		return http.StatusBadRequest
	case SV_RANGE_NOT_SATISFIABLE:
		return http.StatusRequestedRangeNotSatisfiable
	case SV_NOT_FOUND:
		return http.StatusNotFound
	case SV_CONFLICT:
		return http.StatusConflict
	case SV_UNAUTHORIZED:
		return http.StatusForbidden
	case SV_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
