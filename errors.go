package guard

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/ingress-guard/upload"
)

// Error codes returned in the "error" field of JSON error bodies
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodePayloadTooLarge    = "payload_too_large"
	ErrorCodeEmptyPayload       = "empty_payload"
	ErrorCodeTypeMismatch       = "type_mismatch"
	ErrorCodeUnsupportedType    = "unsupported_type"
	ErrorCodeRequestTooLarge    = "request_too_large"
	ErrorCodeRateLimitExceeded  = "rate_limit_exceeded"
	ErrorCodeContentTooShort    = "content_too_short"
	ErrorCodeContentTooLong     = "content_too_long"
	ErrorCodeServiceUnavailable = "service_unavailable"
	ErrorCodeServerError        = "server_error"
)

// Error is an API error with its HTTP status
type Error struct {
	Code        string // machine-readable error code
	Description string // human-readable description, safe to show to clients
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a new API error
func NewError(code, description string, status int) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common errors
var (
	// ErrInvalidRequest indicates a malformed request body
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrRateLimitExceeded indicates the caller's quota is used up
	ErrRateLimitExceeded = func(desc string) *Error {
		return NewError(ErrorCodeRateLimitExceeded, desc, http.StatusTooManyRequests)
	}

	// ErrServiceUnavailable indicates a dependency (the quota store) failed
	ErrServiceUnavailable = func(desc string) *Error {
		return NewError(ErrorCodeServiceUnavailable, desc, http.StatusServiceUnavailable)
	}

	// ErrServerError indicates an internal failure
	ErrServerError = func(desc string) *Error {
		return NewError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// ErrRequestTooLarge indicates the request body exceeded the transport ceiling
func ErrRequestTooLarge(limit int64) *Error {
	return NewError(ErrorCodeRequestTooLarge,
		fmt.Sprintf("Request body exceeds %d bytes.", limit),
		http.StatusRequestEntityTooLarge)
}

// errorFromOutcome maps a rejected upload onto an API error. The message
// names the declared and detected types but never echoes content.
func errorFromOutcome(out upload.Outcome, maxSize int64) *Error {
	switch out.Reason {
	case upload.ReasonTooLarge:
		return NewError(ErrorCodePayloadTooLarge,
			fmt.Sprintf("File exceeds the %d byte limit.", maxSize), http.StatusBadRequest)
	case upload.ReasonEmpty:
		return NewError(ErrorCodeEmptyPayload, "File is empty.", http.StatusBadRequest)
	case upload.ReasonUnsupported:
		return NewError(ErrorCodeUnsupportedType,
			fmt.Sprintf("File type %q is not supported. Upload a PDF, Word or plain text file.", out.DeclaredType.String()),
			http.StatusBadRequest)
	default:
		return NewError(ErrorCodeTypeMismatch,
			fmt.Sprintf("File content does not match its declared type (declared %s, detected %s).",
				out.DeclaredType.String(), out.DetectedType.String()),
			http.StatusBadRequest)
	}
}

// asError converts any error into an *Error, hiding internal details.
func asError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrServerError("An internal error occurred.")
}
