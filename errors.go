package pcoconnect

import (
	"fmt"
	"net/http"
)

// Error codes used in JSON error bodies.
const (
	ErrorCodeConfiguration  = "configuration_error"
	ErrorCodeUnauthorized   = "unauthorized"
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeInvalidState   = "invalid_state"
	ErrorCodeAuthFailed     = "authentication_failed"
	ErrorCodeUpstream       = "upstream_error"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeUnprocessable  = "unprocessable"
	ErrorCodeRateLimited    = "rate_limit_exceeded"
	ErrorCodeServerError    = "server_error"
)

// APIError is an error the HTTP layer can serialize directly: an error code,
// a human-readable description, and the status to respond with.
type APIError struct {
	Code        string // machine-readable error code
	Description string // human-readable description
	Status      int    // HTTP status code
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewAPIError creates a new API error.
func NewAPIError(code, description string, status int) *APIError {
	return &APIError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common errors as reusable constructors.
var (
	// ErrConfiguration indicates required credentials or settings are missing.
	ErrConfiguration = func(desc string) *APIError {
		return NewAPIError(ErrorCodeConfiguration, desc, http.StatusInternalServerError)
	}

	// ErrUnauthorized indicates no usable token exists; the caller must
	// restart the /connect flow.
	ErrUnauthorized = func(desc string) *APIError {
		return NewAPIError(ErrorCodeUnauthorized, desc, http.StatusUnauthorized)
	}

	// ErrInvalidRequest indicates the request is malformed or missing a
	// required parameter.
	ErrInvalidRequest = func(desc string) *APIError {
		return NewAPIError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidState indicates the callback state nonce is missing, unknown,
	// or already consumed.
	ErrInvalidState = func(desc string) *APIError {
		return NewAPIError(ErrorCodeInvalidState, desc, http.StatusBadRequest)
	}

	// ErrAuthFailed indicates the upstream rejected the authorization.
	ErrAuthFailed = func(desc string) *APIError {
		return NewAPIError(ErrorCodeAuthFailed, desc, http.StatusBadRequest)
	}

	// ErrNotFound indicates a lookup matched nothing.
	ErrNotFound = func(desc string) *APIError {
		return NewAPIError(ErrorCodeNotFound, desc, http.StatusNotFound)
	}

	// ErrUnprocessable indicates a required disambiguating parameter could
	// not be derived and must be supplied explicitly.
	ErrUnprocessable = func(desc string) *APIError {
		return NewAPIError(ErrorCodeUnprocessable, desc, http.StatusUnprocessableEntity)
	}

	// ErrRateLimited indicates the caller exceeded the inbound rate limit.
	ErrRateLimited = func(desc string) *APIError {
		return NewAPIError(ErrorCodeRateLimited, desc, http.StatusTooManyRequests)
	}
)

// ErrUpstream passes an upstream failure through with its original status and
// body as detail.
func ErrUpstream(status int, body string) *APIError {
	return NewAPIError(ErrorCodeUpstream, body, status)
}
