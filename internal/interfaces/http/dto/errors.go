package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	ErrCodeUnknown  = "ERR_UNKNOWN"
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodePayloadTooLarge is used when the body exceeds the limit
	ErrCodePayloadTooLarge = "ERR_PAYLOAD_TOO_LARGE"
)

// Authentication error codes
const (
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound = "ERR_NOT_FOUND"
	ErrCodeConflict = "ERR_CONFLICT"
)

// Sync error codes
const (
	// ErrCodeSyncAlreadyRunning is returned when a run holds the lock or an
	// equal job is already queued
	ErrCodeSyncAlreadyRunning = "ERR_SYNC_ALREADY_RUNNING"
	// ErrCodeConnectionInactive is returned for paused or failing connections
	ErrCodeConnectionInactive = "ERR_CONNECTION_INACTIVE"
	// ErrCodeUnsupportedResource is returned when the connection does not
	// mirror the requested resource
	ErrCodeUnsupportedResource = "ERR_UNSUPPORTED_RESOURCE"
	// ErrCodeQueueFull is returned when the scheduler rejects new work
	ErrCodeQueueFull = "ERR_QUEUE_FULL"
)

// Upstream error codes
const (
	ErrCodeServiceUnavailable = "ERR_SERVICE_UNAVAILABLE"
	ErrCodeBadGateway         = "ERR_BAD_GATEWAY"
	ErrCodeTimeout            = "ERR_TIMEOUT"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodePayloadTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound: http.StatusNotFound,
	ErrCodeConflict: http.StatusConflict,

	ErrCodeSyncAlreadyRunning:  http.StatusConflict,
	ErrCodeConnectionInactive:  http.StatusConflict,
	ErrCodeUnsupportedResource: http.StatusUnprocessableEntity,
	ErrCodeQueueFull:           http.StatusServiceUnavailable,

	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeBadGateway:         http.StatusBadGateway,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
}

// GetHTTPStatus returns the HTTP status code for an error code.
// Unknown codes map to 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
