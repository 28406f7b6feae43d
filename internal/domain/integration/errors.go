package integration

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Sync Errors
// ---------------------------------------------------------------------------

var (
	// Provider errors
	ErrRateLimited      = errors.New("integration: provider rate limited")
	ErrUnavailable      = errors.New("integration: provider temporarily unavailable")
	ErrRequestRejected  = errors.New("integration: provider rejected request")
	ErrInvalidResponse  = errors.New("integration: invalid provider response")
	ErrUnknownProvider  = errors.New("integration: unknown provider")
	ErrProviderAuth     = errors.New("integration: provider authentication failed")
	ErrUnsupportedWrite = errors.New("integration: write-through not supported by provider")

	// Webhook errors
	ErrInvalidSignature = errors.New("integration: invalid webhook signature")
	ErrWebhookRejected  = errors.New("integration: webhook rejected")

	// Record errors
	ErrRecordMapping       = errors.New("integration: record mapping failed")
	ErrUnsupportedResource = errors.New("integration: unsupported resource type")
	ErrInvalidWindow       = errors.New("integration: window end is before window start")

	// Checkpoint errors
	ErrAlreadyRunning       = errors.New("integration: sync already running")
	ErrCheckpointRegression = errors.New("integration: checkpoint regression")
	ErrCheckpointNotFound   = errors.New("integration: checkpoint not found")
	ErrStaleRunToken        = errors.New("integration: run token is no longer current")

	// Connection errors
	ErrConnectionNotFound = errors.New("integration: connection not found")
	ErrConnectionInactive = errors.New("integration: connection is not active")

	// Entity errors
	ErrOrderNotFound = errors.New("integration: order not found")
)

// RateLimitedError carries the provider-supplied wait before the next call.
// It matches ErrRateLimited with errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
	Reason     string
}

// Error implements the error interface
func (e *RateLimitedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: retry after %s (%s)", ErrRateLimited.Error(), e.RetryAfter, e.Reason)
	}
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) true
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// NewRateLimitedError creates a RateLimitedError
func NewRateLimitedError(retryAfter time.Duration, reason string) *RateLimitedError {
	return &RateLimitedError{RetryAfter: retryAfter, Reason: reason}
}

// RetryAfterOf extracts the wait from a rate-limit error.
// ok is false when err is not a rate-limit error.
func RetryAfterOf(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	if errors.Is(err, ErrRateLimited) {
		return 0, true
	}
	return 0, false
}

// RecordMappingError describes why a single external record could not be
// mapped or stored. It never aborts the surrounding batch.
type RecordMappingError struct {
	ExternalID string
	Field      string
	Reason     string
}

// Error implements the error interface
func (e *RecordMappingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: record %q field %s: %s", ErrRecordMapping.Error(), e.ExternalID, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: record %q: %s", ErrRecordMapping.Error(), e.ExternalID, e.Reason)
}

// Is makes errors.Is(err, ErrRecordMapping) true
func (e *RecordMappingError) Is(target error) bool {
	return target == ErrRecordMapping
}

// NewRecordMappingError creates a RecordMappingError
func NewRecordMappingError(externalID, field, reason string) *RecordMappingError {
	return &RecordMappingError{ExternalID: externalID, Field: field, Reason: reason}
}

// IsRecoverable reports whether a run-level error should be retried by the orchestrator
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
