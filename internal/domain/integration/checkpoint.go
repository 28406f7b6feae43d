package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// RunStatus
// ---------------------------------------------------------------------------

// RunStatus is the outcome of the most recent run for a (tenant, resource)
type RunStatus string

const (
	// RunStatusIdle means no run has finished yet, or the last one was aborted
	RunStatusIdle RunStatus = "idle"
	// RunStatusRunning means a run holds the lock
	RunStatusRunning RunStatus = "running"
	// RunStatusSuccess means the last run completed
	RunStatusSuccess RunStatus = "success"
	// RunStatusRetrying means the last run failed and the error count is below the threshold
	RunStatusRetrying RunStatus = "retrying"
	// RunStatusError means consecutive failures reached the threshold and operators should look
	RunStatusError RunStatus = "error"
)

// IsValid returns true if the run status is known
func (s RunStatus) IsValid() bool {
	switch s {
	case RunStatusIdle, RunStatusRunning, RunStatusSuccess, RunStatusRetrying, RunStatusError:
		return true
	default:
		return false
	}
}

// String returns the string representation of RunStatus
func (s RunStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// Checkpoint
// ---------------------------------------------------------------------------

// Checkpoint is the durable sync progress for one (tenant, resource).
// LastSyncAt never decreases and is only moved by a successful run.
// LastRunID is the run that last finished successfully.
type Checkpoint struct {
	TenantID              uuid.UUID
	Resource              ResourceType
	LastSyncAt            *time.Time
	Status                RunStatus
	RecordsProcessed      int64
	TotalRecordsProcessed int64
	ConsecutiveErrors     int
	LastError             string
	RunID                 *uuid.UUID
	RunKind               RunKind
	RunStartedAt          *time.Time
	LastFinishedAt        *time.Time
	LastRunID             *uuid.UUID
	UpdatedAt             time.Time
}

// IsEmpty returns true if no run has ever advanced the checkpoint
func (c *Checkpoint) IsEmpty() bool {
	return c == nil || c.LastSyncAt == nil
}

// IsRunning returns true if a run currently holds the lock
func (c *Checkpoint) IsRunning() bool {
	return c != nil && c.Status == RunStatusRunning
}

// RunToken identifies one acquired run. It must be passed back to
// CommitRun, CompleteRun, FailRun or AbortRun to release the lock.
type RunToken struct {
	RunID     uuid.UUID
	TenantID  uuid.UUID
	Resource  ResourceType
	Kind      RunKind
	StartedAt time.Time
}

// ---------------------------------------------------------------------------
// CheckpointStore port
// ---------------------------------------------------------------------------

// CheckpointStore persists checkpoints and provides the per (tenant, resource)
// run lock. BeginRun must be a single atomic conditional write so that the
// lock holds across processes.
type CheckpointStore interface {
	// GetCheckpoint returns ErrCheckpointNotFound when no row exists
	GetCheckpoint(ctx context.Context, tenantID uuid.UUID, resource ResourceType) (*Checkpoint, error)
	// ListCheckpoints returns every checkpoint row of a tenant
	ListCheckpoints(ctx context.Context, tenantID uuid.UUID) ([]Checkpoint, error)
	// BeginRun acquires the run lock or returns ErrAlreadyRunning
	BeginRun(ctx context.Context, tenantID uuid.UUID, resource ResourceType, kind RunKind) (RunToken, error)
	// CommitRun marks success and advances LastSyncAt; ErrCheckpointRegression if lastSyncAt is earlier than stored.
	// Repeating a successful commit with the same token and lastSyncAt returns nil.
	CommitRun(ctx context.Context, token RunToken, lastSyncAt time.Time, recordsProcessed int64) error
	// CompleteRun marks success without touching LastSyncAt
	CompleteRun(ctx context.Context, token RunToken, recordsProcessed int64) error
	// FailRun counts a failed run; LastSyncAt is untouched
	FailRun(ctx context.Context, token RunToken, runErr error) (*Checkpoint, error)
	// AbortRun releases the lock of a cancelled run without recording an outcome
	AbortRun(ctx context.Context, token RunToken) error
}

// ---------------------------------------------------------------------------
// FetchWindow
// ---------------------------------------------------------------------------

// FetchWindow is a half-open [From, To) interval on the provider's modified-at clock
type FetchWindow struct {
	From time.Time
	To   time.Time
}

// NewFetchWindow creates a window, returning an error if To is before From
func NewFetchWindow(from, to time.Time) (FetchWindow, error) {
	if to.Before(from) {
		return FetchWindow{}, ErrInvalidWindow
	}
	return FetchWindow{From: from.UTC(), To: to.UTC()}, nil
}

// Contains reports whether t falls inside the window
func (w FetchWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// Duration returns the window length
func (w FetchWindow) Duration() time.Duration {
	return w.To.Sub(w.From)
}
