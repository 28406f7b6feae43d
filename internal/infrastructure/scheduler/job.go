package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// Sync Job Types
// ---------------------------------------------------------------------------

// JobStatus represents the status of a sync job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
	// JobStatusSkipped means another run held the (tenant, resource) lock
	JobStatusSkipped JobStatus = "SKIPPED"
	// JobStatusAborted means the job was cancelled and nothing was committed
	JobStatusAborted JobStatus = "ABORTED"
)

// Job is one requested sync run for a (tenant, resource)
type Job struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Provider    integration.ProviderID
	Resource    integration.ResourceType
	Kind        integration.RunKind
	Status      JobStatus
	Error       string
	SubmittedAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// Filled from the run result
	RunID     *uuid.UUID
	Pages     int
	Processed int
	Failed    int
	Committed bool
}

// NewJob creates a pending job
func NewJob(tenantID uuid.UUID, provider integration.ProviderID, resource integration.ResourceType, kind integration.RunKind) *Job {
	return &Job{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Provider:    provider,
		Resource:    resource,
		Kind:        kind,
		Status:      JobStatusPending,
		SubmittedAt: time.Now(),
	}
}

// Validate checks that the job names a tenant, a known resource and a known kind
func (j *Job) Validate() error {
	if j == nil || j.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant is required", ErrInvalidJob)
	}
	if !j.Resource.IsValid() {
		return fmt.Errorf("%w: unknown resource %q", ErrInvalidJob, j.Resource)
	}
	if !j.Kind.IsValid() {
		return fmt.Errorf("%w: unknown run kind %q", ErrInvalidJob, j.Kind)
	}
	return nil
}

// QueueKey identifies equal queued jobs; at most one job per key waits in the queue
func (j *Job) QueueKey() string {
	return j.TenantID.String() + "/" + string(j.Resource) + "/" + string(j.Kind)
}

func (j *Job) start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

func (j *Job) finish(status JobStatus, res *RunResult, err error) {
	now := time.Now()
	j.Status = status
	j.CompletedAt = &now
	if err != nil {
		j.Error = err.Error()
	}
	if res != nil {
		runID := res.RunID
		j.RunID = &runID
		j.Pages = res.Pages
		j.Processed = res.Records.Processed()
		j.Failed = len(res.Records.Failed)
		j.Committed = res.Committed
	}
}
