package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when trying to submit a job to a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull is returned when the job queue is full
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrJobAlreadyQueued is returned when an equal job is still waiting in the queue
	ErrJobAlreadyQueued = errors.New("job already queued for this tenant/resource")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrInvalidJob is returned for jobs missing tenant, resource or kind
	ErrInvalidJob = errors.New("invalid sync job")

	// ---------------------------------------------------------------------------
	// Run Errors
	// ---------------------------------------------------------------------------

	// ErrRunAborted is returned when a run was cancelled and its lock released
	ErrRunAborted = errors.New("sync run aborted")

	// ErrRateLimitWaitsExhausted is returned when a run was rate limited more often than allowed
	ErrRateLimitWaitsExhausted = errors.New("sync run exceeded rate limit waits")

	// ErrUnavailableRetriesExhausted is returned when the provider stayed unavailable
	ErrUnavailableRetriesExhausted = errors.New("sync run exceeded unavailable retries")
)
