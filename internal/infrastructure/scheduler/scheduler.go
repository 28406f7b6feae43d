package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Runner executes a sync job
type Runner interface {
	Run(ctx context.Context, job *Job) (*RunResult, error)
}

// Config holds configuration for the scheduler
type Config struct {
	// Workers is the number of concurrent incremental/integrity/manual runs
	Workers int
	// QueueSize is the capacity of the job queue
	QueueSize int
	// HistorySize is the number of finished jobs kept for inspection
	HistorySize int
	// JobTimeout is the maximum time a job can run
	JobTimeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		QueueSize:   256,
		HistorySize: 200,
		JobTimeout:  30 * time.Minute,
	}
}

// ConfigFrom maps the sync section of the application config
func ConfigFrom(cfg config.SyncConfig) Config {
	return Config{
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
		HistorySize: cfg.HistorySize,
		JobTimeout:  cfg.JobTimeout,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Workers <= 0 || c.QueueSize <= 0 || c.HistorySize <= 0 {
		return ErrInvalidConfig
	}
	if c.JobTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Scheduler runs sync jobs with at most Workers running at once. Backfills
// go to a separate single-slot lane so a long backfill never starves
// incremental runs. A run that waits out a provider rate limit hands its
// slot back for the wait. Mutual exclusion per (tenant, resource) comes from
// the checkpoint lock; the scheduler only keeps equal jobs from piling up in
// the queue.
type Scheduler struct {
	config Config
	runner Runner
	logger *zap.Logger

	jobs      chan *Job
	backfills chan *Job
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool

	queuedMu sync.Mutex
	queued   map[string]uuid.UUID

	historyMu sync.RWMutex
	history   []Job
	next      int
	filled    bool

	observersMu sync.RWMutex
	observers   []func(Job)
}

// New creates a new scheduler
func New(config Config, runner Runner, logger *zap.Logger) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		config:  config,
		runner:  runner,
		logger:  logger,
		queued:  make(map[string]uuid.UUID),
		history: make([]Job, config.HistorySize),
	}, nil
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	s.jobs = make(chan *Job, s.config.QueueSize)
	s.backfills = make(chan *Job, s.config.QueueSize)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.dispatch(ctx, "sync", s.jobs, semaphore.NewWeighted(int64(s.config.Workers)))
	go s.dispatch(ctx, "backfill", s.backfills, semaphore.NewWeighted(1))

	s.logger.Info("Sync scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Duration("job_timeout", s.config.JobTimeout),
	)
	return nil
}

// Stop gracefully stops the scheduler. Running jobs are cancelled and
// release their locks; Stop waits for that until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	close(s.jobs)
	close(s.backfills)
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the scheduler accepts jobs
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// SubmitJob queues a job. ErrJobAlreadyQueued is returned when an equal
// job is still waiting; ErrJobQueueFull when there is no room.
func (s *Scheduler) SubmitJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return ErrSchedulerNotRunning
	}

	key := job.QueueKey()
	s.queuedMu.Lock()
	if _, ok := s.queued[key]; ok {
		s.queuedMu.Unlock()
		return ErrJobAlreadyQueued
	}
	s.queued[key] = job.ID
	s.queuedMu.Unlock()

	lane := s.jobs
	if job.Kind == integration.RunKindBackfill {
		lane = s.backfills
	}

	select {
	case lane <- job:
		s.logger.Debug("Sync job submitted",
			zap.String("job_id", job.ID.String()),
			zap.String("tenant_id", job.TenantID.String()),
			zap.String("resource", string(job.Resource)),
			zap.String("run_kind", string(job.Kind)),
		)
		return nil
	default:
		s.dequeued(job)
		return ErrJobQueueFull
	}
}

// Schedule creates and submits a job. The returned value is a snapshot
// taken at submission; the running job is only visible through history.
func (s *Scheduler) Schedule(tenantID uuid.UUID, provider integration.ProviderID, resource integration.ResourceType, kind integration.RunKind) (Job, error) {
	job := NewJob(tenantID, provider, resource, kind)
	snapshot := *job
	if err := s.SubmitJob(job); err != nil {
		return Job{}, err
	}
	return snapshot, nil
}

func (s *Scheduler) dequeued(job *Job) {
	s.queuedMu.Lock()
	defer s.queuedMu.Unlock()
	if id, ok := s.queued[job.QueueKey()]; ok && id == job.ID {
		delete(s.queued, job.QueueKey())
	}
}

// OnJobFinished registers fn to be called with a snapshot of every
// finished job, after it has been added to the history.
func (s *Scheduler) OnJobFinished(fn func(Job)) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

// dispatch takes jobs from one lane whenever one of its slots is free and
// runs each on its own goroutine. A job stays in the queue, and keeps its
// dedupe key, until a slot is available for it.
func (s *Scheduler) dispatch(ctx context.Context, laneName string, lane <-chan *Job, sem *semaphore.Weighted) {
	defer s.wg.Done()

	for seq := 0; ; seq++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			sem.Release(1)
			return
		case job, ok := <-lane:
			if !ok {
				sem.Release(1)
				return
			}
			s.dequeued(job)
			s.wg.Add(1)
			go func(seq int) {
				defer s.wg.Done()
				sl := &slot{sem: sem, held: true}
				defer sl.release()
				s.processJob(withSlot(ctx, sl), job, laneName, seq)
			}(seq)
		}
	}
}

// processJob executes a single job
func (s *Scheduler) processJob(ctx context.Context, job *Job, laneName string, seq int) {
	job.start()

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	res, err := s.runner.Run(jobCtx, job)
	fields := []zap.Field{
		zap.String("lane", laneName),
		zap.Int("seq", seq),
		zap.String("job_id", job.ID.String()),
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("resource", string(job.Resource)),
		zap.String("run_kind", string(job.Kind)),
	}

	switch {
	case err == nil:
		job.finish(JobStatusSuccess, res, nil)
	case errors.Is(err, integration.ErrAlreadyRunning):
		job.finish(JobStatusSkipped, nil, nil)
		s.logger.Info("Sync job skipped, run already in progress", fields...)
	case errors.Is(err, ErrRunAborted):
		job.finish(JobStatusAborted, res, err)
		s.logger.Info("Sync job aborted", append(fields, zap.Error(err))...)
	default:
		job.finish(JobStatusFailed, res, err)
		s.logger.Error("Sync job failed", append(fields, zap.Error(err))...)
	}

	s.addToHistory(job)
	s.notifyFinished(*job)
}

func (s *Scheduler) notifyFinished(job Job) {
	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()
	for _, fn := range observers {
		fn(job)
	}
}

// addToHistory stores a snapshot of a finished job in the history ring
func (s *Scheduler) addToHistory(job *Job) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history[s.next] = *job
	s.next = (s.next + 1) % len(s.history)
	if s.next == 0 {
		s.filled = true
	}
}

// GetJobHistory returns recent finished jobs, newest first
func (s *Scheduler) GetJobHistory(limit int) []Job {
	return s.collectHistory(limit, func(*Job) bool { return true })
}

// GetJobHistoryByTenant returns recent finished jobs of one tenant, newest first
func (s *Scheduler) GetJobHistoryByTenant(tenantID uuid.UUID, limit int) []Job {
	return s.collectHistory(limit, func(j *Job) bool { return j.TenantID == tenantID })
}

func (s *Scheduler) collectHistory(limit int, keep func(*Job) bool) []Job {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	size := s.next
	if s.filled {
		size = len(s.history)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	result := make([]Job, 0, limit)
	for i := 1; i <= size && len(result) < limit; i++ {
		idx := (s.next - i + len(s.history)) % len(s.history)
		if keep(&s.history[idx]) {
			result = append(result, s.history[idx])
		}
	}
	return result
}
