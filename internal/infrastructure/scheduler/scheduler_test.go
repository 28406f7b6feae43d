package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmsync/backend/internal/domain/integration"
)

// blockingRunner blocks every run until release is closed, unless the job is a backfill
type blockingRunner struct {
	release chan struct{}
	started chan *Job
	calls   atomic.Int32
	result  func(job *Job) (*RunResult, error)
	once    sync.Once
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{}), started: make(chan *Job, 64)}
}

func (r *blockingRunner) Run(ctx context.Context, job *Job) (*RunResult, error) {
	r.calls.Add(1)
	r.started <- job
	if job.Kind != integration.RunKindBackfill {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ErrRunAborted
		}
	}
	if r.result != nil {
		return r.result(job)
	}
	return &RunResult{RunID: uuid.New(), Pages: 1}, nil
}

func (r *blockingRunner) unblock() {
	r.once.Do(func() { close(r.release) })
}

func newTestScheduler(t *testing.T, runner Runner, mutate ...func(*Config)) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.QueueSize = 4
	cfg.HistorySize = 3
	cfg.JobTimeout = 5 * time.Second
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg, runner, newTestLogger())
	require.NoError(t, err)
	return s
}

func waitStarted(t *testing.T, r *blockingRunner) *Job {
	t.Helper()
	select {
	case job := <-r.started:
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
		return nil
	}
}

func stopScheduler(t *testing.T, s *Scheduler) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
		{"zero history", func(c *Config) { c.HistorySize = 0 }},
		{"zero timeout", func(c *Config) { c.JobTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, newBlockingRunner(), newTestLogger())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestScheduler_SubmitWhenStopped(t *testing.T) {
	s := newTestScheduler(t, newBlockingRunner())
	err := s.SubmitJob(NewJob(uuid.New(), integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental))
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)
}

func TestScheduler_RejectsInvalidJob(t *testing.T) {
	s := newTestScheduler(t, newBlockingRunner())
	require.NoError(t, s.Start(context.Background()))
	defer stopScheduler(t, s)

	err := s.SubmitJob(NewJob(uuid.Nil, integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental))
	assert.ErrorIs(t, err, ErrInvalidJob)
	err = s.SubmitJob(NewJob(uuid.New(), integration.ProviderShipHero, "invoices", integration.RunKindIncremental))
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestScheduler_DedupesQueuedJobs(t *testing.T) {
	runner := newBlockingRunner()
	s := newTestScheduler(t, runner)
	require.NoError(t, s.Start(context.Background()))
	defer stopScheduler(t, s)
	defer runner.unblock()

	tenant := uuid.New()
	// Occupies the only worker
	_, err := s.Schedule(uuid.New(), integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
	require.NoError(t, err)
	waitStarted(t, runner)

	_, err = s.Schedule(tenant, integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
	require.NoError(t, err)
	_, err = s.Schedule(tenant, integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
	assert.ErrorIs(t, err, ErrJobAlreadyQueued)

	// A different kind for the same pair is a different job
	_, err = s.Schedule(tenant, integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIntegrity)
	assert.NoError(t, err)
}

func TestScheduler_QueueFull(t *testing.T) {
	runner := newBlockingRunner()
	s := newTestScheduler(t, runner, func(c *Config) { c.QueueSize = 1 })
	require.NoError(t, s.Start(context.Background()))
	defer stopScheduler(t, s)
	defer runner.unblock()

	_, err := s.Schedule(uuid.New(), integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
	require.NoError(t, err)
	waitStarted(t, runner)

	_, err = s.Schedule(uuid.New(), integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
	require.NoError(t, err)
	blocked := uuid.New()
	_, err = s.Schedule(blocked, integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
	assert.ErrorIs(t, err, ErrJobQueueFull)

	// A rejected job does not hold its dedupe slot
	runner.unblock()
	require.Eventually(t, func() bool {
		_, err := s.Schedule(blocked, integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_BackfillLaneIsIndependent(t *testing.T) {
	runner := newBlockingRunner()
	s := newTestScheduler(t, runner)
	require.NoError(t, s.Start(context.Background()))
	defer stopScheduler(t, s)
	defer runner.unblock()

	_, err := s.Schedule(uuid.New(), integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
	require.NoError(t, err)
	waitStarted(t, runner)

	backfill, err := s.Schedule(uuid.New(), integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindBackfill)
	require.NoError(t, err)
	started := waitStarted(t, runner)
	assert.Equal(t, backfill.ID, started.ID)

	require.Eventually(t, func() bool {
		h := s.GetJobHistory(0)
		return len(h) == 1 && h[0].ID == backfill.ID && h[0].Status == JobStatusSuccess
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_HistoryStatuses(t *testing.T) {
	runner := newBlockingRunner()
	tenant := uuid.New()
	runner.result = func(job *Job) (*RunResult, error) {
		switch job.Resource {
		case integration.ResourceProducts:
			return nil, integration.ErrAlreadyRunning
		case integration.ResourceInventory:
			return &RunResult{Pages: 2}, integration.ErrUnavailable
		default:
			return &RunResult{RunID: uuid.New(), Pages: 3, Committed: true, Records: integration.ReconcileResult{Created: 5}}, nil
		}
	}
	runner.unblock()
	s := newTestScheduler(t, runner)
	require.NoError(t, s.Start(context.Background()))
	defer stopScheduler(t, s)

	for _, r := range []integration.ResourceType{integration.ResourceOrders, integration.ResourceProducts, integration.ResourceInventory} {
		_, err := s.Schedule(tenant, integration.ProviderShipHero, r, integration.RunKindIncremental)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return len(s.GetJobHistory(0)) == 3 }, 2*time.Second, 10*time.Millisecond)

	history := s.GetJobHistoryByTenant(tenant, 10)
	require.Len(t, history, 3)
	// newest first
	assert.Equal(t, integration.ResourceInventory, history[0].Resource)
	assert.Equal(t, JobStatusFailed, history[0].Status)
	assert.NotEmpty(t, history[0].Error)
	assert.Equal(t, JobStatusSkipped, history[1].Status)
	assert.Equal(t, JobStatusSuccess, history[2].Status)
	assert.Equal(t, 5, history[2].Processed)
	assert.True(t, history[2].Committed)

	assert.Len(t, s.GetJobHistory(2), 2)
	assert.Empty(t, s.GetJobHistoryByTenant(uuid.New(), 10))
}

func TestScheduler_HistoryRingKeepsNewest(t *testing.T) {
	runner := newBlockingRunner()
	runner.unblock()
	s := newTestScheduler(t, runner)
	require.NoError(t, s.Start(context.Background()))
	defer stopScheduler(t, s)

	var last uuid.UUID
	for i := 0; i < 5; i++ {
		job, err := s.Schedule(uuid.New(), integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
		require.NoError(t, err)
		last = job.ID
		waitStarted(t, runner)
		require.Eventually(t, func() bool {
			h := s.GetJobHistory(1)
			return len(h) == 1 && h[0].ID == last
		}, 2*time.Second, 5*time.Millisecond)
	}

	history := s.GetJobHistory(0)
	assert.Len(t, history, 3)
	assert.Equal(t, last, history[0].ID)
}

func TestScheduler_StopCancelsRunningJobs(t *testing.T) {
	runner := newBlockingRunner()
	s := newTestScheduler(t, runner)
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Schedule(uuid.New(), integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
	require.NoError(t, err)
	waitStarted(t, runner)

	stopScheduler(t, s)
	assert.False(t, s.IsRunning())

	history := s.GetJobHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, JobStatusAborted, history[0].Status)

	// Stop is idempotent
	assert.NoError(t, s.Stop(context.Background()))
}

// pausingRunner waits inside a yielded slot for jobs of the rate limited tenant
type pausingRunner struct {
	limited uuid.UUID
	waiting chan struct{}
	resume  chan struct{}
	ran     chan uuid.UUID
}

func (r *pausingRunner) Run(ctx context.Context, job *Job) (*RunResult, error) {
	if job.TenantID == r.limited {
		err := yieldSlot(ctx, func() error {
			close(r.waiting)
			select {
			case <-r.resume:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			return nil, ErrRunAborted
		}
	}
	r.ran <- job.TenantID
	return &RunResult{RunID: uuid.New(), Pages: 1}, nil
}

func TestScheduler_RateLimitWaitFreesSlot(t *testing.T) {
	runner := &pausingRunner{
		limited: uuid.New(),
		waiting: make(chan struct{}),
		resume:  make(chan struct{}),
		ran:     make(chan uuid.UUID, 4),
	}
	s := newTestScheduler(t, runner)
	require.NoError(t, s.Start(context.Background()))
	defer stopScheduler(t, s)

	_, err := s.Schedule(runner.limited, integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
	require.NoError(t, err)
	select {
	case <-runner.waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("rate limited job did not start waiting")
	}

	// the only slot is free while the first tenant waits
	other := uuid.New()
	_, err = s.Schedule(other, integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIncremental)
	require.NoError(t, err)
	select {
	case tenant := <-runner.ran:
		assert.Equal(t, other, tenant)
	case <-time.After(2 * time.Second):
		t.Fatal("other tenant was starved by the rate limited job")
	}

	close(runner.resume)
	select {
	case tenant := <-runner.ran:
		assert.Equal(t, runner.limited, tenant)
	case <-time.After(2 * time.Second):
		t.Fatal("rate limited job did not resume")
	}
}

func TestScheduler_NotifiesFinishedJobs(t *testing.T) {
	runner := newBlockingRunner()
	runner.result = func(*Job) (*RunResult, error) { return nil, integration.ErrAlreadyRunning }
	runner.unblock()
	s := newTestScheduler(t, runner)

	finished := make(chan Job, 1)
	s.OnJobFinished(func(j Job) { finished <- j })
	require.NoError(t, s.Start(context.Background()))
	defer stopScheduler(t, s)

	job, err := s.Schedule(uuid.New(), integration.ProviderShipHero, integration.ResourceOrders, integration.RunKindIntegrity)
	require.NoError(t, err)

	select {
	case j := <-finished:
		assert.Equal(t, job.ID, j.ID)
		assert.Equal(t, JobStatusSkipped, j.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("observer was not called")
	}
}
