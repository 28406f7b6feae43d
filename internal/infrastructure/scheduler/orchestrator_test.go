package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmsync/backend/internal/domain/integration"
	"golang.org/x/sync/semaphore"
)

var runStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type orchestratorFixture struct {
	store      *memCheckpointStore
	fetcher    *scriptedFetcher
	reconciler *countingReconciler
	publisher  *recordingPublisher
	sleeper    *recordingSleeper
	orch       *Orchestrator
}

func newOrchestratorFixture(t *testing.T, fetcher *scriptedFetcher, mutate ...func(*OrchestratorConfig)) *orchestratorFixture {
	t.Helper()
	cfg := DefaultOrchestratorConfig()
	cfg.InitialBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 100 * time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}

	f := &orchestratorFixture{
		store:      newMemCheckpointStore(cfg.ErrorThreshold, func() time.Time { return runStart }),
		fetcher:    fetcher,
		reconciler: &countingReconciler{},
		publisher:  &recordingPublisher{},
		sleeper:    &recordingSleeper{},
	}
	orch, err := NewOrchestrator(cfg, f.store, f.fetcher, f.reconciler, newTestLogger(),
		WithEventPublisher(f.publisher),
		WithSleeper(f.sleeper.sleep),
	)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func productsJob(kind integration.RunKind) *Job {
	return NewJob(uuid.New(), integration.ProviderExtensiv, integration.ResourceProducts, kind)
}

func (f *orchestratorFixture) checkpoint(t *testing.T, job *Job) *integration.Checkpoint {
	t.Helper()
	cp, err := f.store.GetCheckpoint(context.Background(), job.TenantID, job.Resource)
	require.NoError(t, err)
	return cp
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

func TestOrchestratorConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*OrchestratorConfig)
	}{
		{"zero lookback", func(c *OrchestratorConfig) { c.InitialLookback = 0 }},
		{"zero threshold", func(c *OrchestratorConfig) { c.ErrorThreshold = 0 }},
		{"negative waits", func(c *OrchestratorConfig) { c.MaxRateLimitWaits = -1 }},
		{"max below initial backoff", func(c *OrchestratorConfig) { c.MaxBackoff = c.InitialBackoff / 2 }},
		{"zero release timeout", func(c *OrchestratorConfig) { c.ReleaseTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultOrchestratorConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := DefaultOrchestratorConfig()
	assert.NoError(t, cfg.Validate())
}

// ---------------------------------------------------------------------------
// Page loop
// ---------------------------------------------------------------------------

func TestOrchestrator_PaginatesAndCommits(t *testing.T) {
	f := newOrchestratorFixture(t, pagedFetcher(100, 100, 37))
	job := productsJob(integration.RunKindIncremental)

	res, err := f.orch.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 237, res.Records.Processed())
	assert.True(t, res.Committed)
	assert.Equal(t, []string{"", "c1", "c2"}, f.fetcher.seenCursors())
	assert.Equal(t, runStart.Add(-30*24*time.Hour), f.fetcher.firstWindow().From)
	assert.Equal(t, runStart, f.fetcher.firstWindow().To)

	cp := f.checkpoint(t, job)
	require.NotNil(t, cp.LastSyncAt)
	assert.Equal(t, runStart, *cp.LastSyncAt)
	assert.Equal(t, integration.RunStatusSuccess, cp.Status)
	assert.EqualValues(t, 237, cp.RecordsProcessed)
	assert.Equal(t, []string{integration.EventTypeSyncRunCompleted}, f.publisher.types())
}

func TestOrchestrator_IncrementalResumesFromCheckpoint(t *testing.T) {
	f := newOrchestratorFixture(t, pagedFetcher(5))
	job := productsJob(integration.RunKindIncremental)
	last := runStart.Add(-10 * time.Minute)
	f.store.put(integration.Checkpoint{
		TenantID: job.TenantID, Resource: job.Resource,
		Status: integration.RunStatusSuccess, LastSyncAt: &last,
	})

	_, err := f.orch.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, last, f.fetcher.firstWindow().From)
	assert.Equal(t, runStart, *f.checkpoint(t, job).LastSyncAt)
}

func TestOrchestrator_EmptyFirstPage(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedFetcher{fn: func(int, string) (*integration.Page, error) {
		return &integration.Page{Done: true}, nil
	}})
	job := productsJob(integration.RunKindIncremental)

	res, err := f.orch.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pages)
	assert.Zero(t, f.reconciler.calls.Load())
	assert.True(t, res.Committed)
}

func TestOrchestrator_PageWithoutCursorFails(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedFetcher{fn: func(int, string) (*integration.Page, error) {
		return &integration.Page{}, nil
	}})
	job := productsJob(integration.RunKindIncremental)

	_, err := f.orch.Run(context.Background(), job)
	require.ErrorIs(t, err, integration.ErrInvalidResponse)
	assert.Nil(t, f.checkpoint(t, job).LastSyncAt)
	assert.Equal(t, int32(1), f.store.failCalls.Load())
}

// ---------------------------------------------------------------------------
// Run kinds
// ---------------------------------------------------------------------------

func TestOrchestrator_IntegrityNeverAdvances(t *testing.T) {
	f := newOrchestratorFixture(t, pagedFetcher(10, 3))
	job := productsJob(integration.RunKindIntegrity)
	last := runStart.Add(-time.Hour)
	f.store.put(integration.Checkpoint{TenantID: job.TenantID, Resource: job.Resource, Status: integration.RunStatusSuccess, LastSyncAt: &last})

	res, err := f.orch.Run(context.Background(), job)
	require.NoError(t, err)

	assert.False(t, res.Committed)
	assert.Equal(t, int32(0), f.store.commitCalls.Load())
	assert.Equal(t, int32(1), f.store.completeCalls.Load())
	assert.Equal(t, last, *f.checkpoint(t, job).LastSyncAt)
	assert.Equal(t, runStart.Add(-72*time.Hour), f.fetcher.firstWindow().From)
	for _, src := range f.reconciler.sources {
		assert.Equal(t, integration.SourceIntegrity, src)
	}
}

func TestOrchestrator_Backfill(t *testing.T) {
	t.Run("commits when it advances the checkpoint", func(t *testing.T) {
		f := newOrchestratorFixture(t, pagedFetcher(4))
		job := productsJob(integration.RunKindBackfill)

		res, err := f.orch.Run(context.Background(), job)
		require.NoError(t, err)
		assert.True(t, res.Committed)
		assert.Equal(t, runStart.Add(-90*24*time.Hour), f.fetcher.firstWindow().From)
		assert.Equal(t, integration.SourceBackfill, f.reconciler.sources[0])
	})

	t.Run("completes without moving a newer checkpoint", func(t *testing.T) {
		f := newOrchestratorFixture(t, pagedFetcher(4))
		job := productsJob(integration.RunKindBackfill)
		ahead := runStart.Add(time.Minute)
		f.store.put(integration.Checkpoint{TenantID: job.TenantID, Resource: job.Resource, Status: integration.RunStatusSuccess, LastSyncAt: &ahead})

		res, err := f.orch.Run(context.Background(), job)
		require.NoError(t, err)
		assert.False(t, res.Committed)
		assert.Equal(t, int32(0), f.store.commitCalls.Load())
		assert.Equal(t, ahead, *f.checkpoint(t, job).LastSyncAt)
	})
}

// ---------------------------------------------------------------------------
// Rate limits and unavailability
// ---------------------------------------------------------------------------

func TestOrchestrator_RateLimitWaitsAndResumesSameCursor(t *testing.T) {
	limited := false
	base := pagedFetcher(100, 100, 37)
	f := newOrchestratorFixture(t, &scriptedFetcher{fn: func(call int, cursor string) (*integration.Page, error) {
		if cursor == "c1" && !limited {
			limited = true
			return nil, integration.NewRateLimitedError(5*time.Second, "credits exhausted")
		}
		return base.fn(call, cursor)
	}})
	job := productsJob(integration.RunKindIncremental)

	res, err := f.orch.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{5 * time.Second}, f.sleeper.durations())
	assert.Equal(t, []string{"", "c1", "c1", "c2"}, f.fetcher.seenCursors())
	assert.Equal(t, 1, res.RateLimitWaits)
	assert.Equal(t, 237, res.Records.Processed())
	assert.EqualValues(t, 237, f.reconciler.records.Load())
}

func TestOrchestrator_RateLimitWaitReleasesSlot(t *testing.T) {
	limited := false
	base := pagedFetcher(100, 37)
	fetcher := &scriptedFetcher{fn: func(call int, cursor string) (*integration.Page, error) {
		if cursor == "c1" && !limited {
			limited = true
			return nil, integration.NewRateLimitedError(5*time.Second, "credits exhausted")
		}
		return base.fn(call, cursor)
	}}
	sem := semaphore.NewWeighted(1)
	require.NoError(t, sem.Acquire(context.Background(), 1))
	sl := &slot{sem: sem, held: true}

	var freeDuringWait []bool
	cfg := DefaultOrchestratorConfig()
	orch, err := NewOrchestrator(cfg, newMemCheckpointStore(cfg.ErrorThreshold, func() time.Time { return runStart }),
		fetcher, &countingReconciler{}, newTestLogger(),
		WithSleeper(func(ctx context.Context, _ time.Duration) error {
			free := sem.TryAcquire(1)
			if free {
				sem.Release(1)
			}
			freeDuringWait = append(freeDuringWait, free)
			return ctx.Err()
		}),
	)
	require.NoError(t, err)

	_, err = orch.Run(withSlot(context.Background(), sl), productsJob(integration.RunKindIncremental))
	require.NoError(t, err)

	assert.Equal(t, []bool{true}, freeDuringWait, "the slot is free while waiting")
	assert.True(t, sl.held, "the slot is taken back after the wait")
	assert.False(t, sem.TryAcquire(1))
}

func TestOrchestrator_RateLimitWaitsExhausted(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedFetcher{fn: func(int, string) (*integration.Page, error) {
		return nil, integration.NewRateLimitedError(time.Second, "")
	}}, func(c *OrchestratorConfig) { c.MaxRateLimitWaits = 2 })
	job := productsJob(integration.RunKindIncremental)

	_, err := f.orch.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrRateLimitWaitsExhausted)
	assert.ErrorIs(t, err, integration.ErrRateLimited)

	assert.Len(t, f.sleeper.durations(), 2)
	cp := f.checkpoint(t, job)
	assert.Nil(t, cp.LastSyncAt)
	assert.Equal(t, integration.RunStatusRetrying, cp.Status)
	assert.Equal(t, 1, cp.ConsecutiveErrors)
}

func TestOrchestrator_UnavailableEscalation(t *testing.T) {
	t.Run("first retry is immediate then backs off", func(t *testing.T) {
		f := newOrchestratorFixture(t, &scriptedFetcher{fn: func(call int, _ string) (*integration.Page, error) {
			if call <= 3 {
				return nil, integration.ErrUnavailable
			}
			return pageOf(0, 7, true), nil
		}})
		job := productsJob(integration.RunKindIncremental)

		res, err := f.orch.Run(context.Background(), job)
		require.NoError(t, err)
		assert.Equal(t, 7, res.Records.Processed())

		waits := f.sleeper.durations()
		require.Len(t, waits, 2)
		for _, w := range waits {
			assert.Greater(t, w, time.Duration(0))
			assert.LessOrEqual(t, w, 100*time.Millisecond)
		}
	})

	t.Run("success resets the counter", func(t *testing.T) {
		f := newOrchestratorFixture(t, &scriptedFetcher{fn: func(call int, cursor string) (*integration.Page, error) {
			switch call {
			case 1, 3:
				return nil, integration.ErrUnavailable
			case 2:
				return pageOf(0, 1, false), nil
			default:
				return pageOf(1, 1, true), nil
			}
		}}, func(c *OrchestratorConfig) { c.MaxUnavailableRetries = 1 })
		job := productsJob(integration.RunKindIncremental)

		_, err := f.orch.Run(context.Background(), job)
		require.NoError(t, err)
		assert.Empty(t, f.sleeper.durations())
	})

	t.Run("exhaustion fails the run", func(t *testing.T) {
		f := newOrchestratorFixture(t, &scriptedFetcher{fn: func(int, string) (*integration.Page, error) {
			return nil, integration.ErrUnavailable
		}}, func(c *OrchestratorConfig) { c.MaxUnavailableRetries = 3 })
		job := productsJob(integration.RunKindIncremental)

		_, err := f.orch.Run(context.Background(), job)
		require.ErrorIs(t, err, ErrUnavailableRetriesExhausted)
		assert.Equal(t, int32(4), f.fetcher.calls.Load())
		assert.Len(t, f.sleeper.durations(), 2)
		assert.Equal(t, int32(1), f.store.failCalls.Load())
	})
}

func TestOrchestrator_RequestRejectedFailsImmediately(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedFetcher{fn: func(int, string) (*integration.Page, error) {
		return nil, integration.ErrRequestRejected
	}})
	job := productsJob(integration.RunKindIncremental)

	_, err := f.orch.Run(context.Background(), job)
	require.ErrorIs(t, err, integration.ErrRequestRejected)
	assert.Equal(t, int32(1), f.fetcher.calls.Load())
	assert.Contains(t, f.publisher.types(), integration.EventTypeSyncRunFailed)
}

// ---------------------------------------------------------------------------
// Locking, cancellation, escalation
// ---------------------------------------------------------------------------

func TestOrchestrator_AlreadyRunning(t *testing.T) {
	f := newOrchestratorFixture(t, pagedFetcher(1))
	job := productsJob(integration.RunKindIncremental)
	f.store.put(integration.Checkpoint{TenantID: job.TenantID, Resource: job.Resource, Status: integration.RunStatusRunning})

	res, err := f.orch.Run(context.Background(), job)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, integration.ErrAlreadyRunning)
	assert.Zero(t, f.fetcher.calls.Load())
	assert.Equal(t, int32(0), f.store.failCalls.Load())
}

func TestOrchestrator_CancellationReleasesLock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newOrchestratorFixture(t, pagedFetcher(100, 100, 37))
	f.reconciler.hook = func(call int) error {
		if call == 2 {
			cancel()
			return context.Canceled
		}
		return nil
	}
	job := productsJob(integration.RunKindIncremental)

	_, err := f.orch.Run(ctx, job)
	require.ErrorIs(t, err, ErrRunAborted)
	assert.ErrorIs(t, err, context.Canceled)

	cp := f.checkpoint(t, job)
	assert.Nil(t, cp.LastSyncAt)
	assert.Equal(t, integration.RunStatusIdle, cp.Status)
	assert.Zero(t, cp.ConsecutiveErrors)
	assert.Equal(t, int32(1), f.store.abortCalls.Load())
	assert.Equal(t, int32(0), f.store.commitCalls.Load())

	// The lock is free again
	_, err = f.orch.Run(context.Background(), job)
	assert.NoError(t, err)
}

func TestOrchestrator_ErrorThreshold(t *testing.T) {
	failing := &scriptedFetcher{fn: func(int, string) (*integration.Page, error) {
		return nil, errors.New("boom")
	}}
	f := newOrchestratorFixture(t, failing, func(c *OrchestratorConfig) { c.ErrorThreshold = 2 })
	job := productsJob(integration.RunKindIncremental)

	_, err := f.orch.Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, integration.RunStatusRetrying, f.checkpoint(t, job).Status)
	assert.NotContains(t, f.publisher.types(), integration.EventTypeSyncErrorThresholdReached)

	_, err = f.orch.Run(context.Background(), job)
	require.Error(t, err)
	cp := f.checkpoint(t, job)
	assert.Equal(t, integration.RunStatusError, cp.Status)
	assert.Equal(t, 2, cp.ConsecutiveErrors)
	assert.Contains(t, f.publisher.types(), integration.EventTypeSyncErrorThresholdReached)

	// The next trigger still runs and recovers
	f.fetcher.fn = pagedFetcher(3).fn
	_, err = f.orch.Run(context.Background(), job)
	require.NoError(t, err)
	cp = f.checkpoint(t, job)
	assert.Equal(t, integration.RunStatusSuccess, cp.Status)
	assert.Zero(t, cp.ConsecutiveErrors)
}
