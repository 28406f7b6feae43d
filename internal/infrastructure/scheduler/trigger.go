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
)

// JobSubmitter accepts sync jobs
type JobSubmitter interface {
	SubmitJob(job *Job) error
}

// JobObserver is implemented by submitters that report finished jobs
type JobObserver interface {
	OnJobFinished(fn func(Job))
}

// ResourceCatalog reports which resources a provider can list
type ResourceCatalog interface {
	SupportedResources(provider integration.ProviderID) ([]integration.ResourceType, error)
}

// TriggerConfig holds configuration for the interval trigger
type TriggerConfig struct {
	IncrementalInterval time.Duration
	IntegrityInterval   time.Duration
	// CheckInterval is how often to check which pairs are due
	CheckInterval time.Duration
}

// DefaultTriggerConfig returns default trigger configuration
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		IncrementalInterval: 5 * time.Minute,
		IntegrityInterval:   6 * time.Hour,
		CheckInterval:       30 * time.Second,
	}
}

// TriggerConfigFrom maps the sync section of the application config
func TriggerConfigFrom(cfg config.SyncConfig) TriggerConfig {
	c := DefaultTriggerConfig()
	c.IncrementalInterval = cfg.IncrementalInterval
	c.IntegrityInterval = cfg.IntegrityInterval
	if cfg.IncrementalInterval < c.CheckInterval {
		c.CheckInterval = cfg.IncrementalInterval
	}
	return c
}

type dueKey struct {
	tenantID uuid.UUID
	resource integration.ResourceType
	kind     integration.RunKind
}

// IntervalTrigger submits incremental and integrity jobs for every active
// connection and every resource it syncs. Incremental jobs are due at once
// for a newly seen pair; integrity jobs after one full interval.
type IntervalTrigger struct {
	config      TriggerConfig
	submitter   JobSubmitter
	connections integration.ConnectionProvider
	catalog     ResourceCatalog
	logger      *zap.Logger
	now         func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   map[dueKey]time.Time
}

// NewIntervalTrigger creates a new interval trigger
func NewIntervalTrigger(
	config TriggerConfig,
	submitter JobSubmitter,
	connections integration.ConnectionProvider,
	catalog ResourceCatalog,
	logger *zap.Logger,
) (*IntervalTrigger, error) {
	if config.IncrementalInterval <= 0 || config.IntegrityInterval <= 0 || config.CheckInterval <= 0 {
		return nil, ErrInvalidConfig
	}
	t := &IntervalTrigger{
		config:      config,
		submitter:   submitter,
		connections: connections,
		catalog:     catalog,
		logger:      logger,
		now:         time.Now,
		lastRun:     make(map[dueKey]time.Time),
	}
	if obs, ok := submitter.(JobObserver); ok {
		obs.OnJobFinished(t.jobFinished)
	}
	return t, nil
}

// Start starts the trigger loop
func (t *IntervalTrigger) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Sync interval trigger started",
		zap.Duration("incremental_interval", t.config.IncrementalInterval),
		zap.Duration("integrity_interval", t.config.IntegrityInterval),
		zap.Duration("check_interval", t.config.CheckInterval),
	)
	return nil
}

// Stop stops the trigger loop
func (t *IntervalTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Sync interval trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *IntervalTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	t.Tick(ctx)

	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick submits every job that is due and returns how many were submitted
func (t *IntervalTrigger) Tick(ctx context.Context) int {
	conns, err := t.connections.ListActive(ctx)
	if err != nil {
		t.logger.Error("Failed to list active connections", zap.Error(err))
		return 0
	}

	now := t.now()
	seen := make(map[dueKey]struct{})
	submitted := 0

	for i := range conns {
		conn := &conns[i]
		if !conn.IsActive() {
			continue
		}
		resources, err := t.catalog.SupportedResources(conn.Provider)
		if err != nil {
			t.logger.Warn("Skipping connection with unknown provider",
				zap.String("tenant_id", conn.TenantID.String()),
				zap.String("provider", string(conn.Provider)),
				zap.Error(err),
			)
			continue
		}
		for _, resource := range resources {
			if !conn.SyncsResource(resource) {
				continue
			}
			for _, kind := range []integration.RunKind{integration.RunKindIncremental, integration.RunKindIntegrity} {
				key := dueKey{tenantID: conn.TenantID, resource: resource, kind: kind}
				seen[key] = struct{}{}
				if !t.due(key, now) {
					continue
				}
				if t.submit(conn, resource, kind) {
					t.mu.Lock()
					t.lastRun[key] = now
					t.mu.Unlock()
					submitted++
				}
			}
		}
	}

	t.forgetUnseen(seen)
	return submitted
}

func (t *IntervalTrigger) due(key dueKey, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastRun[key]
	if !ok {
		if key.kind == integration.RunKindIntegrity {
			t.lastRun[key] = now
			return false
		}
		return true
	}
	interval := t.config.IncrementalInterval
	if key.kind == integration.RunKindIntegrity {
		interval = t.config.IntegrityInterval
	}
	return now.Sub(last) >= interval
}

// submit reports whether the pair's interval should restart
func (t *IntervalTrigger) submit(conn *integration.Connection, resource integration.ResourceType, kind integration.RunKind) bool {
	job := NewJob(conn.TenantID, conn.Provider, resource, kind)
	err := t.submitter.SubmitJob(job)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrJobAlreadyQueued):
		t.logger.Debug("Sync job already queued",
			zap.String("tenant_id", conn.TenantID.String()),
			zap.String("resource", string(resource)),
			zap.String("run_kind", string(kind)),
		)
		return true
	default:
		t.logger.Warn("Failed to submit sync job",
			zap.String("tenant_id", conn.TenantID.String()),
			zap.String("resource", string(resource)),
			zap.String("run_kind", string(kind)),
			zap.Error(err),
		)
		return false
	}
}

// jobFinished makes an integrity job that was skipped, because another run
// held the pair's lock, due again on the next tick.
func (t *IntervalTrigger) jobFinished(job Job) {
	if job.Kind != integration.RunKindIntegrity || job.Status != JobStatusSkipped {
		return
	}
	key := dueKey{tenantID: job.TenantID, resource: job.Resource, kind: job.Kind}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lastRun[key]; ok {
		t.lastRun[key] = time.Time{}
	}
	t.logger.Debug("Integrity job skipped, resubmitting on next tick",
		zap.String("tenant_id", job.TenantID.String()),
		zap.String("resource", string(job.Resource)),
	)
}

// forgetUnseen drops pairs whose connection is no longer active
func (t *IntervalTrigger) forgetUnseen(seen map[dueKey]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.lastRun {
		if _, ok := seen[key]; !ok {
			delete(t.lastRun, key)
		}
	}
}
