package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/infrastructure/config"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// OrchestratorConfig
// ---------------------------------------------------------------------------

// OrchestratorConfig holds the window and retry policy of sync runs
type OrchestratorConfig struct {
	// InitialLookback is the incremental window start when a checkpoint has never advanced
	InitialLookback time.Duration
	// IntegrityLookback is the length of the integrity re-scan window
	IntegrityLookback time.Duration
	// BackfillWindow is the length of the backfill window
	BackfillWindow time.Duration
	// ErrorThreshold is the consecutive failure count that escalates to status error
	ErrorThreshold int
	// MaxRateLimitWaits bounds how often one run may wait on a rate limit
	MaxRateLimitWaits int
	// MaxUnavailableRetries bounds consecutive unavailable retries of one page
	MaxUnavailableRetries int
	// InitialBackoff and MaxBackoff shape the unavailable escalation
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// ReleaseTimeout bounds the detached lock release after cancellation
	ReleaseTimeout time.Duration
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		InitialLookback:       30 * 24 * time.Hour,
		IntegrityLookback:     72 * time.Hour,
		BackfillWindow:        90 * 24 * time.Hour,
		ErrorThreshold:        5,
		MaxRateLimitWaits:     20,
		MaxUnavailableRetries: 5,
		InitialBackoff:        time.Second,
		MaxBackoff:            2 * time.Minute,
		ReleaseTimeout:        10 * time.Second,
	}
}

// OrchestratorConfigFrom maps the sync section of the application config
func OrchestratorConfigFrom(cfg config.SyncConfig) OrchestratorConfig {
	c := DefaultOrchestratorConfig()
	c.InitialLookback = cfg.InitialLookback
	c.IntegrityLookback = cfg.IntegrityLookback
	c.BackfillWindow = cfg.BackfillWindow
	c.ErrorThreshold = cfg.ErrorThreshold
	c.MaxRateLimitWaits = cfg.MaxRateLimitWaits
	c.MaxUnavailableRetries = cfg.MaxUnavailableRetries
	c.InitialBackoff = cfg.InitialBackoff
	c.MaxBackoff = cfg.MaxBackoff
	return c
}

// Validate validates the configuration
func (c *OrchestratorConfig) Validate() error {
	if c.InitialLookback <= 0 || c.IntegrityLookback <= 0 || c.BackfillWindow <= 0 {
		return ErrInvalidConfig
	}
	if c.ErrorThreshold <= 0 {
		return ErrInvalidConfig
	}
	if c.MaxRateLimitWaits < 0 || c.MaxUnavailableRetries < 0 {
		return ErrInvalidConfig
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return ErrInvalidConfig
	}
	if c.ReleaseTimeout <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunResult
// ---------------------------------------------------------------------------

// RunResult summarises one finished run
type RunResult struct {
	RunID          uuid.UUID
	Kind           integration.RunKind
	Window         integration.FetchWindow
	Pages          int
	Records        integration.ReconcileResult
	RateLimitWaits int
	// Committed is true when the run advanced last_sync_at
	Committed bool
	Duration  time.Duration
}

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// Orchestrator executes sync runs: it takes the checkpoint lock, walks the
// provider's pages in cursor order, reconciles each page and settles the
// checkpoint. It is the only place that waits on rate limits or backs off.
type Orchestrator struct {
	cfg         OrchestratorConfig
	checkpoints integration.CheckpointStore
	fetcher     integration.FetchClient
	reconciler  integration.Reconciler
	publisher   shared.EventPublisher
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger
	sleep       Sleeper
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithEventPublisher publishes run events to p
func WithEventPublisher(p shared.EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics records run metrics
func WithMetrics(m *telemetry.SyncMetrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleeper replaces the wait used for rate limits and backoff
func WithSleeper(s Sleeper) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = s }
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	cfg OrchestratorConfig,
	checkpoints integration.CheckpointStore,
	fetcher integration.FetchClient,
	reconciler integration.Reconciler,
	logger *zap.Logger,
	opts ...OrchestratorOption,
) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		cfg:         cfg,
		checkpoints: checkpoints,
		fetcher:     fetcher,
		reconciler:  reconciler,
		logger:      logger,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes one job. ErrAlreadyRunning is returned unchanged when another
// run holds the lock; callers treat it as a skip.
func (o *Orchestrator) Run(ctx context.Context, job *Job) (*RunResult, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	token, err := o.checkpoints.BeginRun(ctx, job.TenantID, job.Resource, job.Kind)
	if err != nil {
		if errors.Is(err, integration.ErrAlreadyRunning) {
			o.metrics.RecordRun(ctx, string(job.Resource), string(job.Kind), telemetry.OutcomeSkipped, 0)
		}
		return nil, err
	}

	ctx = logger.WithTenantID(ctx, token.TenantID.String())
	ctx = logger.WithRunID(ctx, token.RunID.String())
	ctx, span := telemetry.StartSpan(ctx, "sync.run",
		attribute.String("tenant.id", token.TenantID.String()),
		telemetry.AttrResource.String(string(token.Resource)),
		telemetry.AttrRunKind.String(string(token.Kind)),
		telemetry.AttrProvider.String(string(job.Provider)),
	)
	log := logger.L(ctx, o.logger).With(
		zap.String("resource", string(token.Resource)),
		zap.String("run_kind", string(token.Kind)),
		zap.String("provider", string(job.Provider)),
	)

	res, err := o.execute(ctx, log, job, token)
	telemetry.EndSpan(span, err)
	return res, err
}

func (o *Orchestrator) execute(ctx context.Context, log *zap.Logger, job *Job, token integration.RunToken) (*RunResult, error) {
	started := time.Now()
	res := &RunResult{RunID: token.RunID, Kind: token.Kind}

	cp, err := o.checkpoints.GetCheckpoint(ctx, token.TenantID, token.Resource)
	if err != nil {
		return res, o.settle(ctx, log, token, res, fmt.Errorf("load checkpoint: %w", err))
	}
	res.Window, err = o.windowFor(token, cp)
	if err != nil {
		return res, o.fail(ctx, log, token, res, err)
	}

	log.Info("Sync run started",
		zap.Time("window_from", res.Window.From),
		zap.Time("window_to", res.Window.To),
	)

	if err := o.walkPages(ctx, log, job, token, res); err != nil {
		return res, o.settle(ctx, log, token, res, err)
	}
	if ctx.Err() != nil {
		return res, o.abort(ctx, log, token, res, ctx.Err())
	}

	processed := int64(res.Records.Processed())
	if token.Kind.AdvancesCheckpoint() && (cp.LastSyncAt == nil || token.StartedAt.After(*cp.LastSyncAt)) {
		err = o.checkpoints.CommitRun(ctx, token, token.StartedAt, processed)
		res.Committed = err == nil
	} else {
		err = o.checkpoints.CompleteRun(ctx, token, processed)
	}
	res.Duration = time.Since(started)

	switch {
	case err == nil:
	case errors.Is(err, integration.ErrCheckpointRegression):
		// The store has already released the run with status error.
		log.Error("Checkpoint regression refused", zap.Time("last_sync_at", token.StartedAt), zap.Error(err))
		o.metrics.RecordRun(ctx, string(token.Resource), string(token.Kind), telemetry.OutcomeFailed, res.Duration)
		return res, err
	case errors.Is(err, integration.ErrStaleRunToken):
		log.Warn("Run lost its lock before settling", zap.Error(err))
		o.metrics.RecordRun(ctx, string(token.Resource), string(token.Kind), telemetry.OutcomeAborted, res.Duration)
		return res, err
	default:
		return res, o.fail(ctx, log, token, res, fmt.Errorf("settle checkpoint: %w", err))
	}

	o.metrics.RecordRun(ctx, string(token.Resource), string(token.Kind), telemetry.OutcomeSuccess, res.Duration)
	o.publish(ctx, log, integration.NewSyncRunCompletedEvent(token, res.Records, res.Pages, res.Duration))

	log.Info("Sync run completed",
		zap.Int("pages", res.Pages),
		zap.Int("created", res.Records.Created),
		zap.Int("updated", res.Records.Updated),
		zap.Int("unchanged", res.Records.Unchanged),
		zap.Int("stale", res.Records.Stale),
		zap.Int("failed", len(res.Records.Failed)),
		zap.Bool("committed", res.Committed),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// windowFor computes the fetch window of a run from its kind and checkpoint
func (o *Orchestrator) windowFor(token integration.RunToken, cp *integration.Checkpoint) (integration.FetchWindow, error) {
	to := token.StartedAt
	var from time.Time
	switch token.Kind {
	case integration.RunKindIntegrity:
		from = to.Add(-o.cfg.IntegrityLookback)
	case integration.RunKindBackfill:
		from = to.Add(-o.cfg.BackfillWindow)
	default:
		from = to.Add(-o.cfg.InitialLookback)
		if !cp.IsEmpty() {
			from = *cp.LastSyncAt
		}
		// Clock skew between processes can put the checkpoint ahead of this run.
		if from.After(to) {
			from = to
		}
	}
	return integration.NewFetchWindow(from, to)
}

// walkPages fetches and reconciles pages until the provider reports done
func (o *Orchestrator) walkPages(ctx context.Context, log *zap.Logger, job *Job, token integration.RunToken, res *RunResult) error {
	bo := o.newBackoff()
	source := integration.SourceForRun(token.Kind)
	cursor := ""
	unavailable := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := o.fetcher.FetchPage(ctx, token.TenantID, token.Resource, res.Window, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			if d, ok := integration.RetryAfterOf(err); ok {
				res.RateLimitWaits++
				if res.RateLimitWaits > o.cfg.MaxRateLimitWaits {
					return fmt.Errorf("%w: %w", ErrRateLimitWaitsExhausted, err)
				}
				log.Info("Rate limited, waiting before refetching page",
					zap.Duration("retry_after", d),
					zap.Int("wait", res.RateLimitWaits),
				)
				o.metrics.RecordRateLimitWait(ctx, string(token.Resource), d)
				if err := o.pause(ctx, d); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, integration.ErrUnavailable) {
				unavailable++
				if unavailable > o.cfg.MaxUnavailableRetries {
					return fmt.Errorf("%w: %w", ErrUnavailableRetriesExhausted, err)
				}
				if unavailable == 1 {
					log.Warn("Provider unavailable, retrying page", zap.Error(err))
					continue
				}
				wait := bo.NextBackOff()
				log.Warn("Provider still unavailable, backing off",
					zap.Int("attempt", unavailable),
					zap.Duration("backoff", wait),
					zap.Error(err),
				)
				if err := o.pause(ctx, wait); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("fetch page %d: %w", res.Pages+1, err)
		}

		unavailable = 0
		bo.Reset()
		res.Pages++
		o.metrics.RecordPage(ctx, string(job.Provider), string(token.Resource))

		if len(page.Records) > 0 {
			batch, err := o.reconciler.Reconcile(ctx, integration.ReconcileRequest{
				TenantID: token.TenantID,
				Provider: job.Provider,
				Resource: token.Resource,
				Source:   source,
				Records:  page.Records,
			})
			if err != nil {
				return fmt.Errorf("reconcile page %d: %w", res.Pages, err)
			}
			res.Records.Add(batch)
		}

		log.Debug("Processed page",
			zap.Int("page", res.Pages),
			zap.Int("records", len(page.Records)),
			zap.Int("processed_so_far", res.Records.Processed()),
		)

		if page.Done {
			return nil
		}
		if page.NextCursor == "" || page.NextCursor == cursor {
			return fmt.Errorf("%w: page %d has no next cursor", integration.ErrInvalidResponse, res.Pages)
		}
		cursor = page.NextCursor
	}
}

// pause sleeps for d. A scheduled run gives its slot back meanwhile so
// other pairs keep running.
func (o *Orchestrator) pause(ctx context.Context, d time.Duration) error {
	return yieldSlot(ctx, func() error { return o.sleep(ctx, d) })
}

func (o *Orchestrator) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.InitialBackoff
	bo.MaxInterval = o.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// settle aborts the run if ctx was cancelled and fails it otherwise
func (o *Orchestrator) settle(ctx context.Context, log *zap.Logger, token integration.RunToken, res *RunResult, err error) error {
	if ctx.Err() != nil {
		return o.abort(ctx, log, token, res, err)
	}
	return o.fail(ctx, log, token, res, err)
}

// fail records a failed run and escalates when the threshold is reached
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, token integration.RunToken, res *RunResult, runErr error) error {
	settleCtx, cancel := o.detached(ctx)
	defer cancel()

	res.Duration = time.Since(token.StartedAt)
	o.metrics.RecordRun(ctx, string(token.Resource), string(token.Kind), telemetry.OutcomeFailed, res.Duration)

	cp, err := o.checkpoints.FailRun(settleCtx, token, runErr)
	if err != nil {
		log.Error("Failed to record failed run", zap.NamedError("run_error", runErr), zap.Error(err))
		return runErr
	}

	log.Warn("Sync run failed",
		zap.Int("pages", res.Pages),
		zap.Int("consecutive_errors", cp.ConsecutiveErrors),
		zap.String("status", string(cp.Status)),
		zap.Error(runErr),
	)
	o.publish(settleCtx, log, integration.NewSyncRunFailedEvent(token, runErr, cp.ConsecutiveErrors))

	if cp.Status == integration.RunStatusError && cp.ConsecutiveErrors >= o.cfg.ErrorThreshold {
		log.Error("Sync error threshold reached",
			zap.Int("consecutive_errors", cp.ConsecutiveErrors),
			zap.Int("threshold", o.cfg.ErrorThreshold),
			zap.String("last_error", cp.LastError),
		)
		o.publish(settleCtx, log, integration.NewSyncErrorThresholdReachedEvent(token, cp))
	}
	return runErr
}

// abort releases the lock of a cancelled run; nothing is committed
func (o *Orchestrator) abort(ctx context.Context, log *zap.Logger, token integration.RunToken, res *RunResult, cause error) error {
	releaseCtx, cancel := o.detached(ctx)
	defer cancel()

	res.Duration = time.Since(token.StartedAt)
	o.metrics.RecordRun(releaseCtx, string(token.Resource), string(token.Kind), telemetry.OutcomeAborted, res.Duration)

	if err := o.checkpoints.AbortRun(releaseCtx, token); err != nil {
		log.Error("Failed to release aborted run", zap.Error(err))
	} else {
		log.Info("Sync run aborted", zap.Int("pages", res.Pages), zap.NamedError("cause", cause))
	}
	return fmt.Errorf("%w: %w", ErrRunAborted, cause)
}

func (o *Orchestrator) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ReleaseTimeout)
}

func (o *Orchestrator) publish(ctx context.Context, log *zap.Logger, ev shared.DomainEvent) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, ev); err != nil {
		log.Warn("Failed to publish sync event", zap.String("event_type", ev.EventType()), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
