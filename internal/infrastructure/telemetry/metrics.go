package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of the sync metrics
const MeterName = "github.com/wmsync/backend/sync"

// ErrMeterNil is returned when no meter is supplied
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// Attribute keys shared by the sync instruments
const (
	AttrResource = attribute.Key("sync.resource")
	AttrRunKind  = attribute.Key("sync.run_kind")
	AttrOutcome  = attribute.Key("sync.outcome")
	AttrProvider = attribute.Key("wms.provider")
	AttrSource   = attribute.Key("sync.source")
	AttrStatus   = attribute.Key("webhook.status")
)

// Run outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeAborted = "aborted"
	OutcomeSkipped = "skipped"
)

// RecordCounts is a per-outcome tally of a reconciled batch
type RecordCounts struct {
	Created   int
	Updated   int
	Unchanged int
	Stale     int
	Failed    int
}

// SyncMetrics are the instruments recorded by the orchestrator, the
// reconciler and the webhook ingest path.
type SyncMetrics struct {
	runs            metric.Int64Counter
	runDuration     metric.Float64Histogram
	records         metric.Int64Counter
	pages           metric.Int64Counter
	rateLimitWaits  metric.Int64Counter
	rateLimitWaited metric.Float64Counter
	webhooks        metric.Int64Counter
}

// NewSyncMetrics creates the instruments on meter
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	m := &SyncMetrics{}
	var err error

	if m.runs, err = meter.Int64Counter("wmsync.sync.runs",
		metric.WithDescription("Sync runs by outcome"),
		metric.WithUnit("{run}")); err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}
	if m.runDuration, err = meter.Float64Histogram("wmsync.sync.run.duration",
		metric.WithDescription("Sync run wall time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600)); err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}
	if m.records, err = meter.Int64Counter("wmsync.sync.records",
		metric.WithDescription("Reconciled records by outcome"),
		metric.WithUnit("{record}")); err != nil {
		return nil, fmt.Errorf("failed to create records counter: %w", err)
	}
	if m.pages, err = meter.Int64Counter("wmsync.sync.pages",
		metric.WithDescription("Pages fetched from providers"),
		metric.WithUnit("{page}")); err != nil {
		return nil, fmt.Errorf("failed to create pages counter: %w", err)
	}
	if m.rateLimitWaits, err = meter.Int64Counter("wmsync.sync.rate_limit.waits",
		metric.WithDescription("Waits caused by provider rate or credit limits"),
		metric.WithUnit("{wait}")); err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}
	if m.rateLimitWaited, err = meter.Float64Counter("wmsync.sync.rate_limit.waited",
		metric.WithDescription("Time spent waiting on provider rate limits"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create rate limit time counter: %w", err)
	}
	if m.webhooks, err = meter.Int64Counter("wmsync.webhook.deliveries",
		metric.WithDescription("Webhook deliveries by ingest status"),
		metric.WithUnit("{delivery}")); err != nil {
		return nil, fmt.Errorf("failed to create webhook counter: %w", err)
	}
	return m, nil
}

// RecordRun counts a finished run and its duration
func (m *SyncMetrics) RecordRun(ctx context.Context, resource, kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrResource.String(resource), AttrRunKind.String(kind), AttrOutcome.String(outcome))
	m.runs.Add(ctx, 1, attrs)
	if outcome != OutcomeSkipped {
		m.runDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordPage counts one fetched page
func (m *SyncMetrics) RecordPage(ctx context.Context, provider, resource string) {
	if m == nil {
		return
	}
	m.pages.Add(ctx, 1, metric.WithAttributes(AttrProvider.String(provider), AttrResource.String(resource)))
}

// RecordRecords counts reconciled records per outcome
func (m *SyncMetrics) RecordRecords(ctx context.Context, resource, source string, c RecordCounts) {
	if m == nil {
		return
	}
	for outcome, n := range map[string]int{
		"created":   c.Created,
		"updated":   c.Updated,
		"unchanged": c.Unchanged,
		"stale":     c.Stale,
		"failed":    c.Failed,
	} {
		if n == 0 {
			continue
		}
		m.records.Add(ctx, int64(n), metric.WithAttributes(
			AttrResource.String(resource), AttrSource.String(source), AttrOutcome.String(outcome)))
	}
}

// RecordRateLimitWait counts one wait of d
func (m *SyncMetrics) RecordRateLimitWait(ctx context.Context, resource string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(AttrResource.String(resource))
	m.rateLimitWaits.Add(ctx, 1, attrs)
	m.rateLimitWaited.Add(ctx, d.Seconds(), attrs)
}

// RecordWebhook counts one webhook delivery by provider and ingest status
func (m *SyncMetrics) RecordWebhook(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	m.webhooks.Add(ctx, 1, metric.WithAttributes(AttrProvider.String(provider), AttrStatus.String(status)))
}
