package integration

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/infrastructure/telemetry"
	"github.com/wmsync/backend/internal/infrastructure/wms"
	"go.uber.org/zap"
)

//go:embed schema/webhook_envelope.json
var webhookEnvelopeSchema []byte

const webhookEnvelopeSchemaURL = "webhook_envelope.json"

// Defaults applied when the service config leaves a knob unset
const (
	DefaultReconcileBudget = 3 * time.Second
	DefaultIdempotencyTTL  = 72 * time.Hour
	DefaultWebhookChunk    = 25
)

// WebhookSources resolves the webhook side of a provider adapter
type WebhookSources interface {
	WebhookSource(provider integration.ProviderID) (integration.WebhookSource, error)
}

// WebhookIngestService verifies, deduplicates and applies inbound webhook
// deliveries.
type WebhookIngestService struct {
	sources     WebhookSources
	connections integration.ConnectionProvider
	reconciler  integration.Reconciler
	idempotency shared.IdempotencyStore
	publisher   shared.EventPublisher
	metrics     *telemetry.SyncMetrics
	logger      *zap.Logger
	schema      *jsonschema.Schema

	budget    time.Duration
	ttl       time.Duration
	chunkSize int
	now       func() time.Time
}

// WebhookIngestServiceConfig contains the dependencies of WebhookIngestService
type WebhookIngestServiceConfig struct {
	Sources     WebhookSources
	Connections integration.ConnectionProvider
	Reconciler  integration.Reconciler
	Idempotency shared.IdempotencyStore
	// Publisher receives deferred work and follow-up events. It should not
	// block the caller.
	Publisher shared.EventPublisher
	Metrics   *telemetry.SyncMetrics
	Logger    *zap.Logger

	ReconcileBudget time.Duration
	IdempotencyTTL  time.Duration
	// ChunkSize is how many records are reconciled between budget checks
	ChunkSize int
	Clock     func() time.Time
}

// NewWebhookIngestService creates a new WebhookIngestService
func NewWebhookIngestService(cfg WebhookIngestServiceConfig) (*WebhookIngestService, error) {
	if cfg.Sources == nil || cfg.Connections == nil || cfg.Reconciler == nil || cfg.Idempotency == nil || cfg.Publisher == nil {
		return nil, errors.New("webhook ingest: sources, connections, reconciler, idempotency and publisher are required")
	}
	schema, err := compileEnvelopeSchema()
	if err != nil {
		return nil, err
	}

	s := &WebhookIngestService{
		sources:     cfg.Sources,
		connections: cfg.Connections,
		reconciler:  cfg.Reconciler,
		idempotency: cfg.Idempotency,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		schema:      schema,
		budget:      cfg.ReconcileBudget,
		ttl:         cfg.IdempotencyTTL,
		chunkSize:   cfg.ChunkSize,
		now:         cfg.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.budget <= 0 {
		s.budget = DefaultReconcileBudget
	}
	if s.ttl <= 0 {
		s.ttl = DefaultIdempotencyTTL
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultWebhookChunk
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func compileEnvelopeSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(webhookEnvelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("parse webhook envelope schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(webhookEnvelopeSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add webhook envelope schema: %w", err)
	}
	schema, err := c.Compile(webhookEnvelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile webhook envelope schema: %w", err)
	}
	return schema, nil
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

// Ingest processes one delivery. The returned result is never nil.
//
// Rejections (unknown provider, malformed envelope, unknown or inactive
// connection, bad signature, untranslatable payload) come back with status
// rejected and an error wrapping the cause. Any other error means the
// delivery was not applied and its idempotency marker was released, so a
// redelivery will be processed.
func (s *WebhookIngestService) Ingest(ctx context.Context, provider integration.ProviderID, header http.Header, body []byte) (*integration.IngestResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "webhook.Ingest", telemetry.AttrProvider.String(string(provider)))
	result := &integration.IngestResult{ReceivedAt: s.now().UTC()}

	err := s.ingest(ctx, provider, header, body, result)
	telemetry.EndSpan(span, err)
	s.metrics.RecordWebhook(ctx, string(provider), string(result.Status))
	return result, err
}

func (s *WebhookIngestService) ingest(ctx context.Context, provider integration.ProviderID, header http.Header, body []byte, result *integration.IngestResult) error {
	log := logger.L(ctx, s.logger).With(zap.String("provider", string(provider)))

	source, err := s.sources.WebhookSource(provider)
	if err != nil {
		return s.reject(log, result, err)
	}

	env, err := s.parseEnvelope(body)
	if err != nil {
		return s.reject(log, result, err)
	}
	log = log.With(
		zap.String("event_type", env.EventType),
		zap.String("event_id", env.EventID),
		zap.String("connection_id", env.ConnectionID),
	)

	conn, err := s.connections.FindByConnectionID(ctx, provider, env.ConnectionID)
	if err != nil {
		if errors.Is(err, integration.ErrConnectionNotFound) {
			return s.reject(log, result, err)
		}
		return fmt.Errorf("lookup connection: %w", err)
	}
	if !conn.IsActive() {
		return s.reject(log, result, fmt.Errorf("%w: state %s", integration.ErrConnectionInactive, conn.State))
	}
	log = log.With(zap.String("tenant_id", conn.TenantID.String()))

	if err := wms.VerifySignature(source.SignatureScheme(), conn.WebhookSecret, body, header); err != nil {
		return s.reject(log, result, err)
	}

	key := env.IdempotencyKey(provider)
	fresh, err := s.idempotency.MarkProcessed(ctx, key, s.ttl)
	if err != nil {
		// Reconciliation is idempotent, so a store outage only costs a
		// repeated apply.
		log.Warn("Idempotency store unavailable, processing without dedupe", zap.Error(err))
		fresh = true
	}
	if !fresh {
		result.Status = integration.IngestDuplicate
		log.Debug("Duplicate webhook delivery")
		return nil
	}

	resource, records, err := source.TranslateWebhook(env.EventType, env.Data)
	if err != nil {
		s.release(ctx, log, key)
		return s.reject(log, result, err)
	}
	if resource == "" || !conn.SyncsResource(resource) {
		result.Status = integration.IngestIgnored
		result.Reason = "event type not mirrored"
		result.Resource = resource
		log.Debug("Webhook event ignored")
		return nil
	}
	result.Resource = resource

	req := integration.ReconcileRequest{
		TenantID: conn.TenantID,
		Provider: provider,
		Resource: resource,
		Source:   integration.SourceWebhook,
		Records:  records,
	}
	done, rest, err := s.reconcileWithinBudget(ctx, req)
	result.Reconciled = done
	if err != nil {
		s.release(ctx, log, key)
		log.Error("Webhook reconciliation failed", zap.Error(err))
		return fmt.Errorf("reconcile webhook: %w", err)
	}

	if len(rest) > 0 {
		deferred := req
		deferred.Records = rest
		if err := s.publisher.Publish(ctx, integration.NewWebhookDeferredEvent(deferred, *env)); err != nil {
			s.release(ctx, log, key)
			log.Error("Failed to queue remaining webhook records", zap.Int("remaining", len(rest)), zap.Error(err))
			return fmt.Errorf("queue webhook remainder: %w", err)
		}
		result.Status = integration.IngestQueued
		log.Info("Webhook budget exhausted, remainder queued",
			zap.Int("reconciled", done.Total()),
			zap.Int("remaining", len(rest)),
		)
		return nil
	}

	result.Status = integration.IngestAccepted
	log.Info("Webhook reconciled",
		zap.String("resource", string(resource)),
		zap.Int("created", done.Created),
		zap.Int("updated", done.Updated),
		zap.Int("failed", len(done.Failed)),
	)
	s.followUp(ctx, log, conn, provider, *env, resource, done)
	return nil
}

func (s *WebhookIngestService) parseEnvelope(body []byte) (*integration.WebhookEnvelope, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: body is not JSON", integration.ErrWebhookRejected)
	}
	if err := s.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrWebhookRejected, err)
	}
	var env integration.WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrWebhookRejected, err)
	}
	return &env, nil
}

// reconcileWithinBudget applies records chunk by chunk until they run out
// or the budget is spent. Records not yet applied are returned.
func (s *WebhookIngestService) reconcileWithinBudget(ctx context.Context, req integration.ReconcileRequest) (integration.ReconcileResult, []integration.ExternalRecord, error) {
	var done integration.ReconcileResult
	deadline := s.now().Add(s.budget)
	records := req.Records
	for len(records) > 0 {
		if !s.now().Before(deadline) {
			return done, records, nil
		}
		n := min(s.chunkSize, len(records))
		chunk := req
		chunk.Records = records[:n]
		res, err := s.reconciler.Reconcile(ctx, chunk)
		done.Add(res)
		if err != nil {
			return done, records, err
		}
		records = records[n:]
	}
	return done, nil, nil
}

func (s *WebhookIngestService) reject(log *zap.Logger, result *integration.IngestResult, err error) error {
	result.Status = integration.IngestRejected
	result.Reason = err.Error()
	log.Warn("Webhook rejected", zap.Error(err))
	if errors.Is(err, integration.ErrWebhookRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", integration.ErrWebhookRejected, err)
}

func (s *WebhookIngestService) release(ctx context.Context, log *zap.Logger, key string) {
	if err := s.idempotency.Release(context.WithoutCancel(ctx), key); err != nil {
		log.Warn("Failed to release idempotency marker", zap.String("key", key), zap.Error(err))
	}
}

func (s *WebhookIngestService) followUp(ctx context.Context, log *zap.Logger, conn *integration.Connection, provider integration.ProviderID, env integration.WebhookEnvelope, resource integration.ResourceType, res integration.ReconcileResult) {
	ev := integration.NewWebhookReconciledEvent(conn.TenantID, provider, env, resource, res)
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Warn("Failed to publish webhook follow-up", zap.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Deferred deliveries
// ---------------------------------------------------------------------------

// EventTypes implements shared.EventHandler
func (s *WebhookIngestService) EventTypes() []string {
	return []string{integration.EventTypeWebhookDeferred}
}

// Handle finishes a delivery whose inline reconciliation ran out of budget.
// On failure the idempotency marker is released so the provider's
// redelivery is applied.
func (s *WebhookIngestService) Handle(ctx context.Context, event shared.DomainEvent) error {
	ev, ok := event.(*integration.WebhookDeferredEvent)
	if !ok {
		return nil
	}
	req := ev.Request
	log := logger.L(ctx, s.logger).With(
		zap.String("provider", string(req.Provider)),
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("event_id", ev.Envelope.EventID),
	)

	res, err := s.reconciler.Reconcile(ctx, req)
	if err != nil {
		s.release(ctx, log, ev.Envelope.IdempotencyKey(req.Provider))
		log.Error("Deferred webhook reconciliation failed", zap.Error(err))
		return err
	}

	log.Info("Deferred webhook reconciled",
		zap.String("resource", string(req.Resource)),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("failed", len(res.Failed)),
	)
	reconciled := integration.NewWebhookReconciledEvent(req.TenantID, req.Provider, ev.Envelope, req.Resource, res)
	if err := s.publisher.Publish(ctx, reconciled); err != nil {
		log.Warn("Failed to publish webhook follow-up", zap.Error(err))
	}
	return nil
}

var _ shared.EventHandler = (*WebhookIngestService)(nil)
