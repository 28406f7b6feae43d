package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/infrastructure/scheduler"
	"go.uber.org/zap"
)

// Failure listing bounds
const (
	DefaultFailureLimit = 100
	MaxFailureLimit     = 500
)

// JobScheduler queues sync jobs
type JobScheduler interface {
	Schedule(tenantID uuid.UUID, provider integration.ProviderID, resource integration.ResourceType, kind integration.RunKind) (scheduler.Job, error)
}

// ShippingAddressWriter forwards address changes to the tenant's provider
type ShippingAddressWriter interface {
	UpdateShippingAddress(ctx context.Context, tenantID uuid.UUID, externalOrderID string, addr integration.Address) error
}

// SyncService is the surface offered to the CRUD application: run
// triggers, status snapshots and read access to mirrored orders.
type SyncService struct {
	connections integration.ConnectionProvider
	checkpoints integration.CheckpointStore
	failures    integration.RecordFailureRepository
	orders      integration.OrderRepository
	catalog     scheduler.ResourceCatalog
	jobs        JobScheduler
	writer      ShippingAddressWriter
	leaseTTL    time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// SyncServiceConfig contains the dependencies of SyncService
type SyncServiceConfig struct {
	Connections integration.ConnectionProvider
	Checkpoints integration.CheckpointStore
	Failures    integration.RecordFailureRepository
	Orders      integration.OrderRepository
	Catalog     scheduler.ResourceCatalog
	Jobs        JobScheduler
	Writer      ShippingAddressWriter
	// LeaseTTL must match the checkpoint store's lease; a running
	// checkpoint older than this no longer blocks a trigger.
	LeaseTTL time.Duration
	Logger   *zap.Logger
	Clock    func() time.Time
}

// NewSyncService creates a new SyncService
func NewSyncService(cfg SyncServiceConfig) *SyncService {
	s := &SyncService{
		connections: cfg.Connections,
		checkpoints: cfg.Checkpoints,
		failures:    cfg.Failures,
		orders:      cfg.Orders,
		catalog:     cfg.Catalog,
		jobs:        cfg.Jobs,
		writer:      cfg.Writer,
		leaseTTL:    cfg.LeaseTTL,
		logger:      cfg.Logger,
		now:         cfg.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.leaseTTL <= 0 {
		s.leaseTTL = time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// ---------------------------------------------------------------------------
// Triggers
// ---------------------------------------------------------------------------

// TriggerManualSync queues an on-demand incremental run. ErrAlreadyRunning
// is returned while a run holds the lock or an equal job is queued.
func (s *SyncService) TriggerManualSync(ctx context.Context, tenantID uuid.UUID, resource integration.ResourceType) (*SyncJobResponse, error) {
	return s.trigger(ctx, tenantID, resource, integration.RunKindManual)
}

// TriggerBackfill queues a backfill run on the dedicated lane
func (s *SyncService) TriggerBackfill(ctx context.Context, tenantID uuid.UUID, resource integration.ResourceType) (*SyncJobResponse, error) {
	return s.trigger(ctx, tenantID, resource, integration.RunKindBackfill)
}

func (s *SyncService) trigger(ctx context.Context, tenantID uuid.UUID, resource integration.ResourceType, kind integration.RunKind) (*SyncJobResponse, error) {
	log := logger.L(ctx, s.logger).With(
		zap.String("tenant_id", tenantID.String()),
		zap.String("resource", string(resource)),
		zap.String("run_kind", string(kind)),
	)

	conn, err := s.activeConnection(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.checkResource(conn, resource); err != nil {
		return nil, err
	}

	cp, err := s.checkpoints.GetCheckpoint(ctx, tenantID, resource)
	switch {
	case errors.Is(err, integration.ErrCheckpointNotFound):
	case err != nil:
		return nil, fmt.Errorf("load checkpoint: %w", err)
	case s.leaseHeld(cp):
		log.Info("Sync trigger refused, run in progress")
		return nil, integration.ErrAlreadyRunning
	}

	job, err := s.jobs.Schedule(tenantID, conn.Provider, resource, kind)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobAlreadyQueued) {
			return nil, fmt.Errorf("%w: %w", integration.ErrAlreadyRunning, err)
		}
		log.Error("Failed to schedule sync job", zap.Error(err))
		return nil, err
	}

	log.Info("Sync job scheduled", zap.String("job_id", job.ID.String()))
	resp := ToSyncJobResponse(job)
	return &resp, nil
}

func (s *SyncService) leaseHeld(cp *integration.Checkpoint) bool {
	if !cp.IsRunning() {
		return false
	}
	if cp.RunStartedAt == nil {
		return true
	}
	return s.now().Sub(*cp.RunStartedAt) < s.leaseTTL
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// GetSyncStatus returns the checkpoint snapshot of every resource the
// tenant's connection mirrors. Resources that never ran are reported idle.
func (s *SyncService) GetSyncStatus(ctx context.Context, tenantID uuid.UUID) (*SyncStatusResponse, error) {
	conn, err := s.connections.GetConnection(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	checkpoints, err := s.checkpoints.ListCheckpoints(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	byResource := make(map[integration.ResourceType]integration.Checkpoint, len(checkpoints))
	for _, cp := range checkpoints {
		byResource[cp.Resource] = cp
	}

	open, err := s.failures.CountOpen(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count record failures: %w", err)
	}

	resources, err := s.mirroredResources(conn)
	if err != nil {
		return nil, err
	}

	resp := &SyncStatusResponse{
		TenantID:        tenantID,
		Provider:        conn.Provider,
		ConnectionState: conn.State,
		Resources:       make([]ResourceStatusResponse, 0, len(resources)),
	}
	for _, r := range resources {
		cp, ok := byResource[r]
		if !ok {
			cp = integration.Checkpoint{TenantID: tenantID, Resource: r, Status: integration.RunStatusIdle}
		}
		resp.Resources = append(resp.Resources, toResourceStatus(cp, open[r]))
		resp.OpenFailures += open[r]
	}
	return resp, nil
}

// ListFailures returns record failures seen since the given time, newest first
func (s *SyncService) ListFailures(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]RecordFailureResponse, error) {
	if limit <= 0 {
		limit = DefaultFailureLimit
	}
	if limit > MaxFailureLimit {
		limit = MaxFailureLimit
	}
	failures, err := s.failures.List(ctx, tenantID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list record failures: %w", err)
	}
	return ToRecordFailureResponses(failures), nil
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// GetOrder reads a mirrored order by its provider id
func (s *SyncService) GetOrder(ctx context.Context, tenantID uuid.UUID, externalID string) (*OrderResponse, error) {
	o, err := s.orders.FindByExternalID(ctx, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	resp := ToOrderResponse(o)
	return &resp, nil
}

// UpdateShippingAddress forwards an address change to the provider. The
// local mirror picks it up on the next sync or webhook.
func (s *SyncService) UpdateShippingAddress(ctx context.Context, tenantID uuid.UUID, externalID string, req UpdateShippingAddressRequest) error {
	if _, err := s.activeConnection(ctx, tenantID); err != nil {
		return err
	}
	if _, err := s.orders.FindByExternalID(ctx, tenantID, externalID); err != nil {
		return err
	}
	if err := s.writer.UpdateShippingAddress(ctx, tenantID, externalID, req.ToAddress()); err != nil {
		logger.L(ctx, s.logger).Warn("Shipping address write-through failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("external_id", externalID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *SyncService) activeConnection(ctx context.Context, tenantID uuid.UUID) (*integration.Connection, error) {
	conn, err := s.connections.GetConnection(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive() {
		return nil, shared.NewDomainError(integration.ErrConnectionInactive, "CONNECTION_INACTIVE",
			fmt.Sprintf("WMS connection is %s", conn.State))
	}
	return conn, nil
}

func (s *SyncService) checkResource(conn *integration.Connection, resource integration.ResourceType) error {
	resources, err := s.mirroredResources(conn)
	if err != nil {
		return err
	}
	for _, r := range resources {
		if r == resource {
			return nil
		}
	}
	return shared.NewDomainError(integration.ErrUnsupportedResource, "UNSUPPORTED_RESOURCE",
		fmt.Sprintf("%s are not mirrored from %s", resource, conn.Provider))
}

// mirroredResources is what the provider supports, narrowed to the
// connection's own selection.
func (s *SyncService) mirroredResources(conn *integration.Connection) ([]integration.ResourceType, error) {
	supported, err := s.catalog.SupportedResources(conn.Provider)
	if err != nil {
		return nil, err
	}
	out := make([]integration.ResourceType, 0, len(supported))
	for _, r := range supported {
		if conn.SyncsResource(r) {
			out = append(out, r)
		}
	}
	return out, nil
}
