package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// EntityReconcilerConfig contains the dependencies of EntityReconciler
type EntityReconcilerConfig struct {
	Orders    integration.OrderRepository
	Products  integration.ProductRepository
	Inventory integration.InventoryRepository
	Shipments integration.ShipmentRepository
	Failures  integration.RecordFailureRepository
	Statuses  StatusSource
	Logger    *zap.Logger
	Metrics   *telemetry.SyncMetrics
}

// EntityReconciler applies external records to the canonical tables. It is
// the single write path shared by polling, integrity runs, backfills and
// webhooks, so applying the same record twice or out of order converges.
type EntityReconciler struct {
	orders    integration.OrderRepository
	products  integration.ProductRepository
	inventory integration.InventoryRepository
	shipments integration.ShipmentRepository
	failures  integration.RecordFailureRepository
	statuses  StatusSource
	validate  *validator.Validate
	logger    *zap.Logger
	metrics   *telemetry.SyncMetrics
	now       func() time.Time
}

// NewEntityReconciler creates a new EntityReconciler
func NewEntityReconciler(cfg EntityReconcilerConfig) *EntityReconciler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &EntityReconciler{
		orders:    cfg.Orders,
		products:  cfg.Products,
		inventory: cfg.Inventory,
		shipments: cfg.Shipments,
		failures:  cfg.Failures,
		statuses:  cfg.Statuses,
		validate:  newRecordValidator(),
		logger:    log,
		metrics:   cfg.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// batch carries the state of one Reconcile call
type batch struct {
	req      integration.ReconcileRequest
	now      time.Time
	canon    *integration.StatusCanonicalizer
	result   integration.ReconcileResult
	resolved []string
}

func (b *batch) fail(mErr *integration.RecordMappingError) {
	b.result.Failed = append(b.result.Failed, integration.RecordFailure{
		TenantID:    b.req.TenantID,
		Resource:    b.req.Resource,
		ExternalKey: mErr.ExternalID,
		Error:       mErr.Error(),
		Attempts:    1,
		FirstSeenAt: b.now,
		LastSeenAt:  b.now,
	})
}

func (b *batch) ok(key string) {
	b.resolved = append(b.resolved, key)
}

// Reconcile applies one batch. Per-record problems end up in the result;
// the returned error means storage could not be used at all.
func (r *EntityReconciler) Reconcile(ctx context.Context, req integration.ReconcileRequest) (integration.ReconcileResult, error) {
	if req.TenantID == uuid.Nil {
		return integration.ReconcileResult{}, errors.New("reconcile: tenant id is required")
	}
	if !req.Resource.IsValid() {
		return integration.ReconcileResult{}, fmt.Errorf("%w: %s", integration.ErrUnsupportedResource, req.Resource)
	}
	if len(req.Records) == 0 {
		return integration.ReconcileResult{}, nil
	}

	b := &batch{req: req, now: r.now(), canon: r.statuses.Current()}

	var err error
	switch req.Resource {
	case integration.ResourceOrders:
		err = r.reconcileOrders(ctx, b)
	case integration.ResourceProducts:
		err = r.reconcileProducts(ctx, b)
	case integration.ResourceInventory:
		err = r.reconcileInventory(ctx, b)
	case integration.ResourceShipments:
		err = r.reconcileShipments(ctx, b)
	}
	if err != nil {
		return b.result, err
	}

	r.updateFailureLedger(ctx, b)
	r.metrics.RecordRecords(ctx, string(req.Resource), string(req.Source), telemetry.RecordCounts{
		Created:   b.result.Created,
		Updated:   b.result.Updated,
		Unchanged: b.result.Unchanged,
		Stale:     b.result.Stale,
		Failed:    len(b.result.Failed),
	})
	return b.result, nil
}

// accept validates a record and checks that it belongs to the batch resource
func (r *EntityReconciler) accept(b *batch, rec integration.ExternalRecord) bool {
	if rec == nil {
		b.fail(integration.NewRecordMappingError("", "", "nil record"))
		return false
	}
	if u, ok := rec.(*integration.UndecodableRecord); ok {
		b.fail(integration.NewRecordMappingError(u.Key, "", "undecodable record: "+u.Cause))
		return false
	}
	if rec.Resource() != b.req.Resource {
		b.fail(integration.NewRecordMappingError(rec.NaturalKey(), "", fmt.Sprintf("record of %s in a %s batch", rec.Resource(), b.req.Resource)))
		return false
	}
	if mErr := checkRecord(r.validate, rec); mErr != nil {
		b.fail(mErr)
		return false
	}
	return true
}

func (r *EntityReconciler) updateFailureLedger(ctx context.Context, b *batch) {
	if r.failures == nil {
		return
	}
	log := logger.L(ctx, r.logger)
	if len(b.result.Failed) > 0 {
		if err := r.failures.Record(ctx, b.result.Failed); err != nil {
			log.Warn("Failed to record reconcile failures",
				zap.String("resource", string(b.req.Resource)),
				zap.Int("count", len(b.result.Failed)),
				zap.Error(err))
		}
	}
	if len(b.resolved) > 0 {
		if err := r.failures.Resolve(ctx, b.req.TenantID, b.req.Resource, b.resolved); err != nil {
			log.Warn("Failed to resolve reconcile failures",
				zap.String("resource", string(b.req.Resource)),
				zap.Error(err))
		}
	}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

func (r *EntityReconciler) reconcileOrders(ctx context.Context, b *batch) error {
	type pending struct {
		order  *integration.CanonicalOrder
		status integration.CanonicalStatus
	}
	var todo []pending
	keys := make([]string, 0, len(b.req.Records))
	for _, rec := range b.req.Records {
		if !r.accept(b, rec) {
			continue
		}
		ext := rec.(*integration.ExternalOrder)
		order, status, mErr := mapOrder(b.canon, b.req.Provider, ext)
		if mErr != nil {
			b.fail(mErr)
			continue
		}
		order.TenantID = b.req.TenantID
		todo = append(todo, pending{order: order, status: status})
		keys = append(keys, order.ExternalID)
	}
	if len(todo) == 0 {
		return nil
	}

	stored, err := r.orders.FindByExternalIDs(ctx, b.req.TenantID, keys)
	if err != nil {
		return fmt.Errorf("reconcile orders: load: %w", err)
	}

	for _, p := range todo {
		if err := r.applyOrder(ctx, b, stored, p.order, p.status); err != nil {
			return err
		}
	}
	return nil
}

func (r *EntityReconciler) applyOrder(ctx context.Context, b *batch, stored map[string]*integration.CanonicalOrder, in *integration.CanonicalOrder, status integration.CanonicalStatus) error {
	in.LastSyncedAt = b.now
	in.LastSource = b.req.Source

	existing := stored[in.ExternalID]
	if existing == nil {
		in.Lifecycle = integration.Lifecycle{}.Merge(in.Lifecycle, status).Stamp(status, in.RemoteUpdatedAt)
		err := r.orders.Create(ctx, in)
		if err == nil {
			stored[in.ExternalID] = in
			b.result.Created++
			b.ok(in.ExternalID)
			return nil
		}
		if !errors.Is(err, integration.ErrDuplicateRecord) {
			return fmt.Errorf("reconcile orders: create %s: %w", in.ExternalID, err)
		}
		// Another path inserted it first; continue as an update.
		existing, err = r.orders.FindByExternalID(ctx, b.req.TenantID, in.ExternalID)
		if err != nil {
			return fmt.Errorf("reconcile orders: reload %s: %w", in.ExternalID, err)
		}
	}

	if in.RemoteUpdatedAt.Before(existing.RemoteUpdatedAt) {
		b.result.Stale++
		b.ok(in.ExternalID)
		return nil
	}

	in.ID = existing.ID
	in.CreatedAt = existing.CreatedAt
	in.Lifecycle = existing.Lifecycle.Merge(in.Lifecycle, status).Stamp(status, in.RemoteUpdatedAt)

	fields := in.Diff(existing)
	itemsChanged := !integration.ItemsEqual(existing.Items, in.Items)
	if len(fields) == 0 && !itemsChanged {
		if advanced(in.RemoteUpdatedAt, existing.RemoteUpdatedAt) {
			if err := r.orders.Update(ctx, in, integration.SyncMetadataFields, false); err != nil {
				return fmt.Errorf("reconcile orders: touch %s: %w", in.ExternalID, err)
			}
			stored[in.ExternalID] = in
		}
		b.result.Unchanged++
		b.ok(in.ExternalID)
		return nil
	}

	if err := r.orders.Update(ctx, in, append(fields, integration.SyncMetadataFields...), itemsChanged); err != nil {
		return fmt.Errorf("reconcile orders: update %s: %w", in.ExternalID, err)
	}
	stored[in.ExternalID] = in
	b.result.Updated++
	b.ok(in.ExternalID)
	return nil
}

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

func (r *EntityReconciler) reconcileProducts(ctx context.Context, b *batch) error {
	var todo []*integration.CanonicalProduct
	keys := make([]string, 0, len(b.req.Records))
	for _, rec := range b.req.Records {
		if !r.accept(b, rec) {
			continue
		}
		p := mapProduct(b.req.Provider, rec.(*integration.ExternalProduct))
		p.TenantID = b.req.TenantID
		todo = append(todo, p)
		keys = append(keys, p.SKU)
	}
	if len(todo) == 0 {
		return nil
	}

	stored, err := r.products.FindBySKUs(ctx, b.req.TenantID, keys)
	if err != nil {
		return fmt.Errorf("reconcile products: load: %w", err)
	}

	for _, in := range todo {
		in.LastSyncedAt = b.now
		in.LastSource = b.req.Source

		existing := stored[in.SKU]
		if existing == nil {
			err := r.products.Create(ctx, in)
			if err == nil {
				stored[in.SKU] = in
				b.result.Created++
				b.ok(in.SKU)
				continue
			}
			if !errors.Is(err, integration.ErrDuplicateRecord) {
				return fmt.Errorf("reconcile products: create %s: %w", in.SKU, err)
			}
			reloaded, err := r.products.FindBySKUs(ctx, b.req.TenantID, []string{in.SKU})
			if err != nil || reloaded[in.SKU] == nil {
				return fmt.Errorf("reconcile products: reload %s: %w", in.SKU, errOrMissing(err))
			}
			existing = reloaded[in.SKU]
		}

		if in.RemoteUpdatedAt.Before(existing.RemoteUpdatedAt) {
			b.result.Stale++
			b.ok(in.SKU)
			continue
		}
		in.ID = existing.ID
		fields := in.Diff(existing)
		if len(fields) == 0 {
			if advanced(in.RemoteUpdatedAt, existing.RemoteUpdatedAt) {
				if err := r.products.Update(ctx, in, integration.SyncMetadataFields); err != nil {
					return fmt.Errorf("reconcile products: touch %s: %w", in.SKU, err)
				}
				stored[in.SKU] = in
			}
			b.result.Unchanged++
			b.ok(in.SKU)
			continue
		}
		if err := r.products.Update(ctx, in, append(fields, integration.SyncMetadataFields...)); err != nil {
			return fmt.Errorf("reconcile products: update %s: %w", in.SKU, err)
		}
		stored[in.SKU] = in
		b.result.Updated++
		b.ok(in.SKU)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Inventory
// ---------------------------------------------------------------------------

func (r *EntityReconciler) reconcileInventory(ctx context.Context, b *batch) error {
	var todo []*integration.InventorySnapshot
	keys := make([]string, 0, len(b.req.Records))
	for _, rec := range b.req.Records {
		if !r.accept(b, rec) {
			continue
		}
		s := mapInventory(b.req.Provider, rec.(*integration.ExternalInventory))
		s.TenantID = b.req.TenantID
		todo = append(todo, s)
		keys = append(keys, s.Key())
	}
	if len(todo) == 0 {
		return nil
	}

	stored, err := r.inventory.FindByKeys(ctx, b.req.TenantID, keys)
	if err != nil {
		return fmt.Errorf("reconcile inventory: load: %w", err)
	}

	for _, in := range todo {
		in.LastSyncedAt = b.now
		in.LastSource = b.req.Source
		key := in.Key()

		existing := stored[key]
		if existing == nil {
			err := r.inventory.Create(ctx, in)
			if err == nil {
				stored[key] = in
				b.result.Created++
				b.ok(key)
				continue
			}
			if !errors.Is(err, integration.ErrDuplicateRecord) {
				return fmt.Errorf("reconcile inventory: create %s: %w", key, err)
			}
			reloaded, err := r.inventory.FindByKeys(ctx, b.req.TenantID, []string{key})
			if err != nil || reloaded[key] == nil {
				return fmt.Errorf("reconcile inventory: reload %s: %w", key, errOrMissing(err))
			}
			existing = reloaded[key]
		}

		if in.RemoteUpdatedAt.Before(existing.RemoteUpdatedAt) {
			b.result.Stale++
			b.ok(key)
			continue
		}
		in.ID = existing.ID
		fields := in.Diff(existing)
		if len(fields) == 0 {
			if advanced(in.RemoteUpdatedAt, existing.RemoteUpdatedAt) {
				if err := r.inventory.Update(ctx, in, integration.SyncMetadataFields); err != nil {
					return fmt.Errorf("reconcile inventory: touch %s: %w", key, err)
				}
				stored[key] = in
			}
			b.result.Unchanged++
			b.ok(key)
			continue
		}
		if err := r.inventory.Update(ctx, in, append(fields, integration.SyncMetadataFields...)); err != nil {
			return fmt.Errorf("reconcile inventory: update %s: %w", key, err)
		}
		stored[key] = in
		b.result.Updated++
		b.ok(key)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Shipments
// ---------------------------------------------------------------------------

func (r *EntityReconciler) reconcileShipments(ctx context.Context, b *batch) error {
	var todo []*integration.CanonicalShipment
	keys := make([]string, 0, len(b.req.Records))
	for _, rec := range b.req.Records {
		if !r.accept(b, rec) {
			continue
		}
		s := mapShipment(b.canon, b.req.Provider, rec.(*integration.ExternalShipment))
		s.TenantID = b.req.TenantID
		todo = append(todo, s)
		keys = append(keys, s.ExternalID)
	}
	if len(todo) == 0 {
		return nil
	}

	stored, err := r.shipments.FindByExternalIDs(ctx, b.req.TenantID, keys)
	if err != nil {
		return fmt.Errorf("reconcile shipments: load: %w", err)
	}

	for _, in := range todo {
		in.LastSyncedAt = b.now
		in.LastSource = b.req.Source

		existing := stored[in.ExternalID]
		if existing == nil {
			err := r.shipments.Create(ctx, in)
			if err == nil {
				stored[in.ExternalID] = in
				b.result.Created++
				b.ok(in.ExternalID)
				if err := r.stampParentOrder(ctx, b, in); err != nil {
					return err
				}
				continue
			}
			if !errors.Is(err, integration.ErrDuplicateRecord) {
				return fmt.Errorf("reconcile shipments: create %s: %w", in.ExternalID, err)
			}
			reloaded, err := r.shipments.FindByExternalIDs(ctx, b.req.TenantID, []string{in.ExternalID})
			if err != nil || reloaded[in.ExternalID] == nil {
				return fmt.Errorf("reconcile shipments: reload %s: %w", in.ExternalID, errOrMissing(err))
			}
			existing = reloaded[in.ExternalID]
		}

		if in.RemoteUpdatedAt.Before(existing.RemoteUpdatedAt) {
			b.result.Stale++
			b.ok(in.ExternalID)
			continue
		}
		in.ID = existing.ID
		// Shipment milestones are set-once like order lifecycle timestamps.
		if in.ShippedAt == nil {
			in.ShippedAt = existing.ShippedAt
		}
		if in.DeliveredAt == nil {
			in.DeliveredAt = existing.DeliveredAt
		}
		fields := in.Diff(existing)
		if len(fields) == 0 {
			if advanced(in.RemoteUpdatedAt, existing.RemoteUpdatedAt) {
				if err := r.shipments.Update(ctx, in, integration.SyncMetadataFields); err != nil {
					return fmt.Errorf("reconcile shipments: touch %s: %w", in.ExternalID, err)
				}
				stored[in.ExternalID] = in
			}
			b.result.Unchanged++
			b.ok(in.ExternalID)
			continue
		}
		if err := r.shipments.Update(ctx, in, append(fields, integration.SyncMetadataFields...)); err != nil {
			return fmt.Errorf("reconcile shipments: update %s: %w", in.ExternalID, err)
		}
		stored[in.ExternalID] = in
		b.result.Updated++
		b.ok(in.ExternalID)
		if err := r.stampParentOrder(ctx, b, in); err != nil {
			return err
		}
	}
	return nil
}

// stampParentOrder copies shipped / delivered milestones of a shipment onto
// its order when the order has none yet. A missing order is not an error:
// the order arrives later through its own path.
func (r *EntityReconciler) stampParentOrder(ctx context.Context, b *batch, s *integration.CanonicalShipment) error {
	shippedAt := s.ShippedAt
	deliveredAt := s.DeliveredAt
	if shippedAt == nil && (s.Status == integration.StatusShipped || s.Status == integration.StatusDelivered) {
		t := s.RemoteUpdatedAt
		shippedAt = &t
	}
	if deliveredAt == nil && s.Status == integration.StatusDelivered {
		t := s.RemoteUpdatedAt
		deliveredAt = &t
	}
	if shippedAt == nil && deliveredAt == nil {
		return nil
	}

	order, err := r.orders.FindByExternalID(ctx, b.req.TenantID, s.ExternalOrderID)
	if err != nil {
		if errors.Is(err, integration.ErrOrderNotFound) {
			return nil
		}
		return fmt.Errorf("reconcile shipments: load order %s: %w", s.ExternalOrderID, err)
	}

	var fields []string
	if order.Lifecycle.ShippedAt == nil && shippedAt != nil {
		order.Lifecycle.ShippedAt = shippedAt
		fields = append(fields, "shipped_at")
	}
	if order.Lifecycle.DeliveredAt == nil && deliveredAt != nil {
		order.Lifecycle.DeliveredAt = deliveredAt
		fields = append(fields, "delivered_at")
	}
	if len(fields) == 0 {
		return nil
	}
	if err := r.orders.Update(ctx, order, fields, false); err != nil {
		return fmt.Errorf("reconcile shipments: stamp order %s: %w", s.ExternalOrderID, err)
	}
	return nil
}

// advanced reports whether an unchanged record still carries a newer remote
// timestamp. The stored remote_updated_at has to follow it so that an older
// event arriving afterwards is recognised as stale.
func advanced(in, stored time.Time) bool {
	return in.After(stored)
}

func errOrMissing(err error) error {
	if err != nil {
		return err
	}
	return integration.ErrDuplicateRecord
}

var _ integration.Reconciler = (*EntityReconciler)(nil)
