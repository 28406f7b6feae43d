package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmsync/backend/internal/domain/integration"
)

func TestEntityReconciler_OrdersIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	req := orderBatch(tenantID, integration.SourcePoll,
		extOrder("SH-1", "pending", baseTime),
		extOrder("SH-2", "allocated", baseTime),
	)

	res, err := r.Reconcile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Empty(t, res.Failed)

	res, err = r.Reconcile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, res.Unchanged)

	o, err := s.orders.FindByExternalID(ctx, tenantID, "SH-2")
	require.NoError(t, err)
	assert.Equal(t, integration.StatusAllocated, o.Status)
	assert.Equal(t, "USD", o.Currency)
	assert.Len(t, o.Items, 2)
	require.NotNil(t, o.Lifecycle.AllocatedAt)
	assert.True(t, o.Lifecycle.AllocatedAt.Equal(baseTime))
}

func TestEntityReconciler_OutOfOrderIsStale(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	newer := extOrder("SH-1", "shipped", baseTime.Add(time.Hour))
	older := extOrder("SH-1", "pending", baseTime)

	_, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourceWebhook, newer))
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, older))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stale)
	assert.Equal(t, 0, res.Updated)

	o, err := s.orders.FindByExternalID(ctx, tenantID, "SH-1")
	require.NoError(t, err)
	assert.Equal(t, integration.StatusShipped, o.Status)
	assert.Equal(t, integration.SourceWebhook, o.LastSource)
}

func TestEntityReconciler_NewerUnchangedAdvancesTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	_, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, extOrder("SH-1", "shipped", baseTime)))
	require.NoError(t, err)

	// same content, newer timestamp
	res, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourceWebhook, extOrder("SH-1", "shipped", baseTime.Add(2*time.Hour))))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 0, res.Updated)

	o, err := s.orders.FindByExternalID(ctx, tenantID, "SH-1")
	require.NoError(t, err)
	assert.True(t, o.RemoteUpdatedAt.Equal(baseTime.Add(2*time.Hour)))

	// an event older than the last one seen but newer than the first
	res, err = r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, extOrder("SH-1", "pending", baseTime.Add(time.Hour))))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stale)
	assert.Equal(t, 0, res.Updated)

	o, err = s.orders.FindByExternalID(ctx, tenantID, "SH-1")
	require.NoError(t, err)
	assert.Equal(t, integration.StatusShipped, o.Status)

	// an exact replay stays unchanged
	res, err = r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, extOrder("SH-1", "shipped", baseTime.Add(2*time.Hour))))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
}

func TestEntityReconciler_NewerUnchangedProductAndInventory(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	product := func(name string, at time.Time) integration.ReconcileRequest {
		return integration.ReconcileRequest{
			TenantID: tenantID,
			Provider: integration.ProviderExtensiv,
			Resource: integration.ResourceProducts,
			Source:   integration.SourcePoll,
			Records: []integration.ExternalRecord{
				&integration.ExternalProduct{SKU: "SKU-1", Name: name, Active: true, Price: decimal.RequireFromString("9.99"), UpdatedAt: at},
			},
		}
	}
	stock := func(onHand int, at time.Time) integration.ReconcileRequest {
		return integration.ReconcileRequest{
			TenantID: tenantID,
			Provider: integration.ProviderExtensiv,
			Resource: integration.ResourceInventory,
			Source:   integration.SourcePoll,
			Records: []integration.ExternalRecord{
				&integration.ExternalInventory{SKU: "SKU-1", WarehouseID: "W1", OnHand: onHand, Available: onHand, UpdatedAt: at},
			},
		}
	}

	for _, req := range []integration.ReconcileRequest{
		product("Widget", baseTime), product("Widget", baseTime.Add(2*time.Hour)),
		stock(10, baseTime), stock(10, baseTime.Add(2*time.Hour)),
	} {
		_, err := r.Reconcile(ctx, req)
		require.NoError(t, err)
	}

	res, err := r.Reconcile(ctx, product("Old name", baseTime.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stale)
	res, err = r.Reconcile(ctx, stock(1, baseTime.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stale)

	products, err := s.products.FindBySKUs(ctx, tenantID, []string{"SKU-1"})
	require.NoError(t, err)
	assert.Equal(t, "Widget", products["SKU-1"].Name)
	snaps, err := s.inventory.FindByKeys(ctx, tenantID, []string{integration.InventoryKey("SKU-1", "W1")})
	require.NoError(t, err)
	assert.Equal(t, 10, snaps[integration.InventoryKey("SKU-1", "W1")].OnHand)
}

func TestEntityReconciler_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	apply := func(status string, at time.Time) *integration.CanonicalOrder {
		t.Helper()
		_, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, extOrder("SH-1", status, at)))
		require.NoError(t, err)
		o, err := s.orders.FindByExternalID(ctx, tenantID, "SH-1")
		require.NoError(t, err)
		return o
	}

	t1 := baseTime
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)
	t4 := t3.Add(time.Hour)

	o := apply("allocated", t1)
	require.NotNil(t, o.Lifecycle.AllocatedAt)

	o = apply("shipped", t2)
	require.NotNil(t, o.Lifecycle.ShippedAt)
	assert.True(t, o.Lifecycle.ShippedAt.Equal(t2))
	assert.True(t, o.Lifecycle.AllocatedAt.Equal(t1), "a missing incoming timestamp never clears a stored one")

	o = apply("cancelled", t3)
	require.NotNil(t, o.Lifecycle.CancelledAt)
	assert.True(t, o.Lifecycle.CancelledAt.Equal(t3))

	o = apply("processing", t4)
	assert.Nil(t, o.Lifecycle.CancelledAt, "un-cancel clears cancelled_at")
	assert.NotNil(t, o.Lifecycle.ShippedAt)
}

func TestEntityReconciler_ItemsReplaced(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	_, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, extOrder("SH-1", "pending", baseTime)))
	require.NoError(t, err)

	changed := extOrder("SH-1", "pending", baseTime.Add(time.Minute))
	changed.Items = []integration.ExternalOrderItem{
		{ExternalID: "l2", SKU: "SKU-2", QuantityOrdered: 5, UnitPrice: decimal.RequireFromString("10"), Status: "pending"},
	}
	res, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, changed))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	o, err := s.orders.FindByExternalID(ctx, tenantID, "SH-1")
	require.NoError(t, err)
	require.Len(t, o.Items, 1)
	assert.Equal(t, "l2", o.Items[0].ExternalID)
	assert.Equal(t, 5, o.Items[0].QuantityOrdered)
	assert.Equal(t, 0, o.Items[0].Position)
}

func TestEntityReconciler_UnknownStatusFallsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	_, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, extOrder("SH-1", "teleported", baseTime)))
	require.NoError(t, err)

	o, err := s.orders.FindByExternalID(ctx, tenantID, "SH-1")
	require.NoError(t, err)
	assert.Equal(t, integration.FallbackStatus, o.Status)
	assert.Equal(t, "teleported", o.RawStatus)
}

func TestEntityReconciler_FailureLedger(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	bad := extOrder("SH-1", "pending", baseTime)
	bad.OrderNumber = ""
	dup := extOrder("SH-2", "pending", baseTime)
	dup.Items[1].ExternalID = "l1"

	res, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll,
		bad, dup, extOrder("SH-3", "pending", baseTime),
	))
	require.NoError(t, err, "per-record failures do not abort the batch")
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, "SH-1", res.Failed[0].ExternalKey)
	assert.Contains(t, res.Failed[0].Error, "order_number")
	assert.Equal(t, "SH-2", res.Failed[1].ExternalKey)

	open, err := s.failures.CountOpen(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, open[integration.ResourceOrders])

	_, err = r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, extOrder("SH-1", "pending", baseTime)))
	require.NoError(t, err)

	open, err = s.failures.CountOpen(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, open[integration.ResourceOrders])
}

func TestEntityReconciler_UndecodableRecordFailsAlone(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	bad := &integration.UndecodableRecord{
		Kind:  integration.ResourceOrders,
		Key:   "SH-2",
		Cause: "json: cannot unmarshal number 1.5 into Go struct field .quantity of type int",
	}
	res, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll,
		extOrder("SH-1", "pending", baseTime), bad,
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "SH-2", res.Failed[0].ExternalKey)
	assert.Contains(t, res.Failed[0].Error, "undecodable record")

	open, err := s.failures.CountOpen(ctx, tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, open[integration.ResourceOrders])

	// a later, decodable version of the record resolves the failure
	_, err = r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, extOrder("SH-2", "pending", baseTime)))
	require.NoError(t, err)
	open, err = s.failures.CountOpen(ctx, tenantID)
	require.NoError(t, err)
	assert.Zero(t, open[integration.ResourceOrders])
}

func TestEntityReconciler_RejectsForeignRecord(t *testing.T) {
	r := newTestReconciler(t, newTestStores(t))
	tenantID := uuid.New()

	req := orderBatch(tenantID, integration.SourcePoll, &integration.ExternalProduct{SKU: "SKU-1", UpdatedAt: baseTime})
	res, err := r.Reconcile(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "SKU-1", res.Failed[0].ExternalKey)
}

func TestEntityReconciler_InvalidRequest(t *testing.T) {
	r := newTestReconciler(t, newTestStores(t))
	ctx := context.Background()

	_, err := r.Reconcile(ctx, integration.ReconcileRequest{Resource: integration.ResourceOrders})
	assert.Error(t, err)

	_, err = r.Reconcile(ctx, integration.ReconcileRequest{TenantID: uuid.New(), Resource: "returns"})
	assert.ErrorIs(t, err, integration.ErrUnsupportedResource)

	res, err := r.Reconcile(ctx, integration.ReconcileRequest{TenantID: uuid.New(), Resource: integration.ResourceOrders})
	require.NoError(t, err)
	assert.Zero(t, res.Total())
}

// racingOrders hides stored rows from the batch prefetch, as if another
// path inserted them after the lookup.
type racingOrders struct {
	integration.OrderRepository
}

func (racingOrders) FindByExternalIDs(context.Context, uuid.UUID, []string) (map[string]*integration.CanonicalOrder, error) {
	return map[string]*integration.CanonicalOrder{}, nil
}

func TestEntityReconciler_InsertRaceBecomesUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	tenantID := uuid.New()

	_, err := newTestReconciler(t, s).Reconcile(ctx, orderBatch(tenantID, integration.SourceWebhook, extOrder("SH-1", "pending", baseTime)))
	require.NoError(t, err)

	r := NewEntityReconciler(EntityReconcilerConfig{
		Orders:   racingOrders{OrderRepository: s.orders},
		Failures: s.failures,
		Statuses: NewCanonicalizerHolder(newTestCanonicalizer(t)),
	})
	res, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, extOrder("SH-1", "packed", baseTime.Add(time.Minute))))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Updated)

	o, err := s.orders.FindByExternalID(ctx, tenantID, "SH-1")
	require.NoError(t, err)
	assert.Equal(t, integration.StatusPacked, o.Status)
}

type failingOrders struct {
	integration.OrderRepository
}

func (failingOrders) FindByExternalIDs(context.Context, uuid.UUID, []string) (map[string]*integration.CanonicalOrder, error) {
	return nil, errors.New("connection refused")
}

func TestEntityReconciler_StorageErrorFailsBatch(t *testing.T) {
	s := newTestStores(t)
	r := NewEntityReconciler(EntityReconcilerConfig{
		Orders:   failingOrders{OrderRepository: s.orders},
		Statuses: NewCanonicalizerHolder(newTestCanonicalizer(t)),
	})
	_, err := r.Reconcile(context.Background(), orderBatch(uuid.New(), integration.SourcePoll, extOrder("SH-1", "pending", baseTime)))
	assert.ErrorContains(t, err, "connection refused")
}

func TestEntityReconciler_ProductsAndInventory(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	products := integration.ReconcileRequest{
		TenantID: tenantID,
		Provider: integration.ProviderExtensiv,
		Resource: integration.ResourceProducts,
		Source:   integration.SourcePoll,
		Records: []integration.ExternalRecord{
			&integration.ExternalProduct{SKU: "SKU-1", Name: "Widget", Active: true, Price: decimal.RequireFromString("9.99"), UpdatedAt: baseTime},
		},
	}
	res, err := r.Reconcile(ctx, products)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	products.Records = []integration.ExternalRecord{
		&integration.ExternalProduct{SKU: "SKU-1", Name: "Widget v2", Active: true, Price: decimal.RequireFromString("9.99"), UpdatedAt: baseTime.Add(time.Minute)},
	}
	res, err = r.Reconcile(ctx, products)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	stored, err := s.products.FindBySKUs(ctx, tenantID, []string{"SKU-1"})
	require.NoError(t, err)
	require.Contains(t, stored, "SKU-1")
	assert.Equal(t, "Widget v2", stored["SKU-1"].Name)

	inventory := integration.ReconcileRequest{
		TenantID: tenantID,
		Provider: integration.ProviderExtensiv,
		Resource: integration.ResourceInventory,
		Source:   integration.SourceIntegrity,
		Records: []integration.ExternalRecord{
			&integration.ExternalInventory{SKU: "SKU-1", WarehouseID: "W1", OnHand: 10, Available: 8, Allocated: 2, UpdatedAt: baseTime},
			&integration.ExternalInventory{SKU: "SKU-1", WarehouseID: "W2", OnHand: 3, Available: 3, UpdatedAt: baseTime},
		},
	}
	res, err = r.Reconcile(ctx, inventory)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	inventory.Records = []integration.ExternalRecord{
		&integration.ExternalInventory{SKU: "SKU-1", WarehouseID: "W1", OnHand: 1, UpdatedAt: baseTime.Add(-time.Minute)},
	}
	res, err = r.Reconcile(ctx, inventory)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stale)

	snaps, err := s.inventory.FindByKeys(ctx, tenantID, []string{integration.InventoryKey("SKU-1", "W1")})
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, 10, snaps[integration.InventoryKey("SKU-1", "W1")].OnHand)
}

func TestEntityReconciler_ShipmentStampsOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStores(t)
	r := newTestReconciler(t, s)
	tenantID := uuid.New()

	_, err := r.Reconcile(ctx, orderBatch(tenantID, integration.SourcePoll, extOrder("SH-1", "packed", baseTime)))
	require.NoError(t, err)

	shippedAt := baseTime.Add(30 * time.Minute)
	shipments := integration.ReconcileRequest{
		TenantID: tenantID,
		Provider: integration.ProviderShipHero,
		Resource: integration.ResourceShipments,
		Source:   integration.SourceWebhook,
		Records: []integration.ExternalRecord{
			&integration.ExternalShipment{ExternalID: "S-1", ExternalOrderID: "SH-1", Carrier: "UPS", TrackingNumber: "1Z", Status: "shipped", ShippedAt: &shippedAt, UpdatedAt: baseTime.Add(time.Hour)},
			&integration.ExternalShipment{ExternalID: "S-2", ExternalOrderID: "SH-404", Status: "shipped", UpdatedAt: baseTime.Add(time.Hour)},
		},
	}
	res, err := r.Reconcile(ctx, shipments)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created, "a shipment for an order not yet mirrored is still stored")

	o, err := s.orders.FindByExternalID(ctx, tenantID, "SH-1")
	require.NoError(t, err)
	require.NotNil(t, o.Lifecycle.ShippedAt)
	assert.True(t, o.Lifecycle.ShippedAt.Equal(shippedAt))
	assert.Len(t, o.Items, 2, "stamping leaves line items alone")

	// Delivered without an explicit timestamp keeps ShippedAt and stamps DeliveredAt.
	shipments.Records = []integration.ExternalRecord{
		&integration.ExternalShipment{ExternalID: "S-1", ExternalOrderID: "SH-1", Carrier: "UPS", TrackingNumber: "1Z", Status: "delivered", UpdatedAt: baseTime.Add(2 * time.Hour)},
	}
	res, err = r.Reconcile(ctx, shipments)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	stored, err := s.shipments.FindByExternalIDs(ctx, tenantID, []string{"S-1"})
	require.NoError(t, err)
	require.NotNil(t, stored["S-1"].ShippedAt)
	assert.True(t, stored["S-1"].ShippedAt.Equal(shippedAt))

	o, err = s.orders.FindByExternalID(ctx, tenantID, "SH-1")
	require.NoError(t, err)
	require.NotNil(t, o.Lifecycle.DeliveredAt)
	assert.True(t, o.Lifecycle.DeliveredAt.Equal(baseTime.Add(2*time.Hour)))
}

func TestCanonicalizerHolder_Swap(t *testing.T) {
	first := newTestCanonicalizer(t)
	h := NewCanonicalizerHolder(first)
	assert.Same(t, first, h.Current())

	h.Swap(nil)
	assert.Same(t, first, h.Current())

	second, err := integration.NewStatusCanonicalizer(integration.DefaultStatusTables(),
		integration.WithCollapse(map[integration.CanonicalStatus]integration.CanonicalStatus{integration.StatusDelivered: integration.StatusShipped}))
	require.NoError(t, err)
	h.Swap(second)
	assert.Equal(t, integration.StatusShipped, h.Current().Canonicalize(integration.ProviderShipHero, "delivered"))
}
