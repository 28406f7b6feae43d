package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmsync/backend/internal/domain/integration"
)

func newTestOrder(tenantID uuid.UUID, externalID string) *integration.CanonicalOrder {
	updated := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	return &integration.CanonicalOrder{
		TenantID:    tenantID,
		Provider:    integration.ProviderShipHero,
		ExternalID:  externalID,
		OrderNumber: "#" + externalID,
		Status:      integration.StatusProcessing,
		RawStatus:   "pending_fulfillment",
		Currency:    "USD",
		Subtotal:    decimal.RequireFromString("40.00"),
		Total:       decimal.RequireFromString("45.50"),
		ShippingAddress: integration.Address{
			Name:    "Ada Lovelace",
			Line1:   "1 Analytical Way",
			City:    "London",
			Country: "GB",
		},
		Items: []integration.CanonicalOrderItem{
			{ExternalID: "li-1", SKU: "SKU-1", QuantityOrdered: 2, UnitPrice: decimal.RequireFromString("10"), Status: integration.StatusProcessing, Position: 0},
			{ExternalID: "li-2", SKU: "SKU-2", QuantityOrdered: 1, UnitPrice: decimal.RequireFromString("20"), Status: integration.StatusProcessing, Position: 1},
		},
		Lifecycle:       integration.Lifecycle{OrderedAt: ptrTime(updated.Add(-time.Hour))},
		RemoteUpdatedAt: updated,
		LastSyncedAt:    updated,
		LastSource:      integration.SourcePoll,
	}
}

func TestGormOrderRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewGormOrderRepository(newTestDB(t))
	tenantID := uuid.New()

	order := newTestOrder(tenantID, "SH-1")
	require.NoError(t, repo.Create(ctx, order))
	assert.NotEqual(t, uuid.Nil, order.ID)

	found, err := repo.FindByExternalID(ctx, tenantID, "SH-1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	assert.Equal(t, integration.StatusProcessing, found.Status)
	assert.Equal(t, "Ada Lovelace", found.ShippingAddress.Name)
	assert.True(t, order.Total.Equal(found.Total))
	require.Len(t, found.Items, 2)
	assert.Equal(t, "li-1", found.Items[0].ExternalID)
	assert.True(t, integration.ItemsEqual(order.Items, found.Items))
	assert.Empty(t, order.Diff(found))

	_, err = repo.FindByExternalID(ctx, uuid.New(), "SH-1")
	assert.ErrorIs(t, err, integration.ErrOrderNotFound)
}

func TestGormOrderRepository_Create_Duplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewGormOrderRepository(newTestDB(t))
	tenantID := uuid.New()

	require.NoError(t, repo.Create(ctx, newTestOrder(tenantID, "SH-1")))
	err := repo.Create(ctx, newTestOrder(tenantID, "SH-1"))
	assert.ErrorIs(t, err, integration.ErrDuplicateRecord)

	// same external id in another tenant is a different order
	assert.NoError(t, repo.Create(ctx, newTestOrder(uuid.New(), "SH-1")))
}

func TestGormOrderRepository_FindByExternalIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewGormOrderRepository(newTestDB(t))
	tenantID := uuid.New()

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, repo.Create(ctx, newTestOrder(tenantID, id)))
	}

	found, err := repo.FindByExternalIDs(ctx, tenantID, []string{"A", "C", "Z"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Contains(t, found, "A")
	assert.Contains(t, found, "C")
	assert.Len(t, found["C"].Items, 2)

	empty, err := repo.FindByExternalIDs(ctx, tenantID, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGormOrderRepository_Update(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("writes only the named fields", func(t *testing.T) {
		repo := NewGormOrderRepository(newTestDB(t))
		order := newTestOrder(tenantID, "SH-1")
		require.NoError(t, repo.Create(ctx, order))

		changed := *order
		changed.Status = integration.StatusShipped
		changed.CustomerName = "not written"
		require.NoError(t, repo.Update(ctx, &changed, []string{"status"}, false))

		found, err := repo.FindByExternalID(ctx, tenantID, "SH-1")
		require.NoError(t, err)
		assert.Equal(t, integration.StatusShipped, found.Status)
		assert.Empty(t, found.CustomerName)
		assert.Len(t, found.Items, 2)
	})

	t.Run("replaces line items", func(t *testing.T) {
		repo := NewGormOrderRepository(newTestDB(t))
		order := newTestOrder(tenantID, "SH-2")
		require.NoError(t, repo.Create(ctx, order))

		changed := *order
		changed.Items = []integration.CanonicalOrderItem{
			{ExternalID: "li-3", SKU: "SKU-3", QuantityOrdered: 5, UnitPrice: decimal.RequireFromString("1.25"), Status: integration.StatusAllocated},
		}
		require.NoError(t, repo.Update(ctx, &changed, nil, true))

		found, err := repo.FindByExternalID(ctx, tenantID, "SH-2")
		require.NoError(t, err)
		require.Len(t, found.Items, 1)
		assert.Equal(t, "SKU-3", found.Items[0].SKU)
		assert.Equal(t, 5, found.Items[0].QuantityOrdered)
	})
}
