package integration

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/persistence"
	"github.com/wmsync/backend/internal/infrastructure/persistence/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testStores struct {
	db        *gorm.DB
	orders    *persistence.GormOrderRepository
	products  *persistence.GormProductRepository
	inventory *persistence.GormInventoryRepository
	shipments *persistence.GormShipmentRepository
	failures  *persistence.GormRecordFailureRepository
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	return &testStores{
		db:        db,
		orders:    persistence.NewGormOrderRepository(db),
		products:  persistence.NewGormProductRepository(db),
		inventory: persistence.NewGormInventoryRepository(db),
		shipments: persistence.NewGormShipmentRepository(db),
		failures:  persistence.NewGormRecordFailureRepository(db),
	}
}

func newTestCanonicalizer(t *testing.T) *integration.StatusCanonicalizer {
	t.Helper()
	c, err := integration.NewStatusCanonicalizer(integration.DefaultStatusTables())
	require.NoError(t, err)
	return c
}

func newTestReconciler(t *testing.T, s *testStores) *EntityReconciler {
	t.Helper()
	return NewEntityReconciler(EntityReconcilerConfig{
		Orders:    s.orders,
		Products:  s.products,
		Inventory: s.inventory,
		Shipments: s.shipments,
		Failures:  s.failures,
		Statuses:  NewCanonicalizerHolder(newTestCanonicalizer(t)),
	})
}

func extOrder(id, status string, updated time.Time) *integration.ExternalOrder {
	return &integration.ExternalOrder{
		ExternalID:  id,
		OrderNumber: "#" + id,
		Status:      status,
		Currency:    "usd",
		Subtotal:    decimal.RequireFromString("30.00"),
		Total:       decimal.RequireFromString("33.50"),
		ShippingAddress: integration.Address{
			Name:    "Grace Hopper",
			Line1:   "1 Navy Way",
			City:    "Arlington",
			Country: "US",
		},
		Items: []integration.ExternalOrderItem{
			{ExternalID: "l1", SKU: "SKU-1", QuantityOrdered: 1, UnitPrice: decimal.RequireFromString("10"), Status: status},
			{ExternalID: "l2", SKU: "SKU-2", QuantityOrdered: 2, UnitPrice: decimal.RequireFromString("10"), Status: status},
		},
		UpdatedAt: updated,
	}
}

func orderBatch(tenantID uuid.UUID, source integration.RecordSource, recs ...integration.ExternalRecord) integration.ReconcileRequest {
	return integration.ReconcileRequest{
		TenantID: tenantID,
		Provider: integration.ProviderShipHero,
		Resource: integration.ResourceOrders,
		Source:   source,
		Records:  recs,
	}
}
