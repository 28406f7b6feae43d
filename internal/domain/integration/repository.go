package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateRecord is returned by Create when the natural key already exists,
// typically because a concurrent path inserted it first.
var ErrDuplicateRecord = errors.New("integration: record already exists")

// OrderRepository stores canonical orders and their line items
type OrderRepository interface {
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*CanonicalOrder, error)
	FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) (map[string]*CanonicalOrder, error)
	Create(ctx context.Context, order *CanonicalOrder) error
	// Update writes only the named fields; replaceItems deletes and recreates the line items
	Update(ctx context.Context, order *CanonicalOrder, fields []string, replaceItems bool) error
}

// ProductRepository stores canonical products
type ProductRepository interface {
	FindBySKUs(ctx context.Context, tenantID uuid.UUID, skus []string) (map[string]*CanonicalProduct, error)
	Create(ctx context.Context, product *CanonicalProduct) error
	Update(ctx context.Context, product *CanonicalProduct, fields []string) error
}

// InventoryRepository stores inventory snapshots
type InventoryRepository interface {
	// FindByKeys looks up snapshots by InventoryKey(sku, warehouse)
	FindByKeys(ctx context.Context, tenantID uuid.UUID, keys []string) (map[string]*InventorySnapshot, error)
	Create(ctx context.Context, snapshot *InventorySnapshot) error
	Update(ctx context.Context, snapshot *InventorySnapshot, fields []string) error
}

// ShipmentRepository stores canonical shipments
type ShipmentRepository interface {
	FindByExternalIDs(ctx context.Context, tenantID uuid.UUID, externalIDs []string) (map[string]*CanonicalShipment, error)
	Create(ctx context.Context, shipment *CanonicalShipment) error
	Update(ctx context.Context, shipment *CanonicalShipment, fields []string) error
}

// RecordFailureRepository is the ledger of records that failed to reconcile
type RecordFailureRepository interface {
	Record(ctx context.Context, failures []RecordFailure) error
	Resolve(ctx context.Context, tenantID uuid.UUID, resource ResourceType, keys []string) error
	List(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]RecordFailure, error)
	CountOpen(ctx context.Context, tenantID uuid.UUID) (map[ResourceType]int64, error)
}
