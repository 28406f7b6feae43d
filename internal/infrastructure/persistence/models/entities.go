package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wmsync/backend/internal/domain/integration"
	"gorm.io/datatypes"
)

// OrderModel is the persistence model for integration.CanonicalOrder
type OrderModel struct {
	ID              uuid.UUID                                `gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID                                `gorm:"type:uuid;not null;uniqueIndex:idx_synced_orders_tenant_external,priority:1;index:idx_synced_orders_tenant_status,priority:1"`
	Provider        string                                   `gorm:"type:varchar(32);not null"`
	ExternalID      string                                   `gorm:"type:varchar(128);not null;uniqueIndex:idx_synced_orders_tenant_external,priority:2"`
	OrderNumber     string                                   `gorm:"type:varchar(128);not null"`
	Status          string                                   `gorm:"type:varchar(32);not null;index:idx_synced_orders_tenant_status,priority:2"`
	RawStatus       string                                   `gorm:"type:varchar(64)"`
	Currency        string                                   `gorm:"type:varchar(3)"`
	Subtotal        decimal.Decimal                          `gorm:"type:decimal(18,4);not null;default:0"`
	TaxTotal        decimal.Decimal                          `gorm:"type:decimal(18,4);not null;default:0"`
	ShippingTotal   decimal.Decimal                          `gorm:"type:decimal(18,4);not null;default:0"`
	DiscountTotal   decimal.Decimal                          `gorm:"type:decimal(18,4);not null;default:0"`
	Total           decimal.Decimal                          `gorm:"type:decimal(18,4);not null;default:0"`
	CustomerName    string                                   `gorm:"type:varchar(200)"`
	CustomerEmail   string                                   `gorm:"type:varchar(255)"`
	ShippingAddress datatypes.JSONType[integration.Address] `gorm:"type:jsonb"`
	OrderedAt       *time.Time
	AllocatedAt     *time.Time
	PackedAt        *time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
	RemoteUpdatedAt time.Time        `gorm:"not null"`
	LastSyncedAt    time.Time        `gorm:"not null"`
	LastSource      string           `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time        `gorm:"not null"`
	UpdatedAt       time.Time        `gorm:"not null"`
	Items           []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "synced_orders"
}

// OrderItemModel is the persistence model for integration.CanonicalOrderItem
type OrderItemModel struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderID             uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_synced_order_items_order_external,priority:1"`
	TenantID            uuid.UUID       `gorm:"type:uuid;not null;index"`
	ExternalID          string          `gorm:"type:varchar(128);not null;uniqueIndex:idx_synced_order_items_order_external,priority:2"`
	SKU                 string          `gorm:"column:sku;type:varchar(128);not null;index"`
	Name                string          `gorm:"type:varchar(300)"`
	QuantityOrdered     int             `gorm:"not null;default:0"`
	QuantityAllocated   int             `gorm:"not null;default:0"`
	QuantityShipped     int             `gorm:"not null;default:0"`
	QuantityBackordered int             `gorm:"not null;default:0"`
	UnitPrice           decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Status              string          `gorm:"type:varchar(32);not null"`
	Position            int             `gorm:"not null;default:0"`
}

// TableName returns the table name for GORM
func (OrderItemModel) TableName() string {
	return "synced_order_items"
}

// ToDomain converts the persistence model to a domain CanonicalOrder
func (m *OrderModel) ToDomain() *integration.CanonicalOrder {
	o := &integration.CanonicalOrder{
		ID:              m.ID,
		TenantID:        m.TenantID,
		Provider:        integration.ProviderID(m.Provider),
		ExternalID:      m.ExternalID,
		OrderNumber:     m.OrderNumber,
		Status:          integration.CanonicalStatus(m.Status),
		RawStatus:       m.RawStatus,
		Currency:        m.Currency,
		Subtotal:        m.Subtotal,
		TaxTotal:        m.TaxTotal,
		ShippingTotal:   m.ShippingTotal,
		DiscountTotal:   m.DiscountTotal,
		Total:           m.Total,
		CustomerName:    m.CustomerName,
		CustomerEmail:   m.CustomerEmail,
		ShippingAddress: m.ShippingAddress.Data(),
		Lifecycle: integration.Lifecycle{
			OrderedAt:   utcPtr(m.OrderedAt),
			AllocatedAt: utcPtr(m.AllocatedAt),
			PackedAt:    utcPtr(m.PackedAt),
			ShippedAt:   utcPtr(m.ShippedAt),
			DeliveredAt: utcPtr(m.DeliveredAt),
			CancelledAt: utcPtr(m.CancelledAt),
		},
		RemoteUpdatedAt: m.RemoteUpdatedAt.UTC(),
		LastSyncedAt:    m.LastSyncedAt.UTC(),
		LastSource:      integration.RecordSource(m.LastSource),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		Items:           make([]integration.CanonicalOrderItem, 0, len(m.Items)),
	}
	for _, it := range m.Items {
		o.Items = append(o.Items, integration.CanonicalOrderItem{
			ExternalID:          it.ExternalID,
			SKU:                 it.SKU,
			Name:                it.Name,
			QuantityOrdered:     it.QuantityOrdered,
			QuantityAllocated:   it.QuantityAllocated,
			QuantityShipped:     it.QuantityShipped,
			QuantityBackordered: it.QuantityBackordered,
			UnitPrice:           it.UnitPrice,
			Status:              integration.CanonicalStatus(it.Status),
			Position:            it.Position,
		})
	}
	return o
}

// FromDomain populates the persistence model, including items, from a domain CanonicalOrder
func (m *OrderModel) FromDomain(o *integration.CanonicalOrder) {
	m.ID = o.ID
	m.TenantID = o.TenantID
	m.Provider = string(o.Provider)
	m.ExternalID = o.ExternalID
	m.OrderNumber = o.OrderNumber
	m.Status = string(o.Status)
	m.RawStatus = o.RawStatus
	m.Currency = o.Currency
	m.Subtotal = o.Subtotal
	m.TaxTotal = o.TaxTotal
	m.ShippingTotal = o.ShippingTotal
	m.DiscountTotal = o.DiscountTotal
	m.Total = o.Total
	m.CustomerName = o.CustomerName
	m.CustomerEmail = o.CustomerEmail
	m.ShippingAddress = datatypes.NewJSONType(o.ShippingAddress)
	m.OrderedAt = o.Lifecycle.OrderedAt
	m.AllocatedAt = o.Lifecycle.AllocatedAt
	m.PackedAt = o.Lifecycle.PackedAt
	m.ShippedAt = o.Lifecycle.ShippedAt
	m.DeliveredAt = o.Lifecycle.DeliveredAt
	m.CancelledAt = o.Lifecycle.CancelledAt
	m.RemoteUpdatedAt = o.RemoteUpdatedAt
	m.LastSyncedAt = o.LastSyncedAt
	m.LastSource = string(o.LastSource)
	m.CreatedAt = o.CreatedAt
	m.UpdatedAt = o.UpdatedAt
	m.Items = ItemModelsFromDomain(o)
}

// ItemModelsFromDomain builds fresh item rows for an order
func ItemModelsFromDomain(o *integration.CanonicalOrder) []OrderItemModel {
	items := make([]OrderItemModel, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemModel{
			ID:                  uuid.New(),
			OrderID:             o.ID,
			TenantID:            o.TenantID,
			ExternalID:          it.ExternalID,
			SKU:                 it.SKU,
			Name:                it.Name,
			QuantityOrdered:     it.QuantityOrdered,
			QuantityAllocated:   it.QuantityAllocated,
			QuantityShipped:     it.QuantityShipped,
			QuantityBackordered: it.QuantityBackordered,
			UnitPrice:           it.UnitPrice,
			Status:              string(it.Status),
			Position:            it.Position,
		})
	}
	return items
}

// ProductModel is the persistence model for integration.CanonicalProduct
type ProductModel struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_synced_products_tenant_sku,priority:1"`
	Provider        string          `gorm:"type:varchar(32);not null"`
	SKU             string          `gorm:"column:sku;type:varchar(128);not null;uniqueIndex:idx_synced_products_tenant_sku,priority:2"`
	ExternalID      string          `gorm:"type:varchar(128)"`
	Name            string          `gorm:"type:varchar(300)"`
	Barcode         string          `gorm:"type:varchar(64)"`
	Active          bool            `gorm:"not null;default:true"`
	Price           decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	WeightKg        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	RemoteUpdatedAt time.Time       `gorm:"not null"`
	LastSyncedAt    time.Time       `gorm:"not null"`
	LastSource      string          `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time       `gorm:"not null"`
	UpdatedAt       time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "synced_products"
}

// ToDomain converts the persistence model to a domain CanonicalProduct
func (m *ProductModel) ToDomain() *integration.CanonicalProduct {
	return &integration.CanonicalProduct{
		ID:              m.ID,
		TenantID:        m.TenantID,
		Provider:        integration.ProviderID(m.Provider),
		SKU:             m.SKU,
		ExternalID:      m.ExternalID,
		Name:            m.Name,
		Barcode:         m.Barcode,
		Active:          m.Active,
		Price:           m.Price,
		WeightKg:        m.WeightKg,
		RemoteUpdatedAt: m.RemoteUpdatedAt.UTC(),
		LastSyncedAt:    m.LastSyncedAt.UTC(),
		LastSource:      integration.RecordSource(m.LastSource),
	}
}

// FromDomain populates the persistence model from a domain CanonicalProduct
func (m *ProductModel) FromDomain(p *integration.CanonicalProduct) {
	m.ID = p.ID
	m.TenantID = p.TenantID
	m.Provider = string(p.Provider)
	m.SKU = p.SKU
	m.ExternalID = p.ExternalID
	m.Name = p.Name
	m.Barcode = p.Barcode
	m.Active = p.Active
	m.Price = p.Price
	m.WeightKg = p.WeightKg
	m.RemoteUpdatedAt = p.RemoteUpdatedAt
	m.LastSyncedAt = p.LastSyncedAt
	m.LastSource = string(p.LastSource)
}

// InventoryModel is the persistence model for integration.InventorySnapshot
type InventoryModel struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_synced_inventory_key,priority:1"`
	Provider        string    `gorm:"type:varchar(32);not null"`
	SKU             string    `gorm:"column:sku;type:varchar(128);not null;uniqueIndex:idx_synced_inventory_key,priority:2"`
	WarehouseID     string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_synced_inventory_key,priority:3"`
	OnHand          int       `gorm:"not null;default:0"`
	Allocated       int       `gorm:"not null;default:0"`
	Available       int       `gorm:"not null;default:0"`
	Reserved        int       `gorm:"not null;default:0"`
	Backordered     int       `gorm:"not null;default:0"`
	RemoteUpdatedAt time.Time `gorm:"not null"`
	LastSyncedAt    time.Time `gorm:"not null"`
	LastSource      string    `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (InventoryModel) TableName() string {
	return "synced_inventory"
}

// ToDomain converts the persistence model to a domain InventorySnapshot
func (m *InventoryModel) ToDomain() *integration.InventorySnapshot {
	return &integration.InventorySnapshot{
		ID:              m.ID,
		TenantID:        m.TenantID,
		Provider:        integration.ProviderID(m.Provider),
		SKU:             m.SKU,
		WarehouseID:     m.WarehouseID,
		OnHand:          m.OnHand,
		Allocated:       m.Allocated,
		Available:       m.Available,
		Reserved:        m.Reserved,
		Backordered:     m.Backordered,
		RemoteUpdatedAt: m.RemoteUpdatedAt.UTC(),
		LastSyncedAt:    m.LastSyncedAt.UTC(),
		LastSource:      integration.RecordSource(m.LastSource),
	}
}

// FromDomain populates the persistence model from a domain InventorySnapshot
func (m *InventoryModel) FromDomain(s *integration.InventorySnapshot) {
	m.ID = s.ID
	m.TenantID = s.TenantID
	m.Provider = string(s.Provider)
	m.SKU = s.SKU
	m.WarehouseID = s.WarehouseID
	m.OnHand = s.OnHand
	m.Allocated = s.Allocated
	m.Available = s.Available
	m.Reserved = s.Reserved
	m.Backordered = s.Backordered
	m.RemoteUpdatedAt = s.RemoteUpdatedAt
	m.LastSyncedAt = s.LastSyncedAt
	m.LastSource = string(s.LastSource)
}

// ShipmentModel is the persistence model for integration.CanonicalShipment
type ShipmentModel struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_synced_shipments_tenant_external,priority:1;index:idx_synced_shipments_tenant_order,priority:1"`
	Provider        string     `gorm:"type:varchar(32);not null"`
	ExternalID      string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_synced_shipments_tenant_external,priority:2"`
	ExternalOrderID string     `gorm:"type:varchar(128);not null;index:idx_synced_shipments_tenant_order,priority:2"`
	Carrier         string     `gorm:"type:varchar(64)"`
	Service         string     `gorm:"type:varchar(128)"`
	TrackingNumber  string     `gorm:"type:varchar(128)"`
	Status          string     `gorm:"type:varchar(32);not null"`
	RawStatus       string     `gorm:"type:varchar(64)"`
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	RemoteUpdatedAt time.Time `gorm:"not null"`
	LastSyncedAt    time.Time `gorm:"not null"`
	LastSource      string    `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ShipmentModel) TableName() string {
	return "synced_shipments"
}

// ToDomain converts the persistence model to a domain CanonicalShipment
func (m *ShipmentModel) ToDomain() *integration.CanonicalShipment {
	return &integration.CanonicalShipment{
		ID:              m.ID,
		TenantID:        m.TenantID,
		Provider:        integration.ProviderID(m.Provider),
		ExternalID:      m.ExternalID,
		ExternalOrderID: m.ExternalOrderID,
		Carrier:         m.Carrier,
		Service:         m.Service,
		TrackingNumber:  m.TrackingNumber,
		Status:          integration.CanonicalStatus(m.Status),
		RawStatus:       m.RawStatus,
		ShippedAt:       utcPtr(m.ShippedAt),
		DeliveredAt:     utcPtr(m.DeliveredAt),
		RemoteUpdatedAt: m.RemoteUpdatedAt.UTC(),
		LastSyncedAt:    m.LastSyncedAt.UTC(),
		LastSource:      integration.RecordSource(m.LastSource),
	}
}

// FromDomain populates the persistence model from a domain CanonicalShipment
func (m *ShipmentModel) FromDomain(s *integration.CanonicalShipment) {
	m.ID = s.ID
	m.TenantID = s.TenantID
	m.Provider = string(s.Provider)
	m.ExternalID = s.ExternalID
	m.ExternalOrderID = s.ExternalOrderID
	m.Carrier = s.Carrier
	m.Service = s.Service
	m.TrackingNumber = s.TrackingNumber
	m.Status = string(s.Status)
	m.RawStatus = s.RawStatus
	m.ShippedAt = s.ShippedAt
	m.DeliveredAt = s.DeliveredAt
	m.RemoteUpdatedAt = s.RemoteUpdatedAt
	m.LastSyncedAt = s.LastSyncedAt
	m.LastSource = string(s.LastSource)
}

// AllModels returns every model, for AutoMigrate in tests
func AllModels() []any {
	return []any{
		&SyncCheckpointModel{},
		&ConnectionModel{},
		&RecordFailureModel{},
		&OrderModel{},
		&OrderItemModel{},
		&ProductModel{},
		&InventoryModel{},
		&ShipmentModel{},
	}
}
