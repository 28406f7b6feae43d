package integration

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// ExternalRecord
// ---------------------------------------------------------------------------

// ExternalRecord is the provider-agnostic record shape produced by both the
// fetch clients and the webhook translators.
type ExternalRecord interface {
	// Resource returns the resource type the record belongs to
	Resource() ResourceType
	// NaturalKey returns the per-tenant identity of the record
	NaturalKey() string
	// RemoteUpdatedAt returns the provider-side modification time
	RemoteUpdatedAt() time.Time
}

// UndecodableRecord stands in for a provider node that could not be decoded.
// It carries whatever natural key could be read from the node so the
// reconciler can report it as a failure of that record alone.
type UndecodableRecord struct {
	Kind  ResourceType
	Key   string
	Cause string
	Raw   json.RawMessage
}

// Resource implements ExternalRecord
func (u *UndecodableRecord) Resource() ResourceType { return u.Kind }

// NaturalKey implements ExternalRecord
func (u *UndecodableRecord) NaturalKey() string { return u.Key }

// RemoteUpdatedAt implements ExternalRecord; it is always zero.
func (u *UndecodableRecord) RemoteUpdatedAt() time.Time { return time.Time{} }

// Address is a postal address snapshot
type Address struct {
	Name       string `json:"name,omitempty" validate:"max=200"`
	Company    string `json:"company,omitempty" validate:"max=200"`
	Line1      string `json:"line1,omitempty" validate:"max=300"`
	Line2      string `json:"line2,omitempty" validate:"max=300"`
	City       string `json:"city,omitempty" validate:"max=100"`
	Region     string `json:"region,omitempty" validate:"max=100"`
	PostalCode string `json:"postal_code,omitempty" validate:"max=32"`
	Country    string `json:"country,omitempty" validate:"omitempty,len=2"`
	Phone      string `json:"phone,omitempty" validate:"max=50"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
}

// IsZero returns true if no field is set
func (a Address) IsZero() bool {
	return a == Address{}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// ExternalOrder is an order as reported by a provider
type ExternalOrder struct {
	ExternalID      string              `json:"external_id" validate:"required,max=128"`
	OrderNumber     string              `json:"order_number" validate:"required,max=128"`
	Status          string              `json:"status" validate:"max=64"`
	Currency        string              `json:"currency" validate:"omitempty,len=3"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	TaxTotal        decimal.Decimal     `json:"tax_total"`
	ShippingTotal   decimal.Decimal     `json:"shipping_total"`
	DiscountTotal   decimal.Decimal     `json:"discount_total"`
	Total           decimal.Decimal     `json:"total"`
	CustomerName    string              `json:"customer_name" validate:"max=200"`
	CustomerEmail   string              `json:"customer_email" validate:"omitempty,email"`
	ShippingAddress Address             `json:"shipping_address"`
	Items           []ExternalOrderItem `json:"items" validate:"dive"`
	OrderedAt       *time.Time          `json:"ordered_at,omitempty"`
	AllocatedAt     *time.Time          `json:"allocated_at,omitempty"`
	PackedAt        *time.Time          `json:"packed_at,omitempty"`
	ShippedAt       *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at" validate:"required"`
	Raw             json.RawMessage     `json:"-"`
}

// ExternalOrderItem is a line item of an ExternalOrder
type ExternalOrderItem struct {
	ExternalID          string          `json:"external_id" validate:"required,max=128"`
	SKU                 string          `json:"sku" validate:"required,max=128"`
	Name                string          `json:"name" validate:"max=300"`
	QuantityOrdered     int             `json:"quantity_ordered" validate:"gte=0"`
	QuantityAllocated   int             `json:"quantity_allocated" validate:"gte=0"`
	QuantityShipped     int             `json:"quantity_shipped" validate:"gte=0"`
	QuantityBackordered int             `json:"quantity_backordered" validate:"gte=0"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	Status              string          `json:"status" validate:"max=64"`
}

// Resource implements ExternalRecord
func (o *ExternalOrder) Resource() ResourceType { return ResourceOrders }

// NaturalKey implements ExternalRecord
func (o *ExternalOrder) NaturalKey() string { return o.ExternalID }

// RemoteUpdatedAt implements ExternalRecord
func (o *ExternalOrder) RemoteUpdatedAt() time.Time { return o.UpdatedAt }

// ---------------------------------------------------------------------------
// Products
// ---------------------------------------------------------------------------

// ExternalProduct is a SKU as reported by a provider
type ExternalProduct struct {
	ExternalID string          `json:"external_id" validate:"max=128"`
	SKU        string          `json:"sku" validate:"required,max=128"`
	Name       string          `json:"name" validate:"max=300"`
	Barcode    string          `json:"barcode" validate:"max=64"`
	Active     bool            `json:"active"`
	Price      decimal.Decimal `json:"price"`
	WeightKg   decimal.Decimal `json:"weight_kg"`
	UpdatedAt  time.Time       `json:"updated_at" validate:"required"`
	Raw        json.RawMessage `json:"-"`
}

// Resource implements ExternalRecord
func (p *ExternalProduct) Resource() ResourceType { return ResourceProducts }

// NaturalKey implements ExternalRecord
func (p *ExternalProduct) NaturalKey() string { return p.SKU }

// RemoteUpdatedAt implements ExternalRecord
func (p *ExternalProduct) RemoteUpdatedAt() time.Time { return p.UpdatedAt }

// ---------------------------------------------------------------------------
// Inventory
// ---------------------------------------------------------------------------

// ExternalInventory is the stock level of one SKU in one warehouse
type ExternalInventory struct {
	SKU         string          `json:"sku" validate:"required,max=128"`
	WarehouseID string          `json:"warehouse_id" validate:"required,max=128"`
	OnHand      int             `json:"on_hand"`
	Allocated   int             `json:"allocated" validate:"gte=0"`
	Available   int             `json:"available"`
	Reserved    int             `json:"reserved" validate:"gte=0"`
	Backordered int             `json:"backordered" validate:"gte=0"`
	UpdatedAt   time.Time       `json:"updated_at" validate:"required"`
	Raw         json.RawMessage `json:"-"`
}

// InventoryKey builds the natural key of an inventory row
func InventoryKey(sku, warehouseID string) string {
	return sku + "@" + warehouseID
}

// Resource implements ExternalRecord
func (i *ExternalInventory) Resource() ResourceType { return ResourceInventory }

// NaturalKey implements ExternalRecord
func (i *ExternalInventory) NaturalKey() string { return InventoryKey(i.SKU, i.WarehouseID) }

// RemoteUpdatedAt implements ExternalRecord
func (i *ExternalInventory) RemoteUpdatedAt() time.Time { return i.UpdatedAt }

// ---------------------------------------------------------------------------
// Shipments
// ---------------------------------------------------------------------------

// ExternalShipment is an outbound shipment as reported by a provider
type ExternalShipment struct {
	ExternalID      string          `json:"external_id" validate:"required,max=128"`
	ExternalOrderID string          `json:"external_order_id" validate:"required,max=128"`
	Carrier         string          `json:"carrier" validate:"max=64"`
	Service         string          `json:"service" validate:"max=128"`
	TrackingNumber  string          `json:"tracking_number" validate:"max=128"`
	Status          string          `json:"status" validate:"max=64"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at" validate:"required"`
	Raw             json.RawMessage `json:"-"`
}

// Resource implements ExternalRecord
func (s *ExternalShipment) Resource() ResourceType { return ResourceShipments }

// NaturalKey implements ExternalRecord
func (s *ExternalShipment) NaturalKey() string { return s.ExternalID }

// RemoteUpdatedAt implements ExternalRecord
func (s *ExternalShipment) RemoteUpdatedAt() time.Time { return s.UpdatedAt }
