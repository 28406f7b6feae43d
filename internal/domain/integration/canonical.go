package integration

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Lifecycle holds the set-once milestone timestamps of an order
type Lifecycle struct {
	OrderedAt   *time.Time
	AllocatedAt *time.Time
	PackedAt    *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
}

// Merge folds a newer-or-equal record's lifecycle into the stored one.
// A missing incoming value never clears a stored one, except that a
// non-cancelled status reverses an earlier cancellation.
func (l Lifecycle) Merge(incoming Lifecycle, status CanonicalStatus) Lifecycle {
	out := Lifecycle{
		OrderedAt:   pick(incoming.OrderedAt, l.OrderedAt),
		AllocatedAt: pick(incoming.AllocatedAt, l.AllocatedAt),
		PackedAt:    pick(incoming.PackedAt, l.PackedAt),
		ShippedAt:   pick(incoming.ShippedAt, l.ShippedAt),
		DeliveredAt: pick(incoming.DeliveredAt, l.DeliveredAt),
		CancelledAt: pick(incoming.CancelledAt, l.CancelledAt),
	}
	if status != StatusCancelled && incoming.CancelledAt == nil {
		out.CancelledAt = nil
	}
	return out
}

// Stamp sets the milestone matching status to at when the provider did not send it
func (l Lifecycle) Stamp(status CanonicalStatus, at time.Time) Lifecycle {
	t := at
	switch status {
	case StatusAllocated:
		if l.AllocatedAt == nil {
			l.AllocatedAt = &t
		}
	case StatusPacked:
		if l.PackedAt == nil {
			l.PackedAt = &t
		}
	case StatusShipped:
		if l.ShippedAt == nil {
			l.ShippedAt = &t
		}
	case StatusDelivered:
		if l.DeliveredAt == nil {
			l.DeliveredAt = &t
		}
	case StatusCancelled:
		if l.CancelledAt == nil {
			l.CancelledAt = &t
		}
	}
	return l
}

func pick(preferred, fallback *time.Time) *time.Time {
	if preferred != nil {
		return preferred
	}
	return fallback
}

// ---------------------------------------------------------------------------
// CanonicalOrder
// ---------------------------------------------------------------------------

// CanonicalOrder is the local mirror of a provider order.
// (TenantID, ExternalID) is unique.
type CanonicalOrder struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Provider        ProviderID
	ExternalID      string
	OrderNumber     string
	Status          CanonicalStatus
	RawStatus       string
	Currency        string
	Subtotal        decimal.Decimal
	TaxTotal        decimal.Decimal
	ShippingTotal   decimal.Decimal
	DiscountTotal   decimal.Decimal
	Total           decimal.Decimal
	CustomerName    string
	CustomerEmail   string
	ShippingAddress Address
	Items           []CanonicalOrderItem
	Lifecycle       Lifecycle
	RemoteUpdatedAt time.Time
	LastSyncedAt    time.Time
	LastSource      RecordSource
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CanonicalOrderItem is a line item owned by exactly one CanonicalOrder
type CanonicalOrderItem struct {
	ExternalID          string
	SKU                 string
	Name                string
	QuantityOrdered     int
	QuantityAllocated   int
	QuantityShipped     int
	QuantityBackordered int
	UnitPrice           decimal.Decimal
	Status              CanonicalStatus
	Position            int
}

// Diff returns the names of the fields whose values differ from other.
// Bookkeeping fields (ids, sync timestamps, source) are not compared.
func (o *CanonicalOrder) Diff(other *CanonicalOrder) []string {
	var fields []string
	add := func(name string, changed bool) {
		if changed {
			fields = append(fields, name)
		}
	}
	add("order_number", o.OrderNumber != other.OrderNumber)
	add("status", o.Status != other.Status)
	add("raw_status", o.RawStatus != other.RawStatus)
	add("currency", o.Currency != other.Currency)
	add("subtotal", !o.Subtotal.Equal(other.Subtotal))
	add("tax_total", !o.TaxTotal.Equal(other.TaxTotal))
	add("shipping_total", !o.ShippingTotal.Equal(other.ShippingTotal))
	add("discount_total", !o.DiscountTotal.Equal(other.DiscountTotal))
	add("total", !o.Total.Equal(other.Total))
	add("customer_name", o.CustomerName != other.CustomerName)
	add("customer_email", o.CustomerEmail != other.CustomerEmail)
	add("shipping_address", o.ShippingAddress != other.ShippingAddress)
	add("ordered_at", !sameTime(o.Lifecycle.OrderedAt, other.Lifecycle.OrderedAt))
	add("allocated_at", !sameTime(o.Lifecycle.AllocatedAt, other.Lifecycle.AllocatedAt))
	add("packed_at", !sameTime(o.Lifecycle.PackedAt, other.Lifecycle.PackedAt))
	add("shipped_at", !sameTime(o.Lifecycle.ShippedAt, other.Lifecycle.ShippedAt))
	add("delivered_at", !sameTime(o.Lifecycle.DeliveredAt, other.Lifecycle.DeliveredAt))
	add("cancelled_at", !sameTime(o.Lifecycle.CancelledAt, other.Lifecycle.CancelledAt))
	return fields
}

// ItemsEqual compares two line item sets by external line-item id
func ItemsEqual(a, b []CanonicalOrderItem) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]CanonicalOrderItem, len(a))
	for _, it := range a {
		byID[it.ExternalID] = it
	}
	for _, it := range b {
		other, ok := byID[it.ExternalID]
		if !ok || !other.equal(it) {
			return false
		}
	}
	return true
}

func (i CanonicalOrderItem) equal(o CanonicalOrderItem) bool {
	return i.SKU == o.SKU &&
		i.Name == o.Name &&
		i.QuantityOrdered == o.QuantityOrdered &&
		i.QuantityAllocated == o.QuantityAllocated &&
		i.QuantityShipped == o.QuantityShipped &&
		i.QuantityBackordered == o.QuantityBackordered &&
		i.UnitPrice.Equal(o.UnitPrice) &&
		i.Status == o.Status &&
		i.Position == o.Position
}

// ---------------------------------------------------------------------------
// CanonicalProduct
// ---------------------------------------------------------------------------

// CanonicalProduct is the local mirror of a provider SKU. (TenantID, SKU) is unique.
type CanonicalProduct struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Provider        ProviderID
	SKU             string
	ExternalID      string
	Name            string
	Barcode         string
	Active          bool
	Price           decimal.Decimal
	WeightKg        decimal.Decimal
	RemoteUpdatedAt time.Time
	LastSyncedAt    time.Time
	LastSource      RecordSource
}

// Diff returns the names of the fields whose values differ from other
func (p *CanonicalProduct) Diff(other *CanonicalProduct) []string {
	var fields []string
	if p.ExternalID != other.ExternalID {
		fields = append(fields, "external_id")
	}
	if p.Name != other.Name {
		fields = append(fields, "name")
	}
	if p.Barcode != other.Barcode {
		fields = append(fields, "barcode")
	}
	if p.Active != other.Active {
		fields = append(fields, "active")
	}
	if !p.Price.Equal(other.Price) {
		fields = append(fields, "price")
	}
	if !p.WeightKg.Equal(other.WeightKg) {
		fields = append(fields, "weight_kg")
	}
	return fields
}

// ---------------------------------------------------------------------------
// InventorySnapshot
// ---------------------------------------------------------------------------

// InventorySnapshot is the stock of one SKU in one warehouse.
// (TenantID, SKU, WarehouseID) is unique.
type InventorySnapshot struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Provider        ProviderID
	SKU             string
	WarehouseID     string
	OnHand          int
	Allocated       int
	Available       int
	Reserved        int
	Backordered     int
	RemoteUpdatedAt time.Time
	LastSyncedAt    time.Time
	LastSource      RecordSource
}

// Key returns the natural key of the snapshot
func (s *InventorySnapshot) Key() string {
	return InventoryKey(s.SKU, s.WarehouseID)
}

// Diff returns the names of the fields whose values differ from other
func (s *InventorySnapshot) Diff(other *InventorySnapshot) []string {
	var fields []string
	if s.OnHand != other.OnHand {
		fields = append(fields, "on_hand")
	}
	if s.Allocated != other.Allocated {
		fields = append(fields, "allocated")
	}
	if s.Available != other.Available {
		fields = append(fields, "available")
	}
	if s.Reserved != other.Reserved {
		fields = append(fields, "reserved")
	}
	if s.Backordered != other.Backordered {
		fields = append(fields, "backordered")
	}
	return fields
}

// ---------------------------------------------------------------------------
// CanonicalShipment
// ---------------------------------------------------------------------------

// CanonicalShipment is the local mirror of an outbound shipment
type CanonicalShipment struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Provider        ProviderID
	ExternalID      string
	ExternalOrderID string
	Carrier         string
	Service         string
	TrackingNumber  string
	Status          CanonicalStatus
	RawStatus       string
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	RemoteUpdatedAt time.Time
	LastSyncedAt    time.Time
	LastSource      RecordSource
}

// Diff returns the names of the fields whose values differ from other
func (s *CanonicalShipment) Diff(other *CanonicalShipment) []string {
	var fields []string
	if s.ExternalOrderID != other.ExternalOrderID {
		fields = append(fields, "external_order_id")
	}
	if s.Carrier != other.Carrier {
		fields = append(fields, "carrier")
	}
	if s.Service != other.Service {
		fields = append(fields, "service")
	}
	if s.TrackingNumber != other.TrackingNumber {
		fields = append(fields, "tracking_number")
	}
	if s.Status != other.Status {
		fields = append(fields, "status")
	}
	if s.RawStatus != other.RawStatus {
		fields = append(fields, "raw_status")
	}
	if !sameTime(s.ShippedAt, other.ShippedAt) {
		fields = append(fields, "shipped_at")
	}
	if !sameTime(s.DeliveredAt, other.DeliveredAt) {
		fields = append(fields, "delivered_at")
	}
	return fields
}

// ---------------------------------------------------------------------------
// RecordFailure
// ---------------------------------------------------------------------------

// RecordFailure is one record that could not be reconciled
type RecordFailure struct {
	TenantID    uuid.UUID
	Resource    ResourceType
	ExternalKey string
	Error       string
	Attempts    int
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// SyncMetadataFields are written alongside every changed field set
var SyncMetadataFields = []string{"remote_updated_at", "last_synced_at", "last_source"}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
