package wms

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wmsync/backend/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// ShipHero GraphQL envelope
// ---------------------------------------------------------------------------

// shipHeroCreditLimitCode is the GraphQL error code for an exhausted credit bucket
const shipHeroCreditLimitCode = 30

// shipHeroCreditRestoreRate is the number of credits restored per second
const shipHeroCreditRestoreRate = 60

type shipHeroRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type shipHeroResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []shipHeroError            `json:"errors"`
}

type shipHeroError struct {
	Code             int    `json:"code"`
	Message          string `json:"message"`
	TimeRemaining    string `json:"time_remaining"`
	RequiredCredits  int    `json:"required_credits"`
	RemainingCredits int    `json:"remaining_credits"`
}

type shipHeroConnection struct {
	PageInfo struct {
		HasNextPage bool   `json:"has_next_page"`
		EndCursor   string `json:"end_cursor"`
	} `json:"page_info"`
	Edges []struct {
		Node json.RawMessage `json:"node"`
	} `json:"edges"`
}

// ---------------------------------------------------------------------------
// ShipHero nodes
// ---------------------------------------------------------------------------

type shipHeroAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

type shipHeroLineItem struct {
	ID                string          `json:"id"`
	SKU               string          `json:"sku"`
	ProductName       string          `json:"product_name"`
	Quantity          int             `json:"quantity"`
	QuantityAllocated int             `json:"quantity_allocated"`
	QuantityShipped   int             `json:"quantity_shipped"`
	BackorderQuantity int             `json:"backorder_quantity"`
	Price             decimal.Decimal `json:"price"`
	FulfillmentStatus string          `json:"fulfillment_status"`
}

type shipHeroOrder struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"order_number"`
	FulfillmentStatus string             `json:"fulfillment_status"`
	Currency          string             `json:"currency"`
	Subtotal          decimal.Decimal    `json:"subtotal"`
	TotalTax          decimal.Decimal    `json:"total_tax"`
	TotalShipping     decimal.Decimal    `json:"total_shipping"`
	TotalDiscounts    decimal.Decimal    `json:"total_discounts"`
	TotalPrice        decimal.Decimal    `json:"total_price"`
	Email             string             `json:"email"`
	ShippingAddress   shipHeroAddress    `json:"shipping_address"`
	LineItems         []shipHeroLineItem `json:"line_items"`
	OrderDate         *time.Time         `json:"order_date"`
	AllocatedAt       *time.Time         `json:"allocated_at"`
	PackedAt          *time.Time         `json:"packed_at"`
	ShippedAt         *time.Time         `json:"shipped_at"`
	DeliveredAt       *time.Time         `json:"delivered_at"`
	CanceledAt        *time.Time         `json:"canceled_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

type shipHeroProduct struct {
	ID        string          `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Barcode   string          `json:"barcode"`
	Active    bool            `json:"active"`
	Price     decimal.Decimal `json:"price"`
	Weight    decimal.Decimal `json:"weight"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type shipHeroInventory struct {
	SKU         string    `json:"sku"`
	WarehouseID string    `json:"warehouse_id"`
	OnHand      int       `json:"on_hand"`
	Allocated   int       `json:"allocated"`
	Available   int       `json:"available"`
	Reserved    int       `json:"reserve_inventory"`
	Backorder   int       `json:"backorder"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type shipHeroShipment struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"order_id"`
	Carrier        string     `json:"carrier"`
	Method         string     `json:"shipping_method"`
	TrackingNumber string     `json:"tracking_number"`
	Status         string     `json:"status"`
	ShippedAt      *time.Time `json:"created_date"`
	DeliveredAt    *time.Time `json:"delivered_date"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func (a shipHeroAddress) toAddress() integration.Address {
	name := a.FirstName
	if a.LastName != "" {
		if name != "" {
			name += " "
		}
		name += a.LastName
	}
	return integration.Address{
		Name:       name,
		Company:    a.Company,
		Line1:      a.Address1,
		Line2:      a.Address2,
		City:       a.City,
		Region:     a.State,
		PostalCode: a.Zip,
		Country:    a.Country,
		Phone:      a.Phone,
		Email:      a.Email,
	}
}

func shipHeroAddressFrom(addr integration.Address) map[string]string {
	return map[string]string{
		"first_name": addr.Name,
		"company":    addr.Company,
		"address1":   addr.Line1,
		"address2":   addr.Line2,
		"city":       addr.City,
		"state":      addr.Region,
		"zip":        addr.PostalCode,
		"country":    addr.Country,
		"phone":      addr.Phone,
		"email":      addr.Email,
	}
}

func (o *shipHeroOrder) toExternal(raw json.RawMessage) *integration.ExternalOrder {
	items := make([]integration.ExternalOrderItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, integration.ExternalOrderItem{
			ExternalID:          li.ID,
			SKU:                 li.SKU,
			Name:                li.ProductName,
			QuantityOrdered:     li.Quantity,
			QuantityAllocated:   li.QuantityAllocated,
			QuantityShipped:     li.QuantityShipped,
			QuantityBackordered: li.BackorderQuantity,
			UnitPrice:           li.Price,
			Status:              li.FulfillmentStatus,
		})
	}
	return &integration.ExternalOrder{
		ExternalID:      o.ID,
		OrderNumber:     o.OrderNumber,
		Status:          o.FulfillmentStatus,
		Currency:        o.Currency,
		Subtotal:        o.Subtotal,
		TaxTotal:        o.TotalTax,
		ShippingTotal:   o.TotalShipping,
		DiscountTotal:   o.TotalDiscounts,
		Total:           o.TotalPrice,
		CustomerName:    o.ShippingAddress.toAddress().Name,
		CustomerEmail:   o.Email,
		ShippingAddress: o.ShippingAddress.toAddress(),
		Items:           items,
		OrderedAt:       o.OrderDate,
		AllocatedAt:     o.AllocatedAt,
		PackedAt:        o.PackedAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CanceledAt,
		UpdatedAt:       o.UpdatedAt,
		Raw:             raw,
	}
}

func (p *shipHeroProduct) toExternal(raw json.RawMessage) *integration.ExternalProduct {
	return &integration.ExternalProduct{
		ExternalID: p.ID,
		SKU:        p.SKU,
		Name:       p.Name,
		Barcode:    p.Barcode,
		Active:     p.Active,
		Price:      p.Price,
		WeightKg:   p.Weight,
		UpdatedAt:  p.UpdatedAt,
		Raw:        raw,
	}
}

func (i *shipHeroInventory) toExternal(raw json.RawMessage) *integration.ExternalInventory {
	return &integration.ExternalInventory{
		SKU:         i.SKU,
		WarehouseID: i.WarehouseID,
		OnHand:      i.OnHand,
		Allocated:   i.Allocated,
		Available:   i.Available,
		Reserved:    i.Reserved,
		Backordered: i.Backorder,
		UpdatedAt:   i.UpdatedAt,
		Raw:         raw,
	}
}

func (s *shipHeroShipment) toExternal(raw json.RawMessage) *integration.ExternalShipment {
	return &integration.ExternalShipment{
		ExternalID:      s.ID,
		ExternalOrderID: s.OrderID,
		Carrier:         s.Carrier,
		Service:         s.Method,
		TrackingNumber:  s.TrackingNumber,
		Status:          s.Status,
		ShippedAt:       s.ShippedAt,
		DeliveredAt:     s.DeliveredAt,
		UpdatedAt:       s.UpdatedAt,
		Raw:             raw,
	}
}

// decodeShipHeroNode converts one node of the given resource
func decodeShipHeroNode(resource integration.ResourceType, raw json.RawMessage) (integration.ExternalRecord, error) {
	switch resource {
	case integration.ResourceOrders:
		var n shipHeroOrder
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n.toExternal(raw), nil
	case integration.ResourceProducts:
		var n shipHeroProduct
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n.toExternal(raw), nil
	case integration.ResourceInventory:
		var n shipHeroInventory
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n.toExternal(raw), nil
	case integration.ResourceShipments:
		var n shipHeroShipment
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n.toExternal(raw), nil
	default:
		return nil, integration.ErrUnsupportedResource
	}
}
