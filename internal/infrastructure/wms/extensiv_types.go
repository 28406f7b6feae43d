package wms

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wmsync/backend/internal/domain/integration"
)

// extensivList is the body of every Extensiv list endpoint
type extensivList struct {
	Items      []json.RawMessage `json:"items"`
	NextCursor string            `json:"next_cursor"`
}

type extensivAddress struct {
	Name     string `json:"name"`
	Company  string `json:"company"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}

type extensivOrderLine struct {
	LineID         string          `json:"line_id"`
	SKU            string          `json:"sku"`
	Description    string          `json:"description"`
	Qty            int             `json:"qty"`
	QtyAllocated   int             `json:"qty_allocated"`
	QtyShipped     int             `json:"qty_shipped"`
	QtyBackordered int             `json:"qty_backordered"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Status         string          `json:"status"`
}

type extensivOrder struct {
	OrderID      string          `json:"order_id"`
	ReferenceNum string          `json:"reference_num"`
	Status       string          `json:"status"`
	Currency     string          `json:"currency"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Tax          decimal.Decimal `json:"tax"`
	Shipping     decimal.Decimal `json:"shipping"`
	Discount     decimal.Decimal `json:"discount"`
	Total        decimal.Decimal `json:"total"`
	Customer     struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"customer"`
	ShipTo      extensivAddress     `json:"ship_to"`
	Lines       []extensivOrderLine `json:"lines"`
	CreatedAt   *time.Time          `json:"created_at"`
	AllocatedAt *time.Time          `json:"allocated_at"`
	PackedAt    *time.Time          `json:"packed_at"`
	ShippedAt   *time.Time          `json:"shipped_at"`
	DeliveredAt *time.Time          `json:"delivered_at"`
	CancelledAt *time.Time          `json:"cancelled_at"`
	ModifiedAt  time.Time           `json:"modified_at"`
}

type extensivProduct struct {
	ItemID      string          `json:"item_id"`
	SKU         string          `json:"sku"`
	Description string          `json:"description"`
	UPC         string          `json:"upc"`
	Active      bool            `json:"active"`
	Price       decimal.Decimal `json:"price"`
	Weight      decimal.Decimal `json:"weight"`
	ModifiedAt  time.Time       `json:"modified_at"`
}

type extensivInventory struct {
	SKU         string    `json:"sku"`
	FacilityID  string    `json:"facility_id"`
	OnHand      int       `json:"on_hand"`
	Allocated   int       `json:"allocated"`
	Available   int       `json:"available"`
	OnHold      int       `json:"on_hold"`
	Backordered int       `json:"backordered"`
	ModifiedAt  time.Time `json:"modified_at"`
}

type extensivShipment struct {
	ShipmentID     string     `json:"shipment_id"`
	OrderID        string     `json:"order_id"`
	Carrier        string     `json:"carrier"`
	ServiceLevel   string     `json:"service_level"`
	TrackingNumber string     `json:"tracking_number"`
	Status         string     `json:"status"`
	ShippedAt      *time.Time `json:"shipped_at"`
	DeliveredAt    *time.Time `json:"delivered_at"`
	ModifiedAt     time.Time  `json:"modified_at"`
}

func (a extensivAddress) toAddress() integration.Address {
	return integration.Address{
		Name:       a.Name,
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

func extensivAddressFrom(addr integration.Address) extensivAddress {
	return extensivAddress{
		Name:     addr.Name,
		Company:  addr.Company,
		Address1: addr.Line1,
		Address2: addr.Line2,
		City:     addr.City,
		State:    addr.Region,
		Zip:      addr.PostalCode,
		Country:  addr.Country,
		Phone:    addr.Phone,
		Email:    addr.Email,
	}
}

func (o *extensivOrder) toExternal(raw json.RawMessage) *integration.ExternalOrder {
	items := make([]integration.ExternalOrderItem, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, integration.ExternalOrderItem{
			ExternalID:          l.LineID,
			SKU:                 l.SKU,
			Name:                l.Description,
			QuantityOrdered:     l.Qty,
			QuantityAllocated:   l.QtyAllocated,
			QuantityShipped:     l.QtyShipped,
			QuantityBackordered: l.QtyBackordered,
			UnitPrice:           l.UnitPrice,
			Status:              l.Status,
		})
	}
	return &integration.ExternalOrder{
		ExternalID:      o.OrderID,
		OrderNumber:     o.ReferenceNum,
		Status:          o.Status,
		Currency:        o.Currency,
		Subtotal:        o.Subtotal,
		TaxTotal:        o.Tax,
		ShippingTotal:   o.Shipping,
		DiscountTotal:   o.Discount,
		Total:           o.Total,
		CustomerName:    o.Customer.Name,
		CustomerEmail:   o.Customer.Email,
		ShippingAddress: o.ShipTo.toAddress(),
		Items:           items,
		OrderedAt:       o.CreatedAt,
		AllocatedAt:     o.AllocatedAt,
		PackedAt:        o.PackedAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
		UpdatedAt:       o.ModifiedAt,
		Raw:             raw,
	}
}

// decodeExtensivItem converts one list item of the given resource
func decodeExtensivItem(resource integration.ResourceType, raw json.RawMessage) (integration.ExternalRecord, error) {
	switch resource {
	case integration.ResourceOrders:
		var o extensivOrder
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
		return o.toExternal(raw), nil
	case integration.ResourceProducts:
		var p extensivProduct
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &integration.ExternalProduct{
			ExternalID: p.ItemID,
			SKU:        p.SKU,
			Name:       p.Description,
			Barcode:    p.UPC,
			Active:     p.Active,
			Price:      p.Price,
			WeightKg:   p.Weight,
			UpdatedAt:  p.ModifiedAt,
			Raw:        raw,
		}, nil
	case integration.ResourceInventory:
		var i extensivInventory
		if err := json.Unmarshal(raw, &i); err != nil {
			return nil, err
		}
		return &integration.ExternalInventory{
			SKU:         i.SKU,
			WarehouseID: i.FacilityID,
			OnHand:      i.OnHand,
			Allocated:   i.Allocated,
			Available:   i.Available,
			Reserved:    i.OnHold,
			Backordered: i.Backordered,
			UpdatedAt:   i.ModifiedAt,
			Raw:         raw,
		}, nil
	case integration.ResourceShipments:
		var s extensivShipment
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return &integration.ExternalShipment{
			ExternalID:      s.ShipmentID,
			ExternalOrderID: s.OrderID,
			Carrier:         s.Carrier,
			Service:         s.ServiceLevel,
			TrackingNumber:  s.TrackingNumber,
			Status:          s.Status,
			ShippedAt:       s.ShippedAt,
			DeliveredAt:     s.DeliveredAt,
			UpdatedAt:       s.ModifiedAt,
			Raw:             raw,
		}, nil
	default:
		return nil, integration.ErrUnsupportedResource
	}
}
