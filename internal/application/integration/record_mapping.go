package integration

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wmsync/backend/internal/domain/integration"
)

// newRecordValidator returns a validator that reports json field names
func newRecordValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkRecord validates the struct tags of an external record and the
// invariants every record must satisfy.
func checkRecord(v *validator.Validate, rec integration.ExternalRecord) *integration.RecordMappingError {
	key := rec.NaturalKey()
	if err := v.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return integration.NewRecordMappingError(key, fe.Namespace(), "failed "+fe.Tag()+" check")
		}
		return integration.NewRecordMappingError(key, "", err.Error())
	}
	if key == "" {
		return integration.NewRecordMappingError(key, "", "record has no natural key")
	}
	if rec.RemoteUpdatedAt().IsZero() {
		return integration.NewRecordMappingError(key, "updated_at", "remote updated-at is missing")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Mapping to canonical shape
// ---------------------------------------------------------------------------

// mapOrder converts an external order. The second return value is the
// uncollapsed status used for lifecycle stamping.
func mapOrder(canon *integration.StatusCanonicalizer, provider integration.ProviderID, ext *integration.ExternalOrder) (*integration.CanonicalOrder, integration.CanonicalStatus, *integration.RecordMappingError) {
	items := make([]integration.CanonicalOrderItem, 0, len(ext.Items))
	seen := make(map[string]bool, len(ext.Items))
	for i, it := range ext.Items {
		if seen[it.ExternalID] {
			return nil, "", integration.NewRecordMappingError(ext.ExternalID, "items", "duplicate line item id "+it.ExternalID)
		}
		seen[it.ExternalID] = true
		items = append(items, integration.CanonicalOrderItem{
			ExternalID:          it.ExternalID,
			SKU:                 it.SKU,
			Name:                it.Name,
			QuantityOrdered:     it.QuantityOrdered,
			QuantityAllocated:   it.QuantityAllocated,
			QuantityShipped:     it.QuantityShipped,
			QuantityBackordered: it.QuantityBackordered,
			UnitPrice:           it.UnitPrice,
			Status:              canon.Canonicalize(provider, it.Status),
			Position:            i,
		})
	}

	lifecycleStatus := canon.Lifecycle(provider, ext.Status)
	return &integration.CanonicalOrder{
		Provider:        provider,
		ExternalID:      ext.ExternalID,
		OrderNumber:     ext.OrderNumber,
		Status:          canon.Canonicalize(provider, ext.Status),
		RawStatus:       ext.Status,
		Currency:        strings.ToUpper(ext.Currency),
		Subtotal:        ext.Subtotal,
		TaxTotal:        ext.TaxTotal,
		ShippingTotal:   ext.ShippingTotal,
		DiscountTotal:   ext.DiscountTotal,
		Total:           ext.Total,
		CustomerName:    ext.CustomerName,
		CustomerEmail:   ext.CustomerEmail,
		ShippingAddress: ext.ShippingAddress,
		Items:           items,
		Lifecycle: integration.Lifecycle{
			OrderedAt:   utcPtr(ext.OrderedAt),
			AllocatedAt: utcPtr(ext.AllocatedAt),
			PackedAt:    utcPtr(ext.PackedAt),
			ShippedAt:   utcPtr(ext.ShippedAt),
			DeliveredAt: utcPtr(ext.DeliveredAt),
			CancelledAt: utcPtr(ext.CancelledAt),
		},
		RemoteUpdatedAt: ext.UpdatedAt.UTC(),
	}, lifecycleStatus, nil
}

func mapProduct(provider integration.ProviderID, ext *integration.ExternalProduct) *integration.CanonicalProduct {
	return &integration.CanonicalProduct{
		Provider:        provider,
		SKU:             ext.SKU,
		ExternalID:      ext.ExternalID,
		Name:            ext.Name,
		Barcode:         ext.Barcode,
		Active:          ext.Active,
		Price:           ext.Price,
		WeightKg:        ext.WeightKg,
		RemoteUpdatedAt: ext.UpdatedAt.UTC(),
	}
}

func mapInventory(provider integration.ProviderID, ext *integration.ExternalInventory) *integration.InventorySnapshot {
	return &integration.InventorySnapshot{
		Provider:        provider,
		SKU:             ext.SKU,
		WarehouseID:     ext.WarehouseID,
		OnHand:          ext.OnHand,
		Allocated:       ext.Allocated,
		Available:       ext.Available,
		Reserved:        ext.Reserved,
		Backordered:     ext.Backordered,
		RemoteUpdatedAt: ext.UpdatedAt.UTC(),
	}
}

func mapShipment(canon *integration.StatusCanonicalizer, provider integration.ProviderID, ext *integration.ExternalShipment) *integration.CanonicalShipment {
	return &integration.CanonicalShipment{
		Provider:        provider,
		ExternalID:      ext.ExternalID,
		ExternalOrderID: ext.ExternalOrderID,
		Carrier:         ext.Carrier,
		Service:         ext.Service,
		TrackingNumber:  ext.TrackingNumber,
		Status:          canon.Canonicalize(provider, ext.Status),
		RawStatus:       ext.Status,
		ShippedAt:       utcPtr(ext.ShippedAt),
		DeliveredAt:     utcPtr(ext.DeliveredAt),
		RemoteUpdatedAt: ext.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
