package integration

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/scheduler"
)

// ---------------------------------------------------------------------------
// Sync job DTOs
// ---------------------------------------------------------------------------

// SyncJobResponse represents an accepted sync job
type SyncJobResponse struct {
	JobID       uuid.UUID                `json:"job_id"`
	TenantID    uuid.UUID                `json:"tenant_id"`
	Provider    integration.ProviderID   `json:"provider"`
	Resource    integration.ResourceType `json:"resource"`
	Kind        integration.RunKind      `json:"kind"`
	Status      string                   `json:"status"`
	SubmittedAt time.Time                `json:"submitted_at"`
}

// ToSyncJobResponse converts a scheduler job snapshot
func ToSyncJobResponse(job scheduler.Job) SyncJobResponse {
	return SyncJobResponse{
		JobID:       job.ID,
		TenantID:    job.TenantID,
		Provider:    job.Provider,
		Resource:    job.Resource,
		Kind:        job.Kind,
		Status:      string(job.Status),
		SubmittedAt: job.SubmittedAt,
	}
}

// ---------------------------------------------------------------------------
// Status DTOs
// ---------------------------------------------------------------------------

// SyncStatusResponse is the per-tenant status snapshot
type SyncStatusResponse struct {
	TenantID        uuid.UUID                   `json:"tenant_id"`
	Provider        integration.ProviderID      `json:"provider"`
	ConnectionState integration.ConnectionState `json:"connection_state"`
	Resources       []ResourceStatusResponse    `json:"resources"`
	OpenFailures    int64                       `json:"open_failures"`
}

// ResourceStatusResponse is the snapshot of one resource's checkpoint
type ResourceStatusResponse struct {
	Resource              integration.ResourceType `json:"resource"`
	Status                integration.RunStatus    `json:"status"`
	LastSyncAt            *time.Time               `json:"last_sync_at,omitempty"`
	RecordsProcessed      int64                    `json:"records_processed"`
	TotalRecordsProcessed int64                    `json:"total_records_processed"`
	ConsecutiveErrors     int                      `json:"consecutive_errors"`
	LastError             string                   `json:"last_error,omitempty"`
	RunKind               integration.RunKind      `json:"run_kind,omitempty"`
	RunStartedAt          *time.Time               `json:"run_started_at,omitempty"`
	LastFinishedAt        *time.Time               `json:"last_finished_at,omitempty"`
	OpenFailures          int64                    `json:"open_failures"`
}

func toResourceStatus(cp integration.Checkpoint, openFailures int64) ResourceStatusResponse {
	return ResourceStatusResponse{
		Resource:              cp.Resource,
		Status:                cp.Status,
		LastSyncAt:            cp.LastSyncAt,
		RecordsProcessed:      cp.RecordsProcessed,
		TotalRecordsProcessed: cp.TotalRecordsProcessed,
		ConsecutiveErrors:     cp.ConsecutiveErrors,
		LastError:             cp.LastError,
		RunKind:               cp.RunKind,
		RunStartedAt:          cp.RunStartedAt,
		LastFinishedAt:        cp.LastFinishedAt,
		OpenFailures:          openFailures,
	}
}

// RecordFailureResponse is an entry of the record failure ledger
type RecordFailureResponse struct {
	Resource    integration.ResourceType `json:"resource"`
	ExternalKey string                   `json:"external_key"`
	Error       string                   `json:"error"`
	Attempts    int                      `json:"attempts"`
	FirstSeenAt time.Time                `json:"first_seen_at"`
	LastSeenAt  time.Time                `json:"last_seen_at"`
}

// ToRecordFailureResponses converts ledger entries
func ToRecordFailureResponses(failures []integration.RecordFailure) []RecordFailureResponse {
	out := make([]RecordFailureResponse, len(failures))
	for i, f := range failures {
		out[i] = RecordFailureResponse{
			Resource:    f.Resource,
			ExternalKey: f.ExternalKey,
			Error:       f.Error,
			Attempts:    f.Attempts,
			FirstSeenAt: f.FirstSeenAt,
			LastSeenAt:  f.LastSeenAt,
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Order DTOs
// ---------------------------------------------------------------------------

// OrderResponse represents a mirrored order
type OrderResponse struct {
	ID              uuid.UUID                   `json:"id"`
	Provider        integration.ProviderID      `json:"provider"`
	ExternalID      string                      `json:"external_id"`
	OrderNumber     string                      `json:"order_number"`
	Status          integration.CanonicalStatus `json:"status"`
	RawStatus       string                      `json:"raw_status"`
	Currency        string                      `json:"currency"`
	Subtotal        decimal.Decimal             `json:"subtotal"`
	TaxTotal        decimal.Decimal             `json:"tax_total"`
	ShippingTotal   decimal.Decimal             `json:"shipping_total"`
	DiscountTotal   decimal.Decimal             `json:"discount_total"`
	Total           decimal.Decimal             `json:"total"`
	CustomerName    string                      `json:"customer_name,omitempty"`
	CustomerEmail   string                      `json:"customer_email,omitempty"`
	ShippingAddress integration.Address         `json:"shipping_address"`
	Items           []OrderItemResponse         `json:"items"`
	OrderedAt       *time.Time                  `json:"ordered_at,omitempty"`
	AllocatedAt     *time.Time                  `json:"allocated_at,omitempty"`
	PackedAt        *time.Time                  `json:"packed_at,omitempty"`
	ShippedAt       *time.Time                  `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time                  `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time                  `json:"cancelled_at,omitempty"`
	RemoteUpdatedAt time.Time                   `json:"remote_updated_at"`
	LastSyncedAt    time.Time                   `json:"last_synced_at"`
	LastSource      integration.RecordSource    `json:"last_source"`
}

// OrderItemResponse represents an order line
type OrderItemResponse struct {
	ExternalID          string                      `json:"external_id"`
	SKU                 string                      `json:"sku"`
	Name                string                      `json:"name,omitempty"`
	QuantityOrdered     int                         `json:"quantity_ordered"`
	QuantityAllocated   int                         `json:"quantity_allocated"`
	QuantityShipped     int                         `json:"quantity_shipped"`
	QuantityBackordered int                         `json:"quantity_backordered"`
	UnitPrice           decimal.Decimal             `json:"unit_price"`
	Status              integration.CanonicalStatus `json:"status"`
}

// ToOrderResponse converts a canonical order
func ToOrderResponse(o *integration.CanonicalOrder) OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = OrderItemResponse{
			ExternalID:          it.ExternalID,
			SKU:                 it.SKU,
			Name:                it.Name,
			QuantityOrdered:     it.QuantityOrdered,
			QuantityAllocated:   it.QuantityAllocated,
			QuantityShipped:     it.QuantityShipped,
			QuantityBackordered: it.QuantityBackordered,
			UnitPrice:           it.UnitPrice,
			Status:              it.Status,
		}
	}
	return OrderResponse{
		ID:              o.ID,
		Provider:        o.Provider,
		ExternalID:      o.ExternalID,
		OrderNumber:     o.OrderNumber,
		Status:          o.Status,
		RawStatus:       o.RawStatus,
		Currency:        o.Currency,
		Subtotal:        o.Subtotal,
		TaxTotal:        o.TaxTotal,
		ShippingTotal:   o.ShippingTotal,
		DiscountTotal:   o.DiscountTotal,
		Total:           o.Total,
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		ShippingAddress: o.ShippingAddress,
		Items:           items,
		OrderedAt:       o.Lifecycle.OrderedAt,
		AllocatedAt:     o.Lifecycle.AllocatedAt,
		PackedAt:        o.Lifecycle.PackedAt,
		ShippedAt:       o.Lifecycle.ShippedAt,
		DeliveredAt:     o.Lifecycle.DeliveredAt,
		CancelledAt:     o.Lifecycle.CancelledAt,
		RemoteUpdatedAt: o.RemoteUpdatedAt,
		LastSyncedAt:    o.LastSyncedAt,
		LastSource:      o.LastSource,
	}
}

// UpdateShippingAddressRequest is the body of the write-through command
type UpdateShippingAddressRequest struct {
	Name       string `json:"name" binding:"required,max=200"`
	Company    string `json:"company" binding:"max=200"`
	Line1      string `json:"line1" binding:"required,max=300"`
	Line2      string `json:"line2" binding:"max=300"`
	City       string `json:"city" binding:"required,max=100"`
	Region     string `json:"region" binding:"max=100"`
	PostalCode string `json:"postal_code" binding:"required,max=32"`
	Country    string `json:"country" binding:"required,iso3166_1_alpha2"`
	Phone      string `json:"phone" binding:"max=50"`
	Email      string `json:"email" binding:"omitempty,email"`
}

// ToAddress converts the request to the domain address
func (r UpdateShippingAddressRequest) ToAddress() integration.Address {
	return integration.Address{
		Name:       r.Name,
		Company:    r.Company,
		Line1:      r.Line1,
		Line2:      r.Line2,
		City:       r.City,
		Region:     r.Region,
		PostalCode: r.PostalCode,
		Country:    r.Country,
		Phone:      r.Phone,
		Email:      r.Email,
	}
}

// ---------------------------------------------------------------------------
// Webhook DTOs
// ---------------------------------------------------------------------------

// IngestResponse is the reply to a webhook delivery
type IngestResponse struct {
	Status     integration.IngestStatus `json:"status"`
	Reason     string                   `json:"reason,omitempty"`
	Resource   string                   `json:"resource,omitempty"`
	Created    int                      `json:"created"`
	Updated    int                      `json:"updated"`
	Unchanged  int                      `json:"unchanged"`
	Stale      int                      `json:"stale"`
	Failed     []string                 `json:"failed,omitempty"`
	ReceivedAt time.Time                `json:"received_at"`
}

// ToIngestResponse converts an ingest result
func ToIngestResponse(r *integration.IngestResult) IngestResponse {
	var failed []string
	for _, f := range r.Reconciled.Failed {
		failed = append(failed, f.ExternalKey)
	}
	return IngestResponse{
		Status:     r.Status,
		Reason:     r.Reason,
		Resource:   string(r.Resource),
		Created:    r.Reconciled.Created,
		Updated:    r.Reconciled.Updated,
		Unchanged:  r.Reconciled.Unchanged,
		Stale:      r.Reconciled.Stale,
		Failed:     failed,
		ReceivedAt: r.ReceivedAt,
	}
}
