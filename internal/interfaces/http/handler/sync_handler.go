package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	integrationapp "github.com/wmsync/backend/internal/application/integration"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/interfaces/http/dto"
	"github.com/wmsync/backend/internal/interfaces/http/middleware"
)

// defaultFailureWindow is how far back the failure ledger is read when the
// caller does not pass since
const defaultFailureWindow = 24 * time.Hour

// SyncService is the application surface used by SyncHandler
type SyncService interface {
	TriggerManualSync(ctx context.Context, tenantID uuid.UUID, resource integration.ResourceType) (*integrationapp.SyncJobResponse, error)
	TriggerBackfill(ctx context.Context, tenantID uuid.UUID, resource integration.ResourceType) (*integrationapp.SyncJobResponse, error)
	GetSyncStatus(ctx context.Context, tenantID uuid.UUID) (*integrationapp.SyncStatusResponse, error)
	ListFailures(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]integrationapp.RecordFailureResponse, error)
	GetOrder(ctx context.Context, tenantID uuid.UUID, externalID string) (*integrationapp.OrderResponse, error)
	UpdateShippingAddress(ctx context.Context, tenantID uuid.UUID, externalID string, req integrationapp.UpdateShippingAddressRequest) error
}

// SyncHandler serves the sync API consumed by the CRUD application
type SyncHandler struct {
	BaseHandler
	service SyncService
	now     func() time.Time
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(service SyncService) *SyncHandler {
	return &SyncHandler{service: service, now: time.Now}
}

// listFailuresQuery are the query parameters of ListFailures
type listFailuresQuery struct {
	Since time.Time `form:"since" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit int       `form:"limit" binding:"omitempty,min=1,max=500"`
}

// TriggerSync godoc
//
//	@Summary	Queue a manual incremental sync
//	@Tags		sync
//	@Produce	json
//	@Param		tenant_id	path		string	true	"Tenant ID"
//	@Param		resource	path		string	true	"Resource"	Enums(orders, products, inventory, shipments)
//	@Success	202			{object}	dto.Response{data=integrationapp.SyncJobResponse}
//	@Failure	409			{object}	dto.Response
//	@Router		/sync/tenants/{tenant_id}/resources/{resource}/trigger [post]
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	h.trigger(c, h.service.TriggerManualSync)
}

// TriggerBackfill godoc
//
//	@Summary	Queue a backfill run
//	@Tags		sync
//	@Produce	json
//	@Param		tenant_id	path		string	true	"Tenant ID"
//	@Param		resource	path		string	true	"Resource"
//	@Success	202			{object}	dto.Response{data=integrationapp.SyncJobResponse}
//	@Router		/sync/tenants/{tenant_id}/resources/{resource}/backfill [post]
func (h *SyncHandler) TriggerBackfill(c *gin.Context) {
	h.trigger(c, h.service.TriggerBackfill)
}

type triggerFunc func(context.Context, uuid.UUID, integration.ResourceType) (*integrationapp.SyncJobResponse, error)

func (h *SyncHandler) trigger(c *gin.Context, fn triggerFunc) {
	tenant, ok := tenantID(c)
	if !ok {
		h.ErrorWithCode(c, dto.ErrCodeUnauthorized, "Tenant context missing")
		return
	}
	resource, err := integration.ParseResourceType(c.Param("resource"))
	if err != nil {
		h.BadRequest(c, "Unknown resource "+c.Param("resource"))
		return
	}

	job, err := fn(c.Request.Context(), tenant, resource)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, job)
}

// GetStatus godoc
//
//	@Summary	Sync status per resource
//	@Tags		sync
//	@Produce	json
//	@Param		tenant_id	path		string	true	"Tenant ID"
//	@Success	200			{object}	dto.Response{data=integrationapp.SyncStatusResponse}
//	@Router		/sync/tenants/{tenant_id}/status [get]
func (h *SyncHandler) GetStatus(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		h.ErrorWithCode(c, dto.ErrCodeUnauthorized, "Tenant context missing")
		return
	}
	status, err := h.service.GetSyncStatus(c.Request.Context(), tenant)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, status)
}

// ListFailures godoc
//
//	@Summary	Records that failed to map or validate
//	@Tags		sync
//	@Produce	json
//	@Param		tenant_id	path		string	true	"Tenant ID"
//	@Param		since		query		string	false	"RFC 3339 lower bound, defaults to 24h ago"
//	@Param		limit		query		int		false	"Max entries"	minimum(1)	maximum(500)
//	@Success	200			{object}	dto.Response{data=[]integrationapp.RecordFailureResponse}
//	@Router		/sync/tenants/{tenant_id}/failures [get]
func (h *SyncHandler) ListFailures(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		h.ErrorWithCode(c, dto.ErrCodeUnauthorized, "Tenant context missing")
		return
	}
	var q listFailuresQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if q.Since.IsZero() {
		q.Since = h.now().Add(-defaultFailureWindow)
	}

	failures, err := h.service.ListFailures(c.Request.Context(), tenant, q.Since, q.Limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, failures)
}

// GetOrder godoc
//
//	@Summary	Read a mirrored order
//	@Tags		orders
//	@Produce	json
//	@Param		tenant_id	path		string	true	"Tenant ID"
//	@Param		external_id	path		string	true	"Provider order ID"
//	@Success	200			{object}	dto.Response{data=integrationapp.OrderResponse}
//	@Failure	404			{object}	dto.Response
//	@Router		/sync/tenants/{tenant_id}/orders/{external_id} [get]
func (h *SyncHandler) GetOrder(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		h.ErrorWithCode(c, dto.ErrCodeUnauthorized, "Tenant context missing")
		return
	}
	order, err := h.service.GetOrder(c.Request.Context(), tenant, c.Param("external_id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, order)
}

// UpdateShippingAddress godoc
//
//	@Summary	Forward a shipping address change to the WMS
//	@Tags		orders
//	@Accept		json
//	@Produce	json
//	@Param		tenant_id	path	string										true	"Tenant ID"
//	@Param		external_id	path	string										true	"Provider order ID"
//	@Param		request		body	integrationapp.UpdateShippingAddressRequest	true	"New address"
//	@Success	202
//	@Router		/sync/tenants/{tenant_id}/orders/{external_id}/shipping-address [post]
func (h *SyncHandler) UpdateShippingAddress(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		h.ErrorWithCode(c, dto.ErrCodeUnauthorized, "Tenant context missing")
		return
	}
	var req integrationapp.UpdateShippingAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	if err := h.service.UpdateShippingAddress(c.Request.Context(), tenant, c.Param("external_id"), req); err != nil {
		h.HandleError(c, err)
		return
	}
	// The mirror is refreshed by the next sync or webhook, not here
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(gin.H{"forwarded": true}))
}
