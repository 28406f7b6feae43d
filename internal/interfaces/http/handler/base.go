package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/infrastructure/scheduler"
	"github.com/wmsync/backend/internal/interfaces/http/dto"
	"github.com/wmsync/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 accepted response
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// ErrorWithCode sends an error response, deriving status code from error code
func (h *BaseHandler) ErrorWithCode(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.ErrorWithCode(c, dto.ErrCodeBadRequest, message)
}

// errorMapping pairs a sentinel with the code reported for it. The first
// match wins, so more specific sentinels come first.
var errorMapping = []struct {
	target  error
	code    string
	message string
}{
	{integration.ErrAlreadyRunning, dto.ErrCodeSyncAlreadyRunning, "A sync run is already in progress"},
	{integration.ErrConnectionNotFound, dto.ErrCodeNotFound, "No WMS connection for tenant"},
	{integration.ErrOrderNotFound, dto.ErrCodeNotFound, "Order not found"},
	{integration.ErrConnectionInactive, dto.ErrCodeConnectionInactive, "WMS connection is not active"},
	{integration.ErrUnsupportedResource, dto.ErrCodeUnsupportedResource, "Resource is not mirrored for this connection"},
	{integration.ErrUnsupportedWrite, dto.ErrCodeUnsupportedResource, "Provider does not accept this change"},
	{scheduler.ErrJobQueueFull, dto.ErrCodeQueueFull, "Sync queue is full, retry later"},
	{scheduler.ErrSchedulerNotRunning, dto.ErrCodeServiceUnavailable, "Sync scheduler is not running"},
	{integration.ErrRateLimited, dto.ErrCodeServiceUnavailable, "Provider is rate limiting, retry later"},
	{integration.ErrUnavailable, dto.ErrCodeServiceUnavailable, "Provider is temporarily unavailable"},
	{integration.ErrRequestRejected, dto.ErrCodeBadGateway, "Provider rejected the request"},
	{integration.ErrProviderAuth, dto.ErrCodeBadGateway, "Provider rejected the stored credentials"},
	{integration.ErrInvalidResponse, dto.ErrCodeBadGateway, "Provider returned an invalid response"},
	{context.DeadlineExceeded, dto.ErrCodeTimeout, "Request timed out"},
}

// HandleError maps service errors to HTTP responses. A shared.DomainError
// replaces the generic message with its own. Unknown errors are logged and
// reported as internal errors without leaking details.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			message := m.message
			var de *shared.DomainError
			if errors.As(err, &de) && de.Message != "" {
				message = de.Message
			}
			h.ErrorWithCode(c, m.code, message)
			return
		}
	}

	logger.FromGin(c).Error("Unhandled request error", zap.Error(err))
	h.ErrorWithCode(c, dto.ErrCodeInternal, "An unexpected error occurred")
}

// tenantID returns the tenant bound by the tenant scope middleware
func tenantID(c *gin.Context) (uuid.UUID, bool) {
	return middleware.GetTenantID(c)
}
