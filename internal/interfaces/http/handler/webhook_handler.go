package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	integrationapp "github.com/wmsync/backend/internal/application/integration"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/logger"
	"github.com/wmsync/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

// MaxWebhookBodyBytes caps inbound webhook payloads
const MaxWebhookBodyBytes int64 = 1 << 20

// WebhookIngester accepts raw webhook deliveries
type WebhookIngester interface {
	Ingest(ctx context.Context, provider integration.ProviderID, header http.Header, body []byte) (*integration.IngestResult, error)
}

// WebhookHandler receives provider webhooks. The routes are not behind
// service auth; deliveries are authenticated by their signature.
type WebhookHandler struct {
	BaseHandler
	ingester WebhookIngester
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(ingester WebhookIngester) *WebhookHandler {
	return &WebhookHandler{ingester: ingester}
}

// Receive godoc
//
//	@Summary		Receive a WMS webhook
//	@Description	Rejected deliveries are acknowledged with 200 so providers do not retry them
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Param			provider	path		string	true	"Provider"	Enums(shiphero, extensiv)
//	@Success		200			{object}	dto.Response{data=integrationapp.IngestResponse}
//	@Failure		404			{object}	dto.Response
//	@Failure		413			{object}	dto.Response
//	@Failure		500			{object}	dto.Response
//	@Router			/webhooks/{provider} [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := integration.ProviderID(c.Param("provider"))

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.ErrorWithCode(c, dto.ErrCodePayloadTooLarge, "Webhook payload too large")
			return
		}
		h.BadRequest(c, "Failed to read request body")
		return
	}

	result, err := h.ingester.Ingest(c.Request.Context(), provider, c.Request.Header, body)
	switch {
	case err == nil:
		h.Success(c, integrationapp.ToIngestResponse(result))
	case errors.Is(err, integration.ErrUnknownProvider):
		h.ErrorWithCode(c, dto.ErrCodeNotFound, "Unknown provider "+string(provider))
	case errors.Is(err, integration.ErrWebhookRejected):
		logger.FromGin(c).Info("Webhook rejected", zap.String("reason", result.Reason))
		c.JSON(http.StatusOK, dto.Response{Success: false, Data: integrationapp.ToIngestResponse(result)})
	default:
		// The idempotency marker was released, so the provider's retry is processed
		h.HandleError(c, err)
	}
}
