package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/interfaces/http/dto"
	"github.com/wmsync/backend/internal/interfaces/http/middleware"
)

type MockWebhookIngester struct {
	mock.Mock
}

func (m *MockWebhookIngester) Ingest(ctx context.Context, provider integration.ProviderID, header http.Header, body []byte) (*integration.IngestResult, error) {
	args := m.Called(ctx, provider, header, body)
	return args.Get(0).(*integration.IngestResult), args.Error(1)
}

func setupWebhookRouter(ingester WebhookIngester) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/webhooks/:provider", middleware.BodyLimit(MaxWebhookBodyBytes), NewWebhookHandler(ingester).Receive)
	return r
}

func TestWebhookHandler_Receive(t *testing.T) {
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	body := `{"event_type":"order.updated","event_id":"E-1","connection_id":"cust-7","data":{}}`

	tests := []struct {
		name     string
		result   *integration.IngestResult
		err      error
		wantCode int
		contains string
	}{
		{
			name: "accepted",
			result: &integration.IngestResult{Status: integration.IngestAccepted, Resource: integration.ResourceOrders,
				Reconciled: integration.ReconcileResult{Updated: 1}, ReceivedAt: received},
			wantCode: http.StatusOK,
			contains: `"status":"accepted"`,
		},
		{
			name:     "duplicate",
			result:   &integration.IngestResult{Status: integration.IngestDuplicate, ReceivedAt: received},
			wantCode: http.StatusOK,
			contains: `"status":"duplicate"`,
		},
		{
			name:     "queued",
			result:   &integration.IngestResult{Status: integration.IngestQueued, ReceivedAt: received},
			wantCode: http.StatusOK,
			contains: `"status":"queued"`,
		},
		{
			name:     "rejected is acknowledged",
			result:   &integration.IngestResult{Status: integration.IngestRejected, Reason: "invalid webhook signature", ReceivedAt: received},
			err:      fmt.Errorf("%w: %w", integration.ErrWebhookRejected, integration.ErrInvalidSignature),
			wantCode: http.StatusOK,
			contains: `"success":false`,
		},
		{
			name:     "unknown provider",
			result:   &integration.IngestResult{Status: integration.IngestRejected, ReceivedAt: received},
			err:      fmt.Errorf("%w: %w", integration.ErrWebhookRejected, integration.ErrUnknownProvider),
			wantCode: http.StatusNotFound,
			contains: dto.ErrCodeNotFound,
		},
		{
			name:     "processing failure asks for redelivery",
			result:   &integration.IngestResult{ReceivedAt: received},
			err:      errors.New("reconcile: database is locked"),
			wantCode: http.StatusInternalServerError,
			contains: dto.ErrCodeInternal,
		},
		{
			name:     "store unavailable",
			result:   &integration.IngestResult{ReceivedAt: received},
			err:      fmt.Errorf("publish deferred: %w", integration.ErrUnavailable),
			wantCode: http.StatusServiceUnavailable,
			contains: dto.ErrCodeServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ingester := new(MockWebhookIngester)
			ingester.On("Ingest", mock.Anything, integration.ProviderExtensiv, mock.Anything, []byte(body)).Return(tt.result, tt.err)
			r := setupWebhookRouter(ingester)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/extensiv", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.contains)
			ingester.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_PayloadTooLarge(t *testing.T) {
	ingester := new(MockWebhookIngester)
	r := setupWebhookRouter(ingester)
	big := strings.Repeat("x", int(MaxWebhookBodyBytes)+1)

	t.Run("declared length", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/shiphero", strings.NewReader(big))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("streamed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/shiphero", strings.NewReader(big))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), dto.ErrCodePayloadTooLarge)
	})

	ingester.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
