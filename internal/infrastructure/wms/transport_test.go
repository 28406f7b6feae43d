package wms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

func newTestTransport(t *testing.T, baseURL string, mutate func(*ClientConfig)) *transport {
	t.Helper()
	cfg := ClientConfig{
		BaseURL:        baseURL,
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())
	return newTransport(integration.ProviderExtensiv, cfg, nil, zap.NewNop())
}

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestClientConfig_Validate(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		cfg := ClientConfig{BaseURL: "https://example.test"}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 30*time.Second, cfg.Timeout)
		assert.Equal(t, 100, cfg.PageSize)
		assert.Equal(t, int64(10<<20), cfg.MaxResponseBytes)
		assert.True(t, cfg.MaxBackoff >= cfg.InitialBackoff)
	})

	t.Run("missing base url", func(t *testing.T) {
		cfg := ClientConfig{}
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative retries", func(t *testing.T) {
		cfg := ClientConfig{BaseURL: "https://example.test", MaxRetries: -1}
		assert.Error(t, cfg.Validate())
	})

	t.Run("from provider config trims slash", func(t *testing.T) {
		cfg := ClientConfigFrom(config.ProviderConfig{BaseURL: "https://example.test/v1/", PageSize: 50})
		assert.Equal(t, "https://example.test/v1", cfg.BaseURL)
		assert.Equal(t, 50, cfg.PageSize)
	})
}

// ---------------------------------------------------------------------------
// Transport Tests
// ---------------------------------------------------------------------------

func TestTransport_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL, nil)
	resp, err := tr.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestTransport_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL, nil)
	_, err := tr.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")
}

func TestTransport_RateLimitIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL, nil)
	_, err := tr.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrRateLimited)
	wait, ok := integration.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, wait)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransport_ClassifiesClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: integration.ErrProviderAuth},
		{name: "forbidden", status: http.StatusForbidden, wantErr: integration.ErrProviderAuth},
		{name: "bad request", status: http.StatusBadRequest, wantErr: integration.ErrRequestRejected},
		{name: "not found", status: http.StatusNotFound, wantErr: integration.ErrRequestRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			tr := newTestTransport(t, srv.URL, nil)
			_, err := tr.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestTransport_ResponseSizeCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL, func(c *ClientConfig) { c.MaxResponseBytes = 1024 })
	_, err := tr.do(context.Background(), http.MethodGet, srv.URL, nil, nil)
	assert.ErrorIs(t, err, integration.ErrInvalidResponse)
}

func TestTransport_SendsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := newTestTransport(t, srv.URL, nil)
	h := http.Header{}
	h.Set("X-API-Key", "k")
	resp, err := tr.do(context.Background(), http.MethodPut, srv.URL, []byte(`{}`), h)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTransport_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := newTestTransport(t, srv.URL, nil)
	_, err := tr.do(ctx, http.MethodGet, srv.URL, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "empty", value: "", want: defaultRetryAfter},
		{name: "seconds", value: "12", want: 12 * time.Second},
		{name: "zero", value: "0", want: 0},
		{name: "http date", value: now.Add(30 * time.Second).Format(http.TimeFormat), want: 30 * time.Second},
		{name: "date in past", value: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "garbage", value: "soon", want: defaultRetryAfter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.value, now))
		})
	}
}
