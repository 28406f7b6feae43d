package wms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ClientConfig holds the HTTP behaviour shared by provider clients
type ClientConfig struct {
	// BaseURL is the provider API endpoint
	BaseURL string
	// Timeout bounds every single HTTP attempt
	Timeout time.Duration
	// MaxRetries is the number of retries of a transient failure
	MaxRetries int
	// PageSize is the number of records requested per page
	PageSize int
	// MaxResponseBytes caps response bodies
	MaxResponseBytes int64
	// InitialBackoff and MaxBackoff shape the retry schedule
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ClientConfigFrom maps a provider section of the application config
func ClientConfigFrom(cfg config.ProviderConfig) ClientConfig {
	return ClientConfig{
		BaseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		Timeout:          cfg.Timeout,
		MaxRetries:       cfg.MaxRetries,
		PageSize:         cfg.PageSize,
		MaxResponseBytes: cfg.MaxResponseBytes,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
	}
}

// Validate validates the configuration and fills defaults
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("wms: base url is required")
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		return errors.New("wms: max retries cannot be negative")
	}
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 10 << 20
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return nil
}

// response is a fully read HTTP response
type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// transport performs provider HTTP calls. Transient failures (network
// errors, timeouts, 5xx) are retried with jittered exponential backoff;
// rate limits and other 4xx are returned at once.
type transport struct {
	provider   integration.ProviderID
	cfg        ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func newTransport(provider integration.ProviderID, cfg ClientConfig, httpClient *http.Client, logger *zap.Logger) *transport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &transport{
		provider:   provider,
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}
}

func (t *transport) backOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.InitialBackoff
	bo.MaxInterval = t.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(t.cfg.MaxRetries)), ctx)
}

// do sends method+url with an optional JSON body and returns the response
// of the first attempt that is not transient.
func (t *transport) do(ctx context.Context, method, url string, body []byte, header http.Header) (*response, error) {
	attempt := 0
	var resp *response

	op := func() error {
		attempt++
		r, err := t.attempt(ctx, method, url, body, header)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if errors.Is(err, integration.ErrInvalidResponse) {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("%w: %s %s: %v", integration.ErrUnavailable, t.provider, method, err)
		}
		if err := t.classify(r); err != nil {
			if errors.Is(err, integration.ErrUnavailable) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		t.logger.Debug("Retrying provider request",
			zap.String("provider", string(t.provider)),
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, t.backOff(ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *transport) attempt(ctx context.Context, method, url string, body []byte, header http.Header) (*response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, t.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > t.cfg.MaxResponseBytes {
		return nil, fmt.Errorf("%w: %s response exceeds %d bytes", integration.ErrInvalidResponse, t.provider, t.cfg.MaxResponseBytes)
	}
	return &response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// classify maps an HTTP status to the fetch error taxonomy
func (t *transport) classify(r *response) error {
	switch {
	case r.StatusCode >= 200 && r.StatusCode < 300:
		return nil
	case r.StatusCode == http.StatusTooManyRequests:
		return integration.NewRateLimitedError(parseRetryAfter(r.Header.Get("Retry-After"), t.now()), fmt.Sprintf("%s HTTP 429", t.provider))
	case r.StatusCode >= 500:
		return fmt.Errorf("%w: %s HTTP %d", integration.ErrUnavailable, t.provider, r.StatusCode)
	case r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s HTTP %d", integration.ErrProviderAuth, t.provider, r.StatusCode)
	default:
		return fmt.Errorf("%w: %s HTTP %d: %s", integration.ErrRequestRejected, t.provider, r.StatusCode, snippet(r.Body))
	}
}

// defaultRetryAfter is used when a rate-limited response carries no usable hint
const defaultRetryAfter = 5 * time.Second

// parseRetryAfter reads a Retry-After value given in seconds or as an HTTP date
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
