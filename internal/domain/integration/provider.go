package integration

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Page is one page of a fetch. Exactly one of NextCursor / Done is meaningful:
// Done means no more data; otherwise NextCursor must be passed back unchanged.
type Page struct {
	Records    []ExternalRecord
	NextCursor string
	Done       bool
}

// FetchClient reads records modified within a window, one page at a time.
// Rate limits surface as *RateLimitedError and are never retried inside the
// client; transient failures are retried a bounded number of times before
// surfacing as ErrUnavailable.
type FetchClient interface {
	FetchPage(ctx context.Context, tenantID uuid.UUID, resource ResourceType, window FetchWindow, cursor string) (*Page, error)
}

// ProviderClient is the adapter for one WMS provider
type ProviderClient interface {
	// Provider returns the provider identifier
	Provider() ProviderID
	// SupportedResources returns the resources the provider can list
	SupportedResources() []ResourceType
	// FetchPage lists one page of records for a connection
	FetchPage(ctx context.Context, conn *Connection, resource ResourceType, window FetchWindow, cursor string) (*Page, error)
	// UpdateShippingAddress is a write-through command; the change round-trips as a later event
	UpdateShippingAddress(ctx context.Context, conn *Connection, externalOrderID string, addr Address) error
}

// WebhookTranslator converts a provider push event into external records.
// A zero resource with nil error means the event type is not handled.
type WebhookTranslator interface {
	TranslateWebhook(eventType string, data json.RawMessage) (ResourceType, []ExternalRecord, error)
}

// WebhookSource is a provider that can receive webhook deliveries
type WebhookSource interface {
	WebhookTranslator
	SignatureScheme() SignatureScheme
}

// SignatureScheme describes how a provider signs webhook deliveries
type SignatureScheme struct {
	// Header carries the signature
	Header string
	// Encoding is "hex" or "base64"
	Encoding string
	// Prefix is stripped from the header value before decoding, e.g. "sha256="
	Prefix string
}

// SignatureFrom extracts the signature from request headers
func (s SignatureScheme) SignatureFrom(h http.Header) string {
	v := h.Get(s.Header)
	if s.Prefix != "" && len(v) >= len(s.Prefix) && v[:len(s.Prefix)] == s.Prefix {
		v = v[len(s.Prefix):]
	}
	return v
}
