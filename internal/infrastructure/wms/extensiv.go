package wms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/wmsync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

// extensivCredentials is the credential bundle of an Extensiv connection
type extensivCredentials struct {
	APIKey string `json:"api_key"`
}

// ExtensivClient talks to the Extensiv REST API
type ExtensivClient struct {
	transport *transport
	logger    *zap.Logger
}

// NewExtensivClient creates a new Extensiv client
func NewExtensivClient(cfg ClientConfig, httpClient *http.Client, logger *zap.Logger) (*ExtensivClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ExtensivClient{
		transport: newTransport(integration.ProviderExtensiv, cfg, httpClient, logger),
		logger:    logger,
	}, nil
}

// Provider returns the provider identifier
func (c *ExtensivClient) Provider() integration.ProviderID {
	return integration.ProviderExtensiv
}

// SupportedResources returns the resources Extensiv can list
func (c *ExtensivClient) SupportedResources() []integration.ResourceType {
	return []integration.ResourceType{
		integration.ResourceOrders,
		integration.ResourceProducts,
		integration.ResourceInventory,
		integration.ResourceShipments,
	}
}

// SignatureScheme returns how Extensiv signs webhook deliveries
func (c *ExtensivClient) SignatureScheme() integration.SignatureScheme {
	return integration.SignatureScheme{Header: "X-Extensiv-Signature", Encoding: "hex", Prefix: "sha256="}
}

// FetchPage lists one page of a resource
func (c *ExtensivClient) FetchPage(ctx context.Context, conn *integration.Connection, resource integration.ResourceType, window integration.FetchWindow, cursor string) (*integration.Page, error) {
	if !resource.IsValid() {
		return nil, fmt.Errorf("%w: extensiv %s", integration.ErrUnsupportedResource, resource)
	}
	header, err := c.authHeader(conn)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("modified_from", window.From.Format(time.RFC3339))
	q.Set("modified_to", window.To.Format(time.RFC3339))
	q.Set("page_size", strconv.Itoa(c.transport.cfg.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.transport.cfg.BaseURL + "/" + url.PathEscape(string(resource)) + "?" + q.Encode()

	resp, err := c.transport.do(ctx, http.MethodGet, endpoint, nil, header)
	if err != nil {
		return nil, err
	}

	var list extensivList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("%w: extensiv %s: %v", integration.ErrInvalidResponse, resource, err)
	}

	records, err := decodeNodes(resource, list.Items, decodeExtensivItem, extensivKeyFields)
	if err != nil {
		return nil, fmt.Errorf("extensiv %s: %w", resource, err)
	}

	if list.NextCursor == "" {
		return &integration.Page{Records: records, Done: true}, nil
	}
	return &integration.Page{Records: records, NextCursor: list.NextCursor}, nil
}

// UpdateShippingAddress sends the new address to Extensiv
func (c *ExtensivClient) UpdateShippingAddress(ctx context.Context, conn *integration.Connection, externalOrderID string, addr integration.Address) error {
	header, err := c.authHeader(conn)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"ship_to": extensivAddressFrom(addr)})
	if err != nil {
		return fmt.Errorf("extensiv: failed to encode address: %w", err)
	}
	endpoint := c.transport.cfg.BaseURL + "/orders/" + url.PathEscape(externalOrderID) + "/shipping-address"
	_, err = c.transport.do(ctx, http.MethodPut, endpoint, body, header)
	return err
}

func (c *ExtensivClient) authHeader(conn *integration.Connection) (http.Header, error) {
	var creds extensivCredentials
	if err := conn.DecodeCredentials(&creds); err != nil {
		return nil, err
	}
	if creds.APIKey == "" {
		return nil, fmt.Errorf("%w: extensiv api_key is empty", integration.ErrProviderAuth)
	}
	header := http.Header{}
	header.Set("X-API-Key", creds.APIKey)
	return header, nil
}

// TranslateWebhook converts an Extensiv webhook payload into external records
func (c *ExtensivClient) TranslateWebhook(eventType string, data json.RawMessage) (integration.ResourceType, []integration.ExternalRecord, error) {
	resource, ok := extensivWebhookResources[eventType]
	if !ok {
		return "", nil, nil
	}
	return translateNodes(resource, data, decodeExtensivItem, extensivKeyFields)
}

var extensivKeyFields = nodeKeyFields{
	integration.ResourceOrders:    {"order_id"},
	integration.ResourceProducts:  {"sku"},
	integration.ResourceInventory: {"sku", "facility_id"},
	integration.ResourceShipments: {"shipment_id"},
}

var extensivWebhookResources = map[string]integration.ResourceType{
	"order.created":     integration.ResourceOrders,
	"order.updated":     integration.ResourceOrders,
	"order.cancelled":   integration.ResourceOrders,
	"shipment.created":  integration.ResourceShipments,
	"shipment.updated":  integration.ResourceShipments,
	"inventory.updated": integration.ResourceInventory,
	"product.updated":   integration.ResourceProducts,
}

var (
	_ integration.ProviderClient    = (*ExtensivClient)(nil)
	_ integration.WebhookTranslator = (*ExtensivClient)(nil)
)
