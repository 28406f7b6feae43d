package wms

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wmsync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

// shipHeroQueries holds one list query per resource. Every query returns a
// connection under data.<resource> with page_info and edges.
var shipHeroQueries = map[integration.ResourceType]string{
	integration.ResourceOrders: `query Orders($updated_from: ISODateTime, $updated_to: ISODateTime, $first: Int, $after: String) {
  orders(updated_from: $updated_from, updated_to: $updated_to, first: $first, after: $after) {
    page_info { has_next_page end_cursor }
    edges { node {
      id order_number fulfillment_status currency subtotal total_tax total_shipping total_discounts total_price email
      shipping_address { first_name last_name company address1 address2 city state zip country phone email }
      line_items { id sku product_name quantity quantity_allocated quantity_shipped backorder_quantity price fulfillment_status }
      order_date allocated_at packed_at shipped_at delivered_at canceled_at updated_at
    } }
  }
}`,
	integration.ResourceProducts: `query Products($updated_from: ISODateTime, $updated_to: ISODateTime, $first: Int, $after: String) {
  products(updated_from: $updated_from, updated_to: $updated_to, first: $first, after: $after) {
    page_info { has_next_page end_cursor }
    edges { node { id sku name barcode active price weight updated_at } }
  }
}`,
	integration.ResourceInventory: `query Inventory($updated_from: ISODateTime, $updated_to: ISODateTime, $first: Int, $after: String) {
  inventory(updated_from: $updated_from, updated_to: $updated_to, first: $first, after: $after) {
    page_info { has_next_page end_cursor }
    edges { node { sku warehouse_id on_hand allocated available reserve_inventory backorder updated_at } }
  }
}`,
	integration.ResourceShipments: `query Shipments($updated_from: ISODateTime, $updated_to: ISODateTime, $first: Int, $after: String) {
  shipments(updated_from: $updated_from, updated_to: $updated_to, first: $first, after: $after) {
    page_info { has_next_page end_cursor }
    edges { node { id order_id carrier shipping_method tracking_number status created_date delivered_date updated_at } }
  }
}`,
}

var shipHeroKeyFields = nodeKeyFields{
	integration.ResourceOrders:    {"id"},
	integration.ResourceProducts:  {"sku"},
	integration.ResourceInventory: {"sku", "warehouse_id"},
	integration.ResourceShipments: {"id"},
}

const shipHeroUpdateAddressMutation = `mutation UpdateShippingAddress($data: UpdateOrderInput!) {
  order_update(data: $data) { request_id }
}`

// shipHeroCredentials is the credential bundle of a ShipHero connection
type shipHeroCredentials struct {
	AccessToken string `json:"access_token"`
}

// ShipHeroClient talks to the ShipHero GraphQL API
type ShipHeroClient struct {
	transport *transport
	logger    *zap.Logger
}

// NewShipHeroClient creates a new ShipHero client
func NewShipHeroClient(cfg ClientConfig, httpClient *http.Client, logger *zap.Logger) (*ShipHeroClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ShipHeroClient{
		transport: newTransport(integration.ProviderShipHero, cfg, httpClient, logger),
		logger:    logger,
	}, nil
}

// Provider returns the provider identifier
func (c *ShipHeroClient) Provider() integration.ProviderID {
	return integration.ProviderShipHero
}

// SupportedResources returns the resources ShipHero can list
func (c *ShipHeroClient) SupportedResources() []integration.ResourceType {
	return []integration.ResourceType{
		integration.ResourceOrders,
		integration.ResourceProducts,
		integration.ResourceInventory,
		integration.ResourceShipments,
	}
}

// SignatureScheme returns how ShipHero signs webhook deliveries
func (c *ShipHeroClient) SignatureScheme() integration.SignatureScheme {
	return integration.SignatureScheme{Header: "X-Shiphero-Hmac-Sha256", Encoding: "base64"}
}

// FetchPage lists one page of a resource
func (c *ShipHeroClient) FetchPage(ctx context.Context, conn *integration.Connection, resource integration.ResourceType, window integration.FetchWindow, cursor string) (*integration.Page, error) {
	query, ok := shipHeroQueries[resource]
	if !ok {
		return nil, fmt.Errorf("%w: shiphero %s", integration.ErrUnsupportedResource, resource)
	}

	vars := map[string]any{
		"updated_from": window.From.Format(time.RFC3339),
		"updated_to":   window.To.Format(time.RFC3339),
		"first":        c.transport.cfg.PageSize,
	}
	if cursor != "" {
		vars["after"] = cursor
	}

	data, err := c.execute(ctx, conn, shipHeroRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, err
	}

	rawConn, ok := data[string(resource)]
	if !ok {
		return nil, fmt.Errorf("%w: shiphero response has no %s", integration.ErrInvalidResponse, resource)
	}
	var page shipHeroConnection
	if err := json.Unmarshal(rawConn, &page); err != nil {
		return nil, fmt.Errorf("%w: shiphero %s: %v", integration.ErrInvalidResponse, resource, err)
	}

	nodes := make([]json.RawMessage, 0, len(page.Edges))
	for _, edge := range page.Edges {
		nodes = append(nodes, edge.Node)
	}
	records, err := decodeNodes(resource, nodes, decodeShipHeroNode, shipHeroKeyFields)
	if err != nil {
		return nil, fmt.Errorf("shiphero %s: %w", resource, err)
	}

	if !page.PageInfo.HasNextPage {
		return &integration.Page{Records: records, Done: true}, nil
	}
	if page.PageInfo.EndCursor == "" {
		return nil, fmt.Errorf("%w: shiphero has_next_page without end_cursor", integration.ErrInvalidResponse)
	}
	return &integration.Page{Records: records, NextCursor: page.PageInfo.EndCursor}, nil
}

// UpdateShippingAddress sends the new address to ShipHero
func (c *ShipHeroClient) UpdateShippingAddress(ctx context.Context, conn *integration.Connection, externalOrderID string, addr integration.Address) error {
	_, err := c.execute(ctx, conn, shipHeroRequest{
		Query: shipHeroUpdateAddressMutation,
		Variables: map[string]any{
			"data": map[string]any{
				"order_id":         externalOrderID,
				"shipping_address": shipHeroAddressFrom(addr),
			},
		},
	})
	return err
}

// execute posts one GraphQL request and returns its data map
func (c *ShipHeroClient) execute(ctx context.Context, conn *integration.Connection, req shipHeroRequest) (map[string]json.RawMessage, error) {
	var creds shipHeroCredentials
	if err := conn.DecodeCredentials(&creds); err != nil {
		return nil, err
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("%w: shiphero access_token is empty", integration.ErrProviderAuth)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("shiphero: failed to encode request: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.transport.do(ctx, http.MethodPost, c.transport.cfg.BaseURL, body, header)
	if err != nil {
		return nil, err
	}

	var out shipHeroResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("%w: shiphero: %v", integration.ErrInvalidResponse, err)
	}
	if len(out.Errors) > 0 {
		return nil, shipHeroErrorToDomain(out.Errors)
	}
	if out.Data == nil {
		return nil, fmt.Errorf("%w: shiphero response has no data", integration.ErrInvalidResponse)
	}
	return out.Data, nil
}

// shipHeroErrorToDomain maps GraphQL errors; a credit limit error wins over others
func shipHeroErrorToDomain(errs []shipHeroError) error {
	for _, e := range errs {
		if e.Code == shipHeroCreditLimitCode {
			return integration.NewRateLimitedError(shipHeroRetryAfter(e), "shiphero credit limit: "+e.Message)
		}
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("code %d: %s", e.Code, e.Message))
	}
	return fmt.Errorf("%w: shiphero: %s", integration.ErrRequestRejected, strings.Join(msgs, "; "))
}

// shipHeroRetryAfter derives the wait from time_remaining, falling back to
// the credit deficit divided by the restore rate.
func shipHeroRetryAfter(e shipHeroError) time.Duration {
	if d, ok := parseTimeRemaining(e.TimeRemaining); ok {
		return d
	}
	if deficit := e.RequiredCredits - e.RemainingCredits; deficit > 0 {
		secs := math.Ceil(float64(deficit) / shipHeroCreditRestoreRate)
		return time.Duration(secs) * time.Second
	}
	return defaultRetryAfter
}

// parseTimeRemaining understands values like "5 seconds", "1 second", "250 ms" or "2 minutes"
func parseTimeRemaining(v string) (time.Duration, bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	if len(fields) == 0 {
		return 0, false
	}
	num := fields[0]
	unit := "seconds"
	if len(fields) > 1 {
		unit = fields[1]
	} else if d, err := time.ParseDuration(num); err == nil {
		return d, true
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	var scale time.Duration
	switch {
	case strings.HasPrefix(unit, "ms"), strings.HasPrefix(unit, "milli"):
		scale = time.Millisecond
	case strings.HasPrefix(unit, "s"):
		scale = time.Second
	case strings.HasPrefix(unit, "m"):
		scale = time.Minute
	default:
		return 0, false
	}
	return time.Duration(n * float64(scale)), true
}

// TranslateWebhook converts a ShipHero webhook payload into external records
func (c *ShipHeroClient) TranslateWebhook(eventType string, data json.RawMessage) (integration.ResourceType, []integration.ExternalRecord, error) {
	resource, ok := shipHeroWebhookResources[integration.NormalizeRawStatus(eventType)]
	if !ok {
		return "", nil, nil
	}
	return translateNodes(resource, data, decodeShipHeroNode, shipHeroKeyFields)
}

var shipHeroWebhookResources = map[string]integration.ResourceType{
	"order_update":      integration.ResourceOrders,
	"order_allocated":   integration.ResourceOrders,
	"order_deallocated": integration.ResourceOrders,
	"order_packed_out":  integration.ResourceOrders,
	"order_canceled":    integration.ResourceOrders,
	"order_cancelled":   integration.ResourceOrders,
	"shipment_update":   integration.ResourceShipments,
	"inventory_update":  integration.ResourceInventory,
	"inventory_change":  integration.ResourceInventory,
	"product_update":    integration.ResourceProducts,
}

var (
	_ integration.ProviderClient    = (*ShipHeroClient)(nil)
	_ integration.WebhookTranslator = (*ShipHeroClient)(nil)
)
