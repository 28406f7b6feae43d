package wms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmsync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

func newExtensivTestClient(t *testing.T, url string) *ExtensivClient {
	t.Helper()
	c, err := NewExtensivClient(ClientConfig{
		BaseURL:        url,
		MaxRetries:     1,
		PageSize:       50,
		InitialBackoff: time.Millisecond,
	}, nil, zap.NewNop())
	require.NoError(t, err)
	return c
}

func extensivConn() *integration.Connection {
	return &integration.Connection{
		TenantID:     uuid.New(),
		Provider:     integration.ProviderExtensiv,
		ConnectionID: "cust-7",
		State:        integration.ConnectionActive,
		Credentials:  json.RawMessage(`{"api_key":"key-1"}`),
	}
}

func TestExtensivClient_FetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-API-Key"))
		q := r.URL.Query()
		assert.Equal(t, "2026-02-28T23:00:00Z", q.Get("modified_from"))
		assert.Equal(t, "2026-03-01T00:00:00Z", q.Get("modified_to"))
		assert.Equal(t, "50", q.Get("page_size"))

		switch q.Get("cursor") {
		case "":
			fmt.Fprint(w, `{"items":[
				{"item_id":"i1","sku":"SKU-1","description":"Widget","upc":"0001","active":true,"price":"9.99","modified_at":"2026-02-28T23:15:00Z"},
				{"item_id":"i2","sku":"SKU-2","description":"Gadget","active":false,"modified_at":"2026-02-28T23:16:00Z"}],
				"next_cursor":"p2"}`)
		case "p2":
			fmt.Fprint(w, `{"items":[],"next_cursor":""}`)
		default:
			t.Errorf("unexpected cursor %q", q.Get("cursor"))
		}
	}))
	defer srv.Close()

	c := newExtensivTestClient(t, srv.URL)
	conn := extensivConn()

	page, err := c.FetchPage(context.Background(), conn, integration.ResourceProducts, testWindow(), "")
	require.NoError(t, err)
	assert.False(t, page.Done)
	assert.Equal(t, "p2", page.NextCursor)
	require.Len(t, page.Records, 2)
	p, ok := page.Records[0].(*integration.ExternalProduct)
	require.True(t, ok)
	assert.Equal(t, "SKU-1", p.NaturalKey())
	assert.Equal(t, "0001", p.Barcode)
	assert.True(t, p.Active)

	page, err = c.FetchPage(context.Background(), conn, integration.ResourceProducts, testWindow(), "p2")
	require.NoError(t, err)
	assert.True(t, page.Done)
	assert.Empty(t, page.Records)
}

func TestExtensivClient_FetchPage_Orders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"order_id":"E-1","reference_num":"R-1","status":"Fully Allocated",
			"customer":{"name":"Grace","email":"g@example.com"},
			"ship_to":{"name":"Grace","address1":"2 Side St","city":"Boston","state":"MA","zip":"02101","country":"US"},
			"lines":[{"line_id":"l1","sku":"SKU-1","qty":3,"qty_allocated":3,"unit_price":"1.00"}],
			"allocated_at":"2026-02-28T23:40:00Z","modified_at":"2026-02-28T23:41:00Z"}]}`)
	}))
	defer srv.Close()

	page, err := newExtensivTestClient(t, srv.URL).FetchPage(context.Background(), extensivConn(), integration.ResourceOrders, testWindow(), "")
	require.NoError(t, err)
	assert.True(t, page.Done)
	require.Len(t, page.Records, 1)

	o := page.Records[0].(*integration.ExternalOrder)
	assert.Equal(t, "E-1", o.ExternalID)
	assert.Equal(t, "R-1", o.OrderNumber)
	assert.Equal(t, "Fully Allocated", o.Status)
	assert.Equal(t, "MA", o.ShippingAddress.Region)
	require.NotNil(t, o.AllocatedAt)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 3, o.Items[0].QuantityAllocated)
}

func TestExtensivClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newExtensivTestClient(t, srv.URL).FetchPage(context.Background(), extensivConn(), integration.ResourceInventory, testWindow(), "")
	wait, ok := integration.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, wait)
}

func TestExtensivClient_MalformedItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[
			{"sku":7,"facility_id":"F1"},
			{"sku":"SKU-2","facility_id":"F1","on_hand":3,"modified_at":"2026-02-28T23:15:00Z"}],"next_cursor":""}`)
	}))
	defer srv.Close()

	page, err := newExtensivTestClient(t, srv.URL).FetchPage(context.Background(), extensivConn(), integration.ResourceInventory, testWindow(), "")
	require.NoError(t, err)
	require.Len(t, page.Records, 2)

	bad, ok := page.Records[0].(*integration.UndecodableRecord)
	require.True(t, ok)
	assert.Equal(t, integration.InventoryKey("7", "F1"), bad.NaturalKey())
	assert.Equal(t, integration.ResourceInventory, bad.Resource())
	assert.NotEmpty(t, bad.Cause)

	good, ok := page.Records[1].(*integration.ExternalInventory)
	require.True(t, ok)
	assert.Equal(t, 3, good.OnHand)

	t.Run("body is not a list", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"items":{}}`)
		}))
		defer srv.Close()

		_, err := newExtensivTestClient(t, srv.URL).FetchPage(context.Background(), extensivConn(), integration.ResourceInventory, testWindow(), "")
		assert.ErrorIs(t, err, integration.ErrInvalidResponse)
	})
}

func TestExtensivClient_MissingAPIKey(t *testing.T) {
	conn := extensivConn()
	conn.Credentials = nil
	_, err := newExtensivTestClient(t, "http://unused.test").FetchPage(context.Background(), conn, integration.ResourceOrders, testWindow(), "")
	assert.ErrorIs(t, err, integration.ErrProviderAuth)
}

func TestExtensivClient_UpdateShippingAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/orders/E-1/shipping-address", r.URL.Path)
		var body struct {
			ShipTo extensivAddress `json:"ship_to"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Boston", body.ShipTo.City)
		assert.Equal(t, "02101", body.ShipTo.Zip)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newExtensivTestClient(t, srv.URL).UpdateShippingAddress(context.Background(), extensivConn(), "E-1",
		integration.Address{Name: "Grace", Line1: "3 New St", City: "Boston", PostalCode: "02101", Country: "US"})
	assert.NoError(t, err)
}

func TestExtensivClient_TranslateWebhook(t *testing.T) {
	c := newExtensivTestClient(t, "http://unused.test")

	res, recs, err := c.TranslateWebhook("shipment.created", json.RawMessage(`{"shipment_id":"S1","order_id":"E-1","carrier":"UPS","status":"shipped","modified_at":"2026-03-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, integration.ResourceShipments, res)
	require.Len(t, recs, 1)
	s := recs[0].(*integration.ExternalShipment)
	assert.Equal(t, "E-1", s.ExternalOrderID)

	res, recs, err = c.TranslateWebhook("billing.invoice", json.RawMessage(`{}`))
	assert.NoError(t, err)
	assert.Empty(t, res)
	assert.Nil(t, recs)
}
