package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// fakeShipHero serves the orders query of the ShipHero GraphQL API from an
// in-memory list. Orders are filtered by updated_from and paged by offset.
type fakeShipHero struct {
	mu       sync.Mutex
	orders   []fakeOrder
	requests atomic.Int32
}

type fakeOrder struct {
	ID        string
	Status    string
	UpdatedAt time.Time
}

func (f *fakeShipHero) addOrders(prefix string, n int, status string, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.orders = append(f.orders, fakeOrder{
			ID:        fmt.Sprintf("%s-%03d", prefix, i+1),
			Status:    status,
			UpdatedAt: updatedAt,
		})
	}
}

func (f *fakeShipHero) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)

	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	from, _ := time.Parse(time.RFC3339, fmt.Sprint(req.Variables["updated_from"]))
	first := 100
	if v, ok := req.Variables["first"].(float64); ok && v > 0 {
		first = int(v)
	}
	offset := 0
	if after, ok := req.Variables["after"].(string); ok && after != "" {
		offset, _ = strconv.Atoi(after)
	}

	f.mu.Lock()
	var matched []fakeOrder
	for _, o := range f.orders {
		if !o.UpdatedAt.Before(from) {
			matched = append(matched, o)
		}
	}
	f.mu.Unlock()
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].UpdatedAt.Before(matched[j].UpdatedAt) })

	end := offset + first
	if end > len(matched) {
		end = len(matched)
	}
	if offset > end {
		offset = end
	}

	edges := make([]map[string]any, 0, end-offset)
	for _, o := range matched[offset:end] {
		edges = append(edges, map[string]any{"node": shipHeroOrderNode(o)})
	}
	hasNext := end < len(matched)
	cursor := ""
	if hasNext {
		cursor = strconv.Itoa(end)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{
			"orders": map[string]any{
				"page_info": map[string]any{"has_next_page": hasNext, "end_cursor": cursor},
				"edges":     edges,
			},
		},
	})
}

func shipHeroOrderNode(o fakeOrder) map[string]any {
	return map[string]any{
		"id":                 o.ID,
		"order_number":       "#" + o.ID,
		"fulfillment_status": o.Status,
		"currency":           "USD",
		"subtotal":           "20.00",
		"total_price":        "21.50",
		"shipping_address": map[string]any{
			"first_name": "Ada",
			"last_name":  "Lovelace",
			"address1":   "12 St James's Square",
			"city":       "London",
			"zip":        "SW1Y 4JH",
			"country":    "GB",
		},
		"line_items": []map[string]any{
			{"id": o.ID + "-l1", "sku": "SKU-1", "quantity": 2, "price": "10.00", "fulfillment_status": o.Status},
		},
		"updated_at": o.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
