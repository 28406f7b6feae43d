package integration

// DefaultStatusTables returns the built-in status tables for every provider
func DefaultStatusTables() map[ProviderID]StatusTable {
	return map[ProviderID]StatusTable{
		ProviderShipHero: shipHeroStatuses(),
		ProviderExtensiv: extensivStatuses(),
	}
}

func shipHeroStatuses() StatusTable {
	return StatusTable{
		Statuses: map[string]CanonicalStatus{
			"pending":             StatusPending,
			"unfulfilled":         StatusPending,
			"awaiting_payment":    StatusPending,
			"processing":          StatusProcessing,
			"partially_fulfilled": StatusProcessing,
			"on_hold":             StatusOnHold,
			"hold":                StatusOnHold,
			"fraud_hold":          StatusOnHold,
			"allocated":           StatusAllocated,
			"ready_to_pick":       StatusAllocated,
			"picked":              StatusPacked,
			"packed":              StatusPacked,
			"pending_shipment":    StatusPacked,
			"fulfilled":           StatusShipped,
			"shipped":             StatusShipped,
			"delivered":           StatusDelivered,
			"canceled":            StatusCancelled,
			"cancelled":           StatusCancelled,
			"backorder":           StatusBackordered,
			"backordered":         StatusBackordered,
			"returned":            StatusReturned,
			"refunded":            StatusReturned,
			"exception":           StatusException,
			"address_issue":       StatusException,
			"wrong_address":       StatusException,
		},
	}
}

func extensivStatuses() StatusTable {
	return StatusTable{
		Statuses: map[string]CanonicalStatus{
			"open":                StatusPending,
			"new":                 StatusPending,
			"received":            StatusProcessing,
			"processing":          StatusProcessing,
			"on_hold":             StatusOnHold,
			"hold":                StatusOnHold,
			"allocated":           StatusAllocated,
			"fully_allocated":     StatusAllocated,
			"picking":             StatusAllocated,
			"partially_allocated": StatusBackordered,
			"backordered":         StatusBackordered,
			"packed":              StatusPacked,
			"loaded":              StatusPacked,
			"shipped":             StatusShipped,
			"complete":            StatusShipped,
			"completed":           StatusShipped,
			"delivered":           StatusDelivered,
			"cancelled":           StatusCancelled,
			"canceled":            StatusCancelled,
			"void":                StatusCancelled,
			"exception":           StatusException,
			"problem":             StatusException,
		},
		Optional: []CanonicalStatus{StatusReturned},
	}
}
