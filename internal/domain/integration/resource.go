package integration

import "strings"

// ---------------------------------------------------------------------------
// ResourceType
// ---------------------------------------------------------------------------

// ResourceType identifies a kind of record mirrored from the WMS
type ResourceType string

const (
	// ResourceOrders covers orders and their line items
	ResourceOrders ResourceType = "orders"
	// ResourceProducts covers the SKU catalogue
	ResourceProducts ResourceType = "products"
	// ResourceInventory covers per-warehouse stock levels
	ResourceInventory ResourceType = "inventory"
	// ResourceShipments covers outbound shipments
	ResourceShipments ResourceType = "shipments"
)

// AllResourceTypes returns every resource type in a stable order
func AllResourceTypes() []ResourceType {
	return []ResourceType{ResourceOrders, ResourceProducts, ResourceInventory, ResourceShipments}
}

// IsValid returns true if the resource type is known
func (r ResourceType) IsValid() bool {
	switch r {
	case ResourceOrders, ResourceProducts, ResourceInventory, ResourceShipments:
		return true
	default:
		return false
	}
}

// String returns the string representation of ResourceType
func (r ResourceType) String() string {
	return string(r)
}

// ParseResourceType parses a resource type, case-insensitively
func ParseResourceType(s string) (ResourceType, error) {
	r := ResourceType(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", ErrUnsupportedResource
	}
	return r, nil
}

// ---------------------------------------------------------------------------
// ProviderID
// ---------------------------------------------------------------------------

// ProviderID identifies a WMS integration
type ProviderID string

const (
	// ProviderShipHero is a GraphQL provider with credit-based throttling
	ProviderShipHero ProviderID = "shiphero"
	// ProviderExtensiv is a REST provider with HTTP 429 throttling
	ProviderExtensiv ProviderID = "extensiv"
)

// String returns the string representation of ProviderID
func (p ProviderID) String() string {
	return string(p)
}

// ---------------------------------------------------------------------------
// RunKind
// ---------------------------------------------------------------------------

// RunKind identifies what triggered a sync run
type RunKind string

const (
	// RunKindIncremental syncs [checkpoint, now) on the short interval
	RunKindIncremental RunKind = "incremental"
	// RunKindIntegrity re-reads a fixed lookback window to patch gaps
	RunKindIntegrity RunKind = "integrity"
	// RunKindBackfill is a one-time wide window run for onboarding or drift recovery
	RunKindBackfill RunKind = "backfill"
	// RunKindManual is an on-demand incremental run
	RunKindManual RunKind = "manual"
)

// IsValid returns true if the run kind is known
func (k RunKind) IsValid() bool {
	switch k {
	case RunKindIncremental, RunKindIntegrity, RunKindBackfill, RunKindManual:
		return true
	default:
		return false
	}
}

// AdvancesCheckpoint returns true if a successful run of this kind moves last_sync_at
func (k RunKind) AdvancesCheckpoint() bool {
	return k == RunKindIncremental || k == RunKindManual || k == RunKindBackfill
}

// String returns the string representation of RunKind
func (k RunKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// RecordSource
// ---------------------------------------------------------------------------

// RecordSource records which data path produced the last write of a record
type RecordSource string

const (
	SourcePoll      RecordSource = "poll"
	SourceIntegrity RecordSource = "integrity"
	SourceBackfill  RecordSource = "backfill"
	SourceWebhook   RecordSource = "webhook"
)

// SourceForRun maps a run kind to the record source it writes with
func SourceForRun(kind RunKind) RecordSource {
	switch kind {
	case RunKindIntegrity:
		return SourceIntegrity
	case RunKindBackfill:
		return SourceBackfill
	default:
		return SourcePoll
	}
}
