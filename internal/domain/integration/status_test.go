package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultCanonicalizer(t *testing.T, opts ...CanonicalizerOption) *StatusCanonicalizer {
	t.Helper()
	c, err := NewStatusCanonicalizer(DefaultStatusTables(), opts...)
	require.NoError(t, err)
	return c
}

func TestStatusCanonicalizer_FixtureTriples(t *testing.T) {
	c := newDefaultCanonicalizer(t)

	tests := []struct {
		provider ProviderID
		raw      string
		expected CanonicalStatus
	}{
		{ProviderShipHero, "pending", StatusPending},
		{ProviderShipHero, "Unfulfilled", StatusPending},
		{ProviderShipHero, "partially_fulfilled", StatusProcessing},
		{ProviderShipHero, "Fraud Hold", StatusOnHold},
		{ProviderShipHero, "ready-to-pick", StatusAllocated},
		{ProviderShipHero, "pending_shipment", StatusPacked},
		{ProviderShipHero, "fulfilled", StatusShipped},
		{ProviderShipHero, "delivered", StatusDelivered},
		{ProviderShipHero, "canceled", StatusCancelled},
		{ProviderShipHero, "backorder", StatusBackordered},
		{ProviderShipHero, "refunded", StatusReturned},
		{ProviderShipHero, "address_issue", StatusException},
		{ProviderExtensiv, "Open", StatusPending},
		{ProviderExtensiv, "Received", StatusProcessing},
		{ProviderExtensiv, "Picking", StatusAllocated},
		{ProviderExtensiv, "Partially Allocated", StatusBackordered},
		{ProviderExtensiv, "Loaded", StatusPacked},
		{ProviderExtensiv, "Complete", StatusShipped},
		{ProviderExtensiv, "DELIVERED", StatusDelivered},
		{ProviderExtensiv, "Void", StatusCancelled},
		{ProviderExtensiv, "problem", StatusException},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider)+"/"+tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, c.Canonicalize(tt.provider, tt.raw))
		})
	}
}

func TestStatusCanonicalizer_Totality(t *testing.T) {
	c := newDefaultCanonicalizer(t)

	fixtures := []string{
		"", " ", "pending", "FULFILLED", "unknown", "in transit", "🚚", "shipped!", "null",
		"Awaiting Payment", "on-hold", "picked", "closed", "complete", "refunded",
	}

	for _, p := range []ProviderID{ProviderShipHero, ProviderExtensiv, ProviderID("nope")} {
		for _, raw := range fixtures {
			s := c.Canonicalize(p, raw)
			assert.True(t, s.IsValid(), "provider=%s raw=%q mapped to %q", p, raw, s)
		}
	}
}

func TestStatusCanonicalizer_UnknownFallsBackToPending(t *testing.T) {
	c := newDefaultCanonicalizer(t)

	assert.Equal(t, FallbackStatus, c.Canonicalize(ProviderShipHero, "teleported"))
	assert.Equal(t, FallbackStatus, c.Canonicalize(ProviderID("acme"), "shipped"))
	assert.Equal(t, StatusPending, FallbackStatus)

	_, known := c.Lookup(ProviderShipHero, "teleported")
	assert.False(t, known)
}

func TestStatusCanonicalizer_Validate(t *testing.T) {
	t.Run("incomplete table is rejected", func(t *testing.T) {
		_, err := NewStatusCanonicalizer(map[ProviderID]StatusTable{
			"acme": {Statuses: map[string]CanonicalStatus{"new": StatusPending}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not cover")
	})

	t.Run("optional statuses are not required", func(t *testing.T) {
		table := StatusTable{Statuses: map[string]CanonicalStatus{"new": StatusPending}}
		for _, s := range AllCanonicalStatuses() {
			if s != StatusPending {
				table.Optional = append(table.Optional, s)
			}
		}
		_, err := NewStatusCanonicalizer(map[ProviderID]StatusTable{"acme": table})
		assert.NoError(t, err)
	})

	t.Run("unknown canonical value is rejected", func(t *testing.T) {
		_, err := NewStatusCanonicalizer(DefaultStatusTables(),
			WithStatusOverrides(ProviderShipHero, map[string]CanonicalStatus{"lost": "vanished"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vanished")
	})

	t.Run("empty table is rejected", func(t *testing.T) {
		_, err := NewStatusCanonicalizer(map[ProviderID]StatusTable{"acme": {}})
		assert.Error(t, err)
	})

	t.Run("invalid collapse rule is rejected", func(t *testing.T) {
		_, err := NewStatusCanonicalizer(DefaultStatusTables(),
			WithCollapse(map[CanonicalStatus]CanonicalStatus{StatusDelivered: "done"}))
		assert.Error(t, err)
	})
}

func TestStatusCanonicalizer_Overrides(t *testing.T) {
	c := newDefaultCanonicalizer(t,
		WithStatusOverrides(ProviderShipHero, map[string]CanonicalStatus{"In Transit": StatusShipped}))

	assert.Equal(t, StatusShipped, c.Canonicalize(ProviderShipHero, "in_transit"))
	// built-in entries survive the merge
	assert.Equal(t, StatusPending, c.Canonicalize(ProviderShipHero, "pending"))
}

func TestStatusCanonicalizer_Collapse(t *testing.T) {
	c := newDefaultCanonicalizer(t,
		WithCollapse(map[CanonicalStatus]CanonicalStatus{StatusDelivered: StatusShipped}),
		WithFulfilledStatuses(StatusShipped))

	assert.Equal(t, StatusShipped, c.Canonicalize(ProviderShipHero, "delivered"))
	assert.Equal(t, StatusDelivered, c.Lifecycle(ProviderShipHero, "delivered"))
	assert.True(t, c.IsFulfilled(StatusShipped))
	assert.False(t, c.IsFulfilled(StatusDelivered))
}

func TestStatusCanonicalizer_DefaultTablesAreIndependent(t *testing.T) {
	tables := DefaultStatusTables()
	c, err := NewStatusCanonicalizer(tables)
	require.NoError(t, err)

	tables[ProviderShipHero].Statuses["pending"] = StatusException
	assert.Equal(t, StatusPending, c.Canonicalize(ProviderShipHero, "pending"))
}

func TestNormalizeRawStatus(t *testing.T) {
	assert.Equal(t, "ready_to_ship", NormalizeRawStatus("  Ready To-Ship "))
	assert.Equal(t, "", NormalizeRawStatus("   "))
}

func TestParseCanonicalStatus(t *testing.T) {
	s, err := ParseCanonicalStatus("On Hold")
	require.NoError(t, err)
	assert.Equal(t, StatusOnHold, s)

	_, err = ParseCanonicalStatus("bogus")
	assert.Error(t, err)
}
