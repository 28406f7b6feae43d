package integration

import (
	"fmt"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// CanonicalStatus
// ---------------------------------------------------------------------------

// CanonicalStatus is the provider-agnostic order lifecycle status
type CanonicalStatus string

const (
	StatusPending     CanonicalStatus = "pending"
	StatusProcessing  CanonicalStatus = "processing"
	StatusOnHold      CanonicalStatus = "on_hold"
	StatusAllocated   CanonicalStatus = "allocated"
	StatusPacked      CanonicalStatus = "packed"
	StatusShipped     CanonicalStatus = "shipped"
	StatusDelivered   CanonicalStatus = "delivered"
	StatusCancelled   CanonicalStatus = "cancelled"
	StatusBackordered CanonicalStatus = "backordered"
	StatusReturned    CanonicalStatus = "returned"
	StatusException   CanonicalStatus = "exception"
)

// FallbackStatus is returned for any raw status a provider table does not know
const FallbackStatus = StatusPending

// AllCanonicalStatuses returns every canonical status
func AllCanonicalStatuses() []CanonicalStatus {
	return []CanonicalStatus{
		StatusPending, StatusProcessing, StatusOnHold, StatusAllocated, StatusPacked,
		StatusShipped, StatusDelivered, StatusCancelled, StatusBackordered,
		StatusReturned, StatusException,
	}
}

// IsValid returns true if the status is a member of the canonical enum
func (s CanonicalStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusOnHold, StatusAllocated, StatusPacked,
		StatusShipped, StatusDelivered, StatusCancelled, StatusBackordered,
		StatusReturned, StatusException:
		return true
	default:
		return false
	}
}

// String returns the string representation of CanonicalStatus
func (s CanonicalStatus) String() string {
	return string(s)
}

// ParseCanonicalStatus parses a canonical status name
func ParseCanonicalStatus(s string) (CanonicalStatus, error) {
	cs := CanonicalStatus(NormalizeRawStatus(s))
	if !cs.IsValid() {
		return "", fmt.Errorf("integration: unknown canonical status %q", s)
	}
	return cs, nil
}

// NormalizeRawStatus lowercases and trims a provider status and folds
// spaces and hyphens to underscores, so "Ready To Ship" == "ready-to-ship".
func NormalizeRawStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// ---------------------------------------------------------------------------
// StatusTable
// ---------------------------------------------------------------------------

// StatusTable is the raw → canonical mapping for one provider.
// Optional lists canonical statuses the provider never reports.
type StatusTable struct {
	Statuses map[string]CanonicalStatus
	Optional []CanonicalStatus
}

// Clone returns a deep copy of the table
func (t StatusTable) Clone() StatusTable {
	out := StatusTable{
		Statuses: make(map[string]CanonicalStatus, len(t.Statuses)),
		Optional: append([]CanonicalStatus(nil), t.Optional...),
	}
	for k, v := range t.Statuses {
		out.Statuses[NormalizeRawStatus(k)] = v
	}
	return out
}

// validate checks every value is canonical and every required status is reachable
func (t StatusTable) validate(provider ProviderID) error {
	if len(t.Statuses) == 0 {
		return fmt.Errorf("integration: status table for %s is empty", provider)
	}
	reachable := make(map[CanonicalStatus]bool)
	for raw, cs := range t.Statuses {
		if !cs.IsValid() {
			return fmt.Errorf("integration: status table for %s maps %q to unknown status %q", provider, raw, cs)
		}
		reachable[cs] = true
	}
	optional := make(map[CanonicalStatus]bool, len(t.Optional))
	for _, cs := range t.Optional {
		if !cs.IsValid() {
			return fmt.Errorf("integration: status table for %s lists unknown optional status %q", provider, cs)
		}
		optional[cs] = true
	}
	var missing []string
	for _, cs := range AllCanonicalStatuses() {
		if !reachable[cs] && !optional[cs] {
			missing = append(missing, string(cs))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("integration: status table for %s does not cover %s", provider, strings.Join(missing, ", "))
	}
	return nil
}

// ---------------------------------------------------------------------------
// StatusCanonicalizer
// ---------------------------------------------------------------------------

// StatusCanonicalizer maps provider statuses onto CanonicalStatus.
// It is immutable after construction and safe for concurrent use.
type StatusCanonicalizer struct {
	tables    map[ProviderID]StatusTable
	collapse  map[CanonicalStatus]CanonicalStatus
	fulfilled map[CanonicalStatus]bool
}

// CanonicalizerOption configures a StatusCanonicalizer
type CanonicalizerOption func(*StatusCanonicalizer)

// WithStatusOverrides merges raw → canonical entries into a provider's table,
// creating the table if the provider has none.
func WithStatusOverrides(provider ProviderID, overrides map[string]CanonicalStatus) CanonicalizerOption {
	return func(c *StatusCanonicalizer) {
		t, ok := c.tables[provider]
		if !ok {
			t = StatusTable{Statuses: make(map[string]CanonicalStatus)}
		}
		for raw, cs := range overrides {
			t.Statuses[NormalizeRawStatus(raw)] = cs
		}
		c.tables[provider] = t
	}
}

// WithCollapse maps canonical statuses onto other canonical statuses after lookup.
// Lifecycle stamping uses the uncollapsed value.
func WithCollapse(rules map[CanonicalStatus]CanonicalStatus) CanonicalizerOption {
	return func(c *StatusCanonicalizer) {
		for from, to := range rules {
			c.collapse[from] = to
		}
	}
}

// WithFulfilledStatuses sets which canonical statuses count as fulfilled
func WithFulfilledStatuses(statuses ...CanonicalStatus) CanonicalizerOption {
	return func(c *StatusCanonicalizer) {
		c.fulfilled = make(map[CanonicalStatus]bool, len(statuses))
		for _, s := range statuses {
			c.fulfilled[s] = true
		}
	}
}

// NewStatusCanonicalizer builds a canonicalizer from tables and options and
// validates the result. Construction fails on any incomplete or invalid table.
func NewStatusCanonicalizer(tables map[ProviderID]StatusTable, opts ...CanonicalizerOption) (*StatusCanonicalizer, error) {
	c := &StatusCanonicalizer{
		tables:    make(map[ProviderID]StatusTable, len(tables)),
		collapse:  make(map[CanonicalStatus]CanonicalStatus),
		fulfilled: map[CanonicalStatus]bool{StatusShipped: true, StatusDelivered: true},
	}
	for p, t := range tables {
		c.tables[p] = t.Clone()
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// MustNewStatusCanonicalizer is NewStatusCanonicalizer that panics on error
func MustNewStatusCanonicalizer(tables map[ProviderID]StatusTable, opts ...CanonicalizerOption) *StatusCanonicalizer {
	c, err := NewStatusCanonicalizer(tables, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks every table for completeness and every collapse rule for validity
func (c *StatusCanonicalizer) Validate() error {
	for _, p := range c.Providers() {
		if err := c.tables[p].validate(p); err != nil {
			return err
		}
	}
	for from, to := range c.collapse {
		if !from.IsValid() || !to.IsValid() {
			return fmt.Errorf("integration: invalid status collapse rule %q -> %q", from, to)
		}
	}
	for s := range c.fulfilled {
		if !s.IsValid() {
			return fmt.Errorf("integration: invalid fulfilled status %q", s)
		}
	}
	return nil
}

// Canonicalize maps a provider status to the stored canonical status.
// Unknown providers and unknown raw values map to FallbackStatus.
func (c *StatusCanonicalizer) Canonicalize(provider ProviderID, raw string) CanonicalStatus {
	s := c.Lifecycle(provider, raw)
	if to, ok := c.collapse[s]; ok {
		return to
	}
	return s
}

// Lifecycle maps a provider status to its canonical status before collapsing
func (c *StatusCanonicalizer) Lifecycle(provider ProviderID, raw string) CanonicalStatus {
	s, _ := c.Lookup(provider, raw)
	return s
}

// Lookup is Lifecycle that also reports whether the raw value was known
func (c *StatusCanonicalizer) Lookup(provider ProviderID, raw string) (CanonicalStatus, bool) {
	t, ok := c.tables[provider]
	if !ok {
		return FallbackStatus, false
	}
	s, ok := t.Statuses[NormalizeRawStatus(raw)]
	if !ok {
		return FallbackStatus, false
	}
	return s, true
}

// IsFulfilled reports whether a canonical status counts as fulfilled
func (c *StatusCanonicalizer) IsFulfilled(s CanonicalStatus) bool {
	return c.fulfilled[s]
}

// HasProvider returns true if a table exists for the provider
func (c *StatusCanonicalizer) HasProvider(provider ProviderID) bool {
	_, ok := c.tables[provider]
	return ok
}

// Providers returns the providers with a table, sorted
func (c *StatusCanonicalizer) Providers() []ProviderID {
	out := make([]ProviderID, 0, len(c.tables))
	for p := range c.tables {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
