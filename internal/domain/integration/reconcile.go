package integration

import (
	"context"

	"github.com/google/uuid"
)

// ReconcileResult counts the outcome of reconciling one batch
type ReconcileResult struct {
	Created   int
	Updated   int
	Unchanged int
	// Stale counts records dropped because the stored copy is newer
	Stale  int
	Failed []RecordFailure
}

// Processed returns the number of records handled without error
func (r ReconcileResult) Processed() int {
	return r.Created + r.Updated + r.Unchanged + r.Stale
}

// Total returns the number of records in the batch
func (r ReconcileResult) Total() int {
	return r.Processed() + len(r.Failed)
}

// Add accumulates another batch result into r
func (r *ReconcileResult) Add(o ReconcileResult) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Unchanged += o.Unchanged
	r.Stale += o.Stale
	r.Failed = append(r.Failed, o.Failed...)
}

// ReconcileRequest is one batch of records from a single data path
type ReconcileRequest struct {
	TenantID uuid.UUID
	Provider ProviderID
	Resource ResourceType
	Source   RecordSource
	Records  []ExternalRecord
}

// Reconciler applies external records to the canonical tables.
// Per-record failures are reported in the result; an error return means the
// batch as a whole could not be processed (e.g. storage unavailable).
type Reconciler interface {
	Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error)
}
