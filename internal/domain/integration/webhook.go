package integration

import (
	"encoding/json"
	"time"
)

// WebhookEnvelope is the body of an inbound webhook delivery
type WebhookEnvelope struct {
	EventType    string          `json:"event_type"`
	EventID      string          `json:"event_id"`
	ConnectionID string          `json:"connection_id"`
	Data         json.RawMessage `json:"data"`
}

// IdempotencyKey identifies a delivery for duplicate detection
func (e WebhookEnvelope) IdempotencyKey(provider ProviderID) string {
	return "webhook:" + string(provider) + ":" + e.ConnectionID + ":" + e.EventType + ":" + e.EventID
}

// IngestStatus is the outcome of a webhook delivery
type IngestStatus string

const (
	// IngestAccepted means the records were reconciled inline
	IngestAccepted IngestStatus = "accepted"
	// IngestDuplicate means the delivery was already processed
	IngestDuplicate IngestStatus = "duplicate"
	// IngestIgnored means the event type is not mirrored
	IngestIgnored IngestStatus = "ignored"
	// IngestQueued means the time budget ran out and processing continues asynchronously
	IngestQueued IngestStatus = "queued"
	// IngestRejected means the delivery failed validation or signature checks
	IngestRejected IngestStatus = "rejected"
)

// IngestResult describes what happened to a webhook delivery
type IngestResult struct {
	Status     IngestStatus
	Reason     string
	Resource   ResourceType
	Reconciled ReconcileResult
	ReceivedAt time.Time
}
