package integration

import (
	"time"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/shared"
)

// Event type constants
const (
	EventTypeSyncRunCompleted          = "SyncRunCompleted"
	EventTypeSyncRunFailed             = "SyncRunFailed"
	EventTypeSyncErrorThresholdReached = "SyncErrorThresholdReached"
	EventTypeWebhookReconciled         = "WebhookReconciled"
	EventTypeWebhookDeferred           = "WebhookDeferred"
)

// Event subject types
const (
	SubjectTypeSyncRun         = "SyncRun"
	SubjectTypeWebhookDelivery = "WebhookDelivery"
)

// SyncRunCompletedEvent is published after a run commits or completes
type SyncRunCompletedEvent struct {
	shared.BaseDomainEvent
	Resource         ResourceType  `json:"resource"`
	Kind             RunKind       `json:"kind"`
	RecordsProcessed int64         `json:"records_processed"`
	Created          int           `json:"created"`
	Updated          int           `json:"updated"`
	Failed           int           `json:"failed"`
	Pages            int           `json:"pages"`
	Duration         time.Duration `json:"duration"`
}

// NewSyncRunCompletedEvent creates a SyncRunCompletedEvent
func NewSyncRunCompletedEvent(token RunToken, result ReconcileResult, pages int, duration time.Duration) *SyncRunCompletedEvent {
	return &SyncRunCompletedEvent{
		BaseDomainEvent:  shared.NewBaseDomainEvent(EventTypeSyncRunCompleted, SubjectTypeSyncRun, token.RunID, token.TenantID),
		Resource:         token.Resource,
		Kind:             token.Kind,
		RecordsProcessed: int64(result.Processed()),
		Created:          result.Created,
		Updated:          result.Updated,
		Failed:           len(result.Failed),
		Pages:            pages,
		Duration:         duration,
	}
}

// SyncRunFailedEvent is published after a run fails
type SyncRunFailedEvent struct {
	shared.BaseDomainEvent
	Resource          ResourceType `json:"resource"`
	Kind              RunKind      `json:"kind"`
	Error             string       `json:"error"`
	ConsecutiveErrors int          `json:"consecutive_errors"`
}

// NewSyncRunFailedEvent creates a SyncRunFailedEvent
func NewSyncRunFailedEvent(token RunToken, runErr error, consecutiveErrors int) *SyncRunFailedEvent {
	return &SyncRunFailedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeSyncRunFailed, SubjectTypeSyncRun, token.RunID, token.TenantID),
		Resource:          token.Resource,
		Kind:              token.Kind,
		Error:             runErr.Error(),
		ConsecutiveErrors: consecutiveErrors,
	}
}

// SyncErrorThresholdReachedEvent signals operators that a pair keeps failing
type SyncErrorThresholdReachedEvent struct {
	shared.BaseDomainEvent
	Resource          ResourceType `json:"resource"`
	ConsecutiveErrors int          `json:"consecutive_errors"`
	LastError         string       `json:"last_error"`
}

// NewSyncErrorThresholdReachedEvent creates a SyncErrorThresholdReachedEvent
func NewSyncErrorThresholdReachedEvent(token RunToken, cp *Checkpoint) *SyncErrorThresholdReachedEvent {
	return &SyncErrorThresholdReachedEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeSyncErrorThresholdReached, SubjectTypeSyncRun, token.RunID, token.TenantID),
		Resource:          token.Resource,
		ConsecutiveErrors: cp.ConsecutiveErrors,
		LastError:         cp.LastError,
	}
}

// WebhookReconciledEvent is published after a webhook delivery was applied
type WebhookReconciledEvent struct {
	shared.BaseDomainEvent
	Provider    ProviderID   `json:"provider"`
	WebhookType string       `json:"webhook_type"`
	WebhookID   string       `json:"webhook_id"`
	Resource    ResourceType `json:"resource"`
	Created     int          `json:"created"`
	Updated     int          `json:"updated"`
	FailedKeys  []string     `json:"failed_keys,omitempty"`
}

// NewWebhookReconciledEvent creates a WebhookReconciledEvent
func NewWebhookReconciledEvent(tenantID uuid.UUID, provider ProviderID, env WebhookEnvelope, resource ResourceType, result ReconcileResult) *WebhookReconciledEvent {
	failed := make([]string, 0, len(result.Failed))
	for _, f := range result.Failed {
		failed = append(failed, f.ExternalKey)
	}
	return &WebhookReconciledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeWebhookReconciled, SubjectTypeWebhookDelivery, uuid.New(), tenantID),
		Provider:        provider,
		WebhookType:     env.EventType,
		WebhookID:       env.EventID,
		Resource:        resource,
		Created:         result.Created,
		Updated:         result.Updated,
		FailedKeys:      failed,
	}
}

// WebhookDeferredEvent carries a delivery whose reconciliation did not fit
// the response time budget. A subscriber finishes it asynchronously.
type WebhookDeferredEvent struct {
	shared.BaseDomainEvent
	Request  ReconcileRequest `json:"-"`
	Envelope WebhookEnvelope  `json:"envelope"`
}

// NewWebhookDeferredEvent creates a WebhookDeferredEvent
func NewWebhookDeferredEvent(req ReconcileRequest, env WebhookEnvelope) *WebhookDeferredEvent {
	return &WebhookDeferredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeWebhookDeferred, SubjectTypeWebhookDelivery, uuid.New(), req.TenantID),
		Request:         req,
		Envelope:        env,
	}
}
