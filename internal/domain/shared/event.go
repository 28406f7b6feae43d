package shared

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact about a tenant's sync state. The subject is the
// thing the event is about: a sync run or a webhook delivery.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	TenantID() uuid.UUID
	SubjectID() uuid.UUID
	SubjectType() string
}

// BaseDomainEvent carries the envelope fields shared by every event
type BaseDomainEvent struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Tenant      uuid.UUID `json:"tenant_id"`
	Subject     uuid.UUID `json:"subject_id"`
	SubjectKind string    `json:"subject_type"`
}

func (e *BaseDomainEvent) EventID() uuid.UUID { return e.ID }
func (e *BaseDomainEvent) EventType() string { return e.Type }
func (e *BaseDomainEvent) OccurredAt() time.Time { return e.Timestamp }
func (e *BaseDomainEvent) TenantID() uuid.UUID { return e.Tenant }
func (e *BaseDomainEvent) SubjectID() uuid.UUID { return e.Subject }
func (e *BaseDomainEvent) SubjectType() string { return e.SubjectKind }

// NewBaseDomainEvent stamps a fresh event id and the current UTC time
func NewBaseDomainEvent(eventType, subjectType string, subjectID, tenantID uuid.UUID) BaseDomainEvent {
	return BaseDomainEvent{
		ID:          uuid.New(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		Tenant:      tenantID,
		Subject:     subjectID,
		SubjectKind: subjectType,
	}
}
