package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"gorm.io/datatypes"
)

// SyncCheckpointModel is the persistence model for integration.Checkpoint.
// The (tenant_id, resource) primary key is the conflict target of BeginRun.
type SyncCheckpointModel struct {
	TenantID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Resource              string     `gorm:"type:varchar(32);primaryKey"`
	LastSyncAt            *time.Time `gorm:"column:last_sync_at"`
	Status                string     `gorm:"type:varchar(16);not null;default:'idle'"`
	PreviousStatus        string     `gorm:"type:varchar(16);not null;default:'idle'"`
	RecordsProcessed      int64      `gorm:"not null;default:0"`
	TotalRecordsProcessed int64      `gorm:"not null;default:0"`
	ConsecutiveErrors     int        `gorm:"not null;default:0"`
	LastError             string     `gorm:"type:text"`
	RunID                 *uuid.UUID `gorm:"type:uuid"`
	RunKind               string     `gorm:"type:varchar(16)"`
	RunStartedAt          *time.Time
	LastFinishedAt        *time.Time
	LastRunID             *uuid.UUID `gorm:"type:uuid"`
	CreatedAt             time.Time  `gorm:"not null"`
	UpdatedAt             time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncCheckpointModel) TableName() string {
	return "sync_checkpoints"
}

// ToDomain converts the persistence model to a domain Checkpoint
func (m *SyncCheckpointModel) ToDomain() *integration.Checkpoint {
	return &integration.Checkpoint{
		TenantID:              m.TenantID,
		Resource:              integration.ResourceType(m.Resource),
		LastSyncAt:            utcPtr(m.LastSyncAt),
		Status:                integration.RunStatus(m.Status),
		RecordsProcessed:      m.RecordsProcessed,
		TotalRecordsProcessed: m.TotalRecordsProcessed,
		ConsecutiveErrors:     m.ConsecutiveErrors,
		LastError:             m.LastError,
		RunID:                 m.RunID,
		RunKind:               integration.RunKind(m.RunKind),
		RunStartedAt:          utcPtr(m.RunStartedAt),
		LastFinishedAt:        utcPtr(m.LastFinishedAt),
		LastRunID:             m.LastRunID,
		UpdatedAt:             m.UpdatedAt.UTC(),
	}
}

// ConnectionModel is the read model of a tenant's WMS link
type ConnectionModel struct {
	TenantID      uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Provider      string         `gorm:"type:varchar(32);not null;uniqueIndex:idx_wms_connections_provider_conn,priority:1"`
	ConnectionID  string         `gorm:"type:varchar(128);not null;uniqueIndex:idx_wms_connections_provider_conn,priority:2"`
	State         string         `gorm:"type:varchar(16);not null;default:'disconnected';index"`
	Credentials   datatypes.JSON `gorm:"type:jsonb"`
	WebhookSecret string         `gorm:"type:varchar(255)"`
	Resources     string         `gorm:"type:varchar(255)"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ConnectionModel) TableName() string {
	return "wms_connections"
}

// ToDomain converts the persistence model to a domain Connection
func (m *ConnectionModel) ToDomain() *integration.Connection {
	conn := &integration.Connection{
		TenantID:      m.TenantID,
		Provider:      integration.ProviderID(m.Provider),
		ConnectionID:  m.ConnectionID,
		State:         integration.ConnectionState(m.State),
		Credentials:   []byte(m.Credentials),
		WebhookSecret: m.WebhookSecret,
		UpdatedAt:     m.UpdatedAt,
	}
	for _, r := range strings.Split(m.Resources, ",") {
		if r = strings.TrimSpace(r); r != "" {
			conn.Resources = append(conn.Resources, integration.ResourceType(r))
		}
	}
	return conn
}

// FromDomain populates the persistence model from a domain Connection
func (m *ConnectionModel) FromDomain(c *integration.Connection) {
	m.TenantID = c.TenantID
	m.Provider = string(c.Provider)
	m.ConnectionID = c.ConnectionID
	m.State = string(c.State)
	m.Credentials = datatypes.JSON(c.Credentials)
	m.WebhookSecret = c.WebhookSecret
	parts := make([]string, 0, len(c.Resources))
	for _, r := range c.Resources {
		parts = append(parts, string(r))
	}
	m.Resources = strings.Join(parts, ",")
}

// RecordFailureModel is one entry of the reconciliation failure ledger
type RecordFailureModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_sync_record_failures_key,priority:1"`
	Resource    string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_sync_record_failures_key,priority:2"`
	ExternalKey string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_sync_record_failures_key,priority:3"`
	Error       string     `gorm:"type:text;not null"`
	Attempts    int        `gorm:"not null;default:1"`
	FirstSeenAt time.Time  `gorm:"not null"`
	LastSeenAt  time.Time  `gorm:"not null;index"`
	ResolvedAt  *time.Time `gorm:"index"`
}

// TableName returns the table name for GORM
func (RecordFailureModel) TableName() string {
	return "sync_record_failures"
}

// ToDomain converts the persistence model to a domain RecordFailure
func (m *RecordFailureModel) ToDomain() integration.RecordFailure {
	return integration.RecordFailure{
		TenantID:    m.TenantID,
		Resource:    integration.ResourceType(m.Resource),
		ExternalKey: m.ExternalKey,
		Error:       m.Error,
		Attempts:    m.Attempts,
		FirstSeenAt: m.FirstSeenAt.UTC(),
		LastSeenAt:  m.LastSeenAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
