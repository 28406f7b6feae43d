package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConnectionState is the link state between a tenant and its WMS account
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionActive       ConnectionState = "active"
	ConnectionError        ConnectionState = "error"
)

// IsValid returns true if the state is known
func (s ConnectionState) IsValid() bool {
	switch s {
	case ConnectionDisconnected, ConnectionConnecting, ConnectionActive, ConnectionError:
		return true
	default:
		return false
	}
}

// Connection is a tenant's link to a WMS account. It is owned by the
// surrounding application; the sync engine only reads it.
type Connection struct {
	TenantID      uuid.UUID
	Provider      ProviderID
	ConnectionID  string
	State         ConnectionState
	Credentials   json.RawMessage
	WebhookSecret string
	Resources     []ResourceType
	UpdatedAt     time.Time
}

// IsActive returns true if syncing is allowed
func (c *Connection) IsActive() bool {
	return c != nil && c.State == ConnectionActive
}

// DecodeCredentials unmarshals the opaque credential bundle into v
func (c *Connection) DecodeCredentials(v any) error {
	if len(c.Credentials) == 0 {
		return fmt.Errorf("%w: no credentials for tenant %s", ErrProviderAuth, c.TenantID)
	}
	if err := json.Unmarshal(c.Credentials, v); err != nil {
		return fmt.Errorf("%w: malformed credentials: %v", ErrProviderAuth, err)
	}
	return nil
}

// SyncsResource reports whether the connection mirrors the given resource.
// An empty resource list means every resource.
func (c *Connection) SyncsResource(r ResourceType) bool {
	if len(c.Resources) == 0 {
		return true
	}
	for _, res := range c.Resources {
		if res == r {
			return true
		}
	}
	return false
}

// ConnectionProvider is the credential / connection lookup consumed from the
// surrounding application.
type ConnectionProvider interface {
	// GetConnection returns ErrConnectionNotFound if the tenant has no connection
	GetConnection(ctx context.Context, tenantID uuid.UUID) (*Connection, error)
	// FindByConnectionID resolves a webhook's connection identifier
	FindByConnectionID(ctx context.Context, provider ProviderID, connectionID string) (*Connection, error)
	// ListActive returns every connection in the active state
	ListActive(ctx context.Context) ([]Connection, error)
}
