package wms

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ProviderRouter resolves a tenant's connection and forwards calls to the
// adapter of its provider. It is the FetchClient used by the orchestrator.
type ProviderRouter struct {
	registry    *Registry
	connections integration.ConnectionProvider
}

// NewProviderRouter creates a new router
func NewProviderRouter(registry *Registry, connections integration.ConnectionProvider) *ProviderRouter {
	return &ProviderRouter{registry: registry, connections: connections}
}

// FetchPage lists one page for the tenant's connection
func (r *ProviderRouter) FetchPage(ctx context.Context, tenantID uuid.UUID, resource integration.ResourceType, window integration.FetchWindow, cursor string) (page *integration.Page, err error) {
	conn, adapter, err := r.resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !conn.SyncsResource(resource) {
		return nil, fmt.Errorf("%w: %s is not synced for tenant %s", integration.ErrUnsupportedResource, resource, tenantID)
	}

	ctx, span := telemetry.StartClientSpan(ctx, "wms.FetchPage",
		telemetry.AttrProvider.String(string(conn.Provider)),
		telemetry.AttrResource.String(string(resource)),
		attribute.Bool("wms.first_page", cursor == ""),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	page, err = adapter.FetchPage(ctx, conn, resource, window, cursor)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("wms.records", len(page.Records)), attribute.Bool("wms.done", page.Done))
	return page, nil
}

// UpdateShippingAddress writes a new address through to the tenant's WMS
func (r *ProviderRouter) UpdateShippingAddress(ctx context.Context, tenantID uuid.UUID, externalOrderID string, addr integration.Address) (err error) {
	conn, adapter, err := r.resolve(ctx, tenantID)
	if err != nil {
		return err
	}

	ctx, span := telemetry.StartClientSpan(ctx, "wms.UpdateShippingAddress",
		telemetry.AttrProvider.String(string(conn.Provider)),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	return adapter.UpdateShippingAddress(ctx, conn, externalOrderID, addr)
}

// Adapter returns the adapter for a provider
func (r *ProviderRouter) Adapter(provider integration.ProviderID) (Adapter, error) {
	return r.registry.Get(provider)
}

func (r *ProviderRouter) resolve(ctx context.Context, tenantID uuid.UUID) (*integration.Connection, Adapter, error) {
	conn, err := r.connections.GetConnection(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	if !conn.IsActive() {
		return nil, nil, fmt.Errorf("%w: tenant %s is %s", integration.ErrConnectionInactive, tenantID, conn.State)
	}
	adapter, err := r.registry.Get(conn.Provider)
	if err != nil {
		return nil, nil, err
	}
	return conn, adapter, nil
}

var _ integration.FetchClient = (*ProviderRouter)(nil)
