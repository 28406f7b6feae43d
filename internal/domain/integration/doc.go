// Package integration contains the WMS synchronization bounded context.
// It keeps a local mirror of orders, products, inventory and shipments that
// live inside external warehouse-management systems.
//
// Key concepts:
//   - StatusCanonicalizer: data-driven mapping from provider status strings to CanonicalStatus
//   - Checkpoint: durable per (tenant, resource) sync progress, doubling as the run lock
//   - FetchClient: port for paginated "modified in window" reads from a provider
//   - ExternalRecord: provider-agnostic record shape produced by polling and webhooks alike
//   - Reconciler: create-or-update-or-skip of external records into canonical tables
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
