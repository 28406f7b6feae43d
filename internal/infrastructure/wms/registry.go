package wms

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Adapter is everything the engine needs from one WMS provider
type Adapter interface {
	integration.ProviderClient
	integration.WebhookTranslator
	SignatureScheme() integration.SignatureScheme
}

// Registry maps provider identifiers to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[integration.ProviderID]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[integration.ProviderID]Adapter)}
}

// NewRegistryFromConfig builds the built-in adapters for every configured provider.
// Unknown provider names are an error so a typo in config fails at startup.
func NewRegistryFromConfig(providers map[string]config.ProviderConfig, httpClient *http.Client, logger *zap.Logger) (*Registry, error) {
	r := NewRegistry()
	for name, pc := range providers {
		cfg := ClientConfigFrom(pc)
		var (
			a   Adapter
			err error
		)
		switch integration.ProviderID(name) {
		case integration.ProviderShipHero:
			a, err = NewShipHeroClient(cfg, httpClient, logger)
		case integration.ProviderExtensiv:
			a, err = NewExtensivClient(cfg, httpClient, logger)
		default:
			return nil, fmt.Errorf("%w: %s", integration.ErrUnknownProvider, name)
		}
		if err != nil {
			return nil, fmt.Errorf("wms: provider %s: %w", name, err)
		}
		r.Register(a)
	}
	return r, nil
}

// Register adds an adapter, replacing any adapter for the same provider
func (r *Registry) Register(a Adapter) {
	if a == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

// Get returns the adapter for provider or ErrUnknownProvider
func (r *Registry) Get(provider integration.ProviderID) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrUnknownProvider, provider)
	}
	return a, nil
}

// WebhookSource returns the webhook side of a provider adapter
func (r *Registry) WebhookSource(provider integration.ProviderID) (integration.WebhookSource, error) {
	return r.Get(provider)
}

// SupportedResources returns what a provider can list
func (r *Registry) SupportedResources(provider integration.ProviderID) ([]integration.ResourceType, error) {
	a, err := r.Get(provider)
	if err != nil {
		return nil, err
	}
	return a.SupportedResources(), nil
}

// Providers returns the registered providers, sorted
func (r *Registry) Providers() []integration.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]integration.ProviderID, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StatusTables returns the built-in status tables of the registered providers
func (r *Registry) StatusTables() map[integration.ProviderID]integration.StatusTable {
	all := integration.DefaultStatusTables()
	out := make(map[integration.ProviderID]integration.StatusTable)
	for _, p := range r.Providers() {
		if t, ok := all[p]; ok {
			out[p] = t
		}
	}
	return out
}
