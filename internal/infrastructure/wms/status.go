package wms

import (
	"fmt"

	"github.com/wmsync/backend/internal/domain/integration"
	"github.com/wmsync/backend/internal/infrastructure/config"
)

// BuildCanonicalizer layers the configured status mapping on top of the
// built-in tables. Every configured value must name a canonical status.
func BuildCanonicalizer(tables map[integration.ProviderID]integration.StatusTable, cfg config.StatusMappingConfig) (*integration.StatusCanonicalizer, error) {
	var opts []integration.CanonicalizerOption

	for provider, entries := range cfg.Overrides {
		overrides := make(map[string]integration.CanonicalStatus, len(entries))
		for raw, value := range entries {
			cs, err := integration.ParseCanonicalStatus(value)
			if err != nil {
				return nil, fmt.Errorf("wms: status override %s/%s: %w", provider, raw, err)
			}
			overrides[raw] = cs
		}
		opts = append(opts, integration.WithStatusOverrides(integration.ProviderID(provider), overrides))
	}

	if len(cfg.Collapse) > 0 {
		rules := make(map[integration.CanonicalStatus]integration.CanonicalStatus, len(cfg.Collapse))
		for from, to := range cfg.Collapse {
			f, err := integration.ParseCanonicalStatus(from)
			if err != nil {
				return nil, fmt.Errorf("wms: status collapse %s: %w", from, err)
			}
			t, err := integration.ParseCanonicalStatus(to)
			if err != nil {
				return nil, fmt.Errorf("wms: status collapse %s -> %s: %w", from, to, err)
			}
			rules[f] = t
		}
		opts = append(opts, integration.WithCollapse(rules))
	}

	if len(cfg.Fulfilled) > 0 {
		statuses := make([]integration.CanonicalStatus, 0, len(cfg.Fulfilled))
		for _, v := range cfg.Fulfilled {
			cs, err := integration.ParseCanonicalStatus(v)
			if err != nil {
				return nil, fmt.Errorf("wms: fulfilled status %s: %w", v, err)
			}
			statuses = append(statuses, cs)
		}
		opts = append(opts, integration.WithFulfilledStatuses(statuses...))
	}

	return integration.NewStatusCanonicalizer(tables, opts...)
}
