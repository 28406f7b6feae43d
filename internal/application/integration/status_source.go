package integration

import (
	"sync/atomic"

	"github.com/wmsync/backend/internal/domain/integration"
)

// StatusSource supplies the status canonicalizer currently in effect
type StatusSource interface {
	Current() *integration.StatusCanonicalizer
}

// CanonicalizerHolder publishes a canonicalizer that can be replaced while
// readers are running, e.g. after a config reload.
type CanonicalizerHolder struct {
	current atomic.Pointer[integration.StatusCanonicalizer]
}

// NewCanonicalizerHolder creates a holder with an initial canonicalizer
func NewCanonicalizerHolder(c *integration.StatusCanonicalizer) *CanonicalizerHolder {
	h := &CanonicalizerHolder{}
	h.current.Store(c)
	return h
}

// Current returns the canonicalizer in effect
func (h *CanonicalizerHolder) Current() *integration.StatusCanonicalizer {
	return h.current.Load()
}

// Swap installs c; a nil canonicalizer is ignored
func (h *CanonicalizerHolder) Swap(c *integration.StatusCanonicalizer) {
	if c == nil {
		return
	}
	h.current.Store(c)
}
