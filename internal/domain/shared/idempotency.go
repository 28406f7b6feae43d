package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed keys so at-least-once deliveries are handled once
type IdempotencyStore interface {
	// MarkProcessed marks a key as processed with a TTL.
	// Returns true if the key was newly marked, false if it was already present.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a key has already been marked
	IsProcessed(ctx context.Context, key string) (bool, error)

	// Release removes a marker so a later redelivery is processed again.
	// Used when processing failed after the key was marked.
	Release(ctx context.Context, key string) error

	// Close closes the store and releases resources
	Close() error
}
