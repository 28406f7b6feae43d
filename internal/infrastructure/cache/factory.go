package cache

import (
	"context"
	"fmt"

	"github.com/wmsync/backend/internal/domain/shared"
	"github.com/wmsync/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Backend names accepted by the factory
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// IdempotencyStoreFactory picks the webhook idempotency backend from configuration
type IdempotencyStoreFactory struct {
	redisConfig           config.RedisConfig
	backend               string
	logger                *zap.Logger
	allowInMemoryFallback bool
	connect               func(context.Context, config.RedisConfig) (shared.IdempotencyStore, error)
}

// FactoryOption configures the factory
type FactoryOption func(*IdempotencyStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *IdempotencyStoreFactory) { f.logger = logger }
}

// WithInMemoryFallback allows an in-memory store when Redis cannot be reached
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *IdempotencyStoreFactory) { f.allowInMemoryFallback = allow }
}

// NewIdempotencyStoreFactory creates a factory for the configured backend
func NewIdempotencyStoreFactory(redisCfg config.RedisConfig, backend string, opts ...FactoryOption) *IdempotencyStoreFactory {
	f := &IdempotencyStoreFactory{
		redisConfig: redisCfg,
		backend:     backend,
		logger:      zap.NewNop(),
		connect: func(ctx context.Context, cfg config.RedisConfig) (shared.IdempotencyStore, error) {
			return NewRedisIdempotencyStore(ctx, cfg)
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore returns the configured store. With the redis backend and
// fallback allowed, an unreachable Redis degrades to an in-memory store.
func (f *IdempotencyStoreFactory) CreateStore(ctx context.Context) (shared.IdempotencyStore, error) {
	switch f.backend {
	case BackendMemory:
		f.logger.Info("using in-memory webhook idempotency store")
		return NewInMemoryIdempotencyStore(0), nil
	case BackendRedis, "":
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", f.backend)
	}

	store, err := f.connect(ctx, f.redisConfig)
	if err == nil {
		f.logger.Info("using Redis webhook idempotency store", zap.String("addr", f.redisConfig.Addr()))
		return store, nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for webhook idempotency: %w", err)
	}
	f.logger.Warn("redis unavailable, falling back to in-memory idempotency store; duplicates are only detected per instance",
		zap.Error(err))
	return NewInMemoryIdempotencyStore(0), nil
}
