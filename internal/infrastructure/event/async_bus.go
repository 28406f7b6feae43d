package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wmsync/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ErrBusStopped is returned by Publish after Stop
var ErrBusStopped = errors.New("event: bus stopped")

// ErrBusFull is returned by Publish when the queue has no room
var ErrBusFull = errors.New("event: bus queue full")

// AsyncBusConfig sizes the async dispatcher
type AsyncBusConfig struct {
	Workers   int
	QueueSize int
	// HandlerTimeout bounds each event's dispatch; zero means no bound
	HandlerTimeout time.Duration
}

type envelope struct {
	ctx context.Context
	ev  shared.DomainEvent
}

// AsyncEventBus queues events and dispatches them on a worker pool, so the
// publisher (e.g. a webhook request) returns before follow-up work runs.
// Publish never blocks: a full queue is reported as ErrBusFull.
type AsyncEventBus struct {
	registry *HandlerRegistry
	logger   *zap.Logger
	cfg      AsyncBusConfig

	queue    chan envelope
	wg       sync.WaitGroup
	mu       sync.RWMutex
	started  bool
	stopped  bool
	inFlight atomic.Int64
}

// NewAsyncEventBus creates a bus; call Start before publishing
func NewAsyncEventBus(cfg AsyncBusConfig, logger *zap.Logger) *AsyncEventBus {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &AsyncEventBus{
		registry: NewHandlerRegistry(),
		logger:   logger,
		cfg:      cfg,
		queue:    make(chan envelope, cfg.QueueSize),
	}
}

// Subscribe registers handler; with no event types given the handler's own list is used
func (b *AsyncEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
}

// Unsubscribe removes handler
func (b *AsyncEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
}

// Start launches the workers
func (b *AsyncEventBus) Start(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true
	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	b.logger.Info("async event bus started",
		zap.Int("workers", b.cfg.Workers),
		zap.Int("queue_size", b.cfg.QueueSize))
	return nil
}

// Publish enqueues events. The request context's values are kept but its
// cancellation is not, so follow-ups outlive the request that caused them.
func (b *AsyncEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return ErrBusStopped
	}

	detached := context.WithoutCancel(ctx)
	for _, ev := range events {
		select {
		case b.queue <- envelope{ctx: detached, ev: ev}:
			b.inFlight.Add(1)
		default:
			b.logger.Warn("async event bus full, dropping event",
				zap.String("event_type", ev.EventType()),
				zap.String("event_id", ev.EventID().String()))
			return ErrBusFull
		}
	}
	return nil
}

// Pending returns the number of queued or running events
func (b *AsyncEventBus) Pending() int64 {
	return b.inFlight.Load()
}

// Stop refuses new events and waits for the queue to drain or ctx to end
func (b *AsyncEventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	close(b.queue)
	started := b.started
	b.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("async event bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("async event bus stop timed out", zap.Int64("pending", b.Pending()))
		return ctx.Err()
	}
}

func (b *AsyncEventBus) worker() {
	defer b.wg.Done()
	for env := range b.queue {
		ctx := env.ctx
		var cancel context.CancelFunc = func() {}
		if b.cfg.HandlerTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, b.cfg.HandlerTimeout)
		}
		dispatch(ctx, b.registry, b.logger, env.ev)
		cancel()
		b.inFlight.Add(-1)
	}
}

var _ shared.EventBus = (*AsyncEventBus)(nil)
