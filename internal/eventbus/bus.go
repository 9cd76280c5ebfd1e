// Package eventbus dispatches in-process domain events to subscribed handlers
// on a bounded worker pool.
//
// Publish never blocks: when the queue is full, or the bus is closed, the
// event is dropped and counted. Delivery is therefore at most once. Close stops
// intake and waits for queued events to be handled.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/healthmetrix/recontact-service/internal/observability"
)

// Event is a message routed by type.
type Event interface {
	// EventType names the routing key handlers subscribe to.
	EventType() string
	// Key identifies the entity the event is about.
	Key() string
}

// Handler processes one event. Errors are logged and counted, never retried.
type Handler func(ctx context.Context, event Event) error

// Publisher accepts events for asynchronous dispatch.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Config sizes the worker pool.
type Config struct {
	// Workers is the number of dispatch goroutines.
	Workers int
	// QueueSize is the number of events that may wait for a worker.
	QueueSize int
}

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("event bus closed")

type envelope struct {
	ctx   context.Context
	event Event
}

var _ Publisher = (*Bus)(nil)

// Bus is a bounded, in-process event bus. It is safe for concurrent use.
type Bus struct {
	cfg     Config
	queue   chan envelope
	metrics *observability.Metrics
	logger  zerolog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	sinks    []Handler
	started  bool
	closed   bool

	wg sync.WaitGroup
}

// New creates a bus. Call Start to launch the workers.
func New(cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Bus {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	return &Bus{
		cfg:      cfg,
		queue:    make(chan envelope, cfg.QueueSize),
		metrics:  metrics,
		logger:   observability.WithComponent(logger, "event-bus"),
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers handler for events of eventType.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, handler)
}

// Start launches the workers. Calling it more than once has no effect.
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.started {
		return nil
	}
	b.started = true

	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.work()
	}

	b.logger.Info().
		Int("workers", b.cfg.Workers).
		Int("queue_size", b.cfg.QueueSize).
		Msg("event bus started")
	return nil
}

// Publish enqueues event without blocking. Handlers receive a context that
// carries the values of ctx but not its cancellation.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	eventType := event.EventType()
	if b.closed {
		b.drop(event, "closed")
		return
	}

	select {
	case b.queue <- envelope{ctx: context.WithoutCancel(ctx), event: event}:
		b.metrics.RecordEventPublished(eventType)
	default:
		b.drop(event, "queue full")
	}
}

func (b *Bus) drop(event Event, reason string) {
	b.metrics.RecordEventDropped(event.EventType())
	b.logger.Warn().
		Str("event_type", event.EventType()).
		Str("event_key", event.Key()).
		Str("reason", reason).
		Msg("event dropped")
}

// Close stops intake and waits until queued events are handled or ctx ends.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
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
		b.logger.Info().Msg("event bus drained")
		return nil
	case <-ctx.Done():
		b.logger.Warn().Int("pending", len(b.queue)).Msg("event bus drain interrupted")
		return fmt.Errorf("draining event bus: %w", ctx.Err())
	}
}

func (b *Bus) work() {
	defer b.wg.Done()
	for env := range b.queue {
		b.dispatch(env)
	}
}

func (b *Bus) dispatch(env envelope) {
	eventType := env.event.EventType()

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[eventType])+len(b.sinks))
	handlers = append(handlers, b.handlers[eventType]...)
	handlers = append(handlers, b.sinks...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(env, h)
	}
}

func (b *Bus) invoke(env envelope, h Handler) {
	logger := observability.WithEventContext(
		observability.FromContext(env.ctx, b.logger),
		env.event.EventType(), env.event.Key(),
	)

	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordHandlerFailure(env.event.EventType())
			logger.Error().Interface("panic", r).Msg("event handler panicked")
		}
	}()

	if err := h(env.ctx, env.event); err != nil {
		b.metrics.RecordHandlerFailure(env.event.EventType())
		logger.Error().Err(err).Msg("event handler failed")
	}
}
