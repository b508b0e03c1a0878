// Package event provides the in-process event bus used to fan job lifecycle
// notifications out to subscribers (metrics, websocket clients, logs).
package event

import (
	"context"
	"sync"

	"github.com/HerbHall/geoscout/internal/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

type subscription struct {
	id      uint64
	handler plugin.EventHandler
}

// Bus is a synchronous topic-based publish/subscribe bus. Handler panics are
// recovered and logged so one bad subscriber cannot break the publisher.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	all    []subscription
	nextID uint64
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// Publish delivers event to topic subscribers, then to catch-all
// subscribers, on the caller's goroutine.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	for _, h := range b.handlersFor(event.Topic) {
		b.invoke(ctx, h, event)
	}
	return nil
}

// PublishAsync delivers event on a new goroutine per handler.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	for _, h := range b.handlersFor(event.Topic) {
		go b.invoke(ctx, h, event)
	}
}

// Subscribe registers handler for topic and returns its unsubscribe func.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = remove(b.topics[topic], id)
	}
}

// SubscribeAll registers handler for every topic.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

func (b *Bus) handlersFor(topic string) []plugin.EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]plugin.EventHandler, 0, len(b.topics[topic])+len(b.all))
	for _, s := range b.topics[topic] {
		out = append(out, s.handler)
	}
	for _, s := range b.all {
		out = append(out, s.handler)
	}
	return out
}

func (b *Bus) invoke(ctx context.Context, h plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, event)
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
