package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/geoscout/internal/plugin"
)

// Compile-time interface check.
var _ plugin.EventBus = (*MockBus)(nil)

// MockBus is a thread-safe in-memory event bus that records all published
// events for later inspection. Subscribers are invoked synchronously.
type MockBus struct {
	mu     sync.Mutex
	events []plugin.Event
	subs   map[uint64]mockSub
	nextID uint64
}

type mockSub struct {
	topic   string // "" matches every topic
	handler plugin.EventHandler
}

// NewMockBus returns a new MockBus.
func NewMockBus() *MockBus {
	return &MockBus{}
}

// Publish records an event and delivers it to matching subscribers.
func (b *MockBus) Publish(ctx context.Context, event plugin.Event) error {
	for _, h := range b.record(event) {
		h(ctx, event)
	}
	return nil
}

// PublishAsync behaves like Publish.
func (b *MockBus) PublishAsync(ctx context.Context, event plugin.Event) {
	_ = b.Publish(ctx, event)
}

func (b *MockBus) record(event plugin.Event) []plugin.EventHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	var handlers []plugin.EventHandler
	for _, s := range b.subs {
		if s.topic == "" || s.topic == event.Topic {
			handlers = append(handlers, s.handler)
		}
	}
	return handlers
}

func (b *MockBus) Subscribe(topic string, handler plugin.EventHandler) func() {
	return b.add(mockSub{topic: topic, handler: handler})
}

func (b *MockBus) SubscribeAll(handler plugin.EventHandler) func() {
	return b.add(mockSub{handler: handler})
}

func (b *MockBus) add(s mockSub) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[uint64]mockSub)
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = s
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *MockBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Events returns a copy of all recorded events.
func (b *MockBus) Events() []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]plugin.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Topics returns the topics of all recorded events in publish order.
func (b *MockBus) Topics() []string {
	events := b.Events()
	topics := make([]string, len(events))
	for i, e := range events {
		topics[i] = e.Topic
	}
	return topics
}

// Reset clears all recorded events.
func (b *MockBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}
