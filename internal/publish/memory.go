package publish

import (
	"context"
	"sync"

	"github.com/reviewsignal/collector/internal/collect"
)

// Memory records events in memory for development and tests.
type Memory struct {
	mu     sync.Mutex
	events []collect.CollectionEvent
}

// NewMemory creates an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the event.
func (m *Memory) Publish(_ context.Context, event collect.CollectionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []collect.CollectionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]collect.CollectionEvent(nil), m.events...)
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Noop drops every event; used when publishing is disabled.
type Noop struct{}

// Publish discards the event.
func (Noop) Publish(context.Context, collect.CollectionEvent) error { return nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
