package broker

import (
	"context"
	"sync"
)

// LocalBroker delivers envelopes synchronously to in-process handlers
type LocalBroker struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewLocalBroker creates an in-process broker
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

// Publish calls every handler before returning
func (b *LocalBroker) Publish(ctx context.Context, envelope Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, envelope)
	}
	return nil
}

// Subscribe registers handler for all later publishes
func (b *LocalBroker) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Close rejects further publishes
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
