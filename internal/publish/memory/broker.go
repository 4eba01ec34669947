// Package memory contains an in-memory broker implementation for tests.
package memory

import (
	"context"
	"sync"
)

// Broker stores published messages for inspection.
type Broker struct {
	mu       sync.RWMutex
	messages []Message
	pubErr   error
	pingErr  error
	closed   bool
}

// Message captures one publish call.
type Message struct {
	Channel string
	Payload []byte
}

// New returns a memory Broker.
func New() *Broker {
	return &Broker{}
}

// Publish records the message, or returns the configured failure.
func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubErr != nil {
		return b.pubErr
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	b.messages = append(b.messages, Message{Channel: channel, Payload: data})
	return nil
}

// Ping returns the configured ping failure, if any.
func (b *Broker) Ping(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pingErr
}

// Close marks the broker closed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Closed reports whether Close was called.
func (b *Broker) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Messages returns the recorded publishes.
func (b *Broker) Messages() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// FailPublishes makes subsequent publishes return err (nil restores success).
func (b *Broker) FailPublishes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubErr = err
}

// FailPings makes subsequent pings return err (nil restores success).
func (b *Broker) FailPings(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pingErr = err
}
