package socket

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives every decoded inbound frame.
type Handler func(Frame)

// SubscriptionID identifies a registered handler for Unsubscribe.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus fans inbound frames out to any number of handlers so screens and
// services can listen without each owning a connection. Handlers run
// synchronously on the dispatching goroutine, in subscription order.
type Bus struct {
	logger *slog.Logger

	// ensure is called on every Subscribe so that the first listener
	// brings the connection up. It must be idempotent.
	ensure func()

	mu     sync.RWMutex
	subs   []subscription
	nextID SubscriptionID
}

// NewBus creates a bus. ensure may be nil.
func NewBus(logger *slog.Logger, ensure func()) *Bus {
	return &Bus{logger: logger, ensure: ensure}
}

// Subscribe registers h and returns its id. If the connection is not yet
// connecting or open and the session allows it, the connection is started.
func (b *Bus) Subscribe(h Handler) SubscriptionID {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})
	b.mu.Unlock()

	if b.ensure != nil {
		b.ensure()
	}

	return id
}

// Unsubscribe removes the handler registered under id. Unknown ids are
// ignored.
func (b *Bus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered handlers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Dispatch delivers f to every handler registered at the time of the
// call. A panicking handler is logged and does not stop the others.
func (b *Bus) Dispatch(f Frame) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, f)
	}
}

func (b *Bus) deliver(s subscription, f Frame) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("frame handler panicked",
				slog.Uint64("subscription", uint64(s.id)),
				slog.String("kind", f.Kind().String()),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	s.handler(f)
}
