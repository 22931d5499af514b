// Package events provides the notifier that publishes order-status and
// position-lifecycle events to interested observers. Delivery order across
// subscribers is not guaranteed, and a slow subscriber never blocks the
// publishing call.
package events

import "sync"

// Kind identifies an event stream.
type Kind string

const (
	OrderStatusChanged Kind = "order.status_changed"
	PositionOpened     Kind = "position.opened"
	PositionUpdated    Kind = "position.updated"
	PositionClosed     Kind = "position.closed"
)

// Bus is a lightweight pub/sub broker using buffered channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]chan any)}
}

// Subscribe registers a listener for a kind and returns the channel plus
// an unsubscribe function. buffer bounds how far the subscriber may lag
// before events are dropped for it.
func (b *Bus) Subscribe(k Kind, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[k] = append(b.subs[k], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[k]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[k] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(k Kind, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[k] {
		select {
		case ch <- payload:
		default:
			// drop if subscriber is slow; keep the emitter non-blocking
		}
	}
}
