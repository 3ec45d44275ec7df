package events

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Publisher and Subscriber. It backs the api when
// no Redis is configured and records published events for tests.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]func(Event)
	history  []Event
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]func(Event))}
}

func (b *MemoryBus) Publish(ctx context.Context, stream string, event Event) error {
	b.mu.Lock()
	b.history = append(b.history, event)
	handlers := append([]func(Event){}, b.handlers[stream]...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[stream] = append(b.handlers[stream], handler)
	return nil
}

// Events returns published events of the given type, or all when typ is empty.
func (b *MemoryBus) Events(typ string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, e := range b.history {
		if typ == "" || e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
