package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe bus keyed by cache scope.
// Subscribers register a scope prefix so a sidebar can watch
// "conversations/" while a chat pane watches a single "messages/conv-9",
// and a mutation only reaches the consumers whose slice it touched.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	scope string
	ch    chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose scope prefix matches event.Scope.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Scope, sub.scope) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
}

// Subscribe returns a channel that receives events whose scope starts with the
// given prefix. bufSize controls the channel buffer. Returns the channel and an
// unsubscribe function; callers unsubscribe on unmount.
func (b *Bus) Subscribe(scopePrefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{scope: scopePrefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
