package event

import (
	"sync"

	"github.com/google/uuid"
)

// InMemoryBroadcaster fans session state out to every current subscriber.
// Delivery is synchronous and unqueued: a publish with no listener is lost.
type InMemoryBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]Listener
	state       SessionState
}

func NewBroadcaster() *InMemoryBroadcaster {
	return &InMemoryBroadcaster{
		subscribers: make(map[string]Listener),
	}
}

func (b *InMemoryBroadcaster) Publish(visible bool, message string) {
	next := SessionState{Visible: visible, Message: message}
	if !visible {
		next.Message = ""
	}

	b.mu.Lock()
	b.state = next
	listeners := make([]Listener, 0, len(b.subscribers))
	for _, listener := range b.subscribers {
		listeners = append(listeners, listener)
	}
	b.mu.Unlock()

	// Listeners run outside the lock so they may unsubscribe or dismiss.
	for _, listener := range listeners {
		listener(next)
	}
}

func (b *InMemoryBroadcaster) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.subscribers[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
		})
	}
}

func (b *InMemoryBroadcaster) State() SessionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *InMemoryBroadcaster) Dismiss() {
	b.mu.Lock()
	wasVisible := b.state.Visible
	b.mu.Unlock()

	if wasVisible {
		b.Publish(false, "")
	}
}

func (b *InMemoryBroadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
