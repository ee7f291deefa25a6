// Package events fans conversation events out to in-process subscribers.
//
// Delivery is in order per subscriber and at most once: an event that does
// not fit in a subscriber's buffer is dropped for that subscriber only.
package events

import (
	"sync"
	"sync/atomic"

	"conductor/pkg/logx"
	"conductor/pkg/proto"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Subscription receives events for one conversation, or for all of them
// when ConversationID is empty.
type Subscription struct {
	ch             chan proto.Event
	ConversationID string
	id             uint64
	dropped        atomic.Uint64
}

// C returns the delivery channel. It is closed by Unsubscribe or Close.
func (s *Subscription) C() <-chan proto.Event {
	return s.ch
}

// Dropped returns how many events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub is a non-blocking event broadcaster.
type Hub struct {
	subs    map[uint64]*Subscription
	logger  *logx.Logger
	buffer  int
	nextID  uint64
	dropped atomic.Uint64
	mu      sync.RWMutex
	closed  bool
}

// NewHub creates a hub. A non-positive buffer uses DefaultBufferSize.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		logger: logx.NewLogger("events"),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub) Subscribe(conversationID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		ch:             make(chan proto.Event, h.buffer),
		ConversationID: conversationID,
		id:             h.nextID,
	}
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. It is idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
		close(sub.ch)
	}
}

// Emit delivers ev to every matching subscriber without blocking.
func (h *Hub) Emit(ev proto.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if sub.ConversationID != "" && sub.ConversationID != ev.ConversationID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
			h.logger.Warn("Subscriber %d buffer full, dropping %s event for %s", sub.id, ev.Type, ev.ConversationID)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the total number of dropped deliveries.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close closes every subscription. Later emits are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.ch)
		delete(h.subs, id)
	}
}
