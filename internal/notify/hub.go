package notify

import (
	"sync"

	"github.com/ohboy/herosync/pkg/metrics"
)

// Event is one change notification: the id of the document that was written.
type Event struct {
	ID string `json:"id"`
}

// subscriberBuffer bounds each subscriber queue. A dropped event is safe:
// the replication engine coalesces runs and the polling fallback catches up.
const subscriberBuffer = 16

// Hub fans out one Event per accepted set to every subscriber over bounded
// queues. It is owned by the server bootstrap and injected into the store,
// not reached through package-level state.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber queue and returns it with a cancel
// function. The channel is closed on cancel or hub close.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking; a full
// queue drops the event for that subscriber.
func (h *Hub) Publish(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- Event{ID: id}:
			metrics.ChangeEventsPublished.Inc()
		default:
			metrics.ChangeEventsDropped.Inc()
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close shuts down the hub and all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
