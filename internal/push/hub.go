package push

import (
	"sync"
)

const subscriberBuffer = 16

// Hub is an in-process Sink that fans events out to per-account
// subscribers. Sends never block; a subscriber whose buffer is full drops
// the event.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Publish delivers the event to every subscriber of its account.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[event.AccountID] {
		select {
		case ch <- event:
		default:
			// Subscriber too slow; it will re-fetch on reconnect.
		}
	}
}

// Subscribe registers a listener for one account's events. The returned
// cancel func must be called when the listener goes away.
func (h *Hub) Subscribe(accountID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[accountID] == nil {
		h.subs[accountID] = make(map[chan Event]struct{})
	}
	h.subs[accountID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if set, ok := h.subs[accountID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, accountID)
			}
		}
	}

	return ch, cancel
}
