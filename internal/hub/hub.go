package hub

import (
	"context"
	"sync"

	"fund-connect/internal/metrics"
	"fund-connect/internal/model"
)

// InsertFunc receives messages inserted into a subscribed conversation. A
// non-nil error drops the subscription.
type InsertFunc func(msg model.Message) error

type subscription struct {
	conversationID string
	onInsert       InsertFunc
}

// Hub fans newly persisted messages out to the subscribers of their
// conversation on this instance.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	metrics *metrics.Metrics
}

func New(m *metrics.Metrics) *Hub {
	return &Hub{subs: make(map[string]map[*subscription]struct{}), metrics: m}
}

// Subscribe registers onInsert for conversationID. The returned function
// removes the subscription and may be called more than once.
func (h *Hub) Subscribe(conversationID string, onInsert InsertFunc) func() {
	sub := &subscription{conversationID: conversationID, onInsert: onInsert}

	h.mu.Lock()
	if h.subs[conversationID] == nil {
		h.subs[conversationID] = make(map[*subscription]struct{})
	}
	h.subs[conversationID][sub] = struct{}{}
	h.mu.Unlock()
	h.metrics.SubscriberAdded()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(sub) })
	}
}

func (h *Hub) remove(sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[sub.conversationID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.conversationID)
	}
	h.metrics.SubscriberRemoved()
}

// Deliver hands msg to every local subscriber of its conversation.
func (h *Hub) Deliver(msg model.Message) {
	h.mu.RLock()
	set := h.subs[msg.ConversationID]
	subs := make([]*subscription, 0, len(set))
	for s := range set {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	var failed []*subscription
	for _, s := range subs {
		if err := s.onInsert(msg); err != nil {
			failed = append(failed, s)
		}
	}
	for _, s := range failed {
		h.remove(s)
	}
}

// Publish delivers locally. It satisfies the messaging publisher when no
// cross-instance relay is configured.
func (h *Hub) Publish(_ context.Context, msg model.Message) error {
	h.Deliver(msg)
	return nil
}

func (h *Hub) Subscribers(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[conversationID])
}

const (
	FrameInsert = "insert"
	FramePing   = "ping"
	FramePong   = "pong"
)

// Frame is the JSON envelope exchanged on a live websocket.
type Frame struct {
	Type    string         `json:"type"`
	Message *model.Message `json:"message,omitempty"`
}
