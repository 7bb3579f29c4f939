// Package gateway serves the persistent device channel: token-authenticated
// websocket connections with a per-device push topic.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/campusgate/doorlock/internal/protocol"
)

// DeviceTopic is the push topic a device's channel subscribes to.
func DeviceTopic(deviceID int64) string {
	return fmt.Sprintf("device-%d", deviceID)
}

// Subscription is one channel's membership in a topic.
type Subscription struct {
	ID    string
	Topic string
	ch    chan protocol.ChannelMessage
}

// C delivers pushes for the topic. It is closed on Unsubscribe or Hub.Close.
func (s *Subscription) C() <-chan protocol.ChannelMessage {
	return s.ch
}

// Hub is the process-wide subscription table. Construct one per process with
// NewHub and release it with Close.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscription
	closed bool
}

// NewHub returns an empty table.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[string]*Subscription)}
}

// Subscribe registers a subscriber on topic with a bounded delivery buffer.
func (h *Hub) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscription{ID: uuid.NewString(), Topic: topic, ch: make(chan protocol.ChannelMessage, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[string]*Subscription)
		h.topics[topic] = set
	}
	set[sub.ID] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[sub.Topic]
	if !ok {
		return
	}
	if _, ok := set[sub.ID]; !ok {
		return
	}
	delete(set, sub.ID)
	close(sub.ch)
	if len(set) == 0 {
		delete(h.topics, sub.Topic)
	}
}

// Publish delivers msg to every subscriber of topic and returns how many
// accepted it. Subscribers with a full buffer miss the message.
func (h *Hub) Publish(ctx context.Context, topic string, msg protocol.ChannelMessage) int {
	if ctx.Err() != nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, sub := range h.topics[topic] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers reports the number of live subscribers on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close drops every subscription. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, set := range h.topics {
		for _, sub := range set {
			close(sub.ch)
		}
		delete(h.topics, topic)
	}
}
