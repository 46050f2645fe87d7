// Package realtime fans alert lifecycle events out to connected clients.
// Subscriptions are keyed by topic so a representative's app only sees the
// users it watches.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event names carried on the stream.
const (
	EventAlertTriggered = "alert.triggered"
	EventAlertCancelled = "alert.cancelled"
	EventProfileAccess  = "profile.accessed"
)

// UserTopic is the channel key for a user's own devices.
func UserTopic(userID string) string { return "user:" + userID }

// RepTopic is the channel key for a representative's devices.
func RepTopic(repID string) string { return "rep:" + repID }

// Message is one event delivered to subscribers.
type Message struct {
	Topic     string          `json:"topic"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher is the orchestrator's outbound edge. In-process it is the Hub;
// in production it is the transactional outbox feeding Kafka, with the Hub
// fed back by the consumer.
type Publisher interface {
	Publish(ctx context.Context, topic, event string, payload interface{}) error
}

type subscriber struct {
	topic string
	ch    chan *Message
}

// Hub is an in-memory topic-keyed broadcaster.
type Hub struct {
	subscribers map[uint64]*subscriber
	nextID      atomic.Uint64
	mu          sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[uint64]*subscriber)}
}

// Subscribe registers a listener for one topic. The channel is buffered; a
// subscriber that stops draining loses messages rather than blocking the
// publisher.
func (h *Hub) Subscribe(topic string) (uint64, <-chan *Message) {
	id := h.nextID.Add(1)
	sub := &subscriber{topic: topic, ch: make(chan *Message, 64)}

	h.mu.Lock()
	h.subscribers[id] = sub
	h.mu.Unlock()

	return id, sub.ch
}

func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	if sub, ok := h.subscribers[id]; ok {
		close(sub.ch)
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
}

// Publish delivers the event to every subscriber of the topic. It never
// blocks and never fails on delivery: a slow subscriber is skipped.
func (h *Hub) Publish(_ context.Context, topic, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := &Message{
		Topic:     topic,
		Event:     event,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if sub.topic != topic {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// Skip slow subscribers
		}
	}
	return nil
}

// Dispatch delivers an already-built message, used by the Kafka consumer
// feeding the hub.
func (h *Hub) Dispatch(msg *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if sub.topic != msg.Topic {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes all subscriber channels, causing streams to exit gracefully
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}
}

// Fanout publishes to several topics at once.
func Fanout(ctx context.Context, p Publisher, topics []string, event string, payload interface{}) error {
	for _, topic := range topics {
		if err := p.Publish(ctx, topic, event, payload); err != nil {
			return err
		}
	}
	return nil
}
