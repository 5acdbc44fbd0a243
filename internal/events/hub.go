package events

import (
	"context"
	"sync"
	"time"
)

// Topics published by the manager core.
const (
	TopicAttemptFinished    = "attempt.finished"
	TopicCredentialsChanged = "credentials.changed"
	TopicUsageReset         = "usage.reset"
	TopicConfigReloaded     = "config.reloaded"
)

// Event is one published message.
type Event struct {
	Topic     string            `json:"topic"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Handler processes an incoming event. Handlers run on the
// publisher's goroutine and must not block; slow consumers buffer on
// their own side (the websocket bridge drops instead of blocking).
type Handler func(context.Context, Event)

// Publisher is the side the manager sees.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, metadata map[string]string)
}

// Subscriber is the side the observability bridges see.
type Subscriber interface {
	Subscribe(topic string, handler Handler) func()
}

// Hub is a lightweight in-process pub/sub bus connecting the manager
// to the websocket stream and log sinks.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]Handler
	nextID int64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int64]Handler)}
}

// Subscribe registers a handler for one topic and returns its
// unsubscribe function.
func (h *Hub) Subscribe(topic string, handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[int64]Handler)
	}
	h.subs[topic][id] = handler

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if listeners, ok := h.subs[topic]; ok {
			delete(listeners, id)
			if len(listeners) == 0 {
				delete(h.subs, topic)
			}
		}
	}
}

// Publish dispatches synchronously to every subscriber of the topic.
func (h *Hub) Publish(ctx context.Context, topic string, payload any, metadata map[string]string) {
	event := Event{
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  metadata,
	}
	for _, handler := range h.snapshot(topic) {
		handler(ctx, event)
	}
}

func (h *Hub) snapshot(topic string) []Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	listeners := h.subs[topic]
	if len(listeners) == 0 {
		return nil
	}
	out := make([]Handler, 0, len(listeners))
	for _, handler := range listeners {
		out = append(out, handler)
	}
	return out
}
