package broker

import (
	"context"
	"strings"
	"sync"
)

// Hub is an in-process fake broker used by tests. Multiple HubTransport
// instances attached to the same Hub simulate independent MQTT sessions
// sharing one broker, including wildcard subscriptions ("+" and "#").
type Hub struct {
	mu   sync.Mutex
	subs map[*HubTransport]map[string]byte
}

// NewHub creates an empty fake broker.
func NewHub() *Hub {
	return &Hub{subs: make(map[*HubTransport]map[string]byte)}
}

// Attach creates a new session (Transport) on this hub.
func (h *Hub) Attach() *HubTransport {
	t := &HubTransport{hub: h}
	h.mu.Lock()
	h.subs[t] = make(map[string]byte)
	h.mu.Unlock()
	return t
}

func (h *Hub) publish(from *HubTransport, topic string, payload []byte) {
	h.mu.Lock()
	type target struct {
		t *HubTransport
	}
	var targets []target
	for t, topics := range h.subs {
		for pattern := range topics {
			if topicMatches(pattern, topic) {
				targets = append(targets, target{t})
				break
			}
		}
	}
	h.mu.Unlock()

	for _, tg := range targets {
		tg.t.mu.Lock()
		handler := tg.t.handler
		tg.t.mu.Unlock()
		if handler != nil {
			handler(topic, payload)
		}
	}
}

func (h *Hub) subscribe(t *HubTransport, topic string, qos byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[t][topic] = qos
}

func (h *Hub) unsubscribe(t *HubTransport, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[t], topic)
}

func (h *Hub) detach(t *HubTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, t)
}

// topicMatches reports whether topic satisfies an MQTT-style subscription
// pattern, supporting single-level "+" and multi-level trailing "#"
// wildcards.
func topicMatches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(topic, "/")

	for i, p := range pSegs {
		if p == "#" {
			return true
		}
		if i >= len(tSegs) {
			return false
		}
		if p == "+" {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}

// HubTransport is a Transport backed by an in-memory Hub.
type HubTransport struct {
	hub *Hub

	mu      sync.Mutex
	handler func(topic string, payload []byte)
}

func (t *HubTransport) SetHandler(handler func(topic string, payload []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *HubTransport) Publish(_ context.Context, topic string, payload []byte, _ byte) error {
	t.hub.publish(t, topic, payload)
	return nil
}

func (t *HubTransport) Subscribe(_ context.Context, topic string, qos byte) error {
	t.hub.subscribe(t, topic, qos)
	return nil
}

func (t *HubTransport) Unsubscribe(_ context.Context, topic string) error {
	t.hub.unsubscribe(t, topic)
	return nil
}

// Detach removes this session from the hub entirely. Not part of the
// Transport interface; used by tests to simulate disconnect.
func (t *HubTransport) Detach() {
	t.hub.detach(t)
}
