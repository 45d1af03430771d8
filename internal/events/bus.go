// Package events provides a publish/subscribe event bus carrying
// operational events — rule firings, agent steps, analyzer insights — from
// the components that produce them to the UI stream and any future
// observer. The bus is nil-safe: calling Publish on a nil *Bus is a no-op.
package events

import (
	"sync"
	"time"
)

// Event kind constants describe what happened, independent of which
// component produced it.
const (
	// KindDeviceState signals a device reported a new state.
	// Data: device_id, room, type, state.
	KindDeviceState = "device_state"
	// KindRuleFired signals a rule's actions were executed.
	// Data: rule_id.
	KindRuleFired = "rule_fired"
	// KindAgentStep signals a supervisor plan step completed.
	// Data: tool, status, latency_ms.
	KindAgentStep = "agent_step"
	// KindInsight signals the background analyzer found something worth
	// surfacing. Data: kind, room.
	KindInsight = "insight"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Type describes what happened (one of the Kind constants).
	Type string `json:"type"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// DefaultBufferSize is the per-subscriber channel capacity used when none
// is specified by the caller.
const DefaultBufferSize = 500

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than blocking
// publishers or other subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe back
	// to the bidirectional channel stored in subs, so Unsubscribe can
	// accept the caller's <-chan Event view without an illegal conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that subscriber
// only. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events, buffered to
// bufSize (DefaultBufferSize if bufSize <= 0). The caller must eventually
// call Unsubscribe to avoid resource leaks.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
