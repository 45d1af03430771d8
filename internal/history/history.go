// Package history retains a bounded in-memory log of recently published
// events for the HTTP API's /history/events endpoint, independent of the
// live /ui/stream subscribers.
package history

import (
	"context"
	"sync"

	"github.com/Personaz1/SMARTHOUSE/internal/events"
)

// DefaultCapacity bounds how many events are retained before the oldest
// are evicted.
const DefaultCapacity = 1000

// Store is a ring buffer of events.Event, safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	capacity int
	buf      []events.Event
	next     int
	full     bool
}

// NewStore creates a Store with the given capacity (DefaultCapacity if
// capacity <= 0).
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{capacity: capacity, buf: make([]events.Event, capacity)}
}

// Follow subscribes to bus and appends every published event to the
// store until ctx is done, then unsubscribes.
func (s *Store) Follow(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe(events.DefaultBufferSize)
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.append(e)
		}
	}
}

func (s *Store) append(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf[s.next] = e
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
}

// Recent returns up to limit most-recent events, newest first, optionally
// filtered to a single event type. limit <= 0 means no bound.
func (s *Store) Recent(limit int, etype string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	total := n
	if s.full {
		total = s.capacity
	}

	out := make([]events.Event, 0, total)
	for i := 0; i < total; i++ {
		idx := (n - 1 - i + s.capacity) % s.capacity
		e := s.buf[idx]
		if etype != "" && e.Type != etype {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
