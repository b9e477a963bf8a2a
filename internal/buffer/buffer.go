// Package buffer implements the bounded FIFO of a user's recent behavior.
package buffer

import (
	"github.com/behaviorsec/kestrel/internal/domain"
)

// Ring holds the most recent modality-tagged events for one user. Appending
// beyond capacity evicts the oldest entries. Not safe for concurrent use;
// callers hold the per-user lock.
type Ring struct {
	capacity int
	events   []domain.BufferedEvent
}

// New creates a ring with the given capacity. Non-positive capacities fall
// back to the default buffer size.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = domain.DefaultBufferSize
	}
	return &Ring{
		capacity: capacity,
		events:   make([]domain.BufferedEvent, 0, capacity),
	}
}

// Append adds an event, evicting from the front when full.
func (r *Ring) Append(ev domain.BufferedEvent) {
	r.events = append(r.events, ev)
	if len(r.events) > r.capacity {
		r.events = append(r.events[:0], r.events[len(r.events)-r.capacity:]...)
	}
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	return len(r.events)
}

// Capacity returns the maximum number of buffered events.
func (r *Ring) Capacity() int {
	return r.capacity
}

// Snapshot returns a copy of the buffered events, oldest first.
func (r *Ring) Snapshot() []domain.BufferedEvent {
	out := make([]domain.BufferedEvent, len(r.events))
	copy(out, r.events)
	return out
}
