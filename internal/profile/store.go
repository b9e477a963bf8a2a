// Package profile holds per-user behavioral baselines and their update rules.
package profile

import (
	"sync"

	"github.com/behaviorsec/kestrel/internal/buffer"
	"github.com/behaviorsec/kestrel/internal/domain"
)

// Entry is the complete in-memory state for one user: the baseline profile,
// the recent-behavior ring and a batch counter. Entry.mu serializes all
// access to the fields; lock granularity is the user key, so batches for
// different users never contend.
type Entry struct {
	mu sync.Mutex

	Profile *domain.BehaviorProfile
	Buffer  *buffer.Ring

	// Batches counts processed event batches, used for periodic retraining.
	Batches int
}

// Lock acquires the per-user lock.
func (e *Entry) Lock() { e.mu.Lock() }

// Unlock releases the per-user lock.
func (e *Entry) Unlock() { e.mu.Unlock() }

// Store is the in-memory registry of user entries.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	bufferSize int
	threshold  float64
}

// NewStore creates a store whose new entries get the given buffer capacity
// and anomaly threshold. Non-positive arguments fall back to defaults.
func NewStore(bufferSize int, anomalyThreshold float64) *Store {
	if bufferSize <= 0 {
		bufferSize = domain.DefaultBufferSize
	}
	if anomalyThreshold <= 0 {
		anomalyThreshold = domain.DefaultAnomalyThreshold
	}
	return &Store{
		entries:    make(map[string]*Entry),
		bufferSize: bufferSize,
		threshold:  anomalyThreshold,
	}
}

// Get returns the entry for a user, or nil when the user is unseen.
func (s *Store) Get(userID string) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[userID]
}

// GetOrCreate returns the entry for a user, creating an empty profile and
// buffer on first sight.
func (s *Store) GetOrCreate(userID string) *Entry {
	s.mu.RLock()
	e := s.entries[userID]
	s.mu.RUnlock()
	if e != nil {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.entries[userID]; e != nil {
		return e
	}
	p := domain.NewBehaviorProfile(userID)
	p.AnomalyThreshold = s.threshold
	e = &Entry{
		Profile: p,
		Buffer:  buffer.New(s.bufferSize),
	}
	s.entries[userID] = e
	return e
}

// Restore installs a persisted profile, replacing any existing entry.
// The recent-behavior buffer always starts empty; it is ephemeral state.
func (s *Store) Restore(p *domain.BehaviorProfile) {
	if p == nil || p.UserID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[p.UserID] = &Entry{
		Profile: p.Clone(),
		Buffer:  buffer.New(s.bufferSize),
	}
}

// Count returns the number of known users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot returns deep copies of every profile, taken under each entry's
// lock. Used by the persistence worker.
func (s *Store) Snapshot() []*domain.BehaviorProfile {
	s.mu.RLock()
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*domain.BehaviorProfile, 0, len(entries))
	for _, e := range entries {
		e.Lock()
		out = append(out, e.Profile.Clone())
		e.Unlock()
	}
	return out
}
