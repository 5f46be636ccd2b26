// Package store holds the latest decoded reading per register key together
// with the connection state. It is the only surface collaborators read.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/martinkalmus/ha-timnet/internal/domain"
)

// Store is the value store. Writes happen once per poll cycle from the
// coordinator; reads happen at arbitrary times from the API and MQTT
// layers. A whole cycle is published atomically under the lock so readers
// always observe either the previous or the new snapshot, never a mix.
type Store struct {
	mu          sync.RWMutex
	readings    map[string]domain.Reading
	connection  domain.ConnectionState
	lastSuccess time.Time
}

// New creates an empty store. The connection starts out disconnected until
// the first successful poll.
func New() *Store {
	return &Store{
		readings:   make(map[string]domain.Reading),
		connection: domain.ConnectionDisconnected,
	}
}

// Publish replaces the stored reading for every key in the batch, marks the
// connection connected and stamps the last successful poll time.
func (s *Store) Publish(readings []domain.Reading, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range readings {
		s.readings[r.Key] = r
	}
	s.connection = domain.ConnectionConnected
	s.lastSuccess = at
}

// MarkStale flags every stored reading as stale without touching its value;
// last-known values survive failed polls. When disconnected is true the
// connection state flips as well.
func (s *Store) MarkStale(disconnected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, r := range s.readings {
		r.Stale = true
		s.readings[key] = r
	}
	if disconnected {
		s.connection = domain.ConnectionDisconnected
	}
}

// Get returns the current reading for a key.
func (s *Store) Get(key string) (domain.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.readings[key]
	return r, ok
}

// Snapshot returns all readings sorted by key.
func (s *Store) Snapshot() []domain.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Reading, 0, len(s.readings))
	for _, r := range s.readings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Connection returns the liveness signal and the last successful poll time.
func (s *Store) Connection() (domain.ConnectionState, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection, s.lastSuccess
}
