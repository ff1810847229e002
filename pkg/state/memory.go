package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	window  time.Duration

	// now is swappable in tests.
	now func() time.Time
}

// NewMemoryStore creates a memory store. A zero window means DefaultWindow.
func NewMemoryStore(window time.Duration) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryStore{
		entries: make(map[string]Entry),
		window:  window,
		now:     time.Now,
	}
}

// Put stores an entry under its state value.
func (s *MemoryStore) Put(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.State] = entry
	return nil
}

// Consume removes and returns the entry for a state value. Expired entries
// are treated as absent.
func (s *MemoryStore) Consume(_ context.Context, state string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return Entry{}, false, nil
	}
	delete(s.entries, state)

	if entry.ExpiredAt(s.now(), s.window) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Sweep drops all expired entries.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for state, entry := range s.entries {
		if entry.ExpiredAt(now, s.window) {
			delete(s.entries, state)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of pending entries, expired ones included until the
// next sweep.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}
