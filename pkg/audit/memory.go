package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultMemoryCapacity bounds the in-memory buffer when no capacity is given.
const DefaultMemoryCapacity = 10000

// MemoryLogger keeps a bounded, queryable buffer of recent events. When the
// buffer is full the oldest events are evicted; eviction is not counted as a
// drop since the event was recorded.
type MemoryLogger struct {
	mu       sync.RWMutex
	events   []*Event
	capacity int
	dropped  uint64
	closed   bool
}

// NewMemoryLogger creates a memory logger. A non-positive capacity means
// DefaultMemoryCapacity.
func NewMemoryLogger(capacity int) *MemoryLogger {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryLogger{
		events:   make([]*Event, 0, capacity),
		capacity: capacity,
	}
}

// Log appends an event, evicting the oldest when at capacity.
func (l *MemoryLogger) Log(_ context.Context, event *Event) {
	if event == nil {
		return
	}
	stamp(event)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		atomic.AddUint64(&l.dropped, 1)
		return
	}
	if len(l.events) >= l.capacity {
		l.events = l.events[1:]
	}
	l.events = append(l.events, event)
}

// Dropped returns the number of events discarded after Close.
func (l *MemoryLogger) Dropped() uint64 {
	return atomic.LoadUint64(&l.dropped)
}

// Close stops accepting events; the buffer remains queryable.
func (l *MemoryLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Len returns the number of buffered events.
func (l *MemoryLogger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Search returns events matching the filter, newest first, honoring the
// filter's Offset and Limit.
func (l *MemoryLogger) Search(_ context.Context, filter Filter) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []*Event
	for i := len(l.events) - 1; i >= 0; i-- {
		if filter.matches(l.events[i]) {
			matched = append(matched, l.events[i])
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

// Stats aggregates login-funnel statistics over events matching the filter.
// Offset and Limit are ignored; statistics cover every match.
func (l *MemoryLogger) Stats(_ context.Context, filter Filter) *Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var matched []*Event
	for _, e := range l.events {
		if filter.matches(e) {
			matched = append(matched, e)
		}
	}
	return computeStats(matched)
}
