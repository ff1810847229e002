package audit

import "context"

// MultiLogger fans an event out to several sinks. Delivery is synchronous so
// every sink observes events for a session in the order they occurred.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that forwards to all given sinks. Nil
// entries are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log forwards the event to every sink. The event is stamped once so all
// sinks record the same ID and timestamp.
func (m *MultiLogger) Log(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	stamp(event)
	for _, l := range m.loggers {
		l.Log(ctx, event)
	}
}

// Dropped sums the drop counters of all sinks.
func (m *MultiLogger) Dropped() uint64 {
	var total uint64
	for _, l := range m.loggers {
		total += l.Dropped()
	}
	return total
}

// Close closes every sink, returning the first error encountered.
func (m *MultiLogger) Close() error {
	var firstErr error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
