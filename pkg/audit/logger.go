package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logger is the interface for audit logging. Log never returns an error and
// never blocks the caller's authentication flow: a sink that cannot accept
// an event drops it and increments its drop counter instead.
type Logger interface {
	// Log records an audit event. The event's ID and Timestamp are
	// populated when empty.
	Log(ctx context.Context, event *Event)

	// Dropped returns the number of events discarded because the sink
	// could not accept them.
	Dropped() uint64

	// Close flushes any buffered events and releases the sink.
	Close() error
}

// contextKey is the type for context keys
type contextKey string

// loggerKey is the context key for the audit logger
const loggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from context, falling back to a
// no-op logger when none is set.
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return NopLogger{}
}

// NopLogger discards every event.
type NopLogger struct{}

func (NopLogger) Log(context.Context, *Event) {}
func (NopLogger) Dropped() uint64             { return 0 }
func (NopLogger) Close() error                { return nil }

// stamp fills in the generated fields of an event before it reaches a sink.
func stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}
