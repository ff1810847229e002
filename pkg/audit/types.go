package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	EventTypeLoginAttempt   EventType = "login_attempt"
	EventTypeLoginSuccess   EventType = "login_success"
	EventTypeLoginFailure   EventType = "login_failure"
	EventTypeLogout         EventType = "logout"
	EventTypeSessionExpired EventType = "session_expired"
	EventTypeTokenRefresh   EventType = "token_refresh"
)

// Event represents a single entry in the authentication audit trail.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Provider identity
	Provider string `json:"provider,omitempty"`
	Protocol string `json:"protocol,omitempty"`

	// Subject identity; empty on failed attempts where none was established
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// Filter narrows a search over the audit trail. Zero-value fields match
// everything.
type Filter struct {
	// Time range
	StartTime *time.Time
	EndTime   *time.Time

	// Event filters
	Types    []EventType
	Provider string
	Protocol string

	// Subject filters
	UserID    string
	SessionID string
	IPAddress string

	// Pagination
	Limit  int
	Offset int
}

// matches reports whether an event passes every set filter field.
func (f *Filter) matches(e *Event) bool {
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.Protocol != "" && e.Protocol != f.Protocol {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.IPAddress != "" && e.IPAddress != f.IPAddress {
		return false
	}
	return true
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

// Stats summarizes the login funnel over a set of events.
type Stats struct {
	TotalEvents int64               `json:"total_events"`
	Attempts    int64               `json:"attempts"`
	Successes   int64               `json:"successes"`
	Failures    int64               `json:"failures"`
	Logouts     int64               `json:"logouts"`
	Refreshes   int64               `json:"refreshes"`
	SuccessRate float64             `json:"success_rate"`
	ByType      map[EventType]int64 `json:"by_type"`
	ByProvider  map[string]int64    `json:"by_provider"`
	UniqueUsers int64               `json:"unique_users"`
	UniqueIPs   int64               `json:"unique_ips"`
	TimeRange   *TimeRange          `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// computeStats aggregates events into Stats. Events are assumed to already
// match the caller's filter.
func computeStats(events []*Event) *Stats {
	stats := &Stats{
		ByType:     make(map[EventType]int64),
		ByProvider: make(map[string]int64),
	}

	users := make(map[string]struct{})
	ips := make(map[string]struct{})

	for _, e := range events {
		stats.TotalEvents++
		stats.ByType[e.Type]++
		if e.Provider != "" {
			stats.ByProvider[e.Provider]++
		}
		if e.UserID != "" {
			users[e.UserID] = struct{}{}
		}
		if e.IPAddress != "" {
			ips[e.IPAddress] = struct{}{}
		}

		switch e.Type {
		case EventTypeLoginAttempt:
			stats.Attempts++
		case EventTypeLoginSuccess:
			stats.Successes++
		case EventTypeLoginFailure:
			stats.Failures++
		case EventTypeLogout:
			stats.Logouts++
		case EventTypeTokenRefresh:
			stats.Refreshes++
		}

		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{Start: e.Timestamp, End: e.Timestamp}
		} else {
			if e.Timestamp.Before(stats.TimeRange.Start) {
				stats.TimeRange.Start = e.Timestamp
			}
			if e.Timestamp.After(stats.TimeRange.End) {
				stats.TimeRange.End = e.Timestamp
			}
		}
	}

	stats.UniqueUsers = int64(len(users))
	stats.UniqueIPs = int64(len(ips))
	if completed := stats.Successes + stats.Failures; completed > 0 {
		stats.SuccessRate = float64(stats.Successes) / float64(completed)
	}
	return stats
}
