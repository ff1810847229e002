package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Export writes events to w in the given format.
func Export(w io.Writer, events []*Event, format ExportFormat) error {
	switch format {
	case ExportFormatNDJSON:
		return exportNDJSON(w, events)
	case ExportFormatCSV:
		return exportCSV(w, events)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// Export writes the events matching the filter to w, newest first.
func (l *MemoryLogger) Export(ctx context.Context, filter Filter, format ExportFormat, w io.Writer) error {
	return Export(w, l.Search(ctx, filter), format)
}

func exportNDJSON(w io.Writer, events []*Event) error {
	encoder := json.NewEncoder(w)
	for _, e := range events {
		if err := encoder.Encode(e); err != nil {
			return fmt.Errorf("failed to encode event %s: %w", e.ID, err)
		}
	}
	return nil
}

var csvHeader = []string{
	"id", "timestamp", "type", "provider", "protocol",
	"user_id", "session_id", "ip_address", "user_agent", "error_message",
}

func exportCSV(w io.Writer, events []*Event) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range events {
		record := []string{
			e.ID,
			e.Timestamp.Format(time.RFC3339Nano),
			string(e.Type),
			e.Provider,
			e.Protocol,
			e.UserID,
			e.SessionID,
			e.IPAddress,
			e.UserAgent,
			e.ErrorMessage,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record for event %s: %w", e.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
