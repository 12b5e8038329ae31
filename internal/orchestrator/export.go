package orchestrator

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
	"github.com/tibame201020/opencv-custom-sub001/internal/instance"
)

// ExportFormat selects how ExportLogs renders events.
type ExportFormat string

const (
	// ExportText writes one human readable line per event.
	ExportText ExportFormat = "text"
	// ExportJSONLines writes one JSON object per line.
	ExportJSONLines ExportFormat = "jsonl"
)

// ParseExportFormat accepts "text", "jsonl" and "json".
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return ExportText, nil
	case "jsonl", "json":
		return ExportJSONLines, nil
	}
	return "", errors.NewValidationError("unknown export format").WithField("format").WithValue(s)
}

// exportedEvent is the JSON lines shape of a log event.
type exportedEvent struct {
	Seq        uint64          `json:"seq"`
	Kind       string          `json:"kind"`
	Message    string          `json:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// ExportLogs writes the instance's retained log to w.
func (o *Orchestrator) ExportLogs(id string, w io.Writer, format ExportFormat) error {
	rec, ok := o.reg.Get(id)
	if !ok {
		return errors.NewNotFoundError("instance", id).WithCause(errors.ErrInstanceNotFound)
	}
	return WriteEvents(w, rec.Logs, format)
}

// WriteEvents renders events in format.
func WriteEvents(w io.Writer, events []instance.LogEvent, format ExportFormat) error {
	bw := bufio.NewWriter(w)
	switch format {
	case ExportText:
		for _, ev := range events {
			if _, err := io.WriteString(bw, FormatLine(ev, true)+"\n"); err != nil {
				return err
			}
		}
	case ExportJSONLines:
		enc := json.NewEncoder(bw)
		for _, ev := range events {
			if err := enc.Encode(exportedEvent{
				Seq:        ev.Seq,
				Kind:       string(ev.Kind),
				Message:    ev.Message,
				Data:       ev.Data,
				ReceivedAt: ev.ReceivedAt,
			}); err != nil {
				return err
			}
		}
	default:
		return errors.NewValidationError("unknown export format").WithField("format").WithValue(format)
	}
	return bw.Flush()
}

// FormatLine renders one event as "[kind] message data", optionally
// prefixed with its receive time.
func FormatLine(ev instance.LogEvent, timestamp bool) string {
	var b strings.Builder
	if timestamp && !ev.ReceivedAt.IsZero() {
		b.WriteString(ev.ReceivedAt.Format("15:04:05.000"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "[%s]", ev.Kind)
	if ev.Message != "" {
		b.WriteByte(' ')
		b.WriteString(ev.Message)
	}
	if len(ev.Data) > 0 {
		b.WriteByte(' ')
		b.Write(ev.Data)
	}
	return b.String()
}
