package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/railpos/internal/events"
)

// timeLayout stores times as sortable UTC text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

// marshalEvent encodes the whole event as JSON TEXT with HTML escaping
// disabled, so payloads read the same as the NDJSON event log.
func marshalEvent(ev events.Event) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	// json.Encoder adds trailing newline, remove it
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func unmarshalEvent(payload string) (events.Event, error) {
	var ev events.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return events.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return events.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return ev, nil
}
