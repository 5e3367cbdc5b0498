package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/roach88/railpos/internal/events"
)

// PositionKind is the session-log kind carrying satellite fixes.
const PositionKind = "gps:position"

// Record is one recorded fix. Fields the replay does not use are kept in
// Extra and written back unchanged.
type Record struct {
	Timestamp time.Time
	Lat       float64
	Lon       float64
	Accuracy  *float64
	OnTrack   *bool
	Extra     map[string]json.RawMessage
}

// Fix converts the record into a pipeline fix at the given instant.
func (r Record) Fix(at time.Time) events.Fix {
	return events.Fix{
		Lat:       r.Lat,
		Lon:       r.Lon,
		Accuracy:  r.Accuracy,
		OnTrack:   r.OnTrack,
		Timestamp: at,
	}
}

// FromFix builds a record from a live fix.
func FromFix(f events.Fix) Record {
	return Record{
		Timestamp: f.Timestamp,
		Lat:       f.Lat,
		Lon:       f.Lon,
		Accuracy:  f.Accuracy,
		OnTrack:   f.OnTrack,
	}
}

var knownFlatKeys = map[string]bool{
	"timestamp": true,
	"lat":       true,
	"lon":       true,
	"accuracy":  true,
	"on_track":  true,
	"onLine":    true,
}

// onTrackKeys are the accepted spellings of the receiver's on-track flag,
// in order of preference.
var onTrackKeys = []string{"on_track", "onLine"}

// envelopeKeys are the session-log fields that do not belong in Extra.
var envelopeKeys = map[string]bool{"kind": true, "payload": true, "t": true}

// MarshalJSON writes the flat record form with extras merged in.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Extra)+5)
	for k, v := range r.Extra {
		if !knownFlatKeys[k] {
			m[k] = v
		}
	}
	m["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	m["lat"] = r.Lat
	m["lon"] = r.Lon
	if r.Accuracy != nil {
		m["accuracy"] = *r.Accuracy
	}
	if r.OnTrack != nil {
		m["on_track"] = *r.OnTrack
	}
	return json.Marshal(m)
}

// Stats describes one parse.
type Stats struct {
	Lines   int `json:"lines"`
	Records int `json:"records"`
	Dropped int `json:"dropped"`
	Skipped int `json:"skipped"`
}

// ParseRecords reads newline-delimited records.
//
// Two shapes are accepted: flat records
//
//	{"timestamp": "2025-06-01T10:00:00Z", "lat": 48.1, "lon": 2.3, "accuracy": 5}
//
// with the timestamp as RFC 3339 or epoch milliseconds, and session-log
// envelopes
//
//	{"t": "2025-06-01T10:00:00Z", "kind": "gps:position", "payload": {"lat": 48.1, "lon": 2.3}}
//
// Envelopes of any other kind are skipped. Blank lines and lines starting
// with '#' are ignored. A line that cannot be parsed is dropped and logged;
// it never fails the whole parse. The result is stably sorted by timestamp.
func ParseRecords(r io.Reader) ([]Record, Stats, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		out   []Record
		stats Stats
	)
	for sc.Scan() {
		stats.Lines++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		rec, ok, err := parseLine(line)
		switch {
		case err != nil:
			stats.Dropped++
			slog.Warn("replay record dropped", "line", stats.Lines, "error", err)
		case !ok:
			stats.Skipped++
		default:
			out = append(out, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("read records: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	stats.Records = len(out)
	return out, stats, nil
}

// ParseLine parses a single record line, as ParseRecords does for each
// line. ok is false for blank lines, comments and well-formed lines that
// are not fixes.
func ParseLine(line []byte) (rec Record, ok bool, err error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return Record{}, false, nil
	}
	return parseLine(line)
}

// parseLine returns ok=false for well-formed lines that are not fixes.
func parseLine(line []byte) (Record, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Record{}, false, err
	}

	if kind, ok := fields["kind"]; ok {
		var k string
		if err := json.Unmarshal(kind, &k); err != nil {
			return Record{}, false, fmt.Errorf("kind: %w", err)
		}
		if k != PositionKind {
			return Record{}, false, nil
		}
		return parseEnvelope(fields)
	}

	rec, err := parseFlat(fields)
	return rec, err == nil, err
}

func parseEnvelope(fields map[string]json.RawMessage) (Record, bool, error) {
	raw, ok := fields["payload"]
	if !ok {
		return Record{}, false, errors.New("envelope has no payload")
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Record{}, false, fmt.Errorf("payload: %w", err)
	}
	if _, ok := payload["timestamp"]; !ok {
		if t, ok := fields["t"]; ok {
			payload["timestamp"] = t
		}
	}
	rec, err := parseFlat(payload)
	if err != nil {
		return rec, false, err
	}
	for k, v := range fields {
		if envelopeKeys[k] || knownFlatKeys[k] {
			continue
		}
		if _, dup := rec.Extra[k]; dup {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]json.RawMessage)
		}
		rec.Extra[k] = v
	}
	return rec, true, nil
}

func parseFlat(fields map[string]json.RawMessage) (Record, error) {
	var rec Record

	ts, ok := fields["timestamp"]
	if !ok {
		return rec, errors.New("missing timestamp")
	}
	t, err := parseTimestamp(ts)
	if err != nil {
		return rec, err
	}
	rec.Timestamp = t

	if rec.Lat, err = requiredFloat(fields, "lat"); err != nil {
		return rec, err
	}
	if rec.Lon, err = requiredFloat(fields, "lon"); err != nil {
		return rec, err
	}
	if rec.Accuracy, err = optionalFloat(fields, "accuracy"); err != nil {
		return rec, err
	}
	for _, key := range onTrackKeys {
		v, ok := fields[key]
		if !ok || isNull(v) {
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return rec, fmt.Errorf("%s: %w", key, err)
		}
		rec.OnTrack = &b
		break
	}

	for k, v := range fields {
		if knownFlatKeys[k] {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]json.RawMessage)
		}
		rec.Extra[k] = v
	}
	return rec, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp: %w", err)
		}
		return t.UTC(), nil
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return time.Time{}, fmt.Errorf("timestamp: want RFC 3339 string or epoch ms, got %s", raw)
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, errors.New("timestamp: not finite")
	}
	return time.UnixMilli(0).UTC().Add(time.Duration(ms * float64(time.Millisecond))), nil
}

func requiredFloat(fields map[string]json.RawMessage, key string) (float64, error) {
	v, err := optionalFloat(fields, key)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("missing %s", key)
	}
	return *v, nil
}

func optionalFloat(fields map[string]json.RawMessage, key string) (*float64, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &f, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// WriteRecords writes records in the flat NDJSON form.
func WriteRecords(w io.Writer, recs []Record) error {
	enc := json.NewEncoder(w)
	for i, r := range recs {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	return nil
}
