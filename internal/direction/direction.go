// Package direction cross-checks the expected travel direction of a train
// against the trend of accepted kilometer markers.
package direction

import (
	"fmt"
	"strings"
	"unicode"
)

// Direction is the expected sense of travel along the PK scale.
type Direction int

const (
	// Unknown means no expectation has been set.
	Unknown Direction = 0
	// Up is travel with increasing PK.
	Up Direction = 1
	// Down is travel with decreasing PK.
	Down Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	dir, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = dir
	return nil
}

// Parse reads "up"/"down" (case-insensitive). "+1" and "-1" are accepted too.
func Parse(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "+1", "1":
		return Up, nil
	case "down", "-1":
		return Down, nil
	case "unknown", "":
		return Unknown, nil
	}
	return Unknown, fmt.Errorf("unknown direction %q", s)
}

// Source says where an expectation came from.
type Source string

const (
	SourceTrain  Source = "train_id"
	SourceManual Source = "manual"
	SourceReplay Source = "replay"
)

// FromTrain derives a direction from the parity of the trailing digits of
// trainID. Odd numbers map to Up when oddIsUp is set and to Down otherwise.
// It returns false when trainID has no trailing digits.
func FromTrain(trainID string, oddIsUp bool) (Direction, bool) {
	s := strings.TrimSpace(trainID)
	end := len(s)
	start := end
	for start > 0 && unicode.IsDigit(rune(s[start-1])) {
		start--
	}
	if start == end {
		return Unknown, false
	}

	odd := (s[end-1]-'0')%2 == 1
	if odd == oddIsUp {
		return Up, true
	}
	return Down, true
}
