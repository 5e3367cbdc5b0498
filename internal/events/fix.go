package events

import (
	"math"
	"time"
)

// Fix is one satellite position report.
type Fix struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	OnTrack   *bool     `json:"on_track,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Finite reports whether both coordinates are finite numbers.
func (f Fix) Finite() bool {
	return !math.IsNaN(f.Lat) && !math.IsInf(f.Lat, 0) &&
		!math.IsNaN(f.Lon) && !math.IsInf(f.Lon, 0)
}
