// Package projection maps raw satellite fixes onto the rail reference model.
//
// Project is a pure function of (lat, lon) and the model: identical inputs
// always yield identical outputs. Replay determinism depends on it.
package projection

import (
	"log/slog"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/railpos/internal/ribbon"
)

// Projection is the result of projecting one fix.
// When Valid is false the other fields carry no meaning.
type Projection struct {
	Valid        bool
	PK           float64
	SKm          float64
	DistanceM    float64
	NearestIndex int
}

// Engine projects fixes onto a rail reference model.
// An Engine with a nil model is uninitialized and returns invalid projections.
type Engine struct {
	model *ribbon.Model
	cache *lru.Cache[cacheKey, Projection]
}

type cacheKey struct {
	lat, lon float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache memoizes up to size projections keyed by exact coordinates.
// Sizes <= 0 disable the cache.
func WithCache(size int) Option {
	return func(e *Engine) {
		if size <= 0 {
			return
		}
		c, err := lru.New[cacheKey, Projection](size)
		if err != nil {
			slog.Warn("projection cache disabled", "size", size, "error", err)
			return
		}
		e.cache = c
	}
}

// New creates an Engine over model.
func New(model *ribbon.Model, opts ...Option) *Engine {
	e := &Engine{model: model}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ready reports whether the engine has a model loaded.
func (e *Engine) Ready() bool {
	return e != nil && e.model != nil
}

// Model returns the underlying rail reference model.
func (e *Engine) Model() *ribbon.Model {
	return e.model
}

// Project maps (lat, lon) onto the ribbon.
//
// The nearest ribbon vertex is found by a linear scan (lowest index wins
// ties). The fix is then projected onto the segments adjacent to that
// vertex and s_km is interpolated at the closer foot point, so positions
// between sparse vertices still get a continuous abscissa. NearestIndex
// always reports the winning vertex.
func (e *Engine) Project(lat, lon float64) Projection {
	if !e.Ready() || !InDomain(lat, lon) {
		return Projection{}
	}
	if e.cache != nil {
		if p, ok := e.cache.Get(cacheKey{lat, lon}); ok {
			return p
		}
	}

	p := e.project(lat, lon)

	if e.cache != nil {
		e.cache.Add(cacheKey{lat, lon}, p)
	}
	return p
}

func (e *Engine) project(lat, lon float64) Projection {
	idx, d := e.model.NearestPoint(lat, lon)
	return e.refine(lat, lon, idx, d)
}

// ProjectAt is Project with the winning vertex imposed, for callers that
// choose among several nearby vertices. idx must be a valid ribbon index.
func (e *Engine) ProjectAt(lat, lon float64, idx int) Projection {
	if !e.Ready() || !InDomain(lat, lon) || idx < 0 || idx >= e.model.Len() {
		return Projection{}
	}
	p := e.model.Point(idx)
	return e.refine(lat, lon, idx, ribbon.DistanceMeters(lat, lon, p.Lat, p.Lon))
}

// Candidates returns up to k ribbon vertices within maxDistM of (lat, lon),
// closest first with ties to the lowest index.
func (e *Engine) Candidates(lat, lon float64, k int, maxDistM float64) []ribbon.Neighbor {
	if !e.Ready() || !InDomain(lat, lon) {
		return nil
	}
	near := e.model.NearestK(lat, lon, k)
	n := 0
	for n < len(near) && near[n].DistanceM <= maxDistM {
		n++
	}
	return near[:n]
}

func (e *Engine) refine(lat, lon float64, idx int, vertexDist float64) Projection {
	m := e.model
	sKm := m.Point(idx).SKm
	dist := vertexDist

	// Segments before and after the vertex; the earlier one wins ties.
	for _, seg := range [2][2]int{{idx - 1, idx}, {idx, idx + 1}} {
		if seg[0] < 0 || seg[1] >= m.Len() {
			continue
		}
		s, d := footOnSegment(lat, lon, m.Point(seg[0]), m.Point(seg[1]))
		if d < dist {
			sKm = s
			dist = d
		}
	}

	return Projection{
		Valid:        true,
		PK:           m.PKFromS(sKm),
		SKm:          sKm,
		DistanceM:    dist,
		NearestIndex: idx,
	}
}

// footOnSegment projects (lat, lon) onto segment a-b in a local
// equirectangular plane centred on the fix and returns the interpolated
// s_km and the haversine distance to the foot point.
func footOnSegment(lat, lon float64, a, b ribbon.Point) (float64, float64) {
	k := math.Cos(lat * math.Pi / 180)
	ax := (a.Lon - lon) * k
	ay := a.Lat - lat
	bx := (b.Lon - lon) * k
	by := b.Lat - lat

	dx := bx - ax
	dy := by - ay
	denom := dx*dx + dy*dy

	t := 0.0
	if denom > 0 {
		t = -(ax*dx + ay*dy) / denom
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}

	footLat := a.Lat + t*(b.Lat-a.Lat)
	footLon := a.Lon + t*(b.Lon-a.Lon)
	s := a.SKm + t*(b.SKm-a.SKm)
	return s, ribbon.DistanceMeters(lat, lon, footLat, footLon)
}

// InDomain reports whether (lat, lon) are finite and inside
// [-90,90]×[-180,180].
func InDomain(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// OnTrack is the caller-side threshold decision: a valid projection closer
// than thresholdM meters to the ribbon. The threshold itself is off track.
func OnTrack(p Projection, thresholdM float64) bool {
	return p.Valid && p.DistanceM < thresholdM
}
