package ribbon

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"golang.org/x/text/unicode/norm"
)

// Point is one vertex of the ribbon.
type Point struct {
	SKm float64 `yaml:"s_km" json:"s_km"`
	Lat float64 `yaml:"lat" json:"lat" validate:"latitude"`
	Lon float64 `yaml:"lon" json:"lon" validate:"longitude"`
}

// Anchor ties a kilometer marker to a position on the ribbon.
type Anchor struct {
	PK    float64 `yaml:"pk" json:"pk"`
	SKm   float64 `yaml:"s_km" json:"s_km"`
	Lat   float64 `yaml:"lat" json:"lat" validate:"latitude"`
	Lon   float64 `yaml:"lon" json:"lon" validate:"longitude"`
	Label string  `yaml:"label" json:"label"`
}

// Reference is one named PK reference table. A line crossing several
// kilometer-marker systems carries one table per system. Each table
// applies from its FromSKm up to the next table's FromSKm; the first table
// also covers everything before it.
type Reference struct {
	Name    string   `yaml:"name" json:"name" validate:"required"`
	FromSKm *float64 `yaml:"from_s_km" json:"from_s_km,omitempty"`
	Anchors []Anchor `yaml:"anchors" json:"anchors" validate:"min=1,dive"`
}

type table struct {
	name    string
	from    float64
	anchors []Anchor
}

// Model is the immutable rail reference model.
type Model struct {
	name   string
	points []Point
	tables []table
}

// ErrEmptyRibbon is returned when a model has no ribbon points.
var ErrEmptyRibbon = errors.New("ribbon has no points")

// ErrNoAnchors is returned when a model or one of its references has no
// PK anchors.
var ErrNoAnchors = errors.New("ribbon has no PK anchors")

// New builds a Model with a single, unnamed PK reference.
//
// Points must be ordered with non-decreasing s_km. Anchors are copied and
// stably sorted by s_km; their labels are NFC-normalized.
func New(name string, points []Point, anchors []Anchor) (*Model, error) {
	if len(anchors) == 0 {
		if len(points) == 0 {
			return nil, ErrEmptyRibbon
		}
		return nil, ErrNoAnchors
	}
	return NewWithReferences(name, points, []Reference{{Anchors: anchors}})
}

// NewWithReferences builds a Model with one anchor table per reference.
// References are given in ribbon order: every reference after the first
// needs a FromSKm strictly greater than the previous one, and names must be
// unique. Anchors of different references are never mixed.
func NewWithReferences(name string, points []Point, refs []Reference) (*Model, error) {
	if len(points) == 0 {
		return nil, ErrEmptyRibbon
	}
	if len(refs) == 0 {
		return nil, ErrNoAnchors
	}

	pts := make([]Point, len(points))
	copy(pts, points)
	for i, p := range pts {
		if !finite(p.SKm) || !finite(p.Lat) || !finite(p.Lon) {
			return nil, fmt.Errorf("ribbon point %d: non-finite value", i)
		}
		if i > 0 && p.SKm < pts[i-1].SKm {
			return nil, fmt.Errorf("ribbon point %d: s_km %.6f decreases from %.6f", i, p.SKm, pts[i-1].SKm)
		}
	}

	tables := make([]table, len(refs))
	seen := make(map[string]bool, len(refs))
	for i, ref := range refs {
		refName := norm.NFC.String(ref.Name)
		if len(refs) > 1 && refName == "" {
			return nil, fmt.Errorf("reference %d: name is required when a line has several references", i)
		}
		if seen[refName] {
			return nil, fmt.Errorf("reference %q: duplicate name", refName)
		}
		seen[refName] = true

		from := math.Inf(-1)
		if i > 0 {
			if ref.FromSKm == nil || !finite(*ref.FromSKm) {
				return nil, fmt.Errorf("reference %q: from_s_km is required", refName)
			}
			from = *ref.FromSKm
			if from <= tables[i-1].from {
				return nil, fmt.Errorf("reference %q: from_s_km %.6f does not follow the previous reference", refName, from)
			}
		}

		if len(ref.Anchors) == 0 {
			return nil, fmt.Errorf("reference %q: %w", refName, ErrNoAnchors)
		}
		anc := make([]Anchor, len(ref.Anchors))
		copy(anc, ref.Anchors)
		for j := range anc {
			if !finite(anc[j].SKm) || !finite(anc[j].PK) {
				return nil, fmt.Errorf("reference %q: anchor %d: non-finite value", refName, j)
			}
			anc[j].Label = norm.NFC.String(anc[j].Label)
		}
		sort.SliceStable(anc, func(a, b int) bool { return anc[a].SKm < anc[b].SKm })

		tables[i] = table{name: refName, from: from, anchors: anc}
	}

	return &Model{name: name, points: pts, tables: tables}, nil
}

// Name returns the line name the model was loaded with.
func (m *Model) Name() string { return m.name }

// Len returns the number of ribbon points.
func (m *Model) Len() int { return len(m.points) }

// Point returns the ribbon point at index i.
func (m *Model) Point(i int) Point { return m.points[i] }

// Points returns a copy of the ribbon.
func (m *Model) Points() []Point {
	out := make([]Point, len(m.points))
	copy(out, m.points)
	return out
}

// Anchors returns a copy of every anchor, reference by reference, each
// table sorted by s_km.
func (m *Model) Anchors() []Anchor {
	var out []Anchor
	for _, t := range m.tables {
		out = append(out, t.anchors...)
	}
	return out
}

// References returns the reference names in ribbon order. A model built
// with New has a single reference named "".
func (m *Model) References() []string {
	out := make([]string, len(m.tables))
	for i, t := range m.tables {
		out[i] = t.name
	}
	return out
}

// ReferenceName returns the name of reference ref.
func (m *Model) ReferenceName(ref int) string { return m.tables[ref].name }

// ReferenceAt returns the index of the reference whose zone contains sKm.
func (m *Model) ReferenceAt(sKm float64) int {
	// First table starting strictly after sKm; the zone is the one before.
	j := sort.Search(len(m.tables), func(k int) bool { return m.tables[k].from > sKm })
	if j == 0 {
		return 0
	}
	return j - 1
}

// SRange returns the s_km covered by the anchors, from the first anchor of
// the first reference to the last anchor of the last one.
func (m *Model) SRange() (min, max float64) {
	first := m.tables[0].anchors
	last := m.tables[len(m.tables)-1].anchors
	return first[0].SKm, last[len(last)-1].SKm
}

// NearestPoint returns the index of the ribbon point closest to (lat, lon)
// and its distance in meters. Ties go to the lowest index.
func (m *Model) NearestPoint(lat, lon float64) (int, float64) {
	target := orb.Point{lon, lat}
	best := 0
	bestD := math.Inf(1)
	for i, p := range m.points {
		d := geo.DistanceHaversine(target, orb.Point{p.Lon, p.Lat})
		if d < bestD {
			best = i
			bestD = d
		}
	}
	return best, bestD
}

// PKFromS converts a ribbon abscissa to a kilometer marker in the
// reference whose zone contains sKm.
func (m *Model) PKFromS(sKm float64) float64 {
	return m.PKFromSRef(sKm, m.ReferenceAt(sKm))
}

// PKFromSRef converts a ribbon abscissa to a kilometer marker using only
// the anchors of reference ref, whatever zone sKm lies in.
//
// Between anchors the PK is linearly interpolated; segments whose two
// anchors share the same s_km are skipped. Outside the table's anchored
// range the result is clamped to its first or last anchor's PK.
func (m *Model) PKFromSRef(sKm float64, ref int) float64 {
	anchors := m.tables[ref].anchors
	first := anchors[0]
	last := anchors[len(anchors)-1]
	if sKm <= first.SKm {
		return first.PK
	}
	if sKm >= last.SKm {
		return last.PK
	}

	// j is the first anchor strictly beyond sKm, so anchors[j-1].SKm <= sKm
	// < anchors[j].SKm and the bracketing segment is never degenerate.
	j := sort.Search(len(anchors), func(k int) bool { return anchors[k].SKm > sKm })
	a := anchors[j-1]
	b := anchors[j]
	t := (sKm - a.SKm) / (b.SKm - a.SKm)
	return a.PK + t*(b.PK-a.PK)
}

// Neighbor is a ribbon vertex near a position.
type Neighbor struct {
	Index     int
	DistanceM float64
}

// NearestK returns up to k ribbon vertices closest to (lat, lon), closest
// first. Equal distances keep the lower index first, so NearestK(...)[0]
// agrees with NearestPoint.
func (m *Model) NearestK(lat, lon float64, k int) []Neighbor {
	if k <= 0 {
		return nil
	}
	target := orb.Point{lon, lat}
	best := make([]Neighbor, 0, k+1)
	for i, p := range m.points {
		d := geo.DistanceHaversine(target, orb.Point{p.Lon, p.Lat})
		if len(best) == k && d >= best[k-1].DistanceM {
			continue
		}
		pos := sort.Search(len(best), func(j int) bool { return best[j].DistanceM > d })
		best = append(best, Neighbor{})
		copy(best[pos+1:], best[pos:])
		best[pos] = Neighbor{Index: i, DistanceM: d}
		if len(best) > k {
			best = best[:k]
		}
	}
	return best
}

// PointAt returns the position on the ribbon at abscissa sKm, linearly
// interpolated between vertices and clamped to the ends.
func (m *Model) PointAt(sKm float64) (lat, lon float64) {
	first := m.points[0]
	last := m.points[len(m.points)-1]
	if sKm <= first.SKm {
		return first.Lat, first.Lon
	}
	if sKm >= last.SKm {
		return last.Lat, last.Lon
	}

	j := sort.Search(len(m.points), func(k int) bool { return m.points[k].SKm > sKm })
	a := m.points[j-1]
	b := m.points[j]
	t := (sKm - a.SKm) / (b.SKm - a.SKm)
	return a.Lat + t*(b.Lat-a.Lat), a.Lon + t*(b.Lon-a.Lon)
}

// DistanceMeters is the haversine distance between two lat/lon positions.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
