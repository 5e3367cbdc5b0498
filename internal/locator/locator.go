// Package locator picks where on the ribbon a fix belongs when several
// places are plausible, and which PK reference it is read in.
//
// Project alone always takes the nearest vertex. Where two tracks run side
// by side, or a line doubles back, the nearest vertex can belong to a
// stretch kilometers away from where the train was a second ago. The
// locator keeps the last accepted vertex index and, among the nearby
// candidates, prefers the ones reachable from it.
//
// On lines with several PK references it also holds the active reference
// and only switches after a run of consecutive fixes in the new zone, each
// close to the ribbon, so a noisy fix near a zone boundary never flips the
// displayed marker system.
package locator

import (
	"math"

	"github.com/roach88/railpos/internal/projection"
)

// Config tunes candidate selection and reference switching.
type Config struct {
	// Candidates is how many nearest vertices are considered.
	Candidates int `yaml:"candidates" validate:"gte=1"`

	// MaxCandidateM drops candidates farther than this from the fix. When
	// none is left the plain nearest-vertex projection is used.
	MaxCandidateM float64 `yaml:"max_candidate_m" validate:"gt=0"`

	// MaxIndexJump bounds how far, in vertices, a candidate may be from the
	// last accepted one. MaxIndexJumpRelock applies instead while relocking.
	MaxIndexJump       int `yaml:"max_index_jump" validate:"gte=1"`
	MaxIndexJumpRelock int `yaml:"max_index_jump_relock" validate:"gtefield=MaxIndexJump"`

	// IndexPenaltyM is added to a candidate's distance per vertex of
	// separation from the last accepted one.
	IndexPenaltyM float64 `yaml:"index_penalty_m" validate:"gte=0"`

	// SwitchConfirmFixes consecutive fixes in a new reference zone, each
	// within SwitchMaxDistanceM of the ribbon, confirm a switch.
	SwitchConfirmFixes int     `yaml:"switch_confirm_fixes" validate:"gte=1"`
	SwitchMaxDistanceM float64 `yaml:"switch_max_distance_m" validate:"gt=0"`
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		Candidates:         10,
		MaxCandidateM:      120,
		MaxIndexJump:       120,
		MaxIndexJumpRelock: 600,
		IndexPenaltyM:      1.5,
		SwitchConfirmFixes: 3,
		SwitchMaxDistanceM: 80,
	}
}

// Location is a projection chosen by the locator.
type Location struct {
	projection.Projection

	// Reference is the index of the reference PK is expressed in.
	Reference int

	// Switched is true on the fix that confirmed a change of reference.
	Switched bool

	// Rerouted is true when continuity picked a vertex other than the
	// nearest one.
	Rerouted bool
}

// Locator is not safe for concurrent use; the pipeline owns it.
type Locator struct {
	cfg  Config
	proj *projection.Engine

	hasIdx  bool
	lastIdx int

	active       int
	pending      int
	pendingCount int
}

// New creates a locator over proj with no memory.
func New(cfg Config, proj *projection.Engine) *Locator {
	l := &Locator{cfg: cfg, proj: proj}
	l.Reset()
	return l
}

// Reset forgets the accepted vertex and the active reference.
func (l *Locator) Reset() {
	l.hasIdx = false
	l.lastIdx = 0
	l.active = -1
	l.pending = -1
	l.pendingCount = 0
}

// Accept records the vertex of a location the jump guard accepted.
func (l *Locator) Accept(loc Location) {
	if !loc.Valid {
		return
	}
	l.hasIdx = true
	l.lastIdx = loc.NearestIndex
}

// Active returns the active reference, or -1 before the first location.
func (l *Locator) Active() int { return l.active }

// Locate projects (lat, lon). relock widens the allowed vertex jump; the
// pipeline sets it while the jump guard is rejecting or after a long gap.
func (l *Locator) Locate(lat, lon float64, relock bool) Location {
	p := l.proj.Project(lat, lon)
	if !p.Valid {
		return Location{Projection: p, Reference: l.active}
	}

	loc := Location{Projection: l.choose(lat, lon, p, relock)}
	loc.Rerouted = loc.NearestIndex != p.NearestIndex

	m := l.proj.Model()
	loc.Switched = l.track(m.ReferenceAt(loc.SKm), loc.DistanceM)
	loc.Reference = l.active
	loc.PK = m.PKFromSRef(loc.SKm, l.active)
	return loc
}

// choose applies the distance and continuity filters to the nearby
// candidates and scores the rest by distance plus index penalty. Equal
// scores keep the closer, then lower-index, candidate.
func (l *Locator) choose(lat, lon float64, nearest projection.Projection, relock bool) projection.Projection {
	cands := l.proj.Candidates(lat, lon, l.cfg.Candidates, l.cfg.MaxCandidateM)
	if len(cands) == 0 || !l.hasIdx {
		return nearest
	}

	maxJump := l.cfg.MaxIndexJump
	if relock {
		maxJump = l.cfg.MaxIndexJumpRelock
	}
	reachable := cands[:0:0]
	for _, c := range cands {
		if abs(c.Index-l.lastIdx) <= maxJump {
			reachable = append(reachable, c)
		}
	}
	if len(reachable) == 0 {
		reachable = cands
	}

	best := reachable[0]
	bestScore := math.Inf(1)
	for _, c := range reachable {
		score := c.DistanceM + float64(abs(c.Index-l.lastIdx))*l.cfg.IndexPenaltyM
		if score < bestScore {
			best, bestScore = c, score
		}
	}
	if best.Index == nearest.NearestIndex {
		return nearest
	}
	return l.proj.ProjectAt(lat, lon, best.Index)
}

// track advances the reference switch confirmation and reports whether
// zone became the active reference on this fix.
func (l *Locator) track(zone int, distM float64) bool {
	switch {
	case l.active < 0:
		l.active = zone
		return false
	case zone == l.active:
		l.pending, l.pendingCount = -1, 0
		return false
	case distM > l.cfg.SwitchMaxDistanceM:
		l.pending, l.pendingCount = -1, 0
		return false
	}

	if zone == l.pending {
		l.pendingCount++
	} else {
		l.pending, l.pendingCount = zone, 1
	}
	if l.pendingCount < l.cfg.SwitchConfirmFixes {
		return false
	}
	l.active = zone
	l.pending, l.pendingCount = -1, 0
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
