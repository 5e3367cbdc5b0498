package direction

import (
	"math"
	"time"
)

// Config tunes the mismatch detector.
type Config struct {
	OddIsUp             bool    `yaml:"odd_is_up"`
	WindowSec           float64 `yaml:"window_sec" validate:"gt=0"`
	MinSamples          int     `yaml:"min_samples" validate:"gte=1"`
	MismatchRatio       float64 `yaml:"mismatch_ratio" validate:"gt=0,lte=1"`
	AdvisoryIntervalSec float64 `yaml:"advisory_interval_sec" validate:"gte=0"`
	EpsilonKm           float64 `yaml:"epsilon_km" validate:"gte=0"`
}

// DefaultConfig returns the standard detector settings.
func DefaultConfig() Config {
	return Config{
		OddIsUp:             true,
		WindowSec:           15,
		MinSamples:          6,
		MismatchRatio:       0.8,
		AdvisoryIntervalSec: 30,
		EpsilonKm:           0.001,
	}
}

// Mismatch is an advisory that recent PK movement disagrees with the
// expected direction.
type Mismatch struct {
	Ratio    float64
	WindowMS int64
	Samples  int
}

type sample struct {
	pk float64
	ts time.Time
}

// Tracker holds the expected direction for the current run and a sliding
// window of accepted PK values. Not safe for concurrent use.
type Tracker struct {
	cfg Config

	expected Direction
	source   Source
	train    string
	locked   bool

	window       []sample
	lastAdvisory time.Time
	advised      bool
}

// NewTracker creates an unlocked tracker with no expectation.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Expected returns the current expectation and where it came from.
func (t *Tracker) Expected() (Direction, Source) { return t.expected, t.source }

// Train returns the train identifier the expectation was derived from, if any.
func (t *Tracker) Train() string { return t.train }

// Locked reports whether the expectation is fixed until ClearRun.
func (t *Tracker) Locked() bool { return t.locked }

// SetFromTrain derives the expectation from trainID. It does nothing when
// the tracker is already locked or trainID has no trailing digits.
func (t *Tracker) SetFromTrain(trainID string) bool {
	dir, ok := FromTrain(trainID, t.cfg.OddIsUp)
	if !ok {
		return false
	}
	return t.Propose(dir, SourceTrain, trainID)
}

// Propose sets and locks the expectation unless it is already locked.
func (t *Tracker) Propose(dir Direction, source Source, trainID string) bool {
	if t.locked || dir == Unknown {
		return false
	}
	t.set(dir, source, trainID)
	return true
}

// Override sets the expectation regardless of any lock, and locks it.
func (t *Tracker) Override(dir Direction, source Source, trainID string) {
	if source == "" {
		source = SourceManual
	}
	t.set(dir, source, trainID)
}

func (t *Tracker) set(dir Direction, source Source, trainID string) {
	if dir != t.expected {
		t.window = t.window[:0]
	}
	t.expected = dir
	t.source = source
	t.train = trainID
	t.locked = true
}

// ClearRun drops the expectation, the lock and the window.
func (t *Tracker) ClearRun() {
	*t = Tracker{cfg: t.cfg, window: t.window[:0]}
}

// ResetWindow forgets accumulated samples but keeps the expectation.
func (t *Tracker) ResetWindow() {
	t.window = t.window[:0]
	t.advised = false
	t.lastAdvisory = time.Time{}
}

// Observe adds an accepted PK and reports a mismatch advisory when the
// window has enough movement and most of it goes the wrong way.
func (t *Tracker) Observe(pk float64, ts time.Time) (Mismatch, bool) {
	if n := len(t.window); n > 0 && ts.Before(t.window[n-1].ts) {
		ts = t.window[n-1].ts
	}
	t.window = append(t.window, sample{pk: pk, ts: ts})
	t.trim(ts)

	if t.expected == Unknown {
		return Mismatch{}, false
	}

	moves, wrong := 0, 0
	for i := 1; i < len(t.window); i++ {
		d := t.window[i].pk - t.window[i-1].pk
		if math.Abs(d) <= t.cfg.EpsilonKm {
			continue
		}
		moves++
		if (d > 0) != (t.expected == Up) {
			wrong++
		}
	}
	if moves < t.cfg.MinSamples {
		return Mismatch{}, false
	}

	ratio := float64(wrong) / float64(moves)
	if ratio <= t.cfg.MismatchRatio {
		return Mismatch{}, false
	}
	interval := time.Duration(t.cfg.AdvisoryIntervalSec * float64(time.Second))
	if t.advised && ts.Sub(t.lastAdvisory) < interval {
		return Mismatch{}, false
	}
	t.advised = true
	t.lastAdvisory = ts

	return Mismatch{
		Ratio:    ratio,
		WindowMS: ts.Sub(t.window[0].ts).Milliseconds(),
		Samples:  moves,
	}, true
}

func (t *Tracker) trim(now time.Time) {
	window := time.Duration(t.cfg.WindowSec * float64(time.Second))
	cut := 0
	for cut < len(t.window) && now.Sub(t.window[cut].ts) > window {
		cut++
	}
	if cut > 0 {
		t.window = append(t.window[:0], t.window[cut:]...)
	}
}
