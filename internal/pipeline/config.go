package pipeline

import (
	"time"

	"github.com/roach88/railpos/internal/direction"
	"github.com/roach88/railpos/internal/jumpguard"
	"github.com/roach88/railpos/internal/locator"
	"github.com/roach88/railpos/internal/quality"
)

// Config groups the tunables of every stage.
type Config struct {
	// OnTrackThresholdM is the farthest a fix may be from the ribbon and
	// still count as on track.
	OnTrackThresholdM float64 `yaml:"on_track_threshold_m" validate:"gt=0"`

	// Watchdog is the period of the wall-clock re-evaluation tick.
	Watchdog time.Duration `yaml:"watchdog" validate:"gt=0"`

	// QueueSize bounds the inbound channel.
	QueueSize int `yaml:"queue_size" validate:"gte=1"`

	Locator   locator.Config   `yaml:"locator"`
	JumpGuard jumpguard.Config `yaml:"jump_guard"`
	Quality   quality.Config   `yaml:"quality"`
	Direction direction.Config `yaml:"direction"`
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		OnTrackThresholdM: 200,
		Watchdog:          time.Second,
		QueueSize:         256,
		Locator:           locator.DefaultConfig(),
		JumpGuard:         jumpguard.DefaultConfig(),
		Quality:           quality.DefaultConfig(),
		Direction:         direction.DefaultConfig(),
	}
}
