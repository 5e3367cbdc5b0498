package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/pipeline"
	"github.com/roach88/railpos/internal/projection"
	"github.com/roach88/railpos/internal/replay"
	"github.com/roach88/railpos/internal/ribbon"
)

// Config is the complete railpos configuration.
// The pipeline keys (on_track_threshold_m, jump_guard, quality, direction...)
// sit at the top level of the file.
type Config struct {
	Rail       Rail       `yaml:"rail"`
	Projection Projection `yaml:"projection"`

	Pipeline pipeline.Config `yaml:",inline"`

	Replay replay.Config `yaml:"replay"`
	Log    Log           `yaml:"log"`
	Store  Store         `yaml:"store"`
}

// Rail locates the rail reference model.
type Rail struct {
	Path string `yaml:"path"`
}

// Projection tunes the projection engine.
type Projection struct {
	// CacheSize bounds the projection memo. Zero disables it.
	CacheSize int `yaml:"cache_size" validate:"gte=0"`
}

// Log configures diagnostics and the optional event log file.
type Log struct {
	Level  string              `yaml:"level" validate:"oneof=debug info warn error"`
	Events events.RotatingFile `yaml:"events"`
}

// Store locates the run database. An empty path disables persistence.
type Store struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Projection: Projection{CacheSize: 1024},
		Pipeline:   pipeline.DefaultConfig(),
		Replay:     replay.DefaultConfig(),
		Log: Log{
			Level: "info",
			Events: events.RotatingFile{
				MaxSizeMB:  100,
				MaxBackups: 5,
				MaxAgeDays: 30,
			},
		},
	}
}

// Load reads the file at path. An empty path returns the defaults.
// Relative rail, store and event log paths are resolved against the
// directory of the file.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	cfg.Rail.Path = resolve(dir, cfg.Rail.Path)
	cfg.Store.Path = resolve(dir, cfg.Store.Path)
	cfg.Log.Events.Path = resolve(dir, cfg.Log.Events.Path)
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// LogLevel returns the slog level named by Log.Level.
func (c Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// LoadRail loads the configured rail model. Without a rail path the
// projection engine has no model and every fix projects as invalid.
func (c Config) LoadRail() (*ribbon.Model, error) {
	if c.Rail.Path == "" {
		return nil, nil
	}
	return ribbon.Load(c.Rail.Path)
}

// ProjectionEngine builds a projection engine over model with the
// configured cache.
func (c Config) ProjectionEngine(model *ribbon.Model) *projection.Engine {
	return projection.New(model, projection.WithCache(c.Projection.CacheSize))
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) || dir == "" {
		return p
	}
	return filepath.Join(dir, p)
}
