package events

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Sink consumes published events. Publish is called from the pipeline
// goroutine only, in Seq order.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Func adapts a function to a Sink.
type Func func(ctx context.Context, ev Event) error

// Publish calls f.
func (f Func) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Discard drops every event.
var Discard Sink = Func(func(context.Context, Event) error { return nil })

type multi []Sink

// Multi fans an event out to every sink in order. All sinks see the event
// even if an earlier one fails; the errors are joined.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event in memory.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends ev.
func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of kind k.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

// Positions returns the payloads of the recorded position_state events.
func (r *Recorder) Positions() []PositionState {
	var out []PositionState
	for _, ev := range r.OfKind(KindPositionState) {
		out = append(out, *ev.Position)
	}
	return out
}

// Reset forgets everything.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// NDJSONSink writes one JSON object per line.
type NDJSONSink struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
}

// NewNDJSONSink writes events to w.
func NewNDJSONSink(w io.Writer) *NDJSONSink {
	return &NDJSONSink{enc: json.NewEncoder(w)}
}

// RotatingFile configures a size-rotated NDJSON event log.
type RotatingFile struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// NewRotatingNDJSONSink writes events to a file rotated by lumberjack.
// Close the sink to release the file.
func NewRotatingNDJSONSink(cfg RotatingFile) *NDJSONSink {
	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &NDJSONSink{enc: json.NewEncoder(w), closer: w}
}

// Publish writes ev as a single line.
func (s *NDJSONSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		return fmt.Errorf("write event %d: %w", ev.Seq, err)
	}
	return nil
}

// Close closes the underlying file, if the sink owns one.
func (s *NDJSONSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ReadNDJSON decodes an event log written by NDJSONSink. Blank lines are
// skipped; any other malformed line is an error.
func ReadNDJSON(r io.Reader) ([]Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []Event
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}
