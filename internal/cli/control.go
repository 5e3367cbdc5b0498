package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/railpos/internal/replay"
)

// controlCommand is one parsed line of replay control input.
type controlCommand struct {
	verb   string
	offset time.Duration
	speed  float64
}

// parseControlCommand reads "pause", "resume", "seek <offset>" or
// "speed <multiplier>". Offsets are Go durations; a bare number is seconds.
func parseControlCommand(line string) (controlCommand, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return controlCommand{}, fmt.Errorf("empty command")
	}
	cmd := controlCommand{verb: fields[0]}
	switch cmd.verb {
	case "pause", "resume":
		if len(fields) != 1 {
			return controlCommand{}, fmt.Errorf("%s takes no argument", cmd.verb)
		}
	case "seek":
		if len(fields) != 2 {
			return controlCommand{}, fmt.Errorf("usage: seek <offset>")
		}
		d, err := parseOffset(fields[1])
		if err != nil {
			return controlCommand{}, err
		}
		cmd.offset = d
	case "speed":
		if len(fields) != 2 {
			return controlCommand{}, fmt.Errorf("usage: speed <multiplier>")
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return controlCommand{}, fmt.Errorf("invalid speed %q", fields[1])
		}
		cmd.speed = v
	default:
		return controlCommand{}, fmt.Errorf("unknown command %q", cmd.verb)
	}
	return cmd, nil
}

func parseOffset(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	return d, nil
}

// steerReplay applies control lines from in until ctx ends or in runs dry.
// Bad lines are logged and skipped.
func steerReplay(ctx context.Context, ctrl *replay.Control, in io.Reader) {
	for line := range readLines(ctx, in) {
		if line.err != nil {
			slog.Warn("replay control input failed", "error", line.err)
			return
		}
		text := strings.TrimSpace(string(line.data))
		if text == "" {
			continue
		}
		cmd, err := parseControlCommand(text)
		if err != nil {
			slog.Warn("replay control ignored", "line", text, "error", err)
			continue
		}
		if err := applyControl(ctrl, cmd); err != nil {
			slog.Warn("replay control rejected", "line", text, "error", err)
			if errors.Is(err, replay.ErrReplayOver) {
				return
			}
		}
	}
}

func applyControl(ctrl *replay.Control, cmd controlCommand) error {
	switch cmd.verb {
	case "pause":
		return ctrl.Pause()
	case "resume":
		return ctrl.Resume()
	case "seek":
		return ctrl.Seek(cmd.offset)
	default:
		return ctrl.SetSpeed(cmd.speed)
	}
}
