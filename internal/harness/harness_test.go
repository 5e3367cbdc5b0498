package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/railpos/internal/events"
	"github.com/roach88/railpos/internal/pipeline"
	"github.com/roach88/railpos/internal/quality"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	names := []string{
		"projection",
		"jump-suppressed",
		"on-off-toggle",
		"silence-escalates",
		"direction-mismatch",
	}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			s := loadTestScenario(t, name)
			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures:\n%v", result.Errors)
			assert.NotEmpty(t, result.Trace)
			assert.Len(t, result.Fingerprint, 64)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "jump-suppressed")

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Lines(), second.Lines())
}

func TestRun_SeqStartsAtOne(t *testing.T) {
	result, err := Run(context.Background(), loadTestScenario(t, "projection"))
	require.NoError(t, err)
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestRun_FailingAssertion(t *testing.T) {
	s := loadTestScenario(t, "projection")
	count := 3
	s.Assertions = []Assertion{
		{Type: "event_count", Kind: string(events.KindReferenceSource), Count: &count},
		{Type: "final_state", State: "no_fix"},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Assertion failed: event_count")
	assert.Contains(t, result.Errors[0], "Expected: 3 reference_source_changed events")
	assert.Contains(t, result.Errors[0], "Actual: 1 reference_source_changed events")
	assert.Contains(t, result.Errors[1], "Expected: state no_fix final")
	assert.Contains(t, result.Errors[1], "Full trace:")
}

func TestRun_ManualDirection(t *testing.T) {
	s := loadTestScenario(t, "direction-mismatch")
	s.Train = ""
	s.Direction = "down"

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass, "decreasing PK matches a down expectation")
}

func TestRun_TrainWithoutDigits(t *testing.T) {
	s := loadTestScenario(t, "projection")
	s.Train = "TGV"

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_DIRECTION")
}

func TestRun_InvalidFix(t *testing.T) {
	s := loadTestScenario(t, "projection")
	lat, lon := 95.0, 0.0
	s.Steps = append(s.Steps, Step{AtMS: 9000, Fix: &FixStep{Lat: &lat, Lon: &lon}})

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.True(t, pipeline.IsInvalidFixError(err))
}

func TestRun_NoModel(t *testing.T) {
	s := &Scenario{Name: "bare", Rail: "x.yaml", Steps: []Step{{Tick: true}}}
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rail model loaded")
}

func TestRun_WithConfig(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.Quality.FreshSec = 2

	s := loadTestScenario(t, "silence-escalates")
	s.Assertions = []Assertion{{Type: "state_at", AtMS: 3000, State: "degraded", Reasons: []string{"stale"}}}

	result, err := Run(context.Background(), s, WithConfig(cfg))
	require.NoError(t, err)
	assert.True(t, result.Pass, "%v", result.Errors)
}

func TestRun_TicksOnly(t *testing.T) {
	s := loadTestScenario(t, "projection")
	s.Steps = []Step{{AtMS: 0, Ticks: &TicksStep{UntilMS: 2000, EveryMS: 500}}}
	s.Assertions = []Assertion{{Type: "final_state", State: "no_fix", Reasons: []string{"no_fix"}}}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "%v", result.Errors)

	positions := 0
	for _, ev := range result.Trace {
		if ev.Position != nil {
			positions++
			assert.Equal(t, quality.NoFix, ev.Position.State)
		}
	}
	assert.GreaterOrEqual(t, positions, 1)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}
