package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const steadyScenario = `name: steady
description: two fixes on the track
rail: ../line.yaml
steps:
  - at_ms: 0
    fix: {s_km: 10.0}
  - at_ms: 1000
    fix: {s_km: 10.03}
assertions:
  - type: final_state
    state: trusted
    pk: 110.03
    tolerance_km: 0.01
`

const failingScenario = `name: failing
rail: ../line.yaml
steps:
  - at_ms: 0
    fix: {s_km: 10.0}
assertions:
  - type: final_state
    state: no_fix
`

// scenarioDir lays out dir/line.yaml and dir/scenarios/<name>.yaml.
func scenarioDir(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	writeRail(t, dir)
	for name, content := range scenarios {
		writeFile(t, dir, filepath.Join("scenarios", name+".yaml"), content)
	}
	return filepath.Join(dir, "scenarios")
}

func TestTestCommandPasses(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"steady": steadyScenario})

	out, _, err := executeRoot(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ steady")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandFails(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"steady":  steadyScenario,
		"failing": failingScenario,
	})

	out, _, err := executeRoot(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing")
	assert.Contains(t, out, "Assertion failed: final_state")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandFilter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"steady":  steadyScenario,
		"failing": failingScenario,
	})

	out, _, err := executeRoot(t, "test", dir, "--filter", "st*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "failing")
}

func TestTestCommandGolden(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"steady": steadyScenario})
	golden := filepath.Join(dir, "golden", "steady.golden")

	out, _, err := executeRoot(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ steady (golden updated)")

	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), "001 t=0 position_state trusted pk=110.000")

	// The golden directory is not scanned for scenarios.
	_, _, err = executeRoot(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("001 t=0 position_state no_fix\n"), 0o644))
	out, _, err = executeRoot(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandJSON(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"steady":  steadyScenario,
		"failing": failingScenario,
	})

	out, _, err := executeRoot(t, "test", dir, "--format", "json")
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)

	for _, s := range resp.Data.Scenarios {
		if s.Pass {
			assert.Len(t, s.Fingerprint, 64)
		} else {
			assert.NotEmpty(t, s.Errors)
		}
	}
}

func TestTestCommandErrors(t *testing.T) {
	_, _, err := executeRoot(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	dir := scenarioDir(t, map[string]string{"broken": "name: broken\nsteps: []\n"})
	out, _, err := executeRoot(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "load error")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, _, err := executeRoot(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}
