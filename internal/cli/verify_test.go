package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyDeterministic(t *testing.T) {
	dir := t.TempDir()
	rail := writeRail(t, dir)
	session := writeSession(t, dir, 20)

	out, _, err := executeRoot(t, "verify", "--rail", rail, "--train", "4321", session)
	require.NoError(t, err)
	assert.Contains(t, out, "Records: 20")
	assert.Contains(t, out, "✓ Replay verified deterministic")
}

func TestVerifyJSON(t *testing.T) {
	dir := t.TempDir()
	rail := writeRail(t, dir)
	session := writeSession(t, dir, 20)

	out, _, err := executeRoot(t, "verify", "--rail", rail, "--format", "json", session)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   VerifyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Deterministic)
	assert.Equal(t, -1, resp.Data.DivergeAt)
	assert.Equal(t, resp.Data.First, resp.Data.Second)
	assert.Positive(t, resp.Data.Events)
}

func TestVerifyMissingSource(t *testing.T) {
	rail := writeRail(t, t.TempDir())

	_, _, err := executeRoot(t, "verify", "--rail", rail, "/nonexistent/session.ndjson")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
