package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/railpos/internal/replay"
)

// testRail is a straight line along the equator with PK = 100 + s_km.
const testRail = `name: test-line
ribbon:
  - {s_km: 0.000000, lat: 0, lon: 0.0}
  - {s_km: 55.659745, lat: 0, lon: 0.5}
  - {s_km: 111.319490, lat: 0, lon: 1.0}
anchors:
  - {pk: 100, s_km: 0, lat: 0, lon: 0, label: Origin}
  - {pk: 211.31949, s_km: 111.31949, lat: 0, lon: 1.0, label: End}
`

// kmPerDegree matches testRail: 0.5 degree of longitude is 55.659745 km.
const kmPerDegree = 111.31949

var sessionStart = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeRail(t *testing.T, dir string) string {
	t.Helper()
	return writeFile(t, dir, "line.yaml", testRail)
}

// sessionRecords returns n fixes one second apart, on the track, moving
// east at 30 m/s from s_km 10.
func sessionRecords(n int) []replay.Record {
	recs := make([]replay.Record, n)
	for i := range recs {
		sKm := 10 + 0.03*float64(i)
		recs[i] = replay.Record{
			Timestamp: sessionStart.Add(time.Duration(i) * time.Second),
			Lat:       0,
			Lon:       sKm / kmPerDegree,
		}
	}
	return recs
}

func writeSession(t *testing.T, dir string, n int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, replay.WriteRecords(&buf, sessionRecords(n)))
	return writeFile(t, dir, "session.ndjson", buf.String())
}

// executeRoot runs the full command tree with args.
func executeRoot(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

// bareCommand returns a command usable as the I/O carrier when a run
// function is called directly with hand-built options.
func bareCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetContext(context.Background())
	return cmd, &out, &errOut
}
