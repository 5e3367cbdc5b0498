package direction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTrain(t *testing.T) {
	tests := []struct {
		train   string
		oddIsUp bool
		want    Direction
		ok      bool
	}{
		{"6201", true, Up, true},
		{"6202", true, Down, true},
		{"TGV 6201", true, Up, true},
		{"  9877 ", true, Up, true},
		{"6201", false, Down, true},
		{"6202", false, Up, true},
		{"EC-40", true, Down, true},
		{"SPECIAL", true, Unknown, false},
		{"", true, Unknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.train, func(t *testing.T) {
			got, ok := FromTrain(tt.train, tt.oddIsUp)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse(t *testing.T) {
	d, err := Parse("UP")
	require.NoError(t, err)
	assert.Equal(t, Up, d)

	d, err = Parse("-1")
	require.NoError(t, err)
	assert.Equal(t, Down, d)

	_, err = Parse("sideways")
	assert.Error(t, err)

	var td Direction
	require.NoError(t, td.UnmarshalText([]byte("down")))
	assert.Equal(t, Down, td)
	b, err := td.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "down", string(b))
}
