package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedRunIDs(t *testing.T) {
	g := NewFixedRunIDs("run-1")
	assert.Equal(t, "run-1", g.Generate())
	assert.Equal(t, "run-1", g.Generate())
}

func TestFixedRunIDs_Default(t *testing.T) {
	assert.Equal(t, "test-run-default", NewFixedRunIDs("").Generate())
}
