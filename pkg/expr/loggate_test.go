package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogGateSuppressesRepeats(t *testing.T) {
	g := NewLogGate()

	assert.True(t, g.Allow("box", "x", 1, "console.log(t)"))
	assert.False(t, g.Allow("box", "x", 1, "console.log(t)"), "same frame, same source")
	assert.True(t, g.Allow("box", "x", 2, "console.log(t)"), "time moved")
	assert.True(t, g.Allow("box", "x", 2, "console.log(t, 1)"), "source edited")
	assert.True(t, g.Allow("box", "y", 2, "console.log(t, 1)"), "different property")

	g.Forget("box", "x")
	assert.True(t, g.Allow("box", "x", 2, "console.log(t, 1)"))

	g.Reset()
	assert.True(t, g.Allow("box", "y", 2, "console.log(t, 1)"))
}

func TestLogGateFocus(t *testing.T) {
	g := NewLogGate()
	assert.False(t, g.Focused("box", "x"))

	g.Focus("box", "x")
	assert.True(t, g.Focused("box", "x"))
	assert.False(t, g.Focused("box", "y"))

	g.Blur()
	assert.False(t, g.Focused("box", "x"))
}
