package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in     string
		node   string
		key    string
		wantOK bool
	}{
		{"box:x", "box", "x", true},
		{"box:a:b", "box", "a:b", true},
		{":x", "", "", false},
		{"box:", "", "", false},
		{"box", "", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			node, key, ok := ParseRef(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.node, node)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestPatchApplyIsShallowMerge(t *testing.T) {
	base := Property{
		Type:      KindNumber,
		Value:     5.0,
		Keyframes: []Keyframe{{ID: "a", Time: 0, Value: 1.0}},
	}

	got := TypePatch(KindExpression).WithValue("t * 2").Apply(base)
	assert.Equal(t, KindExpression, got.Type)
	assert.Equal(t, "t * 2", got.Value)
	assert.Len(t, got.Keyframes, 1, "keyframes survive a type switch unless patched")

	cleared := KeyframesPatch(nil).Apply(base)
	assert.Nil(t, cleared.Keyframes)
	assert.Equal(t, 5.0, cleared.Value)

	assert.Len(t, base.Keyframes, 1, "base must not be mutated")
}

func TestPatchCaptureRestores(t *testing.T) {
	before := Property{Type: KindColor, Value: "#ff0000"}
	patch := ValuePatch("#00ff00").WithKeyframes([]Keyframe{{ID: "k", Time: 1, Value: "#000000"}})

	undo := patch.Capture(before)
	after := patch.Apply(before)
	assert.NotEqual(t, before, after)
	assert.Equal(t, before, undo.Apply(after))

	_, hasType := undo.Type()
	assert.False(t, hasType)
}

func TestFullPatch(t *testing.T) {
	p := Property{Type: KindString, Value: "hello"}
	got := FullPatch(p).Apply(Expression("1 + 1"))
	assert.Equal(t, p, got)
	assert.True(t, Patch{}.Empty())
	assert.Equal(t, "{type=ref value=a:b}", TypePatch(KindRef).WithValue("a:b").String())
}

func TestHasKeyframes(t *testing.T) {
	kfs := []Keyframe{{ID: "k", Time: 0, Value: 1.0}}
	assert.True(t, Property{Type: KindNumber, Keyframes: kfs}.HasKeyframes())
	assert.False(t, Property{Type: KindExpression, Value: "t", Keyframes: kfs}.HasKeyframes())
	assert.False(t, Property{Type: KindRef, Value: "a:b", Keyframes: kfs}.HasKeyframes())
	assert.False(t, Number(1).HasKeyframes())
}

func TestLiteralFor(t *testing.T) {
	assert.Equal(t, Number(3), LiteralFor(3))
	assert.Equal(t, Boolean(true), LiteralFor(true))
	assert.Equal(t, Color("#abc"), LiteralFor("#abc"))
	assert.Equal(t, String("abc"), LiteralFor("abc"))
	assert.Equal(t, KindArray, LiteralFor([]any{1.0}).Type)
	assert.Equal(t, Number(0), LiteralFor(nil))
}

func TestIsIdentifier(t *testing.T) {
	assert.True(t, IsIdentifier("speed"))
	assert.True(t, IsIdentifier("_x1"))
	assert.False(t, IsIdentifier("1x"))
	assert.False(t, IsIdentifier("my-var"))
	assert.False(t, IsIdentifier(""))
}
