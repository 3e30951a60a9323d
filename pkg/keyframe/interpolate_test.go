package keyframe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/framegraph/framegraph/pkg/scene"
)

func kf(time float64, v any, e scene.Easing) scene.Keyframe {
	return scene.Keyframe{ID: "k", Time: time, Value: v, Easing: e}
}

func TestInterpolateBoundaries(t *testing.T) {
	kfs := []scene.Keyframe{kf(0, 0.0, scene.EasingLinear), kf(10, 100.0, scene.EasingLinear)}

	tests := []struct {
		time float64
		want float64
	}{
		{-1, 0},
		{0, 0},
		{5, 50},
		{7.5, 75},
		{10, 100},
		{20, 100},
	}

	for _, tt := range tests {
		got, ok := Interpolate(scene.KindNumber, kfs, tt.time)
		assert.True(t, ok)
		assert.InDelta(t, tt.want, got, 1e-9, "t=%v", tt.time)
	}
}

func TestInterpolateEmptyAndSingle(t *testing.T) {
	_, ok := Interpolate(scene.KindNumber, nil, 3)
	assert.False(t, ok)

	got, ok := Interpolate(scene.KindNumber, []scene.Keyframe{kf(4, 42.0, scene.EasingLinear)}, -100)
	assert.True(t, ok)
	assert.Equal(t, 42.0, got)
}

func TestInterpolateStep(t *testing.T) {
	kfs := []scene.Keyframe{
		kf(0, 1.0, scene.EasingStep),
		kf(1, 2.0, scene.EasingLinear),
		kf(2, 4.0, scene.EasingLinear),
	}

	got, _ := Interpolate(scene.KindNumber, kfs, 0.99)
	assert.Equal(t, 1.0, got)
	got, _ = Interpolate(scene.KindNumber, kfs, 1.5)
	assert.InDelta(t, 3.0, got, 1e-9)
}

func TestInterpolateUnsortedInput(t *testing.T) {
	kfs := []scene.Keyframe{kf(10, 100.0, scene.EasingLinear), kf(0, 0.0, scene.EasingLinear)}

	got, _ := Interpolate(scene.KindNumber, kfs, 2)
	assert.InDelta(t, 20.0, got, 1e-9)
	assert.Equal(t, 10.0, kfs[0].Time, "stored order must be left alone")
}

func TestInterpolateColor(t *testing.T) {
	kfs := []scene.Keyframe{kf(0, "#000", scene.EasingLinear), kf(1, "#ffffff", scene.EasingLinear)}

	got, _ := Interpolate(scene.KindColor, kfs, 0.5)
	assert.Equal(t, "#808080", got)

	bad := []scene.Keyframe{kf(0, "red", scene.EasingLinear), kf(1, "#ffffff", scene.EasingLinear)}
	got, _ = Interpolate(scene.KindColor, bad, 0.25)
	assert.Equal(t, "red", got)
}

func TestInterpolateSwitchesAtHalf(t *testing.T) {
	kfs := []scene.Keyframe{kf(0, "a", scene.EasingLinear), kf(2, "b", scene.EasingLinear)}

	got, _ := Interpolate(scene.KindString, kfs, 0.99)
	assert.Equal(t, "a", got)
	got, _ = Interpolate(scene.KindString, kfs, 1)
	assert.Equal(t, "b", got)
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
	}{
		{3.5, 3.5},
		{7, 7},
		{"12px", 12},
		{"  -0.5e1x", -5},
		{".25", 0.25},
		{"abc", 0},
		{math.NaN(), 0},
		{true, 1},
		{nil, 0},
		{[]any{1.0}, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ToNumber(tt.in), "%#v", tt.in)
	}
	assert.True(t, math.IsInf(ToNumber("Infinity"), 1))
}
