// Package keyframe resolves keyframe curves to a value at a point in time.
package keyframe

import (
	"sort"

	"github.com/framegraph/framegraph/pkg/scene"
)

// Interpolate returns the value of the curve at time. ok is false when there are
// no keyframes and the caller should fall back to the literal.
//
// The stored list need not be sorted; a time-ordered copy is scanned and ties
// keep their stored order.
func Interpolate(kind scene.Kind, kfs []scene.Keyframe, time float64) (any, bool) {
	switch len(kfs) {
	case 0:
		return nil, false
	case 1:
		return kfs[0].Value, true
	}

	sorted := make([]scene.Keyframe, len(kfs))
	copy(sorted, kfs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	first, last := sorted[0], sorted[len(sorted)-1]
	if time <= first.Time {
		return first.Value, true
	}
	if time >= last.Time {
		return last.Value, true
	}

	for i := 0; i < len(sorted)-1; i++ {
		k1, k2 := sorted[i], sorted[i+1]
		if time < k1.Time || time >= k2.Time {
			continue
		}
		if k1.Easing == scene.EasingStep {
			return k1.Value, true
		}
		t := (time - k1.Time) / (k2.Time - k1.Time)
		return blend(kind, k1.Value, k2.Value, t), true
	}

	// Unreachable for finite times; NaN lands here.
	return last.Value, true
}

func blend(kind scene.Kind, a, b any, t float64) any {
	switch kind {
	case scene.KindNumber:
		va, vb := ToNumber(a), ToNumber(b)
		return va + (vb-va)*t
	case scene.KindColor:
		ca, okA := ParseHex(a)
		cb, okB := ParseHex(b)
		if okA && okB {
			return ca.Lerp(cb, t).Hex()
		}
	}
	if t < 0.5 {
		return a
	}
	return b
}
