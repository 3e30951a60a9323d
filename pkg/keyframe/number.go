package keyframe

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var leadingFloat = regexp.MustCompile(`^[+-]?(?:Infinity|(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?)`)

// ToNumber coerces v the way a lenient float parse would: numbers pass through,
// booleans become 0/1, strings use their longest numeric prefix. Anything that
// does not parse, and NaN itself, becomes 0.
func ToNumber(v any) float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case int32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case bool:
		if val {
			f = 1
		}
	case string:
		f, _ = ParseFloat(val)
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	return f
}

// ParseFloat parses the longest numeric prefix of s after leading whitespace.
// ok is false when there is no such prefix.
func ParseFloat(s string) (float64, bool) {
	m := leadingFloat.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	switch m {
	case "Infinity", "+Infinity":
		return math.Inf(1), true
	case "-Infinity":
		return math.Inf(-1), true
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
