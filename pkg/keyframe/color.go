package keyframe

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RGB is an 8-bit-per-channel color.
type RGB struct {
	R, G, B float64
}

// ParseHex decodes "#rgb" or "#rrggbb". Anything else reports false.
func ParseHex(v any) (RGB, bool) {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "#") {
		return RGB{}, false
	}
	s = s[1:]
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return RGB{}, false
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, false
	}
	return RGB{
		R: float64((n >> 16) & 0xff),
		G: float64((n >> 8) & 0xff),
		B: float64(n & 0xff),
	}, true
}

// Lerp blends each channel linearly.
func (c RGB) Lerp(o RGB, t float64) RGB {
	return RGB{
		R: c.R + (o.R-c.R)*t,
		G: c.G + (o.G-c.G)*t,
		B: c.B + (o.B-c.B)*t,
	}
}

// Hex renders the color as "#rrggbb", rounding and clamping each channel.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", channel(c.R), channel(c.G), channel(c.B))
}

func channel(v float64) int {
	n := int(math.Round(v))
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return n
}
