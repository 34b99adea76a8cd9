package canvas

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// ParseColor understands the CSS forms the client emits: hsl()/hsla()
// in either the space or comma syntax with an optional alpha, and
// #rgb / #rrggbb hex.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	if strings.HasPrefix(s, "#") {
		c, err := colorful.Hex(s)
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("color %q: %w", s, err)
		}
		r, g, b := c.Clamped().RGB255()
		return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
	}

	var inner string
	switch {
	case strings.HasPrefix(s, "hsla(") && strings.HasSuffix(s, ")"):
		inner = s[len("hsla(") : len(s)-1]
	case strings.HasPrefix(s, "hsl(") && strings.HasSuffix(s, ")"):
		inner = s[len("hsl(") : len(s)-1]
	default:
		return color.NRGBA{}, fmt.Errorf("color %q: unsupported format", s)
	}

	fields := strings.Fields(strings.NewReplacer(",", " ", "/", " ").Replace(inner))
	if len(fields) != 3 && len(fields) != 4 {
		return color.NRGBA{}, fmt.Errorf("color %q: want 3 or 4 components", s)
	}

	h, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "deg"), 64)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("color %q: hue: %w", s, err)
	}
	sat, err := parsePercent(fields[1])
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("color %q: saturation: %w", s, err)
	}
	light, err := parsePercent(fields[2])
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("color %q: lightness: %w", s, err)
	}

	alpha := 1.0
	if len(fields) == 4 {
		if strings.HasSuffix(fields[3], "%") {
			alpha, err = parsePercent(fields[3])
		} else {
			alpha, err = strconv.ParseFloat(fields[3], 64)
		}
		if err != nil {
			return color.NRGBA{}, fmt.Errorf("color %q: alpha: %w", s, err)
		}
	}

	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	if !finite(h) || !finite(alpha) {
		return color.NRGBA{}, fmt.Errorf("color %q: not finite", s)
	}

	r, g, b := colorful.Hsl(h, clamp01(sat), clamp01(light)).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: uint8(math.Round(clamp01(alpha) * 255))}, nil
}

func parsePercent(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, err
	}
	return v / 100, nil
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
