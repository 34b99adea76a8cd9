package identity

import "math"

// Color is an HSL triple; H in degrees, S and L in percent.
type Color struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
	L float64 `json:"l"`
}

func (c Color) clamped() Color {
	h := math.Mod(c.H, 360)
	if h < 0 {
		h += 360
	}
	if math.IsNaN(h) {
		h = 0
	}
	return Color{H: h, S: clampPercent(c.S), L: clampPercent(c.L)}
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// User is the canonical identity of a connected person.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Color    Color  `json:"color"`
}

// LoginRequest is the raw payload of a login attempt. Token selects the
// delegated provider; otherwise Username (and optionally ID) is used.
type LoginRequest struct {
	Username string `json:"username"`
	ID       string `json:"id,omitempty"`
	Color    *Color `json:"color,omitempty"`
	Token    string `json:"token,omitempty"`
}
