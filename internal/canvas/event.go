package canvas

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var ErrInvalidEvent = errors.New("invalid draw event")

// MaxSegmentLength bounds the distance between a segment's endpoints.
// Clients split longer strokes into consecutive pointer samples.
const MaxSegmentLength = 512

type Tool string

const (
	ToolBrush  Tool = "BRUSH"
	ToolEraser Tool = "ERASER"
)

// Shape of a dab. Square matches the browser client's fillRect ink.
type Shape string

const (
	ShapeSquare Shape = "square"
	ShapeCircle Shape = "circle"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DrawEvent is one ink instruction: a dab at (X, Y) or, when From and To
// are both set, a round-capped segment between them.
type DrawEvent struct {
	AuthorID string  `json:"authorId"`
	Color    string  `json:"color,omitempty"`
	Tool     Tool    `json:"tool,omitempty"`
	Size     float64 `json:"size"`

	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Shape Shape   `json:"shape,omitempty"`

	From *Point `json:"from,omitempty"`
	To   *Point `json:"to,omitempty"`
}

func (ev DrawEvent) IsSegment() bool {
	return ev.From != nil && ev.To != nil
}

// Normalized fills in the default tool and dab shape.
func (ev DrawEvent) Normalized() DrawEvent {
	if ev.Tool == "" {
		ev.Tool = ToolBrush
	}
	if !ev.IsSegment() && ev.Shape == "" {
		ev.Shape = ShapeSquare
	}
	return ev
}

// Validate checks ev against a canvas of the given bounds. Geometry may
// overhang the canvas by at most one brush size.
func (ev DrawEvent) Validate(bounds image.Rectangle, maxSize float64) error {
	switch ev.Tool {
	case "", ToolBrush, ToolEraser:
	default:
		return fmt.Errorf("%w: unknown tool %q", ErrInvalidEvent, ev.Tool)
	}

	if !finite(ev.Size) || ev.Size <= 0 || ev.Size > maxSize {
		return fmt.Errorf("%w: size %v not in (0, %v]", ErrInvalidEvent, ev.Size, maxSize)
	}

	if (ev.From == nil) != (ev.To == nil) {
		return fmt.Errorf("%w: segment needs both from and to", ErrInvalidEvent)
	}

	points := []Point{{ev.X, ev.Y}}
	if ev.IsSegment() {
		points = []Point{*ev.From, *ev.To}
	} else {
		switch ev.Shape {
		case "", ShapeSquare, ShapeCircle:
		default:
			return fmt.Errorf("%w: unknown shape %q", ErrInvalidEvent, ev.Shape)
		}
	}

	if ev.IsSegment() {
		if l := math.Hypot(ev.To.X-ev.From.X, ev.To.Y-ev.From.Y); l > MaxSegmentLength {
			return fmt.Errorf("%w: segment length %.0f exceeds %d", ErrInvalidEvent, l, MaxSegmentLength)
		}
	}

	minX, minY := float64(bounds.Min.X)-ev.Size, float64(bounds.Min.Y)-ev.Size
	maxX, maxY := float64(bounds.Max.X)+ev.Size, float64(bounds.Max.Y)+ev.Size
	for _, p := range points {
		if !finite(p.X) || !finite(p.Y) || p.X < minX || p.X > maxX || p.Y < minY || p.Y > maxY {
			return fmt.Errorf("%w: point (%v, %v) out of bounds", ErrInvalidEvent, p.X, p.Y)
		}
	}

	if ev.Tool != ToolEraser {
		if _, err := ParseColor(ev.Color); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
