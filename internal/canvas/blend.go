package canvas

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/vector"
)

// kappa places cubic Bézier control points for a quarter circle.
const kappa = 0.5522847498

// Blend applies ev to dst in place. BRUSH composites the event colour
// "over" the raster; ERASER removes alpha ("destination-out"). The result
// depends only on dst and ev, so replaying the same events in the same
// order reproduces the same pixels.
func Blend(dst *image.RGBA, ev DrawEvent) error {
	return new(raster).blend(dst, ev)
}

// raster is scratch space for coverage masks, reused across events.
type raster struct {
	z    vector.Rasterizer
	mask image.Alpha
}

func (rs *raster) blend(dst *image.RGBA, ev DrawEvent) error {
	ev = ev.Normalized()

	var ink color.NRGBA
	if ev.Tool == ToolEraser {
		ink = color.NRGBA{A: 0xff}
		if ev.Color != "" {
			if c, err := ParseColor(ev.Color); err == nil {
				ink.A = c.A
			}
		}
	} else {
		c, err := ParseColor(ev.Color)
		if err != nil {
			return err
		}
		ink = c
	}

	clip := extent(ev).Intersect(dst.Bounds())
	if clip.Empty() || ink.A == 0 {
		return nil
	}
	mask := rs.coverage(ev, clip)

	switch ev.Tool {
	case ToolEraser:
		destinationOut(dst, clip, mask, ink.A)
	default:
		draw.DrawMask(dst, clip, image.NewUniform(ink), image.Point{}, mask, image.Point{}, draw.Over)
	}
	return nil
}

// extent is the pixel bounding box of the event geometry.
func extent(ev DrawEvent) image.Rectangle {
	r := ev.Size / 2

	var minX, minY, maxX, maxY float64
	if ev.IsSegment() {
		minX, maxX = math.Min(ev.From.X, ev.To.X)-r, math.Max(ev.From.X, ev.To.X)+r
		minY, maxY = math.Min(ev.From.Y, ev.To.Y)-r, math.Max(ev.From.Y, ev.To.Y)+r
	} else {
		minX, maxX = ev.X-r, ev.X+r
		minY, maxY = ev.Y-r, ev.Y+r
	}

	b := image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
	if b.Dx() < 1 {
		b.Max.X = b.Min.X + 1
	}
	if b.Dy() < 1 {
		b.Max.Y = b.Min.Y + 1
	}
	return b
}

// coverage rasterizes the part of the event geometry inside clip into an
// anti-aliased mask whose (0, 0) sits at clip.Min in canvas space. The
// mask is only valid until the next call.
func (rs *raster) coverage(ev DrawEvent, clip image.Rectangle) *image.Alpha {
	w, h := clip.Dx(), clip.Dy()
	ox, oy := float64(clip.Min.X), float64(clip.Min.Y)
	r := ev.Size / 2

	z := &rs.z
	z.Reset(w, h)
	z.DrawOp = draw.Src

	switch {
	case ev.IsSegment():
		capsule(z, ev.From.X-ox, ev.From.Y-oy, ev.To.X-ox, ev.To.Y-oy, r)
	case ev.Shape == ShapeCircle:
		circle(z, ev.X-ox, ev.Y-oy, r)
	default:
		rect(z, ev.X-ox-r, ev.Y-oy-r, ev.X-ox+r, ev.Y-oy+r)
	}

	n := w * h
	if cap(rs.mask.Pix) < n {
		rs.mask.Pix = make([]uint8, n)
	}
	rs.mask.Pix = rs.mask.Pix[:n]
	rs.mask.Stride = w
	rs.mask.Rect = image.Rect(0, 0, w, h)

	z.Draw(&rs.mask, rs.mask.Rect, image.Opaque, image.Point{})
	return &rs.mask
}

// All sub-paths are wound the same way so overlapping pieces saturate
// the coverage instead of cancelling out.

func rect(z *vector.Rasterizer, x0, y0, x1, y1 float64) {
	z.MoveTo(float32(x0), float32(y0))
	z.LineTo(float32(x1), float32(y0))
	z.LineTo(float32(x1), float32(y1))
	z.LineTo(float32(x0), float32(y1))
	z.ClosePath()
}

func circle(z *vector.Rasterizer, cx, cy, r float64) {
	k := kappa * r
	f := func(v float64) float32 { return float32(v) }

	z.MoveTo(f(cx+r), f(cy))
	z.CubeTo(f(cx+r), f(cy+k), f(cx+k), f(cy+r), f(cx), f(cy+r))
	z.CubeTo(f(cx-k), f(cy+r), f(cx-r), f(cy+k), f(cx-r), f(cy))
	z.CubeTo(f(cx-r), f(cy-k), f(cx-k), f(cy-r), f(cx), f(cy-r))
	z.CubeTo(f(cx+k), f(cy-r), f(cx+r), f(cy-k), f(cx+r), f(cy))
	z.ClosePath()
}

// capsule is a segment of width 2r with round caps at both ends.
func capsule(z *vector.Rasterizer, x0, y0, x1, y1, r float64) {
	circle(z, x0, y0, r)

	dx, dy := x1-x0, y1-y0
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	circle(z, x1, y1, r)

	nx, ny := -dy/length*r, dx/length*r
	z.MoveTo(float32(x0+nx), float32(y0+ny))
	z.LineTo(float32(x0-nx), float32(y0-ny))
	z.LineTo(float32(x1-nx), float32(y1-ny))
	z.LineTo(float32(x1+nx), float32(y1+ny))
	z.ClosePath()
}

// destinationOut scales every premultiplied channel under the mask by
// (1 - coverage*alpha). The mask origin sits at clip.Min.
func destinationOut(dst *image.RGBA, clip image.Rectangle, mask *image.Alpha, alpha uint8) {
	a := uint32(alpha)
	for y := clip.Min.Y; y < clip.Max.Y; y++ {
		mi := mask.PixOffset(0, y-clip.Min.Y)
		di := dst.PixOffset(clip.Min.X, y)
		for x := clip.Min.X; x < clip.Max.X; x, mi, di = x+1, mi+1, di+4 {
			m := uint32(mask.Pix[mi]) * a / 0xff
			if m == 0 {
				continue
			}
			k := 0xff - m
			px := dst.Pix[di : di+4 : di+4]
			px[0] = uint8((uint32(px[0])*k + 0x7f) / 0xff)
			px[1] = uint8((uint32(px[1])*k + 0x7f) / 0xff)
			px[2] = uint8((uint32(px[2])*k + 0x7f) / 0xff)
			px[3] = uint8((uint32(px[3])*k + 0x7f) / 0xff)
		}
	}
}
