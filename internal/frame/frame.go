// Package frame draws the fixed crop boundary overlay and reports where that
// boundary sits, both in the overlay's own space and in its parent's.
package frame

import (
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"

	"imagetrimmer/internal/geometry"
)

// Style configures the stroke. An empty Dash draws a solid line, and so does
// a pattern shorter than minDashPeriod once scaled to pixels.
type Style struct {
	Margin float64
	Width  float64
	Color  color.Color
	Dash   []float64
}

// DefaultStyle matches the trimmer's default Options.
func DefaultStyle() Style {
	return Style{
		Margin: 2.0,
		Width:  1.0,
		Color:  color.White,
		Dash:   []float64{4.0, 4.0},
	}
}

// minDashPeriod is the shortest dash pattern, in pixels, that is stroked as
// dashes. gg walks the pattern segment by segment along the path, so a zero
// period never advances and a tiny one emits millions of segments.
const minDashPeriod = 1.0

// Renderer is the crop frame overlay. It is laid out once by its host and
// only redraws after Layout changes its frame or Invalidate is called.
type Renderer struct {
	style Style
	frame geometry.Rect

	cached      image.Image
	cachedScale float64
}

func New(style Style) *Renderer {
	style.Dash = append([]float64(nil), style.Dash...)
	if style.Color == nil {
		style.Color = color.White
	}
	return &Renderer{style: style}
}

// Layout places the overlay at frame, given in its parent's coordinates.
func (r *Renderer) Layout(frame geometry.Rect) {
	if frame == r.frame {
		return
	}
	r.frame = frame
	r.Invalidate()
}

// Invalidate drops the cached drawing.
func (r *Renderer) Invalidate() {
	r.cached = nil
}

// Frame returns the overlay's rectangle in its parent's coordinates.
func (r *Renderer) Frame() geometry.Rect {
	return r.frame
}

// Bounds returns the overlay's rectangle in its own coordinates.
func (r *Renderer) Bounds() geometry.Rect {
	return geometry.Rect{Size: r.frame.Size}
}

func (r *Renderer) ignoreWidth() float64 {
	return r.style.Margin + r.style.Width
}

// TrimAreaBounds is the region inside the stroke, in the overlay's own
// coordinates.
func (r *Renderer) TrimAreaBounds() geometry.Rect {
	return r.Bounds().Inset(r.ignoreWidth())
}

// TrimAreaFrame is TrimAreaBounds moved into the parent's coordinates. The two
// always share a size.
func (r *Renderer) TrimAreaFrame() geometry.Rect {
	return r.TrimAreaBounds().Offset(r.frame.MinX(), r.frame.MinY())
}

// Draw renders the overlay at the given pixel density onto a transparent
// image sized to the overlay bounds.
func (r *Renderer) Draw(scale float64) image.Image {
	if scale <= 0 {
		scale = 1
	}
	if r.cached != nil && r.cachedScale == scale {
		return r.cached
	}

	w := int(math.Ceil(r.frame.Size.Width * scale))
	h := int(math.Ceil(r.frame.Size.Height * scale))
	if w <= 0 || h <= 0 {
		return image.NewNRGBA(image.Rect(0, 0, 0, 0))
	}

	// gg applies line width and dashes in device space, so everything is
	// scaled by hand instead of through the context matrix.
	dc := gg.NewContext(w, h)

	// The stroke is centred on its path, so the path sits half a width in.
	toCentre := (r.style.Margin + r.style.Width/2) * scale
	if r.style.Width > 0 {
		dash := make([]float64, len(r.style.Dash))
		period := 0.0
		for i, d := range r.style.Dash {
			dash[i] = d * scale
			period += dash[i]
		}
		if period < minDashPeriod {
			dash = nil
		}
		dc.DrawRectangle(toCentre, toCentre,
			r.frame.Size.Width*scale-toCentre*2, r.frame.Size.Height*scale-toCentre*2)
		dc.SetLineWidth(r.style.Width * scale)
		dc.SetDash(dash...)
		dc.SetColor(r.style.Color)
		dc.Stroke()
	}

	r.cached = dc.Image()
	r.cachedScale = scale
	return r.cached
}
