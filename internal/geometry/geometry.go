// Package geometry holds the pure coordinate math behind the trimmer: zoom
// bounds, scroll insets, centering, and the mapping from the crop frame in
// container space to the image's own point space.
//
// All values are logical points in a top-left origin, y-down space. Nothing in
// this package keeps state, so every function may be called again at any time.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// ErrDegenerate is returned when a size with a zero or negative dimension is
// passed where an area is required.
var ErrDegenerate = errors.New("degenerate geometry")

// MaxExtent bounds every laid-out coordinate and dimension, in points.
const MaxExtent = 1 << 15

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the size encloses no area.
func (s Size) Empty() bool {
	return !(s.Width > 0 && s.Height > 0)
}

// Bounded reports whether both dimensions are at most MaxExtent. NaN is not
// bounded.
func (s Size) Bounded() bool {
	return s.Width <= MaxExtent && s.Height <= MaxExtent
}

func (s Size) Scale(k float64) Size {
	return Size{s.Width * k, s.Height * k}
}

func (s Size) String() string {
	return fmt.Sprintf("%gx%g", s.Width, s.Height)
}

type Rect struct {
	Origin Point `json:"origin"`
	Size   Size  `json:"size"`
}

func R(x, y, w, h float64) Rect {
	return Rect{Origin: Point{x, y}, Size: Size{w, h}}
}

func (r Rect) MinX() float64 { return r.Origin.X }
func (r Rect) MinY() float64 { return r.Origin.Y }
func (r Rect) MaxX() float64 { return r.Origin.X + r.Size.Width }
func (r Rect) MaxY() float64 { return r.Origin.Y + r.Size.Height }

// Inset shrinks r by d on every side.
func (r Rect) Inset(d float64) Rect {
	return R(r.Origin.X+d, r.Origin.Y+d, r.Size.Width-2*d, r.Size.Height-2*d)
}

func (r Rect) Offset(dx, dy float64) Rect {
	return Rect{Origin: Point{r.Origin.X + dx, r.Origin.Y + dy}, Size: r.Size}
}

// CheckBounds returns ErrDegenerate unless r's origin lies within
// ±MaxExtent and its size is bounded.
func (r Rect) CheckBounds() error {
	inRange := func(v float64) bool { return v >= -MaxExtent && v <= MaxExtent }
	if !inRange(r.Origin.X) || !inRange(r.Origin.Y) || !r.Size.Bounded() {
		return fmt.Errorf("rect %s out of range: %w", r, ErrDegenerate)
	}
	return nil
}

func (r Rect) String() string {
	return fmt.Sprintf("(%g,%g %s)", r.Origin.X, r.Origin.Y, r.Size)
}

// Insets is a four-sided distance, positive values pointing inwards.
type Insets struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Bottom float64 `json:"bottom"`
	Right  float64 `json:"right"`
}

// MinimumZoomScale returns the smallest scale at which an image of size img
// covers frame in both axes.
func MinimumZoomScale(img, frame Size) (float64, error) {
	if img.Empty() {
		return 0, fmt.Errorf("image size %s: %w", img, ErrDegenerate)
	}
	if frame.Empty() {
		return 0, fmt.Errorf("frame size %s: %w", frame, ErrDegenerate)
	}
	xRatio := frame.Width / img.Width
	yRatio := frame.Height / img.Height
	return math.Max(xRatio, yRatio), nil
}

// MaximumZoomScale returns minScale * multiplier. A multiplier of 1 pins the
// zoom range to a single value.
func MaximumZoomScale(minScale, multiplier float64) float64 {
	return minScale * multiplier
}

// ContentInsets returns the insets from container to crop, both given in the
// same coordinate space. Applied to a scroll surface occupying container, they
// make the scrollable region line up with crop.
func ContentInsets(container, crop Rect) Insets {
	return Insets{
		Top:    crop.MinY() - container.MinY(),
		Left:   crop.MinX() - container.MinX(),
		Bottom: container.MaxY() - crop.MaxY(),
		Right:  container.MaxX() - crop.MaxX(),
	}
}

// CenteringOffset returns the scroll offset that centres content of the given
// size inside the inset region of a viewport. Slack on each axis is split
// evenly; when the content is smaller than the viewport the offset goes
// negative and the content stays anchored by the inset.
func CenteringOffset(content Size, inset Insets, viewport Size) Point {
	xScrollable := content.Width + inset.Left + inset.Right
	yScrollable := content.Height + inset.Top + inset.Bottom

	xHidden := xScrollable - viewport.Width
	yHidden := yScrollable - viewport.Height

	xOffset := inset.Left - xHidden*0.5
	yOffset := inset.Top - yHidden*0.5

	return Point{X: -xOffset, Y: -yOffset}
}

// ClampOffset limits a scroll offset to the range reachable with the given
// content size and insets.
func ClampOffset(offset Point, content Size, inset Insets, viewport Size) Point {
	clamp := func(v, lo, hi float64) float64 {
		if hi < lo {
			hi = lo
		}
		return math.Min(math.Max(v, lo), hi)
	}
	return Point{
		X: clamp(offset.X, -inset.Left, content.Width+inset.Right-viewport.Width),
		Y: clamp(offset.Y, -inset.Top, content.Height+inset.Bottom-viewport.Height),
	}
}

// DisplayedRect returns where the zoomed image sits in the parent space of a
// scroll surface placed at frame and scrolled to offset.
func DisplayedRect(frame Rect, offset Point, content Size) Rect {
	return Rect{Origin: frame.Origin.Sub(offset), Size: content}
}

// ImageRect maps crop, given in the same space as displayed, into the point
// space of the image itself. displayed is the zoomed image's rectangle and
// img its unzoomed size.
func ImageRect(crop, displayed Rect, img Size) (Rect, error) {
	if displayed.Size.Empty() {
		return Rect{}, fmt.Errorf("displayed size %s: %w", displayed.Size, ErrDegenerate)
	}
	if img.Empty() {
		return Rect{}, fmt.Errorf("image size %s: %w", img, ErrDegenerate)
	}
	sx := img.Width / displayed.Size.Width
	sy := img.Height / displayed.Size.Height
	return R(
		(crop.MinX()-displayed.MinX())*sx,
		(crop.MinY()-displayed.MinY())*sy,
		crop.Size.Width*sx,
		crop.Size.Height*sy,
	), nil
}

// PixelRect converts a point-space rectangle into pixels at the given
// density. Edges are rounded independently so adjacent rectangles tile
// without gaps.
func PixelRect(r Rect, scale float64) image.Rectangle {
	x0 := int(math.Round(r.MinX() * scale))
	y0 := int(math.Round(r.MinY() * scale))
	x1 := int(math.Round(r.MaxX() * scale))
	y1 := int(math.Round(r.MaxY() * scale))
	return image.Rect(x0, y0, x1, y1)
}
