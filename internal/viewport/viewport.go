// Package viewport keeps the zoom and scroll state of the surface that shows
// the source image behind the crop frame.
package viewport

import (
	"errors"
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"

	"imagetrimmer/internal/geometry"
)

// ErrNoImage is returned by Layout before SetImage has been called.
var ErrNoImage = errors.New("viewport has no image")

// Transform is the current zoom and scroll state.
type Transform struct {
	ZoomScale     float64         `json:"zoom_scale"`
	MinZoomScale  float64         `json:"min_zoom_scale"`
	MaxZoomScale  float64         `json:"max_zoom_scale"`
	ContentOffset geometry.Point  `json:"content_offset"`
	ContentInset  geometry.Insets `json:"content_inset"`
}

// Controller is a zoomable, pannable surface. It occupies frame in its
// parent's coordinates and displays an image of imageSize points scaled by
// the zoom. All methods are meant to be called from one goroutine.
type Controller struct {
	frame     geometry.Rect
	imageSize geometry.Size

	zoom, minZoom, maxZoom float64
	offset                 geometry.Point
	inset                  geometry.Insets

	laidOut       bool
	hidden        bool
	transitioning bool
}

func New() *Controller {
	return &Controller{}
}

// SetImage replaces the displayed image. The surface must be laid out again
// before it is used.
func (c *Controller) SetImage(size geometry.Size) {
	c.imageSize = size
	c.laidOut = false
}

// Layout recomputes the zoom bounds and scroll position for a surface at frame
// whose crop region is trimArea, both in the parent's coordinates. The zoom is
// reset to its minimum and the content centred on trimArea.
//
// While a transition is running Layout does nothing; EndTransition lays out
// again once the container bounds are final.
func (c *Controller) Layout(frame, trimArea geometry.Rect, multiplier float64) error {
	if c.transitioning {
		return nil
	}
	if c.imageSize.Empty() {
		if c.imageSize == (geometry.Size{}) {
			return ErrNoImage
		}
		return fmt.Errorf("image size %s: %w", c.imageSize, geometry.ErrDegenerate)
	}
	if frame.Size.Empty() {
		return fmt.Errorf("viewport size %s: %w", frame.Size, geometry.ErrDegenerate)
	}
	if err := frame.CheckBounds(); err != nil {
		return err
	}
	if err := trimArea.CheckBounds(); err != nil {
		return err
	}

	minZoom, err := geometry.MinimumZoomScale(c.imageSize, trimArea.Size)
	if err != nil {
		return err
	}

	c.frame = frame
	c.inset = geometry.ContentInsets(frame, trimArea)
	c.minZoom = minZoom
	c.maxZoom = geometry.MaximumZoomScale(minZoom, multiplier)
	c.zoom = minZoom
	c.offset = geometry.CenteringOffset(c.ContentSize(), c.inset, frame.Size)
	c.laidOut = true
	return nil
}

// BeginTransition hides the surface ahead of a container resize such as a
// device rotation.
func (c *Controller) BeginTransition() {
	c.hidden = true
	c.transitioning = true
}

// EndTransition lays the surface out for its final geometry and reveals it.
func (c *Controller) EndTransition(frame, trimArea geometry.Rect, multiplier float64) error {
	c.transitioning = false
	if err := c.Layout(frame, trimArea, multiplier); err != nil {
		return err
	}
	c.hidden = false
	return nil
}

func (c *Controller) Hidden() bool { return c.hidden }

// Transitioning reports whether Layout calls are being held back until
// EndTransition.
func (c *Controller) Transitioning() bool { return c.transitioning }

func (c *Controller) LaidOut() bool { return c.laidOut }

func (c *Controller) Frame() geometry.Rect { return c.frame }

// ContentSize is the image size at the current zoom.
func (c *Controller) ContentSize() geometry.Size {
	return c.imageSize.Scale(c.zoom)
}

func (c *Controller) Transform() Transform {
	return Transform{
		ZoomScale:     c.zoom,
		MinZoomScale:  c.minZoom,
		MaxZoomScale:  c.maxZoom,
		ContentOffset: c.offset,
		ContentInset:  c.inset,
	}
}

// Pinch multiplies the zoom by factor, keeping the content under anchor (in
// the parent's coordinates) in place. The result is clamped to the zoom
// bounds and the reachable scroll range.
func (c *Controller) Pinch(factor float64, anchor geometry.Point) {
	if !c.laidOut || c.hidden || !(factor > 0) {
		return
	}
	zoom := math.Min(math.Max(c.zoom*factor, c.minZoom), c.maxZoom)

	local := anchor.Sub(c.frame.Origin)
	content := geometry.Point{
		X: (local.X + c.offset.X) / c.zoom,
		Y: (local.Y + c.offset.Y) / c.zoom,
	}
	c.zoom = zoom
	c.offset = c.clamp(geometry.Point{
		X: content.X*zoom - local.X,
		Y: content.Y*zoom - local.Y,
	})
}

// Pan drags the content by delta.
func (c *Controller) Pan(delta geometry.Point) {
	if !c.laidOut || c.hidden {
		return
	}
	c.offset = c.clamp(c.offset.Sub(delta))
}

func (c *Controller) clamp(offset geometry.Point) geometry.Point {
	return geometry.ClampOffset(offset, c.ContentSize(), c.inset, c.frame.Size)
}

// DisplayedRect is where the zoomed image sits in the parent's coordinates.
func (c *Controller) DisplayedRect() geometry.Rect {
	return geometry.DisplayedRect(c.frame, c.offset, c.ContentSize())
}

// ConvertToImage maps r from the parent's coordinates into the image's own
// point space.
func (c *Controller) ConvertToImage(r geometry.Rect) (geometry.Rect, error) {
	if !c.laidOut {
		return geometry.Rect{}, ErrNoImage
	}
	return geometry.ImageRect(r, c.DisplayedRect(), c.imageSize)
}

// Render draws what the surface currently shows of img, an upright image whose
// point size is the one given to SetImage, at the given pixel density. A
// hidden surface renders transparent.
func (c *Controller) Render(img image.Image, scale float64) *image.NRGBA {
	w := int(math.Ceil(c.frame.Size.Width * scale))
	h := int(math.Ceil(c.frame.Size.Height * scale))
	dst := image.NewNRGBA(image.Rect(0, 0, max(w, 0), max(h, 0)))
	if c.hidden || !c.laidOut || img == nil {
		return dst
	}

	shown := c.DisplayedRect().Offset(-c.frame.MinX(), -c.frame.MinY())
	dr := geometry.PixelRect(shown, scale)
	xdraw.ApproxBiLinear.Scale(dst, dr, img, img.Bounds(), xdraw.Over, nil)
	return dst
}
