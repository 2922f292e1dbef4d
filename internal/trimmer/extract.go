package trimmer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"imagetrimmer/internal/geometry"
)

// ErrTooLarge is returned when an extraction would allocate more pixels than
// the extractor allows.
var ErrTooLarge = errors.New("crop exceeds pixel limit")

// Extractor produces the cropped bitmap for a rectangle given in the
// source's upright point space.
type Extractor interface {
	Extract(ctx context.Context, src *SourceImage, rect geometry.Rect) (image.Image, error)
}

// ImagingExtractor draws the source through its orientation onto a canvas
// the size of rect at the source's own density, with the source shifted by
// rect's origin. Parts of rect outside the image stay transparent.
type ImagingExtractor struct {
	// MaxPixels caps the output area; zero means no cap.
	MaxPixels int
}

func NewImagingExtractor() *ImagingExtractor {
	return &ImagingExtractor{}
}

func (e *ImagingExtractor) Extract(ctx context.Context, src *SourceImage, rect geometry.Rect) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !src.usable() {
		return nil, ErrNoSourceImage
	}

	px := geometry.PixelRect(rect, src.scale())
	if px.Empty() {
		return nil, fmt.Errorf("invalid crop dimensions: width=%d, height=%d", px.Dx(), px.Dy())
	}
	if e.MaxPixels > 0 && px.Dx()*px.Dy() > e.MaxPixels {
		return nil, fmt.Errorf("%dx%d: %w", px.Dx(), px.Dy(), ErrTooLarge)
	}

	canvas := imaging.New(px.Dx(), px.Dy(), color.Transparent)
	return imaging.Paste(canvas, src.Upright(), image.Pt(-px.Min.X, -px.Min.Y)), nil
}
