package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"imagetrimmer/internal/geometry"
	"imagetrimmer/internal/trimmer"
)

var ErrExtractionFailed = errors.New("extraction produced no image")

// Gestures replays what a user would do on screen: the crop frame is laid
// out over a container of Frame size, zoomed by Zoom relative to the
// minimum zoom around the trim area's centre, then dragged by Pan.
type Gestures struct {
	Frame geometry.Size  `json:"frame"`
	Zoom  float64        `json:"zoom,omitempty"`
	Pan   geometry.Point `json:"pan"`
}

func (g Gestures) String() string {
	return fmt.Sprintf("trim(frame=%s,zoom=%.3f,pan=%.1f,%.1f)", g.Frame, g.Zoom, g.Pan.X, g.Pan.Y)
}

// Cropper turns a source image and a gesture replay into the trimmed image.
type Cropper interface {
	Crop(ctx context.Context, src *trimmer.SourceImage, g Gestures) (trimmer.Outcome, error)
}

// SessionCropper runs a headless trimmer.Session per call.
type SessionCropper struct {
	Options   trimmer.Options
	Extractor trimmer.Extractor
}

// NewSessionCropper caps results at maxPixels; zero means no cap.
func NewSessionCropper(opts trimmer.Options, maxPixels int) *SessionCropper {
	return &SessionCropper{
		Options:   opts,
		Extractor: &trimmer.ImagingExtractor{MaxPixels: maxPixels},
	}
}

func (c *SessionCropper) Crop(ctx context.Context, src *trimmer.SourceImage, g Gestures) (trimmer.Outcome, error) {
	var outcome trimmer.Outcome
	delegate := trimmer.DelegateFuncs{
		Image: func() *trimmer.SourceImage { return src },
	}

	var sessOpts []trimmer.SessionOption
	if c.Extractor != nil {
		sessOpts = append(sessOpts, trimmer.WithExtractor(c.Extractor))
	}
	s, err := trimmer.NewSession(c.Options, delegate, sessOpts...)
	if err != nil {
		return outcome, err
	}
	if err := s.Start(ctx); err != nil {
		return outcome, err
	}

	container := geometry.Rect{Size: g.Frame}
	if err := s.Layout(ctx, container, container); err != nil {
		_ = s.Cancel(ctx)
		return outcome, err
	}
	if g.Zoom > 0 && g.Zoom != 1 {
		area := s.TrimArea()
		centre := geometry.Point{
			X: area.MinX() + area.Size.Width/2,
			Y: area.MinY() + area.Size.Height/2,
		}
		s.Pinch(g.Zoom, centre)
	}
	if g.Pan != (geometry.Point{}) {
		s.Pan(g.Pan)
	}

	log.Ctx(ctx).Debug().
		Stringer("gestures", g).
		Float64("zoom", s.Transform().ZoomScale).
		Msg("replayed gestures")

	if outcome, err = s.Confirm(ctx); err != nil {
		return outcome, err
	}
	if outcome.Image == nil {
		return outcome, ErrExtractionFailed
	}
	return outcome, nil
}

type Format string

const (
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("unknown format %q", s)
}

// Encode writes img in format. JPEG has no alpha, so transparent padding
// outside the source comes out black; use png or webp to keep it.
func Encode(w io.Writer, img image.Image, format Format, quality int) error {
	switch format {
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case FormatPNG:
		return imaging.Encode(w, img, imaging.PNG)
	default:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
}
