// Package trimmer runs one image trimming session: it loads the source image
// from its delegate, keeps the crop frame and the zoomable viewport in step
// through layout passes and gestures, and on confirm cuts out exactly the
// region visible inside the frame.
package trimmer

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"imagetrimmer/internal/frame"
	"imagetrimmer/internal/geometry"
	"imagetrimmer/internal/viewport"
)

var (
	ErrNoDelegate    = errors.New("session has no delegate")
	ErrNoSourceImage = errors.New("delegate supplied no source image")
	ErrInvalidState  = errors.New("invalid session state")
)

type State int

const (
	StateIdle State = iota
	StateLoaded
	StateConfirmed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoaded:
		return "loaded"
	case StateConfirmed:
		return "confirmed"
	case StateCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is what a session hands its delegate when it ends. A confirmed
// outcome with a nil Image means the extraction failed.
type Outcome struct {
	Cancelled bool
	Image     image.Image
	// Rect is the cropped region in the source's upright point space.
	Rect geometry.Rect
}

// Delegate supplies the source image and receives the outcome. The session
// never dismisses anything itself; that is left to the delegate.
type Delegate interface {
	ImageForTrimming() *SourceImage
	TrimmingFinished(s *Session, o Outcome)
}

// DelegateFuncs adapts plain functions to Delegate.
type DelegateFuncs struct {
	Image     func() *SourceImage
	OnCancel  func(s *Session)
	OnConfirm func(s *Session, img image.Image)
}

func (d DelegateFuncs) ImageForTrimming() *SourceImage {
	if d.Image == nil {
		return nil
	}
	return d.Image()
}

func (d DelegateFuncs) TrimmingFinished(s *Session, o Outcome) {
	if o.Cancelled {
		if d.OnCancel != nil {
			d.OnCancel(s)
		}
		return
	}
	if d.OnConfirm != nil {
		d.OnConfirm(s, o.Image)
	}
}

type SessionOption func(*Session)

// WithExtractor replaces the default ImagingExtractor.
func WithExtractor(e Extractor) SessionOption {
	return func(s *Session) { s.extractor = e }
}

// WithScreenScale sets the pixel density Preview renders at.
func WithScreenScale(scale float64) SessionOption {
	return func(s *Session) {
		if scale > 0 {
			s.screenScale = scale
		}
	}
}

// Session is a single trimming session. It is driven from one goroutine: the
// host calls Start, then Layout and the gesture methods as events arrive,
// and finally Confirm or Cancel.
type Session struct {
	opts        Options
	delegate    Delegate
	extractor   Extractor
	screenScale float64

	state    State
	source   *SourceImage
	upright  image.Image
	frame    *frame.Renderer
	viewport *viewport.Controller
}

// NewSession validates opts and freezes a copy of them for the session.
func NewSession(opts Options, d Delegate, sessOpts ...SessionOption) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNoDelegate
	}
	opts = opts.clone()
	s := &Session{
		opts:        opts,
		delegate:    d,
		extractor:   NewImagingExtractor(),
		screenScale: 1,
		frame:       frame.New(opts.frameStyle()),
		viewport:    viewport.New(),
	}
	for _, o := range sessOpts {
		o(s)
	}
	return s, nil
}

func (s *Session) State() State { return s.state }

// Options returns a copy of the frozen options.
func (s *Session) Options() Options { return s.opts.clone() }

// Buttons returns the titles and colours of the cancel and confirm actions.
func (s *Session) Buttons() (cancel, confirm Button) { return s.opts.Buttons() }

func (s *Session) Transform() viewport.Transform { return s.viewport.Transform() }

// Hidden reports whether the viewport is hidden for a transition.
func (s *Session) Hidden() bool { return s.viewport.Hidden() }

// Transitioning reports whether layout passes are deferred until
// DidTransition.
func (s *Session) Transitioning() bool { return s.viewport.Transitioning() }

// TrimArea is the crop region in the container's coordinates.
func (s *Session) TrimArea() geometry.Rect { return s.frame.TrimAreaFrame() }

// Start asks the delegate for the source image and moves to Loaded.
func (s *Session) Start(ctx context.Context) error {
	if s.state != StateIdle {
		return fmt.Errorf("start in state %s: %w", s.state, ErrInvalidState)
	}
	src := s.delegate.ImageForTrimming()
	if !src.usable() {
		log.Ctx(ctx).Error().Msg("delegate supplied no usable source image")
		return ErrNoSourceImage
	}
	if !src.orientation().Valid() {
		return fmt.Errorf("%w: orientation %d", ErrNoSourceImage, int(src.Orientation))
	}

	s.source = src
	s.viewport.SetImage(src.Size())
	s.state = StateLoaded

	log.Ctx(ctx).Debug().
		Stringer("size", src.Size()).
		Stringer("orientation", src.orientation()).
		Float64("scale", src.scale()).
		Msg("session loaded")
	return nil
}

// Layout is the host's layout pass. container is the viewport's frame and
// frameRect the crop frame overlay's frame, both in the same parent space.
// Between WillTransition and DidTransition the pass is deferred: nothing
// changes and Hidden stays true.
func (s *Session) Layout(ctx context.Context, container, frameRect geometry.Rect) error {
	if s.state != StateLoaded {
		return fmt.Errorf("layout in state %s: %w", s.state, ErrInvalidState)
	}
	if s.viewport.Transitioning() {
		log.Ctx(ctx).Debug().Stringer("container", container).Msg("layout deferred until transition ends")
		return nil
	}
	if err := checkBounds(container, frameRect); err != nil {
		return err
	}
	s.frame.Layout(frameRect)
	if err := s.viewport.Layout(container, s.frame.TrimAreaFrame(), s.opts.ZoomingMultiplier); err != nil {
		return fmt.Errorf("failed to lay out viewport: %w", err)
	}
	log.Ctx(ctx).Debug().
		Stringer("container", container).
		Stringer("trim_area", s.frame.TrimAreaFrame()).
		Float64("zoom", s.viewport.Transform().ZoomScale).
		Msg("layout")
	return nil
}

func checkBounds(container, frameRect geometry.Rect) error {
	if err := container.CheckBounds(); err != nil {
		return fmt.Errorf("container: %w", err)
	}
	if err := frameRect.CheckBounds(); err != nil {
		return fmt.Errorf("crop frame: %w", err)
	}
	return nil
}

// WillTransition hides the viewport ahead of a container resize.
func (s *Session) WillTransition() {
	s.viewport.BeginTransition()
}

// DidTransition is called once the resize has completed, with the final
// geometry.
func (s *Session) DidTransition(ctx context.Context, container, frameRect geometry.Rect) error {
	if s.state != StateLoaded {
		return fmt.Errorf("transition in state %s: %w", s.state, ErrInvalidState)
	}
	if err := checkBounds(container, frameRect); err != nil {
		return err
	}
	s.frame.Layout(frameRect)
	s.frame.Invalidate()
	if err := s.viewport.EndTransition(container, s.frame.TrimAreaFrame(), s.opts.ZoomingMultiplier); err != nil {
		return fmt.Errorf("failed to lay out viewport: %w", err)
	}
	log.Ctx(ctx).Debug().Stringer("container", container).Msg("transition finished")
	return nil
}

// Pinch zooms by factor around anchor, in container coordinates.
func (s *Session) Pinch(factor float64, anchor geometry.Point) {
	if s.state == StateLoaded {
		s.viewport.Pinch(factor, anchor)
	}
}

// Pan drags the image by delta.
func (s *Session) Pan(delta geometry.Point) {
	if s.state == StateLoaded {
		s.viewport.Pan(delta)
	}
}

// CropRect is the region of the source, in upright points, currently inside
// the crop frame.
func (s *Session) CropRect() (geometry.Rect, error) {
	if s.state != StateLoaded {
		return geometry.Rect{}, fmt.Errorf("crop rect in state %s: %w", s.state, ErrInvalidState)
	}
	return s.viewport.ConvertToImage(s.frame.TrimAreaFrame())
}

// Preview renders the viewport with the crop frame on top, at the screen
// scale. The viewport's frame is the preview's origin.
func (s *Session) Preview() (image.Image, error) {
	if s.state != StateLoaded {
		return nil, fmt.Errorf("preview in state %s: %w", s.state, ErrInvalidState)
	}
	if s.upright == nil {
		s.upright = s.source.Upright()
	}
	bg := s.viewport.Render(s.upright, s.screenScale)
	if s.viewport.Hidden() {
		return bg, nil
	}
	overlay := s.frame.Draw(s.screenScale)
	at := s.frame.Frame().Origin.Sub(s.viewport.Frame().Origin)
	pos := geometry.PixelRect(geometry.Rect{Origin: at}, s.screenScale).Min
	return imaging.Overlay(bg, overlay, pos, 1.0), nil
}

// Confirm crops the visible region and notifies the delegate. Extraction
// problems do not fail the call; they produce an Outcome with a nil Image.
func (s *Session) Confirm(ctx context.Context) (Outcome, error) {
	if s.state != StateLoaded {
		return Outcome{}, fmt.Errorf("confirm in state %s: %w", s.state, ErrInvalidState)
	}

	var out Outcome
	rect, err := s.CropRect()
	if err == nil {
		out.Rect = rect
		out.Image, err = s.extractor.Extract(ctx, s.source, rect)
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Stringer("rect", rect).Msg("failed to extract crop")
		out.Image = nil
	} else {
		b := out.Image.Bounds()
		log.Ctx(ctx).Info().
			Stringer("rect", rect).
			Int("width", b.Dx()).
			Int("height", b.Dy()).
			Msg("trimming confirmed")
	}

	s.finish(StateConfirmed, out)
	return out, nil
}

// Cancel ends the session without a result.
func (s *Session) Cancel(ctx context.Context) error {
	if s.state != StateLoaded {
		return fmt.Errorf("cancel in state %s: %w", s.state, ErrInvalidState)
	}
	log.Ctx(ctx).Info().Msg("trimming cancelled")
	s.finish(StateCancelled, Outcome{Cancelled: true})
	return nil
}

// finish moves to a terminal state, releases the source and hands the
// outcome to the delegate, whose reference is dropped afterwards.
func (s *Session) finish(state State, out Outcome) {
	d := s.delegate
	s.state = state
	s.delegate = nil
	s.source = nil
	s.upright = nil
	d.TrimmingFinished(s, out)
}
