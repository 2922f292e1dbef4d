package trimmer

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"

	"imagetrimmer/internal/frame"
)

// ErrInvalidOptions wraps every Options validation failure.
var ErrInvalidOptions = errors.New("invalid options")

// Options configures a trimming session. Colours are hex strings ("#fff" or
// "#ffffff"). An empty FrameDashPattern draws a solid frame.
type Options struct {
	// ZoomingMultiplier is the maximum zoom relative to the minimum one.
	ZoomingMultiplier float64 `json:"zooming_multiplier"`

	CancelButtonTitle       string `json:"cancel_button_title"`
	CancelButtonTitleColor  string `json:"cancel_button_title_color"`
	ConfirmButtonTitle      string `json:"confirm_button_title"`
	ConfirmButtonTitleColor string `json:"confirm_button_title_color"`

	FrameWidth       float64   `json:"frame_width"`
	FrameMargin      float64   `json:"frame_margin"`
	FrameColor       string    `json:"frame_color"`
	FrameDashPattern []float64 `json:"frame_dash_pattern"`
}

// DefaultOptions returns the options used when the caller sets nothing.
func DefaultOptions() Options {
	return Options{
		ZoomingMultiplier:       2.0,
		CancelButtonTitle:       "Cancel",
		CancelButtonTitleColor:  "#ffffff",
		ConfirmButtonTitle:      "OK",
		ConfirmButtonTitleColor: "#ffffff",
		FrameWidth:              1.0,
		FrameMargin:             2.0,
		FrameColor:              "#ffffff",
		FrameDashPattern:        []float64{4.0, 4.0},
	}
}

// LoadOptions reads a JSON file over the defaults. Fields missing from the
// file keep their default value.
func LoadOptions(filename string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(filename)
	if err != nil {
		return opts, fmt.Errorf("failed to read options file: %w", err)
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse options file: %w", err)
	}
	return opts, nil
}

// Validate checks every field and reports the first problem.
func (o Options) Validate() error {
	if math.IsNaN(o.ZoomingMultiplier) || math.IsInf(o.ZoomingMultiplier, 0) || o.ZoomingMultiplier < 1.0 {
		return fmt.Errorf("%w: zooming_multiplier must be a finite value >= 1.0, got %g", ErrInvalidOptions, o.ZoomingMultiplier)
	}
	if !(o.FrameWidth >= 0) || math.IsInf(o.FrameWidth, 0) {
		return fmt.Errorf("%w: frame_width must be >= 0, got %g", ErrInvalidOptions, o.FrameWidth)
	}
	if !(o.FrameMargin >= 0) || math.IsInf(o.FrameMargin, 0) {
		return fmt.Errorf("%w: frame_margin must be >= 0, got %g", ErrInvalidOptions, o.FrameMargin)
	}
	for i, d := range o.FrameDashPattern {
		if !(d >= 0) || math.IsInf(d, 0) {
			return fmt.Errorf("%w: frame_dash_pattern[%d] must be >= 0, got %g", ErrInvalidOptions, i, d)
		}
	}
	for name, value := range map[string]string{
		"cancel_button_title_color":  o.CancelButtonTitleColor,
		"confirm_button_title_color": o.ConfirmButtonTitleColor,
		"frame_color":                o.FrameColor,
	} {
		if _, err := parseColor(value); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidOptions, name, err)
		}
	}
	return nil
}

func (o Options) clone() Options {
	o.FrameDashPattern = append([]float64(nil), o.FrameDashPattern...)
	return o
}

func (o Options) frameStyle() frame.Style {
	c, err := parseColor(o.FrameColor)
	if err != nil {
		c = color.White
	}
	return frame.Style{
		Margin: o.FrameMargin,
		Width:  o.FrameWidth,
		Color:  c,
		Dash:   o.FrameDashPattern,
	}
}

// Button is the title and title colour of an action button.
type Button struct {
	Title string `json:"title"`
	Color string `json:"color"`
}

// Buttons returns the cancel and confirm buttons.
func (o Options) Buttons() (cancel, confirm Button) {
	return Button{o.CancelButtonTitle, o.CancelButtonTitleColor},
		Button{o.ConfirmButtonTitle, o.ConfirmButtonTitleColor}
}

func parseColor(s string) (color.Color, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse colour %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}
