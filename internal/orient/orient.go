// Package orient models the orientation tag carried by a stored pixel buffer
// and draws buffers through the transform that makes them display upright.
package orient

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Orientation uses EXIF numbering (1..8).
type Orientation int

const (
	Up            Orientation = 1
	UpMirrored    Orientation = 2
	Down          Orientation = 3
	DownMirrored  Orientation = 4
	LeftMirrored  Orientation = 5
	Right         Orientation = 6
	RightMirrored Orientation = 7
	Left          Orientation = 8
)

var names = map[Orientation]string{
	Up:            "up",
	UpMirrored:    "up-mirrored",
	Down:          "down",
	DownMirrored:  "down-mirrored",
	LeftMirrored:  "left-mirrored",
	Right:         "right",
	RightMirrored: "right-mirrored",
	Left:          "left",
}

func (o Orientation) String() string {
	if n, ok := names[o]; ok {
		return n
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

func (o Orientation) Valid() bool {
	return o >= Up && o <= Left
}

// Transposed reports whether displaying the buffer swaps its axes.
func (o Orientation) Transposed() bool {
	return o >= LeftMirrored && o <= Left
}

// DisplaySize returns the upright size of a w x h buffer.
func DisplaySize(w, h int, o Orientation) (int, int) {
	if o.Transposed() {
		return h, w
	}
	return w, h
}

// Apply draws img through the display transform for o. Unknown tags are
// treated as Up.
func Apply(img image.Image, o Orientation) image.Image {
	switch o {
	case UpMirrored:
		return imaging.FlipH(img)
	case Down:
		return imaging.Rotate180(img)
	case DownMirrored:
		return imaging.FlipV(img)
	case LeftMirrored:
		return imaging.Transpose(img)
	case Right:
		return imaging.Rotate270(img)
	case RightMirrored:
		return imaging.Transverse(img)
	case Left:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// Read returns the orientation tag of an encoded image. Streams without EXIF
// data, or with an unreadable tag, are reported as Up.
func Read(r io.Reader) Orientation {
	x, err := exif.Decode(r)
	if err != nil {
		return Up
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return Up
	}
	v, err := tag.Int(0)
	if err != nil {
		return Up
	}
	if o := Orientation(v); o.Valid() {
		return o
	}
	return Up
}
