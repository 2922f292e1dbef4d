package trimmer

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"

	"imagetrimmer/internal/geometry"
	"imagetrimmer/internal/orient"
)

// SourceImage is the bitmap being trimmed. Pixels is the stored buffer, which
// Orientation says how to display; zero means orient.Up. Scale is the number
// of pixels per point; zero means 1.
type SourceImage struct {
	Pixels      image.Image
	Orientation orient.Orientation
	Scale       float64
}

func (s *SourceImage) orientation() orient.Orientation {
	if s.Orientation == 0 {
		return orient.Up
	}
	return s.Orientation
}

func (s *SourceImage) scale() float64 {
	if s.Scale > 0 {
		return s.Scale
	}
	return 1
}

// Size is the upright size of the image in points.
func (s *SourceImage) Size() geometry.Size {
	b := s.Pixels.Bounds()
	w, h := orient.DisplaySize(b.Dx(), b.Dy(), s.orientation())
	k := s.scale()
	return geometry.Size{Width: float64(w) / k, Height: float64(h) / k}
}

// Upright draws the stored buffer through its orientation.
func (s *SourceImage) Upright() image.Image {
	return orient.Apply(s.Pixels, s.orientation())
}

func (s *SourceImage) usable() bool {
	return s != nil && s.Pixels != nil && !s.Pixels.Bounds().Empty()
}

// DecodeSourceImage decodes an encoded image without applying its EXIF
// orientation, keeping the tag on the result instead.
func DecodeSourceImage(r io.Reader, scale float64) (*SourceImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &SourceImage{
		Pixels:      img,
		Orientation: orient.Read(bytes.NewReader(data)),
		Scale:       scale,
	}, nil
}

// OpenSourceImage is DecodeSourceImage for a file.
func OpenSourceImage(path string, scale float64) (*SourceImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer f.Close()
	return DecodeSourceImage(f, scale)
}
