package viewport

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"imagetrimmer/internal/geometry"
)

const eps = 1e-9

var (
	testFrame    = geometry.R(0, 0, 320, 320)
	testTrimArea = geometry.R(10, 10, 300, 300)
)

func newLaidOut(t *testing.T) *Controller {
	t.Helper()
	c := New()
	c.SetImage(geometry.Size{Width: 1000, Height: 2000})
	require.NoError(t, c.Layout(testFrame, testTrimArea, 2.0))
	return c
}

func requireRectInDelta(t *testing.T, want, got geometry.Rect) {
	t.Helper()
	require.InDelta(t, want.MinX(), got.MinX(), 1e-6, "x of %s", got)
	require.InDelta(t, want.MinY(), got.MinY(), 1e-6, "y of %s", got)
	require.InDelta(t, want.Size.Width, got.Size.Width, 1e-6, "width of %s", got)
	require.InDelta(t, want.Size.Height, got.Size.Height, 1e-6, "height of %s", got)
}

func TestLayout(t *testing.T) {
	c := newLaidOut(t)
	tr := c.Transform()
	require.InDelta(t, 0.3, tr.ZoomScale, eps)
	require.InDelta(t, 0.3, tr.MinZoomScale, eps)
	require.InDelta(t, 0.6, tr.MaxZoomScale, eps)
	require.Equal(t, geometry.Insets{Top: 10, Left: 10, Bottom: 10, Right: 10}, tr.ContentInset)
	require.InDelta(t, -10, tr.ContentOffset.X, 1e-6)
	require.InDelta(t, 140, tr.ContentOffset.Y, 1e-6)

	got, err := c.ConvertToImage(testTrimArea)
	require.NoError(t, err)
	requireRectInDelta(t, geometry.R(0, 500, 1000, 1000), got)
}

func TestLayoutCoversTrimArea(t *testing.T) {
	c := newLaidOut(t)
	shown := c.DisplayedRect()
	require.LessOrEqual(t, shown.MinX(), testTrimArea.MinX()+eps)
	require.LessOrEqual(t, shown.MinY(), testTrimArea.MinY()+eps)
	require.GreaterOrEqual(t, shown.MaxX(), testTrimArea.MaxX()-eps)
	require.GreaterOrEqual(t, shown.MaxY(), testTrimArea.MaxY()-eps)
}

func TestLayoutErrors(t *testing.T) {
	c := New()
	require.ErrorIs(t, c.Layout(testFrame, testTrimArea, 2), ErrNoImage)

	c.SetImage(geometry.Size{Width: 0, Height: 10})
	require.ErrorIs(t, c.Layout(testFrame, testTrimArea, 2), geometry.ErrDegenerate)

	c.SetImage(geometry.Size{Width: 10, Height: 10})
	require.ErrorIs(t, c.Layout(testFrame, geometry.R(0, 0, 0, 0), 2), geometry.ErrDegenerate)
	require.ErrorIs(t, c.Layout(geometry.R(0, 0, 0, 0), testTrimArea, 2), geometry.ErrDegenerate)
	require.False(t, c.LaidOut())

	huge := geometry.R(0, 0, 1e12, 1e12)
	require.ErrorIs(t, c.Layout(huge, testTrimArea, 2), geometry.ErrDegenerate)
	require.ErrorIs(t, c.Layout(testFrame, huge, 2), geometry.ErrDegenerate)
	require.False(t, c.LaidOut())
	require.Equal(t, image.Rect(0, 0, 0, 0), c.Render(image.NewNRGBA(image.Rect(0, 0, 10, 10)), 1).Bounds())

	_, err := c.ConvertToImage(testTrimArea)
	require.ErrorIs(t, err, ErrNoImage)
}

func TestPinchClampsToBounds(t *testing.T) {
	c := newLaidOut(t)
	centre := geometry.Point{X: 160, Y: 160}

	c.Pinch(10, centre)
	require.InDelta(t, 0.6, c.Transform().ZoomScale, eps)

	c.Pinch(0.01, centre)
	require.InDelta(t, 0.3, c.Transform().ZoomScale, eps)
}

func TestPinchKeepsAnchor(t *testing.T) {
	c := newLaidOut(t)
	centre := geometry.Point{X: 160, Y: 160}

	before, err := c.ConvertToImage(geometry.Rect{Origin: centre})
	require.NoError(t, err)
	c.Pinch(1.5, centre)
	after, err := c.ConvertToImage(geometry.Rect{Origin: centre})
	require.NoError(t, err)

	require.InDelta(t, 0.45, c.Transform().ZoomScale, eps)
	require.InDelta(t, before.MinX(), after.MinX(), 1e-6)
	require.InDelta(t, before.MinY(), after.MinY(), 1e-6)

	got, err := c.ConvertToImage(testTrimArea)
	require.NoError(t, err)
	require.InDelta(t, 1000/1.5, got.Size.Width, 1e-6)
}

func TestPanClampsToImage(t *testing.T) {
	c := newLaidOut(t)

	c.Pan(geometry.Point{X: 0, Y: 1000})
	got, err := c.ConvertToImage(testTrimArea)
	require.NoError(t, err)
	requireRectInDelta(t, geometry.R(0, 0, 1000, 1000), got)

	c.Pan(geometry.Point{X: 0, Y: -5000})
	got, err = c.ConvertToImage(testTrimArea)
	require.NoError(t, err)
	requireRectInDelta(t, geometry.R(0, 1000, 1000, 1000), got)

	// The image exactly fills the width, so horizontal drags go nowhere.
	c.Pan(geometry.Point{X: 50, Y: 0})
	require.InDelta(t, -10, c.Transform().ContentOffset.X, 1e-6)
}

func TestTransition(t *testing.T) {
	c := newLaidOut(t)
	c.BeginTransition()
	require.True(t, c.Hidden())
	require.True(t, c.Transitioning())

	// Layout passes during the transition see transient bounds and are ignored.
	require.NoError(t, c.Layout(geometry.R(0, 0, 1, 1), geometry.R(0, 0, 1, 1), 2))
	require.InDelta(t, 0.3, c.Transform().ZoomScale, eps)

	c.Pinch(2, geometry.Point{X: 160, Y: 160})
	require.InDelta(t, 0.3, c.Transform().ZoomScale, eps)

	require.NoError(t, c.EndTransition(geometry.R(0, 0, 640, 320), geometry.R(170, 10, 300, 300), 2))
	require.False(t, c.Hidden())
	require.False(t, c.Transitioning())
	require.Equal(t, geometry.R(0, 0, 640, 320), c.Frame())
	require.InDelta(t, 0.3, c.Transform().ZoomScale, eps)

	got, err := c.ConvertToImage(geometry.R(170, 10, 300, 300))
	require.NoError(t, err)
	requireRectInDelta(t, geometry.R(0, 500, 1000, 1000), got)
}

func TestRender(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 200))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], []uint8{255, 0, 0, 255})
	}

	c := New()
	c.SetImage(geometry.Size{Width: 100, Height: 200})
	require.NoError(t, c.Layout(geometry.R(0, 0, 50, 50), geometry.R(0, 0, 50, 50), 2))

	out := c.Render(img, 1)
	require.Equal(t, image.Rect(0, 0, 50, 50), out.Bounds())
	for _, pt := range []image.Point{{0, 0}, {49, 0}, {0, 49}, {49, 49}, {25, 25}} {
		px := out.NRGBAAt(pt.X, pt.Y)
		require.Equal(t, uint8(255), px.A, "alpha at %v", pt)
		require.Greater(t, px.R, uint8(250), "red at %v", pt)
	}

	c.BeginTransition()
	hidden := c.Render(img, 1)
	require.Equal(t, uint8(0), hidden.NRGBAAt(25, 25).A)
}
