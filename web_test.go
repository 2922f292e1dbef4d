package main

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"imagetrimmer/internal/geometry"
	"imagetrimmer/internal/trimmer"
)

type webFixture struct {
	app       *WebApp
	handler   *fiber.App
	outputDir string
	cancelled []string
}

func newWebFixture(t *testing.T, configure ...func(*Config)) *webFixture {
	t.Helper()
	dir := t.TempDir()
	writeTestImage(t, dir, "tall.png", 300, 600)

	f := &webFixture{outputDir: filepath.Join(dir, "output")}
	executor := OperationExecutor{BaseDir: dir, OutputDir: f.outputDir}
	config := Config{
		RootDir:   dir,
		OutputDir: f.outputDir,
		Options:   trimmer.DefaultOptions(),
		OnFinish: func(file string, o trimmer.Outcome) (TrimResult, error) {
			if o.Cancelled {
				f.cancelled = append(f.cancelled, file)
				return TrimResult{}, nil
			}
			return executor.Save(file, "test", o, "png")
		},
	}
	for _, fn := range configure {
		fn(&config)
	}
	f.app = NewWebApp(config)
	f.handler = f.app.handler()
	return f
}

func (f *webFixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := f.handler.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *webFixture) open(t *testing.T) string {
	t.Helper()
	var created struct {
		ID      string         `json:"id"`
		Image   geometry.Size  `json:"image"`
		Cancel  trimmer.Button `json:"cancel"`
		Confirm trimmer.Button `json:"confirm"`
	}
	code := f.do(t, http.MethodPost, "/api/sessions", fiber.Map{"file": "tall.png"}, &created)
	require.Equal(t, http.StatusCreated, code)
	require.NotEmpty(t, created.ID)
	require.Equal(t, geometry.Size{Width: 300, Height: 600}, created.Image)
	require.Equal(t, "Cancel", created.Cancel.Title)
	require.Equal(t, "OK", created.Confirm.Title)
	return created.ID
}

var square306 = fiber.Map{
	"container": geometry.R(0, 0, 306, 306),
	"frame":     geometry.R(0, 0, 306, 306),
}

func TestWebTrimSession(t *testing.T) {
	f := newWebFixture(t)
	id := f.open(t)
	base := "/api/sessions/" + id

	var state sessionState
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/layout", square306, &state))
	require.Equal(t, "loaded", state.State)
	require.Equal(t, 1.0, state.Transform.ZoomScale)
	require.Equal(t, 2.0, state.Transform.MaxZoomScale)
	require.Equal(t, geometry.R(3, 3, 300, 300), state.TrimArea)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/pan", fiber.Map{"delta": geometry.Point{Y: 1000}}, &state))
	require.Equal(t, geometry.Point{X: -3, Y: -3}, state.Transform.ContentOffset)

	resp, err := f.handler.Test(httptest.NewRequest(http.MethodGet, base+"/preview", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get(fiber.HeaderContentType))
	cfg, err := png.DecodeConfig(resp.Body)
	require.NoError(t, err)
	require.Equal(t, 306, cfg.Width)
	require.Equal(t, 306, cfg.Height)

	var confirmed struct {
		Result TrimResult    `json:"result"`
		Rect   geometry.Rect `json:"rect"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/confirm", nil, &confirmed))
	require.Equal(t, geometry.R(0, 0, 300, 300), confirmed.Rect)
	require.Equal(t, 300, confirmed.Result.Width)
	require.Equal(t, 300, confirmed.Result.Height)
	require.FileExists(t, filepath.Join(f.outputDir, confirmed.Result.Output))

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, base+"/confirm", nil, nil))
}

func TestWebPinch(t *testing.T) {
	f := newWebFixture(t)
	base := "/api/sessions/" + f.open(t)

	var state sessionState
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/layout", square306, &state))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/pinch",
		fiber.Map{"scale": 10, "anchor": geometry.Point{X: 153, Y: 153}}, &state))
	require.Equal(t, 2.0, state.Transform.ZoomScale)
}

func TestWebTransition(t *testing.T) {
	f := newWebFixture(t)
	base := "/api/sessions/" + f.open(t)

	var state sessionState
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/layout", square306, &state))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/transition", fiber.Map{"phase": "begin"}, &state))
	require.True(t, state.Hidden)
	require.True(t, state.Transitioning)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/layout", fiber.Map{
		"container": geometry.R(0, 0, 606, 306),
		"frame":     geometry.R(150, 0, 306, 306),
	}, &state))
	require.True(t, state.Transitioning)
	require.Equal(t, geometry.R(3, 3, 300, 300), state.TrimArea)

	wide := fiber.Map{
		"phase":     "end",
		"container": geometry.R(0, 0, 606, 306),
		"frame":     geometry.R(150, 0, 306, 306),
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/transition", wide, &state))
	require.False(t, state.Hidden)
	require.False(t, state.Transitioning)
	require.Equal(t, geometry.R(153, 3, 300, 300), state.TrimArea)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"/transition", fiber.Map{"phase": "sideways"}, nil))
}

func TestWebCancel(t *testing.T) {
	f := newWebFixture(t)
	base := "/api/sessions/" + f.open(t)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, base+"/cancel", nil, nil))
	require.Equal(t, []string{"tall.png"}, f.cancelled)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, base+"/cancel", nil, nil))
}

func TestWebConfirmBeforeLayout(t *testing.T) {
	f := newWebFixture(t)
	base := "/api/sessions/" + f.open(t)

	require.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, base+"/confirm", nil, nil))
	require.NoDirExists(t, f.outputDir)
}

func TestWebErrors(t *testing.T) {
	f := newWebFixture(t)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/sessions", fiber.Map{"file": "missing.png"}, nil))
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/sessions", fiber.Map{}, nil))
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/sessions",
		fiber.Map{"file": "tall.png", "options": fiber.Map{"zooming_multiplier": 0.5}}, nil))
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/sessions/nope/layout", square306, nil))

	base := "/api/sessions/" + f.open(t)
	degenerate := fiber.Map{"container": geometry.R(0, 0, 6, 6), "frame": geometry.R(0, 0, 6, 6)}
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"/layout", degenerate, nil))
}

func TestWebListImages(t *testing.T) {
	f := newWebFixture(t)

	var dir Directory
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/ls", nil, &dir))
	require.Len(t, dir.Files, 1)
	require.Equal(t, "tall.png", dir.Files[0].Name)
	require.Equal(t, "/api/view?file=tall.png", dir.Files[0].URL)
	require.Equal(t, 300, dir.Files[0].Image.Width)
	require.Equal(t, 600, dir.Files[0].Image.Height)
}

func TestWebLayoutOutOfRange(t *testing.T) {
	f := newWebFixture(t)
	base := "/api/sessions/" + f.open(t)

	var state sessionState
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/layout", square306, &state))

	huge := fiber.Map{"container": geometry.R(0, 0, 1e12, 1e12), "frame": geometry.R(0, 0, 1e12, 1e12)}
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"/layout", huge, nil))
	far := fiber.Map{"container": geometry.R(-1e9, 0, 306, 306), "frame": geometry.R(0, 0, 306, 306)}
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"/layout", far, nil))

	resp, err := f.handler.Test(httptest.NewRequest(http.MethodGet, base+"/preview", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg, err := png.DecodeConfig(resp.Body)
	require.NoError(t, err)
	require.Equal(t, 306, cfg.Width)
}

func TestWebMaxPixels(t *testing.T) {
	f := newWebFixture(t, func(c *Config) { c.MaxPixels = 10 })
	base := "/api/sessions/" + f.open(t)

	var state sessionState
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/layout", square306, &state))
	require.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, base+"/confirm", nil, nil))
	require.NoDirExists(t, f.outputDir)
}
