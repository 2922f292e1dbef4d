package main

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"imagetrimmer/internal/geometry"
	"imagetrimmer/internal/trimmer"
	"imagetrimmer/internal/viewport"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

type Config struct {
	RootDir   string
	OutputDir string
	// Options are the defaults for new sessions; a request may override
	// individual fields.
	Options     trimmer.Options
	ScreenScale float64
	// MaxPixels caps the area of a confirmed result; zero means no cap.
	MaxPixels int

	OnBeforeShutdown func()
	OnReady          func(addr string)
	// OnFinish receives every session outcome, cancelled ones included.
	OnFinish func(file string, o trimmer.Outcome) (TrimResult, error)
}

type WebApp struct {
	config       Config
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*webSession
}

// webSession serialises access to a trimmer.Session, which is not safe for
// concurrent use.
type webSession struct {
	mu      sync.Mutex
	id      string
	file    string
	session *trimmer.Session

	result  TrimResult
	saveErr error
}

// webDelegate hands the preloaded source to its session and forwards the
// outcome to Config.OnFinish.
type webDelegate struct {
	app    *WebApp
	ws     *webSession
	source *trimmer.SourceImage
}

func (d *webDelegate) ImageForTrimming() *trimmer.SourceImage {
	return d.source
}

func (d *webDelegate) TrimmingFinished(_ *trimmer.Session, o trimmer.Outcome) {
	d.source = nil
	d.app.removeSession(d.ws.id)
	if fn := d.app.config.OnFinish; fn != nil {
		d.ws.result, d.ws.saveErr = fn(d.ws.file, o)
	}
}

type sessionState struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Hidden bool   `json:"hidden"`
	// Transitioning means layout requests are deferred until the
	// transition ends.
	Transitioning bool               `json:"transitioning"`
	Transform     viewport.Transform `json:"transform"`
	TrimArea      geometry.Rect      `json:"trim_area"`
}

func NewWebApp(config Config) *WebApp {
	if config.ScreenScale <= 0 {
		config.ScreenScale = 1
	}
	return &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
		sessions:   make(map[string]*webSession),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

func (a *WebApp) addSession(ws *webSession) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[ws.id] = ws
}

func (a *WebApp) removeSession(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, id)
}

func (a *WebApp) lookupSession(id string) (*webSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ws, ok := a.sessions[id]
	if !ok {
		return nil, fiber.NewError(http.StatusNotFound, fmt.Sprintf("session %q not found", id))
	}
	return ws, nil
}

// cancelSessions ends every open session so each delegate still hears about
// its outcome.
func (a *WebApp) cancelSessions(ctx context.Context) {
	a.mu.Lock()
	open := make([]*webSession, 0, len(a.sessions))
	for _, ws := range a.sessions {
		open = append(open, ws)
	}
	a.mu.Unlock()

	for _, ws := range open {
		ws.mu.Lock()
		if err := ws.session.Cancel(ctx); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("session", ws.id).Msg("failed to cancel session")
		}
		ws.mu.Unlock()
	}
}

// withSession runs fn with the session locked.
func (a *WebApp) withSession(c *fiber.Ctx, fn func(ws *webSession) error) error {
	ws, err := a.lookupSession(c.Params("id"))
	if err != nil {
		return err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return sessionError(fn(ws))
}

// sessionError maps trimmer errors to HTTP errors.
func sessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, trimmer.ErrInvalidState):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, trimmer.ErrInvalidOptions), errors.Is(err, geometry.ErrDegenerate):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, trimmer.ErrNoSourceImage), errors.Is(err, ErrExtractionFailed):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	}
	return err
}

func stateOf(ws *webSession) sessionState {
	return sessionState{
		ID:            ws.id,
		State:         ws.session.State().String(),
		Hidden:        ws.session.Hidden(),
		Transitioning: ws.session.Transitioning(),
		Transform:     ws.session.Transform(),
		TrimArea:      ws.session.TrimArea(),
	}
}

// resolve keeps name inside the root directory.
func (a *WebApp) resolve(name string) string {
	return filepath.Join(a.config.RootDir, filepath.Clean("/"+name))
}

// handler builds the fiber app with every route registered.
func (a *WebApp) handler() *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Ctx(c.Context()).Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request failed")
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				if fiberErr.Code == http.StatusNotFound && c.Path() == "/favicon.ico" {
					return nil
				}
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		},
	})

	webapp.Use(recover.New())

	filesRoot := http.Dir(a.config.RootDir)
	webapp.Get("/api/view", func(c *fiber.Ctx) error {
		filePath := c.Query("file")
		return filesystem.SendFile(c, filesRoot, filePath)
	})

	webapp.Get("/api/ls", func(c *fiber.Ctx) error {
		dir, err := walkImages(a.config.RootDir, a.config.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to walk dir: %w", err)
		}

		for i := range dir.Files {
			dir.Files[i].URL = "/api/view?file=" + url.QueryEscape(dir.Files[i].Name)
		}

		return c.JSON(dir)
	})

	webapp.Post("/api/sessions", func(c *fiber.Ctx) error {
		var request struct {
			File    string          `json:"file"`
			Scale   float64         `json:"scale"`
			Options json.RawMessage `json:"options"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if request.File == "" {
			return fiber.NewError(http.StatusBadRequest, "file is required")
		}

		opts := a.config.Options
		if len(request.Options) > 0 {
			opts.FrameDashPattern = append([]float64(nil), opts.FrameDashPattern...)
			if err := json.Unmarshal(request.Options, &opts); err != nil {
				return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("failed to parse options: %v", err))
			}
		}

		src, err := trimmer.OpenSourceImage(a.resolve(request.File), request.Scale)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fiber.NewError(http.StatusNotFound, err.Error())
			}
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		}

		ws := &webSession{id: uuid.NewString(), file: request.File}
		s, err := trimmer.NewSession(opts, &webDelegate{app: a, ws: ws, source: src},
			trimmer.WithScreenScale(a.config.ScreenScale),
			trimmer.WithExtractor(&trimmer.ImagingExtractor{MaxPixels: a.config.MaxPixels}))
		if err != nil {
			return sessionError(err)
		}
		ws.session = s
		if err := s.Start(c.UserContext()); err != nil {
			return sessionError(err)
		}
		a.addSession(ws)

		cancel, confirm := s.Buttons()
		size := src.Size()
		return c.Status(http.StatusCreated).JSON(fiber.Map{
			"id":      ws.id,
			"image":   size,
			"cancel":  cancel,
			"confirm": confirm,
		})
	})

	webapp.Post("/api/sessions/:id/layout", func(c *fiber.Ctx) error {
		var request struct {
			Container geometry.Rect `json:"container"`
			Frame     geometry.Rect `json:"frame"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		var state sessionState
		err := a.withSession(c, func(ws *webSession) error {
			if err := ws.session.Layout(c.UserContext(), request.Container, request.Frame); err != nil {
				return err
			}
			state = stateOf(ws)
			return nil
		})
		if err != nil {
			return err
		}
		return c.JSON(state)
	})

	webapp.Post("/api/sessions/:id/transition", func(c *fiber.Ctx) error {
		var request struct {
			Phase     string        `json:"phase"`
			Container geometry.Rect `json:"container"`
			Frame     geometry.Rect `json:"frame"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		var state sessionState
		err := a.withSession(c, func(ws *webSession) error {
			switch request.Phase {
			case "begin":
				ws.session.WillTransition()
			case "end":
				if err := ws.session.DidTransition(c.UserContext(), request.Container, request.Frame); err != nil {
					return err
				}
			default:
				return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("unknown phase %q", request.Phase))
			}
			state = stateOf(ws)
			return nil
		})
		if err != nil {
			return err
		}
		return c.JSON(state)
	})

	webapp.Post("/api/sessions/:id/pinch", func(c *fiber.Ctx) error {
		var request struct {
			Scale  float64        `json:"scale"`
			Anchor geometry.Point `json:"anchor"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		var state sessionState
		err := a.withSession(c, func(ws *webSession) error {
			ws.session.Pinch(request.Scale, request.Anchor)
			state = stateOf(ws)
			return nil
		})
		if err != nil {
			return err
		}
		return c.JSON(state)
	})

	webapp.Post("/api/sessions/:id/pan", func(c *fiber.Ctx) error {
		var request struct {
			Delta geometry.Point `json:"delta"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		var state sessionState
		err := a.withSession(c, func(ws *webSession) error {
			ws.session.Pan(request.Delta)
			state = stateOf(ws)
			return nil
		})
		if err != nil {
			return err
		}
		return c.JSON(state)
	})

	webapp.Get("/api/sessions/:id/preview", func(c *fiber.Ctx) error {
		var b bytes.Buffer
		err := a.withSession(c, func(ws *webSession) error {
			img, err := ws.session.Preview()
			if err != nil {
				return err
			}
			return imaging.Encode(&b, img, imaging.PNG)
		})
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Type("png")
		return c.Send(b.Bytes())
	})

	webapp.Post("/api/sessions/:id/confirm", func(c *fiber.Ctx) error {
		var (
			result TrimResult
			rect   geometry.Rect
		)
		err := a.withSession(c, func(ws *webSession) error {
			o, err := ws.session.Confirm(c.UserContext())
			if err != nil {
				return err
			}
			rect = o.Rect
			result = ws.result
			return ws.saveErr
		})
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"result": result,
			"rect":   rect,
		})
	})

	webapp.Post("/api/sessions/:id/cancel", func(c *fiber.Ctx) error {
		err := a.withSession(c, func(ws *webSession) error {
			return ws.session.Cancel(c.UserContext())
		})
		if err != nil {
			return err
		}
		return c.SendStatus(http.StatusNoContent)
	})

	webapp.Post("/api/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return nil
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}

	return webapp
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.handler()

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		a.cancelSessions(ctx)
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	// Let the OS assign a random available port
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", 0))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
