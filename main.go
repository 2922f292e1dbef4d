package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"imagetrimmer/internal/geometry"
	"imagetrimmer/internal/trimmer"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("imagetrimmer"),
		kong.Description("Trim images to a crop frame by zooming and panning behind it."),
		kong.UsageOnError(),
	)
	if err := cliCtx.Run(); err != nil {
		return err
	}

	return nil
}

type cliArgs struct {
	Serve serveCmd `cmd:"" default:"withargs" help:"Trim images under a directory in the browser"`
	Trim  trimCmd  `cmd:"" help:"Trim a single image without a UI"`
	Batch batchCmd `cmd:"" help:"Run trim operations from a JSONL file"`
}

// setupLogging configures the global and context loggers and returns a
// context that is cancelled on interrupt.
func setupLogging(verbose bool) (context.Context, context.CancelFunc) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Output(zerolog.NewConsoleWriter()).Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	return log.Logger.WithContext(ctx), cancel
}

func loadOptions(path string) (trimmer.Options, error) {
	if path == "" {
		return trimmer.DefaultOptions(), nil
	}
	opts, err := trimmer.LoadOptions(path)
	if err != nil {
		return opts, err
	}
	return opts, opts.Validate()
}

type serveCmd struct {
	RootDir     string  `arg:"" help:"Root directory to serve files from"`
	Open        bool    `help:"Open the browser automatically when the server starts" default:"true" negatable:""`
	JSON        bool    `help:"Print outcomes in JSON format without writing files"`
	Once        bool    `help:"Exit after the first confirmed trim" default:"true" negatable:""`
	Options     string  `help:"JSON file with session options" type:"existingfile"`
	ScreenScale float64 `help:"Pixel density of the preview" default:"2"`
	Format      string  `help:"Output format" enum:"jpg,png,webp" default:"jpg"`
	Quality     int     `help:"Output quality for jpg and webp" default:"90"`
	MaxPixels   int     `help:"Largest result in pixels, 0 for no limit" default:"100000000"`
	Verbose     bool    `help:"Enable verbose logging" default:"false"`
}

func (cmd *serveCmd) Run() error {
	ctx, cancel := setupLogging(cmd.Verbose)
	defer cancel()

	opts, err := loadOptions(cmd.Options)
	if err != nil {
		return err
	}

	outputDir := filepath.Join(cmd.RootDir, "output")
	executor := &OperationExecutor{
		BaseDir:   cmd.RootDir,
		OutputDir: outputDir,
		Quality:   cmd.Quality,
	}

	app := NewWebApp(Config{
		RootDir:     cmd.RootDir,
		OutputDir:   outputDir,
		Options:     opts,
		ScreenScale: cmd.ScreenScale,
		MaxPixels:   cmd.MaxPixels,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
		OnFinish: func(file string, o trimmer.Outcome) (TrimResult, error) {
			if o.Cancelled {
				log.Ctx(ctx).Info().Str("filename", file).Msg("trim cancelled")
				return TrimResult{}, nil
			}
			if cmd.Once {
				defer cancel()
			}
			if o.Image == nil {
				return TrimResult{}, ErrExtractionFailed
			}
			if cmd.JSON {
				b := o.Image.Bounds()
				res := TrimResult{Filename: file, Width: b.Dx(), Height: b.Dy()}
				printJSONL([]any{res, o.Rect})
				return res, nil
			}
			res, err := executor.Save(file, newOutputID(file, o.Rect), o, cmd.Format)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).Str("filename", file).Msg("Failed to save trimmed image")
				return res, err
			}
			log.Ctx(ctx).Info().Str("output", res.Output).Msg("saved")
			return res, nil
		},
	})

	if err := app.Run(ctx); err != nil {
		return err
	}

	return nil
}

type trimCmd struct {
	File      string  `arg:"" help:"Image to trim" type:"existingfile"`
	Frame     string  `help:"Crop frame size in points, WIDTHxHEIGHT" default:"300x300"`
	Zoom      float64 `help:"Zoom relative to the minimum zoom" default:"1"`
	PanX      float64 `help:"Horizontal drag in points"`
	PanY      float64 `help:"Vertical drag in points"`
	Scale     float64 `help:"Pixels per point of the source image" default:"1"`
	Options   string  `help:"JSON file with session options" type:"existingfile"`
	Format    string  `help:"Output format" enum:"jpg,png,webp" default:"jpg"`
	Quality   int     `help:"Output quality for jpg and webp" default:"90"`
	MaxPixels int     `help:"Largest result in pixels, 0 for no limit" default:"100000000"`
	Out       string  `help:"Output file" required:""`
	Verbose   bool    `help:"Enable verbose logging" default:"false"`
}

func (cmd *trimCmd) Run() error {
	ctx, cancel := setupLogging(cmd.Verbose)
	defer cancel()

	opts, err := loadOptions(cmd.Options)
	if err != nil {
		return err
	}
	frameSize, err := parseSize(cmd.Frame)
	if err != nil {
		return err
	}
	format, err := ParseFormat(cmd.Format)
	if err != nil {
		return err
	}

	src, err := trimmer.OpenSourceImage(cmd.File, cmd.Scale)
	if err != nil {
		return err
	}
	outcome, err := NewSessionCropper(opts, cmd.MaxPixels).Crop(ctx, src, Gestures{
		Frame: frameSize,
		Zoom:  cmd.Zoom,
		Pan:   geometry.Point{X: cmd.PanX, Y: cmd.PanY},
	})
	if err != nil {
		return err
	}

	f, err := os.Create(cmd.Out)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", cmd.Out, err)
	}
	defer f.Close()
	if err := Encode(f, outcome.Image, format, cmd.Quality); err != nil {
		return fmt.Errorf("failed to encode %s: %w", cmd.Out, err)
	}

	b := outcome.Image.Bounds()
	log.Ctx(ctx).Info().
		Str("output", cmd.Out).
		Stringer("rect", outcome.Rect).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Msg("trimmed")
	return nil
}

type batchCmd struct {
	File      string `arg:"" help:"JSONL file with one trim operation per line, or - for stdin"`
	RootDir   string `help:"Directory the operation filenames are relative to" default:"." type:"existingdir"`
	Output    string `help:"Output directory, defaults to ROOT/output"`
	Options   string `help:"JSON file with session options" type:"existingfile"`
	Quality   int    `help:"Output quality for jpg and webp" default:"90"`
	MaxPixels int    `help:"Largest result in pixels, 0 for no limit" default:"100000000"`
	JSON      bool   `help:"Print results in JSON format"`
	Verbose   bool   `help:"Enable verbose logging" default:"false"`
}

func (cmd *batchCmd) Run() error {
	ctx, cancel := setupLogging(cmd.Verbose)
	defer cancel()

	opts, err := loadOptions(cmd.Options)
	if err != nil {
		return err
	}

	in := os.Stdin
	if cmd.File != "-" {
		f, err := os.Open(cmd.File)
		if err != nil {
			return fmt.Errorf("failed to open operations file: %w", err)
		}
		defer f.Close()
		in = f
	}
	ops, err := readOperations(in)
	if err != nil {
		return err
	}

	outputDir := cmd.Output
	if outputDir == "" {
		outputDir = filepath.Join(cmd.RootDir, "output")
	}
	executor := OperationExecutor{
		BaseDir:   cmd.RootDir,
		OutputDir: outputDir,
		Cropper:   NewSessionCropper(opts, cmd.MaxPixels),
		Quality:   cmd.Quality,
	}
	results, err := executor.Exec(ctx, ops)
	if cmd.JSON {
		printJSONL(results)
	}
	return err
}

// parseSize parses "WIDTHxHEIGHT".
func parseSize(s string) (geometry.Size, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return geometry.Size{}, fmt.Errorf("invalid size %q, expected WIDTHxHEIGHT", s)
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(ws), 64)
	if err != nil {
		return geometry.Size{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	h, err := strconv.ParseFloat(strings.TrimSpace(hs), 64)
	if err != nil {
		return geometry.Size{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	size := geometry.Size{Width: w, Height: h}
	if size.Empty() {
		return geometry.Size{}, fmt.Errorf("size %q: %w", s, geometry.ErrDegenerate)
	}
	return size, nil
}

// newOutputID names a result after the region it covers.
func newOutputID(file string, r geometry.Rect) string {
	return TrimOperation{
		Filename: file,
		Gestures: Gestures{Frame: r.Size, Pan: r.Origin},
	}.ID()
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
