package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"imagetrimmer/internal/trimmer"
)

type Operations = []TrimOperation

// TrimOperation is one trim of a file under the executor's BaseDir.
type TrimOperation struct {
	Filename string `json:"filename"`
	Gestures
	// Scale is the source's pixels per point; zero means 1.
	Scale  float64 `json:"scale,omitempty"`
	Format string  `json:"format,omitempty"`
}

func (o TrimOperation) ID() string {
	m := md5.New()
	_, err := m.Write([]byte(fmt.Sprintf("%s|%s|%g", o.Filename, o.Gestures, o.Scale)))
	if err != nil {
		log.Error().Err(err).Msg("failed to hash trim operation")
		return ""
	}
	return fmt.Sprintf("%x", m.Sum(nil))
}

// readOperations parses JSONL, skipping blank lines.
func readOperations(r io.Reader) (Operations, error) {
	var ops Operations
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var op TrimOperation
		if err := json.Unmarshal([]byte(text), &op); err != nil {
			return nil, fmt.Errorf("failed to unmarshal operation on line %d: %w", line, err)
		}
		if op.Filename == "" {
			return nil, fmt.Errorf("operation on line %d has no filename", line)
		}
		ops = append(ops, op)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read operations: %w", err)
	}
	return ops, nil
}

// TrimResult is reported for every operation that produced a file.
type TrimResult struct {
	Filename string `json:"filename"`
	Output   string `json:"output"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type OperationExecutor struct {
	BaseDir   string
	OutputDir string
	Cropper   Cropper
	Quality   int
}

func (r OperationExecutor) Exec(ctx context.Context, ops Operations) ([]TrimResult, error) {
	if len(ops) == 0 {
		log.Ctx(ctx).Warn().Msg("no operations to execute")
		return nil, nil
	}

	pooler := pool.NewWithResults[TrimResult]().WithErrors().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU())

	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", r.OutputDir, err)
	}
	for _, op := range ops {
		pooler.Go(func(ctx context.Context) (TrimResult, error) {
			res, err := r.executeTrim(ctx, op)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).
					Interface("op", op).
					Msg("failed to execute operation")
				return res, err
			}
			return res, nil
		})
	}

	results, err := pooler.Wait()
	if err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Msg("finished with errors")
		return results, err
	}

	return results, nil
}

func (r OperationExecutor) executeTrim(ctx context.Context, op TrimOperation) (TrimResult, error) {
	log.Ctx(ctx).Info().Str("filename", op.Filename).Stringer("gestures", op.Gestures).Msg("trimming")
	sourcePath := filepath.Join(r.BaseDir, op.Filename)
	src, err := trimmer.OpenSourceImage(sourcePath, op.Scale)
	if err != nil {
		return TrimResult{}, err
	}
	outcome, err := r.Cropper.Crop(ctx, src, op.Gestures)
	if err != nil {
		return TrimResult{}, fmt.Errorf("failed to trim %s: %w", op.Filename, err)
	}
	return r.Save(op.Filename, op.ID(), outcome, op.Format)
}

// Save encodes a confirmed outcome into OutputDir as
// "<base>-<id>.<format>".
func (r OperationExecutor) Save(filename, id string, outcome trimmer.Outcome, format string) (TrimResult, error) {
	if outcome.Image == nil {
		return TrimResult{}, ErrExtractionFailed
	}
	f, err := ParseFormat(format)
	if err != nil {
		return TrimResult{}, err
	}
	quality := r.Quality
	if quality <= 0 {
		quality = 90
	}

	var b bytes.Buffer
	if err := Encode(&b, outcome.Image, f, quality); err != nil {
		return TrimResult{}, fmt.Errorf("failed to encode %s: %w", filename, err)
	}

	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return TrimResult{}, fmt.Errorf("failed to create output directory %s: %w", r.OutputDir, err)
	}
	newName := fmt.Sprintf("%s-%s.%s", filepath.Base(filename), id, f)
	trimmedPath := filepath.Join(r.OutputDir, newName)
	wf, err := os.Create(trimmedPath)
	if err != nil {
		return TrimResult{}, fmt.Errorf("failed to create trimmed file %s: %w", newName, err)
	}
	defer wf.Close()
	if _, err := b.WriteTo(wf); err != nil {
		return TrimResult{}, fmt.Errorf("failed to write trimmed data to file %s: %w", newName, err)
	}

	bounds := outcome.Image.Bounds()
	return TrimResult{
		Filename: filename,
		Output:   newName,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}
