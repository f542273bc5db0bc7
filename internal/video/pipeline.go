// Package video watermarks video files by rendering the watermark once as a
// full-frame transparent PNG and letting an external encoder overlay it on
// every frame.
package video

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/podushkina/watermarkd/internal/ffmpeg"
	"github.com/podushkina/watermarkd/internal/watermark"
)

// MediaProbe reports the pixel dimensions of a video.
type MediaProbe interface {
	ProbeDimensions(ctx context.Context, path string) (width, height int, err error)
}

// MediaEncoder overlays an image over every frame of a video.
type MediaEncoder interface {
	Overlay(ctx context.Context, req ffmpeg.OverlayRequest) error
}

type Config struct {
	// DefaultWidth and DefaultHeight are assumed when probing fails.
	DefaultWidth  int
	DefaultHeight int
	// TempDir holds the transient watermark rasters.
	TempDir string
	// EncodeTimeout bounds each encoder invocation. Zero means no bound.
	EncodeTimeout time.Duration
}

type Pipeline struct {
	probe   MediaProbe
	encoder MediaEncoder
	engine  *watermark.Engine
	cfg     Config
	logger  *zap.Logger
}

func New(probe MediaProbe, encoder MediaEncoder, engine *watermark.Engine, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.DefaultWidth <= 0 || cfg.DefaultHeight <= 0 {
		cfg.DefaultWidth, cfg.DefaultHeight = 1920, 1080
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Pipeline{
		probe:   probe,
		encoder: encoder,
		engine:  engine,
		cfg:     cfg,
		logger:  logger.Named("video"),
	}
}

// Render writes a watermarked copy of input to output. The encoder is tried
// with the audio stream copied and, if that fails, once more with audio
// re-encoded.
func (p *Pipeline) Render(ctx context.Context, input, output string) error {
	log := p.logger.With(zap.String("input", input), zap.String("output", output))

	width, height := p.dimensions(ctx, input, log)

	overlay, plan, err := p.engine.Overlay(width, height)
	if err != nil {
		return fmt.Errorf("render overlay: %w", err)
	}
	log.Debug("watermark raster rendered",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("font_size", plan.FontSize),
	)

	rasterPath, release, err := p.persist(overlay)
	if err != nil {
		return err
	}
	defer release()

	req := ffmpeg.OverlayRequest{
		Input:   input,
		Overlay: rasterPath,
		Output:  output,
		Audio:   ffmpeg.AudioCopy,
	}

	first := p.encode(ctx, req)
	if first == nil {
		return nil
	}

	log.Warn("encode with copied audio failed, retrying with audio re-encode", zap.Error(first))

	req.Audio = ffmpeg.AudioReencode
	second := p.encode(ctx, req)
	if second == nil {
		return nil
	}
	return fmt.Errorf("encode video: %w", multierr.Combine(first, second))
}

// dimensions probes the video size, falling back to the configured default.
// The fallback keeps the job alive but the watermark is sized for the
// assumed resolution, not the real one.
func (p *Pipeline) dimensions(ctx context.Context, input string, log *zap.Logger) (int, int) {
	w, h, err := p.probe.ProbeDimensions(ctx, input)
	if err == nil && w > 0 && h > 0 {
		return w, h
	}
	if err == nil {
		err = fmt.Errorf("probe returned %dx%d", w, h)
	}

	log.Warn("video probe failed, assuming default resolution; watermark size may not match the video",
		zap.Int("assumed_width", p.cfg.DefaultWidth),
		zap.Int("assumed_height", p.cfg.DefaultHeight),
		zap.Error(err),
	)
	return p.cfg.DefaultWidth, p.cfg.DefaultHeight
}

// persist writes the raster to a uniquely named file. The returned release
// func removes it and must be called on every exit path.
func (p *Pipeline) persist(overlay *image.RGBA) (string, func(), error) {
	path := filepath.Join(p.cfg.TempDir, "wm_"+uuid.NewString()+".png")
	release := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.logger.Warn("failed to remove watermark raster", zap.String("path", path), zap.Error(err))
		}
	}

	if err := imaging.Save(overlay, path); err != nil {
		release()
		return "", nil, fmt.Errorf("save watermark raster: %w", err)
	}
	return path, release, nil
}

func (p *Pipeline) encode(ctx context.Context, req ffmpeg.OverlayRequest) error {
	if p.cfg.EncodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.EncodeTimeout)
		defer cancel()
	}
	return p.encoder.Overlay(ctx, req)
}
