package watermark

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	// Registers WebP decoding with image.Decode, which imaging uses.
	_ "golang.org/x/image/webp"
)

const jpegQuality = 95

// Compositor watermarks still images.
type Compositor struct {
	engine *Engine
	logger *zap.Logger
}

func NewCompositor(engine *Engine, logger *zap.Logger) *Compositor {
	return &Compositor{engine: engine, logger: logger.Named("image")}
}

// Composite converts src to RGBA and blends the watermark overlay over it.
// The result has the same dimensions as src.
func (c *Compositor) Composite(src image.Image) (*image.RGBA, error) {
	b := src.Bounds()
	base := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(base, base.Bounds(), src, b.Min, draw.Src)

	overlay, plan, err := c.engine.Overlay(b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("render overlay: %w", err)
	}
	draw.Draw(base, base.Bounds(), overlay, image.Point{}, draw.Over)

	c.logger.Debug("watermark composited",
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()),
		zap.Int("font_size", plan.FontSize),
		zap.Float64("text_width", plan.TotalWidth),
		zap.Bool("approximate", plan.Approximate),
	)
	return base, nil
}

// Render watermarks the image at inputPath and returns it encoded as format.
func (c *Compositor) Render(inputPath string, format imaging.Format) ([]byte, error) {
	out, err := c.open(inputPath)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, finalize(out, format), format, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// RenderFile watermarks inputPath and writes the result to outputPath in
// the format implied by its extension.
func (c *Compositor) RenderFile(ctx context.Context, inputPath, outputPath string) error {
	c.logger.Info("starting image watermark",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
	)

	format, err := imaging.FormatFromFilename(outputPath)
	if err != nil {
		return fmt.Errorf("output format: %w", err)
	}

	out, err := c.open(inputPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := imaging.Save(finalize(out, format), outputPath, imaging.JPEGQuality(jpegQuality)); err != nil {
		c.logger.Error("failed to save image", zap.String("path", outputPath), zap.Error(err))
		return fmt.Errorf("failed to save image: %w", err)
	}

	c.logger.Info("image watermark completed", zap.String("output", outputPath))
	return nil
}

func (c *Compositor) open(inputPath string) (*image.RGBA, error) {
	src, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		c.logger.Error("failed to open image", zap.String("path", inputPath), zap.Error(err))
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return c.Composite(src)
}

// finalize drops the alpha channel for formats that cannot store it.
func finalize(img *image.RGBA, format imaging.Format) image.Image {
	switch format {
	case imaging.PNG, imaging.TIFF, imaging.GIF:
		return img
	default:
		return flatten(img)
	}
}

// flatten returns an opaque copy of img, keeping the straight color values.
func flatten(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
