package watermark

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	builtinOnce sync.Once
	builtinFont *opentype.Font
	builtinErr  error
)

// BuiltinFont is the font used when the configured font asset is missing.
func BuiltinFont() (*opentype.Font, error) {
	builtinOnce.Do(func() {
		builtinFont, builtinErr = opentype.Parse(goregular.TTF)
	})
	return builtinFont, builtinErr
}

// LoadFont reads and parses a TrueType/OpenType font file.
func LoadFont(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}
	return f, nil
}

// LoadEngine builds an Engine from the font at path. When the font cannot
// be loaded the engine falls back to the built-in font with approximate
// sizing, and the failure is logged.
func LoadEngine(path string, opts Options, logger *zap.Logger) (*Engine, error) {
	f, err := LoadFont(path)
	if err == nil {
		return NewEngine(f, opts), nil
	}

	logger.Warn("watermark font unavailable, using built-in font with approximate sizing",
		zap.String("font_path", path),
		zap.Error(err),
	)

	fallback, ferr := BuiltinFont()
	if ferr != nil {
		return nil, fmt.Errorf("load built-in font: %w", ferr)
	}
	e := NewEngine(fallback, opts)
	e.approximate = true
	return e, nil
}

// newFace returns a face at size pixels. Faces are not safe for concurrent
// use, so callers create their own and close them.
func newFace(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("new face at %.1fpx: %w", size, err)
	}
	return face, nil
}

func toFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}

func toFixed(v float64) fixed.Int26_6 {
	return fixed.Int26_6(v * 64)
}
