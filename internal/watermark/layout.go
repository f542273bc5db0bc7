// Package watermark lays out and rasterizes the text watermark and
// composites it onto still images.
package watermark

import (
	"fmt"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
)

type Options struct {
	Text string
	// TargetWidthRatio is the share of the canvas width the text should span.
	TargetWidthRatio float64
	// LetterSpacingRatio is extra space between glyphs as a fraction of the
	// font size. Negative values tighten the text.
	LetterSpacingRatio float64
	// ReferenceSize is the font size of the measuring pass.
	ReferenceSize float64
	// FallbackSizeRatio sizes the font as a fraction of canvas width when
	// the configured font is unavailable.
	FallbackSizeRatio float64
	// Opacity of the white glyphs, 0-255.
	Opacity uint8
}

func DefaultOptions() Options {
	return Options{
		Text:               "OTSU",
		TargetWidthRatio:   0.65,
		LetterSpacingRatio: -0.04,
		ReferenceSize:      100,
		FallbackSizeRatio:  0.1,
		Opacity:            25,
	}
}

type Glyph struct {
	Char    rune
	Advance float64
	// X is the left edge of the glyph on the canvas.
	X float64
}

// Plan is the placement of the watermark text on one canvas.
type Plan struct {
	FontSize   int
	Spacing    float64
	Glyphs     []Glyph
	TotalWidth float64
	StartX     float64
	CenterY    float64
	// Baseline puts the vertical midpoint of the font's ascent/descent
	// box on CenterY.
	Baseline float64
	// Approximate is set when the plan was sized without the configured font.
	Approximate bool
}

// ComputeLayout sizes text so it spans opts.TargetWidthRatio of the canvas
// width and centers it on the canvas. Advances are measured at the
// reference size, the font size is scaled from that, and the glyphs are
// measured again at the resolved size because hinted advances do not scale
// linearly.
func ComputeLayout(f *opentype.Font, text string, canvasWidth, canvasHeight int, opts Options) (Plan, error) {
	if canvasWidth <= 0 || canvasHeight <= 0 {
		return Plan{}, fmt.Errorf("invalid canvas %dx%d", canvasWidth, canvasHeight)
	}

	runes := []rune(text)

	ref, err := newFace(f, opts.ReferenceSize)
	if err != nil {
		return Plan{}, err
	}
	_, refWidth := measure(ref, runes, opts.ReferenceSize*opts.LetterSpacingRatio)
	ref.Close()

	size := int(math.Round(opts.ReferenceSize))
	if refWidth > 0 {
		target := float64(canvasWidth) * opts.TargetWidthRatio
		size = int(math.Round(opts.ReferenceSize * target / refWidth))
	}
	if size < 1 {
		size = 1
	}

	return place(f, runes, size, canvasWidth, canvasHeight, opts.LetterSpacingRatio)
}

// approximateLayout sizes the font from a fixed fraction of the canvas
// width. The text is still centered but its width is not guaranteed.
func approximateLayout(f *opentype.Font, text string, canvasWidth, canvasHeight int, opts Options) (Plan, error) {
	if canvasWidth <= 0 || canvasHeight <= 0 {
		return Plan{}, fmt.Errorf("invalid canvas %dx%d", canvasWidth, canvasHeight)
	}

	size := int(float64(canvasWidth) * opts.FallbackSizeRatio)
	if size < 1 {
		size = 1
	}

	plan, err := place(f, []rune(text), size, canvasWidth, canvasHeight, opts.LetterSpacingRatio)
	plan.Approximate = true
	return plan, err
}

func place(f *opentype.Font, runes []rune, size, canvasWidth, canvasHeight int, spacingRatio float64) (Plan, error) {
	face, err := newFace(f, float64(size))
	if err != nil {
		return Plan{}, err
	}
	defer face.Close()

	spacing := float64(size) * spacingRatio
	glyphs, total := measure(face, runes, spacing)

	startX := (float64(canvasWidth) - total) / 2
	x := startX
	for i := range glyphs {
		glyphs[i].X = x
		x += glyphs[i].Advance + spacing
	}

	m := face.Metrics()
	centerY := float64(canvasHeight) / 2

	return Plan{
		FontSize:   size,
		Spacing:    spacing,
		Glyphs:     glyphs,
		TotalWidth: total,
		StartX:     startX,
		CenterY:    centerY,
		Baseline:   centerY + (toFloat(m.Ascent)-toFloat(m.Descent))/2,
	}, nil
}

// measure returns per-glyph advances and the total width including
// spacing between (not after) glyphs.
func measure(face font.Face, runes []rune, spacing float64) ([]Glyph, float64) {
	glyphs := make([]Glyph, 0, len(runes))
	total := 0.0
	for _, r := range runes {
		adv, _ := face.GlyphAdvance(r)
		w := toFloat(adv)
		glyphs = append(glyphs, Glyph{Char: r, Advance: w})
		total += w
	}
	if len(runes) > 1 {
		total += float64(len(runes)-1) * spacing
	}
	return glyphs, total
}

// Engine binds a font and options for repeated layouts.
type Engine struct {
	font        *opentype.Font
	opts        Options
	approximate bool
}

func NewEngine(f *opentype.Font, opts Options) *Engine {
	return &Engine{font: f, opts: opts}
}

func (e *Engine) Options() Options { return e.opts }

// Approximate reports whether the engine runs on the fallback font.
func (e *Engine) Approximate() bool { return e.approximate }

// Layout computes the plan for a canvas of the given size.
func (e *Engine) Layout(canvasWidth, canvasHeight int) (Plan, error) {
	if e.approximate {
		return approximateLayout(e.font, e.opts.Text, canvasWidth, canvasHeight, e.opts)
	}
	return ComputeLayout(e.font, e.opts.Text, canvasWidth, canvasHeight, e.opts)
}
