package watermark

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Overlay renders the watermark onto a transparent canvas of the given
// size. The glyphs are already centered, so the result is meant to be
// composited at the canvas origin.
func (e *Engine) Overlay(width, height int) (*image.RGBA, Plan, error) {
	plan, err := e.Layout(width, height)
	if err != nil {
		return nil, Plan{}, err
	}

	overlay := image.NewRGBA(image.Rect(0, 0, width, height))
	if err := e.Draw(overlay, plan); err != nil {
		return nil, Plan{}, err
	}
	return overlay, plan, nil
}

// Draw paints each glyph of plan in translucent white onto dst.
func (e *Engine) Draw(dst draw.Image, plan Plan) error {
	face, err := newFace(e.font, float64(plan.FontSize))
	if err != nil {
		return fmt.Errorf("draw watermark: %w", err)
	}
	defer face.Close()

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: e.opts.Opacity}),
		Face: face,
	}

	origin := dst.Bounds().Min
	for _, g := range plan.Glyphs {
		d.Dot = fixed.Point26_6{
			X: fixed.I(origin.X) + toFixed(g.X),
			Y: fixed.I(origin.Y) + toFixed(plan.Baseline),
		}
		d.DrawString(string(g.Char))
	}
	return nil
}
