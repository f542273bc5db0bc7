package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/podushkina/watermarkd/internal/config"
	"github.com/podushkina/watermarkd/internal/registry"
	"github.com/podushkina/watermarkd/internal/task"
)

func TestDefaultOutput(t *testing.T) {
	assert.Equal(t, filepath.Join("in", "watermarked_photo.jpg"), defaultOutput(filepath.Join("in", "photo.jpg"), task.KindImage))
	assert.Equal(t, "watermarked_sticker.png", defaultOutput("sticker.WEBP", task.KindImage))
	assert.Equal(t, "watermarked_clip.mp4", defaultOutput("clip.webm", task.KindVideo))
}

func TestWatermarkOptions(t *testing.T) {
	c, err := config.Load("")
	require.NoError(t, err)

	opts := watermarkOptions(c)
	assert.Equal(t, "OTSU", opts.Text)
	assert.Equal(t, uint8(25), opts.Opacity)
	assert.InDelta(t, 0.65, opts.TargetWidthRatio, 1e-9)
	assert.InDelta(t, -0.04, opts.LetterSpacingRatio, 1e-9)
	assert.InDelta(t, 100, opts.ReferenceSize, 1e-9)
}

func TestNewRenderers_FallsBackWithoutFont(t *testing.T) {
	c, err := config.Load("")
	require.NoError(t, err)
	c.FontPath = filepath.Join(t.TempDir(), "missing.ttf")

	r, err := newRenderers(c, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, r.images)
	assert.NotNil(t, r.videos)
}

func TestNewBackend_Memory(t *testing.T) {
	c, err := config.Load("")
	require.NoError(t, err)

	b, err := newBackend(c, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &registry.Memory{}, b)
	assert.NoError(t, b.Close())
}
