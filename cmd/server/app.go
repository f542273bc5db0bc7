package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/podushkina/watermarkd/internal/config"
	"github.com/podushkina/watermarkd/internal/ffmpeg"
	"github.com/podushkina/watermarkd/internal/registry"
	"github.com/podushkina/watermarkd/internal/video"
	"github.com/podushkina/watermarkd/internal/watermark"
)

type renderers struct {
	images *watermark.Compositor
	videos *video.Pipeline
}

func watermarkOptions(c *config.Config) watermark.Options {
	return watermark.Options{
		Text:               c.WatermarkText,
		TargetWidthRatio:   c.TargetWidthRatio,
		LetterSpacingRatio: c.LetterSpacing,
		ReferenceSize:      float64(c.ReferenceFontSize),
		FallbackSizeRatio:  c.FallbackSizeRatio,
		Opacity:            uint8(c.Opacity),
	}
}

func newRenderers(c *config.Config, logger *zap.Logger) (*renderers, error) {
	engine, err := watermark.LoadEngine(c.FontPath, watermarkOptions(c), logger)
	if err != nil {
		return nil, err
	}

	exec := ffmpeg.New(logger, c.FFmpegPath, c.FFprobePath)
	pipeline := video.New(exec, exec, engine, video.Config{
		DefaultWidth:  c.DefaultVideoWidth,
		DefaultHeight: c.DefaultVideoHeight,
		TempDir:       c.VideoTempDir(),
		EncodeTimeout: c.EncodeTimeout,
	}, logger)

	return &renderers{
		images: watermark.NewCompositor(engine, logger),
		videos: pipeline,
	}, nil
}

func newBackend(c *config.Config, logger *zap.Logger) (registry.Backend, error) {
	switch c.StoreBackend {
	case "redis":
		b, err := registry.NewRedis(c.RedisAddr, c.RedisPassword, c.RedisDB, c.Retention)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to redis", zap.String("addr", c.RedisAddr))
		return b, nil
	default:
		return registry.NewMemory(), nil
	}
}
