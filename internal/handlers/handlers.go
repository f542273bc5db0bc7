// Package handlers binds the media renderers to the worker's per-kind
// handler registry.
package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/podushkina/watermarkd/internal/task"
	"github.com/podushkina/watermarkd/internal/worker"
)

// ImageRenderer is satisfied by *watermark.Compositor.
type ImageRenderer interface {
	RenderFile(ctx context.Context, inputPath, outputPath string) error
}

// VideoRenderer is satisfied by *video.Pipeline.
type VideoRenderer interface {
	Render(ctx context.Context, inputPath, outputPath string) error
}

func Image(r ImageRenderer) worker.Handler {
	return func(ctx context.Context, t *task.Task, outputPath string) error {
		if err := r.RenderFile(ctx, t.InputPath, outputPath); err != nil {
			return err
		}
		return checkOutput(outputPath)
	}
}

func Video(r VideoRenderer) worker.Handler {
	return func(ctx context.Context, t *task.Task, outputPath string) error {
		if err := r.Render(ctx, t.InputPath, outputPath); err != nil {
			return err
		}
		return checkOutput(outputPath)
	}
}

// Register wires both renderers into o.
func Register(o *worker.Orchestrator, img ImageRenderer, vid VideoRenderer) {
	o.Register(task.KindImage, Image(img))
	o.Register(task.KindVideo, Video(vid))
}

// checkOutput catches renderers that report success without producing a
// usable file.
func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output not written: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output is empty: %s", path)
	}
	return nil
}
