package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/podushkina/watermarkd/internal/registry"
	"github.com/podushkina/watermarkd/internal/task"
	"github.com/podushkina/watermarkd/internal/worker"
)

type rendererFunc func(ctx context.Context, in, out string) error

func (f rendererFunc) RenderFile(ctx context.Context, in, out string) error { return f(ctx, in, out) }
func (f rendererFunc) Render(ctx context.Context, in, out string) error     { return f(ctx, in, out) }

func copyInput(_ context.Context, in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func TestImage_PassesPaths(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out.png")
	require.NoError(t, os.WriteFile(in, []byte("pixels"), 0o644))

	var gotIn, gotOut string
	h := Image(rendererFunc(func(ctx context.Context, i, o string) error {
		gotIn, gotOut = i, o
		return copyInput(ctx, i, o)
	}))

	require.NoError(t, h(context.Background(), &task.Task{InputPath: in}, out))
	assert.Equal(t, in, gotIn)
	assert.Equal(t, out, gotOut)
}

func TestVideo_PropagatesError(t *testing.T) {
	h := Video(rendererFunc(func(context.Context, string, string) error {
		return errors.New("encode failed")
	}))
	err := h(context.Background(), &task.Task{InputPath: "in.mp4"}, filepath.Join(t.TempDir(), "out.mp4"))
	assert.EqualError(t, err, "encode failed")
}

func TestHandlers_RejectMissingOrEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	noop := rendererFunc(func(context.Context, string, string) error { return nil })

	err := Video(noop)(context.Background(), &task.Task{}, filepath.Join(dir, "never.mp4"))
	assert.ErrorContains(t, err, "output not written")

	empty := filepath.Join(dir, "empty.png")
	writeEmpty := rendererFunc(func(_ context.Context, _, out string) error {
		return os.WriteFile(out, nil, 0o644)
	})
	err = Image(writeEmpty)(context.Background(), &task.Task{}, empty)
	assert.ErrorContains(t, err, "output is empty")
}

func TestRegister_RoutesByKind(t *testing.T) {
	logger := zaptest.NewLogger(t)
	reg := registry.New(registry.NewMemory(), time.Hour, logger)
	o := worker.NewOrchestrator(reg, worker.Config{OutputDir: t.TempDir()}, logger)

	var images, videos int
	Register(o,
		rendererFunc(func(ctx context.Context, in, out string) error { images++; return copyInput(ctx, in, out) }),
		rendererFunc(func(ctx context.Context, in, out string) error { videos++; return copyInput(ctx, in, out) }),
	)

	dir := t.TempDir()
	for _, job := range []worker.Job{
		{InputPath: filepath.Join(dir, "a.jpg"), Kind: task.KindImage},
		{InputPath: filepath.Join(dir, "b.webm"), Kind: task.KindVideo},
	} {
		require.NoError(t, os.WriteFile(job.InputPath, []byte("media"), 0o644))
		exec, err := o.Submit(context.Background(), job)
		require.NoError(t, err)

		final, err := exec.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, task.StatusCompleted, final.Status, final.Error)
	}

	assert.Equal(t, 1, images)
	assert.Equal(t, 1, videos)
	require.NoError(t, o.Stop(context.Background()))
}
