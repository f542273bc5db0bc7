// Package worker runs one goroutine per submitted job and reports each
// job's outcome into the task registry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/podushkina/watermarkd/internal/registry"
	"github.com/podushkina/watermarkd/internal/task"
)

var (
	ErrUnsupportedKind = errors.New("unsupported media kind")
	ErrEmptyInput      = errors.New("input file is missing or empty")
	ErrStopped         = errors.New("orchestrator is stopped")
)

// Handler renders the task's input into outputPath.
type Handler func(ctx context.Context, t *task.Task, outputPath string) error

// Job is a validated upload waiting to be rendered.
type Job struct {
	InputPath   string
	Kind        task.MediaKind
	DisplayName string
}

type Config struct {
	OutputDir string
	// MaxConcurrent bounds how many jobs render at once. Zero means
	// unbounded; waiting jobs stay Queued.
	MaxConcurrent int
}

type Orchestrator struct {
	registry  *registry.Registry
	outputDir string
	logger    *zap.Logger

	handlers map[task.MediaKind]Handler
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
}

func NewOrchestrator(reg *registry.Registry, cfg Config, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		registry:  reg,
		outputDir: cfg.OutputDir,
		logger:    logger.Named("worker"),
		handlers:  make(map[task.MediaKind]Handler),
	}
	if cfg.MaxConcurrent > 0 {
		o.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	return o
}

func (o *Orchestrator) Register(kind task.MediaKind, handler Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[kind] = handler
}

// Submit validates the job, records a Queued task and starts rendering it in
// the background. It returns as soon as the task is visible in the registry.
// The job keeps running after ctx is cancelled.
func (o *Orchestrator) Submit(ctx context.Context, job Job) (*Execution, error) {
	// wg.Add happens under the lock so Stop cannot start waiting between
	// the stopped check and the job being counted.
	o.mu.RLock()
	handler, ok := o.handlers[job.Kind]
	if o.stopped {
		o.mu.RUnlock()
		return nil, ErrStopped
	}
	if !ok {
		o.mu.RUnlock()
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, job.Kind)
	}
	o.wg.Add(1)
	o.mu.RUnlock()

	info, err := os.Stat(job.InputPath)
	if err != nil || info.IsDir() || info.Size() == 0 {
		o.wg.Done()
		return nil, fmt.Errorf("%w: %s", ErrEmptyInput, job.InputPath)
	}

	if _, err := o.registry.Sweep(ctx); err != nil {
		o.logger.Warn("opportunistic sweep failed", zap.Error(err))
	}

	t, err := o.registry.Create(ctx, job.Kind, job.InputPath, job.DisplayName)
	if err != nil {
		o.wg.Done()
		return nil, err
	}

	o.logger.Info("task submitted",
		zap.String("task_id", t.ID),
		zap.String("kind", string(t.Kind)),
		zap.String("display_name", t.DisplayName),
	)

	exec := newExecution(t.ID)
	go o.run(context.WithoutCancel(ctx), t, handler, exec)

	return exec, nil
}

// Stop rejects new submissions and waits for in-flight jobs until ctx is
// done.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("all jobs finished")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, t *task.Task, handler Handler, exec *Execution) {
	defer o.wg.Done()

	if o.sem != nil {
		o.sem <- struct{}{}
		defer func() { <-o.sem }()
	}

	start := time.Now()
	log := o.logger.With(zap.String("task_id", t.ID), zap.String("kind", string(t.Kind)))

	current, err := o.registry.MarkProcessing(ctx, t.ID)
	if err != nil {
		log.Warn("could not start task", zap.Error(err))
		o.removeInput(t.InputPath, log)
		if errors.Is(err, registry.ErrNotFound) {
			exec.resolve(nil, err)
			return
		}
		final, ferr := o.registry.Fail(ctx, t.ID, fmt.Sprintf("could not start task: %v", err))
		if ferr != nil {
			exec.resolve(nil, ferr)
			return
		}
		exec.resolve(final, nil)
		return
	}
	log.Info("processing task")

	output := filepath.Join(o.outputDir, artifactName(current))
	renderErr := o.render(ctx, handler, current, output)

	o.removeInput(current.InputPath, log)

	var final *task.Task
	if renderErr != nil {
		o.removeOutput(output, log)
		final, err = o.registry.Fail(ctx, current.ID, renderErr.Error())
		if err == nil {
			log.Error("task failed", zap.Duration("duration", time.Since(start)), zap.Error(renderErr))
		}
	} else {
		final, err = o.registry.Complete(ctx, current.ID, task.Artifact{
			Name:         filepath.Base(output),
			Kind:         current.Kind,
			OriginalName: current.DisplayName,
		})
		if err == nil {
			log.Info("task completed", zap.Duration("duration", time.Since(start)), zap.String("artifact", filepath.Base(output)))
		}
	}

	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			log.Warn("task evicted while processing, discarding result")
		} else {
			log.Error("failed to record task outcome", zap.Error(err))
		}
		if renderErr == nil {
			o.removeOutput(output, log)
		}
	}
	exec.resolve(final, err)
}

// render runs the handler, turning a panic into an ordinary failure.
func (o *Orchestrator) render(ctx context.Context, handler Handler, t *task.Task, output string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during rendering: %v", r)
		}
	}()
	return handler(ctx, t, output)
}

func (o *Orchestrator) removeInput(path string, log *zap.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove input", zap.String("path", path), zap.Error(err))
	}
}

func (o *Orchestrator) removeOutput(path string, log *zap.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove partial output", zap.String("path", path), zap.Error(err))
	}
}

// artifactName derives a fresh output name so the artifact never shares a
// name with its input.
func artifactName(t *task.Task) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "watermarked_" + id + task.OutputExt(t.Kind, filepath.Ext(t.InputPath))
}
