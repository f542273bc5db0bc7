// Package registry tracks watermarking tasks from submission to a terminal
// state and evicts records that have not been touched within the retention
// window.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/podushkina/watermarkd/internal/task"
)

type Registry struct {
	backend   Backend
	retention time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Registry)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(backend Backend, retention time.Duration, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		backend:   backend,
		retention: retention,
		now:       time.Now,
		logger:    logger.Named("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Retention() time.Duration { return r.retention }

// Create inserts a new task in the queued state.
func (r *Registry) Create(ctx context.Context, kind task.MediaKind, inputPath, displayName string) (*task.Task, error) {
	now := r.now()
	t := &task.Task{
		ID:          uuid.New().String(),
		Kind:        kind,
		DisplayName: displayName,
		InputPath:   inputPath,
		Status:      task.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.backend.Insert(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t.Clone(), nil
}

// Get returns a snapshot of the task or ErrNotFound. Evicted tasks are
// indistinguishable from ones that never existed.
func (r *Registry) Get(ctx context.Context, id string) (*task.Task, error) {
	return r.backend.Get(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]*task.Task, error) {
	return r.backend.List(ctx)
}

func (r *Registry) MarkProcessing(ctx context.Context, id string) (*task.Task, error) {
	return r.transition(ctx, id, task.StatusProcessing, nil)
}

func (r *Registry) Complete(ctx context.Context, id string, artifact task.Artifact) (*task.Task, error) {
	return r.transition(ctx, id, task.StatusCompleted, func(t *task.Task) {
		t.Result = &artifact
		t.Error = ""
	})
}

func (r *Registry) Fail(ctx context.Context, id, message string) (*task.Task, error) {
	if strings.TrimSpace(message) == "" {
		message = "unknown error"
	}
	return r.transition(ctx, id, task.StatusFailed, func(t *task.Task) {
		t.Result = nil
		t.Error = message
	})
}

func (r *Registry) transition(ctx context.Context, id string, to task.Status, apply func(*task.Task)) (*task.Task, error) {
	return r.backend.Update(ctx, id, func(t *task.Task) error {
		if !t.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
		}
		t.Status = to
		if apply != nil {
			apply(t)
		}
		t.UpdatedAt = r.now()
		return nil
	})
}

// EvictStale removes every task whose last update is older than window,
// whatever its status.
func (r *Registry) EvictStale(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	n, err := r.backend.DeleteOlderThan(ctx, now.Add(-window))
	if err != nil {
		return n, fmt.Errorf("evict stale tasks: %w", err)
	}
	if n > 0 {
		r.logger.Info("evicted stale tasks", zap.Int("count", n), zap.Duration("retention", window))
	}
	return n, nil
}

// Sweep runs EvictStale with the registry clock and retention window.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	return r.EvictStale(ctx, r.now(), r.retention)
}

// RunSweeper sweeps every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("periodic sweep started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("periodic sweep failed", zap.Error(err))
			}
		}
	}
}
