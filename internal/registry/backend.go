package registry

import (
	"context"
	"errors"
	"time"

	"github.com/podushkina/watermarkd/internal/task"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrExists            = errors.New("task already exists")
)

// Backend is the key-value store holding task records. Implementations
// must make Update an atomic read-modify-write with respect to Insert,
// other Updates and DeleteOlderThan on the same id.
type Backend interface {
	Insert(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id string) (*task.Task, error)
	// Update applies fn to a copy of the stored task and persists the copy
	// only if fn returns nil. A missing id yields ErrNotFound.
	Update(ctx context.Context, id string, fn func(*task.Task) error) (*task.Task, error)
	// DeleteOlderThan removes every task last updated before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	List(ctx context.Context) ([]*task.Task, error)
	Close() error
}
