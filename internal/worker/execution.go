package worker

import (
	"context"

	"github.com/podushkina/watermarkd/internal/task"
)

// Execution is a handle on one submitted job. It resolves once the job has
// reached a terminal state or has given up on its task record.
type Execution struct {
	TaskID string

	done  chan struct{}
	final *task.Task
	err   error
}

func newExecution(id string) *Execution {
	return &Execution{TaskID: id, done: make(chan struct{})}
}

// Done is closed when the job has finished.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the job finishes or ctx is done. It returns the last
// task snapshot the job wrote. The error is non-nil when the job could not
// record its outcome, e.g. because the task was evicted while running.
func (e *Execution) Wait(ctx context.Context) (*task.Task, error) {
	select {
	case <-e.done:
		return e.final.Clone(), e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Execution) resolve(final *task.Task, err error) {
	e.final = final
	e.err = err
	close(e.done)
}
