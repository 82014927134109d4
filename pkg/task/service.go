package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// ErrNotCancellable is returned when a task has already started or finished.
var ErrNotCancellable = errors.New("task is no longer pending")

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Canceler removes tasks that have not started yet.
type Canceler interface {
	CancelPending(queue, taskID string) error
}

type enqueuerImpl struct {
	client *asynq.Client
}

// NewEnqueuer creates a new Enqueuer instance using asynq.Client.
func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuerImpl{client: client}
}

func (e *enqueuerImpl) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info, nil
}

type inspectorCanceler struct {
	inspector *asynq.Inspector
}

func NewCanceler(inspector *asynq.Inspector) Canceler {
	return &inspectorCanceler{inspector: inspector}
}

// CancelPending deletes a pending, scheduled or retrying task. Active and
// completed tasks cannot be deleted and yield ErrNotCancellable.
func (c *inspectorCanceler) CancelPending(queue, taskID string) error {
	info, err := c.inspector.GetTaskInfo(queue, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return asynq.ErrTaskNotFound
		}
		return err
	}
	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
	default:
		return ErrNotCancellable
	}

	if err := c.inspector.DeleteTask(queue, taskID); err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) {
			return ErrNotCancellable
		}
		return err
	}
	return nil
}
