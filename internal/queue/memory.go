package queue

import (
	"context"
	"time"

	"github.com/wenkexue-ai/wechat-bot/internal/models"
)

// MemoryQueue is a bounded in-process channel.
type MemoryQueue struct {
	tasks chan *models.PushTask
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		tasks: make(chan *models.PushTask, size),
	}
}

func (q *MemoryQueue) Push(ctx context.Context, task *models.PushTask) error {
	if task.ID == "" {
		task.ID = newTaskID()
		task.CreatedAt = time.Now()
	}

	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Pop(ctx context.Context, timeout time.Duration) (*models.PushTask, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case task := <-q.tasks:
		return task, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Complete(ctx context.Context, task *models.PushTask) error {
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, task *models.PushTask) error {
	task.Attempts++
	return q.Push(ctx, task)
}
