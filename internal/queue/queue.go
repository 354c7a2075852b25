// Package queue is the delivery channel for outbound customer-service
// messages. Producers enqueue push tasks, a small bounded worker pool drains
// them. Delivery is best effort with one retry; nothing upstream blocks on
// or rolls back over a failed push.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/config"
	"github.com/wenkexue-ai/wechat-bot/internal/models"
)

// ErrQueueFull is returned when a bounded queue cannot accept more tasks.
var ErrQueueFull = errors.New("task queue full")

// Queue is a task channel with at-least-once hand-off to consumers.
type Queue interface {
	// Push enqueues a task, assigning it an id.
	Push(ctx context.Context, task *models.PushTask) error

	// Pop blocks up to timeout for the next task. A nil task with nil
	// error means the timeout elapsed.
	Pop(ctx context.Context, timeout time.Duration) (*models.PushTask, error)

	// Complete acknowledges a finished task.
	Complete(ctx context.Context, task *models.PushTask) error

	// Retry re-enqueues a failed task.
	Retry(ctx context.Context, task *models.PushTask) error
}

// New builds the configured backend
func New(cfg *config.Config, logger *logrus.Logger) (Queue, error) {
	switch cfg.Queue.Type {
	case "redis":
		return NewRedisQueue(cfg, logger)
	case "memory":
		return NewMemoryQueue(cfg.Queue.Size), nil
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Queue.Type)
	}
}

func newTaskID() string {
	return "task:" + uuid.NewString()
}
