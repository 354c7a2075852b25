package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wenkexue-ai/wechat-bot/internal/models"
)

// maxAttempts bounds delivery retries per task. Pushes are best effort;
// a task that keeps failing is dropped with a log line, not retried forever.
const maxAttempts = 2

const popTimeout = 5 * time.Second

// Sender delivers one push message. Satisfied by wechat.Pusher.
type Sender interface {
	SendText(ctx context.Context, openID, content string) error
}

// Workers drains the queue with a fixed number of consumer goroutines.
type Workers struct {
	queue  Queue
	sender Sender
	count  int
	logger *logrus.Logger
	wg     sync.WaitGroup
}

func NewWorkers(q Queue, sender Sender, count int, logger *logrus.Logger) *Workers {
	return &Workers{
		queue:  q,
		sender: sender,
		count:  count,
		logger: logger,
	}
}

// Start launches the consumers. They stop when ctx is cancelled; Wait
// blocks until all have drained their in-flight task.
func (w *Workers) Start(ctx context.Context) {
	for i := 0; i < w.count; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

func (w *Workers) Wait() {
	w.wg.Wait()
}

func (w *Workers) run(ctx context.Context, id int) {
	defer w.wg.Done()

	log := w.logger.WithField("worker", id)
	log.Debug("Push worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Push worker stopped")
			return
		default:
		}

		task, err := w.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Failed to pop push task")
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		w.deliver(ctx, log, task)
	}
}

func (w *Workers) deliver(ctx context.Context, log *logrus.Entry, task *models.PushTask) {
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := w.sender.SendText(sendCtx, task.OpenID, task.Content)
	cancel()

	if err == nil {
		if err := w.queue.Complete(ctx, task); err != nil {
			log.WithError(err).Warn("Failed to ack push task")
		}
		return
	}

	if task.Attempts+1 >= maxAttempts {
		log.WithError(err).WithFields(logrus.Fields{
			"task_id": task.ID,
			"open_id": task.OpenID,
		}).Error("Dropping push task after repeated failures")
		if err := w.queue.Complete(ctx, task); err != nil {
			log.WithError(err).Warn("Failed to ack dropped task")
		}
		return
	}

	log.WithError(err).WithField("task_id", task.ID).Warn("Push failed, requeueing")
	if err := w.queue.Retry(ctx, task); err != nil {
		log.WithError(err).Error("Failed to requeue push task")
	}
}
